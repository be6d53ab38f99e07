package orchestrator

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeESL is a minimal in-process ESL peer, mirroring internal/esl's own
// fakeServer test harness (that one is unexported to package esl, so this
// package needs its own copy to drive the Orchestrator end to end against a
// simulated FreeSWITCH).
type fakeESL struct {
	ln       net.Listener
	conn     net.Conn
	r        *bufio.Reader
	cmds     chan string
	accepted chan struct{} // closed once conn and r are set
}

func startFakeESL(t *testing.T, password string) *fakeESL {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	fs := &fakeESL{ln: ln, cmds: make(chan string, 64), accepted: make(chan struct{})}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fs.conn = conn
		fs.r = bufio.NewReader(conn)
		close(fs.accepted)

		conn.Write([]byte("Content-Type: auth/request\n\n"))

		line, err := fs.r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		fs.r.ReadString('\n')

		if line == "auth "+password {
			conn.Write([]byte("Content-Type: command/reply\nReply-Text: +OK accepted\n\n"))
		} else {
			conn.Write([]byte("Content-Type: command/reply\nReply-Text: -ERR invalid\n\n"))
			return
		}

		for {
			cmdLine, err := fs.r.ReadString('\n')
			if err != nil {
				close(fs.cmds)
				return
			}
			fs.r.ReadString('\n')
			fs.cmds <- strings.TrimSpace(cmdLine)
		}
	}()

	return fs
}

func (fs *fakeESL) addr() (string, int) {
	tcpAddr := fs.ln.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port
}

// nextCommand waits up to timeout for the next client-issued command.
func (fs *fakeESL) nextCommand(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case cmd, ok := <-fs.cmds:
		if !ok {
			t.Fatal("esl connection closed while waiting for a command")
		}
		return cmd
	case <-time.After(timeout):
		t.Fatal("timed out waiting for client command")
		return ""
	}
}

func (fs *fakeESL) replyAPI(body string) {
	<-fs.accepted
	msg := fmt.Sprintf("Content-Type: api/response\nContent-Length: %d\n\n%s", len(body), body)
	fs.conn.Write([]byte(msg))
}

func (fs *fakeESL) replyCommand(text string) {
	<-fs.accepted
	fs.conn.Write([]byte("Content-Type: command/reply\nReply-Text: " + text + "\n\n"))
}

func (fs *fakeESL) sendEvent(headers map[string]string) {
	<-fs.accepted
	var b strings.Builder
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	body := b.String()
	fs.conn.Write([]byte(fmt.Sprintf("Content-Type: text/event-plain\nContent-Length: %d\n\n%s", len(body), body)))
}

func (fs *fakeESL) hangup() {
	<-fs.accepted
	fs.conn.Close()
}

func (fs *fakeESL) close() {
	if fs.conn != nil {
		fs.conn.Close()
	}
	fs.ln.Close()
}

// expectSubscribe drains the "event plain all" command SubscribeEvents sends
// right after connecting, and confirms it. Must run in its own goroutine
// since the client blocks on the reply.
func (fs *fakeESL) expectSubscribe(t *testing.T) {
	t.Helper()
	cmd := fs.nextCommand(t, 2*time.Second)
	if !strings.HasPrefix(cmd, "event plain") {
		t.Fatalf("expected event subscription, got %q", cmd)
	}
	fs.replyCommand("+OK event listener enabled plain")
}

// extractUUID pulls origination_uuid=<uuid> out of an "originate {...}..."
// command line.
func extractUUID(cmd string) string {
	const key = "origination_uuid="
	idx := strings.Index(cmd, key)
	if idx < 0 {
		return ""
	}
	rest := cmd[idx+len(key):]
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
