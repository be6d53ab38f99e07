package esl

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
)

// fakeServer is a minimal in-process ESL peer used to exercise Client
// without a real FreeSWITCH instance.
type fakeServer struct {
	ln       net.Listener
	conn     net.Conn
	r        *bufio.Reader
	accepted chan struct{} // closed once conn and r are set
}

func startFakeServer(t *testing.T, password string) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	fs := &fakeServer{ln: ln, accepted: make(chan struct{})}

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
		fs.r.ReadString('\n') // consume trailing blank line

		if line == "auth "+password {
			conn.Write([]byte("Content-Type: command/reply\nReply-Text: +OK accepted\n\n"))
		} else {
			conn.Write([]byte("Content-Type: command/reply\nReply-Text: -ERR invalid\n\n"))
		}
	}()

	return fs
}

func (fs *fakeServer) addr() (string, int) {
	tcpAddr := fs.ln.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port
}

// nextCommand reads one client-issued command line (e.g. "api uuid_bridge a b").
func (fs *fakeServer) nextCommand(t *testing.T) string {
	t.Helper()
	<-fs.accepted
	line, err := fs.r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading command: %v", err)
	}
	fs.r.ReadString('\n') // blank line terminator
	return strings.TrimSpace(line)
}

func (fs *fakeServer) replyAPI(body string) {
	<-fs.accepted
	msg := fmt.Sprintf("Content-Type: api/response\nContent-Length: %d\n\n%s", len(body), body)
	fs.conn.Write([]byte(msg))
}

func (fs *fakeServer) replyCommand(text string) {
	<-fs.accepted
	fs.conn.Write([]byte("Content-Type: command/reply\nReply-Text: " + text + "\n\n"))
}

func (fs *fakeServer) sendEvent(headers map[string]string) {
	<-fs.accepted
	var b strings.Builder
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	body := b.String()
	fs.conn.Write([]byte(fmt.Sprintf("Content-Type: text/event-plain\nContent-Length: %d\n\n%s", len(body), body)))
}

func (fs *fakeServer) hangup() {
	<-fs.accepted
	fs.conn.Close()
}

func (fs *fakeServer) close() {
	if fs.conn != nil {
		fs.conn.Close()
	}
	fs.ln.Close()
}
