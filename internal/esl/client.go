package esl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Client is a single inbound ESL connection: one TCP socket, one reader
// goroutine, a FIFO-correlated command channel, and an event Router. All
// exported methods are safe for concurrent use.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *slog.Logger

	Router *Router

	writeMu sync.Mutex

	apiMu   sync.Mutex // serializes command issuance so replies correlate FIFO
	pending chan frame // set only while apiMu is held; reader loop delivers here

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
	closeMu   sync.Mutex
}

// Connect dials host:port, performs the ESL auth handshake with password,
// and starts the background reader loop. It returns *ErrConnect wrapping
// ErrConnectTimeout, ErrAuthRejected, or the underlying dial/read error.
func Connect(ctx context.Context, host string, port int, password string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ErrConnect{Cause: err}
	}

	c := &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: logger.With("subsystem", "esl-client"),
		Router: NewRouter(logger),
		closed: make(chan struct{}),
	}

	if err := c.handshake(ctx, password, timeout); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()

	return c, nil
}

// handshake reads the initial auth/request frame, sends the password, and
// confirms acceptance, all before the reader loop starts.
func (c *Client) handshake(ctx context.Context, password string, timeout time.Duration) error {
	type result struct {
		f   frame
		err error
	}

	readOne := func() <-chan result {
		out := make(chan result, 1)
		go func() {
			f, err := readFrame(c.reader)
			out <- result{f, err}
		}()
		return out
	}

	deadline := time.After(timeout)

	select {
	case r := <-readOne():
		if r.err != nil {
			return &ErrConnect{Cause: r.err}
		}
		if r.f.contentType() != contentTypeAuthRequest {
			return &ErrConnect{Cause: fmt.Errorf("unexpected first frame content-type %q", r.f.contentType())}
		}
	case <-deadline:
		return &ErrConnect{Cause: ErrConnectTimeout}
	case <-ctx.Done():
		return &ErrConnect{Cause: ctx.Err()}
	}

	if err := c.writeRaw("auth " + password); err != nil {
		return &ErrConnect{Cause: err}
	}

	select {
	case r := <-readOne():
		if r.err != nil {
			return &ErrConnect{Cause: r.err}
		}
		if !strings.HasPrefix(r.f.headers[HeaderReplyText], "+OK") {
			return &ErrConnect{Cause: ErrAuthRejected}
		}
	case <-deadline:
		return &ErrConnect{Cause: ErrConnectTimeout}
	case <-ctx.Done():
		return &ErrConnect{Cause: ctx.Err()}
	}

	return nil
}

// writeRaw sends a single ESL command terminated by the required blank
// line. Callers hold apiMu for anything that expects a correlated reply;
// handshake is the one caller that runs before the reader loop exists.
func (c *Client) writeRaw(cmd string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write([]byte(cmd + "\n\n"))
	return err
}

// API issues "api <cmd>" and returns the response body with surrounding
// whitespace trimmed. The "+OK" or "-ERR" prefix FreeSWITCH puts on the
// body is kept, so callers check it themselves.
func (c *Client) API(ctx context.Context, cmd string) (string, error) {
	f, err := c.sendAndAwaitReply(ctx, "api "+cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(f.body)), nil
}

// SubscribeEvents issues "event plain <filter>", e.g. "event plain all".
// Idempotent: FreeSWITCH simply re-confirms an existing subscription.
func (c *Client) SubscribeEvents(ctx context.Context, filter string) error {
	f, err := c.sendAndAwaitReply(ctx, "event plain "+filter)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(f.headers[HeaderReplyText], "+OK") {
		return fmt.Errorf("esl: event subscription rejected: %s", f.headers[HeaderReplyText])
	}
	return nil
}

// sendAndAwaitReply serializes command issuance: only one command is ever
// in flight, so the next command/reply or api/response frame the reader
// loop sees is guaranteed to belong to this caller.
func (c *Client) sendAndAwaitReply(ctx context.Context, cmd string) (frame, error) {
	c.apiMu.Lock()

	select {
	case <-c.closed:
		c.apiMu.Unlock()
		return frame{}, ErrDisconnected
	default:
	}

	replyCh := make(chan frame, 1)
	c.pending = replyCh

	if err := c.writeRaw(cmd); err != nil {
		c.pending = nil
		c.apiMu.Unlock()
		return frame{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case f := <-replyCh:
		c.apiMu.Unlock()
		return f, nil
	case <-c.closed:
		c.apiMu.Unlock()
		return frame{}, ErrDisconnected
	case <-ctx.Done():
		// The reply is still owed; apiMu stays held until it arrives so it
		// is never handed to the next caller.
		go func() {
			select {
			case <-replyCh:
			case <-c.closed:
			}
			c.apiMu.Unlock()
		}()
		return frame{}, ctx.Err()
	}
}

// readLoop is the sole reader of the connection for its whole lifetime. It
// hands command/reply and api/response frames to whoever is waiting in
// sendAndAwaitReply, and text/event-plain frames to the Router.
func (c *Client) readLoop() {
	for {
		f, err := readFrame(c.reader)
		if err != nil {
			c.shutdown(fmt.Errorf("esl: read failed: %w", err))
			return
		}

		switch f.contentType() {
		case contentTypeCommandReply, contentTypeAPIResponse:
			if c.pending != nil {
				select {
				case c.pending <- f:
				default:
				}
			}
		case contentTypeEventPlain:
			ev := parseEventBody(f.body)
			c.Router.Dispatch(ev)
		case contentTypeDisconnect:
			c.shutdown(ErrDisconnected)
			return
		default:
			c.logger.Debug("unhandled frame", "content-type", f.contentType())
		}
	}
}

// shutdown marks the client disconnected and unblocks every waiter. Safe to
// call more than once; only the first call has effect.
func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closeErr = cause
		c.closeMu.Unlock()
		close(c.closed)
		c.conn.Close()
	})
}

// Done returns a channel closed when the connection is no longer usable,
// either because Close was called or because the peer went away.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Err returns the reason the connection ended, or nil while still
// connected.
func (c *Client) Err() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeErr
}

// Close issues a best-effort "exit" command and tears down the connection.
// It always returns nil once the shutdown path has run; any prior
// disconnect reason is preserved in Err().
func (c *Client) Close() error {
	c.writeRaw("exit")
	c.shutdown(errors.New("esl: closed by caller"))
	return nil
}
