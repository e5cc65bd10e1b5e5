/*
Connection State Machine

This file implements Connection, the duplex byte transport binding for a
single RESP3 conversation. A Connection moves through Fresh -> Connecting
-> Alive -> Closing -> Closed; outside of Connect, every operation
requires Alive and fails with StateError otherwise.

Lifecycle:
  1. Connect dials the transport, sets TCP_NODELAY, then runs every
     registered post-connect hook in insertion order. A hook failure
     leaves the connection Closed and propagates.
  2. WriteCommand encodes and flushes exactly one command.
  3. ReadResponse / DiscardResponse consume exactly one response.
  4. Disconnect tears the transport down.

Ownership:
A Connection exclusively owns its net.Conn and is responsible for
closing it on Disconnect, on any write fault, and on a read fault when
the read's disconnectOnError flag is set.

Concurrency:
Each connection is a sequential conversation — one write fully drained
before the matching read, one read run to completion before the next
write. connMu serializes each WriteCommand, ReadResponse and
DiscardResponse call so two goroutines sharing a *Connection cannot
interleave the bytes of two frames; it does
not make a single logical command-then-response turn atomic across
goroutines, since that ordering is the caller's responsibility per the
one-response-per-command contract.
*/
package resp3

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultBufferLimit = 6000

// postConnectHook is a named, once-per-Connect callable run after the
// transport is up and before the connection is handed back to the
// caller. HELLO is installed automatically by every constructor; callers
// may register additional hooks with AddPostConnectHook before calling
// Connect.
type postConnectHook struct {
	name string
	run  func(ctx context.Context, conn *Connection) error
}

// Connection is a single duplex byte-transport binding plus the decoder
// and encoder state needed to exchange one RESP3 command/response pair
// at a time.
type Connection struct {
	host string
	port string

	bufferLimit int
	log         *zap.Logger

	connMu sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	hooks []postConnectHook
}

// ConnectionOption configures a Connection at construction time.
type ConnectionOption func(*Connection)

// WithBufferLimit overrides the default 6000-byte limit used to bound
// the buffered reader backing this connection's header-line reads.
func WithBufferLimit(limit int) ConnectionOption {
	return func(c *Connection) {
		if limit > 0 {
			c.bufferLimit = limit
		}
	}
}

// WithLogger attaches a *zap.Logger for structured debug events (dialing,
// connected, post-connect hook failure, disconnect); read and write
// faults are not logged. Connections default to a no-op
// logger so library users pay nothing for logging they don't configure.
func WithLogger(logger *zap.Logger) ConnectionOption {
	return func(c *Connection) {
		if logger != nil {
			c.log = logger
		}
	}
}

// NewConnection builds a Connection for host:port, Fresh and not yet
// dialed. The mandatory "HELLO" post-connect hook is installed so that
// Connect always upgrades the session to RESP3 before returning.
func NewConnection(host, port string, opts ...ConnectionOption) *Connection {
	c := &Connection{
		host:        host,
		port:        port,
		bufferLimit: defaultBufferLimit,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.AddPostConnectHook("HELLO", helloHook)
	return c
}

// NewConnectionFromURL parses rawURL (the same "redis://host:port" grammar
// parseRedisURL enforces for Redis.NewFromURL), builds a Connection against
// the parsed host:port, and dials it — the single-connection analogue of
// original_source/connection.py's Connection.from_url, for callers who want
// one Connection without carrying a Redis aggregator around to get it.
func NewConnectionFromURL(ctx context.Context, rawURL string, opts ...ConnectionOption) (*Connection, error) {
	host, port, err := parseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn := NewConnection(host, port, opts...)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// AddPostConnectHook registers a named hook to run, in insertion order,
// every time Connect succeeds in bringing the transport up. Hooks
// registered after Connect has already run do not apply retroactively;
// call this before Connect.
func (c *Connection) AddPostConnectHook(name string, run func(ctx context.Context, conn *Connection) error) {
	c.hooks = append(c.hooks, postConnectHook{name: name, run: run})
}

// helloHook issues "HELLO 3" and asserts the server's Map response
// carries proto == 3 — the only means by which this engine upgrades a
// freshly opened connection to RESP3. A connection that cannot complete
// it is left Closed.
func helloHook(ctx context.Context, conn *Connection) error {
	hello := NewCommand("HELLO", "3")
	if err := conn.WriteCommand(ctx, hello); err != nil {
		return err
	}

	resp, err := conn.ReadResponse(ctx, true)
	if err != nil {
		return err
	}

	proto, ok := resp.MapGet("proto")
	if !ok || proto.Kind() != KindInteger || proto.Integer() != 3 {
		return &baseError{msg: "resp3: HELLO did not negotiate protocol version 3"}
	}

	return nil
}

// IsAlive reports whether the connection currently has a live
// reader/writer pair. Reader and writer are present if and only if the
// connection is alive.
func (c *Connection) IsAlive() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.reader != nil && c.writer != nil
}

// Connect dials host:port, enables TCP_NODELAY, then runs every
// registered post-connect hook in insertion order. On dial failure the
// connection remains not-alive and a ConnectionError is returned; on
// hook failure the transport is closed before the error propagates.
func (c *Connection) Connect(ctx context.Context) error {
	c.log.Debug("dialing", zap.String("host", c.host), zap.String("port", c.port))

	var dialer net.Dialer
	rawConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(c.host, c.port))
	if err != nil {
		return NewConnectionError("failed to connect to '"+c.host+":"+c.port+"'", errors.WithStack(err))
	}

	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			rawConn.Close()
			return NewConnectionError("failed to set TCP_NODELAY", errors.WithStack(err))
		}
	}

	return c.finishConnect(ctx, rawConn)
}

// finishConnect binds rawConn as the connection's transport and runs
// every post-connect hook in insertion order. It is split out of Connect
// so tests can drive the handshake and hook machinery over an
// in-process net.Pipe instead of a real TCP dial.
func (c *Connection) finishConnect(ctx context.Context, rawConn net.Conn) error {
	c.connMu.Lock()
	c.conn = rawConn
	c.reader = bufio.NewReaderSize(rawConn, c.bufferLimit)
	c.writer = bufio.NewWriter(rawConn)
	c.connMu.Unlock()

	for _, hook := range c.hooks {
		if err := hook.run(ctx, c); err != nil {
			c.log.Debug("post-connect hook failed", zap.String("hook", hook.name), zap.Error(err))
			c.closeTransport()
			return err
		}
	}

	c.log.Debug("connected", zap.String("host", c.host), zap.String("port", c.port))
	return nil
}

// WriteCommand encodes and flushes cmd. It requires Alive. An I/O fault
// always closes the transport before returning a ConnectionError; any
// other failure also closes the transport before being re-propagated.
func (c *Connection) WriteCommand(ctx context.Context, cmd *Command) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.writer == nil {
		return NewStateError("cannot write a command to a disconnected connection")
	}

	if err := EncodeCommand(c.writer, cmd); err != nil {
		c.closeTransportLocked()
		return NewConnectionError("writing to '"+c.host+":"+c.port+"' failed", errors.WithStack(err))
	}

	if err := c.writer.Flush(); err != nil {
		c.closeTransportLocked()
		return NewConnectionError("writing to '"+c.host+":"+c.port+"' failed", errors.WithStack(err))
	}

	return nil
}

// ReadResponse decodes exactly one response. It requires Alive.
// disconnectOnError controls whether a fault during the read tears the
// connection down; a ResponseError is not a fault and never closes the
// connection regardless of the flag, since the error frame is itself
// complete and the stream remains correctly positioned.
func (c *Connection) ReadResponse(ctx context.Context, disconnectOnError bool) (Value, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.reader == nil {
		return Value{}, NewStateError("cannot read a response from a disconnected connection")
	}

	value, err := DecodeResponse(c.reader)
	if err != nil {
		if disconnectOnError && !isResponseError(err) {
			c.closeTransportLocked()
		}
		return Value{}, err
	}

	return value, nil
}

// DiscardResponse consumes exactly one response without materializing
// it. Semantics mirror ReadResponse.
func (c *Connection) DiscardResponse(ctx context.Context, disconnectOnError bool) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.reader == nil {
		return NewStateError("cannot discard a response from a disconnected connection")
	}

	if err := DiscardResponse(c.reader); err != nil {
		if disconnectOnError && !isResponseError(err) {
			c.closeTransportLocked()
		}
		return err
	}

	return nil
}

// Disconnect requires Alive and tears the transport down, raising
// StateError if the connection is already closed — the "return silently"
// variant from the reference client is not adopted (see DESIGN.md).
func (c *Connection) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return NewStateError("cannot disconnect a connection that is not alive")
	}

	err := c.conn.Close()
	c.conn, c.reader, c.writer = nil, nil, nil

	c.log.Debug("disconnected", zap.String("host", c.host), zap.String("port", c.port))

	if err != nil {
		return NewConnectionError("failed to close connection to '"+c.host+":"+c.port+"'", errors.WithStack(err))
	}
	return nil
}

// closeTransport closes the transport without asserting it was alive —
// used after a failed post-connect hook, where partial setup must be
// unwound regardless of prior state.
func (c *Connection) closeTransport() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.closeTransportLocked()
}

func (c *Connection) closeTransportLocked() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.reader, c.writer = nil, nil, nil
}

func isResponseError(err error) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr)
}
