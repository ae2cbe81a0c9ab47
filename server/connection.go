package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// State is the dispatch state of a connection.
type State int32

const (
	StateIdle State = iota
	StateResolving
	StateExecuting
	StateDraining
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateExecuting:
		return "executing"
	case StateDraining:
		return "draining"
	case StateTerminating:
		return "terminating"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Connection is the long-lived state of one client.
//
// It owns the session-wide cancellation signal and the feature store. All
// per-command state lives in a command scope derived from the connection's
// context; ABOR cancels the scopes without closing the connection.
type Connection struct {
	id         string
	remoteAddr net.Addr
	remoteIP   string
	logger     *slog.Logger
	features   *Features

	ctx    context.Context
	cancel context.CancelCauseFunc

	state    atomic.Int32
	inflight *xsync.MapOf[uint64, context.CancelCauseFunc]
	seq      atomic.Uint64

	closeOnce sync.Once
}

// NewConnection returns a connection whose lifetime is bound to parent.
// A nil logger means slog.Default().
func NewConnection(parent context.Context, remoteAddr net.Addr, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}

	remoteIP := ""
	if remoteAddr != nil {
		host, _, err := net.SplitHostPort(remoteAddr.String())
		if err != nil {
			host = remoteAddr.String()
		}
		remoteIP = host
	}

	ctx, cancel := context.WithCancelCause(parent)
	return &Connection{
		id:         generateSessionID(),
		remoteAddr: remoteAddr,
		remoteIP:   remoteIP,
		logger:     logger,
		features:   NewFeatures(),
		ctx:        ctx,
		cancel:     cancel,
		inflight:   xsync.NewMapOf[uint64, context.CancelCauseFunc](),
	}
}

// generateSessionID generates a unique 8-character session ID.
func generateSessionID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%08x", b)
}

// ID returns the session identifier used in logs.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the client address, possibly nil.
func (c *Connection) RemoteAddr() net.Addr { return c.remoteAddr }

// RemoteIP returns the client host without port.
func (c *Connection) RemoteIP() string { return c.remoteIP }

// Logger returns the connection logger.
func (c *Connection) Logger() *slog.Logger { return c.logger }

// Features returns the connection's capability store.
func (c *Connection) Features() *Features { return c.features }

// Context is done when the connection is closed.
func (c *Connection) Context() context.Context { return c.ctx }

// Done is shorthand for Context().Done().
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Err returns the reason the connection was closed, or nil.
func (c *Connection) Err() error {
	if c.ctx.Err() == nil {
		return nil
	}
	return context.Cause(c.ctx)
}

// State returns the current dispatch state.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// Close cancels the connection with cause and tears down its feature store.
// Only the first cause is kept.
func (c *Connection) Close(cause error) {
	c.closeOnce.Do(func() {
		c.setState(StateTerminating)
		c.cancel(cause)
		if err := c.features.Close(); err != nil {
			c.logger.Debug("feature teardown failed",
				"session_id", c.id,
				"error", err,
			)
		}
	})
}

// Abort cancels every in-flight command with ErrAborted and returns how many
// were running. The connection stays open.
func (c *Connection) Abort() int {
	n := 0
	c.inflight.Range(func(_ uint64, cancel context.CancelCauseFunc) bool {
		cancel(ErrAborted)
		n++
		return true
	})
	return n
}

// InFlight returns the number of commands whose responses are still pending.
func (c *Connection) InFlight() int { return c.inflight.Size() }

// newCommandScope returns the context of a new command and the function
// releasing it. The scope stays abortable until released.
func (c *Connection) newCommandScope() (context.Context, func()) {
	id := c.seq.Add(1)
	ctx, cancel := context.WithCancelCause(c.ctx)
	c.inflight.Store(id, cancel)
	return ctx, func() {
		c.inflight.Delete(id)
		cancel(context.Canceled)
	}
}
