package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"
)

// CommandSource supplies the parsed commands of one connection.
//
// Next blocks until a command is available. It returns io.EOF when the client
// closed the connection and the context's error when ctx is done. A
// *ReplyError reports a protocol error on one line (e.g. a line that is too
// long); the connection continues with the next line.
type CommandSource interface {
	Next(ctx context.Context) (Command, error)
}

// Dispatcher runs the command loop of a connection.
//
// Commands are executed strictly one at a time. For each command the
// dispatcher creates a response sink, hands it to the writer task through
// the out channel (so sinks reach the writer in command order), runs the
// handler and closes the sink before reading the next command.
type Dispatcher struct {
	// Registry resolves verbs to handlers.
	Registry *Registry

	// Metrics is optional.
	Metrics MetricsCollector

	// ResponseBuffer is the capacity of each command's sink. Zero makes
	// handlers wait for the writer on every response; a negative value
	// selects DefaultResponseBuffer.
	ResponseBuffer int

	// IdleTimeout closes the connection with ErrIdleTimeout when no command
	// arrives in time. Zero disables the watchdog.
	IdleTimeout time.Duration
}

// Serve runs the loop until the connection ends and closes out on return.
//
// It returns nil when the client quit or disconnected, and otherwise the
// reason the connection was terminated (ErrIdleTimeout, ErrShutdown, or a
// connection-fatal error).
func (d *Dispatcher) Serve(conn *Connection, source CommandSource, out chan<- *ResponseSink) error {
	defer close(out)

	for {
		conn.setState(StateIdle)

		cmd, err := d.next(conn, source)
		if err != nil {
			var re *ReplyError
			if errors.As(err, &re) && !IsFatal(err) {
				if err := d.emit(conn, out, NewResponse(re.Code, re.Message)); err != nil {
					return d.terminate(conn, err)
				}
				continue
			}
			return d.terminate(conn, err)
		}

		if err := d.Dispatch(conn, cmd, out); err != nil {
			if errors.Is(err, ErrCloseConnection) {
				conn.setState(StateTerminating)
				return nil
			}
			return d.terminate(conn, err)
		}
	}
}

// next waits for the next command, arming the idle watchdog meanwhile.
func (d *Dispatcher) next(conn *Connection, source CommandSource) (Command, error) {
	if d.IdleTimeout > 0 {
		t := time.AfterFunc(d.IdleTimeout, func() { conn.Close(ErrIdleTimeout) })
		defer t.Stop()
	}

	cmd, err := source.Next(conn.Context())
	if err != nil {
		if cause := conn.Err(); cause != nil {
			return Command{}, cause
		}
		return Command{}, err
	}
	return cmd, nil
}

func (d *Dispatcher) terminate(conn *Connection, err error) error {
	conn.setState(StateTerminating)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// emit sends a standalone response that belongs to no handler.
func (d *Dispatcher) emit(conn *Connection, out chan<- *ResponseSink, r Response) error {
	sink, err := d.openSink(conn, out)
	if err != nil {
		return err
	}
	defer sink.Close()
	return sink.Write(r)
}

func (d *Dispatcher) openSink(conn *Connection, out chan<- *ResponseSink) (*ResponseSink, error) {
	buffer := d.ResponseBuffer
	if buffer < 0 {
		buffer = DefaultResponseBuffer
	}

	ctx, release := conn.newCommandScope()
	sink := NewResponseSink(ctx, buffer, conn.Done(), release)

	select {
	case out <- sink:
		return sink, nil
	case <-conn.Done():
		sink.Release()
		return nil, conn.Err()
	}
}

// Dispatch executes a single command on conn. The command's sink is closed
// before Dispatch returns.
//
// The returned error is nil when the connection can continue, ErrCloseConnection
// when the handler asked to close it, and otherwise the connection-fatal error.
func (d *Dispatcher) Dispatch(conn *Connection, cmd Command, out chan<- *ResponseSink) error {
	logger := conn.Logger()
	logger.Debug("command received",
		"session_id", conn.ID(),
		"remote_ip", conn.RemoteIP(),
		"user", userName(conn.Features()),
		"cmd", cmd.Name,
		"arg", cmd.LogArgument(),
	)

	sink, err := d.openSink(conn, out)
	if err != nil {
		return err
	}
	defer sink.Close()

	start := time.Now()
	ctx := NewCommandContext(cmd, sink, conn)

	conn.setState(StateResolving)
	h, ok := d.Registry.Lookup(cmd.Name)
	if !ok {
		d.recordCommand("UNKNOWN", false, time.Since(start))
		conn.setState(StateDraining)
		return sink.Write(NewResponse(502, "Command not implemented."))
	}

	conn.setState(StateExecuting)
	err = d.execute(h, ctx)

	conn.setState(StateDraining)
	d.recordCommand(cmd.Name, err == nil || errors.Is(err, ErrCloseConnection), time.Since(start))
	return d.finish(ctx, err)
}

// execute runs the handler, turning a panic into an error.
func (d *Dispatcher) execute(h Handler, ctx *CommandContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			conn := ctx.Connection()
			conn.Logger().Error("command_panic",
				"session_id", conn.ID(),
				"remote_ip", conn.RemoteIP(),
				"cmd", ctx.Command().Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("ftp: %s handler panic: %v", ctx.Command().Name, r)
		}
	}()
	return h.Execute(ctx)
}

// finish turns the handler result into responses and the loop decision.
func (d *Dispatcher) finish(ctx *CommandContext, err error) error {
	conn := ctx.Connection()
	sink := ctx.ResponseWriter()
	cmd := ctx.Command()

	switch {
	case err == nil:
		if sink.Count() == 0 {
			conn.Logger().Warn("command_without_reply",
				"session_id", conn.ID(),
				"cmd", cmd.Name,
			)
			return sink.Write(NewResponse(451, "Requested action aborted: local error in processing."))
		}
		return nil

	case errors.Is(err, ErrCloseConnection):
		return ErrCloseConnection

	case IsFatal(err):
		conn.Logger().Warn("command_fatal",
			"session_id", conn.ID(),
			"remote_ip", conn.RemoteIP(),
			"cmd", cmd.Name,
			"error", err,
		)
		return err
	}

	if cause := conn.Err(); cause != nil {
		return cause
	}

	if errors.Is(context.Cause(ctx.Context()), ErrAborted) &&
		(errors.Is(err, context.Canceled) || errors.Is(err, ErrAborted)) {
		if d.Metrics != nil {
			d.Metrics.RecordAbort(cmd.Name)
		}
		if sink.Aborted() {
			return nil
		}
		return sink.Write(NewResponse(426, "Connection closed; transfer aborted."))
	}

	var re *ReplyError
	if errors.As(err, &re) {
		return sink.Write(NewResponse(re.Code, re.Message))
	}

	conn.Logger().Error("command handling error",
		"session_id", conn.ID(),
		"remote_ip", conn.RemoteIP(),
		"user", userName(conn.Features()),
		"cmd", cmd.Name,
		"error", err,
	)
	return sink.Write(NewResponse(451, "Requested action aborted: local error in processing."))
}

func (d *Dispatcher) recordCommand(cmd string, success bool, duration time.Duration) {
	if d.Metrics != nil {
		d.Metrics.RecordCommand(cmd, success, duration)
	}
}

// userName returns the logged in user for logs.
func userName(f *Features) string {
	if u, ok := LookupFeature[ConnectionUserFeature](f); ok {
		if p := u.User(); p != nil {
			return p.Name
		}
	}
	return ""
}
