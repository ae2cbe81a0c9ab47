package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"
)

// Drainer is the writer task of a connection: it consumes response sinks in
// command order and serializes every response to the control stream.
type Drainer struct {
	// Conn is the connection whose responses are written.
	Conn *Connection

	// Writer is the control stream.
	Writer io.Writer

	// Control, if set, is the network connection behind Writer. It receives
	// the write deadlines.
	Control net.Conn

	// WriteTimeout bounds the time spent writing one response when Control
	// is set.
	WriteTimeout time.Duration
}

// Drain writes the responses of every sink received from sinks until the
// channel is closed or the connection is cancelled.
//
// A response whose rendering is cut short by ABOR is finished with a 426
// reply instead of its end line, and the rest of that command's responses
// are dropped. A write failure is returned as a *FatalError.
func (d *Drainer) Drain(sinks <-chan *ResponseSink) error {
	bw := bufio.NewWriter(d.Writer)
	logger := d.Conn.Logger()

	for {
		var sink *ResponseSink
		var ok bool
		select {
		case sink, ok = <-sinks:
			if !ok {
				return nil
			}
		case <-d.Conn.Done():
			return d.Conn.Err()
		}

		err := d.drainSink(bw, sink, logger)
		sink.Release()
		if err != nil {
			return err
		}
	}
}

func (d *Drainer) drainSink(bw *bufio.Writer, sink *ResponseSink, logger *slog.Logger) error {
	discard := false
	for {
		var r Response
		var ok bool
		select {
		case r, ok = <-sink.Responses():
			if !ok {
				return nil
			}
		case <-d.Conn.Done():
			return d.Conn.Err()
		}

		if discard {
			continue
		}

		err := d.write(bw, sink.Context(), r)
		if err == nil {
			continue
		}
		if IsFatal(err) {
			return err
		}
		if cause := d.Conn.Err(); cause != nil {
			return cause
		}

		// The rendering was truncated; tell the client and skip the rest of
		// this command's responses.
		discard = true
		var reply Response
		if errors.Is(err, ErrAborted) {
			sink.aborted.Store(true)
			reply = NewResponse(426, "Connection closed; transfer aborted.")
		} else {
			logger.Error("response rendering failed",
				"session_id", d.Conn.ID(),
				"remote_ip", d.Conn.RemoteIP(),
				"code", r.Code(),
				"error", err,
			)
			reply = NewResponse(451, "Requested action aborted: local error in processing.")
		}
		if err := d.write(bw, context.Background(), reply); err != nil {
			return err
		}
	}
}

func (d *Drainer) write(bw *bufio.Writer, ctx context.Context, r Response) error {
	if d.Control != nil && d.WriteTimeout > 0 {
		_ = d.Control.SetWriteDeadline(time.Now().Add(d.WriteTimeout))
		defer func() { _ = d.Control.SetWriteDeadline(time.Time{}) }()
	}

	err := WriteResponse(ctx, bw, r)
	if err != nil && !IsFatal(err) {
		// Push out the lines produced before the failure.
		if ferr := bw.Flush(); ferr != nil {
			return Fatal(ferr)
		}
	}
	return err
}
