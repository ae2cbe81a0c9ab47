package server

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closedSink returns a sink holding rs, ready to be drained.
func closedSink(ctx context.Context, conn *Connection, rs ...Response) *ResponseSink {
	s := NewResponseSink(ctx, len(rs), conn.Done(), nil)
	for _, r := range rs {
		if err := s.Write(r); err != nil {
			panic(err)
		}
	}
	s.Close()
	return s
}

func drainAll(t *testing.T, d *Drainer, sinks ...*ResponseSink) error {
	t.Helper()
	ch := make(chan *ResponseSink, len(sinks))
	for _, s := range sinks {
		ch <- s
	}
	close(ch)
	return d.Drain(ch)
}

func TestDrainer_WritesInOrder(t *testing.T) {
	conn := NewConnection(context.Background(), nil, discardLogger())
	var buf bytes.Buffer
	released := 0

	first := closedSink(context.Background(), conn, NewResponse(150, "a"), NewResponse(226, "b"))
	second := NewResponseSink(context.Background(), 1, conn.Done(), func() { released++ })
	require.NoError(t, second.Write(NewListResponse(211, "s", "e", StaticLines("x"))))
	second.Close()

	require.NoError(t, drainAll(t, &Drainer{Conn: conn, Writer: &buf}, first, second))
	assert.Equal(t, crlf("150 a", "226 b", "211-s", " x", "211 e"), buf.String())
	assert.Equal(t, 1, released)
}

func TestDrainer_AbortedRendering(t *testing.T) {
	conn := NewConnection(context.Background(), nil, discardLogger())
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	body := DataLinesFunc(func(ctx context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			if !yield("one", nil) {
				return
			}
			cancel(ErrAborted)
			yield("two", nil)
		}
	})
	aborted := closedSink(ctx, conn,
		NewListResponse(212, "start", "end", body),
		NewResponse(226, "dropped"),
	)
	next := closedSink(context.Background(), conn, NewResponse(226, "ABOR command successful."))

	var buf bytes.Buffer
	require.NoError(t, drainAll(t, &Drainer{Conn: conn, Writer: &buf}, aborted, next))
	assert.Equal(t, crlf(
		"212-start",
		" one",
		"426 Connection closed; transfer aborted.",
		"226 ABOR command successful.",
	), buf.String())
	assert.True(t, aborted.Aborted())
	assert.False(t, next.Aborted())
}

func TestDrainer_RenderingFailure(t *testing.T) {
	conn := NewConnection(context.Background(), nil, discardLogger())
	body := DataLinesFunc(func(context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			yield("", errors.New("readdir failed"))
		}
	})

	var buf bytes.Buffer
	sink := closedSink(context.Background(), conn, NewListResponse(212, "start", "end", body))
	require.NoError(t, drainAll(t, &Drainer{Conn: conn, Writer: &buf}, sink))
	assert.Equal(t, crlf("212-start", "451 Requested action aborted: local error in processing."), buf.String())
	assert.False(t, sink.Aborted())
}

func TestDrainer_WriteFailureIsFatal(t *testing.T) {
	conn := NewConnection(context.Background(), nil, discardLogger())
	err := drainAll(t, &Drainer{Conn: conn, Writer: failingWriter{}},
		closedSink(context.Background(), conn, NewResponse(200, "OK")))
	assert.True(t, IsFatal(err))
}

func TestDrainer_StopsWhenConnectionCloses(t *testing.T) {
	conn := NewConnection(context.Background(), nil, discardLogger())
	sinks := make(chan *ResponseSink)
	done := make(chan error, 1)
	go func() { done <- (&Drainer{Conn: conn, Writer: &bytes.Buffer{}}).Drain(sinks) }()

	conn.Close(ErrShutdown)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrShutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return")
	}
}

func TestDrainer_WriteDeadline(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConnection(context.Background(), nil, discardLogger())
	d := &Drainer{Conn: conn, Writer: server, Control: server, WriteTimeout: 20 * time.Millisecond}

	// Nobody reads the client side, so the write times out.
	err := drainAll(t, d, closedSink(context.Background(), conn, NewResponse(200, "OK")))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}
