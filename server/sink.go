package server

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultResponseBuffer is the sink capacity used when none is configured.
const DefaultResponseBuffer = 16

// ResponseSink is the ordered conduit carrying the responses of one command
// from its handler to the writer task.
//
// Any goroutine of the command may Write; exactly one consumer reads
// Responses. Close marks the end of the command's responses. Writes after
// Close fail with ErrSinkClosed.
type ResponseSink struct {
	ch   chan Response
	ctx  context.Context
	done <-chan struct{}

	mu     sync.Mutex
	closed bool

	release   func()
	releaseMu sync.Once

	written atomic.Int32

	// aborted is set by the writer once it reported the command as aborted.
	aborted atomic.Bool
}

// NewResponseSink returns a sink for a command running in ctx.
//
// capacity bounds the number of responses buffered ahead of the writer; 0
// makes every Write wait for the writer. done unblocks pending writes when
// the connection goes away. release, if not nil, is called once by Release.
func NewResponseSink(ctx context.Context, capacity int, done <-chan struct{}, release func()) *ResponseSink {
	if capacity < 0 {
		capacity = 0
	}
	return &ResponseSink{
		ch:      make(chan Response, capacity),
		ctx:     ctx,
		done:    done,
		release: release,
	}
}

// Context returns the command scope the responses are rendered in.
func (s *ResponseSink) Context() context.Context { return s.ctx }

// Write queues r. It blocks while the buffer is full.
func (s *ResponseSink) Write(r Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.ch <- r:
		s.written.Add(1)
		return nil
	case <-s.done:
		return Fatal(ErrSinkClosed)
	}
}

// Close ends the command's responses. It is safe to call more than once.
func (s *ResponseSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Closed reports whether Close was called.
func (s *ResponseSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Count returns the number of responses written so far.
func (s *ResponseSink) Count() int { return int(s.written.Load()) }

// Responses is the consumer side of the sink. The channel is closed by Close.
func (s *ResponseSink) Responses() <-chan Response { return s.ch }

// Release frees the command scope once the writer is done with the sink.
func (s *ResponseSink) Release() {
	s.releaseMu.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Aborted reports whether the writer already told the client that the
// command was aborted.
func (s *ResponseSink) Aborted() bool { return s.aborted.Load() }
