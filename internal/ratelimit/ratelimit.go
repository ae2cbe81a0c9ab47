// Package ratelimit provides a token bucket limiter for throttling the
// bytes written to an FTP control connection.
//
// Waiting for tokens is bound to a context so a throttled write stops as soon
// as the command is aborted or the connection closes.
package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"
)

// maxWait caps a single wait. Unpaid debt carries over to the next call.
const maxWait = time.Second

// Limiter is a token bucket refilled at a fixed number of bytes per second.
// The bucket holds at most one second worth of tokens.
type Limiter struct {
	mu         sync.Mutex
	rate       float64
	tokens     float64
	lastUpdate time.Time
}

// New returns a limiter for bytesPerSecond. It returns nil, meaning
// unlimited, when bytesPerSecond is not positive.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	rate := float64(bytesPerSecond)
	return &Limiter{
		rate:       rate,
		tokens:     rate,
		lastUpdate: time.Now(),
	}
}

// Rate returns the configured bytes per second, 0 for a nil limiter.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.rate)
}

// reserve takes n tokens, going into debt if necessary, and returns how long
// the caller must wait for the debt to be repaid.
func (l *Limiter) reserve(n int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens += now.Sub(l.lastUpdate).Seconds() * l.rate
	if l.tokens > l.rate {
		l.tokens = l.rate
	}
	l.lastUpdate = now

	l.tokens -= float64(n)
	if l.tokens >= 0 {
		return 0
	}

	wait := time.Duration(-l.tokens / l.rate * float64(time.Second))
	if wait > maxWait {
		wait = maxWait
	}
	return wait
}

// Wait blocks until n bytes may be sent or ctx is done.
// A nil limiter never waits.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}

	wait := l.reserve(n)
	if wait == 0 {
		return nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

type writer struct {
	ctx     context.Context
	w       io.Writer
	limiter *Limiter
}

// NewWriter returns a writer that paces writes to w through limiter.
// If limiter is nil, w is returned unchanged.
func NewWriter(ctx context.Context, w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{ctx: ctx, w: w, limiter: limiter}
}

// chunkSize keeps individual waits short and the pacing smooth.
const chunkSize = 4 * 1024

func (w *writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n := min(len(p)-written, chunkSize)
		if err := w.limiter.Wait(w.ctx, n); err != nil {
			return written, err
		}
		m, err := w.w.Write(p[written : written+n])
		written += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
