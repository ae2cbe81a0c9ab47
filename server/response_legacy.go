package server

import (
	"context"
	"iter"
	"sync"
)

// ResponseLine is one step of the pull based line API.
// The zero value means that there are no more lines.
type ResponseLine struct {
	// Text is the rendered line.
	Text string

	// Token continues the iteration. It is nil once the response is exhausted.
	Token *LineToken
}

// HasText reports whether the step produced a line.
func (l ResponseLine) HasText() bool { return l.Token != nil }

// LineToken holds an in-progress iteration of a response's lines.
type LineToken struct {
	next func() (string, error, bool)
	stop func()
	once sync.Once
}

// Close releases the iteration. It is safe to call more than once and must be
// called when a caller abandons a token before exhaustion.
func (t *LineToken) Close() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.stop()
		t.next = nil
	})
}

// NextLine returns the next line of r.
//
// A nil token starts a new iteration; the token returned with each line
// continues that same iteration. When the lines are exhausted NextLine
// releases the iteration and returns the zero ResponseLine. The context is
// bound to the iteration when it starts; if ctx is done on a later call the
// iteration is released and the cause returned.
//
// Deprecated: Range over Response.Lines instead.
func NextLine(ctx context.Context, r Response, token *LineToken) (ResponseLine, error) {
	if token == nil {
		next, stop := iter.Pull2(r.Lines(ctx))
		token = &LineToken{next: next, stop: stop}
	} else if token.next == nil {
		return ResponseLine{}, nil
	}

	if ctx.Err() != nil {
		token.Close()
		return ResponseLine{}, context.Cause(ctx)
	}

	line, err, ok := token.next()
	if !ok {
		token.Close()
		return ResponseLine{}, nil
	}
	if err != nil {
		token.Close()
		return ResponseLine{}, err
	}
	return ResponseLine{Text: line, Token: token}, nil
}

// NextLine is the pull based form of Lines.
//
// Deprecated: Range over Lines instead.
func (r *ListResponse) NextLine(ctx context.Context, token *LineToken) (ResponseLine, error) {
	return NextLine(ctx, r, token)
}
