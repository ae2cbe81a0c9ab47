package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
)

// Response is the result of executing a command.
//
// Lines renders the response as protocol text, one line per element and
// without terminators. A non-nil error ends the sequence; the lines yielded
// before it must be treated as a truncated response.
type Response interface {
	Code() int
	Lines(ctx context.Context) iter.Seq2[string, error]
}

// SimpleResponse is a single-line reply: "{code} {message}".
type SimpleResponse struct {
	code    int
	message string
}

// NewResponse returns a single-line response.
func NewResponse(code int, message string) *SimpleResponse {
	return &SimpleResponse{code: code, message: message}
}

func (r *SimpleResponse) Code() int { return r.code }

// Message returns the reply text.
func (r *SimpleResponse) Message() string { return r.message }

// Lines yields the single reply line. The line has no I/O behind it, so it is
// produced even when ctx is done.
func (r *SimpleResponse) Lines(context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield(r.String(), nil)
	}
}

func (r *SimpleResponse) String() string {
	return fmt.Sprintf("%d %s", r.code, strings.TrimRight(oneLine(r.message), " \t"))
}

var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// oneLine replaces CR and LF so that s cannot end a reply line early.
func oneLine(s string) string {
	return lineBreaks.Replace(s)
}

// DataLineProducer produces the body of a ListResponse. Lines are returned
// without the leading space; the response adds it.
//
// Implementations may perform I/O while iterating. They must stop when ctx is
// done and report context.Cause(ctx) as the sequence error.
type DataLineProducer interface {
	DataLines(ctx context.Context) iter.Seq2[string, error]
}

// DataLinesFunc adapts a function to DataLineProducer.
type DataLinesFunc func(ctx context.Context) iter.Seq2[string, error]

func (f DataLinesFunc) DataLines(ctx context.Context) iter.Seq2[string, error] { return f(ctx) }

// StaticLines returns a producer yielding the given lines.
func StaticLines(lines ...string) DataLineProducer {
	lines = slices.Clone(lines)
	return DataLinesFunc(func(ctx context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			for _, line := range lines {
				if ctx.Err() != nil {
					yield("", context.Cause(ctx))
					return
				}
				if !yield(line, nil) {
					return
				}
			}
		}
	})
}

// ListResponse is a multi-line reply:
//
//	{code}-{start}
//	 {body line}
//	 ...
//	{code} {end}
//
// The body is produced lazily while the response is written.
type ListResponse struct {
	code  int
	start string
	end   string
	body  DataLineProducer
}

// NewListResponse returns a multi-line response. A nil body renders only the
// start and end lines.
func NewListResponse(code int, start, end string, body DataLineProducer) *ListResponse {
	if body == nil {
		body = StaticLines()
	}
	return &ListResponse{
		code:  code,
		start: oneLine(strings.TrimRight(start, " \t\r\n")),
		end:   oneLine(strings.TrimRight(end, " \t\r\n")),
		body:  body,
	}
}

func (r *ListResponse) Code() int { return r.code }

// Lines yields the start line, every body line prefixed with one space, and
// the end line. CR and LF inside body lines are replaced with spaces. When ctx is done or the body fails the sequence ends with an
// error and the end line is never yielded.
func (r *ListResponse) Lines(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if ctx.Err() != nil {
			yield("", context.Cause(ctx))
			return
		}
		if !yield(fmt.Sprintf("%d-%s", r.code, r.start), nil) {
			return
		}

		for line, err := range r.body.DataLines(ctx) {
			if err != nil {
				yield("", err)
				return
			}
			if ctx.Err() != nil {
				yield("", context.Cause(ctx))
				return
			}
			if !yield(" "+oneLine(line), nil) {
				return
			}
		}

		if ctx.Err() != nil {
			yield("", context.Cause(ctx))
			return
		}
		yield(fmt.Sprintf("%d %s", r.code, r.end), nil)
	}
}

// String summarizes the response for logs without producing the body.
func (r *ListResponse) String() string {
	return strings.Join([]string{
		fmt.Sprintf("%d-%s", r.code, r.start),
		" ... stripped ... async data",
		fmt.Sprintf("%d %s", r.code, r.end),
	}, "\n")
}

// Render collects all lines of r. On error the lines produced so far are
// returned together with the error.
func Render(ctx context.Context, r Response) ([]string, error) {
	var lines []string
	for line, err := range r.Lines(ctx) {
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Format renders r as newline-joined text.
func Format(ctx context.Context, r Response) (string, error) {
	lines, err := Render(ctx, r)
	return strings.Join(lines, "\n"), err
}

// WriteResponse writes r to w with CRLF line terminators.
// If w is a *bufio.Writer it is flushed after the last line.
func WriteResponse(ctx context.Context, w io.Writer, r Response) error {
	for line, err := range r.Lines(ctx) {
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, line+"\r\n"); err != nil {
			return Fatal(err)
		}
	}
	if bw, ok := w.(*bufio.Writer); ok {
		if err := bw.Flush(); err != nil {
			return Fatal(err)
		}
	}
	return nil
}
