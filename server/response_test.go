package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleResponse(t *testing.T) {
	r := NewResponse(200, "Command okay.")
	assert.Equal(t, 200, r.Code())
	assert.Equal(t, "Command okay.", r.Message())
	assert.Equal(t, "200 Command okay.", r.String())

	// Control characters cannot break the reply apart.
	assert.Equal(t, "550 bad name  x", NewResponse(550, "bad name\r\nx\n").String())

	// No I/O behind a single line, so a done context still renders it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lines, err := Render(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []string{"200 Command okay."}, lines)
}

func TestListResponse_Lines(t *testing.T) {
	tests := []struct {
		name string
		r    *ListResponse
		want []string
	}{
		{
			name: "empty body",
			r:    NewListResponse(211, "Features:", "End", StaticLines()),
			want: []string{"211-Features:", "211 End"},
		},
		{
			name: "nil body",
			r:    NewListResponse(214, "Help", "OK", nil),
			want: []string{"214-Help", "214 OK"},
		},
		{
			name: "transfer complete",
			r:    NewListResponse(226, "Transfer starting", "Transfer complete", StaticLines("a.txt", "b.txt")),
			want: []string{"226-Transfer starting", " a.txt", " b.txt", "226 Transfer complete"},
		},
		{
			name: "closing data connection",
			r:    NewListResponse(226, "Closing data connection", "Transfer complete", StaticLines()),
			want: []string{"226-Closing data connection", "226 Transfer complete"},
		},
		{
			name: "directory list",
			r: NewListResponse(150, "list", "done", StaticLines(
				"-rw-r--r-- 1 user group 4096 a.txt",
				"drwxr-xr-x 2 user group 4096 sub",
			)),
			want: []string{
				"150-list",
				" -rw-r--r-- 1 user group 4096 a.txt",
				" drwxr-xr-x 2 user group 4096 sub",
				"150 done",
			},
		},
		{
			name: "opening data connection",
			r:    NewListResponse(150, "Opening data connection", "Ready\r\n", StaticLines("x")),
			want: []string{"150-Opening data connection", " x", "150 Ready"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := Render(context.Background(), tt.r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lines)
		})
	}
}

func TestListResponse_LineBreaksInContent(t *testing.T) {
	r := NewListResponse(212, "Status\r\nof", "End\nof status", StaticLines("evil\r\n212 End of status", "ok"))

	var buf bytes.Buffer
	require.NoError(t, WriteResponse(context.Background(), &buf, r))
	assert.Equal(t, "212-Status  of\r\n evil  212 End of status\r\n ok\r\n212 End of status\r\n", buf.String())
}

func TestDirectoryListing(t *testing.T) {
	fs := afero.NewMemMapFs()
	const files = listBatch*2 + 1
	for i := range files {
		require.NoError(t, afero.WriteFile(fs, fmt.Sprintf("/d/f%03d", i), []byte("x"), 0o644))
	}
	require.NoError(t, afero.WriteFile(fs, "/d/evil\r\n212 End of status", nil, 0o644))

	var buf bytes.Buffer
	r := NewListResponse(212, "Status of /d:", "End of status", &DirectoryListing{Fs: fs, Path: "/d"})
	require.NoError(t, WriteResponse(context.Background(), &buf, r))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
	require.Len(t, lines, files+3)
	assert.Equal(t, "212-Status of /d:", lines[0])
	assert.Equal(t, "212 End of status", lines[len(lines)-1])

	seen := map[string]bool{}
	for _, l := range lines[1 : len(lines)-1] {
		require.True(t, strings.HasPrefix(l, " "), "body line %q", l)
		seen[l[strings.LastIndex(l, " ")+1:]] = true
	}
	for i := range files {
		assert.True(t, seen[fmt.Sprintf("f%03d", i)], "entry f%03d", i)
	}
	assert.True(t, seen["status"], "renamed entry kept on one line")
}

func TestDirectoryListing_StopsAcrossBatches(t *testing.T) {
	fs := afero.NewMemMapFs()
	for i := range listBatch + 10 {
		require.NoError(t, afero.WriteFile(fs, fmt.Sprintf("/d/f%03d", i), nil, 0o644))
	}

	n := 0
	for _, err := range (&DirectoryListing{Fs: fs, Path: "/d"}).DataLines(context.Background()) {
		require.NoError(t, err)
		n++
		if n == listBatch+1 {
			break
		}
	}
	assert.Equal(t, listBatch+1, n)

	_, err := Render(context.Background(), NewListResponse(212, "s", "e", &DirectoryListing{Fs: fs, Path: "/missing"}))
	assert.Error(t, err)
}

// trackedLines yields n lines and records whether the producer was
// released.
func trackedLines(n int, released *atomic.Bool, afterLine func(i int)) DataLineProducer {
	return DataLinesFunc(func(ctx context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			defer released.Store(true)
			for i := range n {
				if ctx.Err() != nil {
					yield("", context.Cause(ctx))
					return
				}
				if !yield("line", nil) {
					return
				}
				if afterLine != nil {
					afterLine(i)
				}
			}
		}
	})
}

func TestListResponse_CancelledBeforeStart(t *testing.T) {
	var released atomic.Bool
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrAborted)

	lines, err := Render(ctx, NewListResponse(212, "start", "end", trackedLines(3, &released, nil)))
	assert.ErrorIs(t, err, ErrAborted)
	assert.Empty(t, lines)
	assert.False(t, released.Load(), "the producer never started")
}

func TestListResponse_CancelledMidway(t *testing.T) {
	var released atomic.Bool
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	r := NewListResponse(212, "start", "end", trackedLines(10, &released, func(i int) {
		if i == 1 {
			cancel(ErrAborted)
		}
	}))

	lines, err := Render(ctx, r)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, []string{"212-start", " line", " line"}, lines)
	assert.NotContains(t, lines, "212 end")
	assert.True(t, released.Load())
}

func TestListResponse_ProducerError(t *testing.T) {
	boom := errors.New("disk on fire")
	body := DataLinesFunc(func(context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			if !yield("first", nil) {
				return
			}
			yield("", boom)
		}
	})

	lines, err := Render(context.Background(), NewListResponse(212, "start", "end", body))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"212-start", " first"}, lines)
}

func TestListResponse_ConsumerStopsEarly(t *testing.T) {
	var released atomic.Bool
	r := NewListResponse(212, "start", "end", trackedLines(100, &released, nil))

	n := 0
	for _, err := range r.Lines(context.Background()) {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	assert.True(t, released.Load())
}

func TestListResponse_StringDoesNotProduce(t *testing.T) {
	var released atomic.Bool
	r := NewListResponse(226, "start", "end", trackedLines(1, &released, nil))
	assert.Equal(t, "226-start\n ... stripped ... async data\n226 end", r.String())
	assert.False(t, released.Load())
}

func TestListResponse_RenderTwice(t *testing.T) {
	r := NewListResponse(211, "s", "e", StaticLines("a"))
	first, err := Format(context.Background(), r)
	require.NoError(t, err)
	second, err := Format(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "211-s\n a\n211 e", first)
	assert.Equal(t, first, second)
}

func TestWriteResponse(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	require.NoError(t, WriteResponse(context.Background(), bw, NewListResponse(211, "s", "e", StaticLines("a"))))
	assert.Equal(t, "211-s\r\n a\r\n211 e\r\n", buf.String(), "flushed")

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrAborted)
	buf.Reset()
	err := WriteResponse(ctx, &buf, NewListResponse(211, "s", "e", nil))
	assert.ErrorIs(t, err, ErrAborted)
	assert.False(t, IsFatal(err))
	assert.Empty(t, buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteResponse_TransportErrorIsFatal(t *testing.T) {
	err := WriteResponse(context.Background(), failingWriter{}, NewResponse(200, "OK"))
	assert.True(t, IsFatal(err))
}
