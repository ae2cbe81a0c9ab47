package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gonzalop/ftpcore/internal/ctlclient"
)

// discardLogger keeps test output quiet.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFs returns an in-memory file system with a few files.
func testFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/pub/docs", 0o755))
	require.NoError(t, fs.MkdirAll("/home/alice", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/readme.txt", []byte("hello world"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/pub/a.txt", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/home/alice/notes.txt", []byte("alice"), 0o600))
	return fs
}

func testHash(t *testing.T, password string) []byte {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

// startServer runs a server on a loopback port until the test ends.
func startServer(t *testing.T, fs afero.Fs, opts ...Option) (*Server, string) {
	t.Helper()

	driver, err := NewFSDriver(fs, WithUser("alice", testHash(t, "secret"), "/home/alice", false))
	require.NoError(t, err)
	return runServer(t, append([]Option{WithDriver(driver)}, opts...)...)
}

// runServer is startServer for callers bringing their own driver.
func runServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()

	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	s, err := NewServer("127.0.0.1:0", opts...)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after Shutdown")
		}
	})
	return s, ln.Addr().String()
}

// dial connects a control client and closes it when the test ends.
func dial(t *testing.T, addr string) *ctlclient.Client {
	t.Helper()
	c, err := ctlclient.Dial(context.Background(), addr, ctlclient.WithTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// send sends one command and fails the test on transport errors.
func send(t *testing.T, c *ctlclient.Client, line string) *ctlclient.Response {
	t.Helper()
	resp, err := c.Send(line)
	require.NoError(t, err)
	return resp
}
