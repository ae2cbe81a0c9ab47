package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrServerClosed is returned by the Server's Serve and ListenAndServe
	// methods after a call to Shutdown.
	ErrServerClosed = errors.New("ftp: Server closed")

	// ErrSinkClosed is returned when a response is written to a sink whose
	// command has already finished.
	ErrSinkClosed = errors.New("ftp: response sink closed")

	// ErrAborted is the cancellation cause of commands interrupted by ABOR.
	ErrAborted = errors.New("ftp: command aborted")

	// ErrIdleTimeout is the cancellation cause of connections that stayed idle
	// longer than the configured maximum.
	ErrIdleTimeout = errors.New("ftp: idle timeout")

	// ErrShutdown is the cancellation cause of connections closed by Shutdown.
	ErrShutdown = errors.New("ftp: server shutting down")

	// ErrCloseConnection is returned by a handler to request that the
	// connection be closed once its responses are written (QUIT).
	ErrCloseConnection = errors.New("ftp: close connection")

	// ErrCommandTooLong is reported when a control line exceeds MaxCommandLength.
	ErrCommandTooLong = errors.New("ftp: command too long")
)

// ReplyError is returned by handlers that want to fail with a specific
// status code instead of the generic local-error reply.
type ReplyError struct {
	Code    int
	Message string
	Err     error
}

// Reply returns a *ReplyError with the given code and message.
func Reply(code int, message string) *ReplyError {
	return &ReplyError{Code: code, Message: message}
}

func (e *ReplyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ftp: %d %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("ftp: %d %s", e.Code, e.Message)
}

func (e *ReplyError) Unwrap() error { return e.Err }

// FatalError marks an error as connection-fatal. The dispatch loop stops and
// hands the wrapped error to the connection owner.
type FatalError struct {
	Err error
}

// Fatal wraps err so that the dispatch loop treats it as connection-fatal.
// It returns nil if err is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Err: err}
}

func (e *FatalError) Error() string { return "ftp: connection fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err should terminate the connection.
// Transport failures on the control stream are always fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return true
	}
	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
