package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gonzalop/ftpcore/internal/ratelimit"
)

// readAhead is how many parsed commands the reader may queue ahead of the
// dispatcher. The reader keeps reading while a command runs so that ABOR is
// seen immediately.
const readAhead = 32

// session binds a network connection to a Connection and runs its reader,
// dispatcher and writer.
type session struct {
	server *Server
	conn   net.Conn
	tnet   *telnetReader

	commands chan readResult
}

type readResult struct {
	cmd Command
	err error
}

// newSession creates a new session.
func newSession(server *Server, conn net.Conn) *session {
	return &session{
		server:   server,
		conn:     conn,
		tnet:     newTelnetReader(conn),
		commands: make(chan readResult, readAhead),
	}
}

// serve handles the FTP session.
//
// Concurrency Model:
//
//  1. Reader Goroutine: reads and parses control lines into the commands
//     channel. Interrupt verbs (ABOR) cancel the in-flight commands as soon
//     as they are read, before they reach the dispatcher.
//
//  2. Dispatcher: executes one command at a time. Each command gets its own
//     response sink, handed to the writer in command order.
//
//  3. Writer: drains the sinks in order onto the control connection.
//
// Dispatcher and writer run in an errgroup. The session ends when the
// client quits or disconnects, or when the connection is cancelled (idle
// timeout, shutdown, fatal write error).
func (s *session) serve() {
	c := NewConnection(s.server.baseCtx, s.conn.RemoteAddr(), s.server.logger)
	defer s.conn.Close()

	for _, setup := range s.server.featureSetup {
		setup(c)
	}

	logger := c.Logger()
	logger.Info("session_started",
		"session_id", c.ID(),
		"remote_ip", c.RemoteIP(),
	)

	if err := s.sendWelcome(c); err != nil {
		logger.Debug("welcome failed", "session_id", c.ID(), "error", err)
		c.Close(err)
		return
	}

	s.tnet.onInterrupt = func() { c.Abort() }
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.readLoop(c)
	}()

	sinks := make(chan *ResponseSink)
	drainer := &Drainer{
		Conn:         c,
		Writer:       ratelimit.NewWriter(c.Context(), s.conn, ratelimit.New(s.server.responseBandwidth)),
		Control:      s.conn,
		WriteTimeout: s.server.writeTimeout,
	}
	dispatcher := &Dispatcher{
		Registry:       s.server.registry,
		Metrics:        s.server.metricsCollector,
		ResponseBuffer: s.server.responseBuffer,
		IdleTimeout:    s.server.maxIdleTime,
	}

	var g errgroup.Group
	g.Go(func() error {
		err := drainer.Drain(sinks)
		if err != nil {
			c.Close(err)
		}
		return err
	})
	g.Go(func() error {
		return dispatcher.Serve(c, s, sinks)
	})
	err := g.Wait()

	cause := c.Err()
	switch {
	case errors.Is(cause, ErrIdleTimeout):
		s.farewell(421, "Timeout.")
	case errors.Is(cause, ErrShutdown):
		s.farewell(421, "Service not available, closing control connection.")
	}

	user := userName(c.Features())
	c.Close(ErrCloseConnection)
	_ = s.conn.Close()
	<-readerDone

	if err != nil && cause == nil {
		cause = err
	}
	if cause != nil && !errors.Is(cause, ErrCloseConnection) {
		logger.Info("session_closed",
			"session_id", c.ID(),
			"remote_ip", c.RemoteIP(),
			"user", user,
			"reason", cause.Error(),
		)
		return
	}
	logger.Debug("session closed",
		"session_id", c.ID(),
		"remote_ip", c.RemoteIP(),
		"user", user,
	)
}

// sendWelcome writes the 220 banner. A multi-line banner is sent as a list
// response.
func (s *session) sendWelcome(c *Connection) error {
	msg := strings.TrimPrefix(s.server.welcomeMessage, "220")
	msg = strings.TrimPrefix(msg, " ")
	msg = strings.TrimPrefix(msg, "-")
	lines := strings.Split(strings.TrimRight(msg, "\r\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}

	var r Response = NewResponse(220, lines[0])
	if len(lines) > 1 {
		r = NewListResponse(220, lines[0], lines[len(lines)-1], StaticLines(lines[1:len(lines)-1]...))
	}

	if s.server.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
		defer func() { _ = s.conn.SetWriteDeadline(time.Time{}) }()
	}
	return WriteResponse(c.Context(), s.conn, r)
}

// farewell writes a last reply after the writer task has stopped.
func (s *session) farewell(code int, message string) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	fmt.Fprintf(s.conn, "%d %s\r\n", code, message)
}

// readLoop reads control lines until the connection fails or is closed.
func (s *session) readLoop(c *Connection) {
	defer close(s.commands)

	for {
		var r readResult
		line, err := s.tnet.ReadLine(MaxCommandLength)
		switch {
		case errors.Is(err, ErrCommandTooLong):
			r.err = &ReplyError{Code: 500, Message: "Command line too long.", Err: err}
		case err != nil:
			if !errors.Is(err, io.EOF) && c.Err() == nil {
				c.Logger().Warn("read error",
					"session_id", c.ID(),
					"remote_ip", c.RemoteIP(),
					"user", userName(c.Features()),
					"error", err,
				)
			}
			r.err = err
		default:
			cmd, perr := ParseCommand(line)
			if perr != nil {
				continue
			}
			if s.server.registry.IsInterrupt(cmd.Name) {
				if n := c.Abort(); n > 0 {
					c.Logger().Info("transfer_abort_requested",
						"session_id", c.ID(),
						"cmd", cmd.Name,
						"aborted", n,
					)
				}
			}
			r.cmd = cmd
		}

		select {
		case s.commands <- r:
		case <-c.Done():
			return
		}

		var re *ReplyError
		if r.err != nil && !errors.As(r.err, &re) {
			return
		}
	}
}

// Next implements CommandSource.
func (s *session) Next(ctx context.Context) (Command, error) {
	select {
	case r, ok := <-s.commands:
		if !ok {
			return Command{}, io.EOF
		}
		return r.cmd, r.err
	case <-ctx.Done():
		return Command{}, context.Cause(ctx)
	}
}
