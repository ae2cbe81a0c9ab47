package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Server is the FTP control-channel server.
//
// It accepts connections, enforces connection limits, and runs one session
// per connection. Each session reads commands, executes them one at a time
// through the Dispatcher, and streams their responses in order.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Stop with Shutdown(), which closes the listener and every connection
//
// Basic example:
//
//	driver, _ := server.NewFSDriver(afero.NewBasePathFs(afero.NewOsFs(), "/srv/ftp"))
//	s, err := server.NewServer(":21", server.WithDriver(driver))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	// addr is the TCP address to listen on (e.g., ":21").
	addr string

	// driver authenticates users and provides their file systems.
	driver Driver

	// logger is the logger instance.
	logger *slog.Logger

	// welcomeMessage is the banner sent to clients on connection.
	// Defaults to "FTP Server Ready".
	welcomeMessage string

	// serverName is the system type returned by the SYST command.
	// Defaults to "UNIX Type: L8".
	serverName string

	// maxIdleTime is the maximum time a connection can wait for a command.
	// Defaults to 5 minutes.
	maxIdleTime time.Duration

	// writeTimeout bounds writing one response. If 0, no timeout is applied.
	writeTimeout time.Duration

	// maxConnections is the maximum number of simultaneous connections.
	// If 0, there is no limit.
	maxConnections int

	// maxConnectionsPerIP is the maximum number of simultaneous connections per IP.
	// If 0, there is no per-IP limit.
	maxConnectionsPerIP int

	// responseBuffer is the capacity of each command's response sink.
	responseBuffer int

	// responseBandwidth limits each control connection in bytes per second.
	responseBandwidth int64

	metricsCollector MetricsCollector
	disabledCommands []string
	handlers         []verbHandler
	featureSetup     []func(*Connection)

	// registry is built once by NewServer and shared by all sessions.
	registry *Registry

	// activeConns tracks the number of currently active connections.
	activeConns atomic.Int32

	// connsByIP tracks the number of active connections per IP address.
	connsByIP   map[string]int32
	connsByIPMu sync.Mutex

	// Shutdown handling
	baseCtx    context.Context
	cancelBase context.CancelCauseFunc
	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	sessions   sync.WaitGroup
	inShutdown atomic.Bool
}

type verbHandler struct {
	verb    string
	handler Handler
}

// NewServer creates a new FTP server with the given address and options.
// The address should be in the form ":port" or "host:port".
// The driver must be provided via the WithDriver option.
//
// Default values:
//   - Logger: slog.Default()
//   - MaxIdleTime: 5 minutes
//   - MaxConnections: 0 (unlimited)
//   - ResponseBuffer: DefaultResponseBuffer
//
// With connection limits:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(100, 10), // Max 100 total, 10 per IP
//	    server.WithMaxIdleTime(10*time.Minute),
//	)
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:           addr,
		logger:         slog.Default(),
		welcomeMessage: "FTP Server Ready",
		serverName:     "UNIX Type: L8",
		maxIdleTime:    5 * time.Minute,
		responseBuffer: DefaultResponseBuffer,
		conns:          make(map[net.Conn]struct{}),
		connsByIP:      make(map[string]int32),
	}

	// Apply options
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	// Validate required fields
	if s.driver == nil {
		return nil, fmt.Errorf("driver is required (use WithDriver option)")
	}

	s.registry = s.buildRegistry()
	s.baseCtx, s.cancelBase = context.WithCancelCause(context.Background())
	return s, nil
}

// buildRegistry installs the built-in verbs, then the custom handlers, then
// removes the disabled verbs.
func (s *Server) buildRegistry() *Registry {
	r := NewRegistry()
	registerBuiltins(r, s)
	for _, vh := range s.handlers {
		r.Handle(vh.verb, vh.handler)
	}
	r.Remove(s.disabledCommands...)
	return r
}

// Registry returns the verb table used by the server's sessions.
func (s *Server) Registry() *Registry { return s.registry }

// ListenAndServe starts the FTP server on the configured address.
// It blocks until the server stops or an error occurs.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("FTP server listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Shutdown stops the server.
//
// It closes the listener and cancels every connection with ErrShutdown.
// Sessions send a 421 reply and exit; Shutdown waits for them until ctx is
// done, then closes the remaining sockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	s.cancelBase(ErrShutdown)

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
	}

	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	for conn := range conns {
		_ = conn.Close()
	}
	return errors.Join(err, ctx.Err())
}

// Serve accepts incoming connections on the listener l.
// It blocks until the listener is closed or an error occurs.
//
// Each connection is handled in a separate goroutine.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		if !s.trackConnection(conn, true) {
			continue
		}
		s.sessions.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection handles a new client connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.sessions.Done()
	defer s.trackConnection(conn, false)
	defer conn.Close()

	ip := remoteIP(conn.RemoteAddr())

	// Check global connection limit
	if s.maxConnections > 0 && s.activeConns.Load() >= int32(s.maxConnections) {
		s.reject(conn, ip, "global_limit_reached", s.maxConnections, "421 Too many users, sorry.")
		return
	}

	// Check per-IP connection limit
	if s.maxConnectionsPerIP > 0 {
		s.connsByIPMu.Lock()
		currentCount := s.connsByIP[ip]
		s.connsByIPMu.Unlock()
		// The current connection is already counted.
		if currentCount > int32(s.maxConnectionsPerIP) {
			s.reject(conn, ip, "per_ip_limit_reached", s.maxConnectionsPerIP, "421 Too many connections from your IP address.")
			return
		}
	}

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
	}

	newSession(s, conn).serve()
}

func (s *Server) reject(conn net.Conn, ip, reason string, limit int, reply string) {
	// Security audit: connection limit reached
	s.logger.Warn("connection_rejected",
		"remote_ip", ip,
		"reason", reason,
		"limit", limit,
	)
	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(false, reason)
	}
	if s.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	fmt.Fprintf(conn, "%s\r\n", reply)
}

// trackConnection returns false if we're shutting down.
func (s *Server) trackConnection(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ip := remoteIP(conn.RemoteAddr())

	if add {
		if s.inShutdown.Load() {
			conn.Close()
			return false
		}
		s.conns[conn] = struct{}{}

		s.connsByIPMu.Lock()
		s.connsByIP[ip]++
		s.connsByIPMu.Unlock()
		return true
	}

	// remove
	delete(s.conns, conn)

	s.connsByIPMu.Lock()
	s.connsByIP[ip]--
	if s.connsByIP[ip] <= 0 {
		delete(s.connsByIP, ip)
	}
	s.connsByIPMu.Unlock()
	return true
}

// ActiveConnections returns the number of sessions currently running.
func (s *Server) ActiveConnections() int {
	return int(s.activeConns.Load())
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	ip, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		// If we can't parse the address, use the whole thing
		return addr.String()
	}
	return ip
}
