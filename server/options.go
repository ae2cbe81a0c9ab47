package server

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithDriver sets the backend driver for authentication and file access.
// This option is required and can only be set once.
//
// Example:
//
//	driver, _ := server.NewFSDriver(afero.NewBasePathFs(afero.NewOsFs(), "/srv/ftp"))
//	s, _ := server.NewServer(":21", server.WithDriver(driver))
func WithDriver(driver Driver) Option {
	return func(s *Server) error {
		if s.driver != nil {
			return fmt.Errorf("driver already set")
		}
		s.driver = driver
		return nil
	}
}

// WithLogger sets a custom logger for the server.
// If not specified, slog.Default() is used.
//
// Example with debug logging:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithLogger(logger),
//	)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithMaxIdleTime sets the maximum time a connection may wait for the next
// command before it is closed with "421 Timeout.".
// If not specified, defaults to 5 minutes. Zero disables the timeout.
func WithMaxIdleTime(duration time.Duration) Option {
	return func(s *Server) error {
		if duration < 0 {
			return fmt.Errorf("invalid idle time %v", duration)
		}
		s.maxIdleTime = duration
		return nil
	}
}

// WithWriteTimeout bounds the time spent writing a single response to the
// control connection. Zero means no deadline.
func WithWriteTimeout(duration time.Duration) Option {
	return func(s *Server) error {
		if duration < 0 {
			return fmt.Errorf("invalid write timeout %v", duration)
		}
		s.writeTimeout = duration
		return nil
	}
}

// WithMaxConnections sets the maximum number of simultaneous connections
// and the maximum per client IP. Zero means no limit.
//
// When a limit is reached, new connections receive a 421 reply.
//
// Example:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(100, 10), // Max 100 total, 10 per IP
//	)
func WithMaxConnections(total, perIP int) Option {
	return func(s *Server) error {
		if total < 0 || perIP < 0 {
			return fmt.Errorf("invalid connection limits %d/%d", total, perIP)
		}
		s.maxConnections = total
		s.maxConnectionsPerIP = perIP
		return nil
	}
}

// WithWelcomeMessage sets the 220 banner sent to clients on connection.
func WithWelcomeMessage(message string) Option {
	return func(s *Server) error {
		s.welcomeMessage = message
		return nil
	}
}

// WithServerName sets the system type returned by SYST.
// Defaults to "UNIX Type: L8".
func WithServerName(name string) Option {
	return func(s *Server) error {
		s.serverName = name
		return nil
	}
}

// WithMetricsCollector sets the collector for command, connection and
// authentication metrics.
//
// Example:
//
//	collector := telemetry.New(metrics.NewSet())
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithMetricsCollector(collector),
//	)
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithResponseBuffer sets how many responses a command may queue before it
// waits for the connection's writer. Zero makes every write wait.
// Defaults to DefaultResponseBuffer.
func WithResponseBuffer(n int) Option {
	return func(s *Server) error {
		if n < 0 {
			return fmt.Errorf("invalid response buffer %d", n)
		}
		s.responseBuffer = n
		return nil
	}
}

// WithResponseBandwidth limits the bytes per second written to each control
// connection. Long list responses are paced accordingly. Zero disables it.
func WithResponseBandwidth(bytesPerSecond int64) Option {
	return func(s *Server) error {
		if bytesPerSecond < 0 {
			return fmt.Errorf("invalid bandwidth %d", bytesPerSecond)
		}
		s.responseBandwidth = bytesPerSecond
		return nil
	}
}

// WithDisableCommands removes verbs from the server. Disabled verbs are
// answered with "502 Command not implemented.".
//
// Example:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithDisableCommands(server.LegacyCommands...),
//	)
func WithDisableCommands(verbs ...string) Option {
	return func(s *Server) error {
		s.disabledCommands = append(s.disabledCommands, verbs...)
		return nil
	}
}

// WithHandler registers h for verb, replacing any built-in handler.
// Handlers registered this way run with the connection's feature store and
// may stream list responses.
func WithHandler(verb string, h Handler) Option {
	return func(s *Server) error {
		if verb == "" || h == nil {
			return errors.New("handler requires a verb and a handler")
		}
		s.handlers = append(s.handlers, verbHandler{verb: verb, handler: h})
		return nil
	}
}

// WithFeatureSetup registers a function run on every new connection before
// the welcome banner. It can install per-connection features.
func WithFeatureSetup(setup func(*Connection)) Option {
	return func(s *Server) error {
		if setup == nil {
			return errors.New("feature setup must not be nil")
		}
		s.featureSetup = append(s.featureSetup, setup)
		return nil
	}
}
