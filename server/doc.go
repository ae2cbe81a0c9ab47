// Package server implements the command core of an FTP server: control
// connection handling, command dispatch and response streaming.
//
// # Overview
//
// Each client connection runs three tasks:
//
//   - a reader that parses control lines and reacts to ABOR as soon as it is
//     read,
//   - a dispatcher that executes one command at a time,
//   - a writer that serializes every response onto the control connection
//     in command order.
//
// Handlers never write to the socket. They write Response values to the
// command's ResponseSink. A ListResponse carries a lazy body that is
// produced while it is written, so a long reply (e.g. a directory listing
// sent with STAT) never has to be held in memory and can be cancelled
// halfway.
//
// # Getting Started
//
// The FSDriver serves any afero file system:
//
//	package main
//
//	import (
//	    "log"
//
//	    "github.com/spf13/afero"
//	    "github.com/gonzalop/ftpcore/server"
//	)
//
//	func main() {
//	    fs := afero.NewBasePathFs(afero.NewOsFs(), "/srv/ftp")
//	    driver, err := server.NewFSDriver(fs)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    s, err := server.NewServer(":2121", server.WithDriver(driver))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    log.Fatal(s.ListenAndServe())
//	}
//
// # Custom Commands
//
// Verbs are looked up in a Registry. WithHandler adds or replaces a verb:
//
//	ticker := server.HandlerFunc(func(ctx *server.CommandContext) error {
//	    return ctx.Write(server.NewListResponse(211, "Ticking:", "Done", body))
//	})
//	s, _ := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithHandler("TICK", server.RequireLogin(ticker)),
//	)
//
// A handler returns nil once it wrote its replies, a *ReplyError to fail
// with a specific code, ErrCloseConnection to end the session, or an error
// wrapped with Fatal to drop the connection. Any other error, and a panic,
// is answered with 451.
//
// # Connection Features
//
// Per-connection state lives in a Features store keyed by capability type.
// GetFeature creates a default instance on first use; the identity
// capability is reachable both as ConnectionUserFeature and under its
// deprecated name AuthorizationInformationFeature:
//
//	user := server.CurrentUser(ctx.Features())
//
// # ABOR
//
// When ABOR (or Telnet IP) is read, every command whose responses are still
// pending is cancelled with ErrAborted. A reply cut short this way ends with
// "426 Connection closed; transfer aborted." and ABOR itself is answered
// with 226 in order.
//
// # Limits and Timeouts
//
// WithMaxConnections limits concurrent sessions globally and per client IP;
// excess connections receive 421. WithMaxIdleTime closes sessions waiting
// too long for a command with "421 Timeout.". Shutdown cancels every
// session with ErrShutdown and waits for them to say goodbye.
//
// # Metrics
//
// WithMetricsCollector receives command, connection, authentication and
// abort events. internal/telemetry provides a Prometheus collector.
package server
