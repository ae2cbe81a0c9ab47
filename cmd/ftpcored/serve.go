package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gonzalop/ftpcore/internal/config"
	"github.com/gonzalop/ftpcore/internal/telemetry"
	"github.com/gonzalop/ftpcore/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the FTP server",
		Long: `Start the FTP server with the specified configuration. The configuration can be set via command line flags, environment variables or a config file. The format of the environment variables is FTPCORE_<flag> (e.g. FTPCORE_IDLE_TIMEOUT=2m)`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := config.NewViper()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if file, _ := cmd.Flags().GetString("config"); file != "" {
				v.SetConfigFile(file)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.String("config", "", "Config file (yaml, toml or json)")
	f.String("addr", config.Defaults["addr"].(string), "Address the control channel listens on")
	f.String("root", "", "Directory to serve; empty serves an in-memory file system")
	f.String("welcome", config.Defaults["welcome"].(string), "Welcome banner")
	f.String("server-name", config.Defaults["server-name"].(string), "System type reported by SYST")
	f.String("users", "", "Comma-separated users as name:bcrypt-hash[:home[:ro]]")
	f.Bool("anonymous", true, "Allow anonymous read-only logins")
	f.Bool("anon-write", false, "Give anonymous users write access")
	f.Duration("idle-timeout", config.Defaults["idle-timeout"].(time.Duration), "Close connections idle for this long (0 disables)")
	f.Duration("write-timeout", config.Defaults["write-timeout"].(time.Duration), "Deadline for writing one reply")
	f.Duration("shutdown-timeout", config.Defaults["shutdown-timeout"].(time.Duration), "Grace period for connections on shutdown")
	f.Int("max-connections", 0, "Maximum simultaneous connections (0 for unlimited)")
	f.Int("max-connections-per-ip", 0, "Maximum simultaneous connections per client IP (0 for unlimited)")
	f.Int("response-buffer", server.DefaultResponseBuffer, "Replies a command may queue ahead of the writer")
	f.Int64("response-bandwidth", 0, "Control channel bandwidth per connection in bytes/s (0 for unlimited)")
	f.String("disable-commands", "", "Comma-separated verbs to disable")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")

	return cmd
}

func newLogger(cfg *config.ServerConfig, w io.Writer) *slog.Logger {
	level, _ := config.ParseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// buildServer turns the configuration into a server and its collector.
func buildServer(cfg *config.ServerConfig, logger *slog.Logger) (*server.Server, *telemetry.Collector, error) {
	fs, err := cfg.OpenFs()
	if err != nil {
		return nil, nil, err
	}

	driverOpts := []server.FSDriverOption{
		server.WithDisableAnonymous(!cfg.Anonymous),
		server.WithAnonWrite(cfg.AnonWrite),
	}
	for _, u := range cfg.Users {
		driverOpts = append(driverOpts, server.WithUser(u.Name, []byte(u.Hash), u.Home, u.ReadOnly))
	}
	driver, err := server.NewFSDriver(fs, driverOpts...)
	if err != nil {
		return nil, nil, err
	}

	collector := telemetry.New(nil)
	s, err := server.NewServer(cfg.Addr,
		server.WithDriver(driver),
		server.WithLogger(logger),
		server.WithWelcomeMessage(cfg.Welcome),
		server.WithServerName(cfg.ServerName),
		server.WithMaxIdleTime(cfg.IdleTimeout),
		server.WithWriteTimeout(cfg.WriteTimeout),
		server.WithMaxConnections(cfg.MaxConnections, cfg.MaxConnectionsPerIP),
		server.WithResponseBuffer(cfg.ResponseBuffer),
		server.WithResponseBandwidth(cfg.ResponseBandwidth),
		server.WithDisableCommands(cfg.DisableCommands...),
		server.WithMetricsCollector(collector),
	)
	if err != nil {
		return nil, nil, err
	}
	collector.TrackActiveConnections(s.ActiveConnections)
	return s, collector, nil
}

func runServe(ctx context.Context, cfg *config.ServerConfig, logOut io.Writer) error {
	logger := newLogger(cfg, logOut)
	logger.Debug("configuration", "config", cfg.String())

	s, collector, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}
	logger.Info("FTP server listening", "addr", ln.Addr().String())

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.Serve(ln); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Warn("shutdown incomplete", "error", err)
		}
		return nil
	})
	return g.Wait()
}
