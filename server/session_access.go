package server

import (
	"errors"
	"fmt"
	"strings"
)

func (s *Server) handleUSER(ctx *CommandContext) error {
	user := strings.TrimSpace(ctx.Command().Argument)
	if user == "" {
		return Reply(501, "Syntax error in parameters or arguments.")
	}

	f := ctx.Features()
	// A new USER starts a new login.
	GetFeature[ConnectionUserFeature](f).SetUser(nil)
	GetFeature[FileSystemFeature](f).SetFs(nil)
	GetFeature[LoginFeature](f).SetPendingUser(user)

	return ctx.Reply(331, "User name okay, need password.")
}

func (s *Server) handlePASS(ctx *CommandContext) error {
	f := ctx.Features()
	login := GetFeature[LoginFeature](f)
	user := login.PendingUser()
	if user == "" {
		return Reply(503, "Login with USER first.")
	}

	conn := ctx.Connection()
	principal, fs, err := s.driver.Authenticate(ctx.Context(), user, ctx.Command().Argument)
	if err == nil && (principal == nil || fs == nil) {
		err = fmt.Errorf("%w: driver returned no identity or file system", ErrLoginIncorrect)
	}
	if err != nil {
		if ctx.Context().Err() != nil {
			return err
		}
		// Security audit: failed authentication
		conn.Logger().Warn("authentication_failed",
			"session_id", conn.ID(),
			"remote_ip", conn.RemoteIP(),
			"user", user,
			"reason", err.Error(),
		)
		if s.metricsCollector != nil {
			s.metricsCollector.RecordAuthentication(false, user)
		}
		login.SetPendingUser("")
		if errors.Is(err, ErrLoginIncorrect) {
			return Reply(530, "Login incorrect.")
		}
		return &ReplyError{Code: 530, Message: "Login incorrect.", Err: err}
	}

	login.SetPendingUser("")
	GetFeature[ConnectionUserFeature](f).SetUser(principal)
	GetFeature[FileSystemFeature](f).SetFs(fs)

	// Security audit: successful authentication
	conn.Logger().Info("authentication_success",
		"session_id", conn.ID(),
		"remote_ip", conn.RemoteIP(),
		"user", principal.Name,
		"anonymous", principal.Anonymous,
	)
	if s.metricsCollector != nil {
		s.metricsCollector.RecordAuthentication(true, principal.Name)
	}
	return ctx.Reply(230, "User logged in, proceed.")
}

func handleQUIT(ctx *CommandContext) error {
	if err := ctx.Reply(221, "Service closing control connection."); err != nil {
		return err
	}
	return ErrCloseConnection
}

func handleNOOP(ctx *CommandContext) error {
	return ctx.Reply(200, "OK.")
}
