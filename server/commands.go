package server

// registerBuiltins installs the verbs served by every Server.
func registerBuiltins(r *Registry, s *Server) {
	// Access control
	r.HandleFunc("USER", s.handleUSER)
	r.HandleFunc("PASS", s.handlePASS)
	r.HandleFunc("QUIT", handleQUIT)
	r.HandleFunc("NOOP", handleNOOP)

	// File Management
	r.Handle("CWD", RequireLogin(HandlerFunc(handleCWD)))
	r.Handle("XCWD", RequireLogin(HandlerFunc(handleCWD)))
	r.Handle("CDUP", RequireLogin(HandlerFunc(handleCDUP)))
	r.Handle("XCUP", RequireLogin(HandlerFunc(handleCDUP)))
	r.Handle("PWD", RequireLogin(HandlerFunc(handlePWD)))
	r.Handle("XPWD", RequireLogin(HandlerFunc(handlePWD)))

	// Information
	r.Handle("SIZE", RequireLogin(HandlerFunc(handleSIZE)))
	r.Handle("MDTM", RequireLogin(HandlerFunc(handleMDTM)))
	r.HandleFunc("FEAT", handleFEAT)
	r.HandleFunc("OPTS", handleOPTS)
	r.HandleFunc("HELP", func(ctx *CommandContext) error { return handleHELP(ctx, r) })
	r.HandleFunc("STAT", handleSTAT)

	// RFC 1123 Compliance
	r.HandleFunc("SYST", s.handleSYST)
	r.HandleFunc("TYPE", handleTYPE)
	r.HandleFunc("MODE", handleMODE)
	r.HandleFunc("STRU", handleSTRU)
	r.HandleFunc("ACCT", handleACCT)

	// Special
	r.HandleInterrupt("ABOR", HandlerFunc(handleABOR))
}

// Predefined command groups for use with WithDisableCommands.
// These provide convenient ways to disable categories of FTP commands.
//
// Example usage:
//
//	// Status only: no directory navigation
//	srv, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithDisableCommands(server.NavigationCommands...),
//	)
var (
	// LegacyCommands contains deprecated X* command variants from RFC 775.
	// These are legacy aliases that modern FTP clients don't need.
	//
	// Commands: XCWD, XCUP, XPWD
	LegacyCommands = []string{
		"XCWD", // Use CWD instead
		"XCUP", // Use CDUP instead
		"XPWD", // Use PWD instead
	}

	// NavigationCommands contains the commands that walk or inspect the
	// user's file system.
	//
	// Commands: CWD, XCWD, CDUP, XCUP, PWD, XPWD, SIZE, MDTM
	NavigationCommands = []string{
		"CWD", "XCWD",
		"CDUP", "XCUP",
		"PWD", "XPWD",
		"SIZE",
		"MDTM",
	}

	// StatusCommands contains the commands that describe the server.
	//
	// Commands: STAT, HELP, FEAT, SYST
	//
	// Use case: hide server details from unauthenticated scanners.
	StatusCommands = []string{
		"STAT",
		"HELP",
		"FEAT",
		"SYST",
	}
)
