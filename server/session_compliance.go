package server

import (
	"strings"
)

// handleACCT handles the ACCT command.
// RFC 1123 requires this command, but most modern servers don't need it.
func handleACCT(ctx *CommandContext) error {
	return ctx.Reply(202, "Command not implemented, superfluous at this site.")
}

// handleMODE handles the MODE command.
// RFC 1123 requires Stream mode support.
func handleMODE(ctx *CommandContext) error {
	switch strings.ToUpper(strings.TrimSpace(ctx.Command().Argument)) {
	case "S":
		// Stream mode (default and only supported mode)
		return ctx.Reply(200, "Mode set to Stream.")
	case "B":
		return Reply(504, "Block mode not implemented.")
	case "C":
		return Reply(504, "Compressed mode not implemented.")
	}
	return Reply(504, "Command not implemented for that parameter.")
}

// handleSTRU handles the STRU command.
// RFC 1123 requires File structure support.
func handleSTRU(ctx *CommandContext) error {
	switch strings.ToUpper(strings.TrimSpace(ctx.Command().Argument)) {
	case "F":
		// File structure (default and only supported structure)
		return ctx.Reply(200, "Structure set to File.")
	case "R":
		return Reply(504, "Record structure not implemented.")
	case "P":
		return Reply(504, "Page structure not implemented.")
	}
	return Reply(504, "Command not implemented for that parameter.")
}

// handleTYPE handles the TYPE command. ASCII (with the default Non-print
// form) and Image are accepted; "L 8" is treated as Image.
func handleTYPE(ctx *CommandContext) error {
	fields := strings.Fields(strings.ToUpper(ctx.Command().Argument))
	if len(fields) == 0 {
		return Reply(501, "Syntax error in parameters or arguments.")
	}

	tt := GetFeature[TransferTypeFeature](ctx.Features())
	switch {
	case fields[0] == "A" && (len(fields) == 1 || fields[1] == "N"):
		tt.SetTransferType("A")
		return ctx.Reply(200, "Type set to A.")
	case fields[0] == "I" && len(fields) == 1,
		fields[0] == "L" && len(fields) == 2 && fields[1] == "8":
		tt.SetTransferType("I")
		return ctx.Reply(200, "Type set to I.")
	}
	return Reply(504, "Command not implemented for that parameter.")
}

// handleSYST handles the SYST command.
func (s *Server) handleSYST(ctx *CommandContext) error {
	return ctx.Reply(215, s.serverName)
}

// handleABOR acknowledges ABOR. The in-flight commands were already
// cancelled when the line was read; their own responses end with 426.
func handleABOR(ctx *CommandContext) error {
	return ctx.Reply(226, "ABOR command successful.")
}
