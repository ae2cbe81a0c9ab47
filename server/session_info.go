package server

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// helpColumns is the number of verbs per HELP line.
const helpColumns = 8

func handleSIZE(ctx *CommandContext) error {
	fsf, fs, err := userFs(ctx)
	if err != nil {
		return err
	}
	info, err := fs.Stat(fsf.Resolve(ctx.Command().Argument))
	if err != nil || info.IsDir() {
		return &ReplyError{Code: 550, Message: "Could not get file size.", Err: err}
	}
	return ctx.Reply(213, strconv.FormatInt(info.Size(), 10))
}

func handleMDTM(ctx *CommandContext) error {
	fsf, fs, err := userFs(ctx)
	if err != nil {
		return err
	}
	info, err := fs.Stat(fsf.Resolve(ctx.Command().Argument))
	if err != nil {
		return &ReplyError{Code: 550, Message: "Could not get file modification time.", Err: err}
	}

	// YYYYMMDDHHMMSS format
	// RFC 3659 Section 2.3: "Time values are always represented in UTC"
	return ctx.Reply(213, info.ModTime().UTC().Format("20060102150405"))
}

// featureLines is the FEAT body. Every line is prefixed with a space on the
// wire.
var featureLines = []string{
	"MDTM",
	"SIZE",
	"TVFS",
	"UTF8",
}

func handleFEAT(ctx *CommandContext) error {
	return ctx.Write(NewListResponse(211, "Features:", "End", StaticLines(featureLines...)))
}

func handleOPTS(ctx *CommandContext) error {
	opt := strings.ToUpper(strings.TrimSpace(ctx.Command().Argument))
	switch {
	case opt == "UTF8" || opt == "UTF8 ON":
		return ctx.Reply(200, "Always in UTF8 mode.")
	case opt == "UTF8 OFF":
		return Reply(504, "UTF8 cannot be disabled.")
	}
	return Reply(501, "Option not understood.")
}

// handleHELP lists the registered verbs, or describes a single one.
func handleHELP(ctx *CommandContext, r *Registry) error {
	arg := strings.ToUpper(strings.TrimSpace(ctx.Command().Argument))
	if arg != "" {
		if _, ok := r.Lookup(arg); !ok {
			return Reply(502, fmt.Sprintf("Unknown command %s.", arg))
		}
		return ctx.Reply(214, fmt.Sprintf("%s is supported.", arg))
	}

	body := DataLinesFunc(func(ctx context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			verbs := r.Verbs()
			for i := 0; i < len(verbs); i += helpColumns {
				row := verbs[i:min(i+helpColumns, len(verbs))]
				if !yield(strings.Join(row, " "), nil) {
					return
				}
			}
		}
	})
	return ctx.Write(NewListResponse(214, "The following commands are supported:", "Help OK.", body))
}

// handleSTAT reports the connection status, or, with a path argument, the
// status of that file or the listing of that directory over the control
// connection.
func handleSTAT(ctx *CommandContext) error {
	arg := strings.TrimSpace(ctx.Command().Argument)
	if arg == "" {
		return ctx.Write(NewListResponse(211, "FTP server status:", "End of status", statusLines(ctx.Connection())))
	}

	if CurrentUser(ctx.Features()) == nil {
		return Reply(530, "Not logged in.")
	}
	fsf, fs, err := userFs(ctx)
	if err != nil {
		return err
	}

	p := fsf.Resolve(arg)
	info, err := fs.Stat(p)
	if err != nil {
		return fsError(err)
	}

	if !info.IsDir() {
		return ctx.Write(NewListResponse(213, "Status of "+p+":", "End of status", StaticLines(formatListLine(info))))
	}
	listing := &DirectoryListing{Fs: fs, Path: p}
	return ctx.Write(NewListResponse(212, "Status of "+p+":", "End of status", listing))
}

func statusLines(conn *Connection) DataLineProducer {
	f := conn.Features()

	lines := []string{fmt.Sprintf("Connected from %s", conn.RemoteIP())}
	if u := CurrentUser(f); u != nil {
		lines = append(lines, "Logged in as "+u.Name)
	} else {
		lines = append(lines, "Not logged in")
	}

	tt := "BINARY"
	if GetFeature[TransferTypeFeature](f).TransferType() == "A" {
		tt = "ASCII"
	}
	lines = append(lines,
		fmt.Sprintf("TYPE: %s; STRUcture: File; transfer MODE: Stream", tt),
		"Session ID: "+conn.ID(),
	)
	return StaticLines(lines...)
}
