package server

import (
	"errors"
	"strings"
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 4096

// errEmptyCommand is returned by ParseCommand for blank lines.
var errEmptyCommand = errors.New("ftp: empty command")

// Command is a parsed control line: a verb and its argument.
type Command struct {
	// Name is the upper-cased verb (e.g. "RETR").
	Name string

	// Argument is everything after the first space, possibly empty.
	Argument string
}

// ParseCommand parses a control line. Trailing CR/LF is ignored and the verb
// is upper-cased.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Command{}, errEmptyCommand
	}

	name, arg, _ := strings.Cut(line, " ")
	return Command{
		Name:     strings.ToUpper(strings.TrimSpace(name)),
		Argument: arg,
	}, nil
}

// String returns the command as sent by the client, with PASS arguments masked.
func (c Command) String() string {
	if c.Argument == "" {
		return c.Name
	}
	return c.Name + " " + c.LogArgument()
}

// LogArgument returns the argument suitable for logging.
func (c Command) LogArgument() string {
	if c.Name == "PASS" {
		return "***"
	}
	return c.Argument
}
