package server

import "context"

// CommandContext binds one command to the connection it runs on and to the
// sink its responses go to. A context is created per command and never reused.
type CommandContext struct {
	command   Command
	responses *ResponseSink
	conn      *Connection
}

// NewCommandContext returns the context for executing command on conn.
// It panics if responses or conn is nil or the command has no verb.
func NewCommandContext(command Command, responses *ResponseSink, conn *Connection) *CommandContext {
	if command.Name == "" {
		panic("ftp: NewCommandContext: empty command")
	}
	if responses == nil {
		panic("ftp: NewCommandContext: nil response sink")
	}
	if conn == nil {
		panic("ftp: NewCommandContext: nil connection")
	}
	return &CommandContext{
		command:   command,
		responses: responses,
		conn:      conn,
	}
}

// Command returns the command being executed.
func (c *CommandContext) Command() Command { return c.command }

// ResponseWriter returns the sink the handler writes its responses to.
func (c *CommandContext) ResponseWriter() *ResponseSink { return c.responses }

// Connection returns the connection the command arrived on.
func (c *CommandContext) Connection() *Connection { return c.conn }

// Context is done when the command is aborted or the connection closes.
func (c *CommandContext) Context() context.Context { return c.responses.Context() }

// Features is shorthand for Connection().Features().
func (c *CommandContext) Features() *Features { return c.conn.Features() }

// Write queues r on the command's sink.
func (c *CommandContext) Write(r Response) error { return c.responses.Write(r) }

// Reply queues a single-line response.
func (c *CommandContext) Reply(code int, message string) error {
	return c.responses.Write(NewResponse(code, message))
}
