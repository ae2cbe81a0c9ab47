// Package ctlclient is a minimal FTP control-channel client. It sends raw
// commands and parses single-line and multi-line replies; it has no data
// channel. The probe command and the server's integration tests use it.
package ctlclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Response represents an FTP server response.
type Response struct {
	// Code is the three-digit response code (e.g., 220, 550)
	Code int

	// Message is the human-readable message from the server
	Message string

	// Lines contains all lines of the response (for multi-line responses)
	Lines []string

	// Truncated is set when a multi-line response was ended by a reply with
	// a different code (e.g. 426 after ABOR) instead of its own end line.
	// Code and Message then describe the interrupting reply.
	Truncated bool
}

// Is2xx returns true if the response code is in the 2xx range (success).
func (r *Response) Is2xx() bool {
	return r.Code >= 200 && r.Code < 300
}

// Is4xx returns true if the response code is in the 4xx range (temporary failure).
func (r *Response) Is4xx() bool {
	return r.Code >= 400 && r.Code < 500
}

// Is5xx returns true if the response code is in the 5xx range (permanent failure).
func (r *Response) Is5xx() bool {
	return r.Code >= 500 && r.Code < 600
}

// Body returns the lines between the first and the last line, without the
// leading space of each body line.
func (r *Response) Body() []string {
	if len(r.Lines) < 2 {
		return nil
	}
	end := len(r.Lines) - 1
	body := make([]string, 0, end-1)
	for _, l := range r.Lines[1:end] {
		body = append(body, strings.TrimPrefix(l, " "))
	}
	return body
}

// String returns the full response as a string.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// ProtocolError represents an unexpected reply to a command.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "CWD /pub")
	Command string

	// Response is the message received from the server
	Response string

	// Code is the numeric FTP response code (e.g., 550)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// Client is a connection to an FTP server's control channel.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	logger  *slog.Logger

	mu sync.Mutex

	// Welcome is the banner sent by the server on connect.
	Welcome *Response
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithTimeout sets the read and write deadline for each command.
// Defaults to 30 seconds; zero disables deadlines.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout < 0 {
			return fmt.Errorf("invalid timeout %v", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithLogger enables debug logging of commands and replies.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// Dial connects to addr and reads the welcome banner.
func Dial(ctx context.Context, addr string, options ...Option) (*Client, error) {
	c := &Client{timeout: 30 * time.Second}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newClient(conn, c)
}

// NewClient wraps an established connection, e.g. one end of net.Pipe, and
// reads the welcome banner.
func NewClient(conn net.Conn, options ...Option) (*Client, error) {
	c := &Client{timeout: 30 * time.Second}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return newClient(conn, c)
}

func newClient(conn net.Conn, c *Client) (*Client, error) {
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	c.setReadDeadline()
	welcome, err := readResponse(c.reader)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read welcome: %w", err)
	}
	c.Welcome = welcome
	return c, nil
}

func (c *Client) setReadDeadline() {
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
}

// Send sends one command and reads its reply.
func (c *Client) Send(command string, args ...string) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLine(command, args...); err != nil {
		return nil, err
	}
	return c.read()
}

// Expect sends a command and fails with a *ProtocolError unless the reply
// has the expected code.
func (c *Client) Expect(code int, command string, args ...string) (*Response, error) {
	resp, err := c.Send(command, args...)
	if err != nil {
		return nil, err
	}
	if resp.Code != code {
		return resp, &ProtocolError{
			Command:  command,
			Response: resp.Message,
			Code:     resp.Code,
		}
	}
	return resp, nil
}

// Write sends a command without waiting for its reply. Use ReadResponse
// to collect pipelined replies.
func (c *Client) Write(command string, args ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLine(command, args...)
}

// ReadResponse reads the next reply.
func (c *Client) ReadResponse() (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read()
}

func (c *Client) writeLine(command string, args ...string) error {
	line := command
	if len(args) > 0 {
		line = command + " " + strings.Join(args, " ")
	}
	if c.logger != nil {
		logged := line
		if strings.EqualFold(command, "PASS") {
			logged = "PASS ***"
		}
		c.logger.Debug("ftp command", "cmd", logged)
	}

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if _, err := io.WriteString(c.conn, line+"\r\n"); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

func (c *Client) read() (*Response, error) {
	c.setReadDeadline()
	resp, err := readResponse(c.reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if c.logger != nil {
		c.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	}
	return resp, nil
}

// Login authenticates with USER and PASS.
func (c *Client) Login(username, password string) error {
	resp, err := c.Send("USER", username)
	if err != nil {
		return err
	}

	// If we get 230, we're already logged in (no password required)
	if resp.Code == 230 {
		return nil
	}
	if resp.Code != 331 {
		return &ProtocolError{
			Command:  "USER",
			Response: resp.Message,
			Code:     resp.Code,
		}
	}

	_, err = c.Expect(230, "PASS", password)
	return err
}

// Quit sends QUIT and closes the connection.
func (c *Client) Quit() error {
	_, _ = c.Send("QUIT")
	return c.conn.Close()
}

// Close closes the connection without QUIT.
func (c *Client) Close() error {
	return c.conn.Close()
}

// readResponse reads a complete FTP response from the reader.
// It handles both single-line and multi-line responses.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"211-Features:\r\n"
//	" SIZE\r\n"
//	"211 End\r\n"
//
// The response is complete when a line starts with the code followed by a space.
func readResponse(r *bufio.Reader) (*Response, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}

	line = strings.TrimRight(line, "\r\n")
	code, sep, err := parseStatus(line)
	if err != nil {
		return nil, err
	}

	lines := []string{line}

	// Optimization for common single-line response
	if sep == ' ' {
		return &Response{
			Code:    code,
			Message: line[4:],
			Lines:   lines,
		}, nil
	}

	// Multi-line response must start with '-'
	if sep != '-' {
		return nil, fmt.Errorf("invalid response format: %q", line)
	}

	return readMultiLine(r, code, lines)
}

func parseStatus(line string) (int, byte, error) {
	if len(line) < 4 {
		return 0, 0, fmt.Errorf("invalid response line: %q", line)
	}
	code, err := strconv.Atoi(line[0:3])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid response code: %q", line[0:3])
	}
	return code, line[3], nil
}

func readMultiLine(r *bufio.Reader, code int, lines []string) (*Response, error) {
	codeStr := fmt.Sprintf("%03d", code)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("unexpected EOF reading response: %w", io.ErrUnexpectedEOF)
			}
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")

		// RFC 2389 continuation (starts with space)
		if len(line) > 0 && line[0] == ' ' {
			lines = append(lines, line)
			continue
		}

		if len(line) >= 4 && line[0:3] != codeStr && line[3] == ' ' {
			// A final reply of another command cut this response short.
			other, _, err := parseStatus(line)
			if err != nil {
				return nil, err
			}
			return &Response{
				Code:      other,
				Message:   line[4:],
				Lines:     append(lines, line),
				Truncated: true,
			}, nil
		}

		if len(line) < 4 || line[0:3] != codeStr {
			return nil, fmt.Errorf("response code mismatch or invalid line: %q", line)
		}

		lines = append(lines, line)

		if line[3] == ' ' {
			return &Response{
				Code:    code,
				Message: multiLineMessage(lines),
				Lines:   lines,
			}, nil
		}

		if line[3] != '-' {
			return nil, fmt.Errorf("invalid response format: %q", line)
		}
	}
}

func multiLineMessage(lines []string) string {
	var messageLines []string
	for _, l := range lines {
		if strings.HasPrefix(l, " ") {
			messageLines = append(messageLines, l[1:])
		} else if len(l) > 4 {
			messageLines = append(messageLines, l[4:])
		}
	}
	return strings.Join(messageLines, "\n")
}
