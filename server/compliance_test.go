package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRFC1123Compliance checks the minimum implementation verbs.
func TestRFC1123Compliance(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, testFs(t), WithServerName("UNIX Type: L8 ftpcore"))
	c := dial(t, addr)

	tests := []struct {
		cmd  string
		code int
		msg  string
	}{
		{"SYST", 215, "UNIX Type: L8 ftpcore"},
		{"TYPE A", 200, "Type set to A."},
		{"TYPE A N", 200, "Type set to A."},
		{"TYPE I", 200, "Type set to I."},
		{"TYPE L 8", 200, "Type set to I."},
		{"TYPE E", 504, ""},
		{"TYPE", 501, ""},
		{"MODE S", 200, ""},
		{"MODE B", 504, ""},
		{"MODE C", 504, ""},
		{"STRU F", 200, ""},
		{"STRU R", 504, ""},
		{"STRU P", 504, ""},
		{"ACCT billing", 202, ""},
		{"NOOP", 200, "OK."},
		{"OPTS UTF8 ON", 200, "Always in UTF8 mode."},
		{"OPTS utf8", 200, "Always in UTF8 mode."},
		{"OPTS UTF8 OFF", 504, ""},
		{"OPTS MLST type;", 501, ""},
	}

	for _, tt := range tests {
		resp := send(t, c, tt.cmd)
		assert.Equal(t, tt.code, resp.Code, tt.cmd)
		if tt.msg != "" {
			assert.Equal(t, tt.msg, resp.Message, tt.cmd)
		}
	}
}

func TestTypeShownInStatus(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, testFs(t))
	c := dial(t, addr)

	status := send(t, c, "STAT")
	assert.Contains(t, status.Body(), "TYPE: BINARY; STRUcture: File; transfer MODE: Stream")
	assert.Contains(t, status.Body(), "Not logged in")

	send(t, c, "TYPE A")
	status = send(t, c, "STAT")
	assert.Contains(t, status.Body(), "TYPE: ASCII; STRUcture: File; transfer MODE: Stream")
}
