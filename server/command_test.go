package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"NOOP", Command{Name: "NOOP"}},
		{"cwd /pub\r\n", Command{Name: "CWD", Argument: "/pub"}},
		{"STOR my file.txt", Command{Name: "STOR", Argument: "my file.txt"}},
		{"TYPE A N", Command{Name: "TYPE", Argument: "A N"}},
		{"USER ", Command{Name: "USER"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseCommand(" \r\n")
	assert.Error(t, err)
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "NOOP", Command{Name: "NOOP"}.String())
	assert.Equal(t, "CWD /pub", Command{Name: "CWD", Argument: "/pub"}.String())
	assert.Equal(t, "PASS ***", Command{Name: "PASS", Argument: "hunter2"}.String())
}
