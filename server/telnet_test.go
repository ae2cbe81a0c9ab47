package server

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelnetReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []byte
	}{
		{
			name:     "Normal command",
			input:    []byte("USER anonymous\r\n"),
			expected: []byte("USER anonymous\r\n"),
		},
		{
			name:     "IAC WILL",
			input:    []byte{telnetIAC, telnetWILL, 0x01, 'A', 'B', 'C'},
			expected: []byte("ABC"),
		},
		{
			name:     "IAC WONT",
			input:    []byte{telnetIAC, telnetWONT, 0x02, 'D', 'E', 'F'},
			expected: []byte("DEF"),
		},
		{
			name:     "IAC DO",
			input:    []byte{telnetIAC, telnetDO, 0x03, 'G', 'H', 'I'},
			expected: []byte("GHI"),
		},
		{
			name:     "IAC DONT",
			input:    []byte{telnetIAC, telnetDONT, 0x04, 'J', 'K', 'L'},
			expected: []byte("JKL"),
		},
		{
			name:     "IAC Escaping",
			input:    []byte{'X', telnetIAC, telnetIAC, 'Y'}, // 0xFF 0xFF -> 0xFF
			expected: []byte{'X', telnetIAC, 'Y'},
		},
		{
			name:     "Mixed sequence",
			input:    []byte{telnetIAC, telnetDO, 0x01, 'U', 'S', 'E', 'R', ' ', telnetIAC, telnetIAC, '\r', '\n'},
			expected: []byte("USER \xff\r\n"),
		},
		{
			name:     "Split negotiation",
			input:    []byte{telnetIAC, telnetDO, 0x01, 'O', 'K'},
			expected: []byte("OK"),
		},
		{
			name:     "Interrupt and data mark",
			input:    []byte{telnetIAC, telnetIP, telnetIAC, telnetDM, 'A'},
			expected: []byte("A"),
		},
		{
			name:     "Unknown command (2 byte)",
			input:    []byte{telnetIAC, 0xF0, 'A'}, // 0xF0 is not WILL/WONT/DO/DONT
			expected: []byte("A"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTelnetReader(bytes.NewReader(tt.input))
			var got []byte
			for {
				b, err := r.ReadByte()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				got = append(got, b)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestTelnetReader_ReadLine(t *testing.T) {
	r := newTelnetReader(strings.NewReader("USER bob\r\nNOOP\n" + strings.Repeat("x", 20) + "\r\nPWD\r\nQUIT"))

	line, err := r.ReadLine(16)
	require.NoError(t, err)
	assert.Equal(t, "USER bob", line)

	line, err = r.ReadLine(16)
	require.NoError(t, err)
	assert.Equal(t, "NOOP", line)

	_, err = r.ReadLine(16)
	assert.ErrorIs(t, err, ErrCommandTooLong)

	// The over-long line was consumed up to its newline.
	line, err = r.ReadLine(16)
	require.NoError(t, err)
	assert.Equal(t, "PWD", line)

	// A final line without terminator is still returned.
	line, err = r.ReadLine(16)
	require.NoError(t, err)
	assert.Equal(t, "QUIT", line)

	_, err = r.ReadLine(16)
	assert.ErrorIs(t, err, io.EOF)
}

func TestTelnetReader_InterruptProcess(t *testing.T) {
	input := []byte{telnetIAC, telnetIP, telnetIAC, telnetDM}
	input = append(input, "ABOR\r\n"...)

	r := newTelnetReader(bytes.NewReader(input))
	interrupts := 0
	r.onInterrupt = func() { interrupts++ }

	line, err := r.ReadLine(MaxCommandLength)
	require.NoError(t, err)
	assert.Equal(t, "ABOR", line)
	assert.Equal(t, 1, interrupts)
}

func TestTelnetReader_TruncatedSequence(t *testing.T) {
	r := newTelnetReader(bytes.NewReader([]byte{telnetIAC, telnetDO}))
	_, err := r.ReadLine(MaxCommandLength)
	assert.ErrorIs(t, err, io.EOF)
}
