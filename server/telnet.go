package server

import (
	"bufio"
	"io"
)

const (
	// telnetIAC is Interpret As Command
	telnetIAC = 0xFF
	// telnetWILL negotiation command
	telnetWILL = 0xFB
	// telnetWONT negotiation command
	telnetWONT = 0xFC
	// telnetDO negotiation command
	telnetDO = 0xFD
	// telnetDONT negotiation command
	telnetDONT = 0xFE
	// telnetIP is Interrupt Process, sent by some clients ahead of ABOR.
	telnetIP = 0xF4
	// telnetDM is Data Mark, the synch signal that follows IP.
	telnetDM = 0xF2
)

// telnetReader strips Telnet command sequences from the control stream and
// returns the command bytes one at a time.
type telnetReader struct {
	r *bufio.Reader

	// onInterrupt is called when the client sends IAC IP.
	onInterrupt func()
}

func newTelnetReader(r io.Reader) *telnetReader {
	return &telnetReader{r: bufio.NewReader(r)}
}

// ReadByte returns the next data byte. Negotiations (IAC WILL/WONT/DO/DONT x)
// and two-byte commands are skipped; IAC IAC yields a literal 0xFF.
func (t *telnetReader) ReadByte() (byte, error) {
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != telnetIAC {
			return b, nil
		}

		cmd, err := t.r.ReadByte()
		if err != nil {
			return 0, err
		}

		switch cmd {
		case telnetIAC:
			return telnetIAC, nil
		case telnetWILL, telnetWONT, telnetDO, telnetDONT:
			if _, err := t.r.ReadByte(); err != nil {
				return 0, err
			}
		case telnetIP:
			if t.onInterrupt != nil {
				t.onInterrupt()
			}
		case telnetDM:
			// Synch mark after IP; the interrupt already ran.
		}
	}
}

// ReadLine reads one control line without its terminator. Lines longer than
// max are consumed up to the newline and reported as ErrCommandTooLong.
func (t *telnetReader) ReadLine(max int) (string, error) {
	var line []byte
	tooLong := false
	for {
		b, err := t.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) > 0 && !tooLong {
				return string(line), nil
			}
			return "", err
		}
		if b == '\n' {
			if tooLong {
				return "", ErrCommandTooLong
			}
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			return string(line), nil
		}
		if tooLong {
			continue
		}
		if len(line) >= max {
			tooLong = true
			line = nil
			continue
		}
		line = append(line, b)
	}
}
