package server

import (
	"bufio"
	"io"
)

// Telnet protocol bytes that may appear on the control channel.
// FTP control connections inherit the Telnet framing (RFC 959 section 3.1),
// so interactive clients may interleave IAC negotiation sequences with
// commands. The server ignores all of them.
const (
	telnetIAC  = 0xFF // Interpret As Command
	telnetWILL = 0xFB
	telnetWONT = 0xFC
	telnetDO   = 0xFD
	telnetDONT = 0xFE
)

// telnetReader filters Telnet command sequences out of the control stream.
type telnetReader struct {
	r *bufio.Reader
}

func newTelnetReader(r io.Reader) *telnetReader {
	return &telnetReader{r: bufio.NewReader(r)}
}

// Read returns the payload bytes with IAC sequences removed. An escaped
// 0xFF (IAC IAC) is kept as a single literal byte. Once at least one byte
// has been produced, Read returns rather than blocking on the network.
func (t *telnetReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := 0
	for n < len(p) {
		if n > 0 && t.r.Buffered() == 0 {
			return n, nil
		}

		b, err := t.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		if b != telnetIAC {
			p[n] = b
			n++
			continue
		}

		cmd, err := t.r.ReadByte()
		if err != nil {
			return n, err
		}
		switch cmd {
		case telnetIAC:
			p[n] = telnetIAC
			n++
		case telnetWILL, telnetWONT, telnetDO, telnetDONT:
			// Three-byte sequence (IAC CMD OPT); swallow the option byte.
			if _, err := t.r.ReadByte(); err != nil {
				return n, err
			}
		default:
			// Two-byte command, already consumed.
		}
	}

	return n, nil
}
