package server

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelnetReaderPassthrough(t *testing.T) {
	r := newTelnetReader(bytes.NewReader([]byte("USER kodi\r\n")))
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "USER kodi\r\n", string(got))
}

func TestTelnetReaderStripsNegotiation(t *testing.T) {
	// IAC DO option, then IAC WILL option, interleaved with a command.
	in := []byte{telnetIAC, telnetDO, 0x01, 'N', 'O', 'O', 'P', telnetIAC, telnetWILL, 0x18, '\r', '\n'}
	r := newTelnetReader(bytes.NewReader(in))

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "NOOP\r\n", string(got))
}

func TestTelnetReaderStripsTwoByteCommands(t *testing.T) {
	// IAC IP (interrupt process, 0xF4) is a two-byte sequence.
	in := []byte{telnetIAC, 0xF4, 'A', 'B', 'O', 'R', '\r', '\n'}
	r := newTelnetReader(bytes.NewReader(in))

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "ABOR\r\n", string(got))
}

func TestTelnetReaderEscapedIAC(t *testing.T) {
	// IAC IAC is a literal 0xFF data byte.
	in := []byte{'a', telnetIAC, telnetIAC, 'b'}
	r := newTelnetReader(bytes.NewReader(in))

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 0xFF, 'b'}, got)
}

func TestTelnetReaderTruncatedSequence(t *testing.T) {
	// A dangling IAC at EOF surfaces the underlying error.
	r := newTelnetReader(bytes.NewReader([]byte{'x', telnetIAC}))

	buf := make([]byte, 8)
	n, _ := r.Read(buf)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte('x'), buf[0])

	_, err := r.Read(buf)
	assert.Error(t, err)
}
