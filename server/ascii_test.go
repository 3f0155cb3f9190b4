package server

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRLFReader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare LF", "line1\nline2\n", "line1\r\nline2\r\n"},
		{"existing CRLF untouched", "line1\r\nline2\r\n", "line1\r\nline2\r\n"},
		{"mixed", "a\nb\r\nc\n", "a\r\nb\r\nc\r\n"},
		{"lone CR kept", "a\rb", "a\rb"},
		{"no newline", "plain", "plain"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newCRLFReader(strings.NewReader(tt.in)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCRLFReaderSmallBuffer(t *testing.T) {
	// A CRLF pair split across Read calls must not lose the LF.
	r := newCRLFReader(strings.NewReader("a\nb"))
	buf := make([]byte, 2)

	var out []byte
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, "a\r\nb", string(out))
}

func TestLFReader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"CRLF collapsed", "line1\r\nline2\r\n", "line1\nline2\n"},
		{"bare LF untouched", "line1\nline2\n", "line1\nline2\n"},
		{"lone CR kept", "a\rb", "a\rb"},
		{"trailing CR kept", "abc\r", "abc\r"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newLFReader(strings.NewReader(tt.in)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
