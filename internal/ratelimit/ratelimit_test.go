package ratelimit

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	assert.Nil(t, New(0), "zero rate means unlimited")
	assert.Nil(t, New(-1), "negative rate means unlimited")
	assert.NotNil(t, New(1024))
}

func TestNilLimiterPassthrough(t *testing.T) {
	r := strings.NewReader("hello")
	assert.Equal(t, io.Reader(r), NewReader(r, nil))

	var buf bytes.Buffer
	assert.Equal(t, io.Writer(&buf), NewWriter(&buf, nil))
}

func TestTakeWithinBurst(t *testing.T) {
	rl := New(1024 * 1024)

	// A full bucket absorbs up to one second of data without sleeping.
	start := time.Now()
	rl.take(512 * 1024)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestReaderThrottles(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 32*1024)

	// 16 KiB/s with a 16 KiB burst: reading 32 KiB needs about a second
	// of refill beyond the initial bucket.
	r := NewReader(bytes.NewReader(data), New(16*1024))

	start := time.Now()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Len(t, got, len(data))

	assert.Greater(t, time.Since(start), 500*time.Millisecond)
}

func TestWriterThrottles(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 32*1024)

	var buf bytes.Buffer
	w := NewWriter(&buf, New(16*1024))

	start := time.Now()
	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	assert.Greater(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, data, buf.Bytes())
}

func TestWriterPropagatesError(t *testing.T) {
	w := NewWriter(&failingWriter{}, New(1024*1024))

	n, err := w.Write([]byte("data"))
	assert.Error(t, err)
	assert.Zero(t, n)
}

type failingWriter struct{}

func (f *failingWriter) Write(p []byte) (int, error) {
	return 0, io.ErrClosedPipe
}
