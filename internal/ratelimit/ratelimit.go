// Package ratelimit provides a token bucket limiter for throttling FTP data
// transfers. A Limiter can be shared across sessions (global cap) or owned by
// a single transfer stream (per-session cap).
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// Limiter is a token bucket limiter measured in bytes per second. The bucket
// capacity is one second worth of data, so short bursts pass through while
// the average rate holds. A nil *Limiter is valid and means unlimited.
type Limiter struct {
	rate       float64 // bytes per second
	burst      float64
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// New creates a limiter for the given rate. A rate of zero or less returns
// nil, which all consumers treat as unlimited.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	rate := float64(bytesPerSecond)
	return &Limiter{
		rate:       rate,
		burst:      rate,
		tokens:     rate, // start full
		lastUpdate: time.Now(),
	}
}

// take consumes n tokens, sleeping when the bucket is short. The sleep is
// capped at one second so a huge request cannot stall a transfer
// indefinitely; the shortfall is absorbed by draining the bucket.
func (rl *Limiter) take(n int) {
	if rl == nil || n <= 0 {
		return
	}

	needed := float64(n)

	rl.mu.Lock()
	rl.refill()
	if rl.tokens >= needed {
		rl.tokens -= needed
		rl.mu.Unlock()
		return
	}

	short := needed - rl.tokens
	wait := time.Duration(short / rl.rate * float64(time.Second))
	if wait > time.Second {
		wait = time.Second
	}
	rl.mu.Unlock()

	time.Sleep(wait)

	rl.mu.Lock()
	rl.refill()
	if rl.tokens >= needed {
		rl.tokens -= needed
	} else {
		rl.tokens = 0
	}
	rl.mu.Unlock()
}

// refill credits tokens for the time elapsed since the last update.
// Callers must hold rl.mu.
func (rl *Limiter) refill() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastUpdate).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastUpdate = now
}

type reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader wraps r so reads consume limiter tokens. A nil limiter returns
// r unchanged.
func NewReader(r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{r: r, limiter: limiter}
}

func (r *reader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	// Small chunks keep the observed rate close to the configured one.
	const maxChunkSize = 8 * 1024
	readSize := len(p)
	if readSize > maxChunkSize {
		readSize = maxChunkSize
	}

	r.limiter.take(readSize)
	return r.r.Read(p[:readSize])
}

type writer struct {
	w       io.Writer
	limiter *Limiter
}

// NewWriter wraps w so writes consume limiter tokens before hitting the
// underlying writer, applying backpressure. A nil limiter returns w
// unchanged.
func NewWriter(w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{w: w, limiter: limiter}
}

func (w *writer) Write(p []byte) (n int, err error) {
	const maxChunkSize = 64 * 1024

	total := 0
	for total < len(p) {
		chunk := len(p) - total
		if chunk > maxChunkSize {
			chunk = maxChunkSize
		}

		w.limiter.take(chunk)

		written, err := w.w.Write(p[total : total+chunk])
		total += written
		if err != nil {
			return total, err
		}
	}

	return total, nil
}
