package server

import (
	"bufio"
	"io"
)

// ASCII transfer mode (TYPE A) requires line endings on the wire to be CRLF
// regardless of how the underlying file stores them. crlfReader converts the
// file representation to the wire representation for downloads, lfReader
// converts the wire representation back for uploads.

// crlfReader inserts a CR before every bare LF read from the source.
// LFs already preceded by a CR pass through unchanged, so files that are
// CRLF on disk are not doubled.
type crlfReader struct {
	r       *bufio.Reader
	lastCR  bool
	pending bool // a '\n' still owed to the caller after emitting '\r'
}

func newCRLFReader(r io.Reader) *crlfReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &crlfReader{r: br}
}

func (cr *crlfReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if cr.pending {
			p[n] = '\n'
			n++
			cr.pending = false
			continue
		}

		b, err := cr.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		if b == '\n' && !cr.lastCR {
			p[n] = '\r'
			n++
			if n < len(p) {
				p[n] = '\n'
				n++
			} else {
				cr.pending = true
			}
			cr.lastCR = false
			continue
		}

		cr.lastCR = b == '\r'
		p[n] = b
		n++
	}
	return n, nil
}

// lfReader collapses CRLF pairs read from the data connection into LF.
// A CR not followed by LF is kept as-is. Once at least one byte has been
// produced, Read returns rather than blocking on the network.
type lfReader struct {
	r *bufio.Reader
}

func newLFReader(r io.Reader) *lfReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &lfReader{r: br}
}

func (lr *lfReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if n > 0 && lr.r.Buffered() == 0 {
			return n, nil
		}

		b, err := lr.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		if b == '\r' {
			next, err := lr.r.Peek(1)
			if err == nil && next[0] == '\n' {
				// Drop the CR; the LF is copied on the next iteration.
				continue
			}
			if err != nil && n > 0 {
				// Can't tell yet whether this CR starts a CRLF; hand back
				// what we have and decide on the next call.
				_ = lr.r.UnreadByte()
				return n, nil
			}
		}

		p[n] = b
		n++
	}
	return n, nil
}
