// Package bufseekio provides buffered io.ReadSeeker wrappers.
//
// Stream decoding seeks heavily while building seek tables and locating
// frames; wrapping the source in a ReadSeeker keeps most of those seeks
// within an in-memory window instead of hitting the underlying reader.
package bufseekio

import (
	"errors"
	"io"
)

const (
	defaultBufSize    = 4096
	minReadBufferSize = 16
)

var errNegativeRead = errors.New("bufseekio: reader returned negative count from Read")

// ReadSeeker implements buffering for an io.ReadSeeker object. It is based on
// bufio.Reader, with Seek support added and unneeded functionality removed.
type ReadSeeker struct {
	// Underlying read-seeker.
	rs io.ReadSeeker
	// Buffered window of the stream, with read and write cursors.
	buf  []byte
	r, w int
	// Absolute stream offset of buf[0]; the logical read position is
	// start + r.
	start int64
	// Pending error of the underlying reader, delivered once the buffered
	// data is drained.
	err error
}

// NewReadSeeker returns a new ReadSeeker whose buffer has the default size.
func NewReadSeeker(rs io.ReadSeeker) *ReadSeeker {
	return NewReadSeekerSize(rs, defaultBufSize)
}

// NewReadSeekerSize returns a new ReadSeeker whose buffer has at least the
// specified size. If rs is already a ReadSeeker with a large enough buffer,
// it is returned directly.
func NewReadSeekerSize(rs io.ReadSeeker, size int) *ReadSeeker {
	if b, ok := rs.(*ReadSeeker); ok && len(b.buf) >= size {
		return b
	}
	if size < minReadBufferSize {
		size = minReadBufferSize
	}
	return &ReadSeeker{
		rs:  rs,
		buf: make([]byte, size),
	}
}

// buffered returns the number of bytes that can be read from the buffered
// window.
func (b *ReadSeeker) buffered() int { return b.w - b.r }

// takeErr returns and clears the pending error.
func (b *ReadSeeker) takeErr() error {
	err := b.err
	b.err = nil
	return err
}

// Read reads data into p. The bytes are taken from at most one Read on the
// underlying reader, hence n may be less than len(p); use io.ReadFull to read
// exactly len(p) bytes.
func (b *ReadSeeker) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		if b.buffered() > 0 {
			return 0, nil
		}
		return 0, b.takeErr()
	}
	if b.r == b.w {
		if b.err != nil {
			return 0, b.takeErr()
		}
		if len(p) >= len(b.buf) {
			// Large read with an empty window; read directly into p. The
			// window contents no longer match the stream position, so
			// invalidate the window entirely.
			n, b.err = b.rs.Read(p)
			if n < 0 {
				panic(errNegativeRead)
			}
			b.start += int64(b.r) + int64(n)
			b.r, b.w = 0, 0
			if n > 0 {
				return n, nil
			}
			return 0, b.takeErr()
		}
		// Refill the window at the current logical position.
		b.start += int64(b.r)
		b.r, b.w = 0, 0
		n, b.err = b.rs.Read(b.buf)
		if n < 0 {
			panic(errNegativeRead)
		}
		if n == 0 {
			return 0, b.takeErr()
		}
		b.w = n
	}
	n = copy(p, b.buf[b.r:b.w])
	b.r += n
	return n, nil
}

// position returns the absolute logical read offset.
func (b *ReadSeeker) position() int64 {
	return b.start + int64(b.r)
}

// Seek implements io.Seeker. Position queries (offset 0, whence
// io.SeekCurrent) and seeks within the buffered window are served without
// touching the underlying seeker.
func (b *ReadSeeker) Seek(offset int64, whence int) (int64, error) {
	// Position queries are frequent during frame scanning; serve them from
	// the window bookkeeping.
	if offset == 0 && whence == io.SeekCurrent {
		return b.position(), nil
	}
	// The absolute position is unknown when seeking from the end; the window
	// cannot be reused.
	if whence == io.SeekEnd {
		return b.seek(offset, whence)
	}
	abs := offset
	if whence == io.SeekCurrent {
		abs += b.position()
	}
	if abs >= b.start && abs < b.start+int64(b.w) {
		b.r = int(abs - b.start)
		return abs, nil
	}
	return b.seek(abs, io.SeekStart)
}

// seek discards the buffered window and pending error, and delegates to the
// underlying seeker.
func (b *ReadSeeker) seek(offset int64, whence int) (int64, error) {
	b.r, b.w = 0, 0
	b.err = nil
	var err error
	b.start, err = b.rs.Seek(offset, whence)
	return b.start, err
}
