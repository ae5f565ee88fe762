package bufseekio

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

func sequence(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func TestNewReadSeekerSize(t *testing.T) {
	buf := bytes.NewReader(sequence(100))

	// Custom buffer size.
	if rs := NewReadSeekerSize(buf, 20); len(rs.buf) != 20 {
		t.Fatalf("buffer size mismatch; expected 20, got %d", len(rs.buf))
	}
	// Too small buffer size.
	if rs := NewReadSeekerSize(buf, 1); len(rs.buf) != minReadBufferSize {
		t.Fatalf("buffer size mismatch; expected %d, got %d", minReadBufferSize, len(rs.buf))
	}
	// An existing ReadSeeker with a large enough buffer is reused.
	rs := NewReadSeekerSize(buf, 20)
	if rs2 := NewReadSeekerSize(rs, 5); rs != rs2 {
		t.Fatal("expected ReadSeeker to be reused, got a new ReadSeeker")
	}
	// Default buffer size.
	if rs := NewReadSeeker(buf); len(rs.buf) != defaultBufSize {
		t.Fatalf("buffer size mismatch; expected %d, got %d", defaultBufSize, len(rs.buf))
	}
}

// expectRead reads len(want) bytes and verifies the contents and the logical
// position afterwards.
func expectRead(t *testing.T, rs *ReadSeeker, want []byte, wantPos int64) {
	t.Helper()
	got := make([]byte, len(want))
	n, err := rs.Read(got)
	if err != nil {
		t.Fatalf("read failed; %v", err)
	}
	if !reflect.DeepEqual(got[:n], want[:n]) {
		t.Fatalf("read mismatch; expected %v, got %v", want[:n], got[:n])
	}
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		t.Fatalf("position query failed; %v", err)
	}
	if pos != wantPos {
		t.Fatalf("position mismatch; expected %d, got %d", wantPos, pos)
	}
}

func TestRead(t *testing.T) {
	rs := NewReadSeekerSize(bytes.NewReader(sequence(100)), 20)

	// Small read served from the window.
	expectRead(t, rs, []byte{0, 1, 2, 3, 4}, 5)

	// Read continuing within the window.
	expectRead(t, rs, []byte{5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, 15)

	// Large read bypassing the window; a single Read delivers at most the
	// remaining window first.
	got := make([]byte, 25)
	n, err := rs.Read(got)
	if err != nil || n != 5 {
		t.Fatalf("expected the remaining 5 window bytes, got %d (%v)", n, err)
	}
	n, err = rs.Read(got)
	if err != nil || n != 25 {
		t.Fatalf("expected a 25 byte direct read, got %d (%v)", n, err)
	}
	if !reflect.DeepEqual(got, sequence(45)[20:]) {
		t.Fatalf("direct read mismatch; got %v", got)
	}
	if pos, _ := rs.Seek(0, io.SeekCurrent); pos != 45 {
		t.Fatalf("position mismatch; expected 45, got %d", pos)
	}

	// EOF.
	if _, err := rs.Seek(98, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	expectRead(t, rs, []byte{98, 99}, 100)
	if n, err := rs.Read(got); err != io.EOF || n != 0 {
		t.Fatalf("expected io.EOF at end of stream, got %d (%v)", n, err)
	}
}

func TestSeekWithinWindow(t *testing.T) {
	src := &seekRecorder{rs: bytes.NewReader(sequence(100))}
	rs := NewReadSeekerSize(src, 20)

	if _, err := rs.Seek(10, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	src.expect(t, 1)
	expectRead(t, rs, []byte{10, 11, 12, 13, 14}, 15)

	// Forward and backward seeks within the buffered window require no seek
	// of the underlying reader.
	if pos, err := rs.Seek(5, io.SeekCurrent); err != nil || pos != 20 {
		t.Fatalf("seek mismatch; expected 20, got %d (%v)", pos, err)
	}
	expectRead(t, rs, []byte{20, 21, 22, 23, 24}, 25)
	if pos, err := rs.Seek(-10, io.SeekCurrent); err != nil || pos != 15 {
		t.Fatalf("seek mismatch; expected 15, got %d (%v)", pos, err)
	}
	expectRead(t, rs, []byte{15, 16, 17, 18, 19}, 20)
	src.expect(t, 0)

	// Seeking outside the window delegates.
	if pos, err := rs.Seek(30, io.SeekCurrent); err != nil || pos != 50 {
		t.Fatalf("seek mismatch; expected 50, got %d (%v)", pos, err)
	}
	src.expect(t, 1)
	expectRead(t, rs, []byte{50, 51, 52, 53, 54}, 55)

	// Seeking from the end always delegates.
	if pos, err := rs.Seek(-45, io.SeekEnd); err != nil || pos != 55 {
		t.Fatalf("seek mismatch; expected 55, got %d (%v)", pos, err)
	}
	src.expect(t, 1)
	expectRead(t, rs, []byte{55, 56, 57, 58, 59}, 60)
}

func TestReadError(t *testing.T) {
	// A source returning bytes and an error from the same call delivers the
	// bytes first; the error surfaces on the next read.
	rs := NewReadSeekerSize(&readAndError{data: []byte{2, 3, 5}}, 20)
	got := make([]byte, 5)
	if n, err := rs.Read(got); err != nil || n != 3 {
		t.Fatalf("expected 3 bytes, got %d (%v)", n, err)
	}
	if n, err := rs.Read(got); err != errExpected || n != 0 {
		t.Fatalf("expected pending error, got %d (%v)", n, err)
	}
	// The pending error is delivered once.
	if n, err := rs.Read(nil); err != nil || n != 0 {
		t.Fatalf("expected cleared error, got %d (%v)", n, err)
	}
}

var errExpected = errors.New("expected error")

type readAndError struct {
	data []byte
}

func (r *readAndError) Read(p []byte) (n int, err error) {
	n = copy(p, r.data)
	return n, errExpected
}

func (r *readAndError) Seek(offset int64, whence int) (int64, error) {
	panic("not implemented")
}

type seekRecorder struct {
	rs     io.ReadSeeker
	nseeks int
}

func (r *seekRecorder) Read(p []byte) (n int, err error) {
	return r.rs.Read(p)
}

func (r *seekRecorder) Seek(offset int64, whence int) (int64, error) {
	r.nseeks++
	return r.rs.Seek(offset, whence)
}

// expect verifies the number of seeks delegated to the underlying reader
// since the last call.
func (r *seekRecorder) expect(t *testing.T, want int) {
	t.Helper()
	if r.nseeks != want {
		t.Fatalf("underlying seek count mismatch; expected %d, got %d", want, r.nseeks)
	}
	r.nseeks = 0
}
