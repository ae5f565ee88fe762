package utf8_test

import (
	"bytes"
	"testing"

	"github.com/icza/bitio"

	"github.com/karlek/flac/internal/bits"
	"github.com/karlek/flac/internal/utf8"
)

func TestRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 0x7F,
		0x80, 0x7FF,
		0x800, 0xFFFF,
		0x10000, 0x1FFFFF,
		0x200000, 0x3FFFFFF,
		0x4000000, 0x7FFFFFFF,
		0x80000000, 1<<36 - 1,
	}
	for _, want := range values {
		buf := new(bytes.Buffer)
		bw := bitio.NewWriter(buf)
		if err := utf8.Encode(bw, want); err != nil {
			t.Fatalf("error encoding %d; %v", want, err)
		}
		if err := bw.Close(); err != nil {
			t.Fatal(err)
		}
		got, err := utf8.Decode(bits.NewReader(buf))
		if err != nil {
			t.Fatalf("error decoding %d; %v", want, err)
		}
		if got != want {
			t.Errorf("round trip mismatch; expected %d, got %d", want, got)
		}
	}
}

func TestEncodeTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)
	bw := bitio.NewWriter(buf)
	if err := utf8.Encode(bw, 1<<36); err != utf8.ErrInvalid {
		t.Errorf("error mismatch; expected %v, got %v", utf8.ErrInvalid, err)
	}
}

func TestDecodeInvalid(t *testing.T) {
	// 10xxxxxx is never a valid leading byte.
	br := bits.NewReader(bytes.NewReader([]byte{0x80}))
	if _, err := utf8.Decode(br); err != utf8.ErrInvalid {
		t.Errorf("error mismatch; expected %v, got %v", utf8.ErrInvalid, err)
	}
}
