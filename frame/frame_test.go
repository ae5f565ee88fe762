package frame_test

import (
	"bytes"
	"crypto/md5"
	"testing"

	"github.com/karlek/flac/frame"
)

func TestChannelsCount(t *testing.T) {
	golden := []struct {
		channels frame.Channels
		want     int
	}{
		{channels: frame.ChannelsMono, want: 1},
		{channels: frame.ChannelsLR, want: 2},
		{channels: frame.ChannelsLRCLfeLsRsSlSr, want: 8},
		{channels: frame.ChannelsLeftSide, want: 2},
		{channels: frame.ChannelsSideRight, want: 2},
		{channels: frame.ChannelsMidSide, want: 2},
	}
	for _, g := range golden {
		if got := g.channels.Count(); got != g.want {
			t.Errorf("channel count mismatch for %v; expected %d, got %d", g.channels, g.want, got)
		}
	}
}

func TestSampleNumber(t *testing.T) {
	f := &frame.Frame{Header: frame.Header{HasFixedBlockSize: true, BlockSize: 4096, Num: 3}}
	if got, want := f.SampleNumber(), uint64(3*4096); got != want {
		t.Errorf("sample number mismatch; expected %d, got %d", want, got)
	}
	f = &frame.Frame{Header: frame.Header{HasFixedBlockSize: false, Num: 12345}}
	if got, want := f.SampleNumber(), uint64(12345); got != want {
		t.Errorf("sample number mismatch; expected %d, got %d", want, got)
	}
}

func TestHash(t *testing.T) {
	// The hash covers the interleaved little-endian byte serialisation of
	// the samples, at bits-per-sample/8 bytes each.
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     3,
			BitsPerSample: 16,
			Channels:      frame.ChannelsLR,
		},
		Subframes: []*frame.Subframe{
			{Samples: []int32{0x0102, -2, 0x7FFF}},
			{Samples: []int32{-0x8000, 0, 1}},
		},
	}
	got := md5.New()
	f.Hash(got)

	want := md5.New()
	want.Write([]byte{
		0x02, 0x01, // left[0]
		0x00, 0x80, // right[0]
		0xFE, 0xFF, // left[1]
		0x00, 0x00, // right[1]
		0xFF, 0x7F, // left[2]
		0x01, 0x00, // right[2]
	})
	if !bytes.Equal(got.Sum(nil), want.Sum(nil)) {
		t.Errorf("hash mismatch; expected %x, got %x", want.Sum(nil), got.Sum(nil))
	}
}
