// Package frame implements access to FLAC audio frames.
//
// A brief introduction of the FLAC audio frame format [1] follows. Each frame
// contains a header, one subframe per channel, zero-padding to byte
// alignment, and a CRC-16 footer. The header starts with a sync code and
// describes the block size, sample rate, channel assignment and sample size
// of the frame, either explicitly or by reference to the StreamInfo metadata
// block. Each subframe encodes the samples of one channel under one of four
// prediction methods.
//
//	[1]: https://www.xiph.org/flac/format.html#frame
package frame

import (
	"fmt"
	"hash"
	"io"

	"github.com/karlek/flac/internal/bits"
	"github.com/karlek/flac/meta"
)

// A Frame contains the header and subframes of an audio frame. It holds one
// subframe per channel, each of the same length.
//
// ref: https://www.xiph.org/flac/format.html#frame
type Frame struct {
	// Audio frame header.
	Header
	// One subframe per channel, decorrelated into the regular left/right
	// channels after Parse.
	Subframes []*Subframe
	// StreamInfo of the enclosing stream; used to resolve sample rate and
	// bits-per-sample of frame headers which inherit them. May be nil for
	// streams whose frames are self-contained.
	info *meta.StreamInfo
	// Underlying bit reader.
	br *bits.Reader
}

// New creates a new Frame for accessing the audio samples of br. It reads and
// parses the audio frame header, verifying its CRC-8, but it does not parse
// the audio samples. The StreamInfo provides the sample rate and sample size
// of frame headers which inherit them; it may be nil.
//
// Call Frame.Parse to parse the audio samples of its subframes.
func New(br *bits.Reader, info *meta.StreamInfo) (frame *Frame, err error) {
	frame = &Frame{br: br, info: info}
	if err = frame.parseHeader(); err != nil {
		return frame, err
	}
	return frame, nil
}

// Parse reads and parses the header and subframes of an audio frame,
// verifying its CRC-8 and CRC-16. The inter-channel decorrelation of the
// chosen channel assignment is inverted, so that Subframes holds the regular
// left/right samples.
func Parse(br *bits.Reader, info *meta.StreamInfo) (frame *Frame, err error) {
	frame, err = New(br, info)
	if err != nil {
		return frame, err
	}
	if err = frame.Parse(); err != nil {
		return frame, err
	}
	return frame, nil
}

// Parse reads and parses the audio samples of the subframes of the frame, and
// verifies the CRC-16 of the frame.
func (frame *Frame) Parse() error {
	frame.Subframes = make([]*Subframe, frame.Channels.Count())
	for channel := range frame.Subframes {
		// The side channel of side-coded stereo uses one extra bit per sample
		// to cover the dynamic range of the difference of two channels.
		bps := uint(frame.BitsPerSample)
		switch frame.Channels {
		case ChannelsSideRight:
			// channel 0 is the side channel.
			if channel == 0 {
				bps++
			}
		case ChannelsLeftSide, ChannelsMidSide:
			// channel 1 is the side channel.
			if channel == 1 {
				bps++
			}
		}
		subframe, err := frame.parseSubframe(bps)
		if err != nil {
			return err
		}
		frame.Subframes[channel] = subframe
	}

	// Zero-padding to byte alignment.
	if n := frame.br.Pending(); n > 0 {
		x, err := frame.br.Read(n)
		if err != nil {
			return unexpected(err)
		}
		if x != 0 {
			return fmt.Errorf("frame.Frame.Parse: invalid zero-padding to byte alignment (%0*b)", n, x)
		}
	}

	// 16 bits: CRC-16 of the frame bytes, from the sync code up to and
	// including the zero-padding.
	got := frame.br.CRC16()
	want, err := frame.br.Read(16)
	if err != nil {
		return unexpected(err)
	}
	if uint16(want) != got {
		return fmt.Errorf("frame.Frame.Parse: %w; expected 0x%04X, got 0x%04X", ErrInvalidCRC16, want, got)
	}

	frame.decorrelate()
	return nil
}

// decorrelate inverts the inter-channel decorrelation of the chosen channel
// assignment, so that each subframe holds the regular samples of its channel.
func (frame *Frame) decorrelate() {
	if len(frame.Subframes) != 2 {
		return
	}
	a := frame.Subframes[0].Samples
	b := frame.Subframes[1].Samples
	switch frame.Channels {
	case ChannelsLeftSide:
		// channel 0: left, channel 1: side.
		//    right = left - side
		for i := range a {
			b[i] = a[i] - b[i]
		}
	case ChannelsSideRight:
		// channel 0: side, channel 1: right.
		//    left = side + right
		for i := range a {
			a[i] += b[i]
		}
	case ChannelsMidSide:
		// channel 0: mid, channel 1: side. The low bit of left+right is
		// packed into the side channel, so the reconstruction is exact.
		//    mid   = (left + right) >> 1
		//    side  = left - right
		for i := range a {
			m := int64(a[i])<<1 | int64(b[i])&1
			s := int64(b[i])
			a[i] = int32((m + s) >> 1)
			b[i] = int32((m - s) >> 1)
		}
	}
}

// Hash adds the decoded audio samples of the frame to a running hash. The
// hash is computed over the little-endian byte serialisation of the
// interleaved samples, each sample occupying bits-per-sample/8 bytes; this
// matches the MD5 checksum stored in the StreamInfo metadata block.
//
// Sample sizes which are not a multiple of 8 bits have no defined byte
// serialisation and are ignored.
func (frame *Frame) Hash(md5sum hash.Hash) {
	var buf [4]byte
	nbytes := int(frame.BitsPerSample / 8)
	if frame.BitsPerSample%8 != 0 || nbytes == 0 {
		return
	}
	for i := 0; i < int(frame.BlockSize); i++ {
		for _, subframe := range frame.Subframes {
			sample := subframe.Samples[i]
			for j := 0; j < nbytes; j++ {
				buf[j] = byte(sample >> (8 * j))
			}
			md5sum.Write(buf[:nbytes])
		}
	}
}

// unexpected maps io.EOF to io.ErrUnexpectedEOF; a frame never ends
// gracefully mid-field.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
