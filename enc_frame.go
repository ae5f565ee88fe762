package flac

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"

	"github.com/karlek/flac/frame"
	"github.com/karlek/flac/internal/hashutil/crc16"
	"github.com/karlek/flac/internal/hashutil/crc8"
	"github.com/karlek/flac/internal/utf8"
)

// countWriter counts the bytes written through it.
type countWriter struct {
	w io.Writer
	n int64
}

func (cw *countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// encodeFrame encodes the given block of audio samples, one slice per
// channel, as a single audio frame of the output stream. The prediction
// strategies and stereo decorrelation modes of the configured search space
// are explored, and the smallest representation is written.
func (enc *Encoder) encodeFrame(samples [][]int32) error {
	channels, plans, err := enc.analyseBlock(samples)
	if err != nil {
		return err
	}
	hdr := frame.Header{
		HasFixedBlockSize: !enc.opts.VariableBlockSize,
		BlockSize:         uint16(len(samples[0])),
		SampleRate:        enc.Info.SampleRate,
		Channels:          channels,
		BitsPerSample:     enc.Info.BitsPerSample,
		Num:               enc.curNum,
	}
	if hdr.HasFixedBlockSize {
		enc.curNum++
	} else {
		enc.curNum += uint64(hdr.BlockSize)
	}
	return enc.writeFrame(hdr, plans)
}

// WriteFrame encodes the given pre-assembled audio frame to the output
// stream, honouring the prediction method, order and wasted bits of each
// subframe. Rice partition layouts are reused when populated (as they are on
// parsed frames), and chosen anew otherwise. The frame number of the header
// is assigned by the encoder.
//
// Most callers are better served by Write, which explores the prediction
// strategies and stereo modes itself.
func (enc *Encoder) WriteFrame(f *frame.Frame) error {
	if enc.closed {
		return errors.New("flac.Encoder.WriteFrame: encoder is closed")
	}
	hdr := f.Header
	hdr.Num = enc.curNum
	if hdr.HasFixedBlockSize {
		enc.curNum++
	} else {
		enc.curNum += uint64(hdr.BlockSize)
	}

	if !enc.opts.NoMD5 {
		enc.hashFrame(f)
	}

	plans := make([]*subframePlan, len(f.Subframes))
	for i, subframe := range f.Subframes {
		bps := sideBPS(hdr.Channels, i, hdr.BitsPerSample)
		plan, err := enc.planSubframe(subframe, bps)
		if err != nil {
			return err
		}
		plans[i] = plan
	}
	if err := enc.writeFrame(hdr, plans); err != nil {
		return err
	}

	info := enc.Info
	if info.BlockSizeMin == 0 || hdr.BlockSize < info.BlockSizeMin {
		info.BlockSizeMin = hdr.BlockSize
	}
	if hdr.BlockSize > info.BlockSizeMax {
		info.BlockSizeMax = hdr.BlockSize
	}
	info.NSamples += uint64(hdr.BlockSize)
	enc.sawFrame = true
	return nil
}

// hashFrame adds the audio samples of the frame to the MD5 running hash,
// inverting the inter-channel decorrelation of side-coded channel
// assignments first, as the checksum covers the original audio.
func (enc *Encoder) hashFrame(f *frame.Frame) {
	samples := make([][]int32, len(f.Subframes))
	for i, subframe := range f.Subframes {
		samples[i] = subframe.Samples
	}
	if len(samples) == 2 {
		switch f.Channels {
		case frame.ChannelsLeftSide, frame.ChannelsSideRight, frame.ChannelsMidSide:
			left := make([]int32, len(samples[0]))
			right := make([]int32, len(samples[1]))
			for i := range left {
				a, b := int64(samples[0][i]), int64(samples[1][i])
				switch f.Channels {
				case frame.ChannelsLeftSide:
					left[i] = samples[0][i]
					right[i] = int32(a - b)
				case frame.ChannelsSideRight:
					left[i] = int32(a + b)
					right[i] = samples[1][i]
				case frame.ChannelsMidSide:
					m := a<<1 | b&1
					left[i] = int32((m + b) >> 1)
					right[i] = int32((m - b) >> 1)
				}
			}
			samples[0], samples[1] = left, right
		}
	}
	enc.hashSamples(samples)
}

// sideBPS returns the bits-per-sample of the given subframe under the given
// channel assignment; the side channel of side-coded stereo uses one extra
// bit to cover the dynamic range of the difference of two channels.
func sideBPS(channels frame.Channels, channel int, bps uint8) uint {
	b := uint(bps)
	switch channels {
	case frame.ChannelsSideRight:
		// channel 0 is the side channel.
		if channel == 0 {
			b++
		}
	case frame.ChannelsLeftSide, frame.ChannelsMidSide:
		// channel 1 is the side channel.
		if channel == 1 {
			b++
		}
	}
	return b
}

// writeFrame writes a frame header, the planned subframes, zero-padding to
// byte alignment and the CRC-16 footer to the output stream, and maintains
// the running min/max frame size of StreamInfo.
func (enc *Encoder) writeFrame(hdr frame.Header, plans []*subframePlan) error {
	// The CRC-16 footer covers every frame byte before it; tee all writes
	// through a running hash.
	h := crc16.NewIBM()
	cw := &countWriter{w: enc.out}
	hw := io.MultiWriter(cw, h)

	if err := encodeFrameHeader(hw, hdr); err != nil {
		return err
	}
	bw := bitio.NewWriter(hw)
	for i, plan := range plans {
		bps := sideBPS(hdr.Channels, i, hdr.BitsPerSample)
		if err := encodeSubframe(bw, plan, bps); err != nil {
			return err
		}
	}
	// Zero-padding to byte alignment.
	if _, err := bw.Align(); err != nil {
		return err
	}
	if err := binary.Write(cw, binary.BigEndian, h.Sum16()); err != nil {
		return err
	}

	// Maintain the running StreamInfo statistics.
	info := enc.Info
	size := uint32(cw.n)
	if info.FrameSizeMin == 0 || size < info.FrameSizeMin {
		info.FrameSizeMin = size
	}
	if size > info.FrameSizeMax {
		info.FrameSizeMax = size
	}
	return nil
}

// encodeFrameHeader encodes the given frame header, writing to w. The CRC-8
// of the header bytes is computed inline and written last.
//
// ref: https://www.xiph.org/flac/format.html#frame_header
func encodeFrameHeader(w io.Writer, hdr frame.Header) error {
	// Tee the header bytes through a running CRC-8 hash.
	h := crc8.NewATM()
	hw := io.MultiWriter(w, h)
	bw := bitio.NewWriter(hw)

	// 14 bits: sync code.
	if err := bw.WriteBits(frame.SyncCode, 14); err != nil {
		return err
	}
	// 1 bit: reserved.
	if err := bw.WriteBits(0, 1); err != nil {
		return err
	}
	// 1 bit: blocking strategy.
	//    0: fixed-blocksize stream; the frame header encodes the frame number.
	//    1: variable-blocksize stream; the frame header encodes the first
	//       sample number of the frame.
	if err := bw.WriteBool(!hdr.HasFixedBlockSize); err != nil {
		return err
	}

	// 4 bits: block size spec.
	nblockSizeSuffixBits, err := encodeFrameHeaderBlockSize(bw, hdr.BlockSize)
	if err != nil {
		return err
	}
	// 4 bits: sample rate spec.
	sampleRateSuffix, nsampleRateSuffixBits, err := encodeFrameHeaderSampleRate(bw, hdr.SampleRate)
	if err != nil {
		return err
	}
	// 4 bits: channel assignment.
	if err := encodeFrameHeaderChannels(bw, hdr.Channels); err != nil {
		return err
	}
	// 3 bits: bits-per-sample spec.
	if err := encodeFrameHeaderBitsPerSample(bw, hdr.BitsPerSample); err != nil {
		return err
	}
	// 1 bit: reserved.
	if err := bw.WriteBits(0, 1); err != nil {
		return err
	}

	// 8-56 bits: "UTF-8" coded frame number (fixed blocksize) or first sample
	// number (variable blocksize).
	if err := utf8.Encode(bw, hdr.Num); err != nil {
		return err
	}

	// Block size suffix, for uncommon block sizes.
	if nblockSizeSuffixBits > 0 {
		if err := bw.WriteBits(uint64(hdr.BlockSize-1), nblockSizeSuffixBits); err != nil {
			return err
		}
	}
	// Sample rate suffix, for uncommon sample rates.
	if nsampleRateSuffixBits > 0 {
		if err := bw.WriteBits(sampleRateSuffix, nsampleRateSuffixBits); err != nil {
			return err
		}
	}

	// Flush pending writes of the frame header; all fields above are a whole
	// number of bytes.
	if _, err := bw.Align(); err != nil {
		return err
	}

	// 8 bits: CRC-8 of the frame header bytes.
	return binary.Write(w, binary.BigEndian, h.Sum8())
}

// encodeFrameHeaderBlockSize encodes the 4-bit block size spec of the frame
// header, writing to bw. It returns the number of bits used to store the
// block size suffix at the end of the header; 0 when the spec encodes the
// block size directly.
//
//	0001:      192 samples.
//	0010-0101: 576 * 2^(spec-2) samples.
//	0110:      8 bit (block size)-1 suffix.
//	0111:      16 bit (block size)-1 suffix.
//	1000-1111: 256 * 2^(spec-8) samples.
func encodeFrameHeaderBlockSize(bw *bitio.Writer, blockSize uint16) (nsuffixBits uint8, err error) {
	var spec uint64
	switch blockSize {
	case 192:
		spec = 0x1
	case 576:
		spec = 0x2
	case 1152:
		spec = 0x3
	case 2304:
		spec = 0x4
	case 4608:
		spec = 0x5
	case 256:
		spec = 0x8
	case 512:
		spec = 0x9
	case 1024:
		spec = 0xA
	case 2048:
		spec = 0xB
	case 4096:
		spec = 0xC
	case 8192:
		spec = 0xD
	case 16384:
		spec = 0xE
	case 32768:
		spec = 0xF
	default:
		if blockSize == 0 {
			return 0, errors.New("flac.encodeFrameHeaderBlockSize: invalid block size (0)")
		}
		if blockSize <= 256 {
			spec = 0x6
			nsuffixBits = 8
		} else {
			spec = 0x7
			nsuffixBits = 16
		}
	}
	if err := bw.WriteBits(spec, 4); err != nil {
		return 0, err
	}
	return nsuffixBits, nil
}

// encodeFrameHeaderSampleRate encodes the 4-bit sample rate spec of the frame
// header, writing to bw. It returns the suffix value and the number of bits
// used to store it at the end of the header; 0 when the spec encodes the
// sample rate directly or by reference to StreamInfo.
func encodeFrameHeaderSampleRate(bw *bitio.Writer, sampleRate uint32) (suffix uint64, nsuffixBits uint8, err error) {
	var spec uint64
	switch sampleRate {
	case 0:
		// 0000: get from StreamInfo metadata block.
		spec = 0x0
	case 88200:
		spec = 0x1
	case 176400:
		spec = 0x2
	case 192000:
		spec = 0x3
	case 8000:
		spec = 0x4
	case 16000:
		spec = 0x5
	case 22050:
		spec = 0x6
	case 24000:
		spec = 0x7
	case 32000:
		spec = 0x8
	case 44100:
		spec = 0x9
	case 48000:
		spec = 0xA
	case 96000:
		spec = 0xB
	default:
		switch {
		case sampleRate <= 255000 && sampleRate%1000 == 0:
			// 1100: 8 bit sample rate suffix, in kHz.
			spec = 0xC
			suffix = uint64(sampleRate / 1000)
			nsuffixBits = 8
		case sampleRate <= 65535:
			// 1101: 16 bit sample rate suffix, in Hz.
			spec = 0xD
			suffix = uint64(sampleRate)
			nsuffixBits = 16
		case sampleRate <= 655350 && sampleRate%10 == 0:
			// 1110: 16 bit sample rate suffix, in daHz.
			spec = 0xE
			suffix = uint64(sampleRate / 10)
			nsuffixBits = 16
		default:
			return 0, 0, fmt.Errorf("flac.encodeFrameHeaderSampleRate: unable to encode sample rate %d", sampleRate)
		}
	}
	if err := bw.WriteBits(spec, 4); err != nil {
		return 0, 0, err
	}
	return suffix, nsuffixBits, nil
}

// encodeFrameHeaderChannels encodes the 4-bit channel assignment of the frame
// header, writing to bw.
//
//	0000-0111: (number of independent channels)-1.
//	1000:      left/side stereo.
//	1001:      side/right stereo.
//	1010:      mid/side stereo.
func encodeFrameHeaderChannels(bw *bitio.Writer, channels frame.Channels) error {
	var spec uint64
	switch channels {
	case frame.ChannelsMono, frame.ChannelsLR, frame.ChannelsLRC, frame.ChannelsLRLsRs, frame.ChannelsLRCLsRs, frame.ChannelsLRCLfeLsRs, frame.ChannelsLRCLfeCsSlSr, frame.ChannelsLRCLfeLsRsSlSr:
		spec = uint64(channels.Count() - 1)
	case frame.ChannelsLeftSide:
		spec = 0x8
	case frame.ChannelsSideRight:
		spec = 0x9
	case frame.ChannelsMidSide:
		spec = 0xA
	default:
		return fmt.Errorf("flac.encodeFrameHeaderChannels: support for channel assignment %v not yet implemented", channels)
	}
	return bw.WriteBits(spec, 4)
}

// encodeFrameHeaderBitsPerSample encodes the 3-bit bits-per-sample spec of
// the frame header, writing to bw.
//
//	000: get from StreamInfo metadata block.
//	001: 8 bits.
//	010: 12 bits.
//	100: 16 bits.
//	101: 20 bits.
//	110: 24 bits.
//
// Sample sizes without a spec of their own fall back to 000, deferring to the
// StreamInfo metadata block.
func encodeFrameHeaderBitsPerSample(bw *bitio.Writer, bps uint8) error {
	var spec uint64
	switch bps {
	case 8:
		spec = 0x1
	case 12:
		spec = 0x2
	case 16:
		spec = 0x4
	case 20:
		spec = 0x5
	case 24:
		spec = 0x6
	default:
		if bps > 32 {
			return fmt.Errorf("flac.encodeFrameHeaderBitsPerSample: unable to encode bits-per-sample %d", bps)
		}
		spec = 0x0
	}
	return bw.WriteBits(spec, 3)
}
