package frame

import (
	"errors"
	"fmt"

	"github.com/karlek/flac/internal/utf8"
)

// A Header contains the basic properties of an audio frame, such as its
// sample rate and channel count. To facilitate random access decoding each
// frame header starts with a sync code, and contains an 8-bit CRC of the
// header bytes.
//
// ref: https://www.xiph.org/flac/format.html#frame_header
type Header struct {
	// Specifies if the block size is fixed or variable.
	HasFixedBlockSize bool
	// Block size in inter-channel samples, i.e. the number of audio samples
	// in each subframe.
	BlockSize uint16
	// Sample rate in Hz; a 0 value implies unknown, get sample rate from
	// StreamInfo.
	SampleRate uint32
	// Specifies the number of channels (subframes) that exist in the frame,
	// their order and possible inter-channel decorrelation.
	Channels Channels
	// Sample size in bits-per-sample; a 0 value implies unknown, get sample
	// size from StreamInfo.
	BitsPerSample uint8
	// Specifies the frame number if the block size is fixed, and the first
	// sample number in the frame otherwise. When using fixed block size, the
	// first sample number in the frame can be derived by multiplying the
	// frame number with the block size (in samples).
	Num uint64
}

// SyncCode is the sync code of frame headers. Bit representation:
// 11111111111110.
const SyncCode = 0x3FFE

// Errors returned by Frame.Parse and Header parsing.
var (
	// ErrInvalidSync signals a frame header whose first 14 bits are not the
	// sync code.
	ErrInvalidSync = errors.New("frame: invalid sync code")
	// ErrInvalidCRC8 signals a frame header whose CRC-8 does not match the
	// checksum of its bytes.
	ErrInvalidCRC8 = errors.New("frame: CRC-8 checksum mismatch of frame header")
	// ErrInvalidCRC16 signals a frame whose CRC-16 footer does not match the
	// checksum of the frame bytes.
	ErrInvalidCRC16 = errors.New("frame: CRC-16 checksum mismatch of frame")
	// ErrResidualOverflow signals a Rice coded residual whose restoration
	// would overflow a 53-bit signed integer.
	ErrResidualOverflow = errors.New("frame: Rice residual overflows 53-bit range")
)

// Channels specifies the number of channels (subframes) that exist in a
// frame, their order and possible inter-channel decorrelation.
type Channels uint8

// Channel assignments. The following abbreviations are used:
//
//	C:   center (directly in front)
//	R:   right (standard stereo)
//	Sr:  side right (directly to the right)
//	Rs:  right surround (back right)
//	Cs:  center surround (rear center)
//	Ls:  left surround (back left)
//	Sl:  side left (directly to the left)
//	L:   left (standard stereo)
//	Lfe: low-frequency effect (placed according to room acoustics)
//
// The first 8 channel constants follow the SMPTE/ITU-R channel order:
//
//	L R C Lfe Ls Rs Sl Sr
const (
	ChannelsMono           Channels = iota // 1 channel: mono.
	ChannelsLR                             // 2 channels: left, right.
	ChannelsLRC                            // 3 channels: left, right, center.
	ChannelsLRLsRs                         // 4 channels: left, right, left surround, right surround.
	ChannelsLRCLsRs                        // 5 channels: left, right, center, left surround, right surround.
	ChannelsLRCLfeLsRs                     // 6 channels: left, right, center, LFE, left surround, right surround.
	ChannelsLRCLfeCsSlSr                   // 7 channels: left, right, center, LFE, center surround, side left, side right.
	ChannelsLRCLfeLsRsSlSr                 // 8 channels: left, right, center, LFE, left surround, right surround, side left, side right.
	ChannelsLeftSide                       // 2 channels: left, side; using inter-channel decorrelation.
	ChannelsSideRight                      // 2 channels: side, right; using inter-channel decorrelation.
	ChannelsMidSide                        // 2 channels: mid, side; using inter-channel decorrelation.
)

// nchannels maps from a channel assignment to its number of channels.
var nchannels = [...]int{
	ChannelsMono:           1,
	ChannelsLR:             2,
	ChannelsLRC:            3,
	ChannelsLRLsRs:         4,
	ChannelsLRCLsRs:        5,
	ChannelsLRCLfeLsRs:     6,
	ChannelsLRCLfeCsSlSr:   7,
	ChannelsLRCLfeLsRsSlSr: 8,
	ChannelsLeftSide:       2,
	ChannelsSideRight:      2,
	ChannelsMidSide:        2,
}

// Count returns the number of channels (subframes) used by the provided
// channel assignment.
func (channels Channels) Count() int {
	return nchannels[channels]
}

func (channels Channels) String() string {
	switch channels {
	case ChannelsLeftSide:
		return "left/side stereo"
	case ChannelsSideRight:
		return "side/right stereo"
	case ChannelsMidSide:
		return "mid/side stereo"
	}
	return fmt.Sprintf("%d channels", channels.Count())
}

// parseHeader reads and parses the header of an audio frame. It resets and
// enables the CRC-8 and CRC-16 state of the bit reader, so that the CRC-8 of
// the header bytes and the CRC-16 of the frame bytes may be verified.
//
// Frame header format (pseudo code):
//
//	type FRAME_HEADER struct {
//	   sync_code              uint14 // 11111111111110
//	   _                      uint1
//	   has_variable_blocksize bool
//	   block_size_spec        uint4
//	   sample_rate_spec       uint4
//	   channels_spec          uint4
//	   bits_per_sample_spec   uint3
//	   _                      uint1
//	   // The frame number is "UTF-8" coded if has_variable_blocksize is
//	   // false, and the first sample number otherwise.
//	   num                    uint31 or uint36
//	   // 8 or 16 bit block size, if block_size_spec is 0b0110 or 0b0111.
//	   block_size             uint8 or uint16
//	   // 8 or 16 bit sample rate, if sample_rate_spec is 0b1100, 0b1101 or
//	   // 0b1110.
//	   sample_rate            uint8 or uint16
//	   crc8                   uint8
//	}
//
// ref: https://www.xiph.org/flac/format.html#frame_header
func (frame *Frame) parseHeader() error {
	br := frame.br
	br.EnableCRC8()
	br.EnableCRC16()

	// 14 bits: sync code.
	x, err := br.Read(14)
	if err != nil {
		// A graceful end of stream is only valid before the sync code of the
		// next frame.
		return err
	}
	if x != SyncCode {
		return fmt.Errorf("frame.Frame.parseHeader: %w; expected %014b, got %014b", ErrInvalidSync, SyncCode, x)
	}

	// 1 bit: reserved.
	if x, err = br.Read(1); err != nil {
		return unexpected(err)
	}
	if x != 0 {
		return errors.New("frame.Frame.parseHeader: all reserved bits must be 0")
	}

	// 1 bit: blocking strategy.
	//    0: fixed-blocksize stream; the frame header encodes the frame number.
	//    1: variable-blocksize stream; the frame header encodes the first
	//       sample number of the frame.
	if x, err = br.Read(1); err != nil {
		return unexpected(err)
	}
	frame.HasFixedBlockSize = x == 0

	// 4 bits: block size spec; decoded after the frame number, as specs 0b0110
	// and 0b0111 store the block size at the end of the header.
	blockSizeSpec, err := br.Read(4)
	if err != nil {
		return unexpected(err)
	}
	if blockSizeSpec == 0 {
		return errors.New("frame.Frame.parseHeader: reserved block size bit pattern (0000)")
	}

	// 4 bits: sample rate spec.
	sampleRateSpec, err := br.Read(4)
	if err != nil {
		return unexpected(err)
	}
	if sampleRateSpec == 0xF {
		return errors.New("frame.Frame.parseHeader: invalid sample rate bit pattern (1111)")
	}

	// 4 bits: channel assignment.
	if x, err = br.Read(4); err != nil {
		return unexpected(err)
	}
	if x > uint64(ChannelsMidSide) {
		return fmt.Errorf("frame.Frame.parseHeader: reserved channel assignment bit pattern (%04b)", x)
	}
	frame.Channels = Channels(x)

	// 3 bits: bits-per-sample spec.
	//    000: get from StreamInfo metadata block.
	//    001: 8 bits per sample.
	//    010: 12 bits per sample.
	//    100: 16 bits per sample.
	//    101: 20 bits per sample.
	//    110: 24 bits per sample.
	if x, err = br.Read(3); err != nil {
		return unexpected(err)
	}
	switch x {
	case 0:
		if frame.info == nil {
			return errors.New("frame.Frame.parseHeader: unable to resolve bits-per-sample; no StreamInfo available")
		}
		frame.BitsPerSample = frame.info.BitsPerSample
	case 1:
		frame.BitsPerSample = 8
	case 2:
		frame.BitsPerSample = 12
	case 4:
		frame.BitsPerSample = 16
	case 5:
		frame.BitsPerSample = 20
	case 6:
		frame.BitsPerSample = 24
	default:
		// 011 and 111 are reserved.
		return fmt.Errorf("frame.Frame.parseHeader: reserved bits-per-sample bit pattern (%03b)", x)
	}
	if frame.info != nil && frame.BitsPerSample != frame.info.BitsPerSample {
		return fmt.Errorf("frame.Frame.parseHeader: frame bits-per-sample (%d) differs from StreamInfo (%d)", frame.BitsPerSample, frame.info.BitsPerSample)
	}

	// 1 bit: reserved.
	if x, err = br.Read(1); err != nil {
		return unexpected(err)
	}
	if x != 0 {
		return errors.New("frame.Frame.parseHeader: all reserved bits must be 0")
	}

	// 8-56 bits: "UTF-8" coded frame number (fixed blocksize) or first sample
	// number (variable blocksize).
	frame.Num, err = utf8.Decode(br)
	if err != nil {
		return unexpected(err)
	}

	// Block size.
	//    0001: 192 samples.
	//    0010-0101: 576 * 2^(spec-2) samples.
	//    0110: get 8 bit (block size)-1 from the end of the header.
	//    0111: get 16 bit (block size)-1 from the end of the header.
	//    1000-1111: 256 * 2^(spec-8) samples.
	switch {
	case blockSizeSpec == 1:
		frame.BlockSize = 192
	case blockSizeSpec <= 5:
		frame.BlockSize = 576 << (blockSizeSpec - 2)
	case blockSizeSpec == 6:
		if x, err = br.Read(8); err != nil {
			return unexpected(err)
		}
		frame.BlockSize = uint16(x) + 1
	case blockSizeSpec == 7:
		if x, err = br.Read(16); err != nil {
			return unexpected(err)
		}
		if x == 0xFFFF {
			return errors.New("frame.Frame.parseHeader: block size 65536 exceeds the representable range of StreamInfo")
		}
		frame.BlockSize = uint16(x) + 1
	default:
		frame.BlockSize = 256 << (blockSizeSpec - 8)
	}

	// Sample rate.
	//    0000: get from StreamInfo metadata block.
	//    0001-1011: fixed sample rate table.
	//    1100: get 8 bit sample rate (in kHz) from the end of the header.
	//    1101: get 16 bit sample rate (in Hz) from the end of the header.
	//    1110: get 16 bit sample rate (in daHz) from the end of the header.
	switch sampleRateSpec {
	case 0:
		if frame.info == nil {
			return errors.New("frame.Frame.parseHeader: unable to resolve sample rate; no StreamInfo available")
		}
		frame.SampleRate = frame.info.SampleRate
	case 12:
		if x, err = br.Read(8); err != nil {
			return unexpected(err)
		}
		frame.SampleRate = uint32(x) * 1000
	case 13:
		if x, err = br.Read(16); err != nil {
			return unexpected(err)
		}
		frame.SampleRate = uint32(x)
	case 14:
		if x, err = br.Read(16); err != nil {
			return unexpected(err)
		}
		frame.SampleRate = uint32(x) * 10
	default:
		frame.SampleRate = sampleRates[sampleRateSpec]
	}
	if frame.info != nil && frame.SampleRate != frame.info.SampleRate {
		return fmt.Errorf("frame.Frame.parseHeader: frame sample rate (%d) differs from StreamInfo (%d)", frame.SampleRate, frame.info.SampleRate)
	}

	// 8 bits: CRC-8 of the frame header bytes, up to and including the block
	// size and sample rate suffix bytes.
	got := br.CRC8()
	if x, err = br.Read(8); err != nil {
		return unexpected(err)
	}
	if uint8(x) != got {
		return fmt.Errorf("frame.Frame.parseHeader: %w; expected 0x%02X, got 0x%02X", ErrInvalidCRC8, x, got)
	}

	return nil
}

// sampleRates maps from the fixed sample rate specs of frame headers to
// sample rates in Hz.
var sampleRates = [...]uint32{
	1:  88200,
	2:  176400,
	3:  192000,
	4:  8000,
	5:  16000,
	6:  22050,
	7:  24000,
	8:  32000,
	9:  44100,
	10: 48000,
	11: 96000,
}

// SampleNumber returns the first sample number contained within the frame.
func (frame *Frame) SampleNumber() uint64 {
	if frame.HasFixedBlockSize {
		// The final frame of a fixed-blocksize stream may be shorter than the
		// others; the frame index is scaled by the nominal block size.
		blockSize := uint64(frame.BlockSize)
		if frame.info != nil && frame.info.BlockSizeMax != 0 {
			blockSize = uint64(frame.info.BlockSizeMax)
		}
		return frame.Num * blockSize
	}
	return frame.Num
}
