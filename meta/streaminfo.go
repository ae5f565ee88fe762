package meta

import (
	"encoding/binary"
	"fmt"
	"io"
)

// StreamInfo contains the basic properties of the FLAC audio stream, such as
// its sample rate and channel count. It is the only mandatory metadata block
// and must be present as the first metadata block of a FLAC stream.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_streaminfo
type StreamInfo struct {
	// Minimum block size (in samples) used in the stream.
	BlockSizeMin uint16
	// Maximum block size (in samples) used in the stream;
	// BlockSizeMin == BlockSizeMax implies a fixed-blocksize stream.
	BlockSizeMax uint16
	// Minimum frame size in bytes; a 0 value implies unknown.
	FrameSizeMin uint32
	// Maximum frame size in bytes; a 0 value implies unknown.
	FrameSizeMax uint32
	// Sample rate in Hz; between 1 and 655350 Hz.
	SampleRate uint32
	// Number of channels; between 1 and 8 channels.
	NChannels uint8
	// Sample size in bits-per-sample; between 4 and 32 bits.
	BitsPerSample uint8
	// Total number of inter-channel samples in the stream. One second of
	// 44.1 KHz audio will have 44100 samples regardless of the number of
	// channels. A 0 value implies unknown.
	NSamples uint64
	// MD5 checksum of the unencoded audio data. An all-zero value implies that
	// the checksum was not computed.
	MD5sum [16]byte
}

// parseStreamInfo reads and parses the body of a StreamInfo metadata block.
//
// Stream info format (pseudo code):
//
//	type METADATA_BLOCK_STREAMINFO struct {
//	   block_size_min  uint16
//	   block_size_max  uint16
//	   frame_size_min  uint24
//	   frame_size_max  uint24
//	   sample_rate     uint20
//	   nchannels       uint3 // (number of channels) - 1.
//	   bits_per_sample uint5 // (bits per sample) - 1.
//	   nsamples        uint36
//	   md5sum          [16]byte
//	}
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_streaminfo
func (block *Block) parseStreamInfo() error {
	si := new(StreamInfo)
	block.Body = si

	// 16 bits: BlockSizeMin.
	if err := binary.Read(block.lr, binary.BigEndian, &si.BlockSizeMin); err != nil {
		return unexpected(err)
	}

	// Read 64 bits, since the following fields are grouped on power-of-2
	// boundaries:
	// BlockSizeMax (16 bits) + FrameSizeMin (24 bits) + FrameSizeMax (24 bits)
	var bits uint64
	if err := binary.Read(block.lr, binary.BigEndian, &bits); err != nil {
		return unexpected(err)
	}

	// 16 bits: BlockSizeMax.
	si.BlockSizeMax = uint16(bits >> 48)
	if si.BlockSizeMin > si.BlockSizeMax {
		return fmt.Errorf("meta.Block.parseStreamInfo: block size min (%d) exceeds block size max (%d)", si.BlockSizeMin, si.BlockSizeMax)
	}

	// 24 bits: FrameSizeMin.
	si.FrameSizeMin = uint32(bits >> 24 & 0xFFFFFF)

	// 24 bits: FrameSizeMax.
	si.FrameSizeMax = uint32(bits & 0xFFFFFF)
	if si.FrameSizeMin != 0 && si.FrameSizeMax != 0 && si.FrameSizeMin > si.FrameSizeMax {
		return fmt.Errorf("meta.Block.parseStreamInfo: frame size min (%d) exceeds frame size max (%d)", si.FrameSizeMin, si.FrameSizeMax)
	}

	// Read 64 bits, since the following fields are grouped on power-of-2
	// boundaries:
	// SampleRate (20 bits) + NChannels (3 bits) + BitsPerSample (5 bits) +
	// NSamples (36 bits)
	if err := binary.Read(block.lr, binary.BigEndian, &bits); err != nil {
		return unexpected(err)
	}

	// 20 bits: SampleRate.
	si.SampleRate = uint32(bits >> 44)
	if si.SampleRate == 0 || si.SampleRate > 655350 {
		return fmt.Errorf("meta.Block.parseStreamInfo: invalid sample rate; expected > 0 and <= 655350, got %d", si.SampleRate)
	}

	// 3 bits: NChannels; stored as (number of channels) - 1.
	si.NChannels = uint8(bits>>41&0x07) + 1

	// 5 bits: BitsPerSample; stored as (bits per sample) - 1.
	si.BitsPerSample = uint8(bits>>36&0x1F) + 1
	if si.BitsPerSample < 4 {
		return fmt.Errorf("meta.Block.parseStreamInfo: invalid bits per sample; expected >= 4 and <= 32, got %d", si.BitsPerSample)
	}

	// 36 bits: NSamples.
	si.NSamples = bits & 0xFFFFFFFFF

	// 16 bytes: MD5sum.
	if _, err := io.ReadFull(block.lr, si.MD5sum[:]); err != nil {
		return unexpected(err)
	}

	return nil
}
