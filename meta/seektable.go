package meta

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SeekTable contains one or more precalculated audio frame seek points.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_seektable
type SeekTable struct {
	// One or more seek points.
	Points []SeekPoint
}

// A SeekPoint specifies the byte offset and initial sample number of a given
// target frame.
//
// ref: https://www.xiph.org/flac/format.html#seekpoint
type SeekPoint struct {
	// Sample number of the first sample in the target frame, or
	// 0xFFFFFFFFFFFFFFFF for a placeholder point.
	SampleNum uint64
	// Offset in bytes from the first byte of the first frame header to the
	// first byte of the target frame's header.
	Offset uint64
	// Number of samples in the target frame.
	NSamples uint16
}

// PlaceholderPoint is the sample number used for placeholder points. For
// placeholder points, the values of the Offset and NSamples fields are
// undefined.
const PlaceholderPoint = 0xFFFFFFFFFFFFFFFF

// parseSeekTable reads and parses the body of a SeekTable metadata block.
//
// Seek table format (pseudo code):
//
//	type METADATA_BLOCK_SEEKTABLE struct {
//	   // The number of seek points is implied by the header length field,
//	   // i.e. equal to length / 18.
//	   points []point
//	}
//
//	type point struct {
//	   sample_num uint64
//	   offset     uint64
//	   nsamples   uint16
//	}
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_seektable
func (block *Block) parseSeekTable() error {
	if block.Length%18 != 0 {
		return fmt.Errorf("meta.Block.parseSeekTable: invalid block length; expected a multiple of 18, got %d", block.Length)
	}
	st := &SeekTable{Points: make([]SeekPoint, block.Length/18)}
	block.Body = st
	var hasPrev bool
	var prev SeekPoint
	for i := range st.Points {
		point := &st.Points[i]
		if err := binary.Read(block.lr, binary.BigEndian, point); err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		// Placeholder points are ignored by decoders; their offset and
		// sample count are undefined, so they take no part in the ordering
		// check.
		if point.SampleNum == PlaceholderPoint {
			continue
		}
		// Seek points must be unique and sorted in ascending order, by
		// sample number and by offset, across any intervening placeholder
		// points.
		if hasPrev && (prev.SampleNum >= point.SampleNum || prev.Offset >= point.Offset) {
			return fmt.Errorf("meta.Block.parseSeekTable: invalid seek point; sample number (%d) not in ascending order", point.SampleNum)
		}
		prev = *point
		hasPrev = true
	}
	return nil
}
