package meta

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// VorbisComment contains a list of name-value pairs. It is the only
// officially supported tagging mechanism in FLAC.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_vorbis_comment
type VorbisComment struct {
	// Vendor name.
	Vendor string
	// A list of tags, each represented by a name-value pair.
	Tags [][2]string
}

// parseVorbisComment reads and parses the body of a VorbisComment metadata
// block.
//
// Vorbis comment format (pseudo code):
//
//	type METADATA_BLOCK_VORBIS_COMMENT struct {
//	   vendor_length uint32 // little-endian.
//	   vendor        [vendor_length]byte
//	   ntags         uint32 // little-endian.
//	   tags          [ntags]tag
//	}
//
//	type tag struct {
//	   length uint32 // little-endian.
//	   // vector is a name-value pair; e.g. "NAME=value".
//	   vector [length]byte
//	}
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_vorbis_comment
func (block *Block) parseVorbisComment() error {
	comment := new(VorbisComment)
	block.Body = comment

	// 32 bits: vendor length.
	var x uint32
	if err := binary.Read(block.lr, binary.LittleEndian, &x); err != nil {
		return unexpected(err)
	}

	// (vendor length) bytes: Vendor.
	buf, err := readBytes(block.lr, int(x))
	if err != nil {
		return err
	}
	comment.Vendor = string(buf)

	// 32 bits: number of tags.
	if err := binary.Read(block.lr, binary.LittleEndian, &x); err != nil {
		return unexpected(err)
	}
	if x == 0 {
		return nil
	}
	comment.Tags = make([][2]string, x)
	for i := range comment.Tags {
		// 32 bits: vector length.
		if err := binary.Read(block.lr, binary.LittleEndian, &x); err != nil {
			return unexpected(err)
		}

		// (vector length) bytes: vector.
		buf, err := readBytes(block.lr, int(x))
		if err != nil {
			return err
		}
		vector := string(buf)

		// Parse tag, which has the following format:
		//    NAME=VALUE
		pos := strings.Index(vector, "=")
		if pos == -1 {
			return fmt.Errorf("meta.Block.parseVorbisComment: unable to locate '=' in vector %q", vector)
		}
		comment.Tags[i][0] = vector[:pos]
		comment.Tags[i][1] = vector[pos+1:]
	}
	return nil
}
