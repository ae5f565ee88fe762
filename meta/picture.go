package meta

import (
	"encoding/binary"
	"fmt"
)

// Picture contains the image data of a picture associated with the FLAC
// stream, most commonly cover art from CDs.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_picture
type Picture struct {
	// Picture type according to the ID3v2 APIC frame, in the range [0, 20];
	// e.g. 3 for front cover.
	Type uint32
	// MIME type string. The MIME type "-->" specifies that the picture data
	// is a URL of the picture rather than the picture data itself.
	MIME string
	// Description of the picture.
	Desc string
	// Image width in pixels.
	Width uint32
	// Image height in pixels.
	Height uint32
	// Color depth in bits-per-pixel.
	Depth uint32
	// Number of colors in palette; 0 for non-indexed pictures.
	NPalColors uint32
	// Image data.
	Data []byte
}

// parsePicture reads and parses the body of a Picture metadata block.
//
// Picture format (pseudo code):
//
//	type METADATA_BLOCK_PICTURE struct {
//	   type        uint32
//	   mime_length uint32
//	   mime        [mime_length]byte
//	   desc_length uint32
//	   desc        [desc_length]byte
//	   width       uint32
//	   height      uint32
//	   depth       uint32
//	   npal_colors uint32
//	   data_length uint32
//	   data        [data_length]byte
//	}
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_picture
func (block *Block) parsePicture() error {
	pic := new(Picture)
	block.Body = pic

	// 32 bits: Type.
	if err := binary.Read(block.lr, binary.BigEndian, &pic.Type); err != nil {
		return unexpected(err)
	}
	if pic.Type > 20 {
		return fmt.Errorf("meta.Block.parsePicture: reserved picture type: %d", pic.Type)
	}

	// 32 bits: (MIME type length).
	var x uint32
	if err := binary.Read(block.lr, binary.BigEndian, &x); err != nil {
		return unexpected(err)
	}

	// (MIME type length) bytes: MIME.
	buf, err := readBytes(block.lr, int(x))
	if err != nil {
		return err
	}
	pic.MIME = string(buf)

	// 32 bits: (description length).
	if err := binary.Read(block.lr, binary.BigEndian, &x); err != nil {
		return unexpected(err)
	}

	// (description length) bytes: Desc.
	buf, err = readBytes(block.lr, int(x))
	if err != nil {
		return err
	}
	pic.Desc = string(buf)

	// 32 bits: Width.
	if err := binary.Read(block.lr, binary.BigEndian, &pic.Width); err != nil {
		return unexpected(err)
	}

	// 32 bits: Height.
	if err := binary.Read(block.lr, binary.BigEndian, &pic.Height); err != nil {
		return unexpected(err)
	}

	// 32 bits: Depth.
	if err := binary.Read(block.lr, binary.BigEndian, &pic.Depth); err != nil {
		return unexpected(err)
	}

	// 32 bits: NPalColors.
	if err := binary.Read(block.lr, binary.BigEndian, &pic.NPalColors); err != nil {
		return unexpected(err)
	}

	// 32 bits: (data length).
	if err := binary.Read(block.lr, binary.BigEndian, &x); err != nil {
		return unexpected(err)
	}

	// (data length) bytes: Data.
	pic.Data, err = readBytes(block.lr, int(x))
	return err
}
