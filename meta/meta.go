// Package meta implements access to FLAC metadata blocks.
//
// A brief introduction of the FLAC metadata format [1] follows. FLAC metadata
// is stored in blocks; each block contains a header followed by a body. The
// block header describes the body type, its length in bytes, and whether the
// block is the last metadata block of the stream. The first block is always a
// StreamInfo block; it is the only mandatory block type.
//
//	[1]: https://www.xiph.org/flac/format.html#format_overview
package meta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// A Block contains the header and body of a metadata block.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block
type Block struct {
	// Metadata block header.
	Header
	// Metadata block body of type *StreamInfo, *Application, *SeekTable,
	// *VorbisComment, *CueSheet, *Picture, nil (Padding), or []byte (block
	// types not yet defined; retained verbatim).
	Body interface{}
	// Underlying io.Reader, limited to the length of the block body.
	lr io.Reader
}

// New creates a new Block for accessing the metadata of r. It reads and
// parses the metadata block header, but not the body.
//
// Call Block.Parse to parse the metadata block body, and call Block.Skip to
// ignore it.
func New(r io.Reader) (block *Block, err error) {
	block = new(Block)
	if err = block.parseHeader(r); err != nil {
		return block, err
	}
	block.lr = io.LimitReader(r, block.Length)
	return block, nil
}

// Parse reads and parses the header and body of a metadata block. Block types
// not yet defined by the specification are retained as raw bytes.
func Parse(r io.Reader) (block *Block, err error) {
	block, err = New(r)
	if err != nil {
		return block, err
	}
	if err = block.Parse(); err != nil {
		return block, err
	}
	return block, nil
}

// Parse reads and parses the metadata block body.
func (block *Block) Parse() error {
	switch block.Type {
	case TypeStreamInfo:
		return block.parseStreamInfo()
	case TypePadding:
		return block.verifyPadding()
	case TypeApplication:
		return block.parseApplication()
	case TypeSeekTable:
		return block.parseSeekTable()
	case TypeVorbisComment:
		return block.parseVorbisComment()
	case TypeCueSheet:
		return block.parseCueSheet()
	case TypePicture:
		return block.parsePicture()
	}
	// Block types not yet defined by the specification are retained verbatim,
	// so that streams may be rewritten without loss.
	buf := make([]byte, block.Length)
	if _, err := io.ReadFull(block.lr, buf); err != nil {
		return unexpected(err)
	}
	block.Body = buf
	return nil
}

// Skip ignores the contents of the metadata block body.
func (block *Block) Skip() error {
	if sr, ok := block.lr.(io.Seeker); ok {
		_, err := sr.Seek(0, io.SeekEnd)
		return err
	}
	_, err := io.Copy(io.Discard, block.lr)
	return err
}

// A Header contains information about the type and length of a metadata
// block.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_header
type Header struct {
	// Metadata block body type.
	Type Type
	// Length of body data in bytes.
	Length int64
	// IsLast specifies if the block is the last metadata block.
	IsLast bool
}

// parseHeader reads and parses the header of a metadata block.
//
// Metadata block header format (pseudo code):
//
//	type METADATA_BLOCK_HEADER struct {
//	   is_last bool
//	   type    uint7
//	   length  uint24
//	}
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_header
func (block *Block) parseHeader(r io.Reader) error {
	var bits uint32
	if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
		// The header of the first metadata block is always present; the only
		// graceful EOF is before the header of a subsequent block.
		return err
	}

	// 1 bit: IsLast.
	block.IsLast = bits&0x80000000 != 0

	// 7 bits: Type.
	block.Type = Type(bits >> 24 & 0x7F)
	if block.Type == typeInvalid {
		return errors.New("meta.Block.parseHeader: invalid block type (127); would confuse with a frame sync code")
	}

	// 24 bits: Length.
	block.Length = int64(bits & 0x00FFFFFF)

	return nil
}

// Type represents the type of a metadata block body.
type Type uint8

// Metadata block body types.
const (
	TypeStreamInfo Type = iota
	TypePadding
	TypeApplication
	TypeSeekTable
	TypeVorbisComment
	TypeCueSheet
	TypePicture

	// 7-126: reserved.

	// 127: invalid, to avoid confusion with a frame sync code.
	typeInvalid Type = 127
)

func (t Type) String() string {
	switch t {
	case TypeStreamInfo:
		return "stream info"
	case TypePadding:
		return "padding"
	case TypeApplication:
		return "application"
	case TypeSeekTable:
		return "seek table"
	case TypeVorbisComment:
		return "vorbis comment"
	case TypeCueSheet:
		return "cue sheet"
	case TypePicture:
		return "picture"
	}
	return fmt.Sprintf("reserved (%d)", uint8(t))
}

// unexpected maps io.EOF inside a block body to io.ErrUnexpectedEOF; a body
// never ends gracefully mid-field.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// readBytes reads and returns exactly n bytes from the provided io.Reader.
func readBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, unexpected(err)
	}
	return buf, nil
}

// isAllZero reports whether the value of each byte in the provided slice is 0.
func isAllZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
