package flac

import (
	"encoding/binary"
	"fmt"

	"github.com/icza/bitio"

	"github.com/karlek/flac/meta"
)

// encodeBlock encodes the given metadata block, preceded by a metadata block
// header, writing to bw.
func encodeBlock(bw *bitio.Writer, block *meta.Block, last bool) error {
	switch body := block.Body.(type) {
	case *meta.StreamInfo:
		return encodeStreamInfo(bw, body, last)
	case *meta.Application:
		return encodeApplication(bw, body, last)
	case *meta.SeekTable:
		return encodeSeekTable(bw, body, last)
	case *meta.VorbisComment:
		return encodeVorbisComment(bw, body, last)
	case *meta.CueSheet:
		return encodeCueSheet(bw, body, last)
	case *meta.Picture:
		return encodePicture(bw, body, last)
	case []byte:
		// Block types not defined by the specification are retained verbatim.
		return encodeUnknown(bw, block.Type, body, last)
	case nil:
		// Padding.
		return encodePadding(bw, block.Length, last)
	default:
		return fmt.Errorf("flac.encodeBlock: support for metadata block body type %T not yet implemented", body)
	}
}

// encodeBlockHeader encodes the header of a metadata block, writing to bw.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_header
func encodeBlockHeader(bw *bitio.Writer, typ meta.Type, length int64, last bool) error {
	// 1 bit: IsLast.
	if err := bw.WriteBool(last); err != nil {
		return err
	}
	// 7 bits: Type.
	if err := bw.WriteBits(uint64(typ), 7); err != nil {
		return err
	}
	// 24 bits: Length.
	if length < 0 || length >= 1<<24 {
		return fmt.Errorf("flac.encodeBlockHeader: invalid metadata block body length (%d)", length)
	}
	return bw.WriteBits(uint64(length), 24)
}

// encodeStreamInfo encodes the body of a StreamInfo metadata block, preceded
// by a metadata block header, writing to bw.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_streaminfo
func encodeStreamInfo(bw *bitio.Writer, si *meta.StreamInfo, last bool) error {
	// The StreamInfo block body is always 34 bytes.
	if err := encodeBlockHeader(bw, meta.TypeStreamInfo, 34, last); err != nil {
		return err
	}

	// 16 bits: BlockSizeMin.
	if err := bw.WriteBits(uint64(si.BlockSizeMin), 16); err != nil {
		return err
	}
	// 16 bits: BlockSizeMax.
	if err := bw.WriteBits(uint64(si.BlockSizeMax), 16); err != nil {
		return err
	}
	// 24 bits: FrameSizeMin.
	if err := bw.WriteBits(uint64(si.FrameSizeMin), 24); err != nil {
		return err
	}
	// 24 bits: FrameSizeMax.
	if err := bw.WriteBits(uint64(si.FrameSizeMax), 24); err != nil {
		return err
	}
	// 20 bits: SampleRate.
	if err := bw.WriteBits(uint64(si.SampleRate), 20); err != nil {
		return err
	}
	// 3 bits: NChannels; stored as (number of channels) - 1.
	if err := bw.WriteBits(uint64(si.NChannels-1), 3); err != nil {
		return err
	}
	// 5 bits: BitsPerSample; stored as (bits per sample) - 1.
	if err := bw.WriteBits(uint64(si.BitsPerSample-1), 5); err != nil {
		return err
	}
	// 36 bits: NSamples.
	if err := bw.WriteBits(si.NSamples, 36); err != nil {
		return err
	}
	// 16 bytes: MD5sum.
	_, err := bw.Write(si.MD5sum[:])
	return err
}

// encodePadding encodes the body of a Padding metadata block, preceded by a
// metadata block header, writing to bw.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_padding
func encodePadding(bw *bitio.Writer, length int64, last bool) error {
	if err := encodeBlockHeader(bw, meta.TypePadding, length, last); err != nil {
		return err
	}
	for i := int64(0); i < length; i++ {
		if err := bw.WriteByte(0); err != nil {
			return err
		}
	}
	return nil
}

// encodeApplication encodes the body of an Application metadata block,
// preceded by a metadata block header, writing to bw.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_application
func encodeApplication(bw *bitio.Writer, app *meta.Application, last bool) error {
	length := int64(4 + len(app.Data))
	if err := encodeBlockHeader(bw, meta.TypeApplication, length, last); err != nil {
		return err
	}

	// 32 bits: ID.
	if err := bw.WriteBits(uint64(app.ID), 32); err != nil {
		return err
	}
	_, err := bw.Write(app.Data)
	return err
}

// encodeSeekTable encodes the body of a SeekTable metadata block, preceded by
// a metadata block header, writing to bw.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_seektable
func encodeSeekTable(bw *bitio.Writer, table *meta.SeekTable, last bool) error {
	// Each seek point is 18 bytes.
	length := int64(18 * len(table.Points))
	if err := encodeBlockHeader(bw, meta.TypeSeekTable, length, last); err != nil {
		return err
	}
	for _, point := range table.Points {
		if err := binary.Write(bw, binary.BigEndian, point); err != nil {
			return err
		}
	}
	return nil
}

// encodeVorbisComment encodes the body of a VorbisComment metadata block,
// preceded by a metadata block header, writing to bw.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_vorbis_comment
func encodeVorbisComment(bw *bitio.Writer, comment *meta.VorbisComment, last bool) error {
	length := int64(4 + len(comment.Vendor) + 4)
	for _, tag := range comment.Tags {
		length += int64(4 + len(tag[0]) + 1 + len(tag[1]))
	}
	if err := encodeBlockHeader(bw, meta.TypeVorbisComment, length, last); err != nil {
		return err
	}

	// 32 bits: vendor length; little-endian.
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(comment.Vendor))); err != nil {
		return err
	}
	// (vendor length) bytes: Vendor.
	if _, err := bw.Write([]byte(comment.Vendor)); err != nil {
		return err
	}
	// 32 bits: number of tags; little-endian.
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(comment.Tags))); err != nil {
		return err
	}
	for _, tag := range comment.Tags {
		// Each tag has the following format:
		//    NAME=VALUE
		vector := tag[0] + "=" + tag[1]
		// 32 bits: vector length; little-endian.
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(vector))); err != nil {
			return err
		}
		// (vector length) bytes: vector.
		if _, err := bw.Write([]byte(vector)); err != nil {
			return err
		}
	}
	return nil
}

// encodeCueSheet encodes the body of a CueSheet metadata block, preceded by a
// metadata block header, writing to bw.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_cuesheet
func encodeCueSheet(bw *bitio.Writer, cs *meta.CueSheet, last bool) error {
	length := int64(128 + 8 + 1 + 258 + 1)
	for _, track := range cs.Tracks {
		length += 8 + 1 + 12 + 1 + 13 + 1
		length += int64(len(track.Indicies)) * (8 + 1 + 3)
	}
	if err := encodeBlockHeader(bw, meta.TypeCueSheet, length, last); err != nil {
		return err
	}

	// 128 bytes: MCN.
	mcn := make([]byte, 128)
	copy(mcn, cs.MCN)
	if _, err := bw.Write(mcn); err != nil {
		return err
	}
	// 64 bits: NLeadInSamples.
	if err := bw.WriteBits(cs.NLeadInSamples, 64); err != nil {
		return err
	}
	// 1 bit: IsCompactDisc.
	if err := bw.WriteBool(cs.IsCompactDisc); err != nil {
		return err
	}
	// 7 bits and 258 bytes: reserved.
	if err := bw.WriteBits(0, 7); err != nil {
		return err
	}
	if _, err := bw.Write(make([]byte, 258)); err != nil {
		return err
	}
	// 8 bits: (number of tracks).
	if err := bw.WriteBits(uint64(len(cs.Tracks)), 8); err != nil {
		return err
	}
	for _, track := range cs.Tracks {
		// 64 bits: Offset.
		if err := bw.WriteBits(track.Offset, 64); err != nil {
			return err
		}
		// 8 bits: Num.
		if err := bw.WriteBits(uint64(track.Num), 8); err != nil {
			return err
		}
		// 12 bytes: ISRC.
		isrc := make([]byte, 12)
		copy(isrc, track.ISRC)
		if _, err := bw.Write(isrc); err != nil {
			return err
		}
		// 1 bit: track type; 0 for audio, 1 for non-audio.
		if err := bw.WriteBool(!track.IsAudio); err != nil {
			return err
		}
		// 1 bit: HasPreEmphasis.
		if err := bw.WriteBool(track.HasPreEmphasis); err != nil {
			return err
		}
		// 6 bits and 13 bytes: reserved.
		if err := bw.WriteBits(0, 6); err != nil {
			return err
		}
		if _, err := bw.Write(make([]byte, 13)); err != nil {
			return err
		}
		// 8 bits: (number of indicies).
		if err := bw.WriteBits(uint64(len(track.Indicies)), 8); err != nil {
			return err
		}
		for _, index := range track.Indicies {
			// 64 bits: Offset.
			if err := bw.WriteBits(index.Offset, 64); err != nil {
				return err
			}
			// 8 bits: Num.
			if err := bw.WriteBits(uint64(index.Num), 8); err != nil {
				return err
			}
			// 3 bytes: reserved.
			if _, err := bw.Write(make([]byte, 3)); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodePicture encodes the body of a Picture metadata block, preceded by a
// metadata block header, writing to bw.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_picture
func encodePicture(bw *bitio.Writer, pic *meta.Picture, last bool) error {
	length := int64(8*4 + len(pic.MIME) + len(pic.Desc) + len(pic.Data))
	if err := encodeBlockHeader(bw, meta.TypePicture, length, last); err != nil {
		return err
	}

	// 32 bits: Type.
	if err := bw.WriteBits(uint64(pic.Type), 32); err != nil {
		return err
	}
	// 32 bits: (MIME type length).
	if err := bw.WriteBits(uint64(len(pic.MIME)), 32); err != nil {
		return err
	}
	// (MIME type length) bytes: MIME.
	if _, err := bw.Write([]byte(pic.MIME)); err != nil {
		return err
	}
	// 32 bits: (description length).
	if err := bw.WriteBits(uint64(len(pic.Desc)), 32); err != nil {
		return err
	}
	// (description length) bytes: Desc.
	if _, err := bw.Write([]byte(pic.Desc)); err != nil {
		return err
	}
	// 32 bits: Width.
	if err := bw.WriteBits(uint64(pic.Width), 32); err != nil {
		return err
	}
	// 32 bits: Height.
	if err := bw.WriteBits(uint64(pic.Height), 32); err != nil {
		return err
	}
	// 32 bits: Depth.
	if err := bw.WriteBits(uint64(pic.Depth), 32); err != nil {
		return err
	}
	// 32 bits: NPalColors.
	if err := bw.WriteBits(uint64(pic.NPalColors), 32); err != nil {
		return err
	}
	// 32 bits: (data length).
	if err := bw.WriteBits(uint64(len(pic.Data)), 32); err != nil {
		return err
	}
	_, err := bw.Write(pic.Data)
	return err
}

// encodeUnknown encodes the raw body of a metadata block of a type not
// defined by the specification, preceded by a metadata block header, writing
// to bw.
func encodeUnknown(bw *bitio.Writer, typ meta.Type, body []byte, last bool) error {
	if err := encodeBlockHeader(bw, typ, int64(len(body)), last); err != nil {
		return err
	}
	_, err := bw.Write(body)
	return err
}
