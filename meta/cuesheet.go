package meta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// CueSheet describes how tracks are laid out within a FLAC stream.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_cuesheet
type CueSheet struct {
	// Media catalog number.
	MCN string
	// Number of lead-in samples. This field only has meaning for CD-DA cue
	// sheets; for other uses it should be 0.
	NLeadInSamples uint64
	// Specifies if the cue sheet corresponds to a Compact Disc.
	IsCompactDisc bool
	// One or more tracks. The last track of a cue sheet is always the
	// lead-out track.
	Tracks []CueSheetTrack
}

// CueSheetTrack contains the start offset of a track and other track specific
// metadata.
type CueSheetTrack struct {
	// Track offset in samples, relative to the beginning of the FLAC audio
	// stream.
	Offset uint64
	// Track number; never 0, always unique.
	Num uint8
	// International Standard Recording Code; empty string if not present.
	//
	// ref: http://isrc.ifpi.org/
	ISRC string
	// Specifies if the track contains audio or data.
	IsAudio bool
	// Specifies if the track has been recorded with pre-emphasis.
	HasPreEmphasis bool
	// Every track has one or more track index points, except for the lead-out
	// track which has zero. Each index point specifies a position within the
	// track.
	Indicies []CueSheetTrackIndex
}

// A CueSheetTrackIndex specifies a position within a track.
type CueSheetTrackIndex struct {
	// Index point offset in samples, relative to the track offset.
	Offset uint64
	// Index point number; subsequently incrementing by 1 and always unique
	// within a track.
	Num uint8
}

// parseCueSheet reads and parses the body of a CueSheet metadata block.
//
// Cue sheet format (pseudo code):
//
//	type METADATA_BLOCK_CUESHEET struct {
//	   mcn               [128]byte
//	   nlead_in_samples  uint64
//	   is_compact_disc   bool
//	   _                 uint7
//	   _                 [258]byte
//	   ntracks           uint8
//	   tracks            [ntracks]track
//	}
//
//	type track struct {
//	   offset           uint64
//	   num              uint8
//	   isrc             [12]byte
//	   is_audio         bool
//	   has_pre_emphasis bool
//	   _                uint6
//	   _                [13]byte
//	   nindicies        uint8
//	   indicies         [nindicies]index
//	}
//
//	type index struct {
//	   offset uint64
//	   num    uint8
//	   _      [3]byte
//	}
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_cuesheet
func (block *Block) parseCueSheet() error {
	errReservedNotZero := errors.New("meta.Block.parseCueSheet: all reserved bits must be 0")

	cs := new(CueSheet)
	block.Body = cs

	// 128 bytes: MCN.
	buf, err := readBytes(block.lr, 128)
	if err != nil {
		return err
	}
	cs.MCN = strings.TrimRight(string(buf), "\x00")

	// 64 bits: NLeadInSamples.
	if err := binary.Read(block.lr, binary.BigEndian, &cs.NLeadInSamples); err != nil {
		return unexpected(err)
	}

	// 1 bit: IsCompactDisc, 7 bits + 258 bytes: reserved.
	buf, err = readBytes(block.lr, 259)
	if err != nil {
		return err
	}
	cs.IsCompactDisc = buf[0]&0x80 != 0
	if buf[0]&0x7F != 0 || !isAllZero(buf[1:]) {
		return errReservedNotZero
	}

	// 8 bits: (number of tracks).
	var ntracks uint8
	if err := binary.Read(block.lr, binary.BigEndian, &ntracks); err != nil {
		return unexpected(err)
	}
	if ntracks < 1 {
		return errors.New("meta.Block.parseCueSheet: at least one track required (the lead-out track)")
	}
	if cs.IsCompactDisc && ntracks > 100 {
		return fmt.Errorf("meta.Block.parseCueSheet: too many tracks for CD-DA cue sheet; expected <= 100, got %d", ntracks)
	}

	cs.Tracks = make([]CueSheetTrack, ntracks)
	for i := range cs.Tracks {
		track := &cs.Tracks[i]

		// 64 bits: Offset.
		if err := binary.Read(block.lr, binary.BigEndian, &track.Offset); err != nil {
			return unexpected(err)
		}
		if cs.IsCompactDisc && track.Offset%588 != 0 {
			return fmt.Errorf("meta.Block.parseCueSheet: invalid track offset (%d) for CD-DA; must be evenly divisible by 588", track.Offset)
		}

		// 8 bits: Num.
		if err := binary.Read(block.lr, binary.BigEndian, &track.Num); err != nil {
			return unexpected(err)
		}
		if track.Num == 0 {
			// Track number 0 is reserved for the CD-DA lead-in.
			return errors.New("meta.Block.parseCueSheet: track number 0 not allowed")
		}

		// 12 bytes: ISRC.
		buf, err = readBytes(block.lr, 12)
		if err != nil {
			return err
		}
		track.ISRC = strings.TrimRight(string(buf), "\x00")

		// 1 bit: IsAudio, 1 bit: HasPreEmphasis, 6 bits + 13 bytes: reserved.
		buf, err = readBytes(block.lr, 14)
		if err != nil {
			return err
		}
		// Track type: 0 for audio, 1 for non-audio.
		track.IsAudio = buf[0]&0x80 == 0
		track.HasPreEmphasis = buf[0]&0x40 != 0
		if buf[0]&0x3F != 0 || !isAllZero(buf[1:]) {
			return errReservedNotZero
		}

		// 8 bits: (number of indicies).
		var nindicies uint8
		if err := binary.Read(block.lr, binary.BigEndian, &nindicies); err != nil {
			return unexpected(err)
		}
		isLeadOut := i == len(cs.Tracks)-1
		if isLeadOut {
			if nindicies != 0 {
				return fmt.Errorf("meta.Block.parseCueSheet: invalid number of track indicies for the lead-out track; expected 0, got %d", nindicies)
			}
			continue
		}
		if nindicies < 1 {
			return fmt.Errorf("meta.Block.parseCueSheet: invalid number of track indicies; expected >= 1, got %d", nindicies)
		}

		track.Indicies = make([]CueSheetTrackIndex, nindicies)
		for j := range track.Indicies {
			index := &track.Indicies[j]

			// 64 bits: Offset.
			if err := binary.Read(block.lr, binary.BigEndian, &index.Offset); err != nil {
				return unexpected(err)
			}

			// 8 bits: Num.
			if err := binary.Read(block.lr, binary.BigEndian, &index.Num); err != nil {
				return unexpected(err)
			}

			// 3 bytes: reserved.
			buf, err = readBytes(block.lr, 3)
			if err != nil {
				return err
			}
			if !isAllZero(buf) {
				return errReservedNotZero
			}
		}
	}

	return nil
}
