// Package flac provides access to FLAC (Free Lossless Audio Codec) streams.
//
// A brief introduction of the FLAC stream format [1] follows. Each FLAC
// stream starts with a 32-bit signature ("fLaC"), followed by one or more
// metadata blocks, and then one or more audio frames. The first metadata
// block (StreamInfo) describes the basic properties of the audio stream and
// it is the only mandatory metadata block. Subsequent metadata blocks may
// appear in an arbitrary order.
//
// Please refer to the documentation of the meta [2] and the frame [3]
// packages for a brief introduction of their respective formats.
//
//	[1]: https://www.xiph.org/flac/format.html#stream
//	[2]: https://godoc.org/github.com/karlek/flac/meta
//	[3]: https://godoc.org/github.com/karlek/flac/frame
package flac

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/karlek/flac/frame"
	"github.com/karlek/flac/internal/bits"
	"github.com/karlek/flac/internal/bufseekio"
	"github.com/karlek/flac/meta"
)

// A Stream contains the metadata blocks and provides access to the audio
// frames of a FLAC stream.
//
// ref: https://www.xiph.org/flac/format.html#stream
type Stream struct {
	// The StreamInfo metadata block describes the basic properties of the
	// FLAC audio stream.
	Info *meta.StreamInfo
	// Zero or more metadata blocks, excluding the leading StreamInfo block.
	Blocks []*meta.Block

	// seekTable contains one or more pre-calculated audio frame seek points
	// of the stream; nil if uninitialized.
	seekTable *meta.SeekTable
	// seekTableSize determines how many seek points the seekTable should have
	// if the FLAC file does not include one in its metadata.
	seekTableSize int
	// dataStart is the offset of the first frame header, since
	// SeekPoint.Offset is relative to this position.
	dataStart int64

	// Running total of inter-channel samples decoded so far; used to detect
	// when frame data exceeds StreamInfo.NSamples, and to verify that frames
	// appear in increasing sample order.
	samplesDecoded uint64
	// Header number (frame index or first sample number) of the previously
	// decoded frame.
	prevNum uint64
	hasPrev bool
	// Running MD5 hash of decoded audio samples, compared against
	// StreamInfo.MD5sum by VerifyMD5.
	md5sum hash.Hash

	// Underlying io.Reader, or io.ReadCloser.
	r io.Reader
	// Bit reader used for frame parsing; persists across frames to preserve
	// its read-ahead buffer. Created after metadata parsing completes.
	br *bits.Reader
}

var (
	// flacSignature marks the beginning of a FLAC stream.
	flacSignature = []byte("fLaC")

	// id3Signature marks the beginning of prepended ID3 data, which is skipped.
	id3Signature = []byte("ID3")

	// ErrInvalidSignature signals a stream which does not start with the FLAC
	// signature "fLaC".
	ErrInvalidSignature = errors.New("flac: invalid FLAC signature")

	// ErrNoSeeker signals that the position of the underlying reader could
	// not be queried while building a seek table.
	ErrNoSeeker = errors.New("flac: reader does not implement io.Seeker")

	// ErrNoSeektable signals that no seek table is available, and none could
	// be generated, making it impossible to seek in the stream.
	ErrNoSeektable = errors.New("flac: no seek table available")
)

// defaultSeekTableSize is the number of seek points of seek tables generated
// by makeSeekTable.
const defaultSeekTableSize = 100

// New creates a new Stream for accessing the audio samples of r. It reads and
// parses the FLAC signature and the StreamInfo metadata block, but skips all
// other metadata blocks.
//
// Call Stream.Next to parse the frame header of the next audio frame, and
// call Stream.ParseNext to parse the entire next frame including audio
// samples.
func New(r io.Reader) (stream *Stream, err error) {
	br := bufio.NewReader(r)
	stream = &Stream{r: br, md5sum: md5.New()}
	block, err := stream.parseStreamInfo()
	if err != nil {
		return nil, err
	}

	// Skip the remaining metadata blocks.
	for !block.IsLast {
		block, err = meta.New(br)
		if err != nil {
			return stream, err
		}
		if err = block.Skip(); err != nil {
			return stream, err
		}
	}

	stream.br = bits.NewReader(br)
	return stream, nil
}

// NewSeek creates a Stream with seeking enabled; the audio samples of rs may
// be accessed at sample-accurate positions through Stream.Seek. The incoming
// io.ReadSeeker is buffered internally.
func NewSeek(rs io.ReadSeeker) (stream *Stream, err error) {
	br := bufseekio.NewReadSeeker(rs)
	stream = &Stream{r: br, seekTableSize: defaultSeekTableSize, md5sum: md5.New()}

	block, err := stream.parseStreamInfo()
	if err != nil {
		return stream, err
	}

	// Parse the seek table if present; skip all other metadata blocks.
	for !block.IsLast {
		block, err = meta.New(br)
		if err != nil {
			return stream, err
		}
		if block.Type == meta.TypeSeekTable && stream.seekTable == nil {
			if err := block.Parse(); err != nil {
				return stream, err
			}
			stream.seekTable = block.Body.(*meta.SeekTable)
			continue
		}
		if err = block.Skip(); err != nil {
			return stream, err
		}
	}

	// Record the file offset of the first frame header.
	stream.dataStart, err = br.Seek(0, io.SeekCurrent)
	if err != nil {
		return stream, err
	}

	stream.br = bits.NewReader(br)
	return stream, nil
}

// Parse creates a new Stream for accessing the metadata blocks and audio
// samples of r. It reads and parses the FLAC signature and all metadata
// blocks.
//
// Call Stream.Next to parse the frame header of the next audio frame, and
// call Stream.ParseNext to parse the entire next frame including audio
// samples.
func Parse(r io.Reader) (stream *Stream, err error) {
	br := bufio.NewReader(r)
	stream = &Stream{r: br, md5sum: md5.New()}
	block, err := stream.parseStreamInfo()
	if err != nil {
		return nil, err
	}

	// Parse the remaining metadata blocks.
	for !block.IsLast {
		block, err = meta.Parse(br)
		if err != nil {
			return stream, err
		}
		switch block.Type {
		case meta.TypeStreamInfo:
			return stream, errors.New("flac.Parse: duplicated StreamInfo metadata block")
		case meta.TypeSeekTable:
			if stream.seekTable != nil {
				return stream, errors.New("flac.Parse: duplicated SeekTable metadata block")
			}
			stream.seekTable = block.Body.(*meta.SeekTable)
		}
		stream.Blocks = append(stream.Blocks, block)
	}

	stream.br = bits.NewReader(br)
	return stream, nil
}

// Open creates a new Stream for accessing the audio samples of path. It reads
// and parses the FLAC signature and the StreamInfo metadata block, but skips
// all other metadata blocks.
//
// Note: the Close method of the stream must be called when finished using it.
func Open(path string) (stream *Stream, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stream, err = New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return stream, nil
}

// ParseFile creates a new Stream for accessing the metadata blocks and audio
// samples of path. It reads and parses the FLAC signature and all metadata
// blocks.
//
// Note: the Close method of the stream must be called when finished using it.
func ParseFile(path string) (stream *Stream, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stream, err = Parse(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return stream, nil
}

// Close closes the stream gracefully if the underlying io.Reader also
// implements the io.Closer interface.
func (stream *Stream) Close() error {
	if closer, ok := stream.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// parseStreamInfo verifies the signature which marks the beginning of a FLAC
// stream, and parses the StreamInfo metadata block. It returns the StreamInfo
// block, whose IsLast field specifies whether it was the last metadata block
// of the stream.
func (stream *Stream) parseStreamInfo() (block *meta.Block, err error) {
	r := stream.r
	var buf [4]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return block, err
	}

	// Skip prepended ID3v2 data.
	if bytes.Equal(buf[:3], id3Signature) {
		if err := stream.skipID3v2(); err != nil {
			return block, err
		}
		// Second attempt at verifying the signature.
		if _, err = io.ReadFull(r, buf[:]); err != nil {
			return block, err
		}
	}
	if !bytes.Equal(buf[:], flacSignature) {
		return block, fmt.Errorf("flac.parseStreamInfo: %w; expected %q, got %q", ErrInvalidSignature, flacSignature, buf)
	}

	// The first metadata block must be StreamInfo.
	block, err = meta.Parse(r)
	if err != nil {
		return block, err
	}
	si, ok := block.Body.(*meta.StreamInfo)
	if !ok {
		return block, fmt.Errorf("flac.parseStreamInfo: incorrect type of first metadata block; expected *meta.StreamInfo, got %T", block.Body)
	}
	stream.Info = si
	return block, nil
}

// skipID3v2 skips ID3v2 data prepended to FLAC files. The first four bytes of
// the ten byte ID3v2 header have already been consumed by the signature
// check.
func (stream *Stream) skipID3v2() error {
	var buf [6]byte
	if _, err := io.ReadFull(stream.r, buf[:]); err != nil {
		return err
	}
	// The size is encoded as a synchsafe integer.
	size := int64(buf[2])<<21 | int64(buf[3])<<14 | int64(buf[4])<<7 | int64(buf[5])
	_, err := io.CopyN(io.Discard, stream.r, size)
	return err
}

// Next parses the frame header of the next audio frame. It returns io.EOF to
// signal a graceful end of FLAC stream.
//
// Call Frame.Parse to parse the audio samples of its subframes.
func (stream *Stream) Next() (f *frame.Frame, err error) {
	f, err = frame.New(stream.br, stream.Info)
	if err != nil {
		return f, err
	}
	if err = stream.validateFrame(f); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseNext parses the entire next frame including audio samples. It returns
// io.EOF to signal a graceful end of FLAC stream.
func (stream *Stream) ParseNext() (f *frame.Frame, err error) {
	f, err = frame.Parse(stream.br, stream.Info)
	if err != nil {
		return f, err
	}
	if err = stream.validateFrame(f); err != nil {
		return nil, err
	}
	f.Hash(stream.md5sum)
	return f, nil
}

// validateFrame validates the frame header against the StreamInfo metadata
// block and the running decode state.
func (stream *Stream) validateFrame(f *frame.Frame) error {
	// Each frame header independently specifies its channel assignment, which
	// may differ from StreamInfo.NChannels in malformed files. Callers
	// allocate buffers and interleave samples based on StreamInfo.NChannels,
	// so a mismatch is reported as an error rather than left to panic.
	if got, want := f.Channels.Count(), int(stream.Info.NChannels); got != want {
		return fmt.Errorf("flac.Stream: channel count mismatch; frame has %d channels, StreamInfo has %d", got, want)
	}

	// Frames must appear in increasing order, of frame index (fixed
	// blocksize) or first sample number (variable blocksize). The header
	// number is compared directly.
	if stream.hasPrev && f.Num <= stream.prevNum {
		return fmt.Errorf("flac.Stream: frame number (%d) not in increasing order; previous frame number %d", f.Num, stream.prevNum)
	}
	stream.prevNum = f.Num
	stream.hasPrev = true

	// StreamInfo.NSamples declares the total number of inter-channel samples
	// of the stream; 0 means unknown. When non-zero, frame data exceeding the
	// declared count signals a malformed stream.
	stream.samplesDecoded += uint64(f.BlockSize)
	if nsamples := stream.Info.NSamples; nsamples != 0 && stream.samplesDecoded > nsamples {
		return fmt.Errorf("flac.Stream: decoded samples (%d) exceed StreamInfo.NSamples (%d)", stream.samplesDecoded, nsamples)
	}
	return nil
}

// MD5Status is the verification status of the MD5 checksum of decoded audio
// samples.
type MD5Status uint8

// MD5 verification statuses.
const (
	// MD5Skipped specifies that the stored checksum is all-zero; the encoder
	// skipped its computation and there is nothing to verify against.
	MD5Skipped MD5Status = iota
	// MD5Match specifies that the checksum of the decoded audio samples
	// matches the stored checksum.
	MD5Match
	// MD5Mismatch specifies that the checksum of the decoded audio samples
	// differs from the stored checksum.
	MD5Mismatch
)

func (status MD5Status) String() string {
	switch status {
	case MD5Skipped:
		return "skipped"
	case MD5Match:
		return "match"
	case MD5Mismatch:
		return "mismatch"
	}
	return fmt.Sprintf("unknown status (%d)", uint8(status))
}

// VerifyMD5 compares the MD5 checksum of the audio samples decoded so far
// against the checksum stored in the StreamInfo metadata block. Call after
// ParseNext returns io.EOF; an MD5Skipped status is reported when the encoder
// of the stream did not compute a checksum.
//
// The running checksum covers the samples decoded through ParseNext in stream
// order; it has no defined value after Seek.
func (stream *Stream) VerifyMD5() MD5Status {
	var zero [md5.Size]byte
	if stream.Info.MD5sum == zero {
		return MD5Skipped
	}
	var sum [md5.Size]byte
	copy(sum[:], stream.md5sum.Sum(nil))
	if sum == stream.Info.MD5sum {
		return MD5Match
	}
	return MD5Mismatch
}

// Seek seeks to the frame containing the given absolute sample number. The
// return value specifies the first sample number of the frame containing
// sampleNum.
func (stream *Stream) Seek(sampleNum uint64) (uint64, error) {
	if stream.seekTable == nil {
		if stream.seekTableSize <= 0 {
			return 0, ErrNoSeektable
		}
		if err := stream.makeSeekTable(); err != nil {
			return 0, err
		}
	}
	if stream.Info.NSamples != 0 && sampleNum >= stream.Info.NSamples {
		return 0, fmt.Errorf("flac.Stream.Seek: unable to seek to sample number %d", sampleNum)
	}

	point, err := stream.searchFromStart(sampleNum)
	if err != nil {
		return 0, err
	}
	if _, err := stream.br.Seek(stream.dataStart+int64(point.Offset), io.SeekStart); err != nil {
		return 0, err
	}

	// Reset the running decode state to the seek point; the scan below parses
	// forward from there.
	stream.samplesDecoded = point.SampleNum
	stream.hasPrev = false

	for {
		// Record the offset to the start of the frame.
		offset, err := stream.br.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		f, err := stream.ParseNext()
		if err != nil {
			return 0, err
		}
		if f.SampleNumber()+uint64(f.BlockSize) > sampleNum {
			// Rewind to the start of the frame containing the requested
			// sample number; the caller's next ParseNext re-decodes it.
			stream.samplesDecoded = f.SampleNumber()
			stream.hasPrev = false
			_, err := stream.br.Seek(offset, io.SeekStart)
			return f.SampleNumber(), err
		}
	}
}

// searchFromStart searches for the given sample number from the start of the
// seek table, and returns the seek point preceding the first point whose frame
// ends at or after the sample number; that point lies at or before the frame
// containing the sample number. If the sample number is lower than the first
// seek point, the first seek point is returned.
func (stream *Stream) searchFromStart(sampleNum uint64) (meta.SeekPoint, error) {
	var prev meta.SeekPoint
	hasPrev := false
	for _, point := range stream.seekTable.Points {
		if point.SampleNum == meta.PlaceholderPoint {
			break
		}
		if !hasPrev {
			prev = point
			hasPrev = true
		}
		if point.SampleNum+uint64(point.NSamples) >= sampleNum {
			return prev, nil
		}
		prev = point
	}
	if !hasPrev {
		return meta.SeekPoint{}, ErrNoSeektable
	}
	return prev, nil
}

// makeSeekTable creates a seek table with a seek point for each frame of the
// FLAC stream, by scanning every frame once.
func (stream *Stream) makeSeekTable() (err error) {
	// Save the current position to restore after scanning.
	pos, err := stream.br.Seek(0, io.SeekCurrent)
	if err != nil {
		return ErrNoSeeker
	}
	if _, err = stream.br.Seek(stream.dataStart, io.SeekStart); err != nil {
		return err
	}

	// The scan is not caller-visible decoding; save and restore the running
	// decode state around it.
	savedSamples := stream.samplesDecoded
	savedPrev, savedHasPrev := stream.prevNum, stream.hasPrev
	stream.samplesDecoded = 0
	stream.hasPrev = false

	var sampleNum uint64
	var points []meta.SeekPoint
	for {
		off, err := stream.br.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		f, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		points = append(points, meta.SeekPoint{
			SampleNum: sampleNum,
			Offset:    uint64(off - stream.dataStart),
			NSamples:  f.BlockSize,
		})
		sampleNum += uint64(f.BlockSize)
	}

	stream.seekTable = &meta.SeekTable{Points: points}
	stream.samplesDecoded = savedSamples
	stream.prevNum, stream.hasPrev = savedPrev, savedHasPrev

	// Restore the original position.
	_, err = stream.br.Seek(pos, io.SeekStart)
	return err
}
