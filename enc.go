package flac

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/icza/bitio"

	"github.com/karlek/flac/meta"
)

// An Encoder represents a FLAC encoder.
type Encoder struct {
	// FLAC stream of the encoder.
	*Stream
	// Underlying io.Writer to the output stream.
	w io.Writer
	// In-memory sink buffering the output stream when w does not implement
	// io.WriteSeeker; flushed to w on Close, after the StreamInfo patch-up.
	buf *bytes.Buffer
	// Destination of frame writes; either w or buf.
	out io.Writer
	// Encoder options.
	opts Options
	// Frame number of the next frame if the block size is fixed, and the
	// first sample number of the next frame otherwise.
	curNum uint64
	// Nominal block size of fixed-blocksize streams, established by the first
	// call to Write.
	nominalBlockSize int
	// Specifies if a block shorter than the nominal block size has been
	// written; only the final block may be shorter.
	sawShort bool
	// Specifies if any frame has been written.
	sawFrame bool
	// MD5 running hash of unencoded audio samples.
	md5sum hash.Hash
	// Specifies if Close has been called.
	closed bool
}

// Options configure the search space of the encoder. The zero value of
// unset fields is replaced by the corresponding default.
type Options struct {
	// Strategy selects the subframe prediction strategies explored per block.
	Strategy Strategy
	// MaxRiceOrder bounds the Rice partition orders explored; between 0 and
	// 15. Defaults to 8.
	MaxRiceOrder int
	// LPCRoundVariables is the number of quantized predictor coefficients for
	// which floor/ceil rounding variants are enumerated, picking the variant
	// of least Rice coded size; between 0 and 30, of which at most 4 are
	// enumerated.
	LPCRoundVariables int
	// VariableBlockSize enables variable-blocksize streams, whose frame
	// headers carry the first sample number of the frame rather than the
	// frame index. In fixed-blocksize streams (the default) every block but
	// the final one must share the size of the first.
	VariableBlockSize bool
	// NoMD5 disables the MD5 running hash of the unencoded audio samples;
	// the StreamInfo checksum is left all-zero, which decoders report as
	// skipped.
	NoMD5 bool
}

// Strategy selects the subframe prediction strategies explored by the
// encoder.
type Strategy uint8

// Encoder strategies.
const (
	// StrategySubset explores constant, verbatim, fixed prediction of orders
	// 0 through 4, and FIR linear prediction of orders up to 12, keeping the
	// stream within the FLAC subset.
	StrategySubset Strategy = iota
	// StrategySubsetFixed explores constant, verbatim and fixed prediction
	// only.
	StrategySubsetFixed
	// StrategyLaxMedium additionally explores FIR linear prediction of orders
	// up to 16; the stream may fall outside the FLAC subset.
	StrategyLaxMedium
	// StrategyLaxBest explores FIR linear prediction of orders up to 32.
	StrategyLaxBest
)

// maxLPCOrder returns the maximum FIR linear prediction order explored by the
// strategy.
func (strategy Strategy) maxLPCOrder() int {
	switch strategy {
	case StrategySubsetFixed:
		return 0
	case StrategyLaxMedium:
		return 16
	case StrategyLaxBest:
		return 32
	}
	return 12
}

// NewEncoder returns a new FLAC encoder for the given metadata StreamInfo
// block and optional metadata blocks, using the default encoder options. The
// FLAC signature and metadata blocks are written to w upon creation.
//
// The caller provides the sample rate, channel count and bits-per-sample of
// info; block sizes, frame sizes, the total sample count and the MD5 checksum
// are maintained by the encoder and finalised by Close. If w implements
// io.WriteSeeker the stream is written directly and StreamInfo is patched in
// place; otherwise the stream is buffered in memory and flushed on Close.
func NewEncoder(w io.Writer, info *meta.StreamInfo, blocks ...*meta.Block) (*Encoder, error) {
	return NewEncoderOptions(w, &Options{}, info, blocks...)
}

// NewEncoderOptions returns a new FLAC encoder configured by opts. See
// NewEncoder for a description of the remaining arguments.
func NewEncoderOptions(w io.Writer, opts *Options, info *meta.StreamInfo, blocks ...*meta.Block) (*Encoder, error) {
	if info.NChannels < 1 || info.NChannels > 8 {
		return nil, fmt.Errorf("flac.NewEncoder: invalid number of channels; expected >= 1 and <= 8, got %d", info.NChannels)
	}
	if info.BitsPerSample < 4 || info.BitsPerSample > 32 {
		return nil, fmt.Errorf("flac.NewEncoder: invalid bits-per-sample; expected >= 4 and <= 32, got %d", info.BitsPerSample)
	}
	if info.SampleRate == 0 || info.SampleRate > 655350 {
		return nil, fmt.Errorf("flac.NewEncoder: invalid sample rate; expected > 0 and <= 655350, got %d", info.SampleRate)
	}
	if opts.MaxRiceOrder < 0 || opts.MaxRiceOrder > 15 {
		return nil, fmt.Errorf("flac.NewEncoder: invalid max Rice partition order; expected >= 0 and <= 15, got %d", opts.MaxRiceOrder)
	}
	if opts.LPCRoundVariables < 0 || opts.LPCRoundVariables > 30 {
		return nil, fmt.Errorf("flac.NewEncoder: invalid number of LPC rounding variables; expected >= 0 and <= 30, got %d", opts.LPCRoundVariables)
	}
	enc := &Encoder{
		Stream: &Stream{
			Info:   info,
			Blocks: blocks,
		},
		w:      w,
		opts:   *opts,
		md5sum: md5.New(),
	}
	if enc.opts.MaxRiceOrder == 0 {
		enc.opts.MaxRiceOrder = 8
	}
	enc.out = w
	if _, ok := w.(io.WriteSeeker); !ok {
		// The final StreamInfo patch-up requires a seekable sink; buffer the
		// stream in memory and flush on Close.
		enc.buf = new(bytes.Buffer)
		enc.out = enc.buf
	}

	// Zero the running StreamInfo statistics; they are filled while encoding
	// and written in their final form by Close.
	info.BlockSizeMin = 0
	info.BlockSizeMax = 0
	info.FrameSizeMin = 0
	info.FrameSizeMax = 0
	info.NSamples = 0
	info.MD5sum = [16]byte{}

	bw := bitio.NewWriter(enc.out)
	if _, err := bw.Write(flacSignature); err != nil {
		return nil, err
	}
	if err := encodeStreamInfo(bw, info, len(blocks) == 0); err != nil {
		return nil, err
	}
	for i, block := range blocks {
		if err := encodeBlock(bw, block, i == len(blocks)-1); err != nil {
			return nil, err
		}
	}
	// Flush pending writes of metadata blocks.
	if _, err := bw.Align(); err != nil {
		return nil, err
	}
	return enc, nil
}

// Write encodes the given block of audio samples, one slice per channel, as a
// single audio frame. All channels must hold the same number of samples,
// between 1 and 65535. The encoder explores the configured prediction
// strategies and stereo decorrelation modes and writes the smallest
// representation found.
func (enc *Encoder) Write(samples [][]int32) error {
	if enc.closed {
		return errors.New("flac.Encoder.Write: encoder is closed")
	}
	nchannels := int(enc.Info.NChannels)
	if len(samples) != nchannels {
		return fmt.Errorf("flac.Encoder.Write: number of sample slices mismatch; expected %d (one per channel), got %d", nchannels, len(samples))
	}
	nsamples := len(samples[0])
	if nsamples < 1 || nsamples > 65535 {
		return fmt.Errorf("flac.Encoder.Write: invalid number of samples per channel; expected >= 1 and <= 65535, got %d", nsamples)
	}
	for i := range samples {
		if len(samples[i]) != nsamples {
			return fmt.Errorf("flac.Encoder.Write: invalid number of samples in channel %d; expected %d, got %d", i, nsamples, len(samples[i]))
		}
	}
	if !enc.opts.VariableBlockSize {
		if !enc.sawFrame {
			enc.nominalBlockSize = nsamples
		}
		if enc.sawShort {
			return errors.New("flac.Encoder.Write: only the final block of a fixed-blocksize stream may be shorter than the nominal block size")
		}
		switch {
		case nsamples > enc.nominalBlockSize:
			return fmt.Errorf("flac.Encoder.Write: block size (%d) exceeds the nominal block size (%d) of the fixed-blocksize stream", nsamples, enc.nominalBlockSize)
		case nsamples < enc.nominalBlockSize:
			enc.sawShort = true
		}
	}
	enc.sawFrame = true

	if !enc.opts.NoMD5 {
		enc.hashSamples(samples)
	}
	if err := enc.encodeFrame(samples); err != nil {
		return err
	}

	// Maintain the running StreamInfo statistics.
	info := enc.Info
	if info.BlockSizeMin == 0 || uint16(nsamples) < info.BlockSizeMin {
		info.BlockSizeMin = uint16(nsamples)
	}
	if uint16(nsamples) > info.BlockSizeMax {
		info.BlockSizeMax = uint16(nsamples)
	}
	info.NSamples += uint64(nsamples)
	return nil
}

// hashSamples adds the unencoded audio samples to the MD5 running hash, in
// the interleaved little-endian byte order of the StreamInfo checksum. Sample
// sizes which are not a multiple of 8 bits have no defined byte serialisation
// and leave the checksum untouched.
func (enc *Encoder) hashSamples(samples [][]int32) {
	var buf [4]byte
	nbytes := int(enc.Info.BitsPerSample / 8)
	if enc.Info.BitsPerSample%8 != 0 {
		return
	}
	for i := 0; i < len(samples[0]); i++ {
		for _, channel := range samples {
			sample := channel[i]
			for j := 0; j < nbytes; j++ {
				buf[j] = byte(sample >> (8 * j))
			}
			enc.md5sum.Write(buf[:nbytes])
		}
	}
}

// Close finalises the stream: it rewrites the StreamInfo metadata block with
// the final block sizes, frame sizes, sample count and MD5 checksum, and
// flushes the in-memory buffer when the sink is not seekable. It does not
// close the underlying io.Writer.
func (enc *Encoder) Close() error {
	if enc.closed {
		return nil
	}
	enc.closed = true

	if !enc.opts.NoMD5 {
		sum := enc.md5sum.Sum(nil)
		copy(enc.Info.MD5sum[:], sum)
	}

	if ws, ok := enc.w.(io.WriteSeeker); ok {
		// Rewrite the StreamInfo metadata block in place.
		if _, err := ws.Seek(int64(len(flacSignature)), io.SeekStart); err != nil {
			return err
		}
		bw := bitio.NewWriter(ws)
		if err := encodeStreamInfo(bw, enc.Info, len(enc.Blocks) == 0); err != nil {
			return err
		}
		if _, err := bw.Align(); err != nil {
			return err
		}
		_, err := ws.Seek(0, io.SeekEnd)
		return err
	}

	// Patch the StreamInfo metadata block within the in-memory buffer, then
	// flush the buffered stream.
	infoBuf := new(bytes.Buffer)
	bw := bitio.NewWriter(infoBuf)
	if err := encodeStreamInfo(bw, enc.Info, len(enc.Blocks) == 0); err != nil {
		return err
	}
	if _, err := bw.Align(); err != nil {
		return err
	}
	stream := enc.buf.Bytes()
	copy(stream[len(flacSignature):], infoBuf.Bytes())
	_, err := io.Copy(enc.w, bytes.NewReader(stream))
	return err
}
