package flac_test

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/karlek/flac"
	"github.com/karlek/flac/frame"
	"github.com/karlek/flac/meta"
)

// noise returns n deterministic pseudo-random samples within the range of the
// given bits-per-sample.
func noise(n int, bps uint, seed uint64) []int32 {
	samples := make([]int32, n)
	x := seed*2862933555777941757 + 3037000493
	for i := range samples {
		x = x*2862933555777941757 + 3037000493
		samples[i] = int32(int64(x>>16)%(1<<(bps-1))) // within [-(2^(bps-1)-1), 2^(bps-1)-1]
	}
	return samples
}

// encodeStream encodes the given blocks of audio samples and returns the FLAC
// stream bytes.
func encodeStream(t *testing.T, opts *flac.Options, sampleRate uint32, nchannels, bps int, blocks ...[][]int32) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	info := &meta.StreamInfo{
		SampleRate:    sampleRate,
		NChannels:     uint8(nchannels),
		BitsPerSample: uint8(bps),
	}
	if opts == nil {
		opts = &flac.Options{}
	}
	enc, err := flac.NewEncoderOptions(buf, opts, info)
	if err != nil {
		t.Fatalf("unable to create encoder; %v", err)
	}
	for _, block := range blocks {
		if err := enc.Write(block); err != nil {
			t.Fatalf("unable to encode block; %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("unable to close encoder; %v", err)
	}
	return buf.Bytes()
}

// decodeStream decodes the given FLAC stream bytes and returns the stream,
// its audio frames, and the decoded samples of each channel.
func decodeStream(t *testing.T, data []byte) (*flac.Stream, []*frame.Frame, [][]int32) {
	t.Helper()
	stream, err := flac.Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unable to parse stream; %v", err)
	}
	samples := make([][]int32, stream.Info.NChannels)
	var frames []*frame.Frame
	for {
		f, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("unable to parse frame; %v", err)
		}
		frames = append(frames, f)
		for ch, subframe := range f.Subframes {
			samples[ch] = append(samples[ch], subframe.Samples...)
		}
	}
	return stream, frames, samples
}

// requireEqualSamples fails the test when the decoded samples differ from the
// input blocks.
func requireEqualSamples(t *testing.T, blocks [][][]int32, got [][]int32) {
	t.Helper()
	for ch := range got {
		var want []int32
		for _, block := range blocks {
			want = append(want, block[ch]...)
		}
		if len(want) != len(got[ch]) {
			t.Fatalf("sample count mismatch in channel %d; expected %d, got %d", ch, len(want), len(got[ch]))
		}
		for i := range want {
			if want[i] != got[ch][i] {
				t.Fatalf("sample mismatch in channel %d at index %d; expected %d, got %d", ch, i, want[i], got[ch][i])
			}
		}
	}
}

func TestRoundTrip(t *testing.T) {
	sampleRates := []uint32{8000, 44100, 48000, 96000, 192000}
	for _, bps := range []uint{8, 16, 24} {
		for _, nchannels := range []int{1, 2, 8} {
			for _, sampleRate := range sampleRates {
				name := fmt.Sprintf("bps=%d/channels=%d/rate=%d", bps, nchannels, sampleRate)
				t.Run(name, func(t *testing.T) {
					block := make([][]int32, nchannels)
					for ch := range block {
						block[ch] = noise(512, bps, uint64(bps)*1000+uint64(ch))
					}
					data := encodeStream(t, nil, sampleRate, nchannels, int(bps), block)
					stream, _, got := decodeStream(t, data)
					requireEqualSamples(t, [][][]int32{block}, got)
					if status := stream.VerifyMD5(); status != flac.MD5Match {
						t.Errorf("MD5 status mismatch; expected %v, got %v", flac.MD5Match, status)
					}
				})
			}
		}
	}
}

func TestRoundTripBlockSizes(t *testing.T) {
	for _, blockSize := range []int{1, 16, 192, 576, 4096, 4100, 65535} {
		t.Run(fmt.Sprintf("blocksize=%d", blockSize), func(t *testing.T) {
			block := [][]int32{noise(blockSize, 16, uint64(blockSize))}
			data := encodeStream(t, nil, 44100, 1, 16, block)
			stream, frames, got := decodeStream(t, data)
			requireEqualSamples(t, [][][]int32{block}, got)
			if got, want := int(frames[0].BlockSize), blockSize; got != want {
				t.Errorf("block size mismatch; expected %d, got %d", want, got)
			}
			if status := stream.VerifyMD5(); status != flac.MD5Match {
				t.Errorf("MD5 status mismatch; expected %v, got %v", flac.MD5Match, status)
			}
		})
	}
}

func TestConstantSubframe(t *testing.T) {
	block := [][]int32{make([]int32, 4096)}
	for i := range block[0] {
		block[0][i] = 1000
	}
	data := encodeStream(t, nil, 44100, 1, 16, block)
	_, frames, got := decodeStream(t, data)
	requireEqualSamples(t, [][][]int32{block}, got)
	if pred := frames[0].Subframes[0].Pred; pred != frame.PredConstant {
		t.Errorf("prediction method mismatch; expected %v, got %v", frame.PredConstant, pred)
	}
}

func TestRampFixedPrediction(t *testing.T) {
	block := [][]int32{make([]int32, 4096)}
	for i := range block[0] {
		block[0][i] = int32(i)
	}
	data := encodeStream(t, nil, 44100, 1, 16, block)
	_, frames, got := decodeStream(t, data)
	requireEqualSamples(t, [][][]int32{block}, got)
	if pred := frames[0].Subframes[0].Pred; pred != frame.PredFixed {
		t.Errorf("prediction method mismatch; expected %v, got %v", frame.PredFixed, pred)
	}
}

func TestStereoSilence(t *testing.T) {
	block := [][]int32{make([]int32, 4096), make([]int32, 4096)}
	data := encodeStream(t, nil, 44100, 2, 16, block)
	stream, frames, got := decodeStream(t, data)
	requireEqualSamples(t, [][][]int32{block}, got)

	// The stored checksum covers the interleaved little-endian samples:
	// 2 channels * 4096 samples * 2 bytes, all zero.
	want := md5.Sum(make([]byte, 2*4096*2))
	if stream.Info.MD5sum != want {
		t.Errorf("MD5 checksum mismatch; expected %032x, got %032x", want, stream.Info.MD5sum)
	}
	if channels := frames[0].Channels; channels != frame.ChannelsLR {
		t.Errorf("channel assignment mismatch; expected %v, got %v", frame.ChannelsLR, channels)
	}
	for ch, subframe := range frames[0].Subframes {
		if subframe.Pred != frame.PredConstant {
			t.Errorf("prediction method mismatch in channel %d; expected %v, got %v", ch, frame.PredConstant, subframe.Pred)
		}
	}
}

func TestStereoDecorrelation(t *testing.T) {
	// The right channel tracks the left channel with tiny divergence, so a
	// side-coded stereo mode is cheaper than independent channels.
	n := 4096
	left := noise(n, 16, 7)
	right := make([]int32, n)
	tiny := noise(n, 2, 11)
	for i := range right {
		right[i] = left[i] + tiny[i]
	}
	block := [][]int32{left, right}
	data := encodeStream(t, nil, 44100, 2, 16, block)
	_, frames, got := decodeStream(t, data)
	requireEqualSamples(t, [][][]int32{block}, got)
	switch channels := frames[0].Channels; channels {
	case frame.ChannelsLeftSide, frame.ChannelsSideRight, frame.ChannelsMidSide:
		// Decorrelated as expected.
	default:
		t.Errorf("channel assignment mismatch; expected a side-coded stereo mode, got %v", channels)
	}
}

func TestWastedBits(t *testing.T) {
	// Every sample shares 3 trailing zero bits.
	block := [][]int32{make([]int32, 4096)}
	for i := range block[0] {
		block[0][i] = int32(i%977-488) * 8
	}
	data := encodeStream(t, nil, 44100, 1, 16, block)
	_, frames, got := decodeStream(t, data)
	requireEqualSamples(t, [][][]int32{block}, got)
	if wasted := frames[0].Subframes[0].Wasted; wasted != 3 {
		t.Errorf("wasted bits mismatch; expected 3, got %d", wasted)
	}
}

func TestRiceEscape(t *testing.T) {
	// The first half of the block is silence; the second half is wideband
	// noise of 30-bit magnitude, which no Rice parameter can represent more
	// compactly than escaped verbatim partitions.
	n := 512
	block := [][]int32{make([]int32, n)}
	block[0][0] = 1 // defeat wasted bits detection.
	x := uint64(23)
	for i := n / 2; i < n; i++ {
		x = x*2862933555777941757 + 3037000493
		sample := int32(1<<29 | x&(1<<29-1))
		if x&(1<<63) != 0 {
			sample = -sample
		}
		block[0][i] = sample
	}
	data := encodeStream(t, nil, 44100, 1, 32, block)
	_, frames, got := decodeStream(t, data)
	requireEqualSamples(t, [][][]int32{block}, got)

	rice := frames[0].Subframes[0].RiceSubframe
	if rice == nil {
		t.Fatalf("prediction method mismatch; expected Rice coded residuals, got %v", frames[0].Subframes[0].Pred)
	}
	escaped := false
	for _, partition := range rice.Partitions {
		if partition.EscapedBitsPerSample > 0 {
			escaped = true
		}
	}
	if !escaped {
		t.Error("expected at least one escaped Rice partition, got none")
	}
}

func TestFrameCRCSensitivity(t *testing.T) {
	block := [][]int32{make([]int32, 4096)}
	for i := range block[0] {
		block[0][i] = 1001
	}
	data := encodeStream(t, nil, 44100, 1, 16, block)

	// Flip a single payload bit of the frame; the third-to-last byte holds
	// sample bits, directly before the CRC-16 footer.
	data[len(data)-3] ^= 0x80
	stream, err := flac.Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unable to parse stream; %v", err)
	}
	_, err = stream.ParseNext()
	if !errors.Is(err, frame.ErrInvalidCRC16) {
		t.Errorf("error mismatch; expected %v, got %v", frame.ErrInvalidCRC16, err)
	}
}

func TestInvalidSignature(t *testing.T) {
	block := [][]int32{noise(256, 16, 3)}
	data := encodeStream(t, nil, 44100, 1, 16, block)
	data[3] = 'D' // "fLaD"
	if _, err := flac.Parse(bytes.NewReader(data)); !errors.Is(err, flac.ErrInvalidSignature) {
		t.Errorf("error mismatch; expected %v, got %v", flac.ErrInvalidSignature, err)
	}
}

func TestDeterministicReencode(t *testing.T) {
	blocks := [][][]int32{
		{noise(4096, 16, 5), noise(4096, 16, 6)},
		{noise(4096, 16, 7), noise(4096, 16, 8)},
		{noise(100, 16, 9), noise(100, 16, 10)},
	}
	data := encodeStream(t, nil, 44100, 2, 16, blocks...)
	_, frames, decoded := decodeStream(t, data)
	requireEqualSamples(t, blocks, decoded)

	// Re-encoding the decoded samples with the same options yields a byte
	// identical stream, as the encoder search is deterministic.
	reblocks := make([][][]int32, len(frames))
	off := 0
	for i, f := range frames {
		n := int(f.BlockSize)
		reblocks[i] = [][]int32{decoded[0][off : off+n], decoded[1][off : off+n]}
		off += n
	}
	redata := encodeStream(t, nil, 44100, 2, 16, reblocks...)
	if !bytes.Equal(data, redata) {
		t.Error("re-encoded stream differs from original stream")
	}
}

func TestEncoderStrategies(t *testing.T) {
	strategies := []flac.Strategy{flac.StrategySubset, flac.StrategySubsetFixed, flac.StrategyLaxMedium, flac.StrategyLaxBest}
	block := [][]int32{noise(4096, 16, 13)}
	for _, strategy := range strategies {
		t.Run(fmt.Sprintf("strategy=%d", strategy), func(t *testing.T) {
			opts := &flac.Options{Strategy: strategy, LPCRoundVariables: 2}
			data := encodeStream(t, opts, 44100, 1, 16, block)
			stream, _, got := decodeStream(t, data)
			requireEqualSamples(t, [][][]int32{block}, got)
			if status := stream.VerifyMD5(); status != flac.MD5Match {
				t.Errorf("MD5 status mismatch; expected %v, got %v", flac.MD5Match, status)
			}
		})
	}
}

func TestVariableBlockSize(t *testing.T) {
	opts := &flac.Options{VariableBlockSize: true}
	blocks := [][][]int32{
		{noise(4096, 16, 17)},
		{noise(1024, 16, 18)},
		{noise(2048, 16, 19)},
	}
	data := encodeStream(t, opts, 44100, 1, 16, blocks...)
	_, frames, got := decodeStream(t, data)
	requireEqualSamples(t, blocks, got)

	wantNum := uint64(0)
	for i, f := range frames {
		if f.HasFixedBlockSize {
			t.Fatalf("frame %d: expected variable-blocksize frame", i)
		}
		if f.Num != wantNum {
			t.Errorf("frame %d: sample number mismatch; expected %d, got %d", i, wantNum, f.Num)
		}
		wantNum += uint64(f.BlockSize)
	}
}

func TestFixedBlockSize(t *testing.T) {
	blocks := [][][]int32{
		{noise(4096, 16, 20)},
		{noise(4096, 16, 21)},
		{noise(1000, 16, 22)},
	}
	data := encodeStream(t, nil, 44100, 1, 16, blocks...)
	_, frames, got := decodeStream(t, data)
	requireEqualSamples(t, blocks, got)
	for i, f := range frames {
		if !f.HasFixedBlockSize {
			t.Fatalf("frame %d: expected fixed-blocksize frame", i)
		}
		if f.Num != uint64(i) {
			t.Errorf("frame %d: frame number mismatch; expected %d, got %d", i, i, f.Num)
		}
	}
}

func TestFixedBlockSizeShortBlock(t *testing.T) {
	buf := new(bytes.Buffer)
	info := &meta.StreamInfo{SampleRate: 44100, NChannels: 1, BitsPerSample: 16}
	enc, err := flac.NewEncoder(buf, info)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Write([][]int32{noise(4096, 16, 1)}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Write([][]int32{noise(100, 16, 2)}); err != nil {
		t.Fatal(err)
	}
	// Only the final block may be shorter than the nominal block size.
	if err := enc.Write([][]int32{noise(4096, 16, 3)}); err == nil {
		t.Error("expected error writing a block after a short block, got nil")
	}
}

func TestMD5Skipped(t *testing.T) {
	opts := &flac.Options{NoMD5: true}
	block := [][]int32{noise(512, 16, 29)}
	data := encodeStream(t, opts, 44100, 1, 16, block)
	stream, _, got := decodeStream(t, data)
	requireEqualSamples(t, [][][]int32{block}, got)
	if status := stream.VerifyMD5(); status != flac.MD5Skipped {
		t.Errorf("MD5 status mismatch; expected %v, got %v", flac.MD5Skipped, status)
	}
}

func TestMD5Mismatch(t *testing.T) {
	block := [][]int32{noise(512, 16, 31)}
	data := encodeStream(t, nil, 44100, 1, 16, block)
	// Corrupt a byte of the stored MD5 checksum, which spans bytes 26-41 of
	// the stream (magic, block header, then the trailing 16 bytes of the
	// 34-byte StreamInfo body).
	data[30] ^= 0xFF
	stream, _, _ := decodeStream(t, data)
	if status := stream.VerifyMD5(); status != flac.MD5Mismatch {
		t.Errorf("MD5 status mismatch; expected %v, got %v", flac.MD5Mismatch, status)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	blocks := []*meta.Block{
		{
			Header: meta.Header{Type: meta.TypeVorbisComment},
			Body: &meta.VorbisComment{
				Vendor: "test encoder",
				Tags:   [][2]string{{"TITLE", "silence"}, {"ARTIST", "nobody"}},
			},
		},
		{
			Header: meta.Header{Type: meta.TypeApplication},
			Body:   &meta.Application{ID: 0x41544348, Data: []byte("ticket")},
		},
		{
			Header: meta.Header{Type: meta.TypeSeekTable},
			Body: &meta.SeekTable{Points: []meta.SeekPoint{
				{SampleNum: 0, Offset: 0, NSamples: 512},
				{SampleNum: 512, Offset: 1000, NSamples: 512},
			}},
		},
		{
			Header: meta.Header{Type: meta.TypePadding, Length: 64},
			Body:   nil,
		},
	}
	buf := new(bytes.Buffer)
	info := &meta.StreamInfo{SampleRate: 44100, NChannels: 1, BitsPerSample: 16}
	enc, err := flac.NewEncoder(buf, info, blocks...)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Write([][]int32{noise(512, 16, 37)}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	stream, err := flac.Parse(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(stream.Blocks) != len(blocks) {
		t.Fatalf("metadata block count mismatch; expected %d, got %d", len(blocks), len(stream.Blocks))
	}
	if got := stream.Blocks[0].Body.(*meta.VorbisComment); got.Vendor != "test encoder" || len(got.Tags) != 2 {
		t.Errorf("VorbisComment mismatch; got %#v", got)
	}
	if got := stream.Blocks[1].Body.(*meta.Application); got.ID != 0x41544348 || string(got.Data) != "ticket" {
		t.Errorf("Application mismatch; got %#v", got)
	}
	if got := stream.Blocks[2].Body.(*meta.SeekTable); len(got.Points) != 2 || got.Points[1].SampleNum != 512 {
		t.Errorf("SeekTable mismatch; got %#v", got)
	}
	if got := stream.Blocks[3]; got.Type != meta.TypePadding || got.Length != 64 {
		t.Errorf("Padding mismatch; got %#v", got.Header)
	}
}

func TestSeek(t *testing.T) {
	const blockSize = 4096
	var blocks [][][]int32
	for i := 0; i < 8; i++ {
		blocks = append(blocks, [][]int32{noise(blockSize, 16, uint64(40+i))})
	}
	data := encodeStream(t, nil, 44100, 1, 16, blocks...)

	stream, err := flac.NewSeek(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	golden := []struct {
		sampleNum uint64
		want      uint64
	}{
		{sampleNum: 0, want: 0},
		{sampleNum: 9000, want: 8192},
		{sampleNum: 20000, want: 16384},
		{sampleNum: 8*blockSize - 1, want: 7 * blockSize},
		{sampleNum: 1, want: 0},
	}
	for _, g := range golden {
		got, err := stream.Seek(g.sampleNum)
		if err != nil {
			t.Fatalf("unable to seek to sample %d; %v", g.sampleNum, err)
		}
		if got != g.want {
			t.Errorf("seek to sample %d: frame start mismatch; expected %d, got %d", g.sampleNum, g.want, got)
		}
		f, err := stream.ParseNext()
		if err != nil {
			t.Fatalf("unable to parse frame after seek; %v", err)
		}
		if f.SampleNumber() != g.want {
			t.Errorf("frame after seek to %d: first sample mismatch; expected %d, got %d", g.sampleNum, g.want, f.SampleNumber())
		}
	}
}

func BenchmarkEncode(b *testing.B) {
	block := [][]int32{noise(4096, 16, 51), noise(4096, 16, 52)}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		info := &meta.StreamInfo{SampleRate: 44100, NChannels: 2, BitsPerSample: 16}
		enc, err := flac.NewEncoder(io.Discard, info)
		if err != nil {
			b.Fatal(err)
		}
		if err := enc.Write(block); err != nil {
			b.Fatal(err)
		}
		if err := enc.Close(); err != nil {
			b.Fatal(err)
		}
	}
}
