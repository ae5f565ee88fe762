package flac_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/karlek/flac"
)

func TestSkipID3v2(t *testing.T) {
	block := [][]int32{noise(512, 16, 61)}
	data := encodeStream(t, nil, 44100, 1, 16, block)

	// Prepend an ID3v2 container: a 10 byte header with a synchsafe size,
	// followed by that many bytes of tag data.
	tag := []byte("0123456789junkdata")
	id3 := []byte{'I', 'D', '3', 3, 0, 0, 0, 0, 0, byte(len(tag))}
	var buf bytes.Buffer
	buf.Write(id3)
	buf.Write(tag)
	buf.Write(data)

	stream, err := flac.Parse(&buf)
	if err != nil {
		t.Fatalf("unable to parse stream with prepended ID3v2 data; %v", err)
	}
	var got []int32
	for {
		f, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatal(err)
		}
		got = append(got, f.Subframes[0].Samples...)
	}
	requireEqualSamples(t, [][][]int32{block}, [][]int32{got})
}

func TestNew(t *testing.T) {
	// New skips all metadata blocks but StreamInfo.
	block := [][]int32{noise(512, 16, 67)}
	data := encodeStream(t, nil, 8000, 1, 16, block)
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if stream.Info.SampleRate != 8000 {
		t.Errorf("sample rate mismatch; expected 8000, got %d", stream.Info.SampleRate)
	}
	if stream.Info.NSamples != 512 {
		t.Errorf("total sample count mismatch; expected 512, got %d", stream.Info.NSamples)
	}
	f, err := stream.ParseNext()
	if err != nil {
		t.Fatal(err)
	}
	if int(f.BlockSize) != 512 {
		t.Errorf("block size mismatch; expected 512, got %d", f.BlockSize)
	}
	if _, err := stream.ParseNext(); err != io.EOF {
		t.Errorf("error mismatch; expected io.EOF, got %v", err)
	}
}

func TestStreamInfoStats(t *testing.T) {
	blocks := [][][]int32{
		{noise(4096, 16, 71)},
		{noise(4096, 16, 72)},
		{noise(123, 16, 73)},
	}
	data := encodeStream(t, nil, 44100, 1, 16, blocks...)
	stream, _, _ := decodeStream(t, data)
	info := stream.Info
	if info.BlockSizeMin != 123 || info.BlockSizeMax != 4096 {
		t.Errorf("block size bounds mismatch; expected [123, 4096], got [%d, %d]", info.BlockSizeMin, info.BlockSizeMax)
	}
	if info.FrameSizeMin == 0 || info.FrameSizeMax == 0 || info.FrameSizeMin > info.FrameSizeMax {
		t.Errorf("invalid frame size bounds [%d, %d]", info.FrameSizeMin, info.FrameSizeMax)
	}
	if want := uint64(4096 + 4096 + 123); info.NSamples != want {
		t.Errorf("total sample count mismatch; expected %d, got %d", want, info.NSamples)
	}
}
