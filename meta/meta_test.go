package meta_test

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/karlek/flac/meta"
)

// streamInfoBlock returns the raw bytes of a StreamInfo metadata block with
// the given field values.
func streamInfoBlock(isLast bool, want *meta.StreamInfo) []byte {
	buf := new(bytes.Buffer)
	hdr := uint32(0)<<24 | 34
	if isLast {
		hdr |= 0x80000000
	}
	binary.Write(buf, binary.BigEndian, hdr)
	binary.Write(buf, binary.BigEndian, want.BlockSizeMin)
	binary.Write(buf, binary.BigEndian, uint64(want.BlockSizeMax)<<48|uint64(want.FrameSizeMin)<<24|uint64(want.FrameSizeMax))
	binary.Write(buf, binary.BigEndian, uint64(want.SampleRate)<<44|uint64(want.NChannels-1)<<41|uint64(want.BitsPerSample-1)<<36|want.NSamples)
	buf.Write(want.MD5sum[:])
	return buf.Bytes()
}

func TestParseStreamInfo(t *testing.T) {
	want := &meta.StreamInfo{
		BlockSizeMin:  4096,
		BlockSizeMax:  4096,
		FrameSizeMin:  14,
		FrameSizeMax:  1781,
		SampleRate:    44100,
		NChannels:     2,
		BitsPerSample: 16,
		NSamples:      44100 * 60,
		MD5sum:        [16]byte{0x95, 0xBA, 0xE5, 0xE2, 0xC7, 0x45, 0xBB, 0x3C, 0xA9, 0x5C, 0xA3, 0xB1, 0x35, 0xC9, 0x43, 0xF4},
	}
	block, err := meta.Parse(bytes.NewReader(streamInfoBlock(true, want)))
	if err != nil {
		t.Fatalf("unable to parse StreamInfo metadata block; %v", err)
	}
	if block.Type != meta.TypeStreamInfo {
		t.Fatalf("block type mismatch; expected %v, got %v", meta.TypeStreamInfo, block.Type)
	}
	if !block.IsLast {
		t.Fatal("IsLast mismatch; expected true, got false")
	}
	got := block.Body.(*meta.StreamInfo)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("StreamInfo mismatch; expected %#v, got %#v", want, got)
	}
}

func TestParseStreamInfoInvalidSampleRate(t *testing.T) {
	si := &meta.StreamInfo{
		BlockSizeMin:  4096,
		BlockSizeMax:  4096,
		SampleRate:    44100,
		NChannels:     2,
		BitsPerSample: 16,
	}
	data := streamInfoBlock(true, si)
	// Zero the 20-bit sample rate field, which spans bytes 14-16 of the
	// block (bits 44-63 of the third field group).
	data[4+10] = 0
	data[4+11] = 0
	data[4+12] &= 0x0F
	if _, err := meta.Parse(bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for sample rate 0, got nil")
	}
}

func TestParseInvalidBlockType(t *testing.T) {
	// Block type 127 is invalid, to avoid confusion with a frame sync code.
	data := []byte{0xFF, 0x00, 0x00, 0x00}
	if _, err := meta.New(bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for block type 127, got nil")
	}
}

func TestParseSeekTable(t *testing.T) {
	want := &meta.SeekTable{
		Points: []meta.SeekPoint{
			{SampleNum: 0, Offset: 0, NSamples: 4096},
			{SampleNum: 4096, Offset: 9514, NSamples: 4096},
			{SampleNum: meta.PlaceholderPoint, Offset: 0, NSamples: 0},
		},
	}
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(0x80000000|3<<24|18*3))
	for _, point := range want.Points {
		binary.Write(buf, binary.BigEndian, point)
	}
	block, err := meta.Parse(buf)
	if err != nil {
		t.Fatalf("unable to parse SeekTable metadata block; %v", err)
	}
	got := block.Body.(*meta.SeekTable)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SeekTable mismatch; expected %#v, got %#v", want, got)
	}
}

func TestParseSeekTableDescending(t *testing.T) {
	golden := [][]meta.SeekPoint{
		{
			{SampleNum: 4096, Offset: 9514, NSamples: 4096},
			{SampleNum: 0, Offset: 0, NSamples: 4096},
		},
		// The ordering of real seek points holds across intervening
		// placeholder points.
		{
			{SampleNum: 5, Offset: 10, NSamples: 4096},
			{SampleNum: meta.PlaceholderPoint},
			{SampleNum: 3, Offset: 1, NSamples: 4096},
		},
	}
	for _, points := range golden {
		buf := new(bytes.Buffer)
		binary.Write(buf, binary.BigEndian, uint32(0x80000000|3<<24|uint32(18*len(points))))
		for _, point := range points {
			binary.Write(buf, binary.BigEndian, point)
		}
		if _, err := meta.Parse(buf); err == nil {
			t.Fatalf("expected error for descending seek points %v, got nil", points)
		}
	}
}

func TestParseVorbisComment(t *testing.T) {
	want := &meta.VorbisComment{
		Vendor: "reference libFLAC 1.2.1 20070917",
		Tags: [][2]string{
			{"ARTIST", "Iwan Gabovitch"},
			{"YEAR", "2008"},
		},
	}
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint32(len(want.Vendor)))
	body.WriteString(want.Vendor)
	binary.Write(body, binary.LittleEndian, uint32(len(want.Tags)))
	for _, tag := range want.Tags {
		vector := tag[0] + "=" + tag[1]
		binary.Write(body, binary.LittleEndian, uint32(len(vector)))
		body.WriteString(vector)
	}
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(0x80000000|4<<24|uint32(body.Len())))
	buf.Write(body.Bytes())
	block, err := meta.Parse(buf)
	if err != nil {
		t.Fatalf("unable to parse VorbisComment metadata block; %v", err)
	}
	got := block.Body.(*meta.VorbisComment)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("VorbisComment mismatch; expected %#v, got %#v", want, got)
	}
}

func TestParseUnknownBlockType(t *testing.T) {
	// Reserved block types are retained verbatim.
	body := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(0x80000000|100<<24|uint32(len(body))))
	buf.Write(body)
	block, err := meta.Parse(buf)
	if err != nil {
		t.Fatalf("unable to parse metadata block of reserved type; %v", err)
	}
	got, ok := block.Body.([]byte)
	if !ok {
		t.Fatalf("block body type mismatch; expected []byte, got %T", block.Body)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("block body mismatch; expected % X, got % X", body, got)
	}
}
