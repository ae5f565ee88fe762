package flac_test

import (
	"bytes"
	"fmt"
	"io"
	"log"

	"github.com/karlek/flac"
	"github.com/karlek/flac/meta"
)

// ExampleEncoder demonstrates a full encode and decode round trip of a
// two-channel stream.
func ExampleEncoder() {
	// Encode two channels of a rising tone at 44.1 kHz, 16 bits-per-sample.
	const n = 4096
	left := make([]int32, n)
	right := make([]int32, n)
	for i := range left {
		left[i] = int32(i % 1024)
		right[i] = int32(i%1024) + 1
	}
	info := &meta.StreamInfo{
		SampleRate:    44100,
		NChannels:     2,
		BitsPerSample: 16,
	}
	buf := new(bytes.Buffer)
	enc, err := flac.NewEncoder(buf, info)
	if err != nil {
		log.Fatal(err)
	}
	if err := enc.Write([][]int32{left, right}); err != nil {
		log.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		log.Fatal(err)
	}

	// Decode the stream and verify the MD5 checksum of the decoded audio
	// samples.
	stream, err := flac.Parse(buf)
	if err != nil {
		log.Fatal(err)
	}
	nsamples := 0
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			log.Fatal(err)
		}
		nsamples += int(frame.BlockSize)
	}
	fmt.Println("decoded samples:", nsamples)
	fmt.Println("md5:", stream.VerifyMD5())
	// Output:
	// decoded samples: 4096
	// md5: match
}
