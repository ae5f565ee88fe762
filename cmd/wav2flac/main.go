// wav2flac converts WAV files to FLAC files. WAV decoding is handled by
// go-audio; this tool only feeds the decoded PCM blocks to the FLAC encoder.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/pkg/osutil"
	"github.com/mewkiz/pkg/pathutil"
	"github.com/pkg/errors"

	"github.com/karlek/flac"
	"github.com/karlek/flac/meta"
)

func main() {
	// Parse command line arguments.
	var (
		// force overwrite FLAC file if already present.
		force bool
	)
	flag.BoolVar(&force, "f", false, "force overwrite")
	flag.Parse()
	for _, wavPath := range flag.Args() {
		if err := wav2flac(wavPath, force); err != nil {
			log.Fatalf("%+v", err)
		}
	}
}

// blockSize is the number of samples per channel of each encoded frame.
const blockSize = 4096

func wav2flac(wavPath string, force bool) error {
	// Create WAV decoder.
	r, err := os.Open(wavPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer r.Close()
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return errors.Errorf("invalid WAV file %q", wavPath)
	}
	sampleRate, nchannels, bps := int(dec.SampleRate), int(dec.NumChans), int(dec.BitDepth)

	// Create FLAC encoder.
	flacPath := pathutil.TrimExt(wavPath) + ".flac"
	if !force && osutil.Exists(flacPath) {
		return errors.Errorf("FLAC file %q already present; use -f flag to force overwrite", flacPath)
	}
	w, err := os.Create(flacPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer w.Close()
	info := &meta.StreamInfo{
		SampleRate:    uint32(sampleRate),
		NChannels:     uint8(nchannels),
		BitsPerSample: uint8(bps),
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return errors.WithStack(err)
	}

	// Encode samples.
	if err := dec.FwdToPCM(); err != nil {
		return errors.WithStack(err)
	}
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: nchannels,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, nchannels*blockSize),
		SourceBitDepth: bps,
	}
	samples := make([][]int32, nchannels)
	for !dec.EOF() {
		// Decode interleaved WAV samples.
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return errors.WithStack(err)
		}
		if n == 0 {
			break
		}
		for ch := range samples {
			samples[ch] = samples[ch][:0]
		}
		for i, sample := range buf.Data[:n] {
			ch := i % nchannels
			samples[ch] = append(samples[ch], int32(sample))
		}
		if err := enc.Write(samples); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(enc.Close())
}
