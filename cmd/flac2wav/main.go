// flac2wav converts FLAC files to WAV files. WAV encoding is handled by
// go-audio; this tool only feeds it the decoded PCM frames.
package main

import (
	"flag"
	"io"
	"log"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/pkg/osutil"
	"github.com/mewkiz/pkg/pathutil"
	"github.com/pkg/errors"

	"github.com/karlek/flac"
)

func main() {
	// Parse command line arguments.
	var (
		// force overwrite WAV file if already present.
		force bool
	)
	flag.BoolVar(&force, "f", false, "force overwrite")
	flag.Parse()
	for _, flacPath := range flag.Args() {
		if err := flac2wav(flacPath, force); err != nil {
			log.Fatalf("%+v", err)
		}
	}
}

func flac2wav(flacPath string, force bool) error {
	// Open FLAC stream.
	stream, err := flac.Open(flacPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer stream.Close()

	// Create WAV encoder.
	wavPath := pathutil.TrimExt(flacPath) + ".wav"
	if !force && osutil.Exists(wavPath) {
		return errors.Errorf("WAV file %q already present; use -f flag to force overwrite", wavPath)
	}
	w, err := os.Create(wavPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer w.Close()
	info := stream.Info
	// Audio format 1 denotes PCM.
	enc := wav.NewEncoder(w, int(info.SampleRate), int(info.BitsPerSample), int(info.NChannels), 1)
	defer enc.Close()

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: int(info.NChannels),
			SampleRate:  int(info.SampleRate),
		},
		SourceBitDepth: int(info.BitsPerSample),
	}
	for {
		// Decode one frame of audio samples at a time.
		frame, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			return errors.WithStack(err)
		}

		// Interleave the channel samples of the frame.
		buf.Data = buf.Data[:0]
		for i := 0; i < int(frame.BlockSize); i++ {
			for _, subframe := range frame.Subframes {
				buf.Data = append(buf.Data, int(subframe.Samples[i]))
			}
		}
		if err := enc.Write(buf); err != nil {
			return errors.WithStack(err)
		}
	}
	if status := stream.VerifyMD5(); status == flac.MD5Mismatch {
		return errors.Errorf("MD5 checksum mismatch of decoded audio samples in %q", flacPath)
	}
	return nil
}
