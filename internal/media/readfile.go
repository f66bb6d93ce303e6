package media

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Jegerchristiank/transkriptor/internal/errors"
)

// ReadWAVFloat32 loads a rendered chunk as float32 samples in [-1, 1] and
// returns the sample rate. Chunks are rendered mono, anything else is
// rejected.
func ReadWAVFloat32(path string) ([]float32, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.New(err).
			Component("media").
			Category(errors.CategoryFileIO).
			Context("operation", "read_wav").
			Build()
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, errors.Newf("invalid WAV file: %s", path).
			Component("media").
			Category(errors.CategoryAudio).
			Build()
	}
	if decoder.NumChans != 1 {
		return nil, 0, errors.Newf("expected mono audio, got %d channels in %s", decoder.NumChans, path).
			Component("media").
			Category(errors.CategoryAudio).
			Build()
	}

	divisor, err := audioDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, 0, errors.New(err).
			Component("media").
			Category(errors.CategoryAudio).
			Build()
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, 65536),
		Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: 1},
	}

	var samples []float32
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, 0, errors.New(err).
				Component("media").
				Category(errors.CategoryAudio).
				Context("operation", "decode_pcm").
				Build()
		}
		if n == 0 {
			break
		}
		for _, sample := range buf.Data[:n] {
			samples = append(samples, float32(sample)/divisor)
		}
	}

	return samples, int(decoder.SampleRate), nil
}

func audioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}
