package extractor

import (
	"fmt"
	"os"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	xerrors "github.com/xxxsen/voiceid/internal/pkg/errors"
)

// LoadAudio reads a mono WAV file into float32 samples. A missing file
// maps to ErrMissingAudio so callers can skip-and-count instead of
// aborting a batch.
func LoadAudio(path string) ([]float32, int, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", xerrors.ErrMissingAudio, path)
		}
		return nil, 0, fmt.Errorf("stat audio %s: %w", path, err)
	}
	wave := sherpa.ReadWave(path)
	if wave == nil || len(wave.Samples) == 0 {
		return nil, 0, fmt.Errorf("%w: unreadable wave file %s", xerrors.ErrExtraction, path)
	}
	return wave.Samples, wave.SampleRate, nil
}

// Resample converts samples from srcRate to dstRate by linear
// interpolation. The diarizer segmentation model only accepts its own
// rate, so recordings at any other rate go through here first.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(samples) == 0 {
		return samples
	}
	ratio := float64(srcRate) / float64(dstRate)
	out := make([]float32, int(float64(len(samples))/ratio))
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		switch {
		case idx+1 < len(samples):
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		case idx < len(samples):
			out[i] = samples[idx]
		}
	}
	return out
}
