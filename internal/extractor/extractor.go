// Package extractor holds the embedding and diarization capability
// contracts plus the sherpa-onnx implementations behind them. Backends
// are loaded once per process and treated as read-only afterwards.
package extractor

import (
	"context"

	"github.com/xxxsen/voiceid/internal/model"
)

// Identity pins down which embedding model produced a vector. Vectors
// from different identities are never comparable.
type Identity struct {
	Backend    string
	ModelID    string
	VersionTag string
	Dim        int
}

type Extractor interface {
	Identity() Identity
	// Extract computes one speaker embedding from mono float32 samples.
	Extract(ctx context.Context, samples []float32, sampleRate int) ([]float32, error)
	Close()
}

type Diarizer interface {
	// Diarize splits a recording into speaker-labeled turns.
	Diarize(ctx context.Context, samples []float32) (*model.Diarization, error)
	SampleRate() int
	Close()
}

// Slice cuts the [start, end) second range out of a sample buffer,
// clamped to the buffer bounds.
func Slice(samples []float32, sampleRate int, start, end float64) []float32 {
	if sampleRate <= 0 || end <= start {
		return nil
	}
	lo := int(start * float64(sampleRate))
	hi := int(end * float64(sampleRate))
	if lo < 0 {
		lo = 0
	}
	if hi > len(samples) {
		hi = len(samples)
	}
	if lo >= hi {
		return nil
	}
	return samples[lo:hi]
}
