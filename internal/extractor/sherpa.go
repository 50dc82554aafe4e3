package extractor

import (
	"context"
	"fmt"
	"os"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/xxxsen/voiceid/internal/config"
	"github.com/xxxsen/voiceid/internal/model"
	xerrors "github.com/xxxsen/voiceid/internal/pkg/errors"
)

// sherpaExtractor wraps a sherpa-onnx speaker embedding model. Compute
// streams are not safe for concurrent use, so extraction serializes on
// the instance.
type sherpaExtractor struct {
	id Identity
	ex *sherpa.SpeakerEmbeddingExtractor
	mu sync.Mutex
}

func NewSherpaExtractor(backend string, cfg config.BackendConfig) (Extractor, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: embedding model %s: %v", xerrors.ErrConfiguration, cfg.ModelPath, err)
	}
	ex := sherpa.NewSpeakerEmbeddingExtractor(&sherpa.SpeakerEmbeddingExtractorConfig{
		Model:      cfg.ModelPath,
		NumThreads: cfg.NumThreads,
		Debug:      0,
		Provider:   cfg.Provider,
	})
	if ex == nil {
		return nil, fmt.Errorf("%w: failed to load embedding model %s", xerrors.ErrConfiguration, cfg.ModelPath)
	}
	return &sherpaExtractor{
		id: Identity{
			Backend:    backend,
			ModelID:    cfg.ModelID,
			VersionTag: cfg.VersionTag,
			Dim:        ex.Dim(),
		},
		ex: ex,
	}, nil
}

func (e *sherpaExtractor) Identity() Identity {
	return e.id
}

func (e *sherpaExtractor) Extract(ctx context.Context, samples []float32, sampleRate int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty audio", xerrors.ErrExtraction)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	stream := e.ex.CreateStream()
	defer sherpa.DeleteOnlineStream(stream)
	stream.AcceptWaveform(sampleRate, samples)
	stream.InputFinished()
	if !e.ex.IsReady(stream) {
		return nil, fmt.Errorf("%w: segment too short for %s", xerrors.ErrExtraction, e.id.ModelID)
	}
	vec := e.ex.Compute(stream)
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: %s produced no embedding", xerrors.ErrExtraction, e.id.ModelID)
	}
	return vec, nil
}

func (e *sherpaExtractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ex != nil {
		sherpa.DeleteSpeakerEmbeddingExtractor(e.ex)
		e.ex = nil
	}
}

type sherpaDiarizer struct {
	d  *sherpa.OfflineSpeakerDiarization
	mu sync.Mutex
}

func NewSherpaDiarizer(cfg config.DiarizerConfig) (Diarizer, error) {
	for _, p := range []string{cfg.SegmentationModel, cfg.EmbeddingModel} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: diarizer model %s: %v", xerrors.ErrConfiguration, p, err)
		}
	}
	sc := &sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: cfg.SegmentationModel,
			},
			NumThreads: cfg.NumThreads,
			Debug:      0,
			Provider:   cfg.Provider,
		},
		Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
			Model:      cfg.EmbeddingModel,
			NumThreads: cfg.NumThreads,
			Debug:      0,
			Provider:   cfg.Provider,
		},
		Clustering: sherpa.FastClusteringConfig{
			NumClusters: cfg.NumClusters,
			Threshold:   float32(cfg.ClusteringThreshold),
		},
		MinDurationOn:  float32(cfg.MinDurationOn),
		MinDurationOff: float32(cfg.MinDurationOff),
	}
	d := sherpa.NewOfflineSpeakerDiarization(sc)
	if d == nil && cfg.Provider != "cpu" {
		sc.Segmentation.Provider = "cpu"
		sc.Embedding.Provider = "cpu"
		d = sherpa.NewOfflineSpeakerDiarization(sc)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: failed to create diarizer", xerrors.ErrConfiguration)
	}
	return &sherpaDiarizer{d: d}, nil
}

func (s *sherpaDiarizer) Diarize(ctx context.Context, samples []float32) (*model.Diarization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &model.Diarization{}
	if len(samples) == 0 {
		return out, nil
	}
	segments := s.d.Process(samples)
	seen := map[string]bool{}
	for _, seg := range segments {
		label := fmt.Sprintf("SPEAKER_%02d", seg.Speaker)
		out.Segments = append(out.Segments, model.DiarizationTurn{
			Start:   float64(seg.Start),
			End:     float64(seg.End),
			Speaker: label,
		})
		if !seen[label] {
			seen[label] = true
			out.Speakers = append(out.Speakers, label)
		}
	}
	out.NumSpeakers = len(out.Speakers)
	return out, nil
}

func (s *sherpaDiarizer) SampleRate() int {
	if s.d != nil {
		return s.d.SampleRate()
	}
	return 16000
}

func (s *sherpaDiarizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d != nil {
		sherpa.DeleteOfflineSpeakerDiarization(s.d)
		s.d = nil
	}
}
