package service

import (
	"context"
	"sort"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voiceid/internal/align"
	"github.com/xxxsen/voiceid/internal/bridge"
	"github.com/xxxsen/voiceid/internal/extractor"
	"github.com/xxxsen/voiceid/internal/identify"
	"github.com/xxxsen/voiceid/internal/model"
	"github.com/xxxsen/voiceid/internal/store"
)

// IdentifyService runs diarization plus library matching over a
// recording.
type IdentifyService struct {
	store   store.Store
	manager *extractor.Manager
	engine  *identify.Engine
}

func NewIdentifyService(st store.Store, manager *extractor.Manager, engine *identify.Engine) *IdentifyService {
	return &IdentifyService{store: st, manager: manager, engine: engine}
}

// IdentifyResult pairs the raw diarization with the label/speaker
// mapping derived from it.
type IdentifyResult struct {
	Diarization *model.Diarization
	Identified  map[string]model.IdentifiedSpeaker
}

// IdentifyEpisode diarizes one audio file and matches every label
// against the enrolled library. episodeDate anchors temporal weighting
// and may be empty.
func (s *IdentifyService) IdentifyEpisode(ctx context.Context, backendName, audioPath, episodeDate string, progress bridge.ProgressFunc) (*IdentifyResult, error) {
	d, err := s.manager.Diarizer()
	if err != nil {
		return nil, err
	}
	samples, rate, err := loadForDiarizer(ctx, d, audioPath)
	if err != nil {
		return nil, err
	}
	dia, err := d.Diarize(ctx, samples)
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("diarization complete",
		zap.String("file", audioPath),
		zap.Int("speakers", dia.NumSpeakers),
		zap.Int("turns", len(dia.Segments)))
	identified, err := s.identifyLabels(ctx, backendName, samples, rate, dia, episodeDate, progress)
	if err != nil {
		return nil, err
	}
	return &IdentifyResult{Diarization: dia, Identified: identified}, nil
}

// loadForDiarizer reads a recording and converts it to the diarizer's
// fixed sample rate; turn timestamps would otherwise be scaled wrong for
// any recording at a different rate.
func loadForDiarizer(ctx context.Context, d extractor.Diarizer, audioPath string) ([]float32, int, error) {
	samples, rate, err := extractor.LoadAudio(audioPath)
	if err != nil {
		return nil, 0, err
	}
	if want := d.SampleRate(); rate != want {
		logutil.GetLogger(ctx).Info("resampling audio for diarizer",
			zap.String("file", audioPath),
			zap.Int("from", rate),
			zap.Int("to", want))
		samples = extractor.Resample(samples, rate, want)
		rate = want
	}
	return samples, rate, nil
}

func (s *IdentifyService) identifyLabels(ctx context.Context, backendName string, samples []float32, rate int, dia *model.Diarization, episodeDate string, progress bridge.ProgressFunc) (map[string]model.IdentifiedSpeaker, error) {
	ex, err := s.manager.Backend(backendName)
	if err != nil {
		return nil, err
	}
	centroids, err := s.store.LoadCentroids(ctx, ex.Identity().Backend)
	if err != nil {
		return nil, err
	}
	return bridge.NewIdentifier(ex, s.engine).
		IdentifySpeakers(ctx, samples, rate, dia, episodeDate, centroids, progress)
}

// CompareRow is one diarization label's verdict under two backends.
type CompareRow struct {
	Label string
	A     model.IdentifiedSpeaker
	B     model.IdentifiedSpeaker
	Agree bool
}

// Compare diarizes once and identifies every label under two backends
// side by side; useful when validating a new embedding model against
// the incumbent.
func (s *IdentifyService) Compare(ctx context.Context, backendA, backendB, audioPath, episodeDate string) ([]CompareRow, error) {
	d, err := s.manager.Diarizer()
	if err != nil {
		return nil, err
	}
	samples, rate, err := loadForDiarizer(ctx, d, audioPath)
	if err != nil {
		return nil, err
	}
	dia, err := d.Diarize(ctx, samples)
	if err != nil {
		return nil, err
	}
	resA, err := s.identifyLabels(ctx, backendA, samples, rate, dia, episodeDate, nil)
	if err != nil {
		return nil, err
	}
	resB, err := s.identifyLabels(ctx, backendB, samples, rate, dia, episodeDate, nil)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(dia.Speakers))
	labels = append(labels, dia.Speakers...)
	sort.Strings(labels)
	rows := make([]CompareRow, 0, len(labels))
	for _, label := range labels {
		a, b := resA[label], resB[label]
		rows = append(rows, CompareRow{
			Label: label,
			A:     a,
			B:     b,
			Agree: a.Name == b.Name,
		})
	}
	return rows, nil
}

// AlignTranscript labels transcript segments with diarization turns and
// substitutes identified names where available.
func (s *IdentifyService) AlignTranscript(segments []model.TranscriptSegment, res *IdentifyResult) []model.TranscriptSegment {
	if res == nil || res.Diarization == nil {
		return segments
	}
	out := align.Assign(segments, res.Diarization.Segments)
	return align.Rename(out, res.Identified)
}
