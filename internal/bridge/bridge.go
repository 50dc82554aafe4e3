// Package bridge turns diarization output into speaker names by pulling
// representative audio out of each labeled turn and matching it against
// the enrolled library.
package bridge

import (
	"context"
	"sort"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voiceid/internal/extractor"
	"github.com/xxxsen/voiceid/internal/identify"
	"github.com/xxxsen/voiceid/internal/model"
	"github.com/xxxsen/voiceid/internal/pkg/vecmath"
)

const (
	// maxTurnsPerLabel bounds how much audio one label contributes; the
	// longest turns carry the cleanest signal.
	maxTurnsPerLabel = 5
	// minTurnSeconds discards sub-segments too short to embed reliably.
	minTurnSeconds = 1.0
)

// ProgressFunc receives the percentage of labels processed so far.
type ProgressFunc func(percent int)

type Identifier struct {
	ex     extractor.Extractor
	engine *identify.Engine
}

func NewIdentifier(ex extractor.Extractor, engine *identify.Engine) *Identifier {
	return &Identifier{ex: ex, engine: engine}
}

// IdentifySpeakers maps each diarization label to the best-matching
// enrolled speaker. Labels with no usable audio get no entry at all.
// Cancellation between labels returns the partial mapping alongside the
// context error; a retry can pick up the missing labels.
func (i *Identifier) IdentifySpeakers(
	ctx context.Context,
	samples []float32,
	sampleRate int,
	dia *model.Diarization,
	episodeDate string,
	candidates map[string]*model.SpeakerCentroid,
	progress ProgressFunc,
) (map[string]model.IdentifiedSpeaker, error) {
	logger := logutil.GetLogger(ctx)
	result := make(map[string]model.IdentifiedSpeaker)
	if dia == nil || len(dia.Speakers) == 0 {
		if progress != nil {
			progress(100)
		}
		return result, nil
	}
	byLabel := make(map[string][]model.DiarizationTurn)
	for _, turn := range dia.Segments {
		byLabel[turn.Speaker] = append(byLabel[turn.Speaker], turn)
	}
	for done, label := range dia.Speakers {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		vec := i.labelEmbedding(ctx, samples, sampleRate, byLabel[label])
		if vec == nil {
			logger.Warn("no usable audio for diarization label", zap.String("label", label))
		} else {
			m := i.engine.Identify(vec, episodeDate, candidates)
			result[label] = model.IdentifiedSpeaker{Name: m.Name, Confidence: m.Score}
			logger.Debug("label identified",
				zap.String("label", label),
				zap.String("speaker", m.Name),
				zap.Float64("score", m.Score))
		}
		if progress != nil {
			progress((done + 1) * 100 / len(dia.Speakers))
		}
	}
	return result, nil
}

// labelEmbedding averages embeddings over the label's longest turns.
// Returns nil when nothing usable survives.
func (i *Identifier) labelEmbedding(ctx context.Context, samples []float32, sampleRate int, turns []model.DiarizationTurn) []float32 {
	logger := logutil.GetLogger(ctx)
	picked := append([]model.DiarizationTurn(nil), turns...)
	sort.SliceStable(picked, func(a, b int) bool {
		da, db := picked[a].Duration(), picked[b].Duration()
		if da != db {
			return da > db
		}
		return picked[a].Start < picked[b].Start
	})
	if len(picked) > maxTurnsPerLabel {
		picked = picked[:maxTurnsPerLabel]
	}
	var vecs [][]float32
	for _, turn := range picked {
		if turn.Duration() < minTurnSeconds {
			continue
		}
		clip := extractor.Slice(samples, sampleRate, turn.Start, turn.End)
		if len(clip) == 0 {
			continue
		}
		vec, err := i.ex.Extract(ctx, clip, sampleRate)
		if err != nil {
			logger.Warn("sub-segment extraction failed",
				zap.Float64("start", turn.Start),
				zap.Float64("end", turn.End),
				zap.Error(err))
			continue
		}
		vecs = append(vecs, vec)
	}
	if len(vecs) == 0 {
		return nil
	}
	mean, err := vecmath.Mean(vecs)
	if err != nil {
		logger.Warn("mixed embedding dimensions within one label", zap.Error(err))
		return nil
	}
	return mean
}
