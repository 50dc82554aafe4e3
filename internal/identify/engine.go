// Package identify scores unknown voice embeddings against known speaker
// centroids and maintains those centroids incrementally.
package identify

import (
	"math"
	"sort"
	"time"

	"github.com/xxxsen/voiceid/internal/model"
	"github.com/xxxsen/voiceid/internal/pkg/timeutil"
	"github.com/xxxsen/voiceid/internal/pkg/vecmath"
)

const DefaultThreshold = 0.5

// temporalHalfLifeDays controls how fast confidence in an old enrollment
// decays; at |days| >> 365 the weight approaches the 0.5 floor.
const temporalHalfLifeDays = 365.0

// Match is one identification outcome. Name is empty when no candidate
// reached the threshold; Score then carries the best score observed (0 when
// there were no candidates at all).
type Match struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func (m Match) Found() bool {
	return m.Name != ""
}

type Engine struct {
	threshold float64
}

func NewEngine(threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{threshold: threshold}
}

// Identify scores vec against every candidate centroid using temporally
// weighted cosine similarity and returns the argmax. Candidates whose
// dimension disagrees with vec are skipped, never mixed. Iteration is in
// sorted name order so ties break deterministically.
func (e *Engine) Identify(vec []float32, targetDate string, candidates map[string]*model.SpeakerCentroid) Match {
	best := Match{}
	target, hasTarget := timeutil.ParseDate(timeutil.NormalizeDate(targetDate))

	names := make([]string, 0, len(candidates))
	for name := range candidates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := candidates[name]
		if len(c.Centroid) != len(vec) {
			continue
		}
		sim, err := vecmath.Cosine(vec, c.Centroid)
		if err != nil {
			continue
		}
		score := sim
		if hasTarget {
			score *= TemporalWeight(target, c.SampleDates)
		}
		if score > best.Score {
			best.Score = score
			best.Name = name
		}
	}
	if best.Score < e.threshold {
		return Match{Score: best.Score}
	}
	return best
}

// TemporalWeight computes the multiplier applied to a raw similarity when
// both a target date and the candidate's sample-date history are known:
// 0.5 + 0.5*exp(-|days|/365), decaying from 1.0 toward a 0.5 floor as the
// target drifts years away from the candidate's mean sample date. Without
// date information the weight is 1.0.
func TemporalWeight(target time.Time, sampleDates []string) float64 {
	mean, ok := meanSampleDate(sampleDates)
	if !ok {
		return 1.0
	}
	days := math.Abs(target.Sub(mean).Hours() / 24)
	return 0.5 + 0.5*math.Exp(-days/temporalHalfLifeDays)
}

func meanSampleDate(dates []string) (time.Time, bool) {
	var sum int64
	var n int64
	for _, d := range dates {
		t, ok := timeutil.ParseDate(d)
		if !ok {
			continue
		}
		sum += t.Unix()
		n++
	}
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(sum/n, 0).UTC(), true
}
