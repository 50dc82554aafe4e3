package identify

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/voiceid/internal/model"
)

func centroid(name string, vec []float32, dates ...string) *model.SpeakerCentroid {
	return &model.SpeakerCentroid{
		SpeakerName: name,
		SampleType:  model.SampleTypeSpeaker,
		Centroid:    vec,
		SampleCount: 1,
		SampleDates: dates,
	}
}

func TestIdentifyExactMatch(t *testing.T) {
	e := NewEngine(0.5)
	vec := []float32{0.3, 0.4, 0.5}
	m := e.Identify(vec, "", map[string]*model.SpeakerCentroid{
		"alice": centroid("alice", vec),
		"bob":   centroid("bob", []float32{-0.3, -0.4, -0.5}),
	})
	require.True(t, m.Found())
	require.Equal(t, "alice", m.Name)
	require.InDelta(t, 1.0, m.Score, 1e-9)
}

func TestIdentifyOrthogonalNeverMatches(t *testing.T) {
	e := NewEngine(0.5)
	m := e.Identify([]float32{1, 0}, "", map[string]*model.SpeakerCentroid{
		"alice": centroid("alice", []float32{0, 1}),
	})
	require.False(t, m.Found())
	require.InDelta(t, 0.0, m.Score, 1e-9)
}

func TestIdentifyThresholdBoundary(t *testing.T) {
	e := NewEngine(0.5)
	// cos(60°) = 0.5 exactly: at-threshold scores still match.
	half := float32(math.Sqrt(3) / 2)
	m := e.Identify([]float32{1, 0}, "", map[string]*model.SpeakerCentroid{
		"alice": centroid("alice", []float32{0.5, half}),
	})
	require.True(t, m.Found())
	require.InDelta(t, 0.5, m.Score, 1e-6)

	below := e.Identify([]float32{1, 0}, "", map[string]*model.SpeakerCentroid{
		"alice": centroid("alice", []float32{0.49, half}),
	})
	require.False(t, below.Found())
	require.Greater(t, below.Score, 0.0)
}

func TestIdentifyEmptyCandidates(t *testing.T) {
	e := NewEngine(0.5)
	m := e.Identify([]float32{1, 0}, "", nil)
	require.False(t, m.Found())
	require.Equal(t, 0.0, m.Score)
}

func TestIdentifyDimensionIsolation(t *testing.T) {
	e := NewEngine(0.5)
	vec192 := make([]float32, 192)
	vec512 := make([]float32, 512)
	for i := range vec192 {
		vec192[i] = 1
	}
	for i := range vec512 {
		vec512[i] = 1
	}
	m := e.Identify(vec192, "", map[string]*model.SpeakerCentroid{
		"wide": centroid("wide", vec512),
		"same": centroid("same", vec192),
	})
	require.Equal(t, "same", m.Name)

	onlyWide := e.Identify(vec192, "", map[string]*model.SpeakerCentroid{
		"wide": centroid("wide", vec512),
	})
	require.False(t, onlyWide.Found())
	require.Equal(t, 0.0, onlyWide.Score)
}

func TestIdentifyStableTieBreak(t *testing.T) {
	e := NewEngine(0.5)
	vec := []float32{1, 1}
	candidates := map[string]*model.SpeakerCentroid{
		"zed":  centroid("zed", vec),
		"anna": centroid("anna", vec),
		"mike": centroid("mike", vec),
	}
	for i := 0; i < 20; i++ {
		m := e.Identify(vec, "", candidates)
		require.Equal(t, "anna", m.Name)
	}
}

func TestTemporalWeightMonotonicDecay(t *testing.T) {
	target := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	sameDay := TemporalWeight(target, []string{"2024-06-01"})
	require.InDelta(t, 1.0, sameDay, 1e-9)

	prev := sameDay
	for _, date := range []string{"2023-06-01", "2021-06-01", "2014-06-01"} {
		w := TemporalWeight(target, []string{date})
		require.Less(t, w, prev)
		require.Greater(t, w, 0.5)
		prev = w
	}
	// Decades away the weight asymptotes at the 0.5 floor.
	ancient := TemporalWeight(target, []string{"1960-01-01"})
	require.InDelta(t, 0.5, ancient, 1e-6)
}

func TestTemporalWeightWithoutDates(t *testing.T) {
	target := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 1.0, TemporalWeight(target, nil))
	require.Equal(t, 1.0, TemporalWeight(target, []string{"not-a-date"}))
}

func TestIdentifyPrefersTemporallyCloserSpeaker(t *testing.T) {
	e := NewEngine(0.5)
	vec := []float32{1, 0.2}
	m := e.Identify(vec, "2024-06-01", map[string]*model.SpeakerCentroid{
		"recent": centroid("recent", vec, "2024-05-01"),
		"stale":  centroid("stale", vec, "2010-05-01"),
	})
	require.Equal(t, "recent", m.Name)
}
