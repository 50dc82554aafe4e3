package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/voiceid/internal/model"
	appErr "github.com/xxxsen/voiceid/internal/pkg/errors"
	"github.com/xxxsen/voiceid/internal/repo"
	"github.com/xxxsen/voiceid/internal/store"
)

func newTestStore(t *testing.T) (*store.DBStore, *sql.DB) {
	t.Helper()
	db, err := repo.Open(filepath.Join(t.TempDir(), "voice.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repo.ApplyMigrations(db))
	return store.NewDBStore(db), db
}

func sampleReq(backend, speaker, externalID string, vec []float32, date string) *store.UpsertSampleRequest {
	return &store.UpsertSampleRequest{
		Backend:     backend,
		ModelID:     "test-model",
		SpeakerName: speaker,
		SampleType:  model.SampleTypeSpeaker,
		SampleDate:  date,
		Source:      model.SourceManual,
		ExternalID:  externalID,
		Embedding:   vec,
	}
}

func TestUpsertSampleValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "x", nil, ""))
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = s.UpsertSample(ctx, sampleReq("wespeaker", "", "x", []float32{1}, ""))
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestUpsertSampleFoldsCentroid(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "s1", []float32{1, 0}, "2024-01-01"))
	require.NoError(t, err)
	_, err = s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "s2", []float32{0, 1}, "2024-01-02"))
	require.NoError(t, err)

	centroids, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Len(t, centroids, 1)
	c := centroids["alice"]
	require.Equal(t, 2, c.SampleCount)
	require.InDelta(t, 0.5, float64(c.Centroid[0]), 1e-6)
	require.InDelta(t, 0.5, float64(c.Centroid[1]), 1e-6)
	require.Equal(t, []string{"2024-01-01", "2024-01-02"}, c.SampleDates)
}

func TestUpsertSampleIdempotentRow(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	req := sampleReq("wespeaker", "alice", "same-clip", []float32{1, 1}, "2024-01-01")
	_, err := s.UpsertSample(ctx, req)
	require.NoError(t, err)
	_, err = s.UpsertSample(ctx, req)
	require.NoError(t, err)

	// The second submit must not refold: one member, one date, even
	// before any rebuild.
	centroids, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Equal(t, 1, centroids["alice"].SampleCount)
	require.Equal(t, []string{"2024-01-01"}, centroids["alice"].SampleDates)
	require.InDelta(t, 1.0, float64(centroids["alice"].Centroid[0]), 1e-6)

	report, err := s.RebuildFromSamples(ctx, "wespeaker")
	require.NoError(t, err)
	require.Equal(t, 1, report.SampleRows)
	require.Equal(t, 1, report.GroupCount)
	require.Equal(t, 1, report.CentroidsWritten)

	centroids, err = s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Equal(t, 1, centroids["alice"].SampleCount)
}

func TestResubmitCorrectedVector(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "same-clip", []float32{1, 0}, "2024-01-01"))
	require.NoError(t, err)
	_, err = s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "same-clip", []float32{0, 1}, "2024-01-01"))
	require.NoError(t, err)

	// The corrected vector replaces the old contribution in place; the
	// incremental centroid matches what a rebuild over the single
	// surviving row would produce.
	centroids, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	c := centroids["alice"]
	require.Equal(t, 1, c.SampleCount)
	require.InDelta(t, 0.0, float64(c.Centroid[0]), 1e-6)
	require.InDelta(t, 1.0, float64(c.Centroid[1]), 1e-6)
	require.Equal(t, []string{"2024-01-01"}, c.SampleDates)

	report, err := s.RebuildFromSamples(ctx, "wespeaker")
	require.NoError(t, err)
	require.Equal(t, 1, report.SampleRows)
	rebuilt, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Equal(t, c.SampleCount, rebuilt["alice"].SampleCount)
	require.InDelta(t, float64(c.Centroid[0]), float64(rebuilt["alice"].Centroid[0]), 1e-6)
	require.InDelta(t, float64(c.Centroid[1]), float64(rebuilt["alice"].Centroid[1]), 1e-6)
}

func TestResubmitWithinMultiSampleCentroid(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "clip-1", []float32{1, 0}, "2024-01-01"))
	require.NoError(t, err)
	_, err = s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "clip-2", []float32{0, 1}, "2024-01-02"))
	require.NoError(t, err)
	_, err = s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "clip-1", []float32{1, 1}, "2024-01-01"))
	require.NoError(t, err)

	centroids, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	c := centroids["alice"]
	require.Equal(t, 2, c.SampleCount)
	// mean of {1,1} and {0,1}
	require.InDelta(t, 0.5, float64(c.Centroid[0]), 1e-6)
	require.InDelta(t, 1.0, float64(c.Centroid[1]), 1e-6)
	require.Equal(t, []string{"2024-01-01", "2024-01-02"}, c.SampleDates)
}

func TestIncrementalAgreesWithRebuild(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	vecs := [][]float32{{1, 2}, {3, 4}, {5, 6}, {7, 8}, {9, 10}}
	for i, vec := range vecs {
		_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", fmt.Sprintf("s%d", i), vec, "2024-01-01"))
		require.NoError(t, err)
	}
	incremental, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)

	_, err = s.RebuildFromSamples(ctx, "wespeaker")
	require.NoError(t, err)
	rebuilt, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)

	for i := range rebuilt["alice"].Centroid {
		require.InDelta(t,
			float64(rebuilt["alice"].Centroid[i]),
			float64(incremental["alice"].Centroid[i]), 1e-4)
	}
	require.Equal(t, len(vecs), rebuilt["alice"].SampleCount)
}

func TestRebuildIsPermutationIndependent(t *testing.T) {
	ctx := context.Background()
	vecs := [][]float32{{0.1, 0.9}, {0.7, 0.3}, {0.5, 0.5}, {0.2, 0.8}}

	build := func(order []int) []float32 {
		s, _ := newTestStore(t)
		for _, idx := range order {
			_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", fmt.Sprintf("s%d", idx), vecs[idx], ""))
			require.NoError(t, err)
		}
		_, err := s.RebuildFromSamples(ctx, "wespeaker")
		require.NoError(t, err)
		centroids, err := s.LoadCentroids(ctx, "wespeaker")
		require.NoError(t, err)
		return centroids["alice"].Centroid
	}

	forward := build([]int{0, 1, 2, 3})
	backward := build([]int{3, 2, 1, 0})
	require.Equal(t, forward, backward)
}

func TestRebuildEmptyStore(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	report, err := s.RebuildFromSamples(ctx, "wespeaker")
	require.NoError(t, err)
	require.Equal(t, &model.RebuildReport{}, report)

	centroids, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Empty(t, centroids)
}

func TestImportCentroidsMissingOnly(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "s1", []float32{1, 0}, ""))
	require.NoError(t, err)

	added, err := s.ImportCentroidsMissingOnly(ctx, "wespeaker", map[string]*model.SpeakerCentroid{
		"alice": {SpeakerName: "alice", SampleType: model.SampleTypeSpeaker, SampleCount: 9, Centroid: []float32{9, 9}},
		"bob":   {SpeakerName: "bob", SampleType: model.SampleTypeSpeaker, SampleCount: 3, Centroid: []float32{0, 1}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	centroids, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Len(t, centroids, 2)
	// alice keeps her locally aggregated vector.
	require.Equal(t, []float32{1, 0}, centroids["alice"].Centroid)
	require.Equal(t, []float32{0, 1}, centroids["bob"].Centroid)
}

func TestReplaceCentroids(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "s1", []float32{1, 0}, ""))
	require.NoError(t, err)

	err = s.ReplaceCentroids(ctx, "wespeaker", map[string]*model.SpeakerCentroid{
		"bob": {SpeakerName: "bob", SampleType: model.SampleTypeSpeaker, SampleCount: 2, Centroid: []float32{0, 1}},
	})
	require.NoError(t, err)

	centroids, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Len(t, centroids, 1)
	require.NotNil(t, centroids["bob"])
}

func TestRemoveSpeaker(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "s1", []float32{1, 0}, ""))
	require.NoError(t, err)

	require.NoError(t, s.RemoveSpeaker(ctx, "wespeaker", "alice"))
	centroids, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Empty(t, centroids)

	err = s.RemoveSpeaker(ctx, "wespeaker", "alice")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestBackendsAreIsolated(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	vec192 := make([]float32, 192)
	vec512 := make([]float32, 512)
	vec192[0], vec512[0] = 1, 1

	_, err := s.UpsertSample(ctx, sampleReq("narrow", "alice", "s1", vec192, ""))
	require.NoError(t, err)
	_, err = s.UpsertSample(ctx, sampleReq("wide", "alice", "s1", vec512, ""))
	require.NoError(t, err)

	narrow, err := s.LoadCentroids(ctx, "narrow")
	require.NoError(t, err)
	require.Len(t, narrow["alice"].Centroid, 192)
	require.Equal(t, 1, narrow["alice"].SampleCount)

	wide, err := s.LoadCentroids(ctx, "wide")
	require.NoError(t, err)
	require.Len(t, wide["alice"].Centroid, 512)
}

func TestInactiveModelsAreHidden(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "s1", []float32{1, 0}, ""))
	require.NoError(t, err)

	models := repo.NewEmbeddingModelRepo(db)
	m, err := models.Get(ctx, "wespeaker", "test-model", 2, model.DtypeFloat32, "")
	require.NoError(t, err)
	require.NoError(t, models.SetActive(ctx, m.ID, false))

	centroids, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Empty(t, centroids)

	require.NoError(t, models.SetActive(ctx, m.ID, true))
	centroids, err = s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Len(t, centroids, 1)
}

func TestLoadCentroidsPrefersNewestActiveModel(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "s1", []float32{1, 0}, ""))
	require.NoError(t, err)

	req := sampleReq("wespeaker", "alice", "s2", []float32{0, 1}, "")
	req.ModelID = "test-model-v2"
	_, err = s.UpsertSample(ctx, req)
	require.NoError(t, err)

	// Both model rows are active, so alice has two centroids; the newer
	// model row must win regardless of scan order.
	centroids, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Len(t, centroids, 1)
	c := centroids["alice"]
	require.Equal(t, 1, c.SampleCount)
	require.InDelta(t, 0.0, float64(c.Centroid[0]), 1e-6)
	require.InDelta(t, 1.0, float64(c.Centroid[1]), 1e-6)
}

func TestVerifyIntegrity(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	audio := filepath.Join(t.TempDir(), "alice.wav")
	require.NoError(t, os.WriteFile(audio, []byte("riff"), 0o644))

	req := sampleReq("wespeaker", "alice", "s1", []float32{1, 0}, "")
	req.FilePath = audio
	_, err := s.UpsertSample(ctx, req)
	require.NoError(t, err)

	report, err := s.VerifyIntegrity(ctx, "wespeaker")
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Equal(t, 1, report.SamplesSeen)
	require.Equal(t, 1, report.CentroidsSeen)

	// Losing the audio file and the centroid row must both be reported.
	require.NoError(t, os.Remove(audio))
	_, err = db.ExecContext(ctx, "DELETE FROM speaker_centroids")
	require.NoError(t, err)

	report, err = s.VerifyIntegrity(ctx, "wespeaker")
	require.NoError(t, err)
	require.False(t, report.OK())
	kinds := map[string]int{}
	for _, issue := range report.Issues {
		kinds[issue.Kind]++
	}
	require.Equal(t, 1, kinds[model.IssueMissingFile])
	require.Equal(t, 1, kinds[model.IssueMissingCentroid])
}

func TestListSpeakers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"carol", "alice", "bob"} {
		req := sampleReq("wespeaker", name, fmt.Sprintf("s%d", i), []float32{1, float32(i)}, "")
		req.ShortName = name[:1]
		_, err := s.UpsertSample(ctx, req)
		require.NoError(t, err)
	}
	speakers, err := s.ListSpeakers(ctx, "wespeaker")
	require.NoError(t, err)
	require.Len(t, speakers, 3)
	require.Equal(t, "alice", speakers[0].Name)
	require.Equal(t, "bob", speakers[1].Name)
	require.Equal(t, "carol", speakers[2].Name)
	require.Equal(t, "a", speakers[0].ShortName)
}
