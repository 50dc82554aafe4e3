package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/voiceid/internal/config"
	"github.com/xxxsen/voiceid/internal/filestore"
	"github.com/xxxsen/voiceid/internal/model"
	appErr "github.com/xxxsen/voiceid/internal/pkg/errors"
	"github.com/xxxsen/voiceid/internal/store"
)

func newSnapshotStore(t *testing.T) (*store.SnapshotStore, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": dir},
	})
	require.NoError(t, err)
	s, err := store.NewSnapshotStore(fs, "library.json")
	require.NoError(t, err)
	return s, filepath.Join(dir, "library.json")
}

func TestSnapshotStoreUpsertAndLoad(t *testing.T) {
	s, path := newSnapshotStore(t)
	ctx := context.Background()

	_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "s1", []float32{1, 0}, "2024-01-01"))
	require.NoError(t, err)
	_, err = s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "s2", []float32{0, 1}, "2024-01-02"))
	require.NoError(t, err)

	centroids, err := s.LoadCentroids(ctx, "wespeaker")
	require.NoError(t, err)
	require.Len(t, centroids, 1)
	require.Equal(t, 2, centroids["alice"].SampleCount)
	require.InDelta(t, 0.5, float64(centroids["alice"].Centroid[0]), 1e-6)

	// The document is durable on disk, not process state.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestSnapshotStoreBackendMismatch(t *testing.T) {
	s, _ := newSnapshotStore(t)
	ctx := context.Background()

	_, err := s.UpsertSample(ctx, sampleReq("wespeaker", "alice", "s1", []float32{1, 0}, ""))
	require.NoError(t, err)

	_, err = s.LoadCentroids(ctx, "other-backend")
	require.ErrorIs(t, err, appErr.ErrConflict)
}

func TestSnapshotStoreCorruptDocument(t *testing.T) {
	s, path := newSnapshotStore(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	_, err := s.LoadCentroids(ctx, "wespeaker")
	require.ErrorIs(t, err, appErr.ErrCorruptSnapshot)
}

func TestSnapshotStoreRebuildUnsupported(t *testing.T) {
	s, _ := newSnapshotStore(t)
	_, err := s.RebuildFromSamples(context.Background(), "wespeaker")
	require.ErrorIs(t, err, appErr.ErrUnsupported)
}

func TestSnapshotStoreImportAndRemove(t *testing.T) {
	s, _ := newSnapshotStore(t)
	ctx := context.Background()

	added, err := s.ImportCentroidsMissingOnly(ctx, "wespeaker", map[string]*model.SpeakerCentroid{
		"alice": {SpeakerName: "alice", SampleCount: 2, Centroid: []float32{1, 0}},
		"bob":   {SpeakerName: "bob", SampleCount: 1, Centroid: []float32{0, 1}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, added)

	added, err = s.ImportCentroidsMissingOnly(ctx, "wespeaker", map[string]*model.SpeakerCentroid{
		"alice": {SpeakerName: "alice", SampleCount: 9, Centroid: []float32{9, 9}},
	})
	require.NoError(t, err)
	require.Equal(t, 0, added)

	speakers, err := s.ListSpeakers(ctx, "wespeaker")
	require.NoError(t, err)
	require.Len(t, speakers, 2)
	require.Equal(t, "alice", speakers[0].Name)

	require.NoError(t, s.RemoveSpeaker(ctx, "wespeaker", "bob"))
	require.ErrorIs(t, s.RemoveSpeaker(ctx, "wespeaker", "bob"), appErr.ErrNotFound)
}
