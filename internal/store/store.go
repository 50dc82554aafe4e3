// Package store is the durable home of voice samples and speaker centroids.
// Two implementations exist: the authoritative relational DBStore and the
// portable flat-file SnapshotStore. The active one is selected explicitly by
// configuration; there is no auto-detect fallback between them.
package store

import (
	"context"

	"github.com/xxxsen/voiceid/internal/model"
)

// UpsertSampleRequest carries one extracted embedding plus the provenance
// fields the deterministic sample key derives from.
type UpsertSampleRequest struct {
	Backend    string
	ModelID    string
	VersionTag string

	SpeakerName string
	ShortName   string
	SampleType  string
	EpisodeID   *int64
	SegmentIdx  *int64
	FilePath    string
	SampleDate  string
	StartTime   *float64
	EndTime     *float64
	Source      string
	ExternalID  string

	Embedding []float32
}

type Store interface {
	// UpsertSample writes one sample atomically (vector, norm, owning model
	// row, centroid fold). Re-submitting the same logical sample updates the
	// stored vector, never duplicates it.
	UpsertSample(ctx context.Context, req *UpsertSampleRequest) (*model.VoiceSample, error)

	// LoadCentroids returns the speaker-type centroids of every active model
	// for the backend, keyed by speaker name.
	LoadCentroids(ctx context.Context, backend string) (map[string]*model.SpeakerCentroid, error)

	// ReplaceCentroids atomically replaces the backend's centroid set.
	ReplaceCentroids(ctx context.Context, backend string, centroids map[string]*model.SpeakerCentroid) error

	// ImportCentroidsMissingOnly merges centroids for speakers the store does
	// not know yet; existing speakers are never overwritten. Returns the
	// number of speakers added.
	ImportCentroidsMissingOnly(ctx context.Context, backend string, centroids map[string]*model.SpeakerCentroid) (int, error)

	// RebuildFromSamples recomputes every centroid as the arithmetic mean of
	// its live samples and atomically replaces the centroid set. This is the
	// only way to subtract a removed sample's contribution from an aggregate.
	RebuildFromSamples(ctx context.Context, backend string) (*model.RebuildReport, error)

	// VerifyIntegrity reports orphaned samples, aggregation drift and missing
	// audio files. It never repairs anything.
	VerifyIntegrity(ctx context.Context, backend string) (*model.IntegrityReport, error)

	// RemoveSpeaker deletes a speaker's samples and centroids for the backend.
	RemoveSpeaker(ctx context.Context, backend, speaker string) error

	ListSpeakers(ctx context.Context, backend string) ([]model.SpeakerInfo, error)
}
