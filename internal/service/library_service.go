package service

import (
	"context"
	"fmt"
	"io"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voiceid/internal/extractor"
	"github.com/xxxsen/voiceid/internal/model"
	xerrors "github.com/xxxsen/voiceid/internal/pkg/errors"
	"github.com/xxxsen/voiceid/internal/pkg/timeutil"
	"github.com/xxxsen/voiceid/internal/snapshot"
	"github.com/xxxsen/voiceid/internal/store"
)

// LibraryService is the enrollment and maintenance surface of the voice
// library: add/remove speakers, portable export/import, rebuild and
// verification.
type LibraryService struct {
	store   store.Store
	manager *extractor.Manager
}

func NewLibraryService(st store.Store, manager *extractor.Manager) *LibraryService {
	return &LibraryService{store: st, manager: manager}
}

// backendName resolves a backend for store-only operations; these only
// address rows by name and never need the model loaded.
func (s *LibraryService) backendName(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if d := s.manager.DefaultName(); d != "" {
		return d, nil
	}
	return "", fmt.Errorf("%w: no backend requested and no default configured", xerrors.ErrConfiguration)
}

// AddSpeaker enrolls one audio clip for a named speaker.
func (s *LibraryService) AddSpeaker(ctx context.Context, backendName, speaker, shortName, audioPath, sampleDate string) (*model.VoiceSample, error) {
	if model.IsPlaceholderName(speaker) {
		return nil, fmt.Errorf("%w: refusing to enroll placeholder name %q", xerrors.ErrInvalid, speaker)
	}
	ex, err := s.manager.Backend(backendName)
	if err != nil {
		return nil, err
	}
	backend := ex.Identity().Backend
	samples, rate, err := extractor.LoadAudio(audioPath)
	if err != nil {
		return nil, err
	}
	vec, err := ex.Extract(ctx, samples, rate)
	if err != nil {
		return nil, err
	}
	id := ex.Identity()
	sample, err := s.store.UpsertSample(ctx, &store.UpsertSampleRequest{
		Backend:     backend,
		ModelID:     id.ModelID,
		VersionTag:  id.VersionTag,
		SpeakerName: speaker,
		ShortName:   shortName,
		SampleType:  model.SampleTypeSpeaker,
		FilePath:    audioPath,
		SampleDate:  timeutil.NormalizeDate(sampleDate),
		Source:      model.SourceManual,
		Embedding:   vec,
	})
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("speaker sample enrolled",
		zap.String("speaker", speaker),
		zap.String("backend", backend),
		zap.String("file", audioPath))
	return sample, nil
}

func (s *LibraryService) RemoveSpeaker(ctx context.Context, backendName, speaker string) error {
	backend, err := s.backendName(backendName)
	if err != nil {
		return err
	}
	return s.store.RemoveSpeaker(ctx, backend, speaker)
}

func (s *LibraryService) ListSpeakers(ctx context.Context, backendName string) ([]model.SpeakerInfo, error) {
	backend, err := s.backendName(backendName)
	if err != nil {
		return nil, err
	}
	return s.store.ListSpeakers(ctx, backend)
}

// Export writes the backend's aggregated library as a portable snapshot
// document and returns the number of speakers exported.
func (s *LibraryService) Export(ctx context.Context, backendName string, w io.Writer) (int, error) {
	backend, err := s.backendName(backendName)
	if err != nil {
		return 0, err
	}
	centroids, err := s.store.LoadCentroids(ctx, backend)
	if err != nil {
		return 0, err
	}
	doc := snapshot.FromCentroids(backend, centroids)
	if err := snapshot.Encode(w, doc); err != nil {
		return 0, err
	}
	return len(doc.Speakers), nil
}

// Import merges a snapshot document into the store. With replace set the
// whole centroid set is swapped atomically; otherwise only speakers the
// store does not know yet are added.
func (s *LibraryService) Import(ctx context.Context, backendName string, r io.Reader, replace bool) (int, error) {
	backend, err := s.backendName(backendName)
	if err != nil {
		return 0, err
	}
	doc, err := snapshot.Decode(r)
	if err != nil {
		return 0, err
	}
	if doc.Meta.Backend != "" && doc.Meta.Backend != backend {
		return 0, fmt.Errorf("%w: snapshot was exported for backend %q, not %q",
			xerrors.ErrConflict, doc.Meta.Backend, backend)
	}
	centroids := doc.Centroids()
	if replace {
		if err := s.store.ReplaceCentroids(ctx, backend, centroids); err != nil {
			return 0, err
		}
		return len(centroids), nil
	}
	return s.store.ImportCentroidsMissingOnly(ctx, backend, centroids)
}

func (s *LibraryService) Rebuild(ctx context.Context, backendName string) (*model.RebuildReport, error) {
	backend, err := s.backendName(backendName)
	if err != nil {
		return nil, err
	}
	report, err := s.store.RebuildFromSamples(ctx, backend)
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("centroids rebuilt",
		zap.String("backend", backend),
		zap.Int("sample_rows", report.SampleRows),
		zap.Int("groups", report.GroupCount),
		zap.Int("written", report.CentroidsWritten))
	return report, nil
}

func (s *LibraryService) Verify(ctx context.Context, backendName string) (*model.IntegrityReport, error) {
	backend, err := s.backendName(backendName)
	if err != nil {
		return nil, err
	}
	return s.store.VerifyIntegrity(ctx, backend)
}
