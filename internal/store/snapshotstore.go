package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/xxxsen/voiceid/internal/filestore"
	"github.com/xxxsen/voiceid/internal/identify"
	"github.com/xxxsen/voiceid/internal/model"
	xerrors "github.com/xxxsen/voiceid/internal/pkg/errors"
	"github.com/xxxsen/voiceid/internal/pkg/timeutil"
	"github.com/xxxsen/voiceid/internal/snapshot"
)

// SnapshotStore keeps the library as a single aggregated document in a
// file store. It holds centroids only; raw samples are folded in and
// discarded, so rebuild is not available in this mode.
type SnapshotStore struct {
	fs  filestore.Store
	key string

	mu sync.Mutex
}

func NewSnapshotStore(fs filestore.Store, key string) (*SnapshotStore, error) {
	if fs == nil {
		return nil, fmt.Errorf("%w: snapshot store requires a file store", xerrors.ErrConfiguration)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: snapshot store requires a document key", xerrors.ErrConfiguration)
	}
	return &SnapshotStore{fs: fs, key: key}, nil
}

// load reads the current document. A missing document is an empty
// library; a malformed one fails loudly.
func (s *SnapshotStore) load(ctx context.Context, backend string) (*snapshot.Document, error) {
	rc, err := s.fs.Open(ctx, s.key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snapshot.NewDocument(backend), nil
		}
		return nil, fmt.Errorf("open snapshot %s: %w", s.key, err)
	}
	defer rc.Close()
	doc, err := snapshot.Decode(rc)
	if err != nil {
		return nil, err
	}
	if doc.Meta.Backend != "" && backend != "" && doc.Meta.Backend != backend {
		return nil, fmt.Errorf("%w: snapshot was exported for backend %q, not %q",
			xerrors.ErrConflict, doc.Meta.Backend, backend)
	}
	return doc, nil
}

func (s *SnapshotStore) persist(ctx context.Context, doc *snapshot.Document) error {
	buf := &bytes.Buffer{}
	if err := snapshot.Encode(buf, doc); err != nil {
		return err
	}
	body := nopSeekCloser{bytes.NewReader(buf.Bytes())}
	return s.fs.Save(ctx, s.key, body, int64(buf.Len()))
}

func (s *SnapshotStore) UpsertSample(ctx context.Context, req *UpsertSampleRequest) (*model.VoiceSample, error) {
	if req == nil || len(req.Embedding) == 0 {
		return nil, fmt.Errorf("%w: sample embedding is empty", xerrors.ErrInvalid)
	}
	if req.SpeakerName == "" {
		return nil, fmt.Errorf("%w: speaker name is required", xerrors.ErrInvalid)
	}
	sampleType := req.SampleType
	if sampleType == "" {
		sampleType = model.SampleTypeSpeaker
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx, req.Backend)
	if err != nil {
		return nil, err
	}
	entry := doc.Speakers[req.SpeakerName]
	c := &model.SpeakerCentroid{SpeakerName: req.SpeakerName, SampleType: sampleType}
	if entry != nil {
		c.Centroid = entry.Embedding
		c.SampleCount = entry.SampleCount
		c.SampleDates = entry.SampleDates
		c.ShortName = entry.ShortName
		c.SampleFile = entry.SampleFile
	}
	identify.Fold(ctx, c, req.Embedding, req.SampleDate)
	if req.ShortName != "" {
		c.ShortName = req.ShortName
	}
	if c.SampleFile == "" {
		c.SampleFile = req.FilePath
	}
	doc.Speakers[req.SpeakerName] = &snapshot.Entry{
		Embedding:   c.Centroid,
		ShortName:   c.ShortName,
		SampleFile:  c.SampleFile,
		SampleCount: c.SampleCount,
		SampleDates: c.SampleDates,
	}
	if doc.Meta.Backend == "" {
		doc.Meta.Backend = req.Backend
	}
	if err := s.persist(ctx, doc); err != nil {
		return nil, err
	}
	return &model.VoiceSample{
		SampleKey: model.SampleKey(req.Backend, req.SpeakerName, sampleType,
			req.FilePath, req.EpisodeID, req.SegmentIdx, req.StartTime, req.EndTime, req.ExternalID),
		SpeakerName: req.SpeakerName,
		SampleType:  sampleType,
		FilePath:    req.FilePath,
		SampleDate:  req.SampleDate,
		Source:      req.Source,
		Embedding:   req.Embedding,
		Ctime:       timeutil.NowUnix(),
	}, nil
}

func (s *SnapshotStore) LoadCentroids(ctx context.Context, backend string) (map[string]*model.SpeakerCentroid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx, backend)
	if err != nil {
		return nil, err
	}
	return doc.Centroids(), nil
}

func (s *SnapshotStore) ReplaceCentroids(ctx context.Context, backend string, centroids map[string]*model.SpeakerCentroid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx, snapshot.FromCentroids(backend, centroids))
}

func (s *SnapshotStore) ImportCentroidsMissingOnly(ctx context.Context, backend string, centroids map[string]*model.SpeakerCentroid) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx, backend)
	if err != nil {
		return 0, err
	}
	incoming := snapshot.FromCentroids(backend, centroids)
	added := 0
	for name, e := range incoming.Speakers {
		if _, ok := doc.Speakers[name]; ok {
			continue
		}
		doc.Speakers[name] = e
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if doc.Meta.Backend == "" {
		doc.Meta.Backend = backend
	}
	if err := s.persist(ctx, doc); err != nil {
		return 0, err
	}
	return added, nil
}

// RebuildFromSamples cannot work here: the document only holds the
// folded aggregates, the per-sample vectors are gone.
func (s *SnapshotStore) RebuildFromSamples(ctx context.Context, backend string) (*model.RebuildReport, error) {
	_ = ctx
	_ = backend
	return nil, fmt.Errorf("%w: snapshot store keeps no raw samples to rebuild from", xerrors.ErrUnsupported)
}

func (s *SnapshotStore) VerifyIntegrity(ctx context.Context, backend string) (*model.IntegrityReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx, backend)
	if err != nil {
		return nil, err
	}
	report := &model.IntegrityReport{Backend: backend, CentroidsSeen: len(doc.Speakers)}
	for _, name := range doc.Names() {
		e := doc.Speakers[name]
		if e.SampleFile == "" {
			continue
		}
		if _, err := os.Stat(e.SampleFile); err != nil {
			report.Issues = append(report.Issues, model.IntegrityIssue{
				Kind:    model.IssueMissingFile,
				Speaker: name,
				Detail:  e.SampleFile,
			})
		}
	}
	return report, nil
}

func (s *SnapshotStore) RemoveSpeaker(ctx context.Context, backend, speaker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx, backend)
	if err != nil {
		return err
	}
	if _, ok := doc.Speakers[speaker]; !ok {
		return fmt.Errorf("%w: speaker %s", xerrors.ErrNotFound, speaker)
	}
	delete(doc.Speakers, speaker)
	return s.persist(ctx, doc)
}

func (s *SnapshotStore) ListSpeakers(ctx context.Context, backend string) ([]model.SpeakerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx, backend)
	if err != nil {
		return nil, err
	}
	infos := make([]model.SpeakerInfo, 0, len(doc.Speakers))
	for _, name := range doc.Names() {
		e := doc.Speakers[name]
		infos = append(infos, model.SpeakerInfo{
			Name:        name,
			ShortName:   e.ShortName,
			SampleType:  model.SampleTypeSpeaker,
			SampleCount: e.SampleCount,
			SampleFile:  e.SampleFile,
		})
	}
	return infos, nil
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

var _ io.ReadSeeker = nopSeekCloser{}
var _ Store = (*SnapshotStore)(nil)
