package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/xxxsen/voiceid/internal/model"
	xerrors "github.com/xxxsen/voiceid/internal/pkg/errors"
)

// Document is the portable on-disk form of a voice library: one entry
// per speaker, already aggregated, keyed by canonical speaker name.
type Document struct {
	Meta     Meta              `json:"meta"`
	Speakers map[string]*Entry `json:"speakers"`
}

type Meta struct {
	Backend    string `json:"backend"`
	ExportedAt string `json:"exported_at"`
	ExportID   string `json:"export_id"`
}

type Entry struct {
	Embedding   []float32 `json:"embedding"`
	ShortName   string    `json:"short_name,omitempty"`
	SampleFile  string    `json:"sample_file,omitempty"`
	SampleCount int       `json:"sample_count"`
	SampleDates []string  `json:"sample_dates,omitempty"`
}

func NewDocument(backend string) *Document {
	return &Document{
		Meta: Meta{
			Backend:    backend,
			ExportedAt: time.Now().UTC().Format(time.RFC3339),
			ExportID:   uuid.NewString(),
		},
		Speakers: map[string]*Entry{},
	}
}

// FromCentroids builds a fresh document from an in-memory centroid map.
func FromCentroids(backend string, centroids map[string]*model.SpeakerCentroid) *Document {
	doc := NewDocument(backend)
	for name, c := range centroids {
		doc.Speakers[name] = &Entry{
			Embedding:   append([]float32(nil), c.Centroid...),
			ShortName:   c.ShortName,
			SampleFile:  c.SampleFile,
			SampleCount: c.SampleCount,
			SampleDates: append([]string(nil), c.SampleDates...),
		}
	}
	return doc
}

// Centroids converts the document back to the centroid map form used by
// the identification engine. Model refs are left unset; the importing
// store assigns its own.
func (d *Document) Centroids() map[string]*model.SpeakerCentroid {
	out := make(map[string]*model.SpeakerCentroid, len(d.Speakers))
	for name, e := range d.Speakers {
		out[name] = &model.SpeakerCentroid{
			SpeakerName: name,
			SampleType:  model.SampleTypeSpeaker,
			ShortName:   e.ShortName,
			SampleFile:  e.SampleFile,
			SampleCount: e.SampleCount,
			SampleDates: append([]string(nil), e.SampleDates...),
			Centroid:    append([]float32(nil), e.Embedding...),
		}
	}
	return out
}

func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Speakers))
	for name := range d.Speakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Encode(w io.Writer, d *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// Decode parses a snapshot document. Malformed input fails loudly with
// ErrCorruptSnapshot instead of degrading to an empty library.
func Decode(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrCorruptSnapshot, err)
	}
	if doc.Speakers == nil {
		doc.Speakers = map[string]*Entry{}
	}
	for name, e := range doc.Speakers {
		if e == nil || len(e.Embedding) == 0 {
			return nil, fmt.Errorf("%w: speaker %q has no embedding", xerrors.ErrCorruptSnapshot, name)
		}
	}
	return doc, nil
}
