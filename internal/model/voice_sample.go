package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var placeholderNameRe = regexp.MustCompile(`(?i)^speaker[_ ]?\d+$`)

// IsPlaceholderName reports whether a speaker name is an unreviewed
// diarization label (SPEAKER_00 and friends) rather than a real person.
// Placeholder names are never enrolled.
func IsPlaceholderName(name string) bool {
	return placeholderNameRe.MatchString(strings.TrimSpace(name))
}

const (
	SampleTypeSpeaker   = "speaker"
	SampleTypeSoundBite = "sound_bite"

	SourceManual  = "manual"
	SourceHarvest = "harvest"
	SourceAuto    = "auto"
)

// VoiceSample is one embedding extracted from one audio clip.
type VoiceSample struct {
	ID          int64     `json:"id"`
	SampleKey   string    `json:"sample_key"`
	SpeakerName string    `json:"speaker_name"`
	SampleType  string    `json:"sample_type"`
	EpisodeID   *int64    `json:"episode_id,omitempty"`
	SegmentIdx  *int64    `json:"segment_idx,omitempty"`
	FilePath    string    `json:"file_path,omitempty"`
	SampleDate  string    `json:"sample_date,omitempty"`
	StartTime   *float64  `json:"start_time,omitempty"`
	EndTime     *float64  `json:"end_time,omitempty"`
	Source      string    `json:"source"`
	ExternalID  string    `json:"external_id,omitempty"`
	ModelRef    int64     `json:"model_ref"`
	Embedding   []float32 `json:"embedding"`
	VectorNorm  float64   `json:"vector_norm"`
	Ctime       int64     `json:"ctime"`
	Mtime       int64     `json:"mtime"`
}

// SampleKey derives the deterministic provenance key for a sample so that
// re-extracting the same logical clip updates the stored row in place instead
// of duplicating it.
func SampleKey(backend, speaker, sampleType, filePath string, episodeID, segmentIdx *int64, start, end *float64, externalID string) string {
	parts := []string{
		backend,
		speaker,
		sampleType,
		filePath,
		optInt(episodeID),
		optInt(segmentIdx),
		optFloat(start) + "-" + optFloat(end),
		externalID,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func optInt(v *int64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.3f", *v)
}
