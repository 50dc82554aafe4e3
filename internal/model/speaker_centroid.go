package model

// MaxSampleDates bounds the per-centroid date history that feeds temporal
// weighting. The oldest entries are evicted first.
const MaxSampleDates = 20

// SpeakerCentroid is the current best-estimate fingerprint for one speaker
// under one (sample_type, embedding model) key. Its vector equals the mean of
// all live sample vectors for that key; the incremental update path
// approximates this and the rebuild path enforces it.
type SpeakerCentroid struct {
	ID          int64     `json:"id"`
	SpeakerName string    `json:"speaker_name"`
	SampleType  string    `json:"sample_type"`
	ShortName   string    `json:"short_name,omitempty"`
	SampleFile  string    `json:"sample_file,omitempty"`
	SampleCount int       `json:"sample_count"`
	SampleDates []string  `json:"sample_dates,omitempty"`
	Centroid    []float32 `json:"centroid"`
	ModelRef    int64     `json:"model_ref"`
	Mtime       int64     `json:"mtime"`
}

// AppendSampleDate records one normalized sample date, evicting the oldest
// entry once the bounded history is full. Empty dates are ignored.
func (c *SpeakerCentroid) AppendSampleDate(date string) {
	if date == "" {
		return
	}
	c.SampleDates = append(c.SampleDates, date)
	if len(c.SampleDates) > MaxSampleDates {
		c.SampleDates = c.SampleDates[len(c.SampleDates)-MaxSampleDates:]
	}
}

// SpeakerInfo is the list-view projection of a centroid.
type SpeakerInfo struct {
	Name        string `json:"name"`
	ShortName   string `json:"short_name,omitempty"`
	SampleType  string `json:"sample_type"`
	SampleCount int    `json:"sample_count"`
	SampleFile  string `json:"sample_file,omitempty"`
}
