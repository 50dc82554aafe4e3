package model

// UnknownSpeaker labels transcript segments whose midpoint no diarization
// turn covers.
const UnknownSpeaker = "UNKNOWN"

// DiarizationTurn is one speaker-labeled time range produced by the external
// diarizer. Labels are opaque strings such as "SPEAKER_00".
type DiarizationTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

func (t DiarizationTurn) Duration() float64 {
	return t.End - t.Start
}

// Diarization is the external diarizer's output for one recording.
type Diarization struct {
	Speakers    []string          `json:"speakers"`
	NumSpeakers int               `json:"num_speakers"`
	Segments    []DiarizationTurn `json:"segments"`
}

// IdentifiedSpeaker maps one diarization label to a known speaker. Name is
// empty when the best score fell below the identification threshold.
type IdentifiedSpeaker struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// TranscriptSegment is one timed transcript line to be annotated with a
// diarization label.
type TranscriptSegment struct {
	SegmentIdx int     `json:"segment_idx"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text,omitempty"`
	Speaker    string  `json:"speaker,omitempty"`
}
