// Package align annotates transcript segments with diarization labels.
package align

import (
	"github.com/xxxsen/voiceid/internal/model"
)

// Assign labels each transcript segment with the diarization turn that
// contains its midpoint. Turns are scanned in their given order and the
// first containing turn wins, so overlapping turns resolve
// deterministically. Segments no turn covers are labeled UNKNOWN.
func Assign(segments []model.TranscriptSegment, turns []model.DiarizationTurn) []model.TranscriptSegment {
	out := make([]model.TranscriptSegment, len(segments))
	copy(out, segments)
	for i := range out {
		mid := (out[i].Start + out[i].End) / 2
		out[i].Speaker = labelAt(mid, turns)
	}
	return out
}

func labelAt(t float64, turns []model.DiarizationTurn) string {
	for _, turn := range turns {
		if t >= turn.Start && t <= turn.End {
			return turn.Speaker
		}
	}
	return model.UnknownSpeaker
}

// Rename substitutes identified speaker names for raw diarization labels.
// Labels without an identification keep their original value.
func Rename(segments []model.TranscriptSegment, identified map[string]model.IdentifiedSpeaker) []model.TranscriptSegment {
	out := make([]model.TranscriptSegment, len(segments))
	copy(out, segments)
	for i := range out {
		if id, ok := identified[out[i].Speaker]; ok && id.Name != "" {
			out[i].Speaker = id.Name
		}
	}
	return out
}
