package align

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/voiceid/internal/model"
)

func TestAssignByMidpoint(t *testing.T) {
	turns := []model.DiarizationTurn{
		{Start: 0, End: 5, Speaker: "SPEAKER_00"},
		{Start: 5, End: 10, Speaker: "SPEAKER_01"},
	}
	segments := []model.TranscriptSegment{
		{SegmentIdx: 0, Start: 1, End: 3, Text: "hello"},
		{SegmentIdx: 1, Start: 6, End: 9, Text: "hi there"},
		// Straddles the turn border but the midpoint at 5.5 falls in
		// the second turn.
		{SegmentIdx: 2, Start: 4, End: 7, Text: "and"},
	}
	got := Assign(segments, turns)
	require.Equal(t, "SPEAKER_00", got[0].Speaker)
	require.Equal(t, "SPEAKER_01", got[1].Speaker)
	require.Equal(t, "SPEAKER_01", got[2].Speaker)
	// Input is left untouched.
	require.Empty(t, segments[0].Speaker)
}

func TestAssignUncoveredMidpointIsUnknown(t *testing.T) {
	turns := []model.DiarizationTurn{{Start: 0, End: 2, Speaker: "SPEAKER_00"}}
	got := Assign([]model.TranscriptSegment{{Start: 5, End: 7}}, turns)
	require.Equal(t, model.UnknownSpeaker, got[0].Speaker)
}

func TestAssignOverlapFirstTurnWins(t *testing.T) {
	turns := []model.DiarizationTurn{
		{Start: 0, End: 10, Speaker: "SPEAKER_00"},
		{Start: 3, End: 6, Speaker: "SPEAKER_01"},
	}
	got := Assign([]model.TranscriptSegment{{Start: 4, End: 5}}, turns)
	require.Equal(t, "SPEAKER_00", got[0].Speaker)
}

func TestRename(t *testing.T) {
	segments := []model.TranscriptSegment{
		{Speaker: "SPEAKER_00"},
		{Speaker: "SPEAKER_01"},
		{Speaker: "SPEAKER_02"},
		{Speaker: model.UnknownSpeaker},
	}
	identified := map[string]model.IdentifiedSpeaker{
		"SPEAKER_00": {Name: "alice", Confidence: 0.91},
		// Below threshold: best score kept for reporting, no name.
		"SPEAKER_01": {Name: "", Confidence: 0.31},
	}
	got := Rename(segments, identified)
	require.Equal(t, "alice", got[0].Speaker)
	require.Equal(t, "SPEAKER_01", got[1].Speaker)
	require.Equal(t, "SPEAKER_02", got[2].Speaker)
	require.Equal(t, model.UnknownSpeaker, got[3].Speaker)
}
