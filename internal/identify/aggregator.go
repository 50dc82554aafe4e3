package identify

import (
	"context"

	"go.uber.org/zap"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/voiceid/internal/model"
	"github.com/xxxsen/voiceid/internal/pkg/timeutil"
	"github.com/xxxsen/voiceid/internal/pkg/vecmath"
)

// Fold folds one new sample vector into a speaker's running-mean centroid:
// (old*n + v) / (n+1). A dimension mismatch means the backend's model
// configuration changed underneath the speaker; the old aggregate is
// discarded and a fresh mean started from the new sample. Returns true when
// such a reset happened.
func Fold(ctx context.Context, c *model.SpeakerCentroid, vec []float32, sampleDate string) bool {
	date := timeutil.NormalizeDate(sampleDate)
	if len(c.Centroid) != len(vec) {
		reset := len(c.Centroid) > 0
		if reset {
			logutil.GetLogger(ctx).Warn("centroid dimension changed, restarting running mean",
				zap.String("speaker", c.SpeakerName),
				zap.String("sample_type", c.SampleType),
				zap.Int("old_dim", len(c.Centroid)),
				zap.Int("new_dim", len(vec)))
		}
		c.Centroid = append([]float32(nil), vec...)
		c.SampleCount = 1
		c.SampleDates = nil
		c.AppendSampleDate(date)
		return reset
	}
	next, err := vecmath.RunningMean(c.Centroid, c.SampleCount, vec)
	if err != nil {
		// Unreachable after the length check above; keep the old value.
		return false
	}
	c.Centroid = next
	c.SampleCount++
	c.AppendSampleDate(date)
	return false
}
