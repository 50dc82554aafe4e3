package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voiceid/internal/service"
)

// VerifyJob periodically audits the library and logs every finding.
// It diagnoses only; repair stays an explicit operator action.
type VerifyJob struct {
	library *service.LibraryService
	backend string
}

func NewVerifyJob(library *service.LibraryService, backend string) *VerifyJob {
	return &VerifyJob{library: library, backend: backend}
}

func (j *VerifyJob) Name() string {
	return "library_verify"
}

func (j *VerifyJob) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	report, err := j.library.Verify(ctx, j.backend)
	if err != nil {
		return err
	}
	if report.OK() {
		logger.Info("library verified clean",
			zap.String("backend", report.Backend),
			zap.Int("samples", report.SamplesSeen),
			zap.Int("centroids", report.CentroidsSeen))
		return nil
	}
	for _, issue := range report.Issues {
		logger.Warn("integrity issue",
			zap.String("kind", issue.Kind),
			zap.String("speaker", issue.Speaker),
			zap.String("detail", issue.Detail))
	}
	logger.Warn("library verification found issues",
		zap.String("backend", report.Backend),
		zap.Int("issues", len(report.Issues)))
	return nil
}
