package service

import (
	"context"
	"errors"
	"sort"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voiceid/internal/config"
	"github.com/xxxsen/voiceid/internal/extractor"
	"github.com/xxxsen/voiceid/internal/model"
	xerrors "github.com/xxxsen/voiceid/internal/pkg/errors"
	"github.com/xxxsen/voiceid/internal/pkg/timeutil"
	"github.com/xxxsen/voiceid/internal/repo"
	"github.com/xxxsen/voiceid/internal/store"
)

// HarvestProgressFunc reports per-episode progress.
type HarvestProgressFunc func(done, total int)

// HarvestService enrolls voice samples from episodes whose diarization
// has already been reviewed: every confirmed label/speaker assignment
// contributes its longest transcript segments.
type HarvestService struct {
	store    store.Store
	manager  *extractor.Manager
	episodes *repo.EpisodeSource
	cfg      config.HarvestConfig
}

func NewHarvestService(st store.Store, manager *extractor.Manager, episodes *repo.EpisodeSource, cfg config.HarvestConfig) *HarvestService {
	return &HarvestService{store: st, manager: manager, episodes: episodes, cfg: cfg}
}

// Harvest walks reviewed episodes (or just one when episodeID is set)
// and upserts samples. Individual failures are counted, never fatal;
// sample rows are keyed by provenance, so re-running is idempotent.
func (s *HarvestService) Harvest(ctx context.Context, backendName string, episodeID *int64, progress HarvestProgressFunc) (*model.HarvestReport, error) {
	logger := logutil.GetLogger(ctx)
	ex, err := s.manager.Backend(backendName)
	if err != nil {
		return nil, err
	}
	id := ex.Identity()
	eps, err := s.episodes.EpisodesWithSpeakers(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	report := &model.HarvestReport{}
	for i, ep := range eps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.harvestEpisode(ctx, ex, id, ep, report)
		report.EpisodesProcessed++
		if progress != nil {
			progress(i+1, len(eps))
		}
	}
	logger.Info("harvest complete",
		zap.String("backend", id.Backend),
		zap.Int("episodes", report.EpisodesProcessed),
		zap.Int("added", report.SamplesAdded),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", report.Errors))
	return report, nil
}

func (s *HarvestService) harvestEpisode(ctx context.Context, ex extractor.Extractor, id extractor.Identity, ep repo.HarvestEpisode, report *model.HarvestReport) {
	logger := logutil.GetLogger(ctx).With(zap.Int64("episode_id", ep.ID))
	labels, err := s.episodes.LabelMap(ctx, ep.ID)
	if err != nil {
		logger.Error("load label assignments failed", zap.Error(err))
		report.Errors++
		return
	}
	samples, rate, err := extractor.LoadAudio(ep.AudioFilePath)
	if err != nil {
		if errors.Is(err, xerrors.ErrMissingAudio) {
			logger.Warn("episode audio missing", zap.String("path", ep.AudioFilePath))
			report.Skipped++
		} else {
			logger.Error("load episode audio failed", zap.Error(err))
			report.Errors++
		}
		return
	}
	sampleDate := timeutil.NormalizeDate(ep.PublishedDate)
	for _, label := range sortedKeys(labels) {
		speaker := labels[label]
		if model.IsPlaceholderName(speaker) {
			logger.Debug("skip placeholder assignment", zap.String("label", label))
			report.Skipped++
			continue
		}
		segs, err := s.episodes.SegmentsForLabel(ctx, ep.ID, label, s.cfg.MinSeconds, s.cfg.MaxPerSpeaker)
		if err != nil {
			logger.Error("load segments failed", zap.String("label", label), zap.Error(err))
			report.Errors++
			continue
		}
		for _, seg := range segs {
			clip := extractor.Slice(samples, rate, seg.StartTime, seg.EndTime)
			vec, err := ex.Extract(ctx, clip, rate)
			if err != nil {
				logger.Warn("segment extraction failed",
					zap.String("speaker", speaker),
					zap.Int64("segment", seg.SegmentIdx),
					zap.Error(err))
				report.Skipped++
				continue
			}
			epID, segIdx := ep.ID, seg.SegmentIdx
			start, end := seg.StartTime, seg.EndTime
			if _, err := s.store.UpsertSample(ctx, &store.UpsertSampleRequest{
				Backend:     id.Backend,
				ModelID:     id.ModelID,
				VersionTag:  id.VersionTag,
				SpeakerName: speaker,
				SampleType:  model.SampleTypeSpeaker,
				EpisodeID:   &epID,
				SegmentIdx:  &segIdx,
				FilePath:    ep.AudioFilePath,
				SampleDate:  sampleDate,
				StartTime:   &start,
				EndTime:     &end,
				Source:      model.SourceHarvest,
				Embedding:   vec,
			}); err != nil {
				logger.Error("sample upsert failed",
					zap.String("speaker", speaker),
					zap.Int64("segment", seg.SegmentIdx),
					zap.Error(err))
				report.Errors++
				continue
			}
			report.SamplesAdded++
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
