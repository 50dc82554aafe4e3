package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/voiceid/internal/identify"
	"github.com/xxxsen/voiceid/internal/model"
	appErr "github.com/xxxsen/voiceid/internal/pkg/errors"
	"github.com/xxxsen/voiceid/internal/pkg/timeutil"
	"github.com/xxxsen/voiceid/internal/pkg/vecmath"
	"github.com/xxxsen/voiceid/internal/repo"
)

// DBStore is the authoritative relational implementation, backed by sqlite.
// Every mutation runs inside one transaction so a failed write never leaves a
// sample without its norm or a centroid without its model row.
type DBStore struct {
	db *sql.DB
}

func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *DBStore) UpsertSample(ctx context.Context, req *UpsertSampleRequest) (*model.VoiceSample, error) {
	if len(req.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", appErr.ErrInvalid)
	}
	if req.SpeakerName == "" {
		return nil, fmt.Errorf("%w: speaker name required", appErr.ErrInvalid)
	}
	sampleType := req.SampleType
	if sampleType == "" {
		sampleType = model.SampleTypeSpeaker
	}
	source := req.Source
	if source == "" {
		source = model.SourceManual
	}

	var stored *model.VoiceSample
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		models := repo.NewEmbeddingModelRepo(tx)
		samples := repo.NewVoiceSampleRepo(tx)
		centroids := repo.NewCentroidRepo(tx)

		m, err := models.GetOrCreate(ctx, req.Backend, req.ModelID, len(req.Embedding), model.DtypeFloat32, req.VersionTag)
		if err != nil {
			return fmt.Errorf("resolve embedding model: %w", err)
		}
		now := timeutil.NowUnix()
		sampleKey := model.SampleKey(req.Backend, req.SpeakerName, sampleType, req.FilePath,
			req.EpisodeID, req.SegmentIdx, req.StartTime, req.EndTime, req.ExternalID)
		prev, err := samples.GetByKey(ctx, sampleKey)
		if err != nil && !appErr.IsNotFound(err) {
			return err
		}
		sample := &model.VoiceSample{
			SampleKey:   sampleKey,
			SpeakerName: req.SpeakerName,
			SampleType:  sampleType,
			EpisodeID:   req.EpisodeID,
			SegmentIdx:  req.SegmentIdx,
			FilePath:    req.FilePath,
			SampleDate:  timeutil.NormalizeDate(req.SampleDate),
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Source:      source,
			ExternalID:  req.ExternalID,
			ModelRef:    m.ID,
			Embedding:   req.Embedding,
			VectorNorm:  vecmath.Norm(req.Embedding),
			Ctime:       now,
			Mtime:       now,
		}
		if prev != nil {
			sample.Ctime = prev.Ctime
		}
		if err := samples.Upsert(ctx, sample); err != nil {
			return fmt.Errorf("upsert sample: %w", err)
		}

		centroid, err := centroids.Get(ctx, req.SpeakerName, sampleType, m.ID)
		if err != nil {
			if !appErr.IsNotFound(err) {
				return err
			}
			centroid = &model.SpeakerCentroid{
				SpeakerName: req.SpeakerName,
				SampleType:  sampleType,
				ShortName:   req.ShortName,
				ModelRef:    m.ID,
			}
		}
		if centroid.ShortName == "" && req.ShortName != "" {
			centroid.ShortName = req.ShortName
		}
		if centroid.SampleFile == "" {
			centroid.SampleFile = req.FilePath
		}
		// A re-submitted key replaces the stored row, not the membership:
		// substitute the old vector's contribution in place so the mean
		// still agrees with a rebuild, and leave count and dates alone.
		resubmit := prev != nil && prev.ModelRef == m.ID &&
			centroid.SampleCount > 0 && len(centroid.Centroid) == len(req.Embedding)
		if resubmit {
			next, err := vecmath.ReplaceInMean(centroid.Centroid, centroid.SampleCount, prev.Embedding, req.Embedding)
			if err != nil {
				return fmt.Errorf("adjust centroid: %w", err)
			}
			centroid.Centroid = next
		} else {
			identify.Fold(ctx, centroid, req.Embedding, req.SampleDate)
		}
		centroid.Mtime = now
		if err := centroids.Upsert(ctx, centroid); err != nil {
			return fmt.Errorf("upsert centroid: %w", err)
		}
		stored = sample
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *DBStore) LoadCentroids(ctx context.Context, backend string) (map[string]*model.SpeakerCentroid, error) {
	return s.loadCentroidsByType(ctx, backend, model.SampleTypeSpeaker)
}

func (s *DBStore) loadCentroidsByType(ctx context.Context, backend, sampleType string) (map[string]*model.SpeakerCentroid, error) {
	models := repo.NewEmbeddingModelRepo(s.db)
	ids, err := models.ActiveIDs(ctx, backend)
	if err != nil {
		return nil, err
	}
	list, err := repo.NewCentroidRepo(s.db).ListByModels(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.SpeakerCentroid, len(list))
	for i := range list {
		c := list[i]
		if c.SampleType != sampleType {
			continue
		}
		// Two active model rows can briefly coexist mid-migration; the
		// newest row wins so the choice does not depend on scan order.
		if prev, ok := out[c.SpeakerName]; ok {
			logutil.GetLogger(ctx).Warn("speaker has centroids under multiple active models, keeping newest",
				zap.String("backend", backend),
				zap.String("speaker", c.SpeakerName),
				zap.Int64("kept_model", max(prev.ModelRef, c.ModelRef)),
				zap.Int64("dropped_model", min(prev.ModelRef, c.ModelRef)))
			if prev.ModelRef >= c.ModelRef {
				continue
			}
		}
		out[c.SpeakerName] = &c
	}
	return out, nil
}

func (s *DBStore) ReplaceCentroids(ctx context.Context, backend string, centroids map[string]*model.SpeakerCentroid) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		models := repo.NewEmbeddingModelRepo(tx)
		repoCentroids := repo.NewCentroidRepo(tx)
		ids, err := models.ActiveIDs(ctx, backend)
		if err != nil {
			return err
		}
		if _, err := repoCentroids.DeleteByModels(ctx, ids); err != nil {
			return err
		}
		now := timeutil.NowUnix()
		for _, name := range sortedNames(centroids) {
			c := centroids[name]
			if err := s.writeImportedCentroid(ctx, tx, backend, c, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DBStore) ImportCentroidsMissingOnly(ctx context.Context, backend string, centroids map[string]*model.SpeakerCentroid) (int, error) {
	existing, err := s.LoadCentroids(ctx, backend)
	if err != nil {
		return 0, err
	}
	added := 0
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := timeutil.NowUnix()
		for _, name := range sortedNames(centroids) {
			if _, ok := existing[name]; ok {
				continue
			}
			if err := s.writeImportedCentroid(ctx, tx, backend, centroids[name], now); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// writeImportedCentroid resolves an owning model row for an externally
// computed centroid (snapshot imports carry no model identity beyond backend
// and dimension) and writes it.
func (s *DBStore) writeImportedCentroid(ctx context.Context, tx *sql.Tx, backend string, c *model.SpeakerCentroid, now int64) error {
	cp := *c
	if cp.ModelRef == 0 {
		m, err := repo.NewEmbeddingModelRepo(tx).GetOrCreate(ctx, backend, "imported", len(c.Centroid), model.DtypeFloat32, "")
		if err != nil {
			return err
		}
		cp.ModelRef = m.ID
	}
	if cp.SampleType == "" {
		cp.SampleType = model.SampleTypeSpeaker
	}
	cp.Mtime = now
	return repo.NewCentroidRepo(tx).Upsert(ctx, &cp)
}

func (s *DBStore) RebuildFromSamples(ctx context.Context, backend string) (*model.RebuildReport, error) {
	report := &model.RebuildReport{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		models := repo.NewEmbeddingModelRepo(tx)
		samples := repo.NewVoiceSampleRepo(tx)
		centroids := repo.NewCentroidRepo(tx)

		ids, err := models.ActiveIDs(ctx, backend)
		if err != nil {
			return err
		}
		rows, err := samples.ListByModels(ctx, ids)
		if err != nil {
			return err
		}
		report.SampleRows = len(rows)

		old, err := centroids.ListByModels(ctx, ids)
		if err != nil {
			return err
		}
		type key struct {
			speaker    string
			sampleType string
			modelRef   int64
		}
		carry := make(map[key]model.SpeakerCentroid, len(old))
		for _, c := range old {
			carry[key{c.SpeakerName, c.SampleType, c.ModelRef}] = c
		}

		groups := make(map[key][]model.VoiceSample)
		var order []key
		for _, row := range rows {
			k := key{row.SpeakerName, row.SampleType, row.ModelRef}
			if _, ok := groups[k]; !ok {
				order = append(order, k)
			}
			groups[k] = append(groups[k], row)
		}
		report.GroupCount = len(groups)

		if _, err := centroids.DeleteByModels(ctx, ids); err != nil {
			return err
		}
		now := timeutil.NowUnix()
		for _, k := range order {
			group := groups[k]
			vecs := make([][]float32, 0, len(group))
			for _, row := range group {
				vecs = append(vecs, row.Embedding)
			}
			mean, err := vecmath.Mean(vecs)
			if err != nil {
				logutil.GetLogger(ctx).Warn("skipping centroid group with mixed dimensions",
					zap.String("speaker", k.speaker),
					zap.String("sample_type", k.sampleType),
					zap.Error(err))
				report.GroupCount--
				continue
			}
			c := model.SpeakerCentroid{
				SpeakerName: k.speaker,
				SampleType:  k.sampleType,
				ModelRef:    k.modelRef,
				SampleCount: len(group),
				Centroid:    mean,
				SampleFile:  representativeFile(group),
				SampleDates: sampleDates(group),
				Mtime:       now,
			}
			if prev, ok := carry[k]; ok {
				c.ShortName = prev.ShortName
				if c.SampleFile == "" {
					c.SampleFile = prev.SampleFile
				}
			}
			if err := centroids.Upsert(ctx, &c); err != nil {
				return err
			}
			report.CentroidsWritten++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *DBStore) VerifyIntegrity(ctx context.Context, backend string) (*model.IntegrityReport, error) {
	models := repo.NewEmbeddingModelRepo(s.db)
	samples := repo.NewVoiceSampleRepo(s.db)
	centroids := repo.NewCentroidRepo(s.db)

	report := &model.IntegrityReport{Backend: backend}

	ids, err := models.ActiveIDs(ctx, backend)
	if err != nil {
		return nil, err
	}
	rows, err := samples.ListByModels(ctx, ids)
	if err != nil {
		return nil, err
	}
	report.SamplesSeen = len(rows)

	orphans, err := samples.ListOrphans(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range orphans {
		report.Issues = append(report.Issues, model.IntegrityIssue{
			Kind:    model.IssueOrphanedSample,
			Speaker: o.SpeakerName,
			Detail:  fmt.Sprintf("sample %s references missing model row %d", o.SampleKey, o.ModelRef),
		})
	}

	known, err := centroids.ListByModels(ctx, ids)
	if err != nil {
		return nil, err
	}
	report.CentroidsSeen = len(known)
	type key struct {
		speaker    string
		sampleType string
		modelRef   int64
	}
	have := make(map[key]struct{}, len(known))
	for _, c := range known {
		have[key{c.SpeakerName, c.SampleType, c.ModelRef}] = struct{}{}
	}
	reported := make(map[key]struct{})
	checkedFiles := make(map[string]struct{})
	for _, row := range rows {
		k := key{row.SpeakerName, row.SampleType, row.ModelRef}
		if _, ok := have[k]; !ok {
			if _, dup := reported[k]; !dup {
				reported[k] = struct{}{}
				report.Issues = append(report.Issues, model.IntegrityIssue{
					Kind:    model.IssueMissingCentroid,
					Speaker: row.SpeakerName,
					Detail:  fmt.Sprintf("samples exist for (%s, %s) but no centroid", row.SpeakerName, row.SampleType),
				})
			}
		}
		if row.FilePath == "" {
			continue
		}
		if _, done := checkedFiles[row.FilePath]; done {
			continue
		}
		checkedFiles[row.FilePath] = struct{}{}
		if _, err := os.Stat(row.FilePath); err != nil {
			report.Issues = append(report.Issues, model.IntegrityIssue{
				Kind:    model.IssueMissingFile,
				Speaker: row.SpeakerName,
				Detail:  fmt.Sprintf("referenced audio file missing: %s", row.FilePath),
			})
		}
	}
	return report, nil
}

func (s *DBStore) RemoveSpeaker(ctx context.Context, backend, speaker string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		models := repo.NewEmbeddingModelRepo(tx)
		ids, err := models.ActiveIDs(ctx, backend)
		if err != nil {
			return err
		}
		sampleN, err := repo.NewVoiceSampleRepo(tx).DeleteBySpeaker(ctx, speaker, ids)
		if err != nil {
			return err
		}
		centroidN, err := repo.NewCentroidRepo(tx).DeleteBySpeaker(ctx, speaker, ids)
		if err != nil {
			return err
		}
		if sampleN == 0 && centroidN == 0 {
			return appErr.ErrNotFound
		}
		return nil
	})
}

func (s *DBStore) ListSpeakers(ctx context.Context, backend string) ([]model.SpeakerInfo, error) {
	models := repo.NewEmbeddingModelRepo(s.db)
	ids, err := models.ActiveIDs(ctx, backend)
	if err != nil {
		return nil, err
	}
	list, err := repo.NewCentroidRepo(s.db).ListByModels(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.SpeakerInfo, 0, len(list))
	for _, c := range list {
		out = append(out, model.SpeakerInfo{
			Name:        c.SpeakerName,
			ShortName:   c.ShortName,
			SampleType:  c.SampleType,
			SampleCount: c.SampleCount,
			SampleFile:  c.SampleFile,
		})
	}
	return out, nil
}

func sortedNames(m map[string]*model.SpeakerCentroid) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func representativeFile(group []model.VoiceSample) string {
	bestFile := ""
	bestDur := -1.0
	for _, row := range group {
		if row.FilePath == "" {
			continue
		}
		dur := 0.0
		if row.StartTime != nil && row.EndTime != nil {
			dur = *row.EndTime - *row.StartTime
		}
		if dur > bestDur {
			bestDur = dur
			bestFile = row.FilePath
		}
	}
	return bestFile
}

func sampleDates(group []model.VoiceSample) []string {
	var dates []string
	for _, row := range group {
		if row.SampleDate != "" {
			dates = append(dates, row.SampleDate)
		}
	}
	sort.Strings(dates)
	if len(dates) > model.MaxSampleDates {
		dates = dates[len(dates)-model.MaxSampleDates:]
	}
	return dates
}
