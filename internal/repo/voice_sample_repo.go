package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/voiceid/internal/model"
	appErr "github.com/xxxsen/voiceid/internal/pkg/errors"
	"github.com/xxxsen/voiceid/internal/pkg/vecmath"
)

type VoiceSampleRepo struct {
	db DBTX
}

func NewVoiceSampleRepo(db DBTX) *VoiceSampleRepo {
	return &VoiceSampleRepo{db: db}
}

var sampleColumns = []string{
	"id", "sample_key", "speaker_name", "sample_type", "episode_id", "segment_idx",
	"file_path", "sample_date", "start_time", "end_time", "source", "external_id",
	"model_ref", "embedding", "vector_norm", "ctime", "mtime",
}

// Upsert writes a sample keyed on its provenance-derived sample_key.
// Re-submitting the same logical sample replaces the stored vector in place.
func (r *VoiceSampleRepo) Upsert(ctx context.Context, s *model.VoiceSample) error {
	data := map[string]interface{}{
		"sample_key":   s.SampleKey,
		"speaker_name": s.SpeakerName,
		"sample_type":  s.SampleType,
		"episode_id":   s.EpisodeID,
		"segment_idx":  s.SegmentIdx,
		"file_path":    s.FilePath,
		"sample_date":  s.SampleDate,
		"start_time":   s.StartTime,
		"end_time":     s.EndTime,
		"source":       s.Source,
		"external_id":  s.ExternalID,
		"model_ref":    s.ModelRef,
		"embedding":    vecmath.Encode(s.Embedding),
		"vector_norm":  s.VectorNorm,
		"ctime":        s.Ctime,
		"mtime":        s.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("voice_samples", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr = strings.Replace(sqlStr, "INSERT INTO", "INSERT OR REPLACE INTO", 1)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *VoiceSampleRepo) GetByKey(ctx context.Context, sampleKey string) (*model.VoiceSample, error) {
	where := map[string]interface{}{"sample_key": sampleKey}
	sqlStr, args, err := builder.BuildSelect("voice_samples", where, sampleColumns)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, appErr.ErrNotFound
	}
	return scanSample(rows)
}

// ListByModels returns all samples owned by the given model rows, in
// deterministic (speaker, type, key) order so a rebuild walks them the same
// way regardless of insertion history.
func (r *VoiceSampleRepo) ListByModels(ctx context.Context, modelIDs []int64) ([]model.VoiceSample, error) {
	if len(modelIDs) == 0 {
		return nil, nil
	}
	where := map[string]interface{}{
		"model_ref in": modelIDs,
		"_orderby":     "speaker_name asc, sample_type asc, sample_key asc",
	}
	sqlStr, args, err := builder.BuildSelect("voice_samples", where, sampleColumns)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.VoiceSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *VoiceSampleRepo) DeleteBySpeaker(ctx context.Context, speaker string, modelIDs []int64) (int64, error) {
	if len(modelIDs) == 0 {
		return 0, nil
	}
	where := map[string]interface{}{
		"speaker_name": speaker,
		"model_ref in": modelIDs,
	}
	sqlStr, args, err := builder.BuildDelete("voice_samples", where)
	if err != nil {
		return 0, err
	}
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListOrphans returns samples whose model_ref no longer resolves to an
// embedding_models row. These indicate a corrupted or hand-edited store.
func (r *VoiceSampleRepo) ListOrphans(ctx context.Context) ([]model.VoiceSample, error) {
	const query = `
		SELECT s.id, s.sample_key, s.speaker_name, s.sample_type, s.episode_id, s.segment_idx,
		       s.file_path, s.sample_date, s.start_time, s.end_time, s.source, s.external_id,
		       s.model_ref, s.embedding, s.vector_norm, s.ctime, s.mtime
		FROM voice_samples s
		LEFT JOIN embedding_models m ON m.id = s.model_ref
		WHERE m.id IS NULL
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.VoiceSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSample(rows *sql.Rows) (*model.VoiceSample, error) {
	var s model.VoiceSample
	var episodeID, segmentIdx sql.NullInt64
	var startTime, endTime sql.NullFloat64
	var blob []byte
	if err := rows.Scan(
		&s.ID, &s.SampleKey, &s.SpeakerName, &s.SampleType, &episodeID, &segmentIdx,
		&s.FilePath, &s.SampleDate, &startTime, &endTime, &s.Source, &s.ExternalID,
		&s.ModelRef, &blob, &s.VectorNorm, &s.Ctime, &s.Mtime,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	if episodeID.Valid {
		s.EpisodeID = &episodeID.Int64
	}
	if segmentIdx.Valid {
		s.SegmentIdx = &segmentIdx.Int64
	}
	if startTime.Valid {
		s.StartTime = &startTime.Float64
	}
	if endTime.Valid {
		s.EndTime = &endTime.Float64
	}
	vec, err := vecmath.Decode(blob)
	if err != nil {
		return nil, err
	}
	s.Embedding = vec
	return &s, nil
}
