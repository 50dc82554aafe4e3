package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/voiceid/internal/model"
	appErr "github.com/xxxsen/voiceid/internal/pkg/errors"
	"github.com/xxxsen/voiceid/internal/pkg/vecmath"
)

type CentroidRepo struct {
	db DBTX
}

func NewCentroidRepo(db DBTX) *CentroidRepo {
	return &CentroidRepo{db: db}
}

var centroidColumns = []string{
	"id", "speaker_name", "sample_type", "short_name", "sample_file",
	"sample_count", "sample_dates", "centroid", "model_ref", "mtime",
}

func (r *CentroidRepo) Upsert(ctx context.Context, c *model.SpeakerCentroid) error {
	dates, err := json.Marshal(c.SampleDates)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"speaker_name": c.SpeakerName,
		"sample_type":  c.SampleType,
		"short_name":   c.ShortName,
		"sample_file":  c.SampleFile,
		"sample_count": c.SampleCount,
		"sample_dates": string(dates),
		"centroid":     vecmath.Encode(c.Centroid),
		"model_ref":    c.ModelRef,
		"mtime":        c.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("speaker_centroids", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr = strings.Replace(sqlStr, "INSERT INTO", "INSERT OR REPLACE INTO", 1)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *CentroidRepo) Get(ctx context.Context, speaker, sampleType string, modelRef int64) (*model.SpeakerCentroid, error) {
	where := map[string]interface{}{
		"speaker_name": speaker,
		"sample_type":  sampleType,
		"model_ref":    modelRef,
	}
	sqlStr, args, err := builder.BuildSelect("speaker_centroids", where, centroidColumns)
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
	return scanCentroid(rows)
}

// ListByModels returns centroids owned by the given model rows in stable
// (speaker, type) order.
func (r *CentroidRepo) ListByModels(ctx context.Context, modelIDs []int64) ([]model.SpeakerCentroid, error) {
	if len(modelIDs) == 0 {
		return nil, nil
	}
	where := map[string]interface{}{
		"model_ref in": modelIDs,
		"_orderby":     "speaker_name asc, sample_type asc",
	}
	sqlStr, args, err := builder.BuildSelect("speaker_centroids", where, centroidColumns)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SpeakerCentroid
	for rows.Next() {
		c, err := scanCentroid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// DeleteByModels clears every centroid owned by the given model rows; the
// atomic replace step of a rebuild.
func (r *CentroidRepo) DeleteByModels(ctx context.Context, modelIDs []int64) (int64, error) {
	if len(modelIDs) == 0 {
		return 0, nil
	}
	where := map[string]interface{}{"model_ref in": modelIDs}
	sqlStr, args, err := builder.BuildDelete("speaker_centroids", where)
	if err != nil {
		return 0, err
	}
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *CentroidRepo) DeleteBySpeaker(ctx context.Context, speaker string, modelIDs []int64) (int64, error) {
	if len(modelIDs) == 0 {
		return 0, nil
	}
	where := map[string]interface{}{
		"speaker_name": speaker,
		"model_ref in": modelIDs,
	}
	sqlStr, args, err := builder.BuildDelete("speaker_centroids", where)
	if err != nil {
		return 0, err
	}
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanCentroid(rows *sql.Rows) (*model.SpeakerCentroid, error) {
	var c model.SpeakerCentroid
	var dates string
	var blob []byte
	if err := rows.Scan(
		&c.ID, &c.SpeakerName, &c.SampleType, &c.ShortName, &c.SampleFile,
		&c.SampleCount, &dates, &blob, &c.ModelRef, &c.Mtime,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	if dates != "" {
		if err := json.Unmarshal([]byte(dates), &c.SampleDates); err != nil {
			return nil, err
		}
	}
	vec, err := vecmath.Decode(blob)
	if err != nil {
		return nil, err
	}
	c.Centroid = vec
	return &c, nil
}
