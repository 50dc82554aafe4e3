package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/voiceid/internal/model"
	appErr "github.com/xxxsen/voiceid/internal/pkg/errors"
	"github.com/xxxsen/voiceid/internal/pkg/timeutil"
)

type EmbeddingModelRepo struct {
	db DBTX
}

func NewEmbeddingModelRepo(db DBTX) *EmbeddingModelRepo {
	return &EmbeddingModelRepo{db: db}
}

var modelColumns = []string{"id", "backend", "model_id", "embedding_dim", "dtype", "version_tag", "active", "ctime"}

func scanModel(row *sql.Row) (*model.EmbeddingModel, error) {
	var m model.EmbeddingModel
	var active int
	if err := row.Scan(&m.ID, &m.Backend, &m.ModelID, &m.EmbeddingDim, &m.Dtype, &m.VersionTag, &active, &m.Ctime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	m.Active = active != 0
	return &m, nil
}

func (r *EmbeddingModelRepo) Get(ctx context.Context, backend, modelID string, dim int, dtype, versionTag string) (*model.EmbeddingModel, error) {
	where := map[string]interface{}{
		"backend":       backend,
		"model_id":      modelID,
		"embedding_dim": dim,
		"dtype":         dtype,
		"version_tag":   versionTag,
	}
	sqlStr, args, err := builder.BuildSelect("embedding_models", where, modelColumns)
	if err != nil {
		return nil, err
	}
	return scanModel(r.db.QueryRowContext(ctx, sqlStr, args...))
}

// GetOrCreate resolves the model row for one backend configuration, creating
// it on first sight. Rows are never mutated afterwards.
func (r *EmbeddingModelRepo) GetOrCreate(ctx context.Context, backend, modelID string, dim int, dtype, versionTag string) (*model.EmbeddingModel, error) {
	m, err := r.Get(ctx, backend, modelID, dim, dtype, versionTag)
	if err == nil {
		return m, nil
	}
	if !appErr.IsNotFound(err) {
		return nil, err
	}
	data := map[string]interface{}{
		"backend":       backend,
		"model_id":      modelID,
		"embedding_dim": dim,
		"dtype":         dtype,
		"version_tag":   versionTag,
		"active":        1,
		"ctime":         timeutil.NowUnix(),
	}
	sqlStr, args, err := builder.BuildInsert("embedding_models", []map[string]interface{}{data})
	if err != nil {
		return nil, err
	}
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return nil, err
	}
	return r.Get(ctx, backend, modelID, dim, dtype, versionTag)
}

// ListActive returns the active model rows for one backend. Inactive
// (superseded) configurations are excluded from all read paths.
func (r *EmbeddingModelRepo) ListActive(ctx context.Context, backend string) ([]model.EmbeddingModel, error) {
	where := map[string]interface{}{
		"backend": backend,
		"active":  1,
	}
	sqlStr, args, err := builder.BuildSelect("embedding_models", where, modelColumns)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.EmbeddingModel
	for rows.Next() {
		var m model.EmbeddingModel
		var active int
		if err := rows.Scan(&m.ID, &m.Backend, &m.ModelID, &m.EmbeddingDim, &m.Dtype, &m.VersionTag, &active, &m.Ctime); err != nil {
			return nil, err
		}
		m.Active = active != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *EmbeddingModelRepo) ActiveIDs(ctx context.Context, backend string) ([]int64, error) {
	models, err := r.ListActive(ctx, backend)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// SetActive marks a model row active or superseded. Deactivating a row hides
// its samples and centroids from every read path without deleting them.
func (r *EmbeddingModelRepo) SetActive(ctx context.Context, id int64, active bool) error {
	val := 0
	if active {
		val = 1
	}
	sqlStr, args, err := builder.BuildUpdate("embedding_models",
		map[string]interface{}{"id": id},
		map[string]interface{}{"active": val})
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}
