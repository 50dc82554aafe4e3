// Package hosted copies the aggregated library into a Postgres table
// with a pgvector column, feeding a hosted read path that never touches
// the local database.
package hosted

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voiceid/internal/model"
	xerrors "github.com/xxxsen/voiceid/internal/pkg/errors"
)

const DefaultTable = "voice_centroids"

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Pusher struct {
	db    *sqlx.DB
	table string
}

func Open(dsn, table string) (*Pusher, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: hosted dsn is required", xerrors.ErrConfiguration)
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid hosted table name %q", xerrors.ErrConfiguration, table)
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect hosted db: %w", err)
	}
	return &Pusher{db: db, table: table}, nil
}

func (p *Pusher) Close() error {
	return p.db.Close()
}

// EnsureSchema creates the target table for the given embedding width.
// pgvector columns are fixed-width, so one table serves one backend
// dimension.
func (p *Pusher) EnsureSchema(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive", xerrors.ErrInvalid)
	}
	if _, err := p.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("ensure pgvector extension: %w", err)
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		backend text NOT NULL,
		speaker_name text NOT NULL,
		short_name text NOT NULL DEFAULT '',
		sample_count integer NOT NULL DEFAULT 0,
		sample_dates jsonb NOT NULL DEFAULT '[]',
		embedding vector(%d) NOT NULL,
		updated_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (backend, speaker_name)
	)`, p.table, dim)
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure hosted table %s: %w", p.table, err)
	}
	return nil
}

// Push upserts every centroid and returns the number of rows written.
func (p *Pusher) Push(ctx context.Context, backend string, centroids map[string]*model.SpeakerCentroid) (int, error) {
	logger := logutil.GetLogger(ctx)
	names := make([]string, 0, len(centroids))
	for name := range centroids {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin hosted push: %w", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`INSERT INTO %s
		(backend, speaker_name, short_name, sample_count, sample_dates, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (backend, speaker_name) DO UPDATE SET
			short_name = EXCLUDED.short_name,
			sample_count = EXCLUDED.sample_count,
			sample_dates = EXCLUDED.sample_dates,
			embedding = EXCLUDED.embedding,
			updated_at = now()`, p.table)

	written := 0
	for _, name := range names {
		c := centroids[name]
		if len(c.Centroid) == 0 {
			logger.Warn("skip centroid with empty vector", zap.String("speaker", name))
			continue
		}
		dates, err := json.Marshal(c.SampleDates)
		if err != nil {
			return 0, fmt.Errorf("encode sample dates for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, stmt,
			backend, name, c.ShortName, c.SampleCount, dates,
			pgvector.NewVector(c.Centroid)); err != nil {
			return 0, fmt.Errorf("push centroid %s: %w", name, err)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit hosted push: %w", err)
	}
	logger.Info("hosted push complete",
		zap.String("backend", backend),
		zap.Int("written", written))
	return written, nil
}
