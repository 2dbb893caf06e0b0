package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/affinity-cli/internal/db"
	"github.com/sells-group/affinity-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"get_record":    `SELECT ` + recordColumns + ` FROM predictions WHERE id = $1`,
	"get_batch_run": `SELECT ` + batchRunColumns + ` FROM batch_runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first Migrate.
				if isUndefinedTable(err) {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS predictions (
	id                  TEXT PRIMARY KEY,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	source              TEXT NOT NULL,
	batch_id            TEXT NOT NULL DEFAULT '',
	drug_name           TEXT NOT NULL,
	smiles              TEXT NOT NULL,
	protein_name        TEXT NOT NULL,
	fasta               TEXT NOT NULL,
	predicted_pk        DOUBLE PRECISION NOT NULL,
	confidence_score    DOUBLE PRECISION NOT NULL,
	drug_likeness_score DOUBLE PRECISION,
	is_favorite         BOOLEAN NOT NULL DEFAULT false,
	notes               TEXT NOT NULL DEFAULT '',
	tags                TEXT[] NOT NULL DEFAULT '{}',
	explanation         JSONB
);

CREATE TABLE IF NOT EXISTS batch_runs (
	id          TEXT PRIMARY KEY,
	source_file TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	total       INTEGER NOT NULL,
	successful  INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	cancelled   BOOLEAN NOT NULL DEFAULT false,
	failures    JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_predictions_batch_id ON predictions(batch_id);
CREATE INDEX IF NOT EXISTS idx_predictions_source ON predictions(source);
CREATE INDEX IF NOT EXISTS idx_predictions_tags ON predictions USING GIN (tags);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started_at ON batch_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var copyColumns = []string{
	"id", "created_at", "source", "batch_id", "drug_name", "smiles", "protein_name", "fasta",
	"predicted_pk", "confidence_score", "drug_likeness_score", "is_favorite", "notes", "tags", "explanation",
}

func (s *PostgresStore) SaveRecords(ctx context.Context, records []model.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, len(records))
	for i, r := range records {
		var explanation any
		if len(r.Explanation) > 0 {
			explanation = string(r.Explanation)
		}
		rows[i] = []any{
			r.ID, r.CreatedAt.UTC(), string(r.Source), r.BatchID,
			r.DrugName, r.SMILES, r.ProteinName, r.FASTA,
			r.PredictedPK, r.ConfidenceScore, r.DrugLikenessScore,
			r.IsFavorite, r.Notes, normalizeTags(r.Tags), explanation,
		}
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := db.CopyRows(ctx, tx, "predictions", copyColumns, rows)
		return eris.Wrap(err, "postgres: save records")
	})
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.PredictionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM predictions WHERE id = $1`, id)
	r, err := scanPGRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("record", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.PredictionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM predictions WHERE true`
	args := []any{}
	argIdx := 1
	add := func(clause string, v any) {
		query += fmt.Sprintf(clause, argIdx)
		args = append(args, v)
		argIdx++
	}

	if filter.Source != "" {
		add(` AND source = $%d`, string(filter.Source))
	}
	if filter.BatchID != "" {
		add(` AND batch_id = $%d`, filter.BatchID)
	}
	if filter.FavoritesOnly {
		query += ` AND is_favorite`
	}
	if filter.Tag != "" {
		add(` AND $%d = ANY(tags)`, filter.Tag)
	}
	if filter.Protein != "" {
		add(` AND strpos(lower(protein_name), lower($%d)) > 0`, filter.Protein)
	}
	if !filter.Since.IsZero() {
		add(` AND created_at >= $%d`, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		add(` AND created_at < $%d`, filter.Until.UTC())
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		add(` LIMIT $%d`, filter.Limit)
	}
	if filter.Offset > 0 {
		add(` OFFSET $%d`, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	out := []model.PredictionRecord{}
	for rows.Next() {
		r, err := scanPGRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, id string) error {
	return s.exec(ctx, "delete record", id, `DELETE FROM predictions WHERE id = $1`, id)
}

func (s *PostgresStore) Annotate(ctx context.Context, id string, a model.Annotation) error {
	sets := []string{"id = id"}
	var args []any
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if a.IsFavorite != nil {
		set("is_favorite", *a.IsFavorite)
	}
	if a.Notes != nil {
		set("notes", *a.Notes)
	}
	if a.Tags != nil {
		set("tags", normalizeTags(*a.Tags))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE predictions SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return s.exec(ctx, "annotate record", id, query, args...)
}

func (s *PostgresStore) exec(ctx context.Context, action, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: %s %s", action, id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("record", id)
	}
	return nil
}

func (s *PostgresStore) SaveBatchRun(ctx context.Context, run model.BatchRun) error {
	failures, err := json.Marshal(nonNilFailures(run.Failures))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal failures")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO batch_runs (`+batchRunColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   source_file = EXCLUDED.source_file, started_at = EXCLUDED.started_at,
		   finished_at = EXCLUDED.finished_at, total = EXCLUDED.total,
		   successful = EXCLUDED.successful, failed = EXCLUDED.failed,
		   cancelled = EXCLUDED.cancelled, failures = EXCLUDED.failures`,
		run.ID, run.SourceFile, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Total, run.Successful, run.Failed, run.Cancelled, failures,
	)
	return eris.Wrapf(err, "postgres: save batch run %s", run.ID)
}

func (s *PostgresStore) GetBatchRun(ctx context.Context, id string) (*model.BatchRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+batchRunColumns+` FROM batch_runs WHERE id = $1`, id)
	run, err := scanPGBatchRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("batch run", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch run %s", id)
	}
	return run, nil
}

func (s *PostgresStore) ListBatchRuns(ctx context.Context, limit int) ([]model.BatchRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+batchRunColumns+` FROM batch_runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batch runs")
	}
	defer rows.Close()

	out := []model.BatchRun{}
	for rows.Next() {
		run, err := scanPGBatchRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list batch runs iterate")
}

func scanPGRecord(row scannable) (*model.PredictionRecord, error) {
	var (
		r           model.PredictionRecord
		source      string
		explanation []byte
	)
	if err := row.Scan(
		&r.ID, &r.CreatedAt, &source, &r.BatchID, &r.DrugName, &r.SMILES, &r.ProteinName, &r.FASTA,
		&r.PredictedPK, &r.ConfidenceScore, &r.DrugLikenessScore, &r.IsFavorite, &r.Notes, &r.Tags, &explanation,
	); err != nil {
		return nil, err
	}
	r.Source = model.Source(source)
	r.CreatedAt = r.CreatedAt.UTC()
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if len(explanation) > 0 {
		r.Explanation = json.RawMessage(explanation)
	}
	return &r, nil
}

func scanPGBatchRun(row scannable) (*model.BatchRun, error) {
	var (
		run      model.BatchRun
		failures []byte
	)
	if err := row.Scan(
		&run.ID, &run.SourceFile, &run.StartedAt, &run.FinishedAt,
		&run.Total, &run.Successful, &run.Failed, &run.Cancelled, &failures,
	); err != nil {
		return nil, err
	}
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &run.Failures); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal failures")
		}
	}
	run.Failures = nonNilFailures(run.Failures)
	return &run, nil
}

func isUndefinedTable(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "42P01"
}
