package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/affinity-cli/internal/model"
)

// sqliteTime is fixed width so stored timestamps sort lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS predictions (
	id                  TEXT PRIMARY KEY,
	created_at          TEXT NOT NULL,
	source              TEXT NOT NULL,
	batch_id            TEXT NOT NULL DEFAULT '',
	drug_name           TEXT NOT NULL,
	smiles              TEXT NOT NULL,
	protein_name        TEXT NOT NULL,
	fasta               TEXT NOT NULL,
	predicted_pk        REAL NOT NULL,
	confidence_score    REAL NOT NULL,
	drug_likeness_score REAL,
	is_favorite         INTEGER NOT NULL DEFAULT 0,
	notes               TEXT NOT NULL DEFAULT '',
	tags                TEXT NOT NULL DEFAULT '[]',
	explanation         TEXT
);

CREATE TABLE IF NOT EXISTS batch_runs (
	id          TEXT PRIMARY KEY,
	source_file TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	total       INTEGER NOT NULL,
	successful  INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	cancelled   INTEGER NOT NULL DEFAULT 0,
	failures    TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
CREATE INDEX IF NOT EXISTS idx_predictions_batch_id ON predictions(batch_id);
CREATE INDEX IF NOT EXISTS idx_predictions_source ON predictions(source);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started_at ON batch_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const recordColumns = `id, created_at, source, batch_id, drug_name, smiles, protein_name, fasta,
	predicted_pk, confidence_score, drug_likeness_score, is_favorite, notes, tags, explanation`

func (s *SQLiteStore) SaveRecords(ctx context.Context, records []model.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save records")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO predictions (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert record")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range records {
		tags, err := json.Marshal(normalizeTags(r.Tags))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal tags")
		}
		var explanation any
		if len(r.Explanation) > 0 {
			explanation = string(r.Explanation)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.CreatedAt.UTC().Format(sqliteTime), string(r.Source), r.BatchID,
			r.DrugName, r.SMILES, r.ProteinName, r.FASTA,
			r.PredictedPK, r.ConfidenceScore, r.DrugLikenessScore,
			r.IsFavorite, r.Notes, string(tags), explanation,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert record %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save records")
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.PredictionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM predictions WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("record", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.PredictionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM predictions WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, filter.BatchID)
	}
	if filter.FavoritesOnly {
		query += ` AND is_favorite = 1`
	}
	if filter.Tag != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(predictions.tags) WHERE json_each.value = ?)`
		args = append(args, filter.Tag)
	}
	if filter.Protein != "" {
		query += ` AND instr(lower(protein_name), ?) > 0`
		args = append(args, strings.ToLower(filter.Protein))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC().Format(sqliteTime))
	}
	if !filter.Until.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.Until.UTC().Format(sqliteTime))
	}
	query += ` ORDER BY created_at DESC, id`

	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.PredictionRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM predictions WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete record %s", id)
	}
	return checkRowsAffected(res, "record", id)
}

func (s *SQLiteStore) Annotate(ctx context.Context, id string, a model.Annotation) error {
	sets := []string{"id = id"}
	var args []any
	if a.IsFavorite != nil {
		sets = append(sets, "is_favorite = ?")
		args = append(args, *a.IsFavorite)
	}
	if a.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *a.Notes)
	}
	if a.Tags != nil {
		b, err := json.Marshal(normalizeTags(*a.Tags))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal tags")
		}
		sets = append(sets, "tags = ?")
		args = append(args, string(b))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE predictions SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		append(args, id)...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: annotate record %s", id)
	}
	return checkRowsAffected(res, "record", id)
}

func (s *SQLiteStore) SaveBatchRun(ctx context.Context, run model.BatchRun) error {
	failures, err := json.Marshal(nonNilFailures(run.Failures))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal failures")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batch_runs (id, source_file, started_at, finished_at, total, successful, failed, cancelled, failures)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   source_file = excluded.source_file, started_at = excluded.started_at,
		   finished_at = excluded.finished_at, total = excluded.total,
		   successful = excluded.successful, failed = excluded.failed,
		   cancelled = excluded.cancelled, failures = excluded.failures`,
		run.ID, run.SourceFile,
		run.StartedAt.UTC().Format(sqliteTime), run.FinishedAt.UTC().Format(sqliteTime),
		run.Total, run.Successful, run.Failed, run.Cancelled, string(failures),
	)
	return eris.Wrapf(err, "sqlite: save batch run %s", run.ID)
}

const batchRunColumns = `id, source_file, started_at, finished_at, total, successful, failed, cancelled, failures`

func (s *SQLiteStore) GetBatchRun(ctx context.Context, id string) (*model.BatchRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchRunColumns+` FROM batch_runs WHERE id = ?`, id)
	run, err := scanBatchRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("batch run", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch run %s", id)
	}
	return run, nil
}

func (s *SQLiteStore) ListBatchRuns(ctx context.Context, limit int) ([]model.BatchRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchRunColumns+` FROM batch_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batch runs")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.BatchRun{}
	for rows.Next() {
		run, err := scanBatchRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list batch runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.PredictionRecord, error) {
	var (
		r           model.PredictionRecord
		createdAt   string
		source      string
		likeness    sql.NullFloat64
		tagsJSON    string
		explanation sql.NullString
	)
	if err := row.Scan(
		&r.ID, &createdAt, &source, &r.BatchID, &r.DrugName, &r.SMILES, &r.ProteinName, &r.FASTA,
		&r.PredictedPK, &r.ConfidenceScore, &likeness, &r.IsFavorite, &r.Notes, &tagsJSON, &explanation,
	); err != nil {
		return nil, err
	}

	t, err := time.Parse(sqliteTime, createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse created_at %q", createdAt)
	}
	r.CreatedAt = t
	r.Source = model.Source(source)
	if likeness.Valid {
		v := likeness.Float64
		r.DrugLikenessScore = &v
	}
	if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tags")
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if explanation.Valid {
		r.Explanation = json.RawMessage(explanation.String)
	}
	return &r, nil
}

func scanBatchRun(row scannable) (*model.BatchRun, error) {
	var (
		run               model.BatchRun
		started, finished string
		failures          string
	)
	if err := row.Scan(
		&run.ID, &run.SourceFile, &started, &finished,
		&run.Total, &run.Successful, &run.Failed, &run.Cancelled, &failures,
	); err != nil {
		return nil, err
	}

	var err error
	if run.StartedAt, err = time.Parse(sqliteTime, started); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse started_at")
	}
	if run.FinishedAt, err = time.Parse(sqliteTime, finished); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse finished_at")
	}
	if err := json.Unmarshal([]byte(failures), &run.Failures); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal failures")
	}
	run.Failures = nonNilFailures(run.Failures)
	return &run, nil
}

func nonNilFailures(f []model.RunFailure) []model.RunFailure {
	if f == nil {
		return []model.RunFailure{}
	}
	return f
}
