package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS resolutions (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL UNIQUE,
	final_url   TEXT NOT NULL DEFAULT '',
	emails      TEXT NOT NULL,
	tier        TEXT NOT NULL,
	resolved_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS harvest_runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_resolutions_expires_at ON resolutions(expires_at);
CREATE INDEX IF NOT EXISTS idx_harvest_runs_started_at ON harvest_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCachedResolution(ctx context.Context, pageURL string) (*model.Resolution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, final_url, emails, tier, resolved_at, expires_at FROM resolutions
		 WHERE url = ? AND expires_at > datetime('now')`,
		pageURL,
	)

	var res model.Resolution
	var emailsJSON string
	err := row.Scan(&res.ID, &res.URL, &res.FinalURL, &emailsJSON, &res.Tier, &res.ResolvedAt, &res.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached resolution")
	}
	if err := json.Unmarshal([]byte(emailsJSON), &res.Emails); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached emails")
	}
	return &res, nil
}

func (s *SQLiteStore) PutResolution(ctx context.Context, res *model.Resolution, ttl time.Duration) error {
	id := res.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	resolvedAt := res.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = now
	}
	expiresAt := now.Add(ttl)

	emailsJSON, err := json.Marshal(res.Emails)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal emails")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resolutions (id, url, final_url, emails, tier, resolved_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
		   final_url = excluded.final_url, emails = excluded.emails, tier = excluded.tier,
		   resolved_at = excluded.resolved_at, expires_at = excluded.expires_at`,
		id, res.URL, res.FinalURL, string(emailsJSON), string(res.Tier), resolvedAt, expiresAt,
	)
	return eris.Wrap(err, "sqlite: put resolution")
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM resolutions WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired resolutions")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, source string) (*model.HarvestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO harvest_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		id, source, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.HarvestRun{
		ID:        id,
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE harvest_runs SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		string(status), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.HarvestRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, summary, started_at, finished_at FROM harvest_runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.HarvestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, summary, started_at, finished_at FROM harvest_runs
		 ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.HarvestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.HarvestRun, error) {
	var r model.HarvestRun
	var summaryJSON sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Source, &r.Status, &summaryJSON, &r.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid {
		if err := json.Unmarshal([]byte(summaryJSON.String), &r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.Time
	}
	return &r, nil
}
