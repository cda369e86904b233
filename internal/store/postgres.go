package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot cache paths.
var preparedStatements = map[string]string{
	"get_cached_resolution": `SELECT id, url, final_url, emails, tier, resolved_at, expires_at FROM resolutions WHERE url = $1 AND expires_at > now()`,
	"put_resolution":        `INSERT INTO resolutions (id, url, final_url, emails, tier, resolved_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (url) DO UPDATE SET final_url = $3, emails = $4, tier = $5, resolved_at = $6, expires_at = $7`,
	"delete_expired":        `DELETE FROM resolutions WHERE expires_at <= now()`,
	"insert_run":            `INSERT INTO harvest_runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
	"finish_run":            `UPDATE harvest_runs SET status = $1, summary = $2, finished_at = $3 WHERE id = $4`,
	"get_run":               `SELECT id, source, status, summary, started_at, finished_at FROM harvest_runs WHERE id = $1`,
	"list_runs":             `SELECT id, source, status, summary, started_at, finished_at FROM harvest_runs ORDER BY started_at DESC LIMIT $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
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

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
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
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS resolutions (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	url         TEXT NOT NULL UNIQUE,
	final_url   TEXT NOT NULL DEFAULT '',
	emails      JSONB NOT NULL,
	tier        TEXT NOT NULL,
	resolved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS harvest_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_resolutions_expires_at ON resolutions(expires_at);
CREATE INDEX IF NOT EXISTS idx_resolutions_url_expires ON resolutions(url, expires_at DESC);
CREATE INDEX IF NOT EXISTS idx_harvest_runs_started_at ON harvest_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetCachedResolution(ctx context.Context, pageURL string) (*model.Resolution, error) {
	var res model.Resolution
	var emailsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, url, final_url, emails, tier, resolved_at, expires_at FROM resolutions
		 WHERE url = $1 AND expires_at > now()`,
		pageURL,
	).Scan(&res.ID, &res.URL, &res.FinalURL, &emailsJSON, &res.Tier, &res.ResolvedAt, &res.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached resolution")
	}
	if err := json.Unmarshal(emailsJSON, &res.Emails); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached emails")
	}
	return &res, nil
}

func (s *PostgresStore) PutResolution(ctx context.Context, res *model.Resolution, ttl time.Duration) error {
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
		return eris.Wrap(err, "postgres: marshal emails")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO resolutions (id, url, final_url, emails, tier, resolved_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (url) DO UPDATE SET final_url = $3, emails = $4, tier = $5, resolved_at = $6, expires_at = $7`,
		id, res.URL, res.FinalURL, emailsJSON, string(res.Tier), resolvedAt, expiresAt,
	)
	return eris.Wrap(err, "postgres: put resolution")
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM resolutions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired resolutions")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, source string) (*model.HarvestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO harvest_runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, source, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.HarvestRun{
		ID:        id,
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE harvest_runs SET status = $1, summary = $2, finished_at = $3 WHERE id = $4`,
		string(status), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.HarvestRun, error) {
	var r model.HarvestRun
	var summaryJSON []byte
	var finishedAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, source, status, summary, started_at, finished_at FROM harvest_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Source, &r.Status, &summaryJSON, &r.StartedAt, &finishedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	if finishedAt != nil {
		r.FinishedAt = *finishedAt
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.HarvestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, summary, started_at, finished_at FROM harvest_runs
		 ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.HarvestRun
	for rows.Next() {
		var r model.HarvestRun
		var summaryJSON []byte
		var finishedAt *time.Time

		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &summaryJSON, &r.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(summaryJSON) > 0 {
			if err := json.Unmarshal(summaryJSON, &r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal summary")
			}
		}
		if finishedAt != nil {
			r.FinishedAt = *finishedAt
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
