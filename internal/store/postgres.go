package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/requora/reqcore/internal/db"
	"github.com/requora/reqcore/internal/model"
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

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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

// NewPostgresFromPool wraps an existing pool, primarily for tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS providers (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	kind             TEXT NOT NULL,
	base_url         TEXT NOT NULL DEFAULT '',
	api_key          TEXT NOT NULL DEFAULT '',
	models           JSONB NOT NULL DEFAULT '[]',
	priority         INTEGER NOT NULL DEFAULT 0,
	timeout_secs     INTEGER NOT NULL DEFAULT 60,
	max_retries      INTEGER NOT NULL DEFAULT 0,
	retry_delay_secs INTEGER NOT NULL DEFAULT 0,
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_jobs (
	id          TEXT PRIMARY KEY,
	goal        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	context     JSONB,
	result      JSONB,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS agent_steps (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES agent_jobs(id),
	seq         INTEGER NOT NULL,
	action      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	output      JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS execution_log (
	id                TEXT PRIMARY KEY,
	adapter           TEXT NOT NULL,
	model             TEXT NOT NULL DEFAULT '',
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	context_tag       TEXT NOT NULL DEFAULT '',
	at                TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS requirements (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_providers_active_priority ON providers(active, priority);
CREATE INDEX IF NOT EXISTS idx_agent_jobs_status ON agent_jobs(status);
CREATE INDEX IF NOT EXISTS idx_agent_steps_job_id ON agent_steps(job_id);
CREATE INDEX IF NOT EXISTS idx_execution_log_at ON execution_log(at);
CREATE INDEX IF NOT EXISTS idx_requirements_status_created ON requirements(status, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Providers ---

func (s *PostgresStore) ListProviders(ctx context.Context, activeOnly bool) ([]model.ProviderConfig, error) {
	query := `SELECT id, name, kind, base_url, api_key, models, priority, timeout_secs,
		max_retries, retry_delay_secs, active, created_at, updated_at FROM providers`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list providers")
	}
	defer rows.Close()

	var out []model.ProviderConfig
	for rows.Next() {
		var p model.ProviderConfig
		var modelsJSON []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.BaseURL, &p.APIKey, &modelsJSON,
			&p.Priority, &p.TimeoutSecs, &p.MaxRetries, &p.RetryDelaySecs, &p.Active,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider")
		}
		if err := json.Unmarshal(modelsJSON, &p.Models); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal models for provider %s", p.ID)
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list providers rows")
}

func (s *PostgresStore) SaveProvider(ctx context.Context, p model.ProviderConfig) (*model.ProviderConfig, error) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	modelsJSON, err := json.Marshal(p.Models)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal models")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO providers (id, name, kind, base_url, api_key, models, priority,
			timeout_secs, max_retries, retry_delay_secs, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, kind = EXCLUDED.kind, base_url = EXCLUDED.base_url,
			api_key = EXCLUDED.api_key, models = EXCLUDED.models, priority = EXCLUDED.priority,
			timeout_secs = EXCLUDED.timeout_secs, max_retries = EXCLUDED.max_retries,
			retry_delay_secs = EXCLUDED.retry_delay_secs, active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.Kind, p.BaseURL, p.APIKey, modelsJSON, p.Priority,
		p.TimeoutSecs, p.MaxRetries, p.RetryDelaySecs, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: save provider")
	}
	return &p, nil
}

func (s *PostgresStore) DeleteProvider(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM providers WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete provider %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Settings ---

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return value, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: set setting %s", key)
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, goal string, jobContext json.RawMessage) (*model.AgentJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_jobs (id, goal, status, context, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, goal, string(model.JobPending), rawOrNil(jobContext), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.AgentJob{
		ID:        id,
		Goal:      goal,
		Status:    model.JobPending,
		Context:   jobContext,
		CreatedAt: now,
	}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.AgentJob, error) {
	var j model.AgentJob
	var contextJSON, resultJSON []byte
	var startedAt, finishedAt *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT id, goal, status, context, result, error, created_at, started_at, finished_at
		FROM agent_jobs WHERE id = $1`, jobID).
		Scan(&j.ID, &j.Goal, &j.Status, &contextJSON, &resultJSON, &j.Error,
			&j.CreatedAt, &startedAt, &finishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}

	j.Context = contextJSON
	j.Result = resultJSON
	j.StartedAt = startedAt
	j.FinishedAt = finishedAt
	return &j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	query := `UPDATE agent_jobs SET status = $1 WHERE id = $2`
	args := []any{string(status), jobID}
	if status == model.JobRunning {
		query = `UPDATE agent_jobs SET status = $1, started_at = $2 WHERE id = $3`
		args = []any{string(status), time.Now().UTC(), jobID}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, status model.JobStatus, result json.RawMessage, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_jobs SET status = $1, result = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(status), rawOrNil(result), errText, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.AgentJob, error) {
	query := `SELECT id, goal, status, context, result, error, created_at, started_at, finished_at FROM agent_jobs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + placeholder(len(args)+1)
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ` + placeholder(len(args)+1)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var out []model.AgentJob
	for rows.Next() {
		var j model.AgentJob
		var contextJSON, resultJSON []byte
		var startedAt, finishedAt *time.Time
		if err := rows.Scan(&j.ID, &j.Goal, &j.Status, &contextJSON, &resultJSON, &j.Error,
			&j.CreatedAt, &startedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		j.Context = contextJSON
		j.Result = resultJSON
		j.StartedAt = startedAt
		j.FinishedAt = finishedAt
		out = append(out, j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list jobs rows")
}

// --- Steps ---

func (s *PostgresStore) CreateStep(ctx context.Context, jobID string, seq int, action string) (*model.AgentStep, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_steps (id, job_id, seq, action, status, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, jobID, seq, action, string(model.StepRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert step")
	}

	return &model.AgentStep{
		ID:        id,
		JobID:     jobID,
		Seq:       seq,
		Action:    action,
		Status:    model.StepRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteStep(ctx context.Context, stepID string, status model.StepStatus, output json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_steps SET status = $1, output = $2, finished_at = $3 WHERE id = $4`,
		string(status), rawOrNil(output), time.Now().UTC(), stepID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete step %s", stepID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountSteps(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agent_steps WHERE job_id = $1`, jobID).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count steps %s", jobID)
}

func (s *PostgresStore) ListSteps(ctx context.Context, jobID string) ([]model.AgentStep, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, seq, action, status, output, started_at, finished_at
		FROM agent_steps WHERE job_id = $1 ORDER BY seq`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list steps")
	}
	defer rows.Close()

	var out []model.AgentStep
	for rows.Next() {
		var st model.AgentStep
		var output []byte
		var finishedAt *time.Time
		if err := rows.Scan(&st.ID, &st.JobID, &st.Seq, &st.Action, &st.Status,
			&output, &st.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		st.Output = output
		st.FinishedAt = finishedAt
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list steps rows")
}

// --- Execution log ---

func (s *PostgresStore) AppendExecutionLog(ctx context.Context, entry model.ExecutionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO execution_log (id, adapter, model, prompt_tokens, completion_tokens,
			total_tokens, status, error, context_tag, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.Adapter, entry.Model, entry.PromptTokens, entry.CompletionTokens,
		entry.TotalTokens, string(entry.Status), entry.Error, entry.ContextTag, entry.At,
	)
	return eris.Wrap(err, "postgres: append execution log")
}

// --- Requirements ---

func (s *PostgresStore) ListRequirements(ctx context.Context, filter RequirementFilter) ([]model.Requirement, error) {
	query := `SELECT id, title, content, category, type, status, created_at FROM requirements`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	if filter.NewestFirst {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ` + placeholder(len(args)+1)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requirements")
	}
	defer rows.Close()

	var out []model.Requirement
	for rows.Next() {
		var r model.Requirement
		if err := rows.Scan(&r.ID, &r.Title, &r.Content, &r.Category, &r.Type, &r.Status, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan requirement")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list requirements rows")
}

func (s *PostgresStore) SaveRequirement(ctx context.Context, r model.Requirement) (*model.Requirement, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.RequirementActive
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO requirements (id, title, content, category, type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, content = EXCLUDED.content, category = EXCLUDED.category,
			type = EXCLUDED.type, status = EXCLUDED.status`,
		r.ID, r.Title, r.Content, r.Category, r.Type, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: save requirement")
	}
	return &r, nil
}

func (s *PostgresStore) UpdateRequirementStatus(ctx context.Context, id string, status model.RequirementStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE requirements SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update requirement status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
