package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/requora/reqcore/internal/model"
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
CREATE TABLE IF NOT EXISTS providers (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	kind             TEXT NOT NULL,
	base_url         TEXT NOT NULL DEFAULT '',
	api_key          TEXT NOT NULL DEFAULT '',
	models           TEXT NOT NULL DEFAULT '[]',
	priority         INTEGER NOT NULL DEFAULT 0,
	timeout_secs     INTEGER NOT NULL DEFAULT 60,
	max_retries      INTEGER NOT NULL DEFAULT 0,
	retry_delay_secs INTEGER NOT NULL DEFAULT 0,
	active           INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_jobs (
	id          TEXT PRIMARY KEY,
	goal        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	context     TEXT,
	result      TEXT,
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at  DATETIME,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS agent_steps (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES agent_jobs(id),
	seq         INTEGER NOT NULL,
	action      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	output      TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
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
	at                DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS requirements (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_providers_active_priority ON providers(active, priority);
CREATE INDEX IF NOT EXISTS idx_agent_jobs_status ON agent_jobs(status);
CREATE INDEX IF NOT EXISTS idx_agent_steps_job_id ON agent_steps(job_id);
CREATE INDEX IF NOT EXISTS idx_execution_log_at ON execution_log(at);
CREATE INDEX IF NOT EXISTS idx_requirements_status_created ON requirements(status, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Providers ---

func (s *SQLiteStore) ListProviders(ctx context.Context, activeOnly bool) ([]model.ProviderConfig, error) {
	query := `SELECT id, name, kind, base_url, api_key, models, priority, timeout_secs,
		max_retries, retry_delay_secs, active, created_at, updated_at FROM providers`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list providers")
	}
	defer rows.Close()

	var out []model.ProviderConfig
	for rows.Next() {
		var p model.ProviderConfig
		var modelsJSON string
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.BaseURL, &p.APIKey, &modelsJSON,
			&p.Priority, &p.TimeoutSecs, &p.MaxRetries, &p.RetryDelaySecs, &active,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider")
		}
		if err := json.Unmarshal([]byte(modelsJSON), &p.Models); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal models for provider %s", p.ID)
		}
		p.Active = active != 0
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list providers rows")
}

func (s *SQLiteStore) SaveProvider(ctx context.Context, p model.ProviderConfig) (*model.ProviderConfig, error) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	modelsJSON, err := json.Marshal(p.Models)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal models")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO providers (id, name, kind, base_url, api_key, models, priority,
			timeout_secs, max_retries, retry_delay_secs, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, kind = excluded.kind, base_url = excluded.base_url,
			api_key = excluded.api_key, models = excluded.models, priority = excluded.priority,
			timeout_secs = excluded.timeout_secs, max_retries = excluded.max_retries,
			retry_delay_secs = excluded.retry_delay_secs, active = excluded.active,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Kind, p.BaseURL, p.APIKey, string(modelsJSON), p.Priority,
		p.TimeoutSecs, p.MaxRetries, p.RetryDelaySecs, boolToInt(p.Active), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: save provider")
	}
	return &p, nil
}

func (s *SQLiteStore) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete provider %s", id)
	}
	return checkRowsAffected(res, "provider", id)
}

// --- Settings ---

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return eris.Wrapf(err, "sqlite: set setting %s", key)
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, goal string, jobContext json.RawMessage) (*model.AgentJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_jobs (id, goal, status, context, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, goal, string(model.JobPending), nullableJSON(jobContext), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.AgentJob{
		ID:        id,
		Goal:      goal,
		Status:    model.JobPending,
		Context:   jobContext,
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.AgentJob, error) {
	var j model.AgentJob
	var contextJSON, resultJSON sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, goal, status, context, result, error, created_at, started_at, finished_at
		FROM agent_jobs WHERE id = ?`, jobID).
		Scan(&j.ID, &j.Goal, &j.Status, &contextJSON, &resultJSON, &j.Error,
			&j.CreatedAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}

	if contextJSON.Valid {
		j.Context = json.RawMessage(contextJSON.String)
	}
	if resultJSON.Valid {
		j.Result = json.RawMessage(resultJSON.String)
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	return &j, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	query := `UPDATE agent_jobs SET status = ? WHERE id = ?`
	args := []any{string(status), jobID}
	if status == model.JobRunning {
		query = `UPDATE agent_jobs SET status = ?, started_at = ? WHERE id = ?`
		args = []any{string(status), time.Now().UTC(), jobID}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, status model.JobStatus, result json.RawMessage, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_jobs SET status = ?, result = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), nullableJSON(result), errText, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.AgentJob, error) {
	query := `SELECT id, goal, status, context, result, error, created_at, started_at, finished_at FROM agent_jobs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var out []model.AgentJob
	for rows.Next() {
		var j model.AgentJob
		var contextJSON, resultJSON sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&j.ID, &j.Goal, &j.Status, &contextJSON, &resultJSON, &j.Error,
			&j.CreatedAt, &startedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		if contextJSON.Valid {
			j.Context = json.RawMessage(contextJSON.String)
		}
		if resultJSON.Valid {
			j.Result = json.RawMessage(resultJSON.String)
		}
		if startedAt.Valid {
			j.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			j.FinishedAt = &finishedAt.Time
		}
		out = append(out, j)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list jobs rows")
}

// --- Steps ---

func (s *SQLiteStore) CreateStep(ctx context.Context, jobID string, seq int, action string) (*model.AgentStep, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_steps (id, job_id, seq, action, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, jobID, seq, action, string(model.StepRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert step")
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

func (s *SQLiteStore) CompleteStep(ctx context.Context, stepID string, status model.StepStatus, output json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_steps SET status = ?, output = ?, finished_at = ? WHERE id = ?`,
		string(status), nullableJSON(output), time.Now().UTC(), stepID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete step %s", stepID)
	}
	return checkRowsAffected(res, "step", stepID)
}

func (s *SQLiteStore) CountSteps(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_steps WHERE job_id = ?`, jobID).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count steps %s", jobID)
}

func (s *SQLiteStore) ListSteps(ctx context.Context, jobID string) ([]model.AgentStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, seq, action, status, output, started_at, finished_at
		FROM agent_steps WHERE job_id = ? ORDER BY seq`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list steps")
	}
	defer rows.Close()

	var out []model.AgentStep
	for rows.Next() {
		var st model.AgentStep
		var output sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(&st.ID, &st.JobID, &st.Seq, &st.Action, &st.Status,
			&output, &st.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		if output.Valid {
			st.Output = json.RawMessage(output.String)
		}
		if finishedAt.Valid {
			st.FinishedAt = &finishedAt.Time
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list steps rows")
}

// --- Execution log ---

func (s *SQLiteStore) AppendExecutionLog(ctx context.Context, entry model.ExecutionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_log (id, adapter, model, prompt_tokens, completion_tokens,
			total_tokens, status, error, context_tag, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Adapter, entry.Model, entry.PromptTokens, entry.CompletionTokens,
		entry.TotalTokens, string(entry.Status), entry.Error, entry.ContextTag, entry.At,
	)
	return eris.Wrap(err, "sqlite: append execution log")
}

// --- Requirements ---

func (s *SQLiteStore) ListRequirements(ctx context.Context, filter RequirementFilter) ([]model.Requirement, error) {
	query := `SELECT id, title, content, category, type, status, created_at FROM requirements`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.NewestFirst {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requirements")
	}
	defer rows.Close()

	var out []model.Requirement
	for rows.Next() {
		var r model.Requirement
		if err := rows.Scan(&r.ID, &r.Title, &r.Content, &r.Category, &r.Type, &r.Status, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan requirement")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list requirements rows")
}

func (s *SQLiteStore) SaveRequirement(ctx context.Context, r model.Requirement) (*model.Requirement, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.RequirementActive
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requirements (id, title, content, category, type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, content = excluded.content, category = excluded.category,
			type = excluded.type, status = excluded.status`,
		r.ID, r.Title, r.Content, r.Category, r.Type, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: save requirement")
	}
	return &r, nil
}

func (s *SQLiteStore) UpdateRequirementStatus(ctx context.Context, id string, status model.RequirementStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE requirements SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update requirement status %s", id)
	}
	return checkRowsAffected(res, "requirement", id)
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
