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

	"github.com/makermatrix/taskctl/internal/task"
)

// PostgresStore is the production Store backend, grounded on
// control_plane/store/postgres.go: a pgxpool connection pool, raw SQL with
// $N placeholders, ON CONFLICT upserts for the singleton config row, and
// pgx.ErrNoRows translated to task.ErrNotFound.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore dials and configures the pool the same way the teacher's
// NewPostgresStore does (bounded pool size, connection lifetime, periodic
// health checks) rather than accepting an unbounded default.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	cfg.MaxConns = 50
	cfg.MinConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

const taskColumns = `id, type, name, description, status, priority, progress, current_step,
	input, result, error_message, max_retries, retry_count, timeout_seconds,
	created_at, scheduled_at, started_at, completed_at, created_by_user_id,
	related_entity_type, related_entity_id, parent_task_id, depends_on_task_ids, version`

func (s *PostgresStore) Create(ctx context.Context, t *task.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}

	inputJSON, err := json.Marshal(t.Input)
	if err != nil {
		return fmt.Errorf("store: marshal input: %w", err)
	}
	resultJSON, err := json.Marshal(t.Result)
	if err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}
	dependsJSON, err := json.Marshal(t.DependsOnTaskIDs)
	if err != nil {
		return fmt.Errorf("store: marshal depends_on: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, string(t.Type), t.Name, t.Description, string(t.Status), int(t.Priority),
		t.Progress, t.CurrentStep, inputJSON, resultJSON, t.ErrorMessage,
		t.MaxRetries, t.RetryCount, t.TimeoutSeconds, t.CreatedAt, t.ScheduledAt,
		t.StartedAt, t.CompletedAt, t.CreatedByUserID, t.RelatedEntityType,
		t.RelatedEntityID, t.ParentTaskID, dependsJSON, 1)
	if err != nil {
		return fmt.Errorf("store: insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, _, _, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) getWithVersion(ctx context.Context, id string) (*task.Task, int, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, _, version, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, task.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("store: get task: %w", err)
	}
	return t, version, nil
}

// Update applies patch with an optimistic-lock retry loop keyed on the
// version column, the same optimistic-concurrency idiom the teacher uses
// for DesiredState.Version in control_plane/store/postgres.go.
func (s *PostgresStore) Update(ctx context.Context, id string, patch task.Patch) (*task.Task, error) {
	for attempt := 0; attempt < 3; attempt++ {
		cur, curVersion, err := s.getWithVersion(ctx, id)
		if err != nil {
			return nil, err
		}

		next := *cur
		now := time.Now().UTC()

		if patch.Status != nil {
			if !cur.Status.CanTransition(*patch.Status) {
				return nil, &task.IllegalTransitionError{From: cur.Status, To: *patch.Status}
			}
			prev := next.Status
			next.Status = *patch.Status
			switch {
			case prev == task.StatusPending && next.Status == task.StatusRunning:
				next.StartedAt = &now
				next.CurrentStep = "starting"
			case next.Status.IsTerminal():
				next.CompletedAt = &now
			case next.Status == task.StatusPending && prev == task.StatusFailed:
				next.Progress = 0
				next.CurrentStep = ""
				next.ErrorMessage = ""
				next.StartedAt = nil
				next.CompletedAt = nil
				next.RetryCount++
			}
		}
		if patch.Progress != nil {
			p := *patch.Progress
			if p < 0 {
				p = 0
			}
			if p > 100 {
				p = 100
			}
			if p > next.Progress {
				next.Progress = p
			}
		}
		if patch.CurrentStep != nil {
			next.CurrentStep = *patch.CurrentStep
		}
		if patch.Result != nil {
			next.Result = patch.Result
		}
		if patch.ErrorMessage != nil {
			next.ErrorMessage = *patch.ErrorMessage
		}
		if patch.StartedAt != nil {
			next.StartedAt = patch.StartedAt
		}
		if patch.CompletedAt != nil {
			next.CompletedAt = patch.CompletedAt
		}
		if patch.RetryCount != nil {
			next.RetryCount = *patch.RetryCount
		}

		inputJSON, _ := json.Marshal(next.Input)
		resultJSON, _ := json.Marshal(next.Result)
		dependsJSON, _ := json.Marshal(next.DependsOnTaskIDs)

		tag, err := s.pool.Exec(ctx, `
			UPDATE tasks SET status=$1, progress=$2, current_step=$3, input=$4,
				result=$5, error_message=$6, retry_count=$7, started_at=$8,
				completed_at=$9, depends_on_task_ids=$10, version = version + 1
			WHERE id = $11 AND version = $12`,
			string(next.Status), next.Progress, next.CurrentStep, inputJSON,
			resultJSON, next.ErrorMessage, next.RetryCount, next.StartedAt,
			next.CompletedAt, dependsJSON, id, curVersion)
		if err != nil {
			return nil, fmt.Errorf("store: update task: %w", err)
		}
		if tag.RowsAffected() == 0 {
			continue // lost the optimistic race, retry
		}
		return &next, nil
	}
	return nil, fmt.Errorf("store: update task %s: %w", id, task.ErrStoreError)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !cur.Status.IsTerminal() {
		return task.ErrIllegalTransition
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete task: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	n := 1

	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", n)
		args = append(args, statusStrings(filter.Statuses))
		n++
	}
	if len(filter.Types) > 0 {
		query += fmt.Sprintf(" AND type = ANY($%d)", n)
		args = append(args, typeStrings(filter.Types))
		n++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(" AND created_by_user_id = $%d", n)
		args = append(args, filter.UserID)
		n++
	}
	if filter.RelatedEntityType != "" {
		query += fmt.Sprintf(" AND related_entity_type = $%d", n)
		args = append(args, filter.RelatedEntityType)
		n++
	}
	if filter.RelatedEntityID != "" {
		query += fmt.Sprintf(" AND related_entity_id = $%d", n)
		args = append(args, filter.RelatedEntityID)
		n++
	}

	orderCol := "created_at"
	if filter.OrderBy == "priority" {
		orderCol = "priority"
	}
	dir := "ASC"
	if filter.Desc {
		dir = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderCol, dir)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, prios, _, err := scanTaskRows(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		if len(filter.Priorities) > 0 && !containsPriority(filter.Priorities, prios) {
			continue
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReadyToRun(ctx context.Context) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1 AND (scheduled_at IS NULL OR scheduled_at <= now())
		ORDER BY priority DESC, created_at ASC`, string(task.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("store: ready_to_run: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, _, _, err := scanTaskRows(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountSince(ctx context.Context, userID string, typ task.Type, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM tasks
		WHERE created_by_user_id = $1 AND type = $2 AND created_at > $3`,
		userID, string(typ), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count_since: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountActive(ctx context.Context, userID string, typ task.Type, maxAge *time.Duration) (int, error) {
	query := `
		SELECT count(*) FROM tasks
		WHERE created_by_user_id = $1 AND type = $2 AND status IN ($3, $4)`
	args := []any{userID, string(typ), string(task.StatusPending), string(task.StatusRunning)}
	if maxAge != nil {
		query += " AND created_at > $5"
		args = append(args, time.Now().UTC().Add(-*maxAge))
	}
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count_active: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkStale(ctx context.Context, typ task.Type, maxAge time.Duration, reason string) ([]task.Task, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	rows, err := s.pool.Query(ctx, `
		UPDATE tasks SET status = $1, error_message = $2, completed_at = now(), version = version + 1
		WHERE type = $3 AND status IN ($4, $5) AND created_at <= $6
		RETURNING `+taskColumns,
		string(task.StatusFailed), reason, string(typ),
		string(task.StatusPending), string(task.StatusRunning), cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: mark_stale: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, _, _, err := scanTaskRows(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBackupConfig(ctx context.Context) (*BackupConfig, error) {
	var cfg BackupConfig
	row := s.pool.QueryRow(ctx, `
		SELECT schedule_enabled, schedule_type, cron_expression, retention_count,
			encryption_required, encryption_password, last_backup_at, next_backup_at
		FROM backup_config WHERE id = 1`)
	err := row.Scan(&cfg.ScheduleEnabled, &cfg.ScheduleType, &cfg.CronExpression,
		&cfg.RetentionCount, &cfg.EncryptionRequired, &cfg.EncryptionPassword,
		&cfg.LastBackupAt, &cfg.NextBackupAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &BackupConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get backup config: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) SetBackupConfig(ctx context.Context, cfg BackupConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backup_config (id, schedule_enabled, schedule_type, cron_expression,
			retention_count, encryption_required, encryption_password, last_backup_at, next_backup_at)
		VALUES (1, $1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			schedule_enabled = EXCLUDED.schedule_enabled,
			schedule_type = EXCLUDED.schedule_type,
			cron_expression = EXCLUDED.cron_expression,
			retention_count = EXCLUDED.retention_count,
			encryption_required = EXCLUDED.encryption_required,
			encryption_password = EXCLUDED.encryption_password,
			last_backup_at = EXCLUDED.last_backup_at,
			next_backup_at = EXCLUDED.next_backup_at`,
		cfg.ScheduleEnabled, cfg.ScheduleType, cfg.CronExpression, cfg.RetentionCount,
		cfg.EncryptionRequired, cfg.EncryptionPassword, cfg.LastBackupAt, cfg.NextBackupAt)
	if err != nil {
		return fmt.Errorf("store: set backup config: %w", err)
	}
	return nil
}

// row is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query's current
// row), letting scanTask share logic between the two call shapes.
type row interface {
	Scan(dest ...any) error
}

func scanTask(r row) (*task.Task, int, int, error) {
	return scanTaskRows(r)
}

// scanTaskRows returns the scanned task along with its priority and version
// columns. Priority is also set on the task's Priority field and returned
// separately for List's in-process priority filter; version is
// store-internal bookkeeping for optimistic concurrency that task.Task does
// not carry.
func scanTaskRows(r row) (*task.Task, int, int, error) {
	var t task.Task
	var typ, status string
	var priority int
	var inputJSON, resultJSON, dependsJSON []byte
	var version int

	err := r.Scan(&t.ID, &typ, &t.Name, &t.Description, &status, &priority,
		&t.Progress, &t.CurrentStep, &inputJSON, &resultJSON, &t.ErrorMessage,
		&t.MaxRetries, &t.RetryCount, &t.TimeoutSeconds, &t.CreatedAt,
		&t.ScheduledAt, &t.StartedAt, &t.CompletedAt, &t.CreatedByUserID,
		&t.RelatedEntityType, &t.RelatedEntityID, &t.ParentTaskID, &dependsJSON, &version)
	if err != nil {
		return nil, 0, 0, err
	}

	t.Type = task.Type(typ)
	t.Status = task.Status(status)
	t.Priority = task.Priority(priority)
	if len(inputJSON) > 0 {
		_ = json.Unmarshal(inputJSON, &t.Input)
	}
	if len(resultJSON) > 0 {
		_ = json.Unmarshal(resultJSON, &t.Result)
	}
	if len(dependsJSON) > 0 {
		_ = json.Unmarshal(dependsJSON, &t.DependsOnTaskIDs)
	}
	return &t, priority, version, nil
}

func statusStrings(ss []task.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func typeStrings(ts []task.Type) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func containsPriority(want []task.Priority, got int) bool {
	for _, w := range want {
		if int(w) == got {
			return true
		}
	}
	return false
}
