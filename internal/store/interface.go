// Package store implements the Task Store (spec §4.1): durable task state,
// filtered queries, and the retry/staleness helpers the Scheduler and Policy
// Engine depend on. Grounded on control_plane/store/interface.go's shape of
// one narrow interface backed by interchangeable concrete stores.
package store

import (
	"context"
	"time"

	"github.com/makermatrix/taskctl/internal/task"
)

// Filter supports the query shapes named in §4.1: set membership over
// {status, type, priority}, equality on {user_id, related_entity_type,
// related_entity_id}, limit/offset, and an order-by column with direction.
type Filter struct {
	Statuses   []task.Status
	Types      []task.Type
	Priorities []task.Priority

	UserID            string
	RelatedEntityType string
	RelatedEntityID   string

	Limit  int
	Offset int

	OrderBy string // "created_at" (default) or "priority"
	Desc    bool
}

// Store is the durable backing for tasks. Implementations MUST make every
// operation atomic at the row level and MUST update the timestamps named in
// §3 invariants within the same write that changes status.
type Store interface {
	Create(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, id string) (*task.Task, error)
	// Update applies patch to the row identified by id. It returns
	// task.ErrNotFound if absent, and task.ErrIllegalTransition if patch.Status
	// names an illegal edge.
	Update(ctx context.Context, id string, patch task.Patch) (*task.Task, error)
	// Delete rejects rows that are not in a terminal status.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter) ([]task.Task, error)

	// ReadyToRun returns Pending rows with no future scheduled_at, ordered by
	// priority desc then created_at asc. Dependency checks are the
	// Scheduler's job; the Store only returns candidates.
	ReadyToRun(ctx context.Context) ([]task.Task, error)

	// CountSince counts rows of type created after since, scoped to userID,
	// for rate-limit checks.
	CountSince(ctx context.Context, userID string, typ task.Type, since time.Time) (int, error)

	// CountActive counts rows in {Pending, Running} for userID and typ. When
	// maxAge is non-nil, rows older than now-maxAge are excluded (they are
	// considered stuck and not counted).
	CountActive(ctx context.Context, userID string, typ task.Type, maxAge *time.Duration) (int, error)

	// MarkStale transitions every {Pending, Running} row of typ older than
	// now-maxAge to Failed with error_message=reason, and returns them.
	MarkStale(ctx context.Context, typ task.Type, maxAge time.Duration, reason string) ([]task.Task, error)

	// GetBackupConfig/SetBackupConfig manage the singleton BackupConfig row
	// (§3) that drives the Recurring Scheduler.
	GetBackupConfig(ctx context.Context) (*BackupConfig, error)
	SetBackupConfig(ctx context.Context, cfg BackupConfig) error
}

// BackupConfig is the mutable singleton configuration row of §3, written only
// by the Façade and read by the Recurring Scheduler.
type BackupConfig struct {
	ScheduleEnabled     bool
	ScheduleType        string // "nightly" | "weekly" | "custom"
	CronExpression      string
	RetentionCount      int
	EncryptionRequired  bool
	EncryptionPassword  string
	LastBackupAt        *time.Time
	NextBackupAt        *time.Time
}
