// Package recurring implements the Recurring Scheduler (spec §4.8): a
// cron-driven injector that submits backup_scheduled and backup_retention
// tasks on a schedule derived from the Store's BackupConfig singleton.
// Grounded on original_source/MakerMatrix/services/system/backup_scheduler.py's
// reload_schedule() (remove-then-re-add-by-job-id), translated from
// APScheduler's AsyncIOScheduler/CronTrigger to robfig/cron/v3's
// EntryID-based Remove/AddFunc — robfig/cron/v3 is this repo's one domain
// dependency with no pack-repo grounding (see DESIGN.md), adopted because
// §4.8 requires real cron-expression semantics for an arbitrary
// user-supplied cron_expression.
package recurring

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/makermatrix/taskctl/internal/observability"
	"github.com/makermatrix/taskctl/internal/store"
	"github.com/makermatrix/taskctl/internal/task"
)

const (
	nightlySpec   = "0 2 * * *"
	weeklySpec    = "0 2 * * 0"
	retentionSpec = "0 3 * * *"
)

// Submitter is the narrow slice of the Task Service Façade the injector
// needs. Declared locally so this package never imports internal/service —
// cmd/taskctl wires the concrete *service.Service in.
type Submitter interface {
	Submit(ctx context.Context, req task.SubmitRequest, actor task.Actor) (task.Task, error)
}

// systemActor is the actor identity recorded on cron-injected tasks. Its
// "system" capability satisfies backup_scheduled/backup_retention's
// RequiredCapabilities (policy.Table) — the Recurring Scheduler is the one
// caller of the Façade that submits on behalf of the system rather than a
// human, §4.3.1.
var systemActor = task.Actor{Capabilities: map[string]bool{"system": true}}

// CronInjector owns the cron.Cron scheduler and the two standing entry IDs.
type CronInjector struct {
	mu        sync.Mutex
	cron      *cron.Cron
	store     store.Store
	submitter Submitter

	backupID    cron.EntryID
	retentionID cron.EntryID
	hasBackup   bool
}

// New constructs an injector. Call Start to begin running, and Reload
// whenever BackupConfig changes.
func New(st store.Store, sub Submitter) *CronInjector {
	return &CronInjector{
		cron:      cron.New(),
		store:     st,
		submitter: sub,
	}
}

// Start installs the retention job unconditionally, installs the backup job
// if enabled, and starts the underlying cron.Cron goroutine.
func (c *CronInjector) Start(ctx context.Context) error {
	if err := c.installRetention(); err != nil {
		return err
	}
	c.mu.Lock()
	err := c.installBackupFromConfig(ctx)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.cron.Start()
	return nil
}

// Stop drains the cron.Cron scheduler, waiting for any running job to
// finish.
func (c *CronInjector) Stop() {
	<-c.cron.Stop().Done()
}

// Reload re-reads BackupConfig and atomically replaces the backup job's
// entry (remove-then-re-add under the injector's mutex), matching
// reload_schedule()'s remove-then-re-add-by-job-id pattern.
func (c *CronInjector) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasBackup {
		c.cron.Remove(c.backupID)
		c.hasBackup = false
	}
	return c.installBackupFromConfig(ctx)
}

func (c *CronInjector) installRetention() error {
	id, err := c.cron.AddFunc(retentionSpec, func() {
		c.fireRetention(context.Background())
	})
	if err != nil {
		return fmt.Errorf("recurring: install retention job: %w", err)
	}
	c.mu.Lock()
	c.retentionID = id
	c.mu.Unlock()
	return nil
}

// installBackupFromConfig adds the backup entry when enabled. Callers hold
// c.mu.
func (c *CronInjector) installBackupFromConfig(ctx context.Context) error {
	cfg, err := c.store.GetBackupConfig(ctx)
	if err != nil {
		return fmt.Errorf("recurring: load backup config: %w", err)
	}
	if cfg == nil || !cfg.ScheduleEnabled {
		return nil
	}

	spec, err := scheduleSpec(*cfg)
	if err != nil {
		return fmt.Errorf("recurring: resolve schedule: %w", err)
	}

	id, err := c.cron.AddFunc(spec, func() {
		c.fireBackup(context.Background())
	})
	if err != nil {
		return fmt.Errorf("recurring: install backup job: %w", err)
	}
	c.backupID = id
	c.hasBackup = true
	return nil
}

func scheduleSpec(cfg store.BackupConfig) (string, error) {
	switch cfg.ScheduleType {
	case "nightly", "":
		return nightlySpec, nil
	case "weekly":
		return weeklySpec, nil
	case "custom":
		if cfg.CronExpression == "" {
			return "", fmt.Errorf("schedule_type=custom requires cron_expression")
		}
		if _, err := cron.ParseStandard(cfg.CronExpression); err != nil {
			return "", fmt.Errorf("invalid cron_expression %q: %w", cfg.CronExpression, err)
		}
		return cfg.CronExpression, nil
	default:
		return "", fmt.Errorf("unknown schedule_type %q", cfg.ScheduleType)
	}
}

func (c *CronInjector) fireBackup(ctx context.Context) {
	cfg, err := c.store.GetBackupConfig(ctx)
	if err != nil {
		observability.Errorf("recurring", "fire backup_scheduled: load config: %v", err)
		return
	}

	input := map[string]any{"retention_count": cfg.RetentionCount}
	if cfg.EncryptionRequired {
		if cfg.EncryptionPassword == "" {
			observability.Warnf("recurring", "backup_scheduled fired with encryption_required but no password configured")
		} else {
			input["encryption_password"] = cfg.EncryptionPassword
		}
	}

	req := task.SubmitRequest{
		Type:     task.TypeBackupScheduled,
		Name:     "scheduled backup",
		Priority: "high",
		Input:    input,
	}
	if _, err := c.submitter.Submit(ctx, req, systemActor); err != nil {
		observability.Errorf("recurring", "submit backup_scheduled: %v", err)
	}
}

func (c *CronInjector) fireRetention(ctx context.Context) {
	req := task.SubmitRequest{
		Type:     task.TypeBackupRetention,
		Name:     "backup retention sweep",
		Priority: "normal",
	}
	if _, err := c.submitter.Submit(ctx, req, systemActor); err != nil {
		observability.Errorf("recurring", "submit backup_retention: %v", err)
	}
}
