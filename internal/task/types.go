// Package task defines the core data shapes shared by every component of the
// background task subsystem: the Task row itself, its enumerations, and the
// boundary shapes (submit request, external patch) that keep the persistence
// row, the immutable snapshot handed to subscribers, and the request payload
// from collapsing into one mixed-purpose struct.
package task

import (
	"encoding/json"
	"time"
)

// Status is the task lifecycle state. See the transition graph in
// CanTransition below.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusRetry never persists; retry is encoded as a reset back to
	// StatusPending. It exists only as a vocabulary word for callers.
	StatusRetry Status = "retry"
)

// IsTerminal reports whether no further transition is legal without delete.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal edge in the
// status graph of spec §3 invariant 1.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	case StatusFailed:
		// Retry is represented as a reset to Pending, handled by Service.Retry.
		return next == StatusPending
	default:
		return false
	}
}

// Priority is the dispatch tie-break ordering; higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// ParsePriority maps the wire string to a Priority, defaulting to Normal for
// an empty string.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "", "normal":
		return PriorityNormal, true
	case "low":
		return PriorityLow, true
	case "high":
		return PriorityHigh, true
	case "urgent":
		return PriorityUrgent, true
	default:
		return PriorityNormal, false
	}
}

// Type is the closed enumeration of task types, §6.1. The wire strings are
// authoritative; do not add a legacy-aliasing layer here (§9 open question).
type Type string

const (
	TypePartEnrichment       Type = "part_enrichment"
	TypeBulkEnrichment       Type = "bulk_enrichment"
	TypeFetchDatasheet       Type = "fetch_datasheet"
	TypeFetchImage           Type = "fetch_image"
	TypeFetchPricing         Type = "fetch_pricing"
	TypeFetchStock           Type = "fetch_stock"
	TypeFetchSpecifications  Type = "fetch_specifications"
	TypePriceUpdate          Type = "price_update"
	TypeDatabaseCleanup      Type = "database_cleanup"
	TypeInventoryAudit       Type = "inventory_audit"
	TypePartValidation       Type = "part_validation"
	TypeFileImportEnrichment Type = "file_import_enrichment"
	TypeBackupCreation       Type = "backup_creation"
	TypeBackupRestore        Type = "backup_restore"
	TypeBackupScheduled      Type = "backup_scheduled"
	TypeBackupRetention      Type = "backup_retention"
	TypeDatasheetDownload    Type = "datasheet_download"
	TypePrinterDiscovery     Type = "printer_discovery"
	TypeEmailNotification    Type = "email_notification"
	TypeReportGeneration     Type = "report_generation"
)

// AllTypes enumerates every closed-set value, used by the registry and the
// policy table to assert complete coverage at startup.
var AllTypes = []Type{
	TypePartEnrichment, TypeBulkEnrichment, TypeFetchDatasheet, TypeFetchImage,
	TypeFetchPricing, TypeFetchStock, TypeFetchSpecifications, TypePriceUpdate,
	TypeDatabaseCleanup, TypeInventoryAudit, TypePartValidation,
	TypeFileImportEnrichment, TypeBackupCreation, TypeBackupRestore,
	TypeBackupScheduled, TypeBackupRetention, TypeDatasheetDownload,
	TypePrinterDiscovery, TypeEmailNotification, TypeReportGeneration,
}

// Task is the sole first-class entity, §3.
type Task struct {
	ID          string `json:"id"`
	Type        Type   `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Status      Status `json:"status"`
	Priority    Priority `json:"-"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"current_step,omitempty"`

	Input  map[string]any `json:"input,omitempty"`
	Result map[string]any `json:"result,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	MaxRetries int `json:"max_retries"`
	RetryCount int `json:"retry_count"`

	TimeoutSeconds int `json:"timeout_seconds"`

	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedByUserID string `json:"created_by_user_id,omitempty"` // empty = system-initiated

	RelatedEntityType string `json:"related_entity_type,omitempty"`
	RelatedEntityID   string `json:"related_entity_id,omitempty"`

	ParentTaskID     string   `json:"parent_task_id,omitempty"`
	DependsOnTaskIDs []string `json:"depends_on_task_ids,omitempty"`
}

// MarshalJSON renders Priority as its wire string rather than its
// underlying int, §6.2.
func (t Task) MarshalJSON() ([]byte, error) {
	type wire Task
	return json.Marshal(struct {
		wire
		Priority string `json:"priority"`
	}{wire: wire(t), Priority: t.Priority.String()})
}

// Snapshot is an immutable copy of a task, safe to hand to subscribers and
// HTTP responses — never a live Store-backed pointer (§9 redesign note on
// session-bound domain objects leaking across async boundaries).
type Snapshot Task

// MarshalJSON delegates to Task's (methods don't carry across a defined
// type in Go, so Snapshot needs its own).
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return Task(s).MarshalJSON()
}

// Snapshot copies t into an immutable value.
func (t Task) Snapshot() Snapshot {
	cp := t
	if t.Input != nil {
		cp.Input = cloneMap(t.Input)
	}
	if t.Result != nil {
		cp.Result = cloneMap(t.Result)
	}
	if t.DependsOnTaskIDs != nil {
		cp.DependsOnTaskIDs = append([]string(nil), t.DependsOnTaskIDs...)
	}
	return Snapshot(cp)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SubmitRequest is the boundary shape for task creation, §6.2.
type SubmitRequest struct {
	Type                 Type           `json:"type" validate:"required"`
	Name                 string         `json:"name" validate:"required"`
	Description          string         `json:"description,omitempty"`
	Priority             string         `json:"priority,omitempty"`
	Input                map[string]any `json:"input,omitempty"`
	MaxRetries           *int           `json:"max_retries,omitempty"`
	TimeoutSeconds       *int           `json:"timeout_seconds,omitempty"`
	ScheduledAt          *time.Time     `json:"scheduled_at,omitempty"`
	RelatedEntityType    string         `json:"related_entity_type,omitempty"`
	RelatedEntityID      string         `json:"related_entity_id,omitempty"`
	ParentTaskID         string         `json:"parent_task_id,omitempty"`
	DependsOnTaskIDs     []string       `json:"depends_on_task_ids,omitempty"`
}

// Patch is the set of fields the Façade or the Reporter may write on an
// existing task. Nil pointers mean "leave unchanged". Only the fields named
// in §4.9 may ever be non-nil from an externally-initiated patch; the
// Reporter additionally uses this same shape internally.
type Patch struct {
	Status       *Status
	Progress     *int
	CurrentStep  *string
	Result       map[string]any
	ErrorMessage *string

	// Internal bookkeeping fields the Store sets itself on certain
	// transitions (§3 invariant 2/3); callers should not set these directly.
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  *int
}

// Actor identifies the caller of the Façade for policy and audit purposes.
type Actor struct {
	UserID       string
	Capabilities map[string]bool
}

// HasCapability reports whether the actor's capability set contains cap.
func (a Actor) HasCapability(cap string) bool {
	return a.Capabilities[cap]
}

// IsAdmin reports whether the actor is exempt from rate limiting per §4.3.2.
func (a Actor) IsAdmin() bool {
	return a.Capabilities["admin"]
}
