// Package policy implements the Policy Engine (spec §4.3): a fixed,
// process-wide-immutable table of per-task-type rules, evaluated in a fixed
// order against an actor and a request payload.
package policy

import "github.com/makermatrix/taskctl/internal/task"

// Level mirrors original_source/MakerMatrix/models/task_security_model.py's
// TaskSecurityLevel.
type Level string

const (
	LevelPublic    Level = "public"
	LevelUser      Level = "user"
	LevelPowerUser Level = "power_user"
	LevelAdmin     Level = "admin"
	LevelSystem    Level = "system"
)

// RiskClass mirrors TaskRiskLevel.
type RiskClass string

const (
	RiskLow      RiskClass = "low"
	RiskMedium   RiskClass = "medium"
	RiskHigh     RiskClass = "high"
	RiskCritical RiskClass = "critical"
)

// AuditLevel controls how much detail the Policy Engine's audit event
// carries; mirrors the original's audit_level field.
type AuditLevel string

const (
	AuditBasic    AuditLevel = "basic"
	AuditDetailed AuditLevel = "detailed"
	AuditFull     AuditLevel = "full"
)

// Policy is one row of the static table, §3 "Policy (static)" and §6.4.
type Policy struct {
	Type                 task.Type
	Level                Level
	Risk                 RiskClass
	RequiredCapabilities []string
	MaxConcurrentPerUser int
	RateLimitPerHour     int // 0 = unlimited
	RateLimitPerDay      int // 0 = unlimited
	ResourceLimits       map[string]int
	AuditLevel           AuditLevel
	RequiresApproval     bool
}

// Table is the fixed, startup-loaded policy table keyed by task type.
// Values are reproduced bit-exact from
// original_source/MakerMatrix/models/task_security_model.py's
// TASK_SECURITY_POLICIES for every type it defines, and extended to the
// remaining §6.1 types per §6.4's "others follow the same shape" rule —
// each extension is tagged with the sibling row its tier is copied from.
var Table = map[task.Type]Policy{
	task.TypePartEnrichment: {
		Type: task.TypePartEnrichment, Level: LevelUser, Risk: RiskMedium,
		RequiredCapabilities: []string{"parts:write", "tasks:user"},
		MaxConcurrentPerUser: 3, RateLimitPerHour: 30, RateLimitPerDay: 150,
		ResourceLimits: map[string]int{"max_parts": 1, "max_capabilities": 5},
		AuditLevel:     AuditDetailed,
	},
	task.TypeBulkEnrichment: {
		Type: task.TypeBulkEnrichment, Level: LevelPowerUser, Risk: RiskHigh,
		RequiredCapabilities: []string{"parts:write", "tasks:power_user"},
		MaxConcurrentPerUser: 2, RateLimitPerHour: 50, RateLimitPerDay: 200,
		ResourceLimits: map[string]int{"max_parts": 50, "batch_size": 10},
		AuditLevel:     AuditDetailed,
	},
	// fetch_datasheet/fetch_image/fetch_pricing/fetch_stock/fetch_specifications
	// are the per-field fetch operations the original's
	// enrichment_coordinator_service.py drives under part_enrichment; each
	// gets its own row at the same tier as part_enrichment but a tighter
	// cap (single-field fetches are cheaper and more frequent).
	task.TypeFetchDatasheet: {
		Type: task.TypeFetchDatasheet, Level: LevelUser, Risk: RiskLow,
		RequiredCapabilities: []string{"parts:write", "tasks:user"},
		MaxConcurrentPerUser: 3, RateLimitPerHour: 20, RateLimitPerDay: 100,
		ResourceLimits: map[string]int{"max_parts": 1},
		AuditLevel:     AuditBasic,
	},
	task.TypeFetchImage: {
		Type: task.TypeFetchImage, Level: LevelUser, Risk: RiskLow,
		RequiredCapabilities: []string{"parts:write", "tasks:user"},
		MaxConcurrentPerUser: 3, RateLimitPerHour: 15, RateLimitPerDay: 75,
		ResourceLimits: map[string]int{"max_parts": 1},
		AuditLevel:     AuditBasic,
	},
	task.TypeFetchPricing: {
		Type: task.TypeFetchPricing, Level: LevelUser, Risk: RiskLow,
		RequiredCapabilities: []string{"parts:write", "tasks:user"},
		MaxConcurrentPerUser: 3, RateLimitPerHour: 20, RateLimitPerDay: 100,
		ResourceLimits: map[string]int{"max_parts": 1},
		AuditLevel:     AuditBasic,
	},
	task.TypeFetchStock: {
		Type: task.TypeFetchStock, Level: LevelUser, Risk: RiskLow,
		RequiredCapabilities: []string{"parts:write", "tasks:user"},
		MaxConcurrentPerUser: 3, RateLimitPerHour: 20, RateLimitPerDay: 100,
		ResourceLimits: map[string]int{"max_parts": 1},
		AuditLevel:     AuditBasic,
	},
	task.TypeFetchSpecifications: {
		Type: task.TypeFetchSpecifications, Level: LevelUser, Risk: RiskLow,
		RequiredCapabilities: []string{"parts:write", "tasks:user"},
		MaxConcurrentPerUser: 3, RateLimitPerHour: 20, RateLimitPerDay: 100,
		ResourceLimits: map[string]int{"max_parts": 1},
		AuditLevel:     AuditBasic,
	},
	task.TypePriceUpdate: {
		Type: task.TypePriceUpdate, Level: LevelPowerUser, Risk: RiskMedium,
		RequiredCapabilities: []string{"parts:write", "pricing:update", "tasks:power_user"},
		MaxConcurrentPerUser: 1, RateLimitPerHour: 5, RateLimitPerDay: 20,
		AuditLevel: AuditDetailed,
	},
	task.TypeDatabaseCleanup: {
		Type: task.TypeDatabaseCleanup, Level: LevelAdmin, Risk: RiskCritical,
		RequiredCapabilities: []string{"admin", "database:cleanup", "tasks:admin"},
		MaxConcurrentPerUser: 1, RateLimitPerHour: 1, RateLimitPerDay: 3,
		AuditLevel: AuditFull,
	},
	task.TypeInventoryAudit: {
		Type: task.TypeInventoryAudit, Level: LevelSystem, Risk: RiskLow,
		RequiredCapabilities: []string{"system", "inventory:audit"},
		MaxConcurrentPerUser: 1,
		AuditLevel:           AuditBasic,
	},
	// part_validation: no original_source file; tier copied from
	// fetch_datasheet's sibling (low-risk, user-level, light rate limit) per
	// its resemblance in SPEC_FULL.md §4.
	task.TypePartValidation: {
		Type: task.TypePartValidation, Level: LevelUser, Risk: RiskLow,
		RequiredCapabilities: []string{"parts:read", "tasks:user"},
		MaxConcurrentPerUser: 2, RateLimitPerHour: 20, RateLimitPerDay: 0,
		AuditLevel: AuditBasic,
	},
	task.TypeFileImportEnrichment: {
		Type: task.TypeFileImportEnrichment, Level: LevelPowerUser, Risk: RiskHigh,
		RequiredCapabilities: []string{"parts:write", "csv:import", "tasks:power_user"},
		MaxConcurrentPerUser: 2, RateLimitPerHour: 20, RateLimitPerDay: 100,
		ResourceLimits: map[string]int{"max_parts": 1000},
		AuditLevel:     AuditDetailed,
	},
	task.TypeBackupCreation: {
		Type: task.TypeBackupCreation, Level: LevelAdmin, Risk: RiskHigh,
		RequiredCapabilities: []string{"admin", "backup:create", "tasks:admin"},
		MaxConcurrentPerUser: 1, RateLimitPerHour: 2, RateLimitPerDay: 5,
		AuditLevel: AuditFull,
	},
	// backup_restore: same tier as backup_creation — restoring is at least
	// as dangerous as creating.
	task.TypeBackupRestore: {
		Type: task.TypeBackupRestore, Level: LevelAdmin, Risk: RiskCritical,
		RequiredCapabilities: []string{"admin", "backup:restore", "tasks:admin"},
		MaxConcurrentPerUser: 1, RateLimitPerHour: 1, RateLimitPerDay: 3,
		AuditLevel: AuditFull,
	},
	// backup_scheduled/backup_retention: system-initiated by the Recurring
	// Scheduler, not user-submitted — same tier as inventory_audit (system
	// level, no rate limit, single concurrent run).
	task.TypeBackupScheduled: {
		Type: task.TypeBackupScheduled, Level: LevelSystem, Risk: RiskHigh,
		RequiredCapabilities: []string{"system"},
		MaxConcurrentPerUser: 1,
		AuditLevel:           AuditFull,
	},
	task.TypeBackupRetention: {
		Type: task.TypeBackupRetention, Level: LevelSystem, Risk: RiskMedium,
		RequiredCapabilities: []string{"system"},
		MaxConcurrentPerUser: 1,
		AuditLevel:           AuditDetailed,
	},
	task.TypeDatasheetDownload: {
		Type: task.TypeDatasheetDownload, Level: LevelUser, Risk: RiskLow,
		RequiredCapabilities: []string{"parts:write", "tasks:user"},
		MaxConcurrentPerUser: 3, RateLimitPerHour: 20, RateLimitPerDay: 100,
		ResourceLimits: map[string]int{"max_parts": 1},
		AuditLevel:     AuditBasic,
	},
	// printer_discovery: low-risk, user-level, light rate limit — scanning
	// the network for label printers carries little blast radius.
	task.TypePrinterDiscovery: {
		Type: task.TypePrinterDiscovery, Level: LevelUser, Risk: RiskLow,
		RequiredCapabilities: []string{"tasks:user"},
		MaxConcurrentPerUser: 1, RateLimitPerHour: 10, RateLimitPerDay: 50,
		AuditLevel: AuditBasic,
	},
	// email_notification: system-initiated ops alert channel, same tier as
	// backup_retention.
	task.TypeEmailNotification: {
		Type: task.TypeEmailNotification, Level: LevelSystem, Risk: RiskLow,
		RequiredCapabilities: []string{"system"},
		MaxConcurrentPerUser: 2,
		AuditLevel:           AuditBasic,
	},
	task.TypeReportGeneration: {
		Type: task.TypeReportGeneration, Level: LevelUser, Risk: RiskLow,
		RequiredCapabilities: []string{"reports:generate", "tasks:user"},
		MaxConcurrentPerUser: 2, RateLimitPerHour: 10, RateLimitPerDay: 50,
		AuditLevel: AuditBasic,
	},
}

// Lookup returns the policy for typ and whether one is defined. Every §6.1
// type has a row in Table; NewEngine asserts this at startup.
func Lookup(typ task.Type) (Policy, bool) {
	p, ok := Table[typ]
	return p, ok
}
