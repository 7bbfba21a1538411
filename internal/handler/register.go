package handler

import (
	"github.com/makermatrix/taskctl/internal/notify"
	"github.com/makermatrix/taskctl/internal/registry"
)

// Dependencies bundles the out-of-scope collaborators handlers call through
// (§4.2: "the Registry exposes lookup/list... handler code is process-wide
// singleton"). cmd/taskctl constructs one Dependencies value and passes it
// to RegisterAll once at startup — explicit registration, no directory
// walk, per §9's redesign note.
type Dependencies struct {
	Supplier SupplierClient
	Files    FileStore
	Notifier notify.Notifier
}

// DefaultDependencies wires the in-memory stand-ins, suitable for tests and
// a dev/demo run without real supplier/storage/Slack credentials.
func DefaultDependencies() Dependencies {
	return Dependencies{
		Supplier: NoopSupplierClient{},
		Files:    NewInMemoryFileStore(),
		Notifier: notify.LogNotifier{},
	}
}

// RegisterAll installs one handler instance per §6.1 task type into reg.
func RegisterAll(reg *registry.Registry, deps Dependencies) {
	reg.Register(&PartEnrichmentHandler{Supplier: deps.Supplier})
	reg.Register(&BulkEnrichmentHandler{Supplier: deps.Supplier})
	reg.Register(NewFetchDatasheetHandler(deps.Supplier))
	reg.Register(NewFetchImageHandler(deps.Supplier))
	reg.Register(NewFetchPricingHandler(deps.Supplier))
	reg.Register(NewFetchStockHandler(deps.Supplier))
	reg.Register(NewFetchSpecificationsHandler(deps.Supplier))
	reg.Register(&PriceUpdateHandler{Supplier: deps.Supplier})
	reg.Register(&DatabaseCleanupHandler{})
	reg.Register(&InventoryAuditHandler{})
	reg.Register(&PartValidationHandler{})
	reg.Register(&FileImportEnrichmentHandler{Supplier: deps.Supplier})
	reg.Register(&BackupCreationHandler{Files: deps.Files})
	reg.Register(&BackupRestoreHandler{})
	reg.Register(NewBackupScheduledHandler(deps.Files))
	reg.Register(&BackupRetentionHandler{})
	reg.Register(&DatasheetDownloadHandler{Supplier: deps.Supplier, Files: deps.Files})
	reg.Register(&PrinterDiscoveryHandler{})
	reg.Register(&EmailNotificationHandler{Notifier: deps.Notifier})
	reg.Register(&ReportGenerationHandler{})
}
