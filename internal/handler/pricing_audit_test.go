package handler

import (
	"context"
	"testing"

	"github.com/makermatrix/taskctl/internal/task"
)

func TestPriceUpdateHandlerUpdatesEveryPart(t *testing.T) {
	h := &PriceUpdateHandler{Supplier: NoopSupplierClient{}}
	tk := task.Task{Type: task.TypePriceUpdate, Input: map[string]any{"part_ids": []any{"R1", "R2"}}}
	result, err := h.Execute(context.Background(), tk, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	updated, ok := result["updated"].(map[string]int64)
	if !ok || len(updated) != 2 {
		t.Errorf("updated = %+v, want 2 entries", result["updated"])
	}
}

func TestPriceUpdateHandlerRejectsEmptyBatch(t *testing.T) {
	h := &PriceUpdateHandler{Supplier: NoopSupplierClient{}}
	_, err := h.Execute(context.Background(), task.Task{Type: task.TypePriceUpdate}, &recordingReporter{})
	if err == nil {
		t.Fatal("expected an error for an empty part_ids batch")
	}
}

func TestInventoryAuditHandlerReportsNoDiscrepanciesByDefault(t *testing.T) {
	h := &InventoryAuditHandler{}
	result, err := h.Execute(context.Background(), task.Task{Type: task.TypeInventoryAudit}, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	discrepancies, ok := result["discrepancies"].([]any)
	if !ok || len(discrepancies) != 0 {
		t.Errorf("discrepancies = %v, want empty", result["discrepancies"])
	}
}

func TestPartValidationHandlerRequiresPartID(t *testing.T) {
	h := &PartValidationHandler{}
	_, err := h.Execute(context.Background(), task.Task{Type: task.TypePartValidation}, &recordingReporter{})
	if err == nil {
		t.Fatal("expected an error for a missing part_id")
	}
}

func TestPartValidationHandlerValidatesPresentPart(t *testing.T) {
	h := &PartValidationHandler{}
	tk := task.Task{Type: task.TypePartValidation, Input: map[string]any{"part_id": "R1"}}
	result, err := h.Execute(context.Background(), tk, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["valid"] != true || result["part_id"] != "R1" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestReportGenerationHandlerDefaultsReportType(t *testing.T) {
	h := &ReportGenerationHandler{}
	result, err := h.Execute(context.Background(), task.Task{Type: task.TypeReportGeneration}, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["report_type"] != "generic" {
		t.Errorf("report_type = %v, want generic", result["report_type"])
	}
}

func TestReportGenerationHandlerHonorsRequestedType(t *testing.T) {
	h := &ReportGenerationHandler{}
	tk := task.Task{Type: task.TypeReportGeneration, Input: map[string]any{"report_type": "inventory_valuation"}}
	result, err := h.Execute(context.Background(), tk, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["report_type"] != "inventory_valuation" {
		t.Errorf("report_type = %v", result["report_type"])
	}
}
