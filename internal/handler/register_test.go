package handler

import (
	"context"
	"testing"
	"time"

	"github.com/makermatrix/taskctl/internal/registry"
	"github.com/makermatrix/taskctl/internal/task"
)

func TestRegisterAllCoversEveryTaskType(t *testing.T) {
	reg := registry.New()
	RegisterAll(reg, DefaultDependencies())

	for _, typ := range task.AllTypes {
		if _, ok := reg.Lookup(typ); !ok {
			t.Errorf("no handler registered for type %q", typ)
		}
	}
}

func TestRegisterAllTwiceOnSameRegistryPanics(t *testing.T) {
	reg := registry.New()
	RegisterAll(reg, DefaultDependencies())

	defer func() {
		if recover() == nil {
			t.Fatal("expected double-registration to panic")
		}
	}()
	RegisterAll(reg, DefaultDependencies())
}

func TestBaseHandlerSleepRespectsCancellation(t *testing.T) {
	var h BaseHandler
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Sleep(ctx, time.Second)
	if err == nil {
		t.Fatal("expected Sleep to return an error when ctx is already cancelled")
	}
}

func TestBaseHandlerSleepCompletesNormally(t *testing.T) {
	var h BaseHandler
	if err := h.Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
}

func TestBaseHandlerValidateInputReportsMissingFields(t *testing.T) {
	var h BaseHandler
	tk := task.Task{Type: task.TypePartEnrichment, Input: map[string]any{"part_id": "R1"}}

	if err := h.ValidateInput(tk, "part_id"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := h.ValidateInput(tk, "part_id", "other_field"); err == nil {
		t.Error("expected an error for a missing required field")
	}
}
