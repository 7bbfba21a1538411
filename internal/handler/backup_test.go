package handler

import (
	"context"
	"testing"

	"github.com/makermatrix/taskctl/internal/task"
)

func TestBackupCreationHandlerStoresPayload(t *testing.T) {
	files := NewInMemoryFileStore()
	h := &BackupCreationHandler{Files: files}
	tk := task.Task{ID: "b1", Type: task.TypeBackupCreation}

	result, err := h.Execute(context.Background(), tk, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["encrypted"] != false {
		t.Errorf("expected unencrypted backup without a password, got %+v", result)
	}
}

func TestBackupCreationHandlerEncryptsWhenPasswordProvided(t *testing.T) {
	files := NewInMemoryFileStore()
	h := &BackupCreationHandler{Files: files}
	tk := task.Task{ID: "b2", Type: task.TypeBackupCreation, Input: map[string]any{"encryption_password": "hunter2"}}

	result, err := h.Execute(context.Background(), tk, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["encrypted"] != true {
		t.Errorf("expected encrypted=true when a password is provided, got %+v", result)
	}
}

func TestBackupCreationHandlerDeterministicKeyAcrossRetries(t *testing.T) {
	files := NewInMemoryFileStore()
	h := &BackupCreationHandler{Files: files}
	tk := task.Task{ID: "b3", Type: task.TypeBackupCreation}

	r1, err := h.Execute(context.Background(), tk, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	r2, err := h.Execute(context.Background(), tk, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute (retry): %v", err)
	}
	if r1["path"] != r2["path"] {
		t.Errorf("retry produced a different backup path: %v vs %v", r1["path"], r2["path"])
	}
}

func TestBackupRestoreHandlerRequiresBackupPath(t *testing.T) {
	h := &BackupRestoreHandler{}
	_, err := h.Execute(context.Background(), task.Task{Type: task.TypeBackupRestore}, &recordingReporter{})
	if err == nil {
		t.Fatal("expected an error for a missing backup_path")
	}
}

func TestBackupRestoreHandlerReturnsSourcePath(t *testing.T) {
	h := &BackupRestoreHandler{}
	tk := task.Task{Type: task.TypeBackupRestore, Input: map[string]any{"backup_path": "memory://backups/b1.bak"}}
	result, err := h.Execute(context.Background(), tk, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["restored_from"] != "memory://backups/b1.bak" {
		t.Errorf("restored_from = %v", result["restored_from"])
	}
}

func TestBackupScheduledHandlerDelegatesToBackupCreation(t *testing.T) {
	files := NewInMemoryFileStore()
	h := NewBackupScheduledHandler(files)
	if h.Type() != task.TypeBackupScheduled {
		t.Fatalf("type = %s", h.Type())
	}
	tk := task.Task{ID: "sched1", Type: task.TypeBackupScheduled}
	result, err := h.Execute(context.Background(), tk, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["path"] == "" {
		t.Error("expected scheduled backup to produce a storage path")
	}
}

func TestBackupRetentionHandlerDefaultsRetentionCount(t *testing.T) {
	h := &BackupRetentionHandler{}
	result, err := h.Execute(context.Background(), task.Task{Type: task.TypeBackupRetention}, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["retained"] != 7 {
		t.Errorf("retained = %v, want default of 7", result["retained"])
	}
}

func TestBackupRetentionHandlerHonorsRequestedCount(t *testing.T) {
	h := &BackupRetentionHandler{}
	tk := task.Task{Type: task.TypeBackupRetention, Input: map[string]any{"retention_count": float64(3)}}
	result, err := h.Execute(context.Background(), tk, &recordingReporter{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["retained"] != 3 {
		t.Errorf("retained = %v, want 3", result["retained"])
	}
}
