package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/makermatrix/taskctl/internal/task"
)

// MemoryStore is a mutex-guarded in-memory reference implementation of
// Store, used by tests and by a standalone/dev run of the service. Grounded
// on the teacher's in-memory store pattern (control_plane/store/memory.go)
// and the hand-rolled MockStore structs the teacher's own tests build.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[string]task.Task
	backup BackupConfig
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]task.Task)}
}

func (s *MemoryStore) Create(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	s.rows[t.ID] = *t
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	cp := row
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch task.Patch) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, task.ErrNotFound
	}

	now := time.Now().UTC()

	if patch.Status != nil {
		if !row.Status.CanTransition(*patch.Status) {
			return nil, &task.IllegalTransitionError{From: row.Status, To: *patch.Status}
		}
		prev := row.Status
		row.Status = *patch.Status

		switch {
		case prev == task.StatusPending && row.Status == task.StatusRunning:
			row.StartedAt = &now
			row.CurrentStep = "starting"
		case row.Status.IsTerminal():
			row.CompletedAt = &now
		case row.Status == task.StatusPending && prev == task.StatusFailed:
			// Retry reset: zero progress/step/error/timestamps, bump retry_count.
			row.Progress = 0
			row.CurrentStep = ""
			row.ErrorMessage = ""
			row.StartedAt = nil
			row.CompletedAt = nil
			row.RetryCount++
		}
	}

	if patch.Progress != nil {
		p := *patch.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		if p > row.Progress {
			row.Progress = p
		}
	}
	if patch.CurrentStep != nil {
		row.CurrentStep = *patch.CurrentStep
	}
	if patch.Result != nil {
		row.Result = patch.Result
	}
	if patch.ErrorMessage != nil {
		row.ErrorMessage = *patch.ErrorMessage
	}
	if patch.StartedAt != nil {
		row.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		row.CompletedAt = patch.CompletedAt
	}
	if patch.RetryCount != nil {
		row.RetryCount = *patch.RetryCount
	}

	s.rows[id] = row
	cp := row
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return task.ErrNotFound
	}
	if !row.Status.IsTerminal() {
		return task.ErrIllegalTransition
	}
	delete(s.rows, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statusSet := toSet(filter.Statuses)
	typeSet := toSetT(filter.Types)
	prioSet := toSetP(filter.Priorities)

	var out []task.Task
	for _, row := range s.rows {
		if len(statusSet) > 0 && !statusSet[row.Status] {
			continue
		}
		if len(typeSet) > 0 && !typeSet[row.Type] {
			continue
		}
		if len(prioSet) > 0 && !prioSet[row.Priority] {
			continue
		}
		if filter.UserID != "" && row.CreatedByUserID != filter.UserID {
			continue
		}
		if filter.RelatedEntityType != "" && row.RelatedEntityType != filter.RelatedEntityType {
			continue
		}
		if filter.RelatedEntityID != "" && row.RelatedEntityID != filter.RelatedEntityID {
			continue
		}
		out = append(out, row)
	}

	switch filter.OrderBy {
	case "priority":
		sort.Slice(out, func(i, j int) bool {
			if filter.Desc {
				return out[i].Priority > out[j].Priority
			}
			return out[i].Priority < out[j].Priority
		})
	default:
		sort.Slice(out, func(i, j int) bool {
			if filter.Desc {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []task.Task{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ReadyToRun(ctx context.Context) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var out []task.Task
	for _, row := range s.rows {
		if row.Status != task.StatusPending {
			continue
		}
		if row.ScheduledAt != nil && row.ScheduledAt.After(now) {
			continue
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CountSince(ctx context.Context, userID string, typ task.Type, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, row := range s.rows {
		if row.CreatedByUserID != userID || row.Type != typ {
			continue
		}
		if row.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountActive(ctx context.Context, userID string, typ task.Type, maxAge *time.Duration) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	n := 0
	for _, row := range s.rows {
		if row.CreatedByUserID != userID || row.Type != typ {
			continue
		}
		if row.Status != task.StatusPending && row.Status != task.StatusRunning {
			continue
		}
		if maxAge != nil && now.Sub(row.CreatedAt) > *maxAge {
			continue // stuck, excluded per §4.1
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) MarkStale(ctx context.Context, typ task.Type, maxAge time.Duration, reason string) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	cutoff := now.Add(-maxAge)

	var reaped []task.Task
	for id, row := range s.rows {
		if row.Type != typ {
			continue
		}
		if row.Status != task.StatusPending && row.Status != task.StatusRunning {
			continue
		}
		if row.CreatedAt.After(cutoff) {
			continue
		}
		row.Status = task.StatusFailed
		row.ErrorMessage = reason
		row.CompletedAt = &now
		s.rows[id] = row
		reaped = append(reaped, row)
	}
	return reaped, nil
}

func (s *MemoryStore) GetBackupConfig(ctx context.Context) (*BackupConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.backup
	return &cp, nil
}

func (s *MemoryStore) SetBackupConfig(ctx context.Context, cfg BackupConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backup = cfg
	return nil
}

func toSet(ss []task.Status) map[task.Status]bool {
	if len(ss) == 0 {
		return nil
	}
	m := make(map[task.Status]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func toSetT(ss []task.Type) map[task.Type]bool {
	if len(ss) == 0 {
		return nil
	}
	m := make(map[task.Type]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func toSetP(ss []task.Priority) map[task.Priority]bool {
	if len(ss) == 0 {
		return nil
	}
	m := make(map[task.Priority]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
