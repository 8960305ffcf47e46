package progress

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a volatile Store used by tests and dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*memRun
}

type memRun struct {
	Summary
	units map[string]*UnitProgress
}

func NewMemory() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*memRun)}
}

func (s *MemoryStore) OpenRun(_ context.Context, fp Fingerprint, resume bool) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := fp.Hash()
	if resume {
		var newest *memRun
		for _, r := range s.runs {
			if r.Fingerprint == hash && resumable(r.Status) {
				if newest == nil || r.CreatedAt.After(newest.CreatedAt) {
					newest = r
				}
			}
		}
		if newest != nil {
			return newest.RunID, true, nil
		}
	}

	now := time.Now()
	r := &memRun{
		Summary: Summary{
			RunID:       uuid.New().String(),
			Fingerprint: hash,
			Input:       fp.Input,
			Model:       fp.Model,
			TargetLang:  fp.TargetLang,
			Status:      StatusRunning,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		units: make(map[string]*UnitProgress),
	}
	s.runs[r.RunID] = r
	return r.RunID, false, nil
}

func (s *MemoryStore) unit(runID, unitID string) (*memRun, *UnitProgress, error) {
	r := s.runs[runID]
	if r == nil {
		return nil, nil, fmt.Errorf("unknown run: %s", runID)
	}
	u := r.units[unitID]
	if u == nil {
		u = &UnitProgress{Done: make(map[int]string), Failed: make(map[int]string)}
		r.units[unitID] = u
	}
	return r, u, nil
}

func (s *MemoryStore) SetUnitTotal(_ context.Context, runID, unitID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, u, err := s.unit(runID, unitID)
	if err != nil {
		return err
	}
	u.Total = total
	return nil
}

func (s *MemoryStore) SaveResult(_ context.Context, runID, unitID string, seq int, text string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, u, err := s.unit(runID, unitID)
	if err != nil {
		return err
	}
	delete(u.Failed, seq)
	u.Done[seq] = text
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SaveFailure(_ context.Context, runID, unitID string, seq int, cause string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, u, err := s.unit(runID, unitID)
	if err != nil {
		return err
	}
	u.Failed[seq] = cause
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) LoadUnit(_ context.Context, runID, unitID string) (*UnitProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, u, err := s.unit(runID, unitID)
	if err != nil {
		return nil, err
	}
	cp := &UnitProgress{
		Total:  u.Total,
		Done:   make(map[int]string, len(u.Done)),
		Failed: make(map[int]string, len(u.Failed)),
	}
	for k, v := range u.Done {
		cp.Done[k] = v
	}
	for k, v := range u.Failed {
		cp.Failed[k] = v
	}
	return cp, nil
}

func (s *MemoryStore) FinishRun(_ context.Context, runID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.runs[runID]
	if r == nil {
		return fmt.Errorf("unknown run: %s", runID)
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Summaries(_ context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Summary
	for _, r := range s.runs {
		sm := r.Summary
		sm.Units = len(r.units)
		for _, u := range r.units {
			sm.DoneCount += len(u.Done)
			sm.FailedCount += len(u.Failed)
		}
		out = append(out, sm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
