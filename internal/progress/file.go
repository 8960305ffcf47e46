package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore keeps run progress in a single JSON snapshot. Every mutation
// rewrites the snapshot via a temp file renamed over the target, so a
// crash mid-write leaves either the old or the new record, never a torn
// one. A leftover .tmp from a crashed run is discarded on open.
type FileStore struct {
	path string

	mu   sync.Mutex
	data *fileData
}

type fileData struct {
	Runs map[string]*fileRun `json:"runs"`
}

type fileRun struct {
	ID          string               `json:"id"`
	Fingerprint string               `json:"fingerprint"`
	Input       string               `json:"input"`
	Model       string               `json:"model"`
	TargetLang  string               `json:"target_lang"`
	ChunkSize   int                  `json:"chunk_size"`
	OverlapSize int                  `json:"overlap_size"`
	Status      string               `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Units       map[string]*fileUnit `json:"units"`
}

type fileUnit struct {
	Total     int                     `json:"total"`
	Fragments map[string]fileFragment `json:"fragments"` // key: decimal seq
}

type fileFragment struct {
	Status   string `json:"status"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
}

func NewFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create progress directory: %w", err)
	}
	// an incomplete write from a crashed run is not trusted
	_ = os.Remove(path + ".tmp")

	s := &FileStore{path: path, data: &fileData{Runs: make(map[string]*fileRun)}}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}
	if err := json.Unmarshal(raw, s.data); err != nil {
		return nil, fmt.Errorf("progress file is corrupt: %w", err)
	}
	if s.data.Runs == nil {
		s.data.Runs = make(map[string]*fileRun)
	}
	return s, nil
}

// flush writes the snapshot with the write-temp-then-rename discipline.
// Callers hold s.mu.
func (s *FileStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) OpenRun(_ context.Context, fp Fingerprint, resume bool) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := fp.Hash()
	if resume {
		var newest *fileRun
		for _, r := range s.data.Runs {
			if r.Fingerprint == hash && resumable(r.Status) {
				if newest == nil || r.CreatedAt.After(newest.CreatedAt) {
					newest = r
				}
			}
		}
		if newest != nil {
			return newest.ID, true, nil
		}
	}

	now := time.Now()
	run := &fileRun{
		ID:          uuid.New().String(),
		Fingerprint: hash,
		Input:       fp.Input,
		Model:       fp.Model,
		TargetLang:  fp.TargetLang,
		ChunkSize:   fp.ChunkSize,
		OverlapSize: fp.OverlapSize,
		Status:      StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
		Units:       make(map[string]*fileUnit),
	}
	s.data.Runs[run.ID] = run
	if err := s.flush(); err != nil {
		return "", false, err
	}
	return run.ID, false, nil
}

func (s *FileStore) run(runID string) (*fileRun, error) {
	r := s.data.Runs[runID]
	if r == nil {
		return nil, fmt.Errorf("unknown run: %s", runID)
	}
	return r, nil
}

func (s *FileStore) unit(runID, unitID string) (*fileRun, *fileUnit, error) {
	r, err := s.run(runID)
	if err != nil {
		return nil, nil, err
	}
	u := r.Units[unitID]
	if u == nil {
		u = &fileUnit{Fragments: make(map[string]fileFragment)}
		r.Units[unitID] = u
	}
	return r, u, nil
}

func (s *FileStore) SetUnitTotal(_ context.Context, runID, unitID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, u, err := s.unit(runID, unitID)
	if err != nil {
		return err
	}
	u.Total = total
	r.UpdatedAt = time.Now()
	return s.flush()
}

func (s *FileStore) SaveResult(_ context.Context, runID, unitID string, seq int, text string, attempts int) error {
	return s.saveFragment(runID, unitID, seq, fileFragment{Status: FragmentDone, Result: text, Attempts: attempts})
}

func (s *FileStore) SaveFailure(_ context.Context, runID, unitID string, seq int, cause string, attempts int) error {
	return s.saveFragment(runID, unitID, seq, fileFragment{Status: FragmentFailed, Error: cause, Attempts: attempts})
}

func (s *FileStore) saveFragment(runID, unitID string, seq int, frag fileFragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, u, err := s.unit(runID, unitID)
	if err != nil {
		return err
	}
	u.Fragments[fmt.Sprint(seq)] = frag
	r.UpdatedAt = time.Now()
	return s.flush()
}

func (s *FileStore) LoadUnit(_ context.Context, runID, unitID string) (*UnitProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	up := &UnitProgress{
		Done:   make(map[int]string),
		Failed: make(map[int]string),
	}
	u := r.Units[unitID]
	if u == nil {
		return up, nil
	}
	up.Total = u.Total
	for key, frag := range u.Fragments {
		var seq int
		if _, err := fmt.Sscan(key, &seq); err != nil {
			continue
		}
		switch frag.Status {
		case FragmentDone:
			up.Done[seq] = frag.Result
		case FragmentFailed:
			up.Failed[seq] = frag.Error
		}
	}
	return up, nil
}

func (s *FileStore) FinishRun(_ context.Context, runID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.run(runID)
	if err != nil {
		return err
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	return s.flush()
}

func (s *FileStore) Summaries(_ context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Summary
	for _, r := range s.data.Runs {
		sm := Summary{
			RunID:       r.ID,
			Fingerprint: r.Fingerprint,
			Input:       r.Input,
			Model:       r.Model,
			TargetLang:  r.TargetLang,
			Status:      r.Status,
			Units:       len(r.Units),
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
		}
		for _, u := range r.Units {
			for _, frag := range u.Fragments {
				switch frag.Status {
				case FragmentDone:
					sm.DoneCount++
				case FragmentFailed:
					sm.FailedCount++
				}
			}
		}
		out = append(out, sm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

var _ Store = (*FileStore)(nil)
