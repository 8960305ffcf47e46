// Package progress is the durable, crash-consistent record of which
// fragments have been translated. Every state transition is persisted,
// so an interrupted run resumes exactly where it stopped. Three backends
// implement the Store interface: SQLite (default), an atomic JSON file,
// and an in-memory store for tests.
package progress

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Run statuses as persisted by the backends. A failed run stays
// resumable: rerunning the same input picks it up and retries only the
// fragments that failed, reusing everything done.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Fragment statuses. In-progress work is deliberately never persisted:
// after a crash only done and failed entries are trusted, anything else
// is pending again.
const (
	FragmentDone   = "done"
	FragmentFailed = "failed"
)

// resumable reports whether OpenRun may pick a run back up.
func resumable(status string) bool {
	return status == StatusRunning || status == StatusFailed
}

// Fingerprint identifies a run by its input and the configuration that
// shapes fragmentation. Changing the chunk or overlap size produces a
// different fingerprint and therefore a fresh run record instead of a
// silently incompatible resume.
type Fingerprint struct {
	Input       string
	Model       string
	TargetLang  string
	ChunkSize   int
	OverlapSize int
}

// Hash returns the hex digest keying the run record. Text fields are
// NFC-normalized so that byte-level differences in equal strings do not
// split runs.
func (f Fingerprint) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d",
		norm.NFC.String(strings.TrimSpace(f.Input)),
		norm.NFC.String(strings.TrimSpace(f.Model)),
		norm.NFC.String(strings.TrimSpace(f.TargetLang)),
		f.ChunkSize, f.OverlapSize)
	return hex.EncodeToString(h.Sum(nil))
}

// UnitProgress is the resume snapshot for one unit: completed results by
// sequence index and permanently failed indices with their causes.
type UnitProgress struct {
	Total  int
	Done   map[int]string
	Failed map[int]string
}

// Summary aggregates a run for reporting.
type Summary struct {
	RunID       string
	Fingerprint string
	Input       string
	Model       string
	TargetLang  string
	Status      string
	Units       int
	DoneCount   int
	FailedCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is the progress persistence API. Implementations serialize
// concurrent mutations internally; a write returning nil happens-before
// any subsequent read of the same entry.
type Store interface {
	// OpenRun returns the run for fp, resuming a running or failed run
	// with the same fingerprint when resume is true and creating a
	// fresh record otherwise.
	OpenRun(ctx context.Context, fp Fingerprint, resume bool) (runID string, resumed bool, err error)
	// SetUnitTotal records how many fragments a unit splits into.
	SetUnitTotal(ctx context.Context, runID, unitID string, total int) error
	// SaveResult durably marks one fragment done.
	SaveResult(ctx context.Context, runID, unitID string, seq int, text string, attempts int) error
	// SaveFailure durably marks one fragment permanently failed.
	SaveFailure(ctx context.Context, runID, unitID string, seq int, cause string, attempts int) error
	// LoadUnit returns the resume snapshot for one unit.
	LoadUnit(ctx context.Context, runID, unitID string) (*UnitProgress, error)
	// FinishRun records the run's terminal status. StatusCompleted
	// ends the run for good; StatusFailed leaves it resumable so a
	// rerun retries the failed fragments.
	FinishRun(ctx context.Context, runID, status string) error
	// Summaries lists known runs, most recent first.
	Summaries(ctx context.Context) ([]Summary, error)
	Close() error
}
