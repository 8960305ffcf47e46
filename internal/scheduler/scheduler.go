// Package scheduler drives a translation run. It fragments each unit,
// fans the pending fragments out to a bounded worker pool behind a
// shared rate limiter, persists every outcome and reassembles a unit as
// soon as its last fragment lands. Work already recorded in the
// progress store is reused, so resuming an interrupted run translates
// only what is still missing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/diegogrosmann/BookTranslateAI/internal"
	"github.com/diegogrosmann/BookTranslateAI/internal/assembler"
	"github.com/diegogrosmann/BookTranslateAI/internal/fragmenter"
	"github.com/diegogrosmann/BookTranslateAI/internal/gateway"
	"github.com/diegogrosmann/BookTranslateAI/internal/placeholder"
	"github.com/diegogrosmann/BookTranslateAI/internal/progress"
	"github.com/diegogrosmann/BookTranslateAI/internal/rate"
)

// DefaultWorkers bounds concurrent gateway calls when the caller does
// not choose a pool size.
const DefaultWorkers = 5

// Config shapes one run.
type Config struct {
	Workers        int
	TargetLang     string
	Instructions   string        // user-supplied translation directives
	Timeout        time.Duration // per gateway attempt; zero means no deadline
	Retry          gateway.Policy
	PreserveMarkup bool // shield code spans and HTML tags with placeholders
}

// UnitResult is delivered through the completion callback when every
// fragment of a unit has reached a terminal state. Failed lists the
// fragment indices that exhausted their retries; their positions in
// Text carry inline failure markers.
type UnitResult struct {
	Unit   internal.Unit
	Text   string
	Failed []int
}

// Report aggregates one run.
type Report struct {
	Units      int
	Fragments  int
	Translated int // fragments translated during this run
	Reused     int // fragments restored from the progress store
	Failed     int // fragments that exhausted their retries
	Retries    int // failed attempts across all fragments
	Elapsed    time.Duration
}

// HasFailures reports whether any fragment ended permanently failed.
func (r *Report) HasFailures() bool { return r.Failed > 0 }

// Scheduler owns the worker pool for a run. One Scheduler runs one run.
type Scheduler struct {
	cfg     Config
	gw      gateway.Gateway
	frag    *fragmenter.Fragmenter
	limiter *rate.Limiter
	store   progress.Store
	log     zerolog.Logger

	translated atomic.Int64
	reused     atomic.Int64
	failed     atomic.Int64
	retries    atomic.Int64

	fatalOnce sync.Once
	fatalErr  error
	cancelRun context.CancelFunc
}

func New(cfg Config, gw gateway.Gateway, frag *fragmenter.Fragmenter, limiter *rate.Limiter, store progress.Store, log zerolog.Logger) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	return &Scheduler{cfg: cfg, gw: gw, frag: frag, limiter: limiter, store: store, log: log}
}

// unitState tracks one unit through the pool. remaining counts fragments
// not yet terminal; the worker that moves it to zero triggers assembly.
type unitState struct {
	unit      internal.Unit
	frags     []fragmenter.Fragment
	remaining atomic.Int64
}

type job struct {
	state *unitState
	frag  fragmenter.Fragment
}

// Run translates units and invokes onUnit once per unit as it
// completes, in completion order, from a separate goroutine. It returns
// after every fragment has reached a terminal state, the run context is
// canceled, or a fatal error aborts the run. Permanently failed
// fragments do not fail Run; they are reported through the Report and
// each UnitResult.
func (s *Scheduler) Run(ctx context.Context, runID string, units []internal.Unit, onUnit func(UnitResult)) (*Report, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelRun = cancel

	report := &Report{Units: len(units)}

	var pending []job
	var callbacks sync.WaitGroup
	for i := range units {
		st := &unitState{unit: units[i]}
		st.frags = s.frag.Split(units[i].ID, units[i].Text)
		report.Fragments += len(st.frags)

		if err := s.store.SetUnitTotal(ctx, runID, units[i].ID, len(st.frags)); err != nil {
			return report, fmt.Errorf("scheduler: record unit total: %w", err)
		}
		snap, err := s.store.LoadUnit(ctx, runID, units[i].ID)
		if err != nil {
			return report, fmt.Errorf("scheduler: load unit progress: %w", err)
		}

		// Done fragments are reused; failed ones from a previous run
		// get another chance and are re-enqueued.
		todo := 0
		for _, fr := range st.frags {
			if _, ok := snap.Done[fr.Index]; ok {
				s.reused.Add(1)
				continue
			}
			todo++
			pending = append(pending, job{state: st, frag: fr})
		}
		st.remaining.Store(int64(todo))

		if todo == 0 {
			// Fully reused or empty; assembles without a single
			// gateway call.
			s.finishUnit(ctx, runID, st, onUnit, &callbacks)
		}
	}

	s.log.Info().
		Int("units", len(units)).
		Int("fragments", report.Fragments).
		Int("pending", len(pending)).
		Int("workers", s.cfg.Workers).
		Msg("run starting")

	jobs := make(chan job)
	var workers sync.WaitGroup
	for w := 0; w < s.cfg.Workers; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for j := range jobs {
				s.work(ctx, runID, j, onUnit, &callbacks)
			}
		}()
	}

dispatch:
	for _, j := range pending {
		select {
		case jobs <- j:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	workers.Wait()
	callbacks.Wait()

	report.Translated = int(s.translated.Load())
	report.Reused = int(s.reused.Load())
	report.Failed = int(s.failed.Load())
	report.Retries = int(s.retries.Load())
	report.Elapsed = time.Since(start)

	if s.fatalErr != nil {
		return report, s.fatalErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	// A run with permanent failures is finished but not completed: the
	// store keeps it resumable so a rerun retries only the failed
	// fragments.
	status := progress.StatusCompleted
	if report.Failed > 0 {
		status = progress.StatusFailed
	}
	if err := s.store.FinishRun(ctx, runID, status); err != nil {
		return report, fmt.Errorf("scheduler: finish run: %w", err)
	}

	s.log.Info().
		Int("translated", report.Translated).
		Int("reused", report.Reused).
		Int("failed", report.Failed).
		Int("retries", report.Retries).
		Dur("elapsed", report.Elapsed).
		Msg("run finished")
	return report, nil
}

// work translates one fragment to a terminal state and persists it.
func (s *Scheduler) work(ctx context.Context, runID string, j job, onUnit func(UnitResult), callbacks *sync.WaitGroup) {
	if ctx.Err() != nil {
		return
	}

	text := j.frag.Text
	var captured []string
	instructions := s.cfg.Instructions
	if s.cfg.PreserveMarkup {
		text, captured = placeholder.Protect(text)
		if len(captured) > 0 {
			if instructions != "" {
				instructions += "\n"
			}
			instructions += placeholder.Hint
		}
	}
	req := gateway.Request{Text: text, TargetLang: s.cfg.TargetLang, Instructions: instructions}

	failures := 0
	result, err := s.cfg.Retry.Do(ctx, func(ctx context.Context) (string, error) {
		if err := s.limiter.Acquire(ctx); err != nil {
			return "", err
		}
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
		return s.gw.Translate(ctx, req)
	}, func(a gateway.Attempt) {
		failures++
		s.retries.Add(1)
		s.log.Warn().
			Str("unit", j.state.unit.ID).
			Int("fragment", j.frag.Index).
			Int("attempt", a.Number).
			Stringer("class", a.Class).
			Dur("backoff", a.Delay).
			Err(a.Err).
			Msg("translation attempt failed")
	})

	switch {
	case err == nil:
		if len(captured) > 0 {
			result = placeholder.Restore(result, captured)
		}
		if serr := s.store.SaveResult(ctx, runID, j.state.unit.ID, j.frag.Index, result, failures+1); serr != nil {
			s.abort(fmt.Errorf("scheduler: persist result: %w", serr))
			return
		}
		s.translated.Add(1)

	case ctx.Err() != nil:
		// Run canceled; the fragment stays pending for the next resume.
		return

	case gateway.ClassOf(err) == gateway.Fatal:
		s.abort(err)
		return

	default:
		if serr := s.store.SaveFailure(ctx, runID, j.state.unit.ID, j.frag.Index, err.Error(), failures); serr != nil {
			s.abort(fmt.Errorf("scheduler: persist failure: %w", serr))
			return
		}
		s.failed.Add(1)
		s.log.Error().
			Str("unit", j.state.unit.ID).
			Int("fragment", j.frag.Index).
			Err(err).
			Msg("fragment permanently failed")
	}

	if j.state.remaining.Add(-1) == 0 {
		s.finishUnit(ctx, runID, j.state, onUnit, callbacks)
	}
}

// finishUnit assembles a unit whose fragments are all terminal and
// delivers it off the worker goroutine so a slow consumer cannot stall
// the pool.
func (s *Scheduler) finishUnit(ctx context.Context, runID string, st *unitState, onUnit func(UnitResult), callbacks *sync.WaitGroup) {
	snap, err := s.store.LoadUnit(ctx, runID, st.unit.ID)
	if err != nil {
		s.abort(fmt.Errorf("scheduler: load unit for assembly: %w", err))
		return
	}

	text, err := assembler.Assemble(st.unit.ID, st.frags, snap.Done, snap.Failed)
	res := UnitResult{Unit: st.unit, Text: text}
	if err != nil {
		var pf *assembler.PartialFailureError
		if !errors.As(err, &pf) {
			s.abort(err)
			return
		}
		res.Failed = pf.Failed
	}

	s.log.Info().
		Str("unit", st.unit.ID).
		Int("fragments", len(st.frags)).
		Int("failed", len(res.Failed)).
		Msg("unit assembled")

	if onUnit == nil {
		return
	}
	callbacks.Add(1)
	go func() {
		defer callbacks.Done()
		onUnit(res)
	}()
}

// abort records the first fatal error and cancels the run.
func (s *Scheduler) abort(err error) {
	s.fatalOnce.Do(func() {
		s.fatalErr = err
		s.log.Error().Err(err).Msg("aborting run")
		if s.cancelRun != nil {
			s.cancelRun()
		}
	})
}
