package scheduler_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/diegogrosmann/BookTranslateAI/internal"
	"github.com/diegogrosmann/BookTranslateAI/internal/fragmenter"
	"github.com/diegogrosmann/BookTranslateAI/internal/gateway"
	"github.com/diegogrosmann/BookTranslateAI/internal/progress"
	"github.com/diegogrosmann/BookTranslateAI/internal/rate"
	"github.com/diegogrosmann/BookTranslateAI/internal/scheduler"
)

// mockGateway counts calls and delegates to fn; the default translation
// uppercases the input.
type mockGateway struct {
	calls atomic.Int32
	fn    func(call int32, req gateway.Request) (string, error)
}

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) Translate(_ context.Context, req gateway.Request) (string, error) {
	n := m.calls.Add(1)
	if m.fn != nil {
		return m.fn(n, req)
	}
	return strings.ToUpper(req.Text), nil
}

type env struct {
	gw    *mockGateway
	frag  *fragmenter.Fragmenter
	store progress.Store
	fp    progress.Fingerprint
	runID string
}

func newEnv(t *testing.T, gw *mockGateway) *env {
	t.Helper()
	frag, err := fragmenter.New(fragmenter.Config{ChunkSize: 20}, zerolog.Nop())
	if err != nil {
		t.Fatalf("fragmenter.New: %v", err)
	}
	store := progress.NewMemory()
	t.Cleanup(func() { store.Close() })

	fp := progress.Fingerprint{Input: "in", Model: "m", TargetLang: "fr"}
	runID, _, err := store.OpenRun(context.Background(), fp, true)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}
	return &env{gw: gw, frag: frag, store: store, fp: fp, runID: runID}
}

func (e *env) run(t *testing.T, cfg scheduler.Config, units []internal.Unit) (*scheduler.Report, map[string]scheduler.UnitResult, error) {
	t.Helper()
	var mu sync.Mutex
	results := make(map[string]scheduler.UnitResult)

	s := scheduler.New(cfg, e.gw, e.frag, rate.New(0, 1), e.store, zerolog.Nop())
	report, err := s.Run(context.Background(), e.runID, units, func(res scheduler.UnitResult) {
		mu.Lock()
		defer mu.Unlock()
		results[res.Unit.ID] = res
	})
	return report, results, err
}

func fastCfg() scheduler.Config {
	return scheduler.Config{
		Workers:    3,
		TargetLang: "fr",
		Retry:      gateway.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

func testUnits() []internal.Unit {
	// 45 runes each: three fragments per unit at chunk size 20.
	return []internal.Unit{
		{ID: "ch1", Index: 0, Title: "One", Text: strings.Repeat("abcde", 9)},
		{ID: "ch2", Index: 1, Title: "Two", Text: strings.Repeat("fghij", 9)},
	}
}

func TestRun_TranslatesEverything(t *testing.T) {
	gw := &mockGateway{}
	e := newEnv(t, gw)

	report, results, err := e.run(t, fastCfg(), testUnits())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Fragments != 6 || report.Translated != 6 {
		t.Errorf("report = %+v, want 6 fragments all translated", report)
	}
	if report.HasFailures() {
		t.Error("unexpected failures")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 unit results, got %d", len(results))
	}

	// Uniform text forces hard cuts, which rejoin with single spaces,
	// so the assembled text is the uppercased pieces joined in order.
	got := results["ch1"].Text
	if !strings.HasPrefix(got, "ABCDE") || strings.Count(got, " ") != 2 {
		t.Errorf("unexpected assembled text %q", got)
	}
	if strings.ToLower(strings.ReplaceAll(got, " ", "")) != strings.Repeat("abcde", 9) {
		t.Errorf("assembled text does not cover the unit: %q", got)
	}
}

func TestRun_ResumeReusesCompletedFragments(t *testing.T) {
	gw := &mockGateway{}
	e := newEnv(t, gw)
	units := testUnits()

	if _, _, err := e.run(t, fastCfg(), units); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstCalls := gw.calls.Load()

	report, results, err := e.run(t, fastCfg(), units)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if gw.calls.Load() != firstCalls {
		t.Errorf("resume made %d extra gateway calls", gw.calls.Load()-firstCalls)
	}
	if report.Reused != 6 || report.Translated != 0 {
		t.Errorf("report = %+v, want all 6 reused", report)
	}
	if len(results) != 2 {
		t.Errorf("resumed run must still deliver %d unit results, got %d", 2, len(results))
	}
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	var failedOnce atomic.Bool
	gw := &mockGateway{}
	gw.fn = func(call int32, req gateway.Request) (string, error) {
		if failedOnce.CompareAndSwap(false, true) {
			return "", gateway.NewError(gateway.Transient, "mock", errors.New("hiccup"))
		}
		return strings.ToUpper(req.Text), nil
	}
	e := newEnv(t, gw)

	report, _, err := e.run(t, fastCfg(), testUnits())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Translated != 6 {
		t.Errorf("translated = %d, want 6", report.Translated)
	}
	if report.Retries != 1 {
		t.Errorf("retries = %d, want 1", report.Retries)
	}
}

func TestRun_PartialFailure(t *testing.T) {
	// One fragment fails on every attempt; the run finishes and the
	// failure is reported, not fatal.
	gw := &mockGateway{}
	gw.fn = func(call int32, req gateway.Request) (string, error) {
		if strings.HasPrefix(req.Text, "abcde") {
			return "", gateway.NewError(gateway.Malformed, "mock", errors.New("always empty"))
		}
		return strings.ToUpper(req.Text), nil
	}
	e := newEnv(t, gw)
	units := []internal.Unit{
		{ID: "ch1", Index: 0, Title: "One", Text: strings.Repeat("abcde", 3) + strings.Repeat("xyzvw", 6)},
	}

	report, results, err := e.run(t, fastCfg(), units)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.HasFailures() || report.Failed != 1 {
		t.Errorf("report = %+v, want exactly 1 failed fragment", report)
	}
	res := results["ch1"]
	if len(res.Failed) != 1 || res.Failed[0] != 0 {
		t.Errorf("unit failed fragments = %v, want [0]", res.Failed)
	}
	if !strings.Contains(res.Text, "[translation failed: fragment 0]") {
		t.Errorf("missing failure marker in %q", res.Text)
	}

	// The failure is durable.
	snap, err := e.store.LoadUnit(context.Background(), e.runID, "ch1")
	if err != nil {
		t.Fatalf("LoadUnit: %v", err)
	}
	if _, ok := snap.Failed[0]; !ok {
		t.Errorf("failure not persisted: %+v", snap)
	}
}

func TestRun_FailedFragmentsRetriedOnNextRun(t *testing.T) {
	// First run exhausts retries for one fragment; a later run with a
	// recovered gateway re-enqueues it and the failure is cleared.
	var broken atomic.Bool
	broken.Store(true)
	gw := &mockGateway{}
	gw.fn = func(call int32, req gateway.Request) (string, error) {
		if broken.Load() && strings.HasPrefix(req.Text, "abcde") {
			return "", gateway.NewError(gateway.Transient, "mock", errors.New("service down"))
		}
		return strings.ToUpper(req.Text), nil
	}
	e := newEnv(t, gw)
	units := []internal.Unit{
		{ID: "ch1", Index: 0, Title: "One", Text: strings.Repeat("abcde", 3) + strings.Repeat("xyzvw", 6)},
	}

	report, _, err := e.run(t, fastCfg(), units)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("first run failed = %d, want 1", report.Failed)
	}

	// The rerun looks the run up by fingerprint exactly like the CLI
	// does; a run that finished with failures must be picked up, not
	// restarted with the done work discarded.
	runID2, resumed, err := e.store.OpenRun(context.Background(), e.fp, true)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}
	if !resumed || runID2 != e.runID {
		t.Fatalf("run with failures was not resumed: got %s (resumed=%v), want %s", runID2, resumed, e.runID)
	}

	broken.Store(false)
	report, results, err := e.run(t, fastCfg(), units)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Failed != 0 || report.Translated != 1 || report.Reused != 2 {
		t.Errorf("second run report = %+v, want the failed fragment retried and the rest reused", report)
	}
	if res := results["ch1"]; len(res.Failed) != 0 || strings.Contains(res.Text, "translation failed") {
		t.Errorf("failure marker survived the retry: %+v", res)
	}

	// With every fragment done the run completes for good.
	_, resumed, err = e.store.OpenRun(context.Background(), e.fp, true)
	if err != nil {
		t.Fatalf("OpenRun: %v", err)
	}
	if resumed {
		t.Error("fully recovered run must not stay resumable")
	}
}

func TestRun_RateLimitBoundsGatewayCalls(t *testing.T) {
	// With rate R and burst B, any window of length T admits at most
	// B + R*T gateway calls, however many workers are pulling jobs.
	// A slow machine only spreads calls further apart, which cannot
	// break the upper bound.
	var mu sync.Mutex
	var stamps []time.Time
	gw := &mockGateway{}
	gw.fn = func(call int32, req gateway.Request) (string, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return strings.ToUpper(req.Text), nil
	}
	e := newEnv(t, gw)

	const (
		rps   = 50.0
		burst = 2
	)
	cfg := fastCfg()
	cfg.Workers = 8
	s := scheduler.New(cfg, gw, e.frag, rate.New(rps, burst), e.store, zerolog.Nop())

	// 160 runes at chunk size 20: eight fragments, all dispatched at once.
	units := []internal.Unit{{ID: "ch1", Index: 0, Title: "One", Text: strings.Repeat("12345", 32)}}
	report, err := s.Run(context.Background(), e.runID, units, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Translated != 8 {
		t.Fatalf("translated = %d, want 8", report.Translated)
	}

	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	const window = 80 * time.Millisecond
	limit := burst + int(rps*window.Seconds())
	for i := range stamps {
		n := 0
		for j := i; j < len(stamps) && stamps[j].Sub(stamps[i]) < window; j++ {
			n++
		}
		if n > limit {
			t.Fatalf("%d gateway calls within %v, limit %d", n, window, limit)
		}
	}
}

func TestRun_FatalAborts(t *testing.T) {
	gw := &mockGateway{}
	gw.fn = func(call int32, req gateway.Request) (string, error) {
		return "", gateway.NewError(gateway.Fatal, "mock", errors.New("bad credentials"))
	}
	e := newEnv(t, gw)

	_, _, err := e.run(t, fastCfg(), testUnits())
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if gateway.ClassOf(err) != gateway.Fatal {
		t.Errorf("expected Fatal class, got %v (%v)", gateway.ClassOf(err), err)
	}

	// Nothing was persisted as failed: pending fragments stay pending
	// for the next resume.
	snap, lerr := e.store.LoadUnit(context.Background(), e.runID, "ch1")
	if lerr != nil {
		t.Fatalf("LoadUnit: %v", lerr)
	}
	if len(snap.Failed) != 0 {
		t.Errorf("fatal abort must not mark fragments failed: %+v", snap.Failed)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	gw := &mockGateway{}
	e := newEnv(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := scheduler.New(fastCfg(), gw, e.frag, rate.New(0, 1), e.store, zerolog.Nop())
	_, err := s.Run(ctx, e.runID, testUnits(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_MarkupProtection(t *testing.T) {
	// The gateway must never see raw HTML tags when markup
	// preservation is on, and the restored text must contain them.
	var sawTag atomic.Bool
	gw := &mockGateway{}
	gw.fn = func(call int32, req gateway.Request) (string, error) {
		if strings.Contains(req.Text, "<b>") {
			sawTag.Store(true)
		}
		return req.Text, nil
	}
	e := newEnv(t, gw)
	cfg := fastCfg()
	cfg.PreserveMarkup = true

	units := []internal.Unit{{ID: "ch1", Index: 0, Title: "One", Text: "some <b>bold</b> text"}}
	_, results, err := e.run(t, cfg, units)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sawTag.Load() {
		t.Error("raw HTML tag leaked to the gateway")
	}
	if got := results["ch1"].Text; !strings.Contains(got, "<b>bold</b>") {
		t.Errorf("markup not restored: %q", got)
	}
}
