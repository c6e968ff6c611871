package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-harvester/internal/checkpoint"
)

type runResult struct {
	path string
	err  error
}

// fakeRunner replays scripted results per keyword. When a keyword's script
// runs out, the last entry repeats.
type fakeRunner struct {
	mu      sync.Mutex
	scripts map[string][]runResult
	calls   []string
	onRun   func(keyword string)
	// finishDespiteCancel returns the scripted result even after onRun
	// cancelled the context, like a job that completes as the signal lands.
	finishDespiteCancel bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{scripts: make(map[string][]runResult)}
}

func (r *fakeRunner) script(keyword string, results ...runResult) *fakeRunner {
	r.scripts[keyword] = results
	return r
}

func (r *fakeRunner) Run(ctx context.Context, keyword string) (string, error) {
	r.mu.Lock()
	n := 0
	for _, c := range r.calls {
		if c == keyword {
			n++
		}
	}
	r.calls = append(r.calls, keyword)
	script := r.scripts[keyword]
	hook := r.onRun
	r.mu.Unlock()

	if hook != nil {
		hook(keyword)
	}
	if err := ctx.Err(); err != nil && !r.finishDespiteCancel {
		return "", err
	}
	if len(script) == 0 {
		return "", errors.New("no script for " + keyword)
	}
	res := script[min(n, len(script)-1)]
	return res.path, res.err
}

func (r *fakeRunner) callsFor(keyword string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == keyword {
			n++
		}
	}
	return n
}

func (r *fakeRunner) allCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fakeInspector reports fixed yields per path; unknown paths yield zero.
type fakeInspector map[string]Yield

func (f fakeInspector) Inspect(path string) (Yield, error) {
	return f[path], nil
}

// recordingSleeper returns immediately and remembers every requested wait.
type recordingSleeper struct {
	mu     sync.Mutex
	waits  []time.Duration
	onWait func(d time.Duration)
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	hook := s.onWait
	s.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

func (s *recordingSleeper) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// fakeClock advances one second per reading.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type countingMetrics struct {
	mu        sync.Mutex
	attempts  map[string]int
	items     map[checkpoint.Status]int
	cooldowns []time.Duration
	streak    int
	position  int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{attempts: map[string]int{}, items: map[checkpoint.Status]int{}}
}

func (m *countingMetrics) ObserveAttempt(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[result]++
}

func (m *countingMetrics) ObserveItem(status checkpoint.Status, _ time.Duration, _ int, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[status]++
}

func (m *countingMetrics) ObserveCooldown(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns = append(m.cooldowns, d)
}

func (m *countingMetrics) SetConsecutiveErrors(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streak = n
}

func (m *countingMetrics) SetCurrentPosition(p int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = p
}

type fakePublisher struct {
	mu     sync.Mutex
	events []ItemEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, payload.(ItemEvent))
	return "msg", nil
}

// newTestLog opens a checkpoint log on an in-memory filesystem.
func newTestLog(t *testing.T, fs afero.Fs) *checkpoint.Log {
	t.Helper()
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	backend, err := checkpoint.NewFileBackend(fs, "/logs/run.csv")
	require.NoError(t, err)
	log, err := checkpoint.LoadOrCreate(context.Background(), backend)
	require.NoError(t, err)
	return log
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.MinRequiredItems = 2
	p.SavePath = "downloads"
	return p
}

func items(keywords ...string) []WorkItem {
	out := make([]WorkItem, 0, len(keywords))
	for i, kw := range keywords {
		out = append(out, WorkItem{Position: i + 1, Keyword: kw})
	}
	return out
}
