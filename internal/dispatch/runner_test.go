package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/patchwell/courier/internal/clock"
	"github.com/patchwell/courier/internal/ratelimit"
)

// fakeProvider records sends and can fail selected recipients.
type fakeProvider struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]error

	// onSend, when set, runs before each send completes.
	onSend func(to string)
}

func (p *fakeProvider) Send(_ context.Context, to, _, _ string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.onSend != nil {
		p.onSend(to)
	}
	if err, ok := p.failFor[to]; ok {
		return Result{}, err
	}
	p.sent = append(p.sent, to)
	return Result{ProviderMessageID: "msg-" + to}, nil
}

func (p *fakeProvider) sentTo() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// memTracker collects attempts in memory.
type memTracker struct {
	mu       sync.Mutex
	attempts []*Attempt
}

func (t *memTracker) Record(_ context.Context, attempt *Attempt) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = append(t.attempts, attempt)
	return nil
}

func (t *memTracker) byStatus(status AttemptStatus) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, a := range t.attempts {
		if a.Status == status {
			n++
		}
	}
	return n
}

type checkpointRec struct {
	lastSentIndex int
	totalSent     int
	totalFailed   int
}

// memCheckpointer collects checkpoint writes in memory.
type memCheckpointer struct {
	mu          sync.Mutex
	checkpoints []checkpointRec
	statuses    []RunStatus
	failWrites  bool
}

func (c *memCheckpointer) Checkpoint(_ context.Context, _ string, lastSentIndex, totalSent, totalFailed int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("checkpoint write failed")
	}
	c.checkpoints = append(c.checkpoints, checkpointRec{lastSentIndex, totalSent, totalFailed})
	return nil
}

func (c *memCheckpointer) SetStatus(_ context.Context, _ string, status RunStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
	return nil
}

func (c *memCheckpointer) lastStatus() RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.statuses) == 0 {
		return ""
	}
	return c.statuses[len(c.statuses)-1]
}

func (c *memCheckpointer) indexes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.checkpoints))
	for i, cp := range c.checkpoints {
		out[i] = cp.lastSentIndex
	}
	return out
}

func recipientList(n int) []Recipient {
	out := make([]Recipient, n)
	for i := range out {
		out[i] = Recipient{To: "+1555000" + string(rune('0'+i%10)) + string(rune('0'+i/10)), Message: "hello"}
	}
	return out
}

// testRunner wires a runner with a generous limit so pacing and
// capacity never stall the test.
func testRunner(t *testing.T, provider Provider, tracker Tracker, runs Checkpointer, clk clock.Clock) *Runner {
	t.Helper()

	limiter := ratelimit.New(ratelimit.Config{
		DefaultLimitPerMinute: 100000,
		PollInterval:          time.Millisecond,
		Clock:                 clk,
	})
	t.Cleanup(limiter.Stop)

	return NewRunner(limiter, provider, tracker, runs, RunnerConfig{
		CampaignFloorPerMinute: 100000,
		CheckpointInterval:     time.Hour,
		CheckpointEvery:        10,
		Clock:                  clk,
	})
}

func TestRunner_Run_Completes(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	provider := &fakeProvider{}
	tracker := &memTracker{}
	runs := &memCheckpointer{}
	r := testRunner(t, provider, tracker, runs, clk)

	run := &CampaignRun{ID: "run-1", CampaignID: "camp-1", TenantID: "tenant-a"}
	recipients := recipientList(7)

	summary, err := r.Run(context.Background(), run, recipients)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.TotalSent != 7 || summary.TotalFailed != 0 {
		t.Errorf("summary = %+v, want 7 sent, 0 failed", summary)
	}
	if summary.LastSentIndex != 7 {
		t.Errorf("LastSentIndex = %d, want 7", summary.LastSentIndex)
	}
	if got := len(provider.sentTo()); got != 7 {
		t.Errorf("provider saw %d sends, want 7", got)
	}
	if got := tracker.byStatus(AttemptSent); got != 7 {
		t.Errorf("tracker recorded %d sent attempts, want 7", got)
	}
	if runs.lastStatus() != RunStatusCompleted {
		t.Errorf("final status = %s, want completed", runs.lastStatus())
	}
	// Final recipient always checkpoints.
	idx := runs.indexes()
	if len(idx) == 0 || idx[len(idx)-1] != 7 {
		t.Errorf("checkpoint indexes = %v, want final at 7", idx)
	}
}

func TestRunner_Run_ResumeSkipsSentRecipients(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	provider := &fakeProvider{}
	tracker := &memTracker{}
	runs := &memCheckpointer{}
	r := testRunner(t, provider, tracker, runs, clk)

	// A prior run stopped after 10 of 15 recipients.
	run := &CampaignRun{
		ID: "run-1", CampaignID: "camp-1", TenantID: "tenant-a",
		LastSentIndex: 10, TotalSent: 9, TotalFailed: 1,
	}
	recipients := recipientList(15)

	summary, err := r.Run(context.Background(), run, recipients)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	sent := provider.sentTo()
	if len(sent) != 5 {
		t.Fatalf("provider saw %d sends, want exactly the 5 remaining", len(sent))
	}
	for i, to := range sent {
		if want := recipients[10+i].To; to != want {
			t.Errorf("send #%d went to %s, want %s", i, to, want)
		}
	}

	// Totals carry the prior run's counts.
	if summary.TotalSent != 14 || summary.TotalFailed != 1 {
		t.Errorf("summary = %+v, want 14 sent, 1 failed", summary)
	}
}

func TestRunner_Run_CancelledBeforeStart(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	provider := &fakeProvider{}
	runs := &memCheckpointer{}
	r := testRunner(t, provider, &memTracker{}, runs, clk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := &CampaignRun{ID: "run-1", CampaignID: "camp-1", TenantID: "tenant-a", LastSentIndex: 3}
	summary, err := r.Run(ctx, run, recipientList(10))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !summary.WasCancelled {
		t.Error("WasCancelled = false, want true")
	}
	if summary.LastSentIndex != 3 {
		t.Errorf("LastSentIndex = %d, want unchanged 3", summary.LastSentIndex)
	}
	if len(provider.sentTo()) != 0 {
		t.Errorf("provider saw %d sends, want 0", len(provider.sentTo()))
	}
	if runs.lastStatus() != RunStatusCancelled {
		t.Errorf("final status = %s, want cancelled", runs.lastStatus())
	}
	// The stopping point is checkpointed.
	idx := runs.indexes()
	if len(idx) != 1 || idx[0] != 3 {
		t.Errorf("checkpoint indexes = %v, want [3]", idx)
	}
}

func TestRunner_Run_CancelMidRun(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())

	provider := &fakeProvider{}
	provider.onSend = func(to string) {
		// Cancel while the 4th recipient's send is in flight; that send
		// still completes, and the run stops before the 5th.
		if len(provider.sent) == 3 {
			cancel()
		}
	}
	runs := &memCheckpointer{}
	r := testRunner(t, provider, &memTracker{}, runs, clk)

	run := &CampaignRun{ID: "run-1", CampaignID: "camp-1", TenantID: "tenant-a"}
	summary, err := r.Run(ctx, run, recipientList(10))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !summary.WasCancelled {
		t.Fatal("WasCancelled = false, want true")
	}
	if got := len(provider.sentTo()); got != 4 {
		t.Errorf("provider saw %d sends, want 4 (in-flight send completes)", got)
	}
	if summary.LastSentIndex != 4 {
		t.Errorf("LastSentIndex = %d, want 4", summary.LastSentIndex)
	}
	if summary.TotalSent != 4 {
		t.Errorf("TotalSent = %d, want 4", summary.TotalSent)
	}
	if runs.lastStatus() != RunStatusCancelled {
		t.Errorf("final status = %s, want cancelled", runs.lastStatus())
	}
}

func TestRunner_Run_PacesSendsAcrossTheWindow(t *testing.T) {
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)

	limiter := ratelimit.New(ratelimit.Config{
		DefaultLimitPerMinute: 60,
		Clock:                 clk,
	})
	t.Cleanup(limiter.Stop)

	provider := &fakeProvider{}
	r := NewRunner(limiter, provider, &memTracker{}, &memCheckpointer{}, RunnerConfig{
		CampaignFloorPerMinute: 60,
		CheckpointInterval:     time.Hour,
		Clock:                  clk,
	})

	run := &CampaignRun{ID: "run-1", CampaignID: "camp-1", TenantID: "tenant-a"}
	summary, err := r.Run(context.Background(), run, recipientList(5))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.TotalSent != 5 {
		t.Fatalf("TotalSent = %d, want 5", summary.TotalSent)
	}

	// At 60/min consecutive sends sit 1s apart: five sends span four
	// gaps, even though the window had room for all of them at once.
	if got := clk.Now().Sub(start); got != 4*time.Second {
		t.Errorf("elapsed = %v, want 4s of inter-message spacing", got)
	}
}

func TestRunner_Run_CancelledWhileWaitingForCapacity(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))

	limiter := ratelimit.New(ratelimit.Config{
		DefaultLimitPerMinute: 4,
		PollInterval:          time.Millisecond,
		Clock:                 clk,
	})
	t.Cleanup(limiter.Stop)

	// Ad-hoc traffic already consumed half the 4/min window, so the
	// paced run exhausts the rest after two sends.
	if !limiter.TryAcquire("tenant-a") || !limiter.TryAcquire("tenant-a") {
		t.Fatal("seeding the window failed")
	}

	provider := &fakeProvider{}
	runs := &memCheckpointer{}
	r := NewRunner(limiter, provider, &memTracker{}, runs, RunnerConfig{
		CampaignFloorPerMinute: 4,
		CheckpointInterval:     time.Hour,
		CheckpointEvery:        100,
		Clock:                  clk,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() {
		run := &CampaignRun{ID: "run-1", CampaignID: "camp-1", TenantID: "tenant-a"}
		summary, _ := r.Run(ctx, run, recipientList(5))
		done <- summary
	}()

	// Wait until the window is exhausted and the runner is suspended
	// on capacity, then cancel.
	deadline := time.After(2 * time.Second)
	for len(provider.sentTo()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("runner never sent the first 2 messages; sent=%d", len(provider.sentTo()))
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case summary := <-done:
		if !summary.WasCancelled {
			t.Error("WasCancelled = false, want true")
		}
		if summary.LastSentIndex != 2 {
			t.Errorf("LastSentIndex = %d, want 2", summary.LastSentIndex)
		}
		if len(provider.sentTo()) != 2 {
			t.Errorf("provider saw %d sends, want 2", len(provider.sentTo()))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not observe cancellation during capacity wait")
	}
}

func TestRunner_Run_ProviderFailuresContinue(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	recipients := recipientList(6)

	provider := &fakeProvider{failFor: map[string]error{
		recipients[1].To: errors.New("gateway timeout"),
		recipients[4].To: errors.New("gateway timeout"),
	}}
	tracker := &memTracker{}
	runs := &memCheckpointer{}
	r := testRunner(t, provider, tracker, runs, clk)

	run := &CampaignRun{ID: "run-1", CampaignID: "camp-1", TenantID: "tenant-a"}
	summary, err := r.Run(context.Background(), run, recipients)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.TotalSent != 4 || summary.TotalFailed != 2 {
		t.Errorf("summary = %+v, want 4 sent, 2 failed", summary)
	}
	// A failed recipient still advances the index.
	if summary.LastSentIndex != 6 {
		t.Errorf("LastSentIndex = %d, want 6", summary.LastSentIndex)
	}
	if got := tracker.byStatus(AttemptFailed); got != 2 {
		t.Errorf("tracker recorded %d failed attempts, want 2", got)
	}
	if runs.lastStatus() != RunStatusCompleted {
		t.Errorf("final status = %s, want completed", runs.lastStatus())
	}
}

func TestRunner_Run_CheckpointEveryNth(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	provider := &fakeProvider{}
	runs := &memCheckpointer{}
	r := testRunner(t, provider, &memTracker{}, runs, clk)

	run := &CampaignRun{ID: "run-1", CampaignID: "camp-1", TenantID: "tenant-a"}
	if _, err := r.Run(context.Background(), run, recipientList(25)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Pacing at 100000/min advances the clock only microseconds and
	// the interval is an hour, so only the count trigger and the final
	// recipient fire: 10, 20, 25.
	want := []int{10, 20, 25}
	got := runs.indexes()
	if len(got) != len(want) {
		t.Fatalf("checkpoint indexes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("checkpoint indexes = %v, want %v", got, want)
		}
	}
}

func TestRunner_Run_CheckpointFailureDoesNotStopRun(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	provider := &fakeProvider{}
	runs := &memCheckpointer{failWrites: true}
	r := testRunner(t, provider, &memTracker{}, runs, clk)

	run := &CampaignRun{ID: "run-1", CampaignID: "camp-1", TenantID: "tenant-a"}
	summary, err := r.Run(context.Background(), run, recipientList(12))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.TotalSent != 12 {
		t.Errorf("TotalSent = %d, want 12 despite checkpoint failures", summary.TotalSent)
	}
	if runs.lastStatus() != RunStatusCompleted {
		t.Errorf("final status = %s, want completed", runs.lastStatus())
	}
}

func TestRunner_EffectiveLimit(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))

	limiter := ratelimit.New(ratelimit.Config{
		DefaultLimitPerMinute: 10,
		Clock:                 clk,
	})
	t.Cleanup(limiter.Stop)

	r := NewRunner(limiter, &fakeProvider{}, &memTracker{}, &memCheckpointer{}, RunnerConfig{
		CampaignFloorPerMinute: 60,
		Clock:                  clk,
	})

	// A tenant limit below the floor is raised to it.
	if got := r.EffectiveLimit("tenant-a"); got != 60 {
		t.Errorf("EffectiveLimit() = %d, want floor 60", got)
	}
}
