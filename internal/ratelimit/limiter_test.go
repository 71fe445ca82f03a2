package ratelimit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/patchwell/courier/internal/clock"
)

func testLimiter(t *testing.T, limit int, clk clock.Clock) *Limiter {
	t.Helper()

	l := New(Config{
		DefaultLimitPerMinute: limit,
		PollInterval:          time.Millisecond,
		Clock:                 clk,
	})
	t.Cleanup(l.Stop)

	return l
}

func TestLimiter_TryAcquire_ExhaustsWindow(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	l := testLimiter(t, 3, clk)

	for i := 0; i < 3; i++ {
		if !l.TryAcquire("tenant-a") {
			t.Fatalf("TryAcquire() #%d = false, want true", i+1)
		}
	}

	if l.TryAcquire("tenant-a") {
		t.Error("TryAcquire() beyond limit = true, want false")
	}
}

func TestLimiter_TryAcquire_WindowReset(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	l := testLimiter(t, 2, clk)

	if !l.TryAcquire("tenant-a") || !l.TryAcquire("tenant-a") {
		t.Fatal("first two TryAcquire() should succeed")
	}
	if l.TryAcquire("tenant-a") {
		t.Fatal("third TryAcquire() should fail inside the window")
	}

	clk.Advance(Window)

	if !l.TryAcquire("tenant-a") {
		t.Error("TryAcquire() after window expiry = false, want true")
	}

	st := l.Status("tenant-a")
	if st.Used != 1 {
		t.Errorf("Status().Used after reset = %d, want 1", st.Used)
	}
}

func TestLimiter_TenantsAreIsolated(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	l := testLimiter(t, 1, clk)

	if !l.TryAcquire("tenant-a") {
		t.Fatal("tenant-a should get its slot")
	}
	if l.TryAcquire("tenant-a") {
		t.Fatal("tenant-a window is full")
	}
	if !l.TryAcquire("tenant-b") {
		t.Error("tenant-b must not be affected by tenant-a's window")
	}
}

func TestLimiter_Release(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	l := testLimiter(t, 1, clk)

	if !l.TryAcquire("tenant-a") {
		t.Fatal("TryAcquire() should succeed")
	}
	l.Release("tenant-a")

	// Rolled back reservation frees the slot again.
	if !l.TryAcquire("tenant-a") {
		t.Error("TryAcquire() after Release() = false, want true")
	}

	// Release never drives the count negative.
	l.Release("tenant-a")
	l.Release("tenant-a")
	l.Release("tenant-a")
	if !l.TryAcquire("tenant-a") {
		t.Error("TryAcquire() should succeed after repeated Release()")
	}
	if l.TryAcquire("tenant-a") {
		t.Error("count must floor at zero, not accumulate spare capacity")
	}
}

func TestLimiter_Status(t *testing.T) {
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	l := testLimiter(t, 2, clk)

	st := l.Status("tenant-a")
	if st.Used != 0 || !st.CanSend || st.Limit != 2 {
		t.Errorf("fresh Status() = %+v", st)
	}

	l.TryAcquire("tenant-a")
	l.TryAcquire("tenant-a")

	st = l.Status("tenant-a")
	if st.Used != 2 {
		t.Errorf("Status().Used = %d, want 2", st.Used)
	}
	if st.CanSend {
		t.Error("Status().CanSend = true for a full window")
	}
	if want := start.Add(Window); !st.ResetTime.Equal(want) {
		t.Errorf("Status().ResetTime = %v, want %v", st.ResetTime, want)
	}

	clk.Advance(Window)
	st = l.Status("tenant-a")
	if st.Used != 0 || !st.CanSend {
		t.Errorf("Status() after expiry = %+v, want used 0 and can_send", st)
	}
}

func TestLimiter_WaitForCapacity(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	l := testLimiter(t, 1, clk)

	ctx := context.Background()
	if err := l.WaitForCapacity(ctx, "tenant-a"); err != nil {
		t.Fatalf("WaitForCapacity() error = %v", err)
	}

	// Window is now full; free capacity from another goroutine while
	// the wait polls.
	done := make(chan error, 1)
	go func() {
		done <- l.WaitForCapacity(ctx, "tenant-a")
	}()

	time.Sleep(5 * time.Millisecond)
	clk.Advance(Window)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForCapacity() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForCapacity() did not return after capacity freed")
	}
}

func TestLimiter_WaitForCapacity_Cancelled(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	l := testLimiter(t, 1, clk)

	if !l.TryAcquire("tenant-a") {
		t.Fatal("TryAcquire() should succeed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.WaitForCapacity(ctx, "tenant-a")
	}()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("WaitForCapacity() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForCapacity() did not observe cancellation")
	}

	// The cancelled wait must not hold a reservation.
	l.Release("tenant-a")
	if !l.TryAcquire("tenant-a") {
		t.Error("cancelled wait leaked a reservation")
	}
}

func TestLimiter_ConcurrentAcquire(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	l := testLimiter(t, 50, clk)

	const goroutines = 200
	results := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			results <- l.TryAcquire("tenant-a")
		}()
	}

	granted := 0
	for i := 0; i < goroutines; i++ {
		if <-results {
			granted++
		}
	}

	if granted != 50 {
		t.Errorf("granted = %d, want exactly the limit (50)", granted)
	}
}

func TestOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenants.yaml")

	content := "limits:\n  tenant-a: 120\n  tenant-b: 0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing overrides: %v", err)
	}

	o, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides() error = %v", err)
	}

	if limit, ok := o.Limit("tenant-a"); !ok || limit != 120 {
		t.Errorf("Limit(tenant-a) = %d, %v; want 120, true", limit, ok)
	}
	// Non-positive overrides are dropped.
	if _, ok := o.Limit("tenant-b"); ok {
		t.Error("Limit(tenant-b) should not exist")
	}
	if _, ok := o.Limit("tenant-c"); ok {
		t.Error("Limit(tenant-c) should not exist")
	}

	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	l := New(Config{DefaultLimitPerMinute: 10, Clock: clk, Overrides: o})
	t.Cleanup(l.Stop)

	if got := l.LimitFor("tenant-a"); got != 120 {
		t.Errorf("LimitFor(tenant-a) = %d, want 120", got)
	}
	if got := l.LimitFor("tenant-c"); got != 10 {
		t.Errorf("LimitFor(tenant-c) = %d, want default 10", got)
	}
}

func TestOverrides_MissingFile(t *testing.T) {
	o, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOverrides() on missing file error = %v", err)
	}
	if o.Len() != 0 {
		t.Errorf("Len() = %d, want 0", o.Len())
	}
}

func TestOverrides_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenants.yaml")

	if err := os.WriteFile(path, []byte("limits:\n  tenant-a: 5\n"), 0o644); err != nil {
		t.Fatalf("writing overrides: %v", err)
	}

	o, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides() error = %v", err)
	}
	if err := o.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	t.Cleanup(func() { o.Close() })

	if err := os.WriteFile(path, []byte("limits:\n  tenant-a: 99\n"), 0o644); err != nil {
		t.Fatalf("rewriting overrides: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		if limit, ok := o.Limit("tenant-a"); ok && limit == 99 {
			return
		}
		select {
		case <-deadline:
			limit, _ := o.Limit("tenant-a")
			t.Fatalf("override not reloaded; Limit(tenant-a) = %d, want 99", limit)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
