package terminal

import (
	"testing"
	"time"
)

func TestReaperDestroysIdleSessions(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	cfg.ReapInterval = 10 * time.Millisecond
	r, _ := newTestRegistry(t, cfg)

	id, err := r.Create("sh", nil, "", 24, 80)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	closed := make(chan struct{})
	if _, err := r.Subscribe(id, nil, func() { close(closed) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("idle session was never reaped")
	}
	waitFor(t, time.Second, func() bool { return r.Count() == 0 })
}

func TestReaperKeepsBusySessions(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 60 * time.Millisecond
	cfg.ReapInterval = 10 * time.Millisecond
	r, _ := newTestRegistry(t, cfg)

	id, err := r.Create("sh", nil, "", 24, 80)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Keep the session active past several sweep intervals.
	for i := 0; i < 10; i++ {
		if err := r.WriteInput(id, []byte("x")); err != nil {
			t.Fatalf("write input %d: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := r.Get(id); err != nil {
		t.Errorf("busy session was reaped: %v", err)
	}
}

func TestReaperRemovesDeadSessions(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = time.Hour
	cfg.ReapInterval = 10 * time.Millisecond
	r, b := newTestRegistry(t, cfg)

	if _, err := r.Create("sh", nil, "", 24, 80); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Simulate the process dying without any client interaction. The pump
	// marks the session dead; the reaper must then remove it from the table.
	b.handle(0).die()

	waitFor(t, 2*time.Second, func() bool { return r.Count() == 0 })

	if got := b.handle(0).releaseCount(); got != 1 {
		t.Errorf("expected exactly one handle release, got %d", got)
	}
}
