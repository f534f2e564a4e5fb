package attendance

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepClosesOnlyExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	early := e.open(t, "csc301")

	e.clock.Set(t0.Add(5 * time.Minute))
	late, err := e.svc.CreateSession(ctx, lecturer, "csc401", lagos)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	w := NewSweeper(e.svc, "", quietLogger())
	e.clock.Set(t0.Add(10 * time.Minute))
	n, err := w.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep closed %d (%v), want 1", n, err)
	}

	got, _ := e.svc.Session(ctx, early.ID)
	if got.IsActive || got.EndReason != EndReasonExpired || !got.EndedAt.Equal(early.ExpiresAt) {
		t.Fatalf("early session = %+v", got)
	}
	got, _ = e.svc.Session(ctx, late.ID)
	if !got.IsActive {
		t.Fatal("unexpired session was closed")
	}

	if n, _ := w.Sweep(ctx); n != 0 {
		t.Fatalf("second sweep closed %d", n)
	}
}

func TestSweepLeavesManualEndAlone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.open(t, "csc301")

	e.clock.Set(t0.Add(2 * time.Minute))
	if _, err := e.svc.EndSession(ctx, hoc, sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	e.clock.Set(t0.Add(time.Hour))
	if n, _ := NewSweeper(e.svc, "", quietLogger()).Sweep(ctx); n != 0 {
		t.Fatalf("sweep touched %d ended sessions", n)
	}
	got, _ := e.svc.Session(ctx, sess.ID)
	if got.EndReason != EndReasonManual || !got.EndedAt.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("session = %+v", got)
	}
}

func TestSweeperScheduleClosesAtExpiry(t *testing.T) {
	e := newEnv(t)
	w := NewSweeper(e.svc, "", quietLogger())
	e.svc.SetScheduler(w)
	defer w.Stop()

	sess := e.open(t, "csc301")
	if w.Pending() != 1 {
		t.Fatalf("pending timers = %d", w.Pending())
	}

	// Jump past expiry and re-arm; the timer fires immediately.
	e.clock.Set(sess.ExpiresAt)
	w.Schedule(*sess)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := e.svc.Session(context.Background(), sess.ID)
		if !got.IsActive {
			if got.EndReason != EndReasonExpired {
				t.Fatalf("end reason = %q", got.EndReason)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session not closed by expiry timer")
}

func TestSweeperStartStop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.open(t, "csc301")
	e.clock.Set(t0.Add(11 * time.Minute))

	if err := NewSweeper(e.svc, "every now and then", quietLogger()).Start(ctx); err == nil {
		t.Fatal("expected schedule parse error")
	}

	w := NewSweeper(e.svc, "@every 1h", quietLogger())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-w.Stop().Done()

	// Start sweeps once before waiting for the schedule.
	got, _ := e.svc.Session(ctx, sess.ID)
	if got.IsActive {
		t.Fatal("startup sweep did not close the expired session")
	}
}
