package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"gait-pipeline/internal/recordsync"
	"gait-pipeline/internal/store"
)

func testConfig() Config {
	return Config{
		Interval:    5 * time.Millisecond,
		MaxRestarts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}
}

func TestHeartbeatAdvancesMonotonically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	rec, err := st.CreateRecord(ctx, store.CreateRecordParams{ID: "run-1", VideoRef: "v", FPS: 30})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sync := recordsync.New(st)
	monitor := NewMonitor(sync, testConfig())

	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx, rec.ID) }()

	last := rec.HeartbeatLast
	deadline := time.Now().Add(time.Second)
	advances := 0
	for advances < 3 && time.Now().Before(deadline) {
		cur, err := st.GetRecord(ctx, rec.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if cur.HeartbeatLast.After(last) {
			last = cur.HeartbeatLast
			advances++
		}
		time.Sleep(2 * time.Millisecond)
	}
	if advances < 3 {
		t.Fatalf("heartbeat did not advance, saw %d advances", advances)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error on cancellation: %v", err)
	}
}

func TestHeartbeatRestartsAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var beats, failures atomic.Int64
	beat := func(context.Context, string) error {
		// Die on the first two beats, then recover.
		if failures.Load() < 2 {
			failures.Add(1)
			return errors.New("simulated beat loop death")
		}
		beats.Add(1)
		return nil
	}

	monitor := NewMonitorWithBeat(beat, testConfig())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx, "run-1") }()

	deadline := time.Now().Add(time.Second)
	for beats.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if beats.Load() < 3 {
		t.Fatalf("liveness did not resume after restarts (beats=%d)", beats.Load())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected nil after cancel, got %v", err)
	}
}

func TestHeartbeatExhaustsRestartBudget(t *testing.T) {
	ctx := context.Background()
	beat := func(context.Context, string) error { return errors.New("permanently broken") }

	monitor := NewMonitorWithBeat(beat, testConfig())
	err := monitor.Run(ctx, "run-1")

	var failure *TaskFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected TaskFailure, got %v", err)
	}
	if failure.AnalysisID != "run-1" || failure.Restarts != 3 {
		t.Fatalf("unexpected failure details: %+v", failure)
	}
}
