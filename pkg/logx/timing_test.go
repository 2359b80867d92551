package logx

import (
	"errors"
	"testing"
	"time"
)

func TestOpTimerTrack(t *testing.T) {
	timer := NewOpTimer(NewLogger("error", "logx_test"), 0)

	elapsed, err := timer.Track("probe", func() error {
		time.Sleep(time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if elapsed <= 0 {
		t.Errorf("elapsed = %v, want > 0", elapsed)
	}

	want := errors.New("dial timeout")
	if _, err := timer.Track("probe", func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Track() error = %v, want %v", err, want)
	}

	stats := timer.Snapshot()["probe"]
	if stats.Count != 2 {
		t.Errorf("count = %d, want 2", stats.Count)
	}
	if stats.Errors != 1 {
		t.Errorf("errors = %d, want 1", stats.Errors)
	}
	if stats.Max <= 0 || stats.Total < stats.Max {
		t.Errorf("stats = %+v, want max > 0 and total >= max", stats)
	}
}

func TestOpTimerSnapshotIsCopy(t *testing.T) {
	timer := NewOpTimer(NewLogger("error", "logx_test"), 0)
	if _, err := timer.Track("op", func() error { return nil }); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	snap := timer.Snapshot()
	s := snap["op"]
	s.Count = 99
	snap["op"] = s

	if got := timer.Snapshot()["op"].Count; got != 1 {
		t.Errorf("count = %d, want 1 after mutating snapshot", got)
	}
}
