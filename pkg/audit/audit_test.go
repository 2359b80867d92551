package audit

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

func openLog(t *testing.T, capacity int) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path, capacity, logx.NewLogger("error", "audit_test"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func decision(iface, reason string, committed bool) pkg.RouteDecision {
	return pkg.RouteDecision{
		ActiveInterface: iface,
		Metric:          1,
		Timestamp:       time.Now(),
		Reason:          reason,
		Committed:       committed,
	}
}

func TestRecordAndRecent(t *testing.T) {
	l := openLog(t, 100)
	l.Record(decision("modem1", "initial election", true))
	l.Record(decision("wifi0", "active interface critical", true))
	l.Record(decision("wifi0", "switch deferred by cooldown", false))

	got, err := l.Recent(0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent() = %d decisions, want 3", len(got))
	}
	if got[0].Reason != "initial election" {
		t.Errorf("oldest reason = %q", got[0].Reason)
	}
	if got[2].Committed {
		t.Error("newest decision should be the deferred one")
	}
}

func TestRecentLimit(t *testing.T) {
	l := openLog(t, 100)
	for i := 0; i < 5; i++ {
		l.Record(decision("modem1", fmt.Sprintf("tick %d", i), true))
	}
	got, err := l.Recent(2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) = %d decisions", len(got))
	}
	if got[1].Reason != "tick 4" {
		t.Errorf("newest reason = %q, want tick 4", got[1].Reason)
	}
}

func TestCapacityPruning(t *testing.T) {
	l := openLog(t, 3)
	for i := 0; i < 10; i++ {
		l.Record(decision("modem1", fmt.Sprintf("tick %d", i), true))
	}
	got, err := l.Recent(0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent() = %d decisions after pruning, want 3", len(got))
	}
	for i, want := range []string{"tick 7", "tick 8", "tick 9"} {
		if got[i].Reason != want {
			t.Errorf("got[%d].Reason = %q, want %q", i, got[i].Reason, want)
		}
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	logger := logx.NewLogger("error", "audit_test")

	l, err := Open(path, 100, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	l.Record(decision("modem1", "initial election", true))
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	l2, err := Open(path, 100, logger)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer l2.Close()
	got, err := l2.Recent(0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 || got[0].ActiveInterface != "modem1" {
		t.Errorf("Recent() after reopen = %+v", got)
	}
}
