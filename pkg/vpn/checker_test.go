package vpn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

type mockStatus struct {
	mu       sync.Mutex
	up       bool
	pingErr  error
	rtt      float64
	upCalls  int
	pingCall int
}

func (m *mockStatus) IsUp(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upCalls++
	return m.up, nil
}

func (m *mockStatus) Ping(ctx context.Context, peer string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingCall++
	if m.pingErr != nil {
		return 0, m.pingErr
	}
	return m.rtt, nil
}

func (m *mockStatus) set(up bool, pingErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.up = up
	m.pingErr = pingErr
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []bool
}

func (r *changeRecorder) record(healthy bool, _ pkg.VPNState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, healthy)
}

func (r *changeRecorder) all() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.changes...)
}

func testConfig() Config {
	return Config{
		Enabled:          true,
		Interface:        "wg0",
		Peer:             "10.8.0.1",
		CheckInterval:    time.Second,
		FailThreshold:    3,
		RecoverThreshold: 3,
	}
}

func TestDisabledCheckerNeverProbes(t *testing.T) {
	status := &mockStatus{up: true}
	cfg := testConfig()
	cfg.Enabled = false
	c := NewChecker(cfg, status, nil, logx.NewLogger("error", "vpn_test"))

	c.Start(context.Background())
	c.Stop()

	status.mu.Lock()
	defer status.mu.Unlock()
	if status.upCalls != 0 || status.pingCall != 0 {
		t.Errorf("disabled checker probed: upCalls=%d pingCalls=%d", status.upCalls, status.pingCall)
	}

	state, healthy := c.State()
	if state.Present {
		t.Error("disabled checker reports Present=true")
	}
	if healthy {
		t.Error("disabled checker reports healthy")
	}
}

func TestInitialSuccessReportsHealthy(t *testing.T) {
	status := &mockStatus{up: true, rtt: 25}
	rec := &changeRecorder{}
	c := NewChecker(testConfig(), status, rec.record, logx.NewLogger("error", "vpn_test"))

	c.checkOnce(context.Background())

	if got := rec.all(); len(got) != 1 || !got[0] {
		t.Fatalf("changes = %v, want [true]", got)
	}
	state, healthy := c.State()
	if !healthy || !state.PeerReachable || state.RTTMs != 25 {
		t.Errorf("state = %+v healthy=%v", state, healthy)
	}
}

func TestFailureNeedsConsecutiveRun(t *testing.T) {
	status := &mockStatus{up: true, rtt: 25}
	rec := &changeRecorder{}
	c := NewChecker(testConfig(), status, rec.record, logx.NewLogger("error", "vpn_test"))

	c.checkOnce(context.Background())
	status.set(true, errors.New("timeout"))

	c.checkOnce(context.Background())
	c.checkOnce(context.Background())
	if _, healthy := c.State(); !healthy {
		t.Fatal("declared unhealthy before fail threshold")
	}
	c.checkOnce(context.Background())
	if _, healthy := c.State(); healthy {
		t.Fatal("still healthy after 3 consecutive failures")
	}
	if got := rec.all(); len(got) != 2 || got[1] {
		t.Errorf("changes = %v, want [true false]", got)
	}
}

func TestBlipResetsFailureRun(t *testing.T) {
	status := &mockStatus{up: true, rtt: 25}
	c := NewChecker(testConfig(), status, nil, logx.NewLogger("error", "vpn_test"))

	c.checkOnce(context.Background())
	status.set(true, errors.New("timeout"))
	c.checkOnce(context.Background())
	c.checkOnce(context.Background())
	// One success resets the failure counter.
	status.set(true, nil)
	c.checkOnce(context.Background())
	status.set(true, errors.New("timeout"))
	c.checkOnce(context.Background())
	c.checkOnce(context.Background())
	if _, healthy := c.State(); !healthy {
		t.Error("fail run not reset by intervening success")
	}
}

func TestRecoveryNeedsConsecutiveRun(t *testing.T) {
	status := &mockStatus{up: false}
	rec := &changeRecorder{}
	c := NewChecker(testConfig(), status, rec.record, logx.NewLogger("error", "vpn_test"))

	// Drive to unhealthy via the initial healthy state.
	status.set(true, nil)
	status.rtt = 25
	c.checkOnce(context.Background())
	status.set(false, nil)
	for i := 0; i < 3; i++ {
		c.checkOnce(context.Background())
	}
	if _, healthy := c.State(); healthy {
		t.Fatal("not unhealthy after failures")
	}

	status.set(true, nil)
	c.checkOnce(context.Background())
	c.checkOnce(context.Background())
	if _, healthy := c.State(); healthy {
		t.Fatal("recovered before recover threshold")
	}
	c.checkOnce(context.Background())
	if _, healthy := c.State(); !healthy {
		t.Fatal("not recovered after 3 consecutive successes")
	}
	if got := rec.all(); len(got) != 3 || !got[2] {
		t.Errorf("changes = %v, want [true false true]", got)
	}
}

func TestInterfaceDownSkipsPing(t *testing.T) {
	status := &mockStatus{up: false}
	c := NewChecker(testConfig(), status, nil, logx.NewLogger("error", "vpn_test"))
	c.checkOnce(context.Background())

	status.mu.Lock()
	defer status.mu.Unlock()
	if status.pingCall != 0 {
		t.Error("pinged peer while interface down")
	}
}
