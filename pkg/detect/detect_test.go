package detect

import (
	"fmt"
	"testing"
	"time"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

func testConfig() Config {
	return Config{
		LogCapacity:     50,
		DisconnectAfter: 3,
		SINR:            Thresholds{Enter: 5, Exit: 10},
		JitterMs:        Thresholds{Enter: 50, Exit: 30},
		RTTMs:           Thresholds{Enter: 300, Exit: 200},
		LossPct:         Thresholds{Enter: 5, Exit: 2},
	}
}

func newDetector(t *testing.T) *Detector {
	t.Helper()
	return NewDetector(testConfig(), logx.NewLogger("error", "detect_test"))
}

func sample(iface string, rtt, jitter, loss float64) pkg.HealthSample {
	return pkg.HealthSample{Interface: iface, Timestamp: time.Now(), RTTMs: rtt, JitterMs: jitter, LossPct: loss}
}

func radioSample(iface string, sinr float64, cellID, band string) pkg.HealthSample {
	s := sample(iface, 60, 5, 0)
	s.Radio = &pkg.RadioMetrics{SINRdB: sinr, CellID: cellID, Band: band}
	return s
}

func kinds(events []pkg.Event) []pkg.EventKind {
	out := make([]pkg.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func requireKinds(t *testing.T, events []pkg.Event, want ...pkg.EventKind) {
	t.Helper()
	got := kinds(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestCellChange(t *testing.T) {
	d := newDetector(t)
	requireKinds(t, d.Observe(radioSample("modem1", 15, "0xA1", "B3")))
	requireKinds(t, d.Observe(radioSample("modem1", 15, "0xA1", "B3")))
	events := d.Observe(radioSample("modem1", 15, "0xB2", "B3"))
	requireKinds(t, events, pkg.EventCellChange)
	if events[0].Data["from"] != "0xA1" || events[0].Data["to"] != "0xB2" {
		t.Errorf("cell change data = %v", events[0].Data)
	}
	if len(events[0].Actions) == 0 {
		t.Error("cell change carries no recommended actions")
	}
}

func TestBandChange(t *testing.T) {
	d := newDetector(t)
	d.Observe(radioSample("modem1", 15, "0xA1", "B3"))
	requireKinds(t, d.Observe(radioSample("modem1", 15, "0xA1", "B7")), pkg.EventBandChange)
}

func TestSINRHysteresis(t *testing.T) {
	d := newDetector(t)
	d.Observe(radioSample("modem1", 15, "0xA1", "B3"))

	requireKinds(t, d.Observe(radioSample("modem1", 4, "0xA1", "B3")), pkg.EventSINRDrop)
	// Still low, no repeat.
	requireKinds(t, d.Observe(radioSample("modem1", 3, "0xA1", "B3")))
	// Between enter and exit: neither drop nor recovery.
	requireKinds(t, d.Observe(radioSample("modem1", 7, "0xA1", "B3")))
	// Above exit: recovery, once.
	requireKinds(t, d.Observe(radioSample("modem1", 12, "0xA1", "B3")), pkg.EventSINRRecovery)
	requireKinds(t, d.Observe(radioSample("modem1", 12, "0xA1", "B3")))
}

func TestJitterRTTLossHysteresis(t *testing.T) {
	tests := []struct {
		name      string
		degraded  pkg.HealthSample
		between   pkg.HealthSample
		recovered pkg.HealthSample
		enter     pkg.EventKind
		exit      pkg.EventKind
	}{
		{"jitter", sample("x", 60, 80, 0), sample("x", 60, 40, 0), sample("x", 60, 10, 0), pkg.EventHighJitter, pkg.EventJitterRecovery},
		{"rtt", sample("x", 400, 5, 0), sample("x", 250, 5, 0), sample("x", 100, 5, 0), pkg.EventHighRTT, pkg.EventRTTRecovery},
		{"loss", sample("x", 60, 5, 8), sample("x", 60, 5, 3), sample("x", 60, 5, 1), pkg.EventPacketLoss, pkg.EventPacketLossRecovery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDetector(t)
			requireKinds(t, d.Observe(sample("x", 60, 5, 0)))
			requireKinds(t, d.Observe(tt.degraded), tt.enter)
			requireKinds(t, d.Observe(tt.degraded))
			requireKinds(t, d.Observe(tt.between))
			requireKinds(t, d.Observe(tt.recovered), tt.exit)
			requireKinds(t, d.Observe(tt.recovered))
		})
	}
}

func TestDisconnectionThreshold(t *testing.T) {
	d := newDetector(t)
	unreachable := pkg.HealthSample{Interface: "modem1", Timestamp: time.Now(), Unreachable: true}

	requireKinds(t, d.Observe(unreachable))
	requireKinds(t, d.Observe(unreachable))
	requireKinds(t, d.Observe(unreachable), pkg.EventDisconnection)
	requireKinds(t, d.Observe(unreachable))
	if !d.Disconnected("modem1") {
		t.Error("Disconnected() = false after disconnection event")
	}

	requireKinds(t, d.Observe(sample("modem1", 60, 5, 0)), pkg.EventReconnection)
	if d.Disconnected("modem1") {
		t.Error("Disconnected() = true after reconnection")
	}
	// Counter reset: two more failures do not disconnect.
	requireKinds(t, d.Observe(unreachable))
	requireKinds(t, d.Observe(unreachable))
}

func TestInterfacesAreIndependent(t *testing.T) {
	d := newDetector(t)
	d.Observe(sample("a", 60, 5, 0))
	d.Observe(sample("b", 60, 5, 0))
	requireKinds(t, d.Observe(sample("a", 400, 5, 0)), pkg.EventHighRTT)
	// Interface b has its own state, still below the threshold.
	requireKinds(t, d.Observe(sample("b", 100, 5, 0)))
}

func TestRingLogCapacityAndOrder(t *testing.T) {
	cfg := testConfig()
	cfg.LogCapacity = 5
	d := NewDetector(cfg, logx.NewLogger("error", "detect_test"))

	// Alternate above/below the RTT hysteresis pair so every sample after
	// the first emits exactly one event.
	d.Observe(sample("x", 60, 5, 0))
	for i := 0; i < 8; i++ {
		rtt := 400.0
		if i%2 == 1 {
			rtt = 100.0
		}
		events := d.Observe(sample("x", rtt, 5, 0))
		if len(events) != 1 {
			t.Fatalf("iteration %d: %d events, want 1", i, len(events))
		}
	}

	recent := d.Recent(0)
	if len(recent) != 5 {
		t.Fatalf("Recent() = %d events, want capacity 5", len(recent))
	}
	// Oldest first, alternating, ending with the last emitted kind.
	if recent[len(recent)-1].Kind != pkg.EventRTTRecovery {
		t.Errorf("newest event = %v, want rtt_recovery", recent[len(recent)-1].Kind)
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].Kind == recent[i-1].Kind {
			t.Errorf("events not alternating at %d: %v", i, kinds(recent))
		}
	}

	if got := d.Recent(2); len(got) != 2 {
		t.Errorf("Recent(2) = %d events, want 2", len(got))
	}
}

func TestSubscriberReceivesEvents(t *testing.T) {
	d := newDetector(t)
	var got []pkg.EventKind
	d.Subscribe(func(ev pkg.Event) { got = append(got, ev.Kind) })

	d.Observe(sample("x", 60, 5, 0))
	d.Observe(sample("x", 400, 5, 0))
	if len(got) != 1 || got[0] != pkg.EventHighRTT {
		t.Errorf("subscriber saw %v, want [high_rtt]", got)
	}
}

func TestStringSummary(t *testing.T) {
	d := newDetector(t)
	d.Observe(sample("x", 60, 5, 0))
	want := fmt.Sprintf("detector(interfaces=%d events=%d)", 1, 0)
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
