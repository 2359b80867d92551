// Package detect turns sample streams into discrete link events. Every
// threshold carries separate enter and exit bounds so a metric hovering at
// a boundary emits one event, not a storm.
package detect

import (
	"fmt"
	"sync"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

// Thresholds is an enter/exit pair for one metric.
type Thresholds struct {
	Enter float64
	Exit  float64
}

// Config controls detection thresholds and the event log size.
type Config struct {
	LogCapacity     int
	DisconnectAfter int

	SINR     Thresholds // enter below, exit above
	JitterMs Thresholds // enter above, exit below
	RTTMs    Thresholds
	LossPct  Thresholds
}

type ifaceState struct {
	lastCellID string
	lastBand   string

	sinrLow    bool
	jitterHigh bool
	rttHigh    bool
	lossHigh   bool

	unreachableRun int
	disconnected   bool
}

// Detector evaluates samples against per-interface state and keeps a
// bounded in-memory log of emitted events.
type Detector struct {
	cfg    Config
	logger *logx.Logger

	mu     sync.Mutex
	states map[string]*ifaceState

	ring   []pkg.Event
	cursor int
	count  int

	subs []func(pkg.Event)
}

func NewDetector(cfg Config, logger *logx.Logger) *Detector {
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = 50
	}
	if cfg.DisconnectAfter <= 0 {
		cfg.DisconnectAfter = 3
	}
	return &Detector{
		cfg:    cfg,
		logger: logger,
		states: make(map[string]*ifaceState),
		ring:   make([]pkg.Event, cfg.LogCapacity),
	}
}

// Subscribe registers a callback invoked for every emitted event. All
// subscriptions must be made before the first Observe call.
func (d *Detector) Subscribe(fn func(pkg.Event)) {
	d.subs = append(d.subs, fn)
}

// Observe evaluates one sample and returns any events it triggered.
// Subscribers are notified outside the detector lock.
func (d *Detector) Observe(sample pkg.HealthSample) []pkg.Event {
	d.mu.Lock()

	st, ok := d.states[sample.Interface]
	if !ok {
		st = &ifaceState{}
		d.states[sample.Interface] = st
	}

	var events []pkg.Event
	emit := func(kind pkg.EventKind, actions []string, data map[string]interface{}) {
		events = append(events, pkg.Event{
			Kind:      kind,
			Timestamp: sample.Timestamp,
			Interface: sample.Interface,
			Actions:   actions,
			Data:      data,
		})
	}

	if sample.Unreachable {
		st.unreachableRun++
		if st.unreachableRun >= d.cfg.DisconnectAfter && !st.disconnected {
			st.disconnected = true
			emit(pkg.EventDisconnection, []string{"failover", "buffer_aggressively"},
				map[string]interface{}{"consecutive_failures": st.unreachableRun})
		}
	} else {
		if st.disconnected {
			st.disconnected = false
			emit(pkg.EventReconnection, []string{"reassess_route"}, nil)
		}
		st.unreachableRun = 0
		d.observeMetrics(sample, st, emit)
	}

	for _, ev := range events {
		d.record(ev)
	}
	d.mu.Unlock()

	for _, ev := range events {
		for _, fn := range d.subs {
			fn(ev)
		}
	}
	return events
}

func (d *Detector) observeMetrics(sample pkg.HealthSample, st *ifaceState, emit func(pkg.EventKind, []string, map[string]interface{})) {
	if sample.Radio != nil {
		r := sample.Radio
		if r.CellID != "" && st.lastCellID != "" && r.CellID != st.lastCellID {
			emit(pkg.EventCellChange, []string{"expect_brief_disruption", "reduce_bitrate"},
				map[string]interface{}{"from": st.lastCellID, "to": r.CellID, "pci": r.PCI})
		}
		if r.CellID != "" {
			st.lastCellID = r.CellID
		}
		if r.Band != "" && st.lastBand != "" && r.Band != st.lastBand {
			emit(pkg.EventBandChange, []string{"reassess_quality"},
				map[string]interface{}{"from": st.lastBand, "to": r.Band})
		}
		if r.Band != "" {
			st.lastBand = r.Band
		}

		if !st.sinrLow && r.SINRdB < d.cfg.SINR.Enter {
			st.sinrLow = true
			emit(pkg.EventSINRDrop, []string{"reduce_bitrate", "prepare_failover"},
				map[string]interface{}{"sinr_db": r.SINRdB, "threshold": d.cfg.SINR.Enter})
		} else if st.sinrLow && r.SINRdB > d.cfg.SINR.Exit {
			st.sinrLow = false
			emit(pkg.EventSINRRecovery, nil,
				map[string]interface{}{"sinr_db": r.SINRdB})
		}
	}

	checkHigh := func(value float64, th Thresholds, active *bool,
		enterKind, exitKind pkg.EventKind, enterActions []string, key string) {
		if !*active && value > th.Enter {
			*active = true
			emit(enterKind, enterActions, map[string]interface{}{key: value, "threshold": th.Enter})
		} else if *active && value < th.Exit {
			*active = false
			emit(exitKind, nil, map[string]interface{}{key: value})
		}
	}

	checkHigh(sample.JitterMs, d.cfg.JitterMs, &st.jitterHigh,
		pkg.EventHighJitter, pkg.EventJitterRecovery, []string{"increase_buffer"}, "jitter_ms")
	checkHigh(sample.RTTMs, d.cfg.RTTMs, &st.rttHigh,
		pkg.EventHighRTT, pkg.EventRTTRecovery, []string{"reduce_bitrate"}, "rtt_ms")
	checkHigh(sample.LossPct, d.cfg.LossPct, &st.lossHigh,
		pkg.EventPacketLoss, pkg.EventPacketLossRecovery, []string{"enable_fec", "reduce_bitrate"}, "loss_pct")
}

func (d *Detector) record(ev pkg.Event) {
	d.ring[d.cursor] = ev
	d.cursor = (d.cursor + 1) % len(d.ring)
	if d.count < len(d.ring) {
		d.count++
	}
	d.logger.LogEvent(string(ev.Kind), ev.Interface, ev.Data)
}

// Recent returns up to n of the newest events, oldest first.
func (d *Detector) Recent(n int) []pkg.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n <= 0 || n > d.count {
		n = d.count
	}
	out := make([]pkg.Event, 0, n)
	start := d.cursor - n
	if start < 0 {
		start += len(d.ring)
	}
	for i := 0; i < n; i++ {
		out = append(out, d.ring[(start+i)%len(d.ring)])
	}
	return out
}

// Disconnected reports whether an interface is currently in the
// disconnected state.
func (d *Detector) Disconnected(iface string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[iface]
	return ok && st.disconnected
}

// String summarizes the detector state for diagnostics.
func (d *Detector) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("detector(interfaces=%d events=%d)", len(d.states), d.count)
}
