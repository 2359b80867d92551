package telem

import (
	"time"

	"github.com/skyhaul/linkmgr/pkg"
)

// CellState mirrors the modem-side radio context in the published
// snapshot.
type CellState struct {
	CellID      string `json:"cell_id"`
	PCI         int    `json:"pci"`
	Band        string `json:"band"`
	Operator    string `json:"operator"`
	NetworkType string `json:"network_type"`
}

// Latency carries the path metrics of the latest sample.
type Latency struct {
	RTTMs      float64 `json:"rtt_ms"`
	JitterMs   float64 `json:"jitter_ms"`
	PacketLoss float64 `json:"packet_loss"`
}

// InterfaceSnapshot is the per-link section of a snapshot.
type InterfaceSnapshot struct {
	Name        string     `json:"name"`
	Class       string     `json:"class"`
	Priority    string     `json:"priority"`
	Present     bool       `json:"present"`
	Connected   bool       `json:"connected"`
	Active      bool       `json:"active"`
	Unreachable bool       `json:"unreachable"`
	Score       float64    `json:"score"`
	Label       string     `json:"label"`
	Trend       string     `json:"trend"`
	SlopePerMin float64    `json:"slope_per_min"`
	CellState   *CellState `json:"cell_state,omitempty"`
	Latency     *Latency   `json:"latency,omitempty"`
}

// Snapshot is the full document published on every telemetry tick.
type Snapshot struct {
	Timestamp    time.Time           `json:"timestamp"`
	Active       string              `json:"active"`
	PrimaryType  string              `json:"primary_type"`
	Interfaces   []InterfaceSnapshot `json:"interfaces"`
	RecentEvents []pkg.Event         `json:"recent_events"`
	Recommended  pkg.Recommendation  `json:"recommended"`
	VPN          *pkg.VPNState       `json:"vpn,omitempty"`
}

// InterfaceLister provides the current pool contents.
type InterfaceLister interface {
	List() []pkg.Interface
}

// EventSource provides the newest detected events.
type EventSource interface {
	Recent(n int) []pkg.Event
}

// RecommendationSource provides the current encoder recommendation.
type RecommendationSource interface {
	Current() pkg.Recommendation
}

// Builder assembles snapshots from the live components.
type Builder struct {
	store     *Store
	pool      InterfaceLister
	events    EventSource
	recommend RecommendationSource
	active    func() string
	vpnState  func() (pkg.VPNState, bool)
	eventTail int
}

func NewBuilder(store *Store, pool InterfaceLister, events EventSource,
	recommend RecommendationSource, active func() string,
	vpnState func() (pkg.VPNState, bool), eventTail int) *Builder {
	if eventTail <= 0 {
		eventTail = 10
	}
	return &Builder{
		store:     store,
		pool:      pool,
		events:    events,
		recommend: recommend,
		active:    active,
		vpnState:  vpnState,
		eventTail: eventTail,
	}
}

// Build assembles one snapshot. Events come back newest-tail ordered,
// matching the view a ground operator scrolls through.
func (b *Builder) Build() Snapshot {
	activeName := b.active()
	snap := Snapshot{
		Timestamp:    time.Now(),
		Active:       activeName,
		RecentEvents: b.events.Recent(b.eventTail),
		Recommended:  b.recommend.Current(),
	}

	for _, iface := range b.pool.List() {
		score := b.store.Score(iface.Name)
		is := InterfaceSnapshot{
			Name:        iface.Name,
			Class:       string(iface.Class),
			Priority:    iface.Priority.String(),
			Present:     iface.Present,
			Connected:   iface.Connected,
			Active:      iface.Name == activeName,
			Score:       score.Value,
			Label:       string(score.Label),
			Trend:       string(score.Trend),
			SlopePerMin: score.Slope,
		}
		if sample, ok := b.store.LatestSample(iface.Name); ok {
			is.Unreachable = sample.Unreachable
			if !sample.Unreachable {
				is.Latency = &Latency{
					RTTMs:      sample.RTTMs,
					JitterMs:   sample.JitterMs,
					PacketLoss: sample.LossPct,
				}
			}
			if sample.Radio != nil {
				is.CellState = &CellState{
					CellID:      sample.Radio.CellID,
					PCI:         sample.Radio.PCI,
					Band:        sample.Radio.Band,
					Operator:    sample.Radio.Operator,
					NetworkType: sample.Radio.NetworkType,
				}
			}
		}
		if is.Active {
			snap.PrimaryType = string(iface.Class)
		}
		snap.Interfaces = append(snap.Interfaces, is)
	}

	if b.vpnState != nil {
		if state, _ := b.vpnState(); state.Present {
			snap.VPN = &state
		}
	}
	if snap.RecentEvents == nil {
		snap.RecentEvents = []pkg.Event{}
	}
	return snap
}
