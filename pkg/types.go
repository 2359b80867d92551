// Package pkg holds the shared types of the adaptive link engine: network
// interfaces, health samples, quality scores, events, routing decisions and
// the capability interfaces consumed from the platform.
package pkg

import (
	"context"
	"time"
)

// Class identifies the transport kind of a network interface.
type Class string

const (
	ClassWiFi     Class = "wifi"
	ClassCellular Class = "cellular"
	ClassEthernet Class = "ethernet"
	ClassVPN      Class = "vpn"
)

// ValidClass reports whether c is a known transport class.
func ValidClass(c Class) bool {
	switch c {
	case ClassWiFi, ClassCellular, ClassEthernet, ClassVPN:
		return true
	}
	return false
}

// Priority is the operator-assigned preference order of an interface.
// Lower values are preferred when multiple interfaces are healthy.
type Priority int

const (
	PriorityPrimary  Priority = 0
	PriorityBackup   Priority = 1
	PriorityTertiary Priority = 2
)

// String returns the operator-facing name of a priority class.
func (p Priority) String() string {
	switch p {
	case PriorityPrimary:
		return "primary"
	case PriorityBackup:
		return "backup"
	case PriorityTertiary:
		return "tertiary"
	}
	return "unknown"
}

// ParsePriority converts an operator-facing priority name.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "primary":
		return PriorityPrimary, true
	case "backup":
		return PriorityBackup, true
	case "tertiary":
		return PriorityTertiary, true
	}
	return 0, false
}

// Interface represents one network path the relay can use. It is owned by
// the interface pool; all other components read copies through it.
type Interface struct {
	Name      string    `json:"name"`
	Device    string    `json:"device"`
	Class     Class     `json:"class"`
	Priority  Priority  `json:"priority"`
	Present   bool      `json:"present"`
	Connected bool      `json:"connected"`

	// Quarantined excludes the interface from default-route election while
	// an out-of-band health check (the tunnel peer probe) reports it down.
	// The link itself may still be up and carrying pinned traffic.
	Quarantined bool `json:"quarantined,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Gateway   string    `json:"gateway,omitempty"`

	LastSample   *HealthSample `json:"last_sample,omitempty"`
	RegisteredAt time.Time     `json:"registered_at"`
}

// RadioMetrics carries the cellular radio state reported by a modem's
// management interface.
type RadioMetrics struct {
	SINRdB      float64 `json:"sinr_db"`
	RSRPdBm     float64 `json:"rsrp_dbm"`
	Band        string  `json:"band,omitempty"`
	CellID      string  `json:"cell_id,omitempty"`
	PCI         int     `json:"pci,omitempty"`
	Operator    string  `json:"operator,omitempty"`
	NetworkType string  `json:"network_type,omitempty"`
}

// HealthSample is an immutable snapshot of one probe round for one
// interface. Samples are superseded by the next tick, never edited.
type HealthSample struct {
	Interface   string        `json:"interface"`
	Timestamp   time.Time     `json:"timestamp"`
	Unreachable bool          `json:"unreachable"`
	RTTMs       float64       `json:"rtt_ms"`
	JitterMs    float64       `json:"jitter_ms"`
	LossPct     float64       `json:"loss_pct"`
	Radio       *RadioMetrics `json:"radio,omitempty"`
}

// Label is the qualitative bucket of a quality score.
type Label string

const (
	LabelExcellent Label = "excellent"
	LabelGood      Label = "good"
	LabelModerate  Label = "moderate"
	LabelPoor      Label = "poor"
	LabelCritical  Label = "critical"
)

// Trend describes the direction the score is moving in.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// QualityScore is the derived composite health of an interface. It is a
// pure function of the sample window it was computed from.
type QualityScore struct {
	Value     float64   `json:"score"`
	Label     Label     `json:"label"`
	Trend     Trend     `json:"trend"`
	Slope     float64   `json:"slope_per_min"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventKind is the closed enumeration of detectable link events.
type EventKind string

const (
	EventCellChange         EventKind = "cell_change"
	EventBandChange         EventKind = "band_change"
	EventSINRDrop           EventKind = "sinr_drop"
	EventSINRRecovery       EventKind = "sinr_recovery"
	EventHighJitter         EventKind = "high_jitter"
	EventJitterRecovery     EventKind = "jitter_recovery"
	EventHighRTT            EventKind = "high_rtt"
	EventRTTRecovery        EventKind = "rtt_recovery"
	EventPacketLoss         EventKind = "packet_loss"
	EventPacketLossRecovery EventKind = "packet_loss_recovery"
	EventDisconnection      EventKind = "disconnection"
	EventReconnection       EventKind = "reconnection"
)

// Event is one detected state transition, appended to the bounded event log.
type Event struct {
	Kind      EventKind              `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Interface string                 `json:"interface,omitempty"`
	Actions   []string               `json:"actions"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Recommendation is the encoding target derived from the current score.
type Recommendation struct {
	BitrateKbps int    `json:"bitrate_kbps"`
	Resolution  string `json:"resolution"`
	Framerate   int    `json:"framerate"`
}

// RouteDecision is a committed (or attempted) default-route choice.
// Decisions are superseded, never edited; prior decisions remain in the
// audit trail.
type RouteDecision struct {
	ActiveInterface string    `json:"active_interface_id"`
	Metric          int       `json:"metric_assignment"`
	Timestamp       time.Time `json:"timestamp"`
	Reason          string    `json:"reason"`
	Committed       bool      `json:"committed"`
	Error           string    `json:"error,omitempty"`
}

// TrafficClass names a pinnable class of relay traffic.
type TrafficClass string

const (
	TrafficVideo     TrafficClass = "video"
	TrafficTelemetry TrafficClass = "telemetry"
	TrafficVPN       TrafficClass = "vpn-management"
	TrafficDefault   TrafficClass = "default"
)

// ValidTrafficClass reports whether tc is a known traffic class.
func ValidTrafficClass(tc TrafficClass) bool {
	switch tc {
	case TrafficVideo, TrafficTelemetry, TrafficVPN, TrafficDefault:
		return true
	}
	return false
}

// PolicyRule binds a traffic class to a routing table pinned to one
// interface via a packet mark.
type PolicyRule struct {
	Class     TrafficClass `json:"traffic_class"`
	Mark      uint32       `json:"mark_value"`
	Table     int          `json:"table_id"`
	Interface string       `json:"interface_id"`
}

// VPNState is the checker's view of the optional overlay tunnel.
type VPNState struct {
	Present       bool    `json:"present"`
	InterfaceUp   bool    `json:"interface_up"`
	PeerReachable bool    `json:"peer_reachable"`
	RTTMs         float64 `json:"rtt_ms"`
}

// Prober is the active-probe capability an interface must expose.
type Prober interface {
	Probe(ctx context.Context, device string) (rttMs, lossPct float64, err error)
}

// RadioReader reports cellular radio metrics from the modem management API.
type RadioReader interface {
	RadioMetrics(ctx context.Context, device string) (*RadioMetrics, error)
}

// RouteOps is the OS routing surface consumed by the engine. All operations
// must be idempotent when given the same inputs twice.
type RouteOps interface {
	// ReplaceDefaultRoute atomically replaces the default route so traffic
	// egresses via device with the given metric. Replace semantics: there is
	// never a routeless gap.
	ReplaceDefaultRoute(ctx context.Context, device, gateway string, metric int) error
	// ApplyPolicyRule installs the packet-mark rule, the fwmark-to-table
	// rule and the per-table default route for one traffic class.
	ApplyPolicyRule(ctx context.Context, rule PolicyRule, device, gateway string) error
	// RemovePolicyRule tears down everything ApplyPolicyRule installed.
	RemovePolicyRule(ctx context.Context, rule PolicyRule) error
}

// VPNStatus is the black-box view of the overlay tunnel.
type VPNStatus interface {
	IsUp(ctx context.Context) (bool, error)
	Ping(ctx context.Context, peer string) (rttMs float64, err error)
}
