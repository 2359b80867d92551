// Package config loads and validates the daemon configuration from YAML,
// applying defaults and environment overrides. Configuration errors are
// rejected at load time, never silently ignored.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/skyhaul/linkmgr/pkg"
)

// InterfaceConfig declares one operator-managed network interface.
type InterfaceConfig struct {
	Name     string `yaml:"name"`
	Device   string `yaml:"device"`
	Class    string `yaml:"class"`    // wifi|cellular|ethernet|vpn
	Priority string `yaml:"priority"` // primary|backup|tertiary
	Gateway  string `yaml:"gateway,omitempty"`
}

// HysteresisPair holds distinct enter/exit thresholds for one metric so
// noise near a boundary does not oscillate.
type HysteresisPair struct {
	Enter float64 `yaml:"enter"`
	Exit  float64 `yaml:"exit"`
}

// RecommendationStep is one rung of the label-to-encoding ladder.
type RecommendationStep struct {
	BitrateKbps int    `yaml:"bitrate_kbps"`
	Resolution  string `yaml:"resolution"`
	Framerate   int    `yaml:"framerate"`
}

// PolicyRuleConfig pins one traffic class to an interface.
type PolicyRuleConfig struct {
	Class     string `yaml:"class"`
	Mark      uint32 `yaml:"mark"`
	Table     int    `yaml:"table"`
	Interface string `yaml:"interface"`
}

// Config is the full daemon configuration.
type Config struct {
	Interfaces []InterfaceConfig `yaml:"interfaces"`

	Sampling struct {
		IntervalS     int `yaml:"interval_s"`
		ProbeTimeoutS int `yaml:"probe_timeout_s"`
		JitterWindow  int `yaml:"jitter_window"`
	} `yaml:"sampling"`

	Scoring struct {
		WindowSamples      int     `yaml:"window_samples"`
		ShortWindowSamples int     `yaml:"short_window_samples"`
		TrendMargin        float64 `yaml:"trend_margin"`

		WeightRTT    float64 `yaml:"weight_rtt"`
		WeightJitter float64 `yaml:"weight_jitter"`
		WeightLoss   float64 `yaml:"weight_loss"`
		WeightSINR   float64 `yaml:"weight_sinr"`

		RTTGoodMs    float64 `yaml:"rtt_good_ms"`
		RTTBadMs     float64 `yaml:"rtt_bad_ms"`
		JitterGoodMs float64 `yaml:"jitter_good_ms"`
		JitterBadMs  float64 `yaml:"jitter_bad_ms"`
		LossGoodPct  float64 `yaml:"loss_good_pct"`
		LossBadPct   float64 `yaml:"loss_bad_pct"`
		SINRGoodDb   float64 `yaml:"sinr_good_db"`
		SINRBadDb    float64 `yaml:"sinr_bad_db"`
	} `yaml:"scoring"`

	Events struct {
		LogCapacity     int            `yaml:"log_capacity"`
		DisconnectAfter int            `yaml:"disconnect_after"` // consecutive unreachable samples
		SINR            HysteresisPair `yaml:"sinr"`
		JitterMs        HysteresisPair `yaml:"jitter_ms"`
		RTTMs           HysteresisPair `yaml:"rtt_ms"`
		LossPct         HysteresisPair `yaml:"loss_pct"`
	} `yaml:"events"`

	Recommendation map[string]RecommendationStep `yaml:"recommendation"`

	Failover struct {
		CooldownS         int `yaml:"cooldown_s"`
		MinUptimeS        int `yaml:"min_uptime_s"`
		DecisionIntervalS int `yaml:"decision_interval_s"`
		RouteMetric       int `yaml:"route_metric"`
		MutationTimeoutS  int `yaml:"mutation_timeout_s"`
	} `yaml:"failover"`

	PolicyRouting struct {
		Enabled bool               `yaml:"enabled"`
		Rules   []PolicyRuleConfig `yaml:"rules"`
	} `yaml:"policy_routing"`

	VPN struct {
		Enabled          bool   `yaml:"enabled"`
		Interface        string `yaml:"interface"`
		Peer             string `yaml:"peer"`
		CheckIntervalS   int    `yaml:"check_interval_s"`
		FailThreshold    int    `yaml:"fail_threshold"`
		RecoverThreshold int    `yaml:"recover_threshold"`
	} `yaml:"vpn"`

	Telemetry struct {
		RetentionHours   int `yaml:"retention_hours"`
		PublishIntervalS int `yaml:"publish_interval_s"`
		EventTail        int `yaml:"event_tail"`
	} `yaml:"telemetry"`

	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Port        int    `yaml:"port"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		QoS         int    `yaml:"qos"`
		Retain      bool   `yaml:"retain"`
	} `yaml:"mqtt"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Audit struct {
		Path     string `yaml:"path"`
		Capacity int    `yaml:"capacity"`
	} `yaml:"audit"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns configuration with the shipped defaults. The scorer
// weights and curves follow the values the engine was tuned with; all of
// them are operator-overridable.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Sampling.IntervalS = 2
	cfg.Sampling.ProbeTimeoutS = 3
	cfg.Sampling.JitterWindow = 10

	cfg.Scoring.WindowSamples = 20
	cfg.Scoring.ShortWindowSamples = 5
	cfg.Scoring.TrendMargin = 3.0
	cfg.Scoring.WeightRTT = 0.30
	cfg.Scoring.WeightJitter = 0.25
	cfg.Scoring.WeightLoss = 0.25
	cfg.Scoring.WeightSINR = 0.20
	cfg.Scoring.RTTGoodMs = 50
	cfg.Scoring.RTTBadMs = 500
	cfg.Scoring.JitterGoodMs = 10
	cfg.Scoring.JitterBadMs = 100
	cfg.Scoring.LossGoodPct = 0
	cfg.Scoring.LossBadPct = 10
	cfg.Scoring.SINRGoodDb = 20
	cfg.Scoring.SINRBadDb = -5

	cfg.Events.LogCapacity = 50
	cfg.Events.DisconnectAfter = 3
	cfg.Events.SINR = HysteresisPair{Enter: 5, Exit: 10}
	cfg.Events.JitterMs = HysteresisPair{Enter: 50, Exit: 30}
	cfg.Events.RTTMs = HysteresisPair{Enter: 300, Exit: 200}
	cfg.Events.LossPct = HysteresisPair{Enter: 5, Exit: 2}

	cfg.Recommendation = map[string]RecommendationStep{
		"excellent": {BitrateKbps: 8000, Resolution: "1920x1080", Framerate: 60},
		"good":      {BitrateKbps: 5000, Resolution: "1920x1080", Framerate: 30},
		"moderate":  {BitrateKbps: 2500, Resolution: "1280x720", Framerate: 30},
		"poor":      {BitrateKbps: 1000, Resolution: "854x480", Framerate: 24},
		"critical":  {BitrateKbps: 400, Resolution: "640x360", Framerate: 15},
	}

	cfg.Failover.CooldownS = 10
	cfg.Failover.MinUptimeS = 10
	cfg.Failover.DecisionIntervalS = 2
	cfg.Failover.RouteMetric = 1
	cfg.Failover.MutationTimeoutS = 10

	cfg.VPN.CheckIntervalS = 5
	cfg.VPN.FailThreshold = 3
	cfg.VPN.RecoverThreshold = 3

	cfg.Telemetry.RetentionHours = 24
	cfg.Telemetry.PublishIntervalS = 2
	cfg.Telemetry.EventTail = 10

	cfg.MQTT.Broker = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.ClientID = "linkmgrd"
	cfg.MQTT.TopicPrefix = "linkmgr"
	cfg.MQTT.QoS = 1

	cfg.Metrics.Port = 9101

	cfg.Audit.Path = "/var/lib/linkmgr/audit.db"
	cfg.Audit.Capacity = 200

	cfg.Logging.Level = "info"

	return cfg
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides, and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("LINKMGR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if broker := os.Getenv("LINKMGR_MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}
	if port := os.Getenv("LINKMGR_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Metrics.Port = p
		}
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i, ic := range c.Interfaces {
		if ic.Name == "" {
			return fmt.Errorf("interfaces[%d].name must not be empty", i)
		}
		if seen[ic.Name] {
			return fmt.Errorf("duplicate interface name %q", ic.Name)
		}
		seen[ic.Name] = true
		if ic.Device == "" {
			return fmt.Errorf("interface %s: device must not be empty", ic.Name)
		}
		if !pkg.ValidClass(pkg.Class(ic.Class)) {
			return fmt.Errorf("interface %s: unknown class %q", ic.Name, ic.Class)
		}
		if _, ok := pkg.ParsePriority(ic.Priority); !ok {
			return fmt.Errorf("interface %s: unknown priority class %q", ic.Name, ic.Priority)
		}
	}

	if c.Sampling.IntervalS <= 0 {
		return fmt.Errorf("sampling.interval_s must be > 0")
	}
	if c.Sampling.ProbeTimeoutS <= 0 {
		return fmt.Errorf("sampling.probe_timeout_s must be > 0")
	}

	s := &c.Scoring
	if s.WindowSamples < 2 {
		return fmt.Errorf("scoring.window_samples must be >= 2")
	}
	if s.ShortWindowSamples < 1 || s.ShortWindowSamples > s.WindowSamples {
		return fmt.Errorf("scoring.short_window_samples must be in [1, window_samples]")
	}
	total := s.WeightRTT + s.WeightJitter + s.WeightLoss + s.WeightSINR
	if total <= 0 {
		return fmt.Errorf("scoring weights must sum to a positive value")
	}
	if s.RTTBadMs <= s.RTTGoodMs {
		return fmt.Errorf("scoring.rtt_bad_ms must be > rtt_good_ms")
	}
	if s.JitterBadMs <= s.JitterGoodMs {
		return fmt.Errorf("scoring.jitter_bad_ms must be > jitter_good_ms")
	}
	if s.LossBadPct <= s.LossGoodPct {
		return fmt.Errorf("scoring.loss_bad_pct must be > loss_good_pct")
	}
	if s.SINRGoodDb <= s.SINRBadDb {
		return fmt.Errorf("scoring.sinr_good_db must be > sinr_bad_db")
	}

	if c.Events.LogCapacity <= 0 {
		return fmt.Errorf("events.log_capacity must be > 0")
	}
	if c.Events.DisconnectAfter <= 0 {
		return fmt.Errorf("events.disconnect_after must be > 0")
	}
	// Drop thresholds enter below exit; recovery requires clearing the
	// higher exit bound.
	if c.Events.SINR.Exit <= c.Events.SINR.Enter {
		return fmt.Errorf("events.sinr: exit threshold must be > enter threshold")
	}
	// For "too high" metrics the enter bound is above the exit bound.
	for name, p := range map[string]HysteresisPair{
		"jitter_ms": c.Events.JitterMs,
		"rtt_ms":    c.Events.RTTMs,
		"loss_pct":  c.Events.LossPct,
	} {
		if p.Exit >= p.Enter {
			return fmt.Errorf("events.%s: exit threshold must be < enter threshold", name)
		}
	}

	for _, label := range []string{"excellent", "good", "moderate", "poor", "critical"} {
		step, ok := c.Recommendation[label]
		if !ok {
			return fmt.Errorf("recommendation ladder missing label %q", label)
		}
		if step.BitrateKbps <= 0 || step.Framerate <= 0 || step.Resolution == "" {
			return fmt.Errorf("recommendation ladder for %q has invalid values", label)
		}
	}
	// Ladder must be monotonic: a better label never targets a lower bitrate.
	order := []string{"critical", "poor", "moderate", "good", "excellent"}
	for i := 1; i < len(order); i++ {
		if c.Recommendation[order[i]].BitrateKbps < c.Recommendation[order[i-1]].BitrateKbps {
			return fmt.Errorf("recommendation ladder not monotonic: %s targets less bitrate than %s", order[i], order[i-1])
		}
	}

	if c.Failover.CooldownS <= 0 {
		return fmt.Errorf("failover.cooldown_s must be > 0")
	}
	if c.Failover.MinUptimeS < 0 {
		return fmt.Errorf("failover.min_uptime_s must be >= 0")
	}
	if c.Failover.DecisionIntervalS <= 0 {
		return fmt.Errorf("failover.decision_interval_s must be > 0")
	}
	if c.Failover.MutationTimeoutS <= 0 {
		return fmt.Errorf("failover.mutation_timeout_s must be > 0")
	}

	marks := map[uint32]string{}
	tables := map[int]string{}
	for _, r := range c.PolicyRouting.Rules {
		if !pkg.ValidTrafficClass(pkg.TrafficClass(r.Class)) {
			return fmt.Errorf("policy_routing: unknown traffic class %q", r.Class)
		}
		if r.Mark == 0 {
			return fmt.Errorf("policy_routing: rule for %s must set a non-zero mark", r.Class)
		}
		if r.Table <= 0 {
			return fmt.Errorf("policy_routing: rule for %s must set a positive table id", r.Class)
		}
		if r.Interface != "" && !seen[r.Interface] {
			return fmt.Errorf("policy_routing: rule for %s references unknown interface %q", r.Class, r.Interface)
		}
		if prev, dup := marks[r.Mark]; dup {
			return fmt.Errorf("policy_routing: mark %#x used by both %s and %s", r.Mark, prev, r.Class)
		}
		marks[r.Mark] = r.Class
		if prev, dup := tables[r.Table]; dup {
			return fmt.Errorf("policy_routing: table %d used by both %s and %s", r.Table, prev, r.Class)
		}
		tables[r.Table] = r.Class
	}

	if c.VPN.Enabled {
		if c.VPN.Interface == "" {
			return fmt.Errorf("vpn.interface must not be empty when vpn.enabled=true")
		}
		if c.VPN.Peer == "" {
			return fmt.Errorf("vpn.peer must not be empty when vpn.enabled=true")
		}
		if c.VPN.CheckIntervalS <= 0 {
			return fmt.Errorf("vpn.check_interval_s must be > 0")
		}
		if c.VPN.FailThreshold <= 0 || c.VPN.RecoverThreshold <= 0 {
			return fmt.Errorf("vpn fail/recover thresholds must be > 0")
		}
	}

	if c.Telemetry.RetentionHours < 1 || c.Telemetry.RetentionHours > 168 {
		return fmt.Errorf("telemetry.retention_hours must be between 1 and 168")
	}
	// This interval feeds a ticker; zero would panic the main loop.
	if c.Telemetry.PublishIntervalS <= 0 {
		return fmt.Errorf("telemetry.publish_interval_s must be > 0")
	}
	if c.Telemetry.EventTail <= 0 {
		return fmt.Errorf("telemetry.event_tail must be > 0")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker must not be empty when mqtt.enabled=true")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0 when metrics.enabled=true")
	}
	if c.Audit.Capacity <= 0 {
		return fmt.Errorf("audit.capacity must be > 0")
	}

	return nil
}

// InterfaceByName returns the declared configuration for an interface.
func (c *Config) InterfaceByName(name string) (InterfaceConfig, bool) {
	for _, ic := range c.Interfaces {
		if ic.Name == name {
			return ic, true
		}
	}
	return InterfaceConfig{}, false
}

// PolicyRules converts the configured rules to their runtime form.
func (c *Config) PolicyRules() []pkg.PolicyRule {
	rules := make([]pkg.PolicyRule, 0, len(c.PolicyRouting.Rules))
	for _, r := range c.PolicyRouting.Rules {
		rules = append(rules, pkg.PolicyRule{
			Class:     pkg.TrafficClass(r.Class),
			Mark:      r.Mark,
			Table:     r.Table,
			Interface: r.Interface,
		})
	}
	return rules
}
