// linkmgrd keeps a relay node's uplinks alive: it samples every managed
// interface, scores link quality, detects degradation events, elects the
// default route and pins traffic classes to interfaces via policy routing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/audit"
	"github.com/skyhaul/linkmgr/pkg/config"
	"github.com/skyhaul/linkmgr/pkg/decision"
	"github.com/skyhaul/linkmgr/pkg/detect"
	"github.com/skyhaul/linkmgr/pkg/logx"
	"github.com/skyhaul/linkmgr/pkg/metrics"
	"github.com/skyhaul/linkmgr/pkg/mqtt"
	"github.com/skyhaul/linkmgr/pkg/pidfile"
	"github.com/skyhaul/linkmgr/pkg/pool"
	"github.com/skyhaul/linkmgr/pkg/recommend"
	"github.com/skyhaul/linkmgr/pkg/routing"
	"github.com/skyhaul/linkmgr/pkg/sampler"
	"github.com/skyhaul/linkmgr/pkg/score"
	"github.com/skyhaul/linkmgr/pkg/telem"
	"github.com/skyhaul/linkmgr/pkg/vpn"
)

var version = "dev"

const heartbeatInterval = 30 * time.Second

func main() {
	var (
		configPath   = flag.String("config", "/etc/linkmgr/linkmgr.yaml", "path to configuration file")
		pidPath      = flag.String("pid-file", "/var/run/linkmgrd.pid", "path to pid file")
		logLevel     = flag.String("log-level", "", "log level override (trace|debug|info|warn|error)")
		dryRun       = flag.Bool("dry-run", false, "log route mutations without executing them")
		overridePath = flag.String("override-file", "/tmp/linkmgrd.override", "manual override file, one interface name")
		healthPath   = flag.String("health-file", "/tmp/linkmgrd.health", "heartbeat file path")
		showVersion  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("linkmgrd %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkmgrd: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := logx.NewLogger(cfg.Logging.Level, "linkmgrd")
	logger.Info("starting", "version", version, "config", *configPath, "dry_run", *dryRun)

	pid := pidfile.New(*pidPath)
	if err := pid.Create(); err != nil {
		logger.Error("pid file creation failed", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn("pid file removal failed", "error", err.Error())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg, logger, *dryRun, *overridePath, *healthPath); err != nil {
		logger.Error("daemon failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config,
	logger *logx.Logger, dryRun bool, overridePath, healthPath string) error {

	startedAt := time.Now()

	auditLog, err := audit.Open(cfg.Audit.Path, cfg.Audit.Capacity, logger.WithComponent("audit"))
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	mqttClient := mqtt.NewClient(mqtt.Config{
		Enabled:     cfg.MQTT.Enabled,
		Broker:      cfg.MQTT.Broker,
		Port:        cfg.MQTT.Port,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         cfg.MQTT.QoS,
		Retain:      cfg.MQTT.Retain,
	}, logger.WithComponent("mqtt"))
	if err := mqttClient.Connect(); err != nil {
		// Telemetry is best effort; the broker may come up later.
		logger.Warn("mqtt connect failed, continuing", "error", err.Error())
	}
	defer mqttClient.Disconnect()

	exporter := metrics.NewExporter(logger.WithComponent("metrics"))
	if cfg.Metrics.Enabled {
		exporter.Serve(cfg.Metrics.Port)
		defer exporter.Shutdown(context.Background())
	}

	interfacePool := pool.NewPool(logger.WithComponent("pool"))
	for _, ic := range cfg.Interfaces {
		prio, _ := pkg.ParsePriority(ic.Priority)
		err := interfacePool.Register(pkg.Interface{
			Name:     ic.Name,
			Device:   ic.Device,
			Class:    pkg.Class(ic.Class),
			Priority: prio,
			Gateway:  ic.Gateway,
		})
		if err != nil {
			return fmt.Errorf("register interface %s: %w", ic.Name, err)
		}
	}

	capacity := cfg.Telemetry.RetentionHours * 3600 / cfg.Sampling.IntervalS
	store := telem.NewStore(capacity)

	scorer := score.NewScorer(score.Config{
		WindowSamples:      cfg.Scoring.WindowSamples,
		ShortWindowSamples: cfg.Scoring.ShortWindowSamples,
		TrendMargin:        cfg.Scoring.TrendMargin,
		WeightRTT:          cfg.Scoring.WeightRTT,
		WeightJitter:       cfg.Scoring.WeightJitter,
		WeightLoss:         cfg.Scoring.WeightLoss,
		WeightSINR:         cfg.Scoring.WeightSINR,
		RTTGoodMs:          cfg.Scoring.RTTGoodMs,
		RTTBadMs:           cfg.Scoring.RTTBadMs,
		JitterGoodMs:       cfg.Scoring.JitterGoodMs,
		JitterBadMs:        cfg.Scoring.JitterBadMs,
		LossGoodPct:        cfg.Scoring.LossGoodPct,
		LossBadPct:         cfg.Scoring.LossBadPct,
		SINRGoodDb:         cfg.Scoring.SINRGoodDb,
		SINRBadDb:          cfg.Scoring.SINRBadDb,
	})

	detector := detect.NewDetector(detect.Config{
		LogCapacity:     cfg.Events.LogCapacity,
		DisconnectAfter: cfg.Events.DisconnectAfter,
		SINR:            detect.Thresholds(cfg.Events.SINR),
		JitterMs:        detect.Thresholds(cfg.Events.JitterMs),
		RTTMs:           detect.Thresholds(cfg.Events.RTTMs),
		LossPct:         detect.Thresholds(cfg.Events.LossPct),
	}, logger.WithComponent("detect"))

	ladder := make(map[pkg.Label]pkg.Recommendation, len(cfg.Recommendation))
	for label, step := range cfg.Recommendation {
		ladder[pkg.Label(label)] = pkg.Recommendation{
			BitrateKbps: step.BitrateKbps,
			Resolution:  step.Resolution,
			Framerate:   step.Framerate,
		}
	}
	recommender, err := recommend.NewRecommender(ladder, cfg.Scoring.ShortWindowSamples, logger.WithComponent("recommend"))
	if err != nil {
		return fmt.Errorf("build recommender: %w", err)
	}

	routeOps := routing.NewExecRouteOps(logger.WithComponent("routing"), dryRun)
	writer := routing.NewWriter(time.Duration(cfg.Failover.MutationTimeoutS)*time.Second, logger.WithComponent("routing"))
	writer.Start(ctx)
	defer writer.Stop()

	reconciler := routing.NewReconciler(routeOps, writer, logger.WithComponent("routing"))

	var activeName atomic.Value
	activeName.Store("")

	recorder := &decisionRecorder{audit: auditLog, mqtt: mqttClient}
	engine := decision.NewEngine(decision.Config{
		Cooldown:    time.Duration(cfg.Failover.CooldownS) * time.Second,
		MinUptime:   time.Duration(cfg.Failover.MinUptimeS) * time.Second,
		RouteMetric: cfg.Failover.RouteMetric,
	}, interfacePool, writer, routeOps, store.Score, recorder,
		func(from, to, reason string) {
			activeName.Store(to)
			exporter.ObserveSwitch(from, to)
		}, logger.WithComponent("decision"))

	detector.Subscribe(func(ev pkg.Event) {
		exporter.ObserveEvent(ev)
		if err := mqttClient.PublishEvent(ev); err != nil {
			logger.Warn("event publish failed", "error", err.Error())
		}
		switch ev.Kind {
		case pkg.EventDisconnection:
			if err := interfacePool.SetConnected(ev.Interface, false); err != nil {
				logger.Warn("mark disconnected failed", "interface", ev.Interface, "error", err.Error())
			}
		case pkg.EventReconnection:
			if err := interfacePool.SetConnected(ev.Interface, true); err != nil {
				logger.Warn("mark reconnected failed", "interface", ev.Interface, "error", err.Error())
			}
		}
	})

	smpl := sampler.NewSampler(sampler.Config{
		Interval:     time.Duration(cfg.Sampling.IntervalS) * time.Second,
		ProbeTimeout: time.Duration(cfg.Sampling.ProbeTimeoutS) * time.Second,
		JitterWindow: cfg.Sampling.JitterWindow,
	}, interfacePool, sampler.NewTCPProber(nil), sampler.NewMMCLIRadioReader(),
		func(sample pkg.HealthSample) {
			store.Append(sample)
			exporter.ObserveSample(sample)
			if !sample.Unreachable {
				if err := interfacePool.SetConnected(sample.Interface, true); err != nil {
					logger.Warn("mark connected failed", "interface", sample.Interface, "error", err.Error())
				}
			}
			detector.Observe(sample)

			s := scorer.Score(store.Window(sample.Interface, cfg.Scoring.WindowSamples))
			store.SetScore(sample.Interface, s)
			exporter.ObserveScore(sample.Interface, s)
			if active, _ := activeName.Load().(string); active == sample.Interface {
				recommender.Update(s)
			}
		}, logger.WithComponent("sampler"))
	smpl.Start(ctx)
	defer smpl.Stop()

	// The checker names the tunnel device; quarantine acts on the pool entry.
	vpnPoolName := cfg.VPN.Interface
	for _, ic := range cfg.Interfaces {
		if ic.Device == cfg.VPN.Interface {
			vpnPoolName = ic.Name
			break
		}
	}
	vpnChecker := vpn.NewChecker(vpn.Config{
		Enabled:          cfg.VPN.Enabled,
		Interface:        cfg.VPN.Interface,
		Peer:             cfg.VPN.Peer,
		CheckInterval:    time.Duration(cfg.VPN.CheckIntervalS) * time.Second,
		FailThreshold:    cfg.VPN.FailThreshold,
		RecoverThreshold: cfg.VPN.RecoverThreshold,
	}, vpn.NewSysfsStatus(cfg.VPN.Interface), func(healthy bool, _ pkg.VPNState) {
		exporter.ObserveVPN(healthy)
		// An unreachable peer must cost the tunnel its election slot: the
		// reachability probes do not bind to a device, so a dead tunnel
		// still produces healthy-looking samples.
		if err := interfacePool.SetQuarantined(vpnPoolName, !healthy); err != nil {
			logger.Warn("vpn quarantine update failed", "interface", vpnPoolName, "error", err.Error())
		}
	}, logger.WithComponent("vpn"))
	vpnChecker.Start(ctx)
	defer vpnChecker.Stop()

	builder := telem.NewBuilder(store, interfacePool, detector, recommender,
		func() string { active, _ := activeName.Load().(string); return active },
		vpnChecker.State, cfg.Telemetry.EventTail)

	go handleSignals(cancel, logger)

	return mainLoop(ctx, cfg, logger, engine, reconciler, interfacePool, builder,
		mqttClient, exporter, &activeName, overridePath, healthPath, startedAt)
}

func mainLoop(ctx context.Context, cfg *config.Config, logger *logx.Logger,
	engine *decision.Engine, reconciler *routing.Reconciler, interfacePool *pool.Pool,
	builder *telem.Builder, mqttClient *mqtt.Client, exporter *metrics.Exporter,
	activeName *atomic.Value, overridePath, healthPath string, startedAt time.Time) error {

	decisionTicker := time.NewTicker(time.Duration(cfg.Failover.DecisionIntervalS) * time.Second)
	defer decisionTicker.Stop()
	telemetryTicker := time.NewTicker(time.Duration(cfg.Telemetry.PublishIntervalS) * time.Second)
	defer telemetryTicker.Stop()
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The last committed route stays in place: a restarting
			// daemon must not take the node offline.
			logger.Info("shutting down", "active", currentActive(activeName))
			return nil

		case <-decisionTicker.C:
			if target := consumeOverride(overridePath, logger); target != "" {
				engine.SetOverride(target)
			}
			if d := engine.Evaluate(ctx); d != nil && !d.Committed && d.Error != "" {
				exporter.ObserveRouteError()
			}
			if cfg.PolicyRouting.Enabled {
				rules := resolveRules(cfg, interfacePool, currentActive(activeName))
				if err := reconciler.Reconcile(ctx, rules); err != nil {
					logger.Warn("policy reconcile incomplete", "error", err.Error())
				}
			}

		case <-telemetryTicker.C:
			if err := mqttClient.PublishSnapshot(builder.Build()); err != nil {
				logger.Warn("telemetry publish failed", "error", err.Error())
			}

		case <-heartbeatTicker.C:
			writeHeartbeat(healthPath, currentActive(activeName), startedAt, logger)
		}
	}
}

func currentActive(activeName *atomic.Value) string {
	active, _ := activeName.Load().(string)
	return active
}

// resolveRules binds configured policy rules to devices. A rule with no
// pinned interface follows the active one.
func resolveRules(cfg *config.Config, interfacePool *pool.Pool, active string) []routing.ResolvedRule {
	var out []routing.ResolvedRule
	for _, rule := range cfg.PolicyRules() {
		name := rule.Interface
		if name == "" {
			name = active
		}
		if name == "" {
			continue
		}
		iface, err := interfacePool.Get(name)
		if err != nil || !iface.Present || !iface.Connected {
			continue
		}
		out = append(out, routing.ResolvedRule{
			Rule:    rule,
			Device:  iface.Device,
			Gateway: iface.Gateway,
		})
	}
	return out
}

// consumeOverride reads and removes the override file. Empty or missing
// files mean no override.
func consumeOverride(path string, logger *logx.Logger) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if err := os.Remove(path); err != nil {
		logger.Warn("override file removal failed", "error", err.Error())
	}
	return strings.TrimSpace(string(data))
}

func writeHeartbeat(path, active string, startedAt time.Time, logger *logx.Logger) {
	health := map[string]interface{}{
		"pid":        os.Getpid(),
		"version":    version,
		"uptime_s":   int(time.Since(startedAt).Seconds()),
		"goroutines": runtime.NumGoroutine(),
		"active":     active,
		"timestamp":  time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(health)
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn("heartbeat write failed", "error", err.Error())
	}
}

func handleSignals(cancel context.CancelFunc, logger *logx.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received", "signal", sig.String())
	cancel()
}

// decisionRecorder fans each route decision out to the audit log and the
// broker.
type decisionRecorder struct {
	audit *audit.Log
	mqtt  *mqtt.Client
}

func (r *decisionRecorder) Record(d pkg.RouteDecision) {
	r.audit.Record(d)
	_ = r.mqtt.PublishDecision(d)
}
