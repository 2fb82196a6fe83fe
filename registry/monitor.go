package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MonitorConfig holds thresholds for heartbeat staleness detection.
type MonitorConfig struct {
	// HeartbeatInterval is how often agents are expected to heartbeat.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`

	// MissedBeatsThreshold is how many intervals of silence mark an agent
	// degraded. Twice that marks it unhealthy.
	MissedBeatsThreshold int `yaml:"missed_beats_threshold" json:"missed_beats_threshold"`

	// OfflineTimeout is the silence duration after which an agent is
	// marked offline and dropped from discovery.
	OfflineTimeout time.Duration `yaml:"offline_timeout" json:"offline_timeout"`

	// SweepInterval is how often the monitor scans. Defaults to
	// HeartbeatInterval when zero.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultMonitorConfig returns a MonitorConfig with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		HeartbeatInterval:    10 * time.Second,
		MissedBeatsThreshold: 3,
		OfflineTimeout:       5 * time.Minute,
		SweepInterval:        10 * time.Second,
	}
}

// HealthMonitor periodically sweeps the registry and downgrades agents
// whose heartbeats have gone stale:
//
//	healthy -> degraded  after HeartbeatInterval x MissedBeatsThreshold
//	degraded -> unhealthy after twice that silence
//	unhealthy -> offline after OfflineTimeout
//
// A sweep is a local state scan only; it performs no agent I/O and only
// ever lowers health. Heartbeats restore status independently, so a missed
// sweep delays detection but never corrupts state.
type HealthMonitor struct {
	registry *AgentRegistry
	config   MonitorConfig
	logger   *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewHealthMonitor creates a monitor over the given registry.
func NewHealthMonitor(registry *AgentRegistry, config MonitorConfig, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = config.HeartbeatInterval
	}
	return &HealthMonitor{
		registry: registry,
		config:   config,
		logger:   logger.With(zap.String("component", "health_monitor")),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.run()
	m.logger.Info("health monitor started",
		zap.Duration("sweep_interval", m.config.SweepInterval),
		zap.Duration("offline_timeout", m.config.OfflineTimeout),
	)
	return nil
}

// Stop halts the sweep loop and waits for it to exit.
func (m *HealthMonitor) Stop(ctx context.Context) error {
	close(m.done)
	m.wg.Wait()
	m.logger.Info("health monitor stopped")
	return nil
}

func (m *HealthMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.done:
			return
		}
	}
}

// Sweep scans all non-offline agents and applies the staleness state
// machine. Safe to call concurrently with every other registry operation.
func (m *HealthMonitor) Sweep() {
	now := time.Now()
	degradedAfter := time.Duration(m.config.MissedBeatsThreshold) * m.config.HeartbeatInterval
	unhealthyAfter := 2 * degradedAfter

	type transition struct {
		agentID  string
		from, to HealthStatus
	}
	var transitions []transition

	m.registry.mu.Lock()
	for id, rec := range m.registry.agents {
		if rec.HealthStatus == HealthOffline {
			continue
		}
		elapsed := now.Sub(rec.LastHeartbeatAt)

		target := rec.HealthStatus
		switch {
		case elapsed > m.config.OfflineTimeout:
			target = HealthOffline
		case elapsed > unhealthyAfter:
			target = HealthUnhealthy
		case elapsed > degradedAfter:
			target = HealthDegraded
		default:
			continue
		}

		// Staleness only ever lowers health; fresh self-reports win.
		if target.Rank() >= rec.HealthStatus.Rank() {
			continue
		}
		from := rec.HealthStatus
		rec.HealthStatus = target
		if target == HealthOffline {
			for tag := range rec.Capabilities {
				m.registry.unindex(tag, id)
			}
		}
		transitions = append(transitions, transition{agentID: id, from: from, to: target})
	}
	m.registry.mu.Unlock()

	for _, tr := range transitions {
		m.logger.Warn("agent health downgraded",
			zap.String("agent_id", tr.agentID),
			zap.String("from", string(tr.from)),
			zap.String("to", string(tr.to)),
		)
		m.registry.emit(&Event{
			Type:      EventStatusChanged,
			AgentID:   tr.agentID,
			OldStatus: tr.from,
			NewStatus: tr.to,
			Timestamp: now,
		})
	}
}
