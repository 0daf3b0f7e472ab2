package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/stocktake/internal/clock"
)

// ProbeManager adds liveness, readiness and startup probes to Manager.
type ProbeManager struct {
	*Manager

	clock       clock.Clock
	startTime   time.Time
	initialized atomic.Bool
	inShutdown  atomic.Bool
	version     string
}

// NewProbeManager creates a ProbeManager using the real clock.
func NewProbeManager(version string) *ProbeManager {
	return NewProbeManagerWithClock(version, clock.Real())
}

// NewProbeManagerWithClock creates a ProbeManager whose uptime follows clk.
func NewProbeManagerWithClock(version string, clk clock.Clock) *ProbeManager {
	return &ProbeManager{
		Manager:   NewManager(),
		clock:     clk,
		startTime: clk.Now(),
		version:   version,
	}
}

// MarkInitialized lets the startup probe pass.
func (pm *ProbeManager) MarkInitialized() { pm.initialized.Store(true) }

// MarkShutdown makes readiness fail.
func (pm *ProbeManager) MarkShutdown() { pm.inShutdown.Store(true) }

func (pm *ProbeManager) IsInitialized() bool  { return pm.initialized.Load() }
func (pm *ProbeManager) IsShuttingDown() bool { return pm.inShutdown.Load() }
func (pm *ProbeManager) Version() string      { return pm.version }

// Uptime returns how long the process has been running.
func (pm *ProbeManager) Uptime() time.Duration {
	return pm.clock.Now().Sub(pm.startTime)
}

// ProbeResult is the JSON body of a probe endpoint.
type ProbeResult struct {
	Status    Status             `json:"status"`
	Version   string             `json:"version,omitempty"`
	Uptime    string             `json:"uptime,omitempty"`
	Checks    map[string]*Result `json:"checks,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func (pm *ProbeManager) result(status Status, checks map[string]*Result) *ProbeResult {
	return &ProbeResult{
		Status:    status,
		Version:   pm.version,
		Uptime:    pm.Uptime().Round(time.Second).String(),
		Checks:    checks,
		Timestamp: pm.clock.Now(),
	}
}

// CheckLiveness reports whether the process is responsive. Dependencies
// are not checked. A process that is shutting down is degraded, not dead.
func (pm *ProbeManager) CheckLiveness(_ context.Context) *ProbeResult {
	status := StatusHealthy
	if pm.IsShuttingDown() {
		status = StatusDegraded
	}
	return pm.result(status, nil)
}

// CheckReadiness runs every registered check. It fails immediately while
// shutting down.
func (pm *ProbeManager) CheckReadiness(ctx context.Context) *ProbeResult {
	if pm.IsShuttingDown() {
		return pm.result(StatusUnhealthy, nil)
	}
	checks := pm.Manager.Check(ctx)
	return pm.result(pm.Manager.OverallStatus(checks), checks)
}

// CheckStartup passes once MarkInitialized was called.
func (pm *ProbeManager) CheckStartup(_ context.Context) *ProbeResult {
	status := StatusUnhealthy
	if pm.IsInitialized() {
		status = StatusHealthy
	}
	return pm.result(status, nil)
}
