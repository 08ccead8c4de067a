package service

import (
	"context"
	"time"
)

// healthLoop refreshes component health and core metrics until ctx ends.
func (r *Runtime) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	r.pollHealth()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollHealth()
		}
	}
}

// pollHealth pushes every component's health into the monitor and mirrors
// the process and broker state into the core metrics.
func (r *Runtime) pollHealth() {
	core := r.registry.CoreMetrics()

	for _, m := range r.components {
		status := m.comp.Health()
		r.monitor.Set(m.name, status)
		core.RecordComponentHealth(m.name, status.IsHealthy())
	}

	if r.running.Load() {
		core.SetUptime(time.Since(r.startTime))
	}

	connected := r.client.IsHealthy()
	core.RecordNATSStatus(connected, int(r.client.Status()))
	if snap := r.client.Snapshot(); snap != nil {
		core.SetNATSReconnects(snap.Reconnects)
	}
	if rtt, err := r.client.RTT(); err == nil {
		core.RecordNATSRTT(rtt)
	}

	if connected {
		r.monitor.SetHealthy("nats", "Connected to broker")
	} else {
		r.monitor.SetUnhealthy("nats", "Broker connection down")
	}
}
