// Package health reports connectivity and diagnostics for the shared keyed
// store, for use by the liveness endpoints of the worker fleet.
package health

import (
	"context"

	appLogger "github.com/contractbridge/coordination/pkg/logger"
	"github.com/contractbridge/coordination/pkg/store"
)

type (
	Probe struct {
		store  *store.Client
		logger appLogger.Logger
	}

	// Status is the summary shape surfaced by worker health endpoints.
	Status struct {
		Healthy bool   `json:"healthy"`
		Store   string `json:"store"`
	}
)

func NewProbe(client *store.Client, logger appLogger.Logger) *Probe {
	return &Probe{
		store:  client,
		logger: logger.WithComponent("health"),
	}
}

// IsHealthy checks whether the store answers a ping within the probe's
// internal timeout.
func (p *Probe) IsHealthy(ctx context.Context) bool {
	return p.store.IsHealthy(ctx)
}

// Report summarizes store connectivity for a health endpoint.
func (p *Probe) Report(ctx context.Context) Status {
	if p.IsHealthy(ctx) {
		return Status{Healthy: true, Store: "connected"}
	}

	return Status{Healthy: false, Store: "disconnected"}
}

// Diagnostics returns the store's server info string alongside connection
// pool counters.
func (p *Probe) Diagnostics(ctx context.Context) (map[string]any, error) {
	diagnostics := make(map[string]any)

	info, err := p.store.Info(ctx, "memory", "stats", "clients")
	if err != nil {
		return nil, err
	}

	diagnostics["server_info"] = info

	poolStats := p.store.PoolStats()
	diagnostics["pool_stats"] = map[string]any{
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
		"timeouts":    poolStats.Timeouts,
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
		"stale_conns": poolStats.StaleConns,
	}

	return diagnostics, nil
}
