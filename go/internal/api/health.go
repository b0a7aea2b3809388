package api

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connectivity reports a long-lived connection's state.
type Connectivity interface {
	Connected() bool
}

type HealthStatus struct {
	Healthy           bool
	Sessions          int
	Waiting           int
	NATSConnected     bool
	DatabaseConnected bool
	Errors            []string
}

type HealthChecker struct {
	Env      string
	Version  string
	Pool     PoolService
	Sessions func() int
	// NATS and Database are nil when not configured.
	NATS     Connectivity
	Database Pinger
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	if h.Sessions != nil {
		status.Sessions = h.Sessions()
	}

	waiting, err := h.Pool.Count(ctx)
	if err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("matchmaking unavailable: %v", err))
	}
	status.Waiting = waiting

	if h.NATS != nil {
		status.NATSConnected = h.NATS.Connected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if h.Database != nil {
		if err := h.Database.Ping(ctx); err != nil {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		} else {
			status.DatabaseConnected = true
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	state := "ok"
	code := http.StatusOK
	if !status.Healthy {
		state = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":             state,
		"env":                h.Env,
		"version":            h.Version,
		"sessions":           status.Sessions,
		"waiting":            status.Waiting,
		"nats_connected":     status.NATSConnected,
		"database_connected": status.DatabaseConnected,
		"errors":             status.Errors,
	})
}
