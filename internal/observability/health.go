package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck represents a single health check
type HealthCheck struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
}

// HealthCheckFunc runs one check. The context carries the check timeout.
type HealthCheckFunc func(ctx context.Context) HealthCheck

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  HealthStatus  `json:"status"`
	Checks  []HealthCheck `json:"checks"`
	Uptime  float64       `json:"uptime_seconds"`
	Version string        `json:"version"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready   bool          `json:"ready"`
	Checks  []HealthCheck `json:"checks"`
	Message string        `json:"message,omitempty"`
}

var (
	healthChecks   = make(map[string]HealthCheckFunc)
	healthChecksMu sync.RWMutex
	startTime      = time.Now()
	appVersion     = "dev"
)

// RegisterHealthCheck registers a health check function
func RegisterHealthCheck(name string, check HealthCheckFunc) {
	healthChecksMu.Lock()
	defer healthChecksMu.Unlock()
	healthChecks[name] = check
}

// UnregisterHealthCheck removes a health check
func UnregisterHealthCheck(name string) {
	healthChecksMu.Lock()
	defer healthChecksMu.Unlock()
	delete(healthChecks, name)
}

// PingCheck turns a Ping method into a health check. A failing ping marks
// the check unhealthy.
func PingCheck(name string, ping func(ctx context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) HealthCheck {
		check := HealthCheck{Name: name, Status: HealthStatusHealthy, LastChecked: time.Now()}
		if err := ping(ctx); err != nil {
			check.Status = HealthStatusUnhealthy
			check.Message = err.Error()
		}
		return check
	}
}

// SetVersion sets the application version
func SetVersion(version string) {
	appVersion = version
}

func runHealthChecks(ctx context.Context) []HealthCheck {
	healthChecksMu.RLock()
	names := make([]string, 0, len(healthChecks))
	fns := make(map[string]HealthCheckFunc, len(healthChecks))
	for name, fn := range healthChecks {
		names = append(names, name)
		fns[name] = fn
	}
	healthChecksMu.RUnlock()

	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	checks := make([]HealthCheck, 0, len(names))
	for _, name := range names {
		check := fns[name](ctx)
		if check.Name == "" {
			check.Name = name
		}
		checks = append(checks, check)
	}
	return checks
}

// CheckHealth runs every registered check and folds them into one status.
// Any unhealthy check makes the whole process unhealthy.
func CheckHealth(ctx context.Context) (HealthStatus, []HealthCheck) {
	checks := runHealthChecks(ctx)
	overallStatus := HealthStatusHealthy

	for _, check := range checks {
		if check.Status == HealthStatusUnhealthy {
			overallStatus = HealthStatusUnhealthy
		} else if check.Status == HealthStatusDegraded && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}
	return overallStatus, checks
}

// HealthHandler returns the health check HTTP handler
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus, checks := CheckHealth(r.Context())

		response := HealthResponse{
			Status:  overallStatus,
			Checks:  checks,
			Uptime:  time.Since(startTime).Seconds(),
			Version: appVersion,
		}

		w.Header().Set("Content-Type", "application/json")
		if overallStatus == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// ReadinessHandler returns the readiness check HTTP handler
func ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := runHealthChecks(r.Context())
		ready := true
		var message string

		for _, check := range checks {
			if check.Status == HealthStatusUnhealthy {
				ready = false
				message = "One or more health checks failed"
			}
		}

		response := ReadinessResponse{
			Ready:   ready,
			Checks:  checks,
			Message: message,
		}

		w.Header().Set("Content-Type", "application/json")
		if ready {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// LivenessHandler returns a simple liveness check
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(startTime).Seconds(),
		})
	}
}

// RegisterDefaultHealthChecks registers the process-level checks
func RegisterDefaultHealthChecks() {
	RegisterHealthCheck("uptime", func(ctx context.Context) HealthCheck {
		return HealthCheck{
			Name:        "uptime",
			Status:      HealthStatusHealthy,
			Message:     time.Since(startTime).String(),
			LastChecked: time.Now(),
		}
	})
}
