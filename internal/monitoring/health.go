package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

// Health states
const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const defaultCheckTimeout = 5 * time.Second

// HealthCheck is the result of one component check
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	OverallStatus HealthStatus           `json:"overall_status"`
	Timestamp     time.Time              `json:"timestamp"`
	Version       string                 `json:"version"`
	Uptime        string                 `json:"uptime"`
	Checks        map[string]HealthCheck `json:"checks"`
	SystemInfo    map[string]interface{} `json:"system_info"`
}

// HealthChecker checks one component. A nil error means healthy.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker
type CheckFunc func(ctx context.Context) error

// CheckHealth implements HealthChecker
func (f CheckFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthMonitor runs the registered health checks
type HealthMonitor struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	checks    map[string]HealthChecker
	critical  map[string]bool
	version   string
	startTime time.Time
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(logger *slog.Logger, version string) *HealthMonitor {
	return &HealthMonitor{
		logger:    logger,
		checks:    make(map[string]HealthChecker),
		critical:  make(map[string]bool),
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterChecker registers a check. A failing critical check makes the
// service unhealthy; any other failing check degrades it.
func (hm *HealthMonitor) RegisterChecker(name string, checker HealthChecker, critical bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = checker
	hm.critical[name] = critical
	hm.logger.Info("Registered health checker", "checker", name, "critical", critical)
}

// RunHealthChecks runs all registered checks
func (hm *HealthMonitor) RunHealthChecks(ctx context.Context) HealthReport {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	report := HealthReport{
		OverallStatus: HealthStatusHealthy,
		Timestamp:     time.Now(),
		Version:       hm.version,
		Uptime:        time.Since(hm.startTime).Round(time.Second).String(),
		Checks:        make(map[string]HealthCheck, len(names)),
		SystemInfo:    collectSystemInfo(),
	}

	for _, name := range names {
		hm.mu.RLock()
		checker, critical := hm.checks[name], hm.critical[name]
		hm.mu.RUnlock()

		checkCtx, cancel := context.WithTimeout(ctx, defaultCheckTimeout)
		start := time.Now()
		err := checker.CheckHealth(checkCtx)
		cancel()

		check := HealthCheck{
			Name:        name,
			Status:      HealthStatusHealthy,
			LastChecked: time.Now(),
			Duration:    time.Since(start),
		}
		if err != nil {
			check.Message = fmt.Sprintf("Health check failed: %v", err)
			check.Status = HealthStatusDegraded
			if critical {
				check.Status = HealthStatusUnhealthy
			}
			hm.logger.Warn("Health check failed", "checker", name, "error", err)
		}
		report.Checks[name] = check

		switch {
		case check.Status == HealthStatusUnhealthy:
			report.OverallStatus = HealthStatusUnhealthy
		case check.Status == HealthStatusDegraded && report.OverallStatus == HealthStatusHealthy:
			report.OverallStatus = HealthStatusDegraded
		}
	}

	return report
}

func collectSystemInfo() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"goroutines":   runtime.NumGoroutine(),
		"num_cpu":      runtime.NumCPU(),
		"allocated_mb": m.Alloc / 1024 / 1024,
		"gc_count":     m.NumGC,
	}
}

// ServeHTTP writes the health report. Unhealthy answers 503.
func (hm *HealthMonitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := hm.RunHealthChecks(r.Context())

	statusCode := http.StatusOK
	if report.OverallStatus == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		hm.logger.Error("Failed to encode health response", "error", err)
	}
}
