package security

import (
	"fmt"
	"sync"
	"time"

	"securebus/busclock"
)

// maxAnomalyHistory bounds the retained anomaly records.
const maxAnomalyHistory = 256

// AnomalySeverity ranks a detected anomaly.
type AnomalySeverity int

const (
	SeverityLow AnomalySeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s AnomalySeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Anomaly kinds reported by CheckMetrics.
const (
	AnomalyHighErrorRate   = "HIGH_ERROR_RATE"
	AnomalyLowSuccessRate  = "LOW_SUCCESS_RATE"
	AnomalyHighLatency     = "HIGH_LATENCY"
	AnomalyConnectionSpike = "CONNECTION_SPIKE"
	AnomalyCacheMissSpike  = "CACHE_MISS_SPIKE"
)

// RemediationAction is the suggested response to an anomaly kind.
type RemediationAction string

const (
	RemediationClearCache       RemediationAction = "clear_cache"
	RemediationRelaxBreaker     RemediationAction = "relax_circuit_breaker"
	RemediationReduceLoad       RemediationAction = "reduce_concurrency"
	RemediationEnableRateLimits RemediationAction = "enable_rate_limiting"
	RemediationRebuildCache     RemediationAction = "rebuild_cache"
	RemediationLogAndAlert      RemediationAction = "log_and_alert"
)

// AnomalyThresholds are the detection trip points.
type AnomalyThresholds struct {
	HighErrorRate      float64
	LowSuccessRate     float64
	HighLatency        time.Duration
	ConnectionSpike    int
	CacheMissThreshold float64
}

// DefaultAnomalyThresholds returns the standard trip points.
func DefaultAnomalyThresholds() AnomalyThresholds {
	return AnomalyThresholds{
		HighErrorRate:      0.25,
		LowSuccessRate:     0.70,
		HighLatency:        500 * time.Millisecond,
		ConnectionSpike:    50,
		CacheMissThreshold: 0.30,
	}
}

// Anomaly is one detected deviation.
type Anomaly struct {
	Kind       string
	Severity   AnomalySeverity
	Timestamp  time.Time
	Details    string
	Remediated bool
}

// AnomalyStats counts detector activity.
type AnomalyStats struct {
	ChecksWithAnomalies uint64
	TotalAnomalies      uint64
	CriticalAnomalies   uint64
	RemediationsApplied uint64
}

// AnomalyDetector evaluates aggregate transport metrics against thresholds
// and keeps a bounded history of what it found.
type AnomalyDetector struct {
	clock busclock.Clock

	mu              sync.Mutex
	thresholds      AnomalyThresholds
	history         []Anomaly
	stats           AnomalyStats
	autoRemediation bool
}

// NewAnomalyDetector builds a detector with the default thresholds and
// auto-remediation hints enabled.
func NewAnomalyDetector(clock busclock.Clock) *AnomalyDetector {
	return &AnomalyDetector{
		clock:           busclock.MustClock(clock),
		thresholds:      DefaultAnomalyThresholds(),
		autoRemediation: true,
	}
}

// CheckMetrics evaluates one metrics snapshot. Rates are fractions in
// [0, 1]. It returns the anomalies detected in this check.
func (d *AnomalyDetector) CheckMetrics(errorRate, successRate float64, avgLatency time.Duration, connectionCount int, cacheHitRate float64) []Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	th := d.thresholds
	var detected []Anomaly

	if errorRate > th.HighErrorRate {
		detected = append(detected, Anomaly{
			Kind:      AnomalyHighErrorRate,
			Severity:  SeverityCritical,
			Timestamp: now,
			Details:   fmt.Sprintf("error rate %.2f%% over threshold %.2f%%", errorRate*100, th.HighErrorRate*100),
		})
	}
	if successRate < th.LowSuccessRate {
		detected = append(detected, Anomaly{
			Kind:      AnomalyLowSuccessRate,
			Severity:  SeverityHigh,
			Timestamp: now,
			Details:   fmt.Sprintf("success rate %.2f%% under threshold %.2f%%", successRate*100, th.LowSuccessRate*100),
		})
	}
	if avgLatency > th.HighLatency {
		detected = append(detected, Anomaly{
			Kind:      AnomalyHighLatency,
			Severity:  SeverityMedium,
			Timestamp: now,
			Details:   fmt.Sprintf("latency %v over threshold %v", avgLatency, th.HighLatency),
		})
	}
	if connectionCount > th.ConnectionSpike {
		detected = append(detected, Anomaly{
			Kind:      AnomalyConnectionSpike,
			Severity:  SeverityHigh,
			Timestamp: now,
			Details:   fmt.Sprintf("%d connections over threshold %d", connectionCount, th.ConnectionSpike),
		})
	}
	if missRate := 1.0 - cacheHitRate; missRate > th.CacheMissThreshold {
		detected = append(detected, Anomaly{
			Kind:      AnomalyCacheMissSpike,
			Severity:  SeverityMedium,
			Timestamp: now,
			Details:   fmt.Sprintf("cache miss rate %.2f%% over threshold %.2f%%", missRate*100, th.CacheMissThreshold*100),
		})
	}

	if len(detected) > 0 {
		d.stats.ChecksWithAnomalies++
	}
	for _, a := range detected {
		d.history = append(d.history, a)
		d.stats.TotalAnomalies++
		if a.Severity == SeverityCritical {
			d.stats.CriticalAnomalies++
		}
	}
	if overflow := len(d.history) - maxAnomalyHistory; overflow > 0 {
		d.history = append(d.history[:0:0], d.history[overflow:]...)
	}

	return detected
}

// RemediationFor maps an anomaly kind to its suggested response.
func (d *AnomalyDetector) RemediationFor(a Anomaly) RemediationAction {
	d.mu.Lock()
	d.stats.RemediationsApplied++
	d.mu.Unlock()

	switch a.Kind {
	case AnomalyHighErrorRate:
		return RemediationClearCache
	case AnomalyLowSuccessRate:
		return RemediationRelaxBreaker
	case AnomalyHighLatency:
		return RemediationReduceLoad
	case AnomalyConnectionSpike:
		return RemediationEnableRateLimits
	case AnomalyCacheMissSpike:
		return RemediationRebuildCache
	default:
		return RemediationLogAndAlert
	}
}

// Recent returns up to limit of the most recent anomalies, oldest first.
func (d *AnomalyDetector) Recent(limit int) []Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := 0
	if len(d.history) > limit {
		start = len(d.history) - limit
	}
	return append([]Anomaly(nil), d.history[start:]...)
}

// SetThresholds replaces the trip points.
func (d *AnomalyDetector) SetThresholds(th AnomalyThresholds) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.thresholds = th
}

// SetAutoRemediation toggles remediation hints.
func (d *AnomalyDetector) SetAutoRemediation(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoRemediation = enabled
}

// AutoRemediationEnabled reports the current toggle.
func (d *AnomalyDetector) AutoRemediationEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.autoRemediation
}

// Stats returns the detector counters.
func (d *AnomalyDetector) Stats() AnomalyStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
