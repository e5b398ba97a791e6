package monitoring

import "time"

// GetSnapshot returns the current values for the JSON stats endpoint.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}

// AverageLatency returns the mean HTTP request duration.
func (s MetricsSnapshot) AverageLatency() time.Duration {
	if s.RequestCount == 0 {
		return 0
	}
	return time.Duration(s.TotalDuration / float64(s.RequestCount) * float64(time.Second))
}

// ErrorRate returns the share of HTTP requests that ended in 4xx or 5xx.
func (s MetricsSnapshot) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalErrors) / float64(s.TotalRequests)
}
