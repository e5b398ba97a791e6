package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Navigation metrics
	Navigations *prometheus.CounterVec

	// Script metrics
	ScriptsStarted   prometheus.Counter
	ScriptsCompleted *prometheus.CounterVec
	ScriptDuration   *prometheus.HistogramVec
	ScriptsRunning   prometheus.Gauge

	// Debugger metrics
	DebuggerSteps *prometheus.CounterVec

	// UI command metrics
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Window metrics
	WindowsActive prometheus.Gauge
	WindowsTotal  prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	TotalNavigations  int64   `json:"total_navigations"`
	Intercepted       int64   `json:"intercepted"`
	RunningScripts    int64   `json:"running_scripts"`
	ActiveWindows     int64   `json:"active_windows"`
	ActiveConnections int64   `json:"active_connections"`
	TotalDuration     float64 `json:"-"` // sum of all request durations
	RequestCount      int64   `json:"-"` // count for averaging
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peb_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "peb_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "peb_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "peb_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Navigation metrics
		Navigations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peb_navigations_total",
				Help: "Navigation requests by classified action",
			},
			[]string{"action"},
		),

		// Script metrics
		ScriptsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "peb_scripts_started_total",
				Help: "Total number of script invocations started",
			},
		),
		ScriptsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peb_scripts_completed_total",
				Help: "Script invocations by final status",
			},
			[]string{"status"},
		),
		ScriptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "peb_script_duration_seconds",
				Help:    "Script run time in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"status"},
		),
		ScriptsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "peb_scripts_running",
				Help: "Number of script invocations in flight",
			},
		),

		// Debugger metrics
		DebuggerSteps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peb_debugger_steps_total",
				Help: "Rendered debugger steps by join outcome",
			},
			[]string{"outcome"},
		),

		// UI command metrics
		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peb_ui_commands_total",
				Help: "UI commands by name and status",
			},
			[]string{"command", "status"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "peb_ui_command_duration_seconds",
				Help:    "UI command handling time in seconds",
				Buckets: []float64{.001, .01, .1, .5, 1, 5, 30, 120},
			},
			[]string{"command"},
		),

		// Window metrics
		WindowsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "peb_windows_active",
				Help: "Number of open windows",
			},
		),
		WindowsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "peb_windows_total",
				Help: "Total number of windows opened",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "peb_ws_connections",
				Help: "Number of active viewer connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peb_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "peb_uptime_seconds",
			Help: "Uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordNavigation counts a classified navigation.
func (m *Metrics) RecordNavigation(action string, intercepted bool) {
	m.Navigations.WithLabelValues(action).Inc()
	m.mu.Lock()
	m.snapshot.TotalNavigations++
	if intercepted {
		m.snapshot.Intercepted++
	}
	m.mu.Unlock()
}

// ScriptStarted records a spawned invocation.
func (m *Metrics) ScriptStarted() {
	m.ScriptsStarted.Inc()
	m.ScriptsRunning.Inc()
	m.mu.Lock()
	m.snapshot.RunningScripts++
	m.mu.Unlock()
}

// ScriptCompleted records the end of an invocation.
func (m *Metrics) ScriptCompleted(status string, duration time.Duration) {
	m.ScriptsCompleted.WithLabelValues(status).Inc()
	m.ScriptDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.ScriptsRunning.Dec()
	m.mu.Lock()
	if m.snapshot.RunningScripts > 0 {
		m.snapshot.RunningScripts--
	}
	m.mu.Unlock()
}

// DebuggerStep records a rendered debugger step.
func (m *Metrics) DebuggerStep(outcome string) {
	m.DebuggerSteps.WithLabelValues(outcome).Inc()
}

// RecordCommand records a handled UI command.
func (m *Metrics) RecordCommand(command, status string, duration time.Duration) {
	m.Commands.WithLabelValues(command, status).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SetWindowsActive sets the number of open windows
func (m *Metrics) SetWindowsActive(count int) {
	m.WindowsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveWindows = int64(count)
	m.mu.Unlock()
}

// IncWindowsTotal increments the opened windows counter
func (m *Metrics) IncWindowsTotal() {
	m.WindowsTotal.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}
