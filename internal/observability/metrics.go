package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_interpreter_active_sessions",
		Help: "Number of active interpretation sessions",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_interpreter_sessions_total",
		Help: "Total number of sessions started",
	}, []string{"backend"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_interpreter_session_duration_seconds",
		Help:    "Duration of interpretation sessions in seconds",
		Buckets: []float64{5, 30, 60, 300, 900, 1800, 3600},
	})

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_interpreter_turns_total",
		Help: "Turns by outcome (completed, empty, failed, dropped)",
	}, []string{"backend", "outcome"})

	fragmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_interpreter_fragments_total",
		Help: "Transcript fragments received",
	}, []string{"kind"}) // kind: "input" or "output"

	// Buffered-turn request metrics
	turnRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_interpreter_turn_requests_total",
		Help: "Total number of buffered-turn requests",
	}, []string{"status"})

	turnRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_interpreter_turn_request_latency_seconds",
		Help:    "Buffered-turn request latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Playback metrics
	playbackScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_interpreter_playback_scheduled_seconds_total",
		Help: "Seconds of synthesized speech scheduled for playback",
	})

	playbackUnderruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_interpreter_playback_underruns_total",
		Help: "Chunks that arrived after the previous chunk finished playing",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_interpreter_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "live_interpreter_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_interpreter_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_interpreter_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_interpreter_frames_dropped_total",
		Help: "Captured frames dropped because the consumer lagged",
	}, []string{"stage"})

	// Subtitle stream metrics
	subtitleClientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_interpreter_subtitle_clients_dropped_total",
		Help: "Subtitle clients disconnected for falling behind",
	})
)

// Metrics tracks metrics for a single session. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	sessionID string
	backend   string
	startTime time.Time

	mu       sync.Mutex
	started  bool
	finished bool
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID, backend string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		backend:   backend,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	activeSessions.Inc()
	totalSessions.WithLabelValues(m.backend).Inc()
}

// RecordSessionEnd records the end of a session; repeated calls are ignored
func (m *Metrics) RecordSessionEnd() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.finished {
		return
	}
	m.finished = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurn records a completed turn outcome
func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	turnsTotal.WithLabelValues(m.backend, outcome).Inc()
}

// RecordFragment records an incoming transcript fragment
func (m *Metrics) RecordFragment(kind string) {
	if m == nil {
		return
	}
	fragmentsTotal.WithLabelValues(kind).Inc()
}

// RecordTurnRequest records a buffered-turn request and its latency
func (m *Metrics) RecordTurnRequest(start time.Time, success bool) {
	if m == nil {
		return
	}
	turnRequestLatency.Observe(time.Since(start).Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	turnRequests.WithLabelValues(status).Inc()
}

// RecordPlayback records a scheduled playback chunk
func (m *Metrics) RecordPlayback(d time.Duration, underrun bool) {
	if m == nil {
		return
	}
	playbackScheduled.Add(d.Seconds())
	if underrun {
		playbackUnderruns.Inc()
	}
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	if m == nil {
		return
	}
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordFrameDropped records a frame dropped at the given pipeline stage
func (m *Metrics) RecordFrameDropped(stage string) {
	if m == nil {
		return
	}
	framesDropped.WithLabelValues(stage).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// RecordHubDrop counts a subtitle client dropped for being too slow
func RecordHubDrop() {
	subtitleClientsDropped.Inc()
}
