package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hieutrtr/ragforge/config"
)

// Telemetry records turn, task and retrieval events. Counters are kept both
// in memory (for reports) and as Prometheus collectors (for /metrics). Each
// instance owns its registry so tests can construct instances freely.
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	metrics *Metrics
	mu      sync.RWMutex

	registry        *prometheus.Registry
	turnsTotal      *prometheus.CounterVec
	tasksTotal      *prometheus.CounterVec
	turnDuration    prometheus.Histogram
	llmLatency      prometheus.Histogram
	retrievalCounts *prometheus.CounterVec
}

// Metrics holds aggregate performance metrics.
type Metrics struct {
	// Turn metrics
	TotalTurns      int64
	SufficientTurns int64
	FailedTurns     int64
	AverageTurnTime time.Duration

	// Task metrics, keyed by capability type
	TaskExecutions   map[string]int64
	TaskSuccessRates map[string]float64
	TaskAverageTimes map[string]time.Duration

	// LLM metrics
	LLMRequests       int64
	LLMAverageLatency time.Duration

	// Retrieval stage metrics
	QueriesExpanded    int64
	DocumentsRetrieved int64
	DocumentsFused     int64
	DocumentsFinal     int64
}

// TurnEvent represents one completed answering turn.
type TurnEvent struct {
	ID           string
	Question     string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Sufficient   bool
	Error        string
	TasksPlanned int
	ToolsUsed    []string
}

// TaskEvent represents one capability execution inside a turn.
type TaskEvent struct {
	ID       string
	TaskType string
	Duration time.Duration
	Success  bool
	Error    string
}

// RetrievalEvent represents one pass through the retrieval pipeline.
type RetrievalEvent struct {
	ID             string
	Query          string
	ExpandedCount  int
	RetrievedCount int
	FusedCount     int
	FinalCount     int
	Degraded       bool
	Duration       time.Duration
}

// LLMEvent represents one text-generation call.
type LLMEvent struct {
	Operation string
	Duration  time.Duration
	Success   bool
}

// NewTelemetry creates a new telemetry instance.
func NewTelemetry(config config.TelemetryConfig) *Telemetry {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	t := &Telemetry{
		config: config,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			TaskExecutions:   make(map[string]int64),
			TaskSuccessRates: make(map[string]float64),
			TaskAverageTimes: make(map[string]time.Duration),
		},
		registry: registry,
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ragforge_turns_total",
			Help: "Answering turns processed, labeled by outcome.",
		}, []string{"outcome"}),
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ragforge_tasks_total",
			Help: "Capability tasks executed, labeled by type and status.",
		}, []string{"type", "status"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragforge_turn_duration_seconds",
			Help:    "End-to-end turn latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		llmLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragforge_llm_latency_seconds",
			Help:    "Latency of individual LLM calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		retrievalCounts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ragforge_retrieval_documents_total",
			Help: "Documents flowing through each retrieval stage.",
		}, []string{"stage"}),
	}

	if config.Enabled && config.PeriodicLogs {
		go t.startMetricsCollection()
	}

	return t
}

// Registry exposes the Prometheus registry for the /metrics endpoint.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// RecordTurnEvent records a complete answering turn.
func (t *Telemetry) RecordTurnEvent(ctx context.Context, event TurnEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalTurns++
	outcome := "insufficient"
	switch {
	case event.Error != "":
		t.metrics.FailedTurns++
		outcome = "error"
	case event.Sufficient:
		t.metrics.SufficientTurns++
		outcome = "sufficient"
	}
	t.turnsTotal.WithLabelValues(outcome).Inc()
	t.turnDuration.Observe(event.Duration.Seconds())

	if t.metrics.TotalTurns == 1 {
		t.metrics.AverageTurnTime = event.Duration
	} else {
		total := t.metrics.AverageTurnTime * time.Duration(t.metrics.TotalTurns-1)
		t.metrics.AverageTurnTime = (total + event.Duration) / time.Duration(t.metrics.TotalTurns)
	}

	t.logger.Printf("Turn Event: ID=%s, Sufficient=%t, Duration=%v, Tasks=%d, Tools=%v",
		event.ID, event.Sufficient, event.Duration, event.TasksPlanned, event.ToolsUsed)
}

// RecordTaskEvent records one capability execution.
func (t *Telemetry) RecordTaskEvent(ctx context.Context, event TaskEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TaskExecutions[event.TaskType]++

	currentSuccess := t.metrics.TaskSuccessRates[event.TaskType] * float64(t.metrics.TaskExecutions[event.TaskType]-1)
	if event.Success {
		currentSuccess += 1.0
	}
	executions := t.metrics.TaskExecutions[event.TaskType]
	t.metrics.TaskSuccessRates[event.TaskType] = currentSuccess / float64(executions)

	currentAvg := t.metrics.TaskAverageTimes[event.TaskType]
	if executions == 1 {
		t.metrics.TaskAverageTimes[event.TaskType] = event.Duration
	} else {
		total := currentAvg * time.Duration(executions-1)
		t.metrics.TaskAverageTimes[event.TaskType] = (total + event.Duration) / time.Duration(executions)
	}

	status := "ok"
	if !event.Success {
		status = "error"
	}
	t.tasksTotal.WithLabelValues(event.TaskType, status).Inc()

	t.logger.Printf("Task Event: Type=%s, Success=%t, Duration=%v",
		event.TaskType, event.Success, event.Duration)
}

// RecordRetrievalEvent records one retrieval pipeline pass.
func (t *Telemetry) RecordRetrievalEvent(ctx context.Context, event RetrievalEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.QueriesExpanded += int64(event.ExpandedCount)
	t.metrics.DocumentsRetrieved += int64(event.RetrievedCount)
	t.metrics.DocumentsFused += int64(event.FusedCount)
	t.metrics.DocumentsFinal += int64(event.FinalCount)

	t.retrievalCounts.WithLabelValues("retrieved").Add(float64(event.RetrievedCount))
	t.retrievalCounts.WithLabelValues("fused").Add(float64(event.FusedCount))
	t.retrievalCounts.WithLabelValues("final").Add(float64(event.FinalCount))

	t.logger.Printf("Retrieval Event: ID=%s, Expanded=%d, Retrieved=%d, Fused=%d, Final=%d, Degraded=%t",
		event.ID, event.ExpandedCount, event.RetrievedCount, event.FusedCount, event.FinalCount, event.Degraded)
}

// RecordLLMEvent records one LLM call's latency.
func (t *Telemetry) RecordLLMEvent(ctx context.Context, event LLMEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.LLMRequests++
	if t.metrics.LLMRequests == 1 {
		t.metrics.LLMAverageLatency = event.Duration
	} else {
		total := t.metrics.LLMAverageLatency * time.Duration(t.metrics.LLMRequests-1)
		t.metrics.LLMAverageLatency = (total + event.Duration) / time.Duration(t.metrics.LLMRequests)
	}
	t.llmLatency.Observe(event.Duration.Seconds())
}

// GetMetrics returns a snapshot of current metrics.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := *t.metrics
	metrics.TaskExecutions = make(map[string]int64)
	metrics.TaskSuccessRates = make(map[string]float64)
	metrics.TaskAverageTimes = make(map[string]time.Duration)
	for k, v := range t.metrics.TaskExecutions {
		metrics.TaskExecutions[k] = v
	}
	for k, v := range t.metrics.TaskSuccessRates {
		metrics.TaskSuccessRates[k] = v
	}
	for k, v := range t.metrics.TaskAverageTimes {
		metrics.TaskAverageTimes[k] = v
	}
	return metrics
}

func (t *Telemetry) startMetricsCollection() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		metrics := t.GetMetrics()
		t.logger.Printf("Metrics Snapshot: Turns=%d/%d, AvgTime=%v, Retrieved=%d, Final=%d",
			metrics.SufficientTurns, metrics.TotalTurns,
			metrics.AverageTurnTime, metrics.DocumentsRetrieved, metrics.DocumentsFinal)
	}
}

// Shutdown logs a final report.
func (t *Telemetry) Shutdown() {
	metrics := t.GetMetrics()
	if metrics.TotalTurns == 0 {
		return
	}

	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Turns: %d", metrics.TotalTurns)
	t.logger.Printf("  Sufficient Rate: %.2f%%", float64(metrics.SufficientTurns)/float64(metrics.TotalTurns)*100)
	t.logger.Printf("  Average Turn Time: %v", metrics.AverageTurnTime)
	for taskType, executions := range metrics.TaskExecutions {
		t.logger.Printf("  %s: %d executions, %.2f%% success, %v avg time",
			taskType, executions, metrics.TaskSuccessRates[taskType]*100, metrics.TaskAverageTimes[taskType])
	}
}

// GetPerformanceReport returns a human-readable performance report.
func (t *Telemetry) GetPerformanceReport() string {
	metrics := t.GetMetrics()
	if metrics.TotalTurns == 0 {
		return "no turns recorded"
	}

	report := fmt.Sprintf(`=== PERFORMANCE REPORT ===
Turns:
  Total: %d
  Sufficient: %d (%.2f%%)
  Failed: %d
  Average Turn Time: %v

Retrieval:
  Queries Expanded: %d
  Documents Retrieved: %d
  Documents Fused: %d
  Documents Final: %d

Tasks:
`, metrics.TotalTurns, metrics.SufficientTurns,
		float64(metrics.SufficientTurns)/float64(metrics.TotalTurns)*100,
		metrics.FailedTurns, metrics.AverageTurnTime,
		metrics.QueriesExpanded, metrics.DocumentsRetrieved,
		metrics.DocumentsFused, metrics.DocumentsFinal)

	for taskType, executions := range metrics.TaskExecutions {
		report += fmt.Sprintf("  %s: %d executions, %.2f%% success, %v avg time\n",
			taskType, executions, metrics.TaskSuccessRates[taskType]*100, metrics.TaskAverageTimes[taskType])
	}

	return report
}
