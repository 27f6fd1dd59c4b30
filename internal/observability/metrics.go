package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects engine, tool, and cache counters for the /metrics
// endpoint exposed by the gateway.
type Metrics struct {
	// EngineRuns counts agent runs by engine and status (success|error).
	EngineRuns *prometheus.CounterVec

	// EngineIterations observes iterations per run.
	EngineIterations prometheus.Histogram

	// LLMTokens tracks token consumption by model and type (prompt|completion).
	LLMTokens *prometheus.CounterVec

	// ToolExecutions counts tool invocations by tool name and status.
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds by tool name.
	ToolDuration *prometheus.HistogramVec

	// CacheLookups counts semantic cache lookups by result (hit|miss).
	CacheLookups *prometheus.CounterVec

	// WorkflowSteps counts workflow step outcomes by status.
	WorkflowSteps *prometheus.CounterVec
}

// NewMetrics registers grip's metrics with the given registerer. Passing
// nil uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EngineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grip_engine_runs_total",
			Help: "Agent runs by engine and status.",
		}, []string{"engine", "status"}),
		EngineIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "grip_engine_iterations",
			Help:    "LLM-tool iterations per agent run.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grip_llm_tokens_total",
			Help: "Token consumption by model and type.",
		}, []string{"model", "type"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grip_tool_executions_total",
			Help: "Tool invocations by name and status.",
		}, []string{"tool", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grip_tool_duration_seconds",
			Help:    "Tool execution time in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grip_semantic_cache_lookups_total",
			Help: "Semantic cache lookups by result.",
		}, []string{"result"}),
		WorkflowSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grip_workflow_steps_total",
			Help: "Workflow step outcomes by status.",
		}, []string{"status"}),
	}
}
