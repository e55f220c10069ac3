package pipeline

import "time"

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := pipeline.New(reducer, st, emitter,
//	    pipeline.WithMaxSteps(100),
//	    pipeline.WithRetries(3),
//	    pipeline.WithNodeTimeout(2*time.Minute),
//	)
type Option func(*options)

type options struct {
	maxSteps    int
	retries     int
	retryDelay  time.Duration
	nodeTimeout time.Duration
	metrics     *Metrics
	costs       *CostTracker
}

func defaultOptions() options {
	return options{
		retryDelay: time.Second,
	}
}

// WithMaxSteps limits run execution to n steps. 0 means unlimited.
//
// Loops (gate -> revise -> gate) are fully supported; MaxSteps is the guard
// against a missing exit condition. Size it as depth times the expected
// iteration count: the SDLC workflow with a cap of 3 feedback rounds per
// gate fits comfortably in 100.
func WithMaxSteps(n int) Option {
	return func(o *options) { o.maxSteps = n }
}

// WithRetries sets how many times a node is re-executed when it returns a
// retryable error (see IsRetryable). 0 disables retries.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithRetryDelay sets the base delay between retry attempts. The delay grows
// linearly with the attempt number. Default 1s.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// WithNodeTimeout bounds each node execution. 0 (default) means no per-node
// deadline beyond the run context.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *options) { o.nodeTimeout = d }
}

// WithMetrics attaches a Prometheus metrics collector. The engine records
// step counts, latencies, retries and active runs on it.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCostTracker attaches an LLM cost tracker. The engine does not record
// usage itself; nodes reach it via Engine.Costs.
func WithCostTracker(t *CostTracker) Option {
	return func(o *options) { o.costs = t }
}
