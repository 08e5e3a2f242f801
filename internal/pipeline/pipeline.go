// Package pipeline runs content through an ordered list of security modules
// and combines their results into a single verdict.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tkingovr/aifirewall/internal/module"
)

// DefaultTimeout is the per-module time budget.
const DefaultTimeout = 5 * time.Second

const tracerName = "github.com/tkingovr/aifirewall/internal/pipeline"

// Pipeline evaluates submissions against a fixed module list. It is safe for
// concurrent use; modules must be too.
type Pipeline struct {
	modules          []module.Module
	timeout          time.Duration
	blockImmediately bool
	logger           *slog.Logger
	metrics          *Metrics
	tracer           trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout sets the per-module time budget. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithBlockImmediately stops evaluation at the first denying module.
func WithBlockImmediately(on bool) Option {
	return func(p *Pipeline) {
		p.blockImmediately = on
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracer sets the tracer used for evaluation spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// New creates a pipeline running modules in the given order.
func New(modules []module.Module, opts ...Option) *Pipeline {
	p := &Pipeline{
		modules: append([]module.Module(nil), modules...),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// Modules returns the module names in evaluation order.
func (p *Pipeline) Modules() []string {
	names := make([]string, len(p.modules))
	for i, m := range p.modules {
		names[i] = m.Name()
	}
	return names
}

// Timeout returns the per-module time budget.
func (p *Pipeline) Timeout() time.Duration { return p.timeout }

// Evaluate runs the submission through every module and returns the
// verdict. It never returns nil. Module failures become fail-closed denies
// and are reported on Verdict.Err.
func (p *Pipeline) Evaluate(ctx context.Context, sub module.Submission) *Verdict {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "pipeline.evaluate", trace.WithAttributes(
		attribute.String("request.id", sub.RequestID),
		attribute.Int("pipeline.modules", len(p.modules)),
		attribute.Int("content.length", len(sub.Content)),
	))
	defer span.End()

	ctx = module.WithSubmission(ctx, sub)

	outcomes := make([]Outcome, 0, len(p.modules))
	current := sub.Content
	short := false

	for i, m := range p.modules {
		if err := ctx.Err(); err != nil {
			for _, rest := range p.modules[i:] {
				o := p.timeoutOutcome(rest.Name(), current, err)
				o.Skipped = true
				outcomes = append(outcomes, o)
			}
			p.logger.Warn("evaluation cancelled",
				"request_id", sub.RequestID,
				"skipped", len(p.modules)-i,
				"error", err,
			)
			break
		}

		o := p.runModule(ctx, m, current)
		outcomes = append(outcomes, o)

		if !o.Failed() && o.Result.ModifiedContent != nil {
			current = *o.Result.ModifiedContent
		}

		p.logger.Debug("module executed",
			"request_id", sub.RequestID,
			"module", o.Module,
			"allowed", o.Result.Allowed,
			"confidence", o.Result.Confidence,
			"rewrote", o.Result.ModifiedContent != nil,
			"duration", o.Duration,
		)

		if p.blockImmediately && !o.Result.Allowed {
			short = i < len(p.modules)-1
			break
		}
	}

	v := Aggregate(sub.Content, outcomes)
	v.ShortCircuited = short

	span.SetAttributes(
		attribute.Bool("verdict.allowed", v.Allowed),
		attribute.Float64("verdict.confidence", v.Confidence),
		attribute.Bool("verdict.short_circuited", v.ShortCircuited),
	)
	if v.Err != nil {
		span.RecordError(v.Err)
		span.SetStatus(codes.Error, v.Err.Error())
	}

	p.metrics.observe(v)
	if p.metrics != nil {
		p.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}

	return v
}

type reply struct {
	res module.Result
	err error
}

// runModule invokes one module under its own deadline. On timeout the module
// goroutine is abandoned; the buffered channel lets it finish and exit.
func (p *Pipeline) runModule(ctx context.Context, m module.Module, content string) Outcome {
	name := m.Name()
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "pipeline.module", trace.WithAttributes(
		attribute.String("module.name", name),
	))
	defer span.End()

	mctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: &PanicError{Value: r}}
			}
		}()
		res, err := m.Process(mctx, content)
		ch <- reply{res: res, err: err}
	}()

	var o Outcome
	select {
	case r := <-ch:
		o = p.settle(mctx, name, content, r)
	case <-mctx.Done():
		o = p.timeoutOutcome(name, content, mctx.Err())
	}
	o.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("module.outcome", outcomeLabel(&o)),
		attribute.Float64("module.confidence", o.Result.Confidence),
	)
	if o.Err != nil {
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, o.Err.Error())
		p.logger.Warn("module failed closed",
			"module", name,
			"error", o.Err,
		)
	}
	return o
}

func (p *Pipeline) settle(mctx context.Context, name, content string, r reply) Outcome {
	if r.err != nil {
		if mctx.Err() != nil && errors.Is(r.err, mctx.Err()) {
			return p.timeoutOutcome(name, content, r.err)
		}
		return internalOutcome(name, content, r.err)
	}

	res := r.res
	if math.IsNaN(res.Confidence) {
		return internalOutcome(name, content, errors.New("confidence is NaN"))
	}
	res.Confidence = clamp(res.Confidence)
	return Outcome{Module: name, Result: res, Input: content}
}

func (p *Pipeline) timeoutOutcome(name, content string, cause error) Outcome {
	return Outcome{
		Module: name,
		Result: module.Deny(1.0, ReasonTimeout),
		Err:    &ModuleTimeoutError{Module: name, Timeout: p.timeout, Err: cause},
		Input:  content,
	}
}

func internalOutcome(name, content string, cause error) Outcome {
	return Outcome{
		Module: name,
		Result: module.Deny(1.0, ReasonError),
		Err:    &ModuleInternalError{Module: name, Err: cause},
		Input:  content,
	}
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
