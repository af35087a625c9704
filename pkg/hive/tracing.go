package hive

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/bamlan/hive/internal/httpmsg"
)

// TracingConfig defines the configuration options for the OpenTelemetry
// tracing middleware.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "hive")
	TracerName string
	// SkipPaths lists paths to skip tracing (e.g., health checks)
	SkipPaths []string
	// Propagator is the propagation format (default: TraceContext)
	Propagator propagation.TextMapPropagator
}

// DefaultTracingConfig returns a TracingConfig with sensible defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		TracerName: "hive",
		SkipPaths:  []string{"/health", "/metrics"},
		Propagator: propagation.TraceContext{},
	}
}

// Tracing returns a middleware that traces requests with OpenTelemetry.
func Tracing() Middleware {
	return TracingWithConfig(DefaultTracingConfig())
}

// TracingWithConfig returns a tracing middleware with custom configuration.
// It starts a span per request, propagating any parent context from the
// request headers, and ends it once the final status is known.
func TracingWithConfig(config TracingConfig) Middleware {
	if config.TracerName == "" {
		config.TracerName = "hive"
	}
	if config.Propagator == nil {
		config.Propagator = propagation.TraceContext{}
	}
	skipMap := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipMap[path] = true
	}
	tracer := otel.Tracer(config.TracerName)

	return func(c *Context) int {
		if skipMap[c.Path()] {
			return StatusNext
		}
		parent := config.Propagator.Extract(context.Background(), headerCarrier{h: &c.Request.Headers})
		_, span := tracer.Start(parent, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.target", c.Path()),
				attribute.String("http.scheme", c.Request.Scheme),
			),
		)
		c.Defer(func(c *Context) {
			status := c.Response.Status
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= 500 {
				span.SetStatus(codes.Error, c.Response.StatusMessage())
			}
			span.End()
		})
		return StatusNext
	}
}

// headerCarrier adapts request headers to the propagation carrier interface.
type headerCarrier struct {
	h *httpmsg.Headers
}

func (hc headerCarrier) Get(key string) string { return hc.h.Get(key) }

func (hc headerCarrier) Set(key, value string) { hc.h.Set(key, value) }

func (hc headerCarrier) Keys() []string {
	all := hc.h.All()
	keys := make([]string, 0, len(all))
	for _, kv := range all {
		keys = append(keys, kv[0])
	}
	return keys
}
