// Package tracing wraps OpenTelemetry span creation for the client.
package tracing

import (
	"context"
	"sync/atomic"

	"github.com/lcx/gameclient/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultTracerName is the instrumentation scope used when none is configured.
const DefaultTracerName = "github.com/lcx/gameclient"

var (
	_enabled  atomic.Bool
	_name     atomic.Pointer[string]
	_provider atomic.Pointer[trace.TracerProvider]
	_noop     = noop.NewTracerProvider().Tracer(DefaultTracerName)
)

func init() {
	name := DefaultTracerName
	_name.Store(&name)
}

// Apply switches tracing according to cfg.
func Apply(cfg *TracerConfig) {
	if cfg == nil {
		return
	}
	name := cfg.TracerName
	if name == "" {
		name = DefaultTracerName
	}
	_name.Store(&name)
	_enabled.Store(cfg.Enabled)
}

// Enabled reports whether spans are being created.
func Enabled() bool {
	return _enabled.Load()
}

// SetTracerProvider overrides the otel global provider for this package.
// A nil provider restores the global one.
func SetTracerProvider(tp trace.TracerProvider) {
	if tp == nil {
		_provider.Store(nil)
		return
	}
	_provider.Store(&tp)
}

func tracer() trace.Tracer {
	if !_enabled.Load() {
		return _noop
	}
	if tp := _provider.Load(); tp != nil {
		return (*tp).Tracer(*_name.Load())
	}
	return otel.Tracer(*_name.Load())
}

// StartSpan starts a span named name as a child of any span in ctx. The
// caller must End the returned span.
func StartSpan(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
}

// InitTracing loads the "tracing" configuration and follows its reloads. A
// missing configuration leaves tracing disabled.
func InitTracing(configMgr config.ConfigManager) error {
	cfg := DefaultTracerConfig()
	if configMgr == nil {
		Apply(&cfg)
		return nil
	}
	if err := configMgr.LoadConfig("tracing", &cfg); err != nil {
		cfg = DefaultTracerConfig()
	}
	Apply(&cfg)
	configMgr.AddChangeListener(&tracingConfigListener{})
	return nil
}

type tracingConfigListener struct{}

// OnConfigChanged implements config.ConfigChangeListener.
func (l *tracingConfigListener) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "tracing" {
		return nil
	}
	newCfg, ok := newConfig.(*TracerConfig)
	if !ok {
		return nil
	}
	Apply(newCfg)
	return nil
}
