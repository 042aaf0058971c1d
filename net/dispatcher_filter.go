package net

import (
	"context"
	"strconv"
	"time"

	"github.com/lcx/gameclient/metrics"
	"github.com/lcx/gameclient/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DispatcherFilterHandleFunc is the next step of a filter chain.
type DispatcherFilterHandleFunc func(d *Delivery) error

// DispatcherFilter intercepts a delivery before its handler runs. A filter
// calls f to continue the chain or returns without calling it to drop the
// packet.
type DispatcherFilter func(d *Delivery, f DispatcherFilterHandleFunc) error

// DispatcherFilterChain runs filters in order, then the final handler.
type DispatcherFilterChain []DispatcherFilter

// Handle runs d through the chain and then f.
func (fc DispatcherFilterChain) Handle(d *Delivery, f DispatcherFilterHandleFunc) error {
	if len(fc) == 0 {
		return f(d)
	}
	return fc[0](d, func(d *Delivery) error {
		return fc[1:].Handle(d, f)
	})
}

// msgFilter drops packets whose id is on the configured block list.
func (dp *Dispatcher) msgFilter(d *Delivery, f DispatcherFilterHandleFunc) error {
	if _, ok := dp.msgFilterMap[d.PacketID]; !ok {
		return f(d)
	}
	metrics.IncrCounterWithDimGroup("net", "packets_filtered_total", 1, metrics.Dimension{
		"transport": string(d.Transport),
	})
	return nil
}

// observeFilter records a span, a latency sample and an outcome counter for
// every dispatched packet.
func observeFilter(d *Delivery, f DispatcherFilterHandleFunc) error {
	_, span := tracing.StartSpan(context.Background(), "gameclient.dispatch", trace.SpanKindConsumer,
		attribute.Int("packet.id", int(d.PacketID)),
		attribute.String("packet.transport", string(d.Transport)),
	)
	defer span.End()

	start := time.Now()
	err := f(d)
	metrics.RecordStopwatchWithGroup("net", "dispatch_seconds", time.Since(start))

	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
	}
	metrics.IncrCounterWithDimGroup("net", "packets_dispatched_total", 1, metrics.Dimension{
		"transport": string(d.Transport),
		"result":    result,
		"id":        strconv.Itoa(int(d.PacketID)),
	})
	return err
}
