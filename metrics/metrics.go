// Package metrics exposes the client's Prometheus metrics. Collectors are
// created lazily on first use and addressed by group and name, so call sites
// stay one-liners:
//
//	metrics.IncrCounterWithGroup("net", "packets_received_total", 1)
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "gameclient"

// Registry is the Prometheus registry for all gameclient metrics.
var Registry = prometheus.NewRegistry()

var (
	mu    sync.Mutex
	cache = map[string]prometheus.Collector{}
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Gatherer gathers from the current Registry, so a handler built with it
// keeps serving after Reset.
func Gatherer() prometheus.Gatherer {
	return prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		mu.Lock()
		r := Registry
		mu.Unlock()
		return r.Gather()
	})
}

// Reset replaces Registry with an empty one and forgets every collector.
// Tests only; collectors already handed out keep pointing at the old registry.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	Registry = prometheus.NewRegistry()
	cache = map[string]prometheus.Collector{}
}

func labelNames(dim Dimension) []string {
	names := make([]string, 0, len(dim))
	for k := range dim {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func labelValues(names []string, dim Dimension) []string {
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = dim[n]
	}
	return values
}

// lookup returns the cached collector for key, creating and registering it
// with build on first use. A collector rejected by the registry (same name,
// different labels or kind) yields nil and the sample is dropped.
func lookup(key string, build func() prometheus.Collector) prometheus.Collector {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := cache[key]; ok {
		return c
	}
	c := build()
	if err := Registry.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			cache[key] = nil
			return nil
		}
		c = are.ExistingCollector
	}
	cache[key] = c
	return c
}

func cacheKey(kind, group, name string, names []string) string {
	return kind + "|" + prometheus.BuildFQName(namespace, group, name) + "|" + strings.Join(names, ",")
}

func counterVec(group, name string, names []string) *prometheus.CounterVec {
	c := lookup(cacheKey("counter", group, name, names), func() prometheus.Collector {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: group,
			Name:      name,
			Help:      group + " " + name,
		}, names)
	})
	vec, _ := c.(*prometheus.CounterVec)
	return vec
}

func gaugeVec(group, name string, names []string) *prometheus.GaugeVec {
	c := lookup(cacheKey("gauge", group, name, names), func() prometheus.Collector {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: group,
			Name:      name,
			Help:      group + " " + name,
		}, names)
	})
	vec, _ := c.(*prometheus.GaugeVec)
	return vec
}

func histogramVec(group, name string, names []string) *prometheus.HistogramVec {
	c := lookup(cacheKey("histogram", group, name, names), func() prometheus.Collector {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: group,
			Name:      name,
			Help:      group + " " + name,
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, names)
	})
	vec, _ := c.(*prometheus.HistogramVec)
	return vec
}

// IncrCounterWithGroup adds v to the counter group/name.
func IncrCounterWithGroup(group, name string, v Value) {
	IncrCounterWithDimGroup(group, name, v, nil)
}

// IncrCounterWithDimGroup adds v to the counter group/name labelled by dim.
// Negative values are ignored.
func IncrCounterWithDimGroup(group, name string, v Value, dim Dimension) {
	if v < 0 {
		return
	}
	names := labelNames(dim)
	if vec := counterVec(group, name, names); vec != nil {
		vec.WithLabelValues(labelValues(names, dim)...).Add(float64(v))
	}
}

// UpdateGaugeWithGroup sets the gauge group/name to v.
func UpdateGaugeWithGroup(group, name string, v Value) {
	UpdateGaugeWithDimGroup(group, name, v, nil)
}

// UpdateGaugeWithDimGroup sets the gauge group/name labelled by dim to v.
func UpdateGaugeWithDimGroup(group, name string, v Value, dim Dimension) {
	names := labelNames(dim)
	if vec := gaugeVec(group, name, names); vec != nil {
		vec.WithLabelValues(labelValues(names, dim)...).Set(float64(v))
	}
}

// ObserveWithDimGroup adds v to the histogram group/name labelled by dim.
func ObserveWithDimGroup(group, name string, v Value, dim Dimension) {
	names := labelNames(dim)
	if vec := histogramVec(group, name, names); vec != nil {
		vec.WithLabelValues(labelValues(names, dim)...).Observe(float64(v))
	}
}

// RecordStopwatchWithGroup observes d, in seconds, on the histogram group/name.
func RecordStopwatchWithGroup(group, name string, d time.Duration) {
	ObserveWithDimGroup(group, name, Value(d.Seconds()), nil)
}

// Record routes v to a collector chosen by policy.
func Record(group, name string, v Value, policy Policy, dim Dimension) {
	switch policy {
	case PolicySum:
		IncrCounterWithDimGroup(group, name, v, dim)
	case PolicyStopwatch, PolicyHistogram:
		ObserveWithDimGroup(group, name, v, dim)
	default:
		UpdateGaugeWithDimGroup(group, name, v, dim)
	}
}
