// Package metrics exports ingestion metrics to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"shopmedia/internal/ingest"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "shopmedia"

// Observer records per-file ingestion outcomes.
type Observer struct {
	files       *promclient.CounterVec
	duration    *promclient.HistogramVec
	storedBytes *promclient.CounterVec
}

// NewObserver registers the ingestion collectors on reg.
func NewObserver(namespace string, reg promclient.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	o := &Observer{
		files: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Files processed by the ingestion pipeline, by outcome.",
		}, []string{"backend", "outcome", "kind"}),
		duration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "store_duration_seconds",
			Help:      "Time spent ingesting a single file.",
			Buckets:   promclient.DefBuckets,
		}, []string{"backend", "outcome"}),
		storedBytes: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stored_bytes_total",
			Help:      "Cumulative payload size successfully stored.",
		}, []string{"backend"}),
	}

	var err error
	if o.files, err = register(reg, o.files); err != nil {
		return nil, fmt.Errorf("register files counter: %w", err)
	}
	if o.duration, err = register(reg, o.duration); err != nil {
		return nil, fmt.Errorf("register duration histogram: %w", err)
	}
	if o.storedBytes, err = register(reg, o.storedBytes); err != nil {
		return nil, fmt.Errorf("register stored bytes counter: %w", err)
	}
	return o, nil
}

// register registers c, reusing an identical collector registered earlier.
func register[C promclient.Collector](reg promclient.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are promclient.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveResult implements ingest.Observer.
func (o *Observer) ObserveResult(backend string, res ingest.Result, elapsed time.Duration) {
	if o == nil {
		return
	}

	outcome := string(res.State)
	kind := ""
	if res.Failure != nil {
		kind = string(res.Failure.Kind)
	}

	o.files.WithLabelValues(backend, outcome, kind).Inc()
	o.duration.WithLabelValues(backend, outcome).Observe(elapsed.Seconds())
	if res.Stored() {
		o.storedBytes.WithLabelValues(backend).Add(float64(res.Object.Size))
	}
}

// NewRegistry returns a registry with the standard process and Go runtime
// collectors already registered.
func NewRegistry() *promclient.Registry {
	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics gathered by reg.
func Handler(reg *promclient.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
