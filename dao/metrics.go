package dao

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	daoMeterName = "rxdao/dao"

	metricMethodDuration = "dao.method.duration"
	metricMethodSlow     = "dao.method.slow"

	attrMethod  = "dao.method"
	attrArity   = "dao.method.arity"
	attrOutcome = "outcome"
)

type instruments struct {
	provider metric.MeterProvider
	duration metric.Float64Histogram
	slow     metric.Int64Counter
}

// daoMetrics caches the instruments of the current global meter provider.
var daoMetrics atomic.Pointer[instruments]

func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize metric %s: %v\n", metricName, err)
	}
}

func initDAOMeter(provider metric.MeterProvider) *instruments {
	meter := provider.Meter(daoMeterName)
	m := &instruments{provider: provider}

	var err error
	m.duration, err = meter.Float64Histogram(metricMethodDuration,
		metric.WithDescription("Time from subscription to the terminal signal of a DAO call, in milliseconds"),
		metric.WithUnit("ms"))
	logMetricError(metricMethodDuration, err)

	m.slow, err = meter.Int64Counter(metricMethodSlow,
		metric.WithDescription("Number of DAO calls slower than the slow query threshold"))
	logMetricError(metricMethodSlow, err)

	return m
}

func getDAOMetrics() *instruments {
	provider := otel.GetMeterProvider()
	if m := daoMetrics.Load(); m != nil && m.provider == provider {
		return m
	}
	m := initDAOMeter(provider)
	daoMetrics.Store(m)
	return m
}

// methodMetrics is the metrics handle of one method, keyed by its
// qualified name and arity.
type methodMetrics struct {
	attrs []attribute.KeyValue
}

func newMethodMetrics(m *Method) *methodMetrics {
	return &methodMetrics{attrs: []attribute.KeyValue{
		attribute.String(attrMethod, m.Name),
		attribute.Int(attrArity, m.Arity()),
	}}
}

// record reports one finished call.
func (mm *methodMetrics) record(ctx context.Context, elapsed time.Duration, err error, slow bool) {
	m := getDAOMetrics()

	outcome := "success"
	switch {
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}

	if m.duration != nil {
		attrs := append(mm.attrs[:len(mm.attrs):len(mm.attrs)], attribute.String(attrOutcome, outcome))
		m.duration.Record(ctx, float64(elapsed.Nanoseconds())/1e6, metric.WithAttributes(attrs...))
	}
	if slow && m.slow != nil {
		m.slow.Add(ctx, 1, metric.WithAttributes(mm.attrs...))
	}
}
