package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// AttrOK is a metric tag to indicate a successful operation.
	AttrOK = attribute.Key("status").String("ok")
	// AttrError is a metric tag to indicate a failed operation.
	AttrError = attribute.Key("status").String("error")
)

// StatusAttr returns AttrOK or AttrError depending on err.
func StatusAttr(err error) attribute.KeyValue {
	if err != nil {
		return AttrError
	}
	return AttrOK
}

// MetricIncrCounter increments the specified Int64Counter by 1, tagged with the status
// of err. This method is a helper for deferring in methods.
func MetricIncrCounter(ctx context.Context, err error, m metric.Int64Counter, labels ...attribute.KeyValue) {
	m.Add(ctx, 1, append(labels, StatusAttr(err))...)
}

// MetricRecordDuration records the milliseconds elapsed since start.
func MetricRecordDuration(ctx context.Context, start time.Time, h metric.Int64Histogram, labels ...attribute.KeyValue) {
	h.Record(ctx, time.Since(start).Milliseconds(), labels...)
}
