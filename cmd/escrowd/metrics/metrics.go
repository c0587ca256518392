package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

// Prefix is the prefix of every escrowd metric name.
const Prefix = "escrowd"

// Meter is the meter escrowd components register instruments with.
var Meter = metric.Must(global.Meter(Prefix))
