package common

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	logger "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/sdk/metric/aggregator/histogram"
	controller "go.opentelemetry.io/otel/sdk/metric/controller/basic"
	"go.opentelemetry.io/otel/sdk/metric/export/aggregation"
	processor "go.opentelemetry.io/otel/sdk/metric/processor/basic"
	selector "go.opentelemetry.io/otel/sdk/metric/selector/simple"
)

// RequestIDHeader is the header carrying the request id of an HTTP call.
const RequestIDHeader = "X-Request-Id"

type ctxKeyRequestID struct{}

// SetupInstrumentation starts a metrics endpoint.
func SetupInstrumentation(prometheusAddr string) error {
	config := prometheus.Config{
		// Durations in millis.
		DefaultHistogramBoundaries: []float64{1, 5, 10, 50, 100, 500, 1000, 10000},
	}
	c := controller.New(
		processor.NewFactory(
			selector.NewWithHistogramDistribution(
				histogram.WithExplicitBoundaries(config.DefaultHistogramBoundaries),
			),
			aggregation.CumulativeTemporalitySelector(),
			processor.WithMemory(true),
		),
	)
	exporter, err := prometheus.New(config, c)
	if err != nil {
		return fmt.Errorf("failed to initialize prometheus exporter %v", err)
	}
	global.SetMeterProvider(exporter.MeterProvider())
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", exporter.ServeHTTP)
	go func() {
		server := &http.Server{Addr: prometheusAddr, Handler: mux, ReadHeaderTimeout: time.Second * 5}
		_ = server.ListenAndServe()
	}()

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		return fmt.Errorf("starting Go runtime metrics: %s", err)
	}

	return nil
}

// RequestID returns the request id attached to ctx by HTTPLoggerMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPLoggerMiddleware tags every request with an id, logs failed requests, and
// catches/recovers from panics.
func HTTPLoggerMiddleware(log *logger.ZapEventLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID{}, id))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		// Recover from any panic caused by this request processing.
		defer func() {
			if p := recover(); p != nil {
				log.Errorf("request %s panic: %s", id, p)
				http.Error(rec, "internal error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(rec, r)
		if rec.status >= http.StatusBadRequest {
			log.Errorf("request %s %s %s: status %d", id, r.Method, r.URL.Path, rec.status)
			return
		}
		log.Debugf("request %s %s %s took %s", id, r.Method, r.URL.Path, time.Since(start))
	})
}
