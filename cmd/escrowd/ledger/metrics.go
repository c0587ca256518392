package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/textileio/escrow-core/cmd/escrowd/metrics"
	"github.com/textileio/escrow-core/escrow"
	cmetrics "github.com/textileio/escrow-core/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type stats struct {
	height  uint64
	balance *big.Int
	outbox  *big.Int
}

type ledgerMetrics struct {
	calls          metric.Int64Counter
	rejections     metric.Int64Counter
	callDurationMs metric.Int64Histogram
	heightGauge    metric.Int64GaugeObserver
	balanceGauge   metric.Int64GaugeObserver
	outboxGauge    metric.Int64GaugeObserver
}

var attrOp = attribute.Key("op")

func (l *Ledger) initMetrics() {
	l.metrics = ledgerMetrics{
		calls:          metrics.Meter.NewInt64Counter(metrics.Prefix + ".calls_total"),
		rejections:     metrics.Meter.NewInt64Counter(metrics.Prefix + ".rejected_calls_total"),
		callDurationMs: metrics.Meter.NewInt64Histogram(metrics.Prefix + ".call_duration_millis"),
		heightGauge:    metrics.Meter.NewInt64GaugeObserver(metrics.Prefix+".height", l.heightCb),
		balanceGauge:   metrics.Meter.NewInt64GaugeObserver(metrics.Prefix+".held_balance", l.balanceCb),
		outboxGauge:    metrics.Meter.NewInt64GaugeObserver(metrics.Prefix+".outbox_balance", l.outboxCb),
	}
}

func (l *Ledger) onCall(ctx context.Context, op string, start time.Time, err error) {
	label := attrOp.String(op)
	cmetrics.MetricIncrCounter(ctx, err, l.metrics.calls, label)
	cmetrics.MetricRecordDuration(ctx, start, l.metrics.callDurationMs, label)
	if err != nil {
		l.metrics.rejections.Add(ctx, 1, label, attribute.String("kind", escrow.ErrorKind(err)))
		log.Debugf("%s rejected: %v", op, err)
	}
}

func (l *Ledger) loadStats(ctx context.Context) error {
	height, err := l.Height(ctx)
	if err != nil {
		return err
	}
	balance, err := l.Balance(ctx)
	if err != nil {
		return err
	}
	outbox, err := l.Outbox(ctx)
	if err != nil {
		return err
	}
	l.setStats(stats{height: height, balance: balance, outbox: outbox})
	return nil
}

func (l *Ledger) setStats(s stats) {
	l.statsLk.Lock()
	defer l.statsLk.Unlock()
	l.stats = stats{
		height:  s.height,
		balance: new(big.Int).Set(s.balance),
		outbox:  new(big.Int).Set(s.outbox),
	}
}

func (l *Ledger) getStats() stats {
	l.statsLk.Lock()
	defer l.statsLk.Unlock()
	return l.stats
}

func (l *Ledger) heightCb(_ context.Context, r metric.Int64ObserverResult) {
	r.Observe(int64(l.getStats().height))
}

func (l *Ledger) balanceCb(_ context.Context, r metric.Int64ObserverResult) {
	if b := l.getStats().balance; b != nil && b.IsInt64() {
		r.Observe(b.Int64())
	}
}

func (l *Ledger) outboxCb(_ context.Context, r metric.Int64ObserverResult) {
	if b := l.getStats().outbox; b != nil && b.IsInt64() {
		r.Observe(b.Int64())
	}
}
