package service

import (
	"context"
	"sync"

	"github.com/textileio/escrow-core/cmd/escrowd/metrics"
	"github.com/textileio/escrow-core/escrow"
	cmetrics "github.com/textileio/escrow-core/metrics"
	"github.com/textileio/escrow-core/msgbroker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const defaultPublishQueueSize = 1024

var attrEventType = attribute.Key("type")

// publisher forwards committed events to the message broker in commit order.
// It never blocks the ledger: events that don't fit the queue are dropped and
// logged, and remain available through the ledger event log.
type publisher struct {
	mb    msgbroker.MsgBroker
	queue chan escrow.Event

	published metric.Int64Counter
	dropped   metric.Int64Counter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPublisher(mb msgbroker.MsgBroker, size int) *publisher {
	if size <= 0 {
		size = defaultPublishQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &publisher{
		mb:        mb,
		queue:     make(chan escrow.Event, size),
		published: metrics.Meter.NewInt64Counter(metrics.Prefix + ".published_events_total"),
		dropped:   metrics.Meter.NewInt64Counter(metrics.Prefix + ".dropped_events_total"),
		ctx:       ctx,
		cancel:    cancel,
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// handle is the ledger event handler.
func (p *publisher) handle(_ context.Context, events []escrow.Event) {
	for _, e := range events {
		select {
		case p.queue <- e:
		default:
			p.dropped.Add(p.ctx, 1, attrEventType.String(e.Type.String()))
			log.Warnf("publish queue is full, dropping event %s at height %d", e.Type, e.Height)
		}
	}
}

func (p *publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		case e := <-p.queue:
			p.publish(e)
		}
	}
}

func (p *publisher) drain() {
	for {
		select {
		case e := <-p.queue:
			p.publish(e)
		default:
			return
		}
	}
}

func (p *publisher) publish(e escrow.Event) {
	// The publisher context is cancelled on close; pending events still get published.
	err := msgbroker.PublishMsgEscrowEvent(context.Background(), p.mb, e)
	cmetrics.MetricIncrCounter(p.ctx, err, p.published, attrEventType.String(e.Type.String()))
	if err != nil {
		log.Errorf("publishing %s event at height %d: %s", e.Type, e.Height, err)
		return
	}
	log.Debugf("published %s event at height %d", e.Type, e.Height)
}

// Close stops the publisher after flushing queued events.
func (p *publisher) Close() error {
	p.cancel()
	p.wg.Wait()
	return nil
}
