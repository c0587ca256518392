package gpubsub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/textileio/escrow-core/msgbroker"
	logging "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var log = logging.Logger("gpubsub")

const (
	emulatorHostEnv  = "PUBSUB_EMULATOR_HOST"
	emulatorProject  = "escrow-emulator"
	adminCallTimeout = time.Second * 10
)

// PubsubMsgBroker is a msgbroker.MsgBroker backed by Google Cloud Pub/Sub.
type PubsubMsgBroker struct {
	subsName    string
	topicPrefix string

	client          *pubsub.Client
	clientCtx       context.Context
	clientCtxCancel context.CancelFunc
	receivers       sync.WaitGroup

	topicCacheLock sync.Mutex
	topicCache     map[string]*pubsub.Topic

	metrics metricsCollector
}

var _ msgbroker.MsgBroker = (*PubsubMsgBroker)(nil)

// New returns a new PubsubMsgBroker. apiKey is the JSON credentials of a service account.
// Both projectID and apiKey can be empty if an emulator is configured with PUBSUB_EMULATOR_HOST.
// Subscriptions created by the broker are named after subsName, so daemons with different
// names each receive every message.
func New(projectID, apiKey, topicPrefix, subsName string) (*PubsubMsgBroker, error) {
	var opts []option.ClientOption
	if os.Getenv(emulatorHostEnv) != "" {
		if projectID == "" {
			projectID = emulatorProject
		}
	} else {
		if apiKey == "" {
			return nil, fmt.Errorf("api key is empty")
		}
		if projectID == "" {
			return nil, fmt.Errorf("project-id is empty")
		}
		opts = append(opts, option.WithCredentialsJSON([]byte(apiKey)))
	}
	if topicPrefix == "" {
		return nil, fmt.Errorf("topic-prefix is empty")
	}
	if subsName == "" {
		return nil, fmt.Errorf("subscription name is empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating pubsub client: %s", err)
	}

	p := &PubsubMsgBroker{
		subsName:    subsName,
		topicPrefix: topicPrefix,

		client:          client,
		clientCtx:       ctx,
		clientCtxCancel: cancel,

		topicCache: map[string]*pubsub.Topic{},
	}
	p.initMetrics(metric.Must(global.Meter("gpubsub")))

	return p, nil
}

// RegisterTopicHandler registers a handler for a topic. The subscription is created
// if it doesn't exist. Messages are acked if the handler returns nil.
func (p *PubsubMsgBroker) RegisterTopicHandler(
	topicName msgbroker.TopicName,
	handler msgbroker.TopicHandler,
	opts ...msgbroker.Option) error {
	config, err := msgbroker.ApplyRegisterHandlerOptions(opts...)
	if err != nil {
		return fmt.Errorf("applying options: %s", err)
	}

	topic, err := p.getTopic(string(topicName))
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}

	subName := p.topicPrefix + p.subsName + "-" + string(topicName)
	sub, err := p.getSubscription(topic, subName, config)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = config.MaxOutstanding

	p.receivers.Add(1)
	go func() {
		defer p.receivers.Done()
		err := sub.Receive(p.clientCtx, func(ctx context.Context, m *pubsub.Message) {
			start := time.Now()
			err := handler(ctx, m.Data)
			p.metrics.onHandle(ctx, string(topicName), time.Since(start), err)
			if err != nil {
				log.Errorf("handling message %s from topic %s: %s", m.ID, topicName, err)
				m.Nack()
				return
			}
			m.Ack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("receive handler subscription %s, topic %s: %s", subName, topicName, err)
		}
	}()

	log.Debugf("registered handler for %s:%s", subName, topicName)
	return nil
}

// PublishMsg publishes a message to a topic and waits for the server ack.
func (p *PubsubMsgBroker) PublishMsg(ctx context.Context, topicName msgbroker.TopicName, data []byte) (err error) {
	defer func() { p.metrics.onPublish(ctx, string(topicName), err) }()

	topic, err := p.getTopic(string(topicName))
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}
	msg := pubsub.Message{
		Data: data,
	}
	pr := topic.Publish(ctx, &msg)
	if _, err := pr.Get(ctx); err != nil {
		return fmt.Errorf("publishing to pubsub: %s", err)
	}

	return nil
}

func (p *PubsubMsgBroker) getSubscription(
	topic *pubsub.Topic,
	name string,
	config msgbroker.RegisterHandlerConfig) (*pubsub.Subscription, error) {
	ctx, cancel := context.WithTimeout(p.clientCtx, adminCallTimeout)
	defer cancel()
	it := topic.Subscriptions(ctx)
	for {
		sub, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("looking for subscription: %s", err)
		}
		if sub.ID() == name {
			return sub, nil
		}
	}

	log.Warnf("creating subscription %s for topic %s", name, topic.ID())
	sub, err := p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: config.AckDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("creating subscription: %s", err)
	}
	return sub, nil
}

func (p *PubsubMsgBroker) getTopic(name string) (*pubsub.Topic, error) {
	p.topicCacheLock.Lock()
	defer p.topicCacheLock.Unlock()
	topic, ok := p.topicCache[name]
	if ok {
		return topic, nil
	}

	fullName := p.topicPrefix + name
	topic = p.client.Topic(fullName)
	ctx, cancel := context.WithTimeout(p.clientCtx, adminCallTimeout)
	defer cancel()
	exist, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic exists: %s", err)
	}
	if !exist {
		log.Warnf("creating topic %s", fullName)

		topic, err = p.client.CreateTopic(ctx, fullName)
		if err != nil {
			return nil, fmt.Errorf("creating topic %s: %s", fullName, err)
		}
	}
	p.topicCache[name] = topic

	return topic, nil
}

// Close stops receiving messages, flushes pending publishes and closes the client.
func (p *PubsubMsgBroker) Close() error {
	p.clientCtxCancel()
	p.receivers.Wait()

	p.topicCacheLock.Lock()
	for _, topic := range p.topicCache {
		topic.Stop()
	}
	p.topicCacheLock.Unlock()

	if err := p.client.Close(); err != nil {
		return fmt.Errorf("closing pubsub client: %s", err)
	}
	return nil
}
