package msgbroker

import (
	"context"
	"errors"
	"fmt"

	"github.com/textileio/escrow-core/escrow"
)

// TopicHandler is function that processes a received message.
// If no error is returned, the message will be automatically acked.
// If an error is returned, the message will be automatically nacked.
type TopicHandler func(context.Context, []byte) error

// MsgBroker is a message-broker for async message communication.
type MsgBroker interface {
	// RegisterTopicHandler registers a handler to a topic, with a defined
	// subscription defined by the underlying implementation. Is highly recommended
	// to register handlers in a type-safe way using RegisterHandlers().
	RegisterTopicHandler(topic TopicName, handler TopicHandler, opts ...Option) error

	// PublishMsg publishes a message to the desired topic.
	PublishMsg(ctx context.Context, topicName TopicName, data []byte) error
}

// TopicName is a topic name.
type TopicName string

const (
	// AuctionCreatedTopic is the topic name for escrow-auction-created messages.
	AuctionCreatedTopic TopicName = "escrow-auction-created"
	// BidPlacedTopic is the topic name for escrow-bid-placed messages.
	BidPlacedTopic TopicName = "escrow-bid-placed"
	// BidCancelledTopic is the topic name for escrow-bid-cancelled messages.
	BidCancelledTopic TopicName = "escrow-bid-cancelled"
)

// Topics are all the topics escrow events are published to.
var Topics = []TopicName{AuctionCreatedTopic, BidPlacedTopic, BidCancelledTopic}

// TopicForEvent returns the topic an event of type t is published to.
func TopicForEvent(t escrow.EventType) (TopicName, error) {
	switch t {
	case escrow.EventAuctionCreated:
		return AuctionCreatedTopic, nil
	case escrow.EventBidPlaced:
		return BidPlacedTopic, nil
	case escrow.EventBidCancelled:
		return BidCancelledTopic, nil
	default:
		return "", fmt.Errorf("no topic for event type %s", t)
	}
}

// AuctionCreatedListener is a handler for escrow-auction-created topic.
type AuctionCreatedListener interface {
	OnAuctionCreated(context.Context, escrow.Event) error
}

// BidPlacedListener is a handler for escrow-bid-placed topic.
type BidPlacedListener interface {
	OnBidPlaced(context.Context, escrow.Event) error
}

// BidCancelledListener is a handler for escrow-bid-cancelled topic.
type BidCancelledListener interface {
	OnBidCancelled(context.Context, escrow.Event) error
}

// EscrowEventsListener handles every escrow event topic.
type EscrowEventsListener interface {
	AuctionCreatedListener
	BidPlacedListener
	BidCancelledListener
}

// RegisterHandlers automatically calls mb.RegisterTopicHandler in the methods that
// s might satisfy on known XXXListener interfaces. This allows to automatically wire
// s to receive messages from topics of implemented handlers.
func RegisterHandlers(mb MsgBroker, s interface{}, opts ...Option) error {
	var countRegistered int
	if l, ok := s.(AuctionCreatedListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(AuctionCreatedTopic, func(ctx context.Context, data []byte) error {
			e, err := unmarshalEvent(data, escrow.EventAuctionCreated)
			if err != nil {
				return fmt.Errorf("unmarshal auction created: %s", err)
			}
			if e.TokenID == "" {
				return errors.New("token id is empty")
			}
			if e.Seller == "" {
				return errors.New("seller is empty")
			}
			if e.Amount == nil || e.Amount.Sign() <= 0 {
				return errors.New("total amount must be positive")
			}
			if err := l.OnAuctionCreated(ctx, e); err != nil {
				return fmt.Errorf("calling on-auction-created handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for auction-created topic: %s", err)
		}
	}

	if l, ok := s.(BidPlacedListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(BidPlacedTopic, func(ctx context.Context, data []byte) error {
			e, err := unmarshalEvent(data, escrow.EventBidPlaced)
			if err != nil {
				return fmt.Errorf("unmarshal bid placed: %s", err)
			}
			if e.Bidder == "" {
				return errors.New("bidder is empty")
			}
			if e.Amount == nil || e.Price == nil {
				return errors.New("bid amount and price are required")
			}
			if err := l.OnBidPlaced(ctx, e); err != nil {
				return fmt.Errorf("calling on-bid-placed handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for bid-placed topic: %s", err)
		}
	}

	if l, ok := s.(BidCancelledListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(BidCancelledTopic, func(ctx context.Context, data []byte) error {
			e, err := unmarshalEvent(data, escrow.EventBidCancelled)
			if err != nil {
				return fmt.Errorf("unmarshal bid cancelled: %s", err)
			}
			if e.Bidder == "" {
				return errors.New("bidder is empty")
			}
			if err := l.OnBidCancelled(ctx, e); err != nil {
				return fmt.Errorf("calling on-bid-cancelled handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for bid-cancelled topic: %s", err)
		}
	}

	if countRegistered == 0 {
		return errors.New("no handlers were registered")
	}

	return nil
}
