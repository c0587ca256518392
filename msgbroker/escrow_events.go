package msgbroker

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/textileio/escrow-core/escrow"
)

// eventMsg is the wire form of an escrow event.
type eventMsg struct {
	Height       uint64   `cbor:"1,keyasint"`
	Index        int      `cbor:"2,keyasint"`
	Type         string   `cbor:"3,keyasint"`
	Timestamp    int64    `cbor:"4,keyasint"`
	AuctionID    uint64   `cbor:"5,keyasint"`
	TokenID      string   `cbor:"6,keyasint,omitempty"`
	Seller       string   `cbor:"7,keyasint,omitempty"`
	Bidder       string   `cbor:"8,keyasint,omitempty"`
	Amount       *big.Int `cbor:"9,keyasint,omitempty"`
	Price        *big.Int `cbor:"10,keyasint,omitempty"`
	EndTimestamp int64    `cbor:"11,keyasint,omitempty"`
}

// MarshalEvent encodes an escrow event for publishing.
func MarshalEvent(e escrow.Event) ([]byte, error) {
	if e.Type == escrow.EventUnknown {
		return nil, fmt.Errorf("event type is unknown")
	}
	msg := eventMsg{
		Height:       e.Height,
		Index:        e.Index,
		Type:         e.Type.String(),
		Timestamp:    e.Timestamp.UnixNano(),
		AuctionID:    uint64(e.AuctionID),
		TokenID:      string(e.TokenID),
		Seller:       string(e.Seller),
		Bidder:       string(e.Bidder),
		Amount:       e.Amount,
		Price:        e.Price,
		EndTimestamp: e.EndTimestamp,
	}
	data, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %s", err)
	}
	return data, nil
}

// UnmarshalEvent decodes a published escrow event.
func UnmarshalEvent(data []byte) (escrow.Event, error) {
	var msg eventMsg
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return escrow.Event{}, fmt.Errorf("unmarshaling event: %s", err)
	}
	t, err := escrow.ParseEventType(msg.Type)
	if err != nil {
		return escrow.Event{}, err
	}
	return escrow.Event{
		Height:       msg.Height,
		Index:        msg.Index,
		Type:         t,
		Timestamp:    time.Unix(0, msg.Timestamp),
		AuctionID:    escrow.AuctionID(msg.AuctionID),
		TokenID:      escrow.TokenID(msg.TokenID),
		Seller:       escrow.Address(msg.Seller),
		Bidder:       escrow.Address(msg.Bidder),
		Amount:       msg.Amount,
		Price:        msg.Price,
		EndTimestamp: msg.EndTimestamp,
	}, nil
}

func unmarshalEvent(data []byte, expected escrow.EventType) (escrow.Event, error) {
	e, err := UnmarshalEvent(data)
	if err != nil {
		return escrow.Event{}, err
	}
	if e.Type != expected {
		return escrow.Event{}, fmt.Errorf("expected %s event, got %s", expected, e.Type)
	}
	return e, nil
}

// PublishMsgEscrowEvent publishes an escrow event to the topic of its type.
func PublishMsgEscrowEvent(ctx context.Context, mb MsgBroker, e escrow.Event) error {
	topic, err := TopicForEvent(e.Type)
	if err != nil {
		return err
	}
	data, err := MarshalEvent(e)
	if err != nil {
		return err
	}
	if err := mb.PublishMsg(ctx, topic, data); err != nil {
		return fmt.Errorf("publishing %s message: %s", topic, err)
	}
	return nil
}
