package escrow

import (
	"fmt"
	"math/big"
	"time"
)

// EventType is the type of a contract event.
type EventType int

const (
	// EventUnknown is an invalid event type. Defined for safety.
	EventUnknown EventType = iota
	// EventAuctionCreated is emitted when an auction is registered.
	EventAuctionCreated
	// EventBidPlaced is emitted on every successful bid call.
	EventBidPlaced
	// EventBidCancelled is emitted when a bid is cancelled.
	EventBidCancelled
)

// String returns a string-encoded event type.
func (t EventType) String() string {
	switch t {
	case EventUnknown:
		return "unknown"
	case EventAuctionCreated:
		return "AuctionCreated"
	case EventBidPlaced:
		return "BidPlaced"
	case EventBidCancelled:
		return "BidCancelled"
	default:
		return invalidStatus
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, error) {
	for _, t := range []EventType{EventAuctionCreated, EventBidPlaced, EventBidCancelled} {
		if t.String() == s {
			return t, nil
		}
	}
	return EventUnknown, fmt.Errorf("unknown event type %q", s)
}

// Event is an entry of the append-only event log.
// Fields not carried by an event type are left zero:
//  - AuctionCreated: AuctionID, TokenID, Seller, Amount, EndTimestamp.
//  - BidPlaced: AuctionID, Bidder, Amount, Price.
//  - BidCancelled: AuctionID, Bidder.
type Event struct {
	Height uint64
	// Index is the position of the event among the events of the same height.
	Index     int
	Type      EventType
	AuctionID AuctionID
	Timestamp time.Time

	TokenID      TokenID
	Seller       Address
	Bidder       Address
	Amount       *big.Int
	Price        *big.Int
	EndTimestamp int64
}

// NewAuctionCreatedEvent returns the event emitted by a successful auction creation.
func NewAuctionCreatedEvent(a Auction) Event {
	return Event{
		Type:         EventAuctionCreated,
		AuctionID:    a.ID,
		TokenID:      a.TokenID,
		Seller:       a.Seller,
		Amount:       new(big.Int).Set(a.TotalAmount),
		EndTimestamp: a.EndTimestamp,
	}
}

// NewBidPlacedEvent returns the event emitted by a successful bid call.
func NewBidPlacedEvent(b Bid) Event {
	return Event{
		Type:      EventBidPlaced,
		AuctionID: b.AuctionID,
		Bidder:    b.Bidder,
		Amount:    new(big.Int).Set(b.Amount),
		Price:     new(big.Int).Set(b.Price),
	}
}

// NewBidCancelledEvent returns the event emitted by a bid cancellation.
func NewBidCancelledEvent(id AuctionID, bidder Address) Event {
	return Event{
		Type:      EventBidCancelled,
		AuctionID: id,
		Bidder:    bidder,
	}
}
