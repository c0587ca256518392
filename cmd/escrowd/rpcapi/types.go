package rpcapi

import (
	"fmt"
	"math/big"
	"time"

	"github.com/textileio/escrow-core/escrow"
)

// CallOpts carries the caller and the attached payment of a state-changing call.
type CallOpts struct {
	Caller  string `json:"caller"`
	Payment string `json:"payment,omitempty"`
}

// Event is the wire form of escrow.Event.
type Event struct {
	Height       uint64 `json:"height"`
	Index        int    `json:"index"`
	Type         string `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	AuctionID    uint64 `json:"auctionId"`
	TokenID      string `json:"tokenId,omitempty"`
	Seller       string `json:"seller,omitempty"`
	Bidder       string `json:"bidder,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Price        string `json:"price,omitempty"`
	EndTimestamp int64  `json:"endTimestamp,omitempty"`
}

// Refund is the wire form of escrow.Refund.
type Refund struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	AuctionID uint64 `json:"auctionId"`
	Reason    string `json:"reason"`
	Height    uint64 `json:"height"`
	CreatedAt int64  `json:"createdAt"`
}

// Receipt is the result of a state-changing call.
type Receipt struct {
	Height    uint64   `json:"height"`
	AuctionID uint64   `json:"auctionId"`
	Events    []Event  `json:"events"`
	Refunds   []Refund `json:"refunds"`
}

// Claim is the result of a claim call.
type Claim struct {
	Recipient string   `json:"recipient"`
	Height    uint64   `json:"height"`
	Refunds   []Refund `json:"refunds"`
	Total     string   `json:"total"`
	Balance   string   `json:"balance"`
}

// Auction is the wire form of escrow.Auction.
type Auction struct {
	ID           uint64 `json:"id"`
	TokenID      string `json:"tokenId"`
	TotalAmount  string `json:"totalAmount"`
	EndTimestamp int64  `json:"endTimestamp"`
	Seller       string `json:"seller"`
	NumBids      int    `json:"numBids"`
	Escrowed     string `json:"escrowed"`
	Height       uint64 `json:"height"`
	CreatedAt    int64  `json:"createdAt"`
	Status       string `json:"status"`
}

// Bid is the wire form of escrow.Bid.
type Bid struct {
	AuctionID uint64 `json:"auctionId"`
	Bidder    string `json:"bidder"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	PlacedAt  int64  `json:"placedAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// BidInfo is the amount and price of a bid.
type BidInfo struct {
	Amount string `json:"amount"`
	Price  string `json:"price"`
}

// Quote is the payment and refund a prospective bid produces.
type Quote struct {
	Delta   string `json:"delta"`
	Payment string `json:"payment"`
	Refund  string `json:"refund"`
}

// ListQuery selects a page of auctions.
type ListQuery struct {
	Offset    string `json:"offset,omitempty"`
	Ascending bool   `json:"ascending,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Report is the wire form of an audit report.
type Report struct {
	Held       string `json:"held"`
	Collateral string `json:"collateral"`
	Committed  string `json:"committed"`
	Outbox     string `json:"outbox"`
	Pending    string `json:"pending"`
	Auctions   int    `json:"auctions"`
	Bids       int    `json:"bids"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// EventToWire converts an escrow event to its wire form.
func EventToWire(e escrow.Event) Event {
	return Event{
		Height:       e.Height,
		Index:        e.Index,
		Type:         e.Type.String(),
		Timestamp:    unixOrZero(e.Timestamp),
		AuctionID:    uint64(e.AuctionID),
		TokenID:      string(e.TokenID),
		Seller:       string(e.Seller),
		Bidder:       string(e.Bidder),
		Amount:       amountString(e.Amount),
		Price:        amountString(e.Price),
		EndTimestamp: e.EndTimestamp,
	}
}

// EventFromWire converts a wire event back to an escrow event.
func EventFromWire(e Event) (escrow.Event, error) {
	t, err := escrow.ParseEventType(e.Type)
	if err != nil {
		return escrow.Event{}, err
	}
	out := escrow.Event{
		Height:       e.Height,
		Index:        e.Index,
		Type:         t,
		Timestamp:    time.Unix(e.Timestamp, 0),
		AuctionID:    escrow.AuctionID(e.AuctionID),
		TokenID:      escrow.TokenID(e.TokenID),
		Seller:       escrow.Address(e.Seller),
		Bidder:       escrow.Address(e.Bidder),
		EndTimestamp: e.EndTimestamp,
	}
	if e.Amount != "" {
		if out.Amount, err = escrow.ParseAmount(e.Amount); err != nil {
			return escrow.Event{}, err
		}
	}
	if e.Price != "" {
		if out.Price, err = escrow.ParseAmount(e.Price); err != nil {
			return escrow.Event{}, err
		}
	}
	return out, nil
}

// RefundToWire converts a refund to its wire form.
func RefundToWire(r escrow.Refund) Refund {
	return Refund{
		ID:        r.ID,
		Recipient: string(r.Recipient),
		Amount:    amountString(r.Amount),
		AuctionID: uint64(r.AuctionID),
		Reason:    r.Reason.String(),
		Height:    r.Height,
		CreatedAt: unixOrZero(r.CreatedAt),
	}
}

// RefundFromWire converts a wire refund back to an escrow refund.
func RefundFromWire(r Refund) (escrow.Refund, error) {
	amount, err := escrow.ParseAmount(r.Amount)
	if err != nil {
		return escrow.Refund{}, err
	}
	reason, err := escrow.ParseRefundReason(r.Reason)
	if err != nil {
		return escrow.Refund{}, err
	}
	return escrow.Refund{
		ID:        r.ID,
		Recipient: escrow.Address(r.Recipient),
		Amount:    amount,
		AuctionID: escrow.AuctionID(r.AuctionID),
		Reason:    reason,
		Height:    r.Height,
		CreatedAt: time.Unix(r.CreatedAt, 0),
	}, nil
}

func receiptToWire(r *escrow.Receipt) *Receipt {
	out := &Receipt{
		Height:    r.Height,
		AuctionID: uint64(r.AuctionID),
		Events:    make([]Event, len(r.Events)),
		Refunds:   make([]Refund, len(r.Refunds)),
	}
	for i, e := range r.Events {
		out.Events[i] = EventToWire(e)
	}
	for i, rf := range r.Refunds {
		out.Refunds[i] = RefundToWire(rf)
	}
	return out
}

// ReceiptFromWire converts a wire receipt back to an escrow receipt.
func ReceiptFromWire(r *Receipt) (*escrow.Receipt, error) {
	out := &escrow.Receipt{
		Height:    r.Height,
		AuctionID: escrow.AuctionID(r.AuctionID),
	}
	for _, e := range r.Events {
		ev, err := EventFromWire(e)
		if err != nil {
			return nil, fmt.Errorf("decoding event: %v", err)
		}
		out.Events = append(out.Events, ev)
	}
	for _, rf := range r.Refunds {
		refund, err := RefundFromWire(rf)
		if err != nil {
			return nil, fmt.Errorf("decoding refund: %v", err)
		}
		out.Refunds = append(out.Refunds, refund)
	}
	return out, nil
}

func claimToWire(c *escrow.Claim) *Claim {
	out := &Claim{
		Recipient: string(c.Recipient),
		Height:    c.Height,
		Refunds:   make([]Refund, len(c.Refunds)),
		Total:     amountString(c.Total),
		Balance:   amountString(c.Balance),
	}
	for i, r := range c.Refunds {
		out.Refunds[i] = RefundToWire(r)
	}
	return out
}

// ClaimFromWire converts a wire claim back to an escrow claim.
func ClaimFromWire(c *Claim) (*escrow.Claim, error) {
	total, err := escrow.ParseAmount(c.Total)
	if err != nil {
		return nil, err
	}
	balance, err := escrow.ParseAmount(c.Balance)
	if err != nil {
		return nil, err
	}
	out := &escrow.Claim{
		Recipient: escrow.Address(c.Recipient),
		Height:    c.Height,
		Total:     total,
		Balance:   balance,
	}
	for _, r := range c.Refunds {
		refund, err := RefundFromWire(r)
		if err != nil {
			return nil, err
		}
		out.Refunds = append(out.Refunds, refund)
	}
	return out, nil
}

func auctionToWire(a escrow.Auction, now time.Time) Auction {
	return Auction{
		ID:           uint64(a.ID),
		TokenID:      string(a.TokenID),
		TotalAmount:  amountString(a.TotalAmount),
		EndTimestamp: a.EndTimestamp,
		Seller:       string(a.Seller),
		NumBids:      a.NumBids,
		Escrowed:     amountString(a.Escrowed),
		Height:       a.Height,
		CreatedAt:    unixOrZero(a.CreatedAt),
		Status:       a.Status(now).String(),
	}
}

func bidToWire(b escrow.Bid) Bid {
	return Bid{
		AuctionID: uint64(b.AuctionID),
		Bidder:    string(b.Bidder),
		Amount:    amountString(b.Amount),
		Price:     amountString(b.Price),
		PlacedAt:  unixOrZero(b.PlacedAt),
		UpdatedAt: unixOrZero(b.UpdatedAt),
	}
}
