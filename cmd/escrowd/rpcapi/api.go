package rpcapi

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/textileio/escrow-core/auth"
	"github.com/textileio/escrow-core/cmd/escrowd/ledger"
	"github.com/textileio/escrow-core/escrow"
	logging "github.com/textileio/go-log/v2"
)

// Namespace is the JSON-RPC namespace of the escrow API. Methods are called as
// escrow_<method>, e.g. escrow_createAuction.
const Namespace = "escrow"

var log = logging.Logger("escrow/rpcapi")

// API exposes a ledger over JSON-RPC.
type API struct {
	ledger      *ledger.Ledger
	requireAuth bool
}

// NewServer returns a JSON-RPC server serving the API of l. With requireAuth set,
// state-changing calls take their caller from the authorized entity of the request
// context, see auth.Middleware.
func NewServer(l *ledger.Ledger, requireAuth bool) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(Namespace, &API{ledger: l, requireAuth: requireAuth}); err != nil {
		return nil, fmt.Errorf("registering escrow api: %v", err)
	}
	return server, nil
}

func (a *API) call(ctx context.Context, opts CallOpts) (escrow.Call, error) {
	caller := escrow.Address(opts.Caller)
	if e, ok := auth.FromContext(ctx); ok {
		if caller != "" && string(caller) != e.Identity {
			return escrow.Call{}, unauthorized("caller %s doesn't match token subject %s", caller, e.Identity)
		}
		caller = escrow.Address(e.Identity)
	} else if a.requireAuth {
		return escrow.Call{}, unauthorized("request is not authenticated")
	}
	payment, err := escrow.ParseOptionalAmount(opts.Payment)
	if err != nil {
		return escrow.Call{}, err
	}
	return escrow.Call{Caller: caller, Payment: payment}, nil
}

func parsePositional(name, s string) (*big.Int, error) {
	v, err := escrow.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// CreateAuction registers an auction.
func (a *API) CreateAuction(
	ctx context.Context,
	opts CallOpts,
	tokenID string,
	totalAmount string,
	endTimestamp int64) (*Receipt, error) {
	call, err := a.call(ctx, opts)
	if err != nil {
		return nil, ToRPCError(err)
	}
	total, err := parsePositional("total amount", totalAmount)
	if err != nil {
		return nil, ToRPCError(err)
	}
	r, err := a.ledger.CreateAuction(ctx, call, escrow.TokenID(tokenID), total, endTimestamp)
	if err != nil {
		return nil, ToRPCError(err)
	}
	return receiptToWire(r), nil
}

// Bid places or updates the caller bid.
func (a *API) Bid(ctx context.Context, opts CallOpts, auctionID uint64, amount, price string) (*Receipt, error) {
	call, err := a.call(ctx, opts)
	if err != nil {
		return nil, ToRPCError(err)
	}
	am, err := parsePositional("amount", amount)
	if err != nil {
		return nil, ToRPCError(err)
	}
	pr, err := parsePositional("price", price)
	if err != nil {
		return nil, ToRPCError(err)
	}
	r, err := a.ledger.Bid(ctx, call, escrow.AuctionID(auctionID), am, pr)
	if err != nil {
		return nil, ToRPCError(err)
	}
	return receiptToWire(r), nil
}

// CancelBid cancels the caller bid.
func (a *API) CancelBid(ctx context.Context, opts CallOpts, auctionID uint64) (*Receipt, error) {
	call, err := a.call(ctx, opts)
	if err != nil {
		return nil, ToRPCError(err)
	}
	r, err := a.ledger.CancelBid(ctx, call, escrow.AuctionID(auctionID))
	if err != nil {
		return nil, ToRPCError(err)
	}
	return receiptToWire(r), nil
}

// Claim delivers the caller queued refunds.
func (a *API) Claim(ctx context.Context, opts CallOpts) (*Claim, error) {
	call, err := a.call(ctx, opts)
	if err != nil {
		return nil, ToRPCError(err)
	}
	c, err := a.ledger.Claim(ctx, call)
	if err != nil {
		return nil, ToRPCError(err)
	}
	return claimToWire(c), nil
}

// AuctionTokenID returns the token of an auction.
func (a *API) AuctionTokenID(ctx context.Context, auctionID uint64) (string, error) {
	id, err := a.ledger.AuctionTokenID(ctx, escrow.AuctionID(auctionID))
	return string(id), ToRPCError(err)
}

// AuctionAmount returns the quantity offered in an auction.
func (a *API) AuctionAmount(ctx context.Context, auctionID uint64) (string, error) {
	v, err := a.ledger.AuctionAmount(ctx, escrow.AuctionID(auctionID))
	return amountString(v), ToRPCError(err)
}

// AuctionEndTimestamp returns the deadline of an auction.
func (a *API) AuctionEndTimestamp(ctx context.Context, auctionID uint64) (int64, error) {
	ts, err := a.ledger.AuctionEndTimestamp(ctx, escrow.AuctionID(auctionID))
	return ts, ToRPCError(err)
}

// AuctionNumBids returns the number of live bids of an auction.
func (a *API) AuctionNumBids(ctx context.Context, auctionID uint64) (int, error) {
	n, err := a.ledger.AuctionNumBids(ctx, escrow.AuctionID(auctionID))
	return n, ToRPCError(err)
}

// BidExists returns whether bidder has a live bid on an auction.
func (a *API) BidExists(ctx context.Context, auctionID uint64, bidder string) (bool, error) {
	exists, err := a.ledger.BidExists(ctx, escrow.AuctionID(auctionID), escrow.Address(bidder))
	return exists, ToRPCError(err)
}

// BidInfo returns the amount and price of a bid.
func (a *API) BidInfo(ctx context.Context, auctionID uint64, bidder string) (*BidInfo, error) {
	amount, price, err := a.ledger.BidInfo(ctx, escrow.AuctionID(auctionID), escrow.Address(bidder))
	if err != nil {
		return nil, ToRPCError(err)
	}
	return &BidInfo{Amount: amount.String(), Price: price.String()}, nil
}

// AuctionBidders returns the bidders of an auction in placement order.
func (a *API) AuctionBidders(ctx context.Context, auctionID uint64) ([]string, error) {
	bidders, err := a.ledger.AuctionBidders(ctx, escrow.AuctionID(auctionID))
	if err != nil {
		return nil, ToRPCError(err)
	}
	out := make([]string, len(bidders))
	for i, b := range bidders {
		out[i] = string(b)
	}
	return out, nil
}

// AuctionAmounts returns the bid amounts of an auction, aligned with AuctionBidders.
func (a *API) AuctionAmounts(ctx context.Context, auctionID uint64) ([]string, error) {
	amounts, err := a.ledger.AuctionAmounts(ctx, escrow.AuctionID(auctionID))
	if err != nil {
		return nil, ToRPCError(err)
	}
	return amountStrings(amounts), nil
}

// AuctionPrices returns the bid prices of an auction, aligned with AuctionBidders.
func (a *API) AuctionPrices(ctx context.Context, auctionID uint64) ([]string, error) {
	prices, err := a.ledger.AuctionPrices(ctx, escrow.AuctionID(auctionID))
	if err != nil {
		return nil, ToRPCError(err)
	}
	return amountStrings(prices), nil
}

// Auction returns an auction.
func (a *API) Auction(ctx context.Context, auctionID uint64) (*Auction, error) {
	auction, err := a.ledger.Auction(ctx, escrow.AuctionID(auctionID))
	if err != nil {
		return nil, ToRPCError(err)
	}
	out := auctionToWire(auction, a.ledger.Now())
	return &out, nil
}

// ListAuctions lists a page of auctions.
func (a *API) ListAuctions(ctx context.Context, q ListQuery) ([]Auction, error) {
	query := ledger.Query{Offset: q.Offset, Limit: q.Limit}
	if q.Ascending {
		query.Order = ledger.OrderAscending
	}
	auctions, err := a.ledger.ListAuctions(ctx, query)
	if err != nil {
		return nil, ToRPCError(err)
	}
	now := a.ledger.Now()
	out := make([]Auction, len(auctions))
	for i, auction := range auctions {
		out[i] = auctionToWire(auction, now)
	}
	return out, nil
}

// Bids returns the live bids of an auction in placement order.
func (a *API) Bids(ctx context.Context, auctionID uint64) ([]Bid, error) {
	bids, err := a.ledger.Bids(ctx, escrow.AuctionID(auctionID))
	if err != nil {
		return nil, ToRPCError(err)
	}
	out := make([]Bid, len(bids))
	for i, b := range bids {
		out[i] = bidToWire(b)
	}
	return out, nil
}

// Quote returns the payment and refund a prospective bid produces.
func (a *API) Quote(ctx context.Context, auctionID uint64, bidder, amount, price string) (*Quote, error) {
	am, err := parsePositional("amount", amount)
	if err != nil {
		return nil, ToRPCError(err)
	}
	pr, err := parsePositional("price", price)
	if err != nil {
		return nil, ToRPCError(err)
	}
	q, err := a.ledger.Quote(ctx, escrow.AuctionID(auctionID), escrow.Address(bidder), am, pr)
	if err != nil {
		return nil, ToRPCError(err)
	}
	return &Quote{Delta: q.Delta.String(), Payment: q.Payment.String(), Refund: q.Refund.String()}, nil
}

// Balance returns the currency held by the escrow.
func (a *API) Balance(ctx context.Context) (string, error) {
	b, err := a.ledger.Balance(ctx)
	return amountString(b), ToRPCError(err)
}

// Height returns the height of the last committed call.
func (a *API) Height(ctx context.Context) (uint64, error) {
	h, err := a.ledger.Height(ctx)
	return h, ToRPCError(err)
}

// Events returns the events within a height range. A zero to means the latest height.
func (a *API) Events(ctx context.Context, from, to uint64, limit int) ([]Event, error) {
	events, err := a.ledger.Events(ctx, ledger.EventQuery{FromHeight: from, ToHeight: to, Limit: limit})
	if err != nil {
		return nil, ToRPCError(err)
	}
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = EventToWire(e)
	}
	return out, nil
}

// PendingRefunds returns the refunds queued for an address.
func (a *API) PendingRefunds(ctx context.Context, recipient string) ([]Refund, error) {
	refunds, err := a.ledger.PendingRefunds(ctx, escrow.Address(recipient))
	if err != nil {
		return nil, ToRPCError(err)
	}
	out := make([]Refund, len(refunds))
	for i, r := range refunds {
		out[i] = RefundToWire(r)
	}
	return out, nil
}

// RealizedBalance returns the claimed refunds total of an address.
func (a *API) RealizedBalance(ctx context.Context, recipient string) (string, error) {
	b, err := a.ledger.RealizedBalance(ctx, escrow.Address(recipient))
	return amountString(b), ToRPCError(err)
}

// Audit recomputes the escrow accounting.
func (a *API) Audit(ctx context.Context) (*Report, error) {
	r, err := a.ledger.Audit(ctx)
	if err != nil {
		log.Errorf("audit failed: %s", err)
		return nil, ToRPCError(err)
	}
	return &Report{
		Held:       amountString(r.Held),
		Collateral: amountString(r.Collateral),
		Committed:  amountString(r.Committed),
		Outbox:     amountString(r.Outbox),
		Pending:    amountString(r.Pending),
		Auctions:   r.Auctions,
		Bids:       r.Bids,
	}, nil
}

func amountStrings(vs []*big.Int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = amountString(v)
	}
	return out
}
