package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/textileio/escrow-core/cmd/escrowd/ledger"
	"github.com/textileio/escrow-core/cmd/escrowd/rpcapi"
	"github.com/textileio/escrow-core/escrow"
	escrowrpc "github.com/textileio/escrow-core/rpc"
)

// Client provides the escrow api.
type Client struct {
	c *rpc.Client
}

var _ escrow.Escrow = (*Client)(nil)

// NewClient dials the escrow daemon at addr. A non-empty token is sent as a bearer token.
func NewClient(addr, token string) (*Client, error) {
	c, err := escrowrpc.Dial(addr, escrowrpc.Credentials{Token: token})
	if err != nil {
		return nil, err
	}
	return New(c), nil
}

// New returns a client over an established JSON-RPC connection.
func New(c *rpc.Client) *Client {
	return &Client{c: c}
}

// Close closes the connection and cancels any active requests.
func (c *Client) Close() error {
	c.c.Close()
	return nil
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := c.c.CallContext(ctx, result, rpcapi.Namespace+"_"+method, args...); err != nil {
		return rpcapi.FromRPCError(err)
	}
	return nil
}

func callOpts(call escrow.Call) rpcapi.CallOpts {
	return rpcapi.CallOpts{
		Caller:  string(call.Caller),
		Payment: call.AttachedPayment().String(),
	}
}

// CreateAuction registers an auction.
func (c *Client) CreateAuction(
	ctx context.Context,
	call escrow.Call,
	tokenID escrow.TokenID,
	totalAmount *big.Int,
	endTimestamp int64) (*escrow.Receipt, error) {
	var r rpcapi.Receipt
	if err := c.call(ctx, &r, "createAuction", callOpts(call), tokenID, totalAmount.String(), endTimestamp); err != nil {
		return nil, err
	}
	return rpcapi.ReceiptFromWire(&r)
}

// Bid places or updates the caller bid.
func (c *Client) Bid(
	ctx context.Context,
	call escrow.Call,
	id escrow.AuctionID,
	amount, price *big.Int) (*escrow.Receipt, error) {
	var r rpcapi.Receipt
	if err := c.call(ctx, &r, "bid", callOpts(call), id, amount.String(), price.String()); err != nil {
		return nil, err
	}
	return rpcapi.ReceiptFromWire(&r)
}

// CancelBid cancels the caller bid.
func (c *Client) CancelBid(ctx context.Context, call escrow.Call, id escrow.AuctionID) (*escrow.Receipt, error) {
	var r rpcapi.Receipt
	if err := c.call(ctx, &r, "cancelBid", callOpts(call), id); err != nil {
		return nil, err
	}
	return rpcapi.ReceiptFromWire(&r)
}

// Claim delivers the caller queued refunds.
func (c *Client) Claim(ctx context.Context, call escrow.Call) (*escrow.Claim, error) {
	var r rpcapi.Claim
	if err := c.call(ctx, &r, "claim", callOpts(call)); err != nil {
		return nil, err
	}
	return rpcapi.ClaimFromWire(&r)
}

// AuctionTokenID returns the token of an auction.
func (c *Client) AuctionTokenID(ctx context.Context, id escrow.AuctionID) (escrow.TokenID, error) {
	var tokenID string
	if err := c.call(ctx, &tokenID, "auctionTokenID", id); err != nil {
		return "", err
	}
	return escrow.TokenID(tokenID), nil
}

// AuctionAmount returns the quantity offered in an auction.
func (c *Client) AuctionAmount(ctx context.Context, id escrow.AuctionID) (*big.Int, error) {
	return c.amount(ctx, "auctionAmount", id)
}

// AuctionEndTimestamp returns the deadline of an auction.
func (c *Client) AuctionEndTimestamp(ctx context.Context, id escrow.AuctionID) (int64, error) {
	var ts int64
	err := c.call(ctx, &ts, "auctionEndTimestamp", id)
	return ts, err
}

// AuctionNumBids returns the number of live bids of an auction.
func (c *Client) AuctionNumBids(ctx context.Context, id escrow.AuctionID) (int, error) {
	var n int
	err := c.call(ctx, &n, "auctionNumBids", id)
	return n, err
}

// BidExists returns whether bidder has a live bid on an auction.
func (c *Client) BidExists(ctx context.Context, id escrow.AuctionID, bidder escrow.Address) (bool, error) {
	var exists bool
	err := c.call(ctx, &exists, "bidExists", id, bidder)
	return exists, err
}

// BidInfo returns the amount and price of a bid.
func (c *Client) BidInfo(ctx context.Context, id escrow.AuctionID, bidder escrow.Address) (amount, price *big.Int, err error) {
	var info rpcapi.BidInfo
	if err := c.call(ctx, &info, "bidInfo", id, bidder); err != nil {
		return nil, nil, err
	}
	if amount, err = escrow.ParseAmount(info.Amount); err != nil {
		return nil, nil, err
	}
	if price, err = escrow.ParseAmount(info.Price); err != nil {
		return nil, nil, err
	}
	return amount, price, nil
}

// AuctionBidders returns the bidders of an auction in placement order.
func (c *Client) AuctionBidders(ctx context.Context, id escrow.AuctionID) ([]escrow.Address, error) {
	var bidders []string
	if err := c.call(ctx, &bidders, "auctionBidders", id); err != nil {
		return nil, err
	}
	out := make([]escrow.Address, len(bidders))
	for i, b := range bidders {
		out[i] = escrow.Address(b)
	}
	return out, nil
}

// AuctionAmounts returns the bid amounts of an auction, aligned with AuctionBidders.
func (c *Client) AuctionAmounts(ctx context.Context, id escrow.AuctionID) ([]*big.Int, error) {
	return c.amounts(ctx, "auctionAmounts", id)
}

// AuctionPrices returns the bid prices of an auction, aligned with AuctionBidders.
func (c *Client) AuctionPrices(ctx context.Context, id escrow.AuctionID) ([]*big.Int, error) {
	return c.amounts(ctx, "auctionPrices", id)
}

// Auction returns an auction and its status.
func (c *Client) Auction(ctx context.Context, id escrow.AuctionID) (escrow.Auction, escrow.AuctionStatus, error) {
	var a rpcapi.Auction
	if err := c.call(ctx, &a, "auction", id); err != nil {
		return escrow.Auction{}, escrow.AuctionUnknown, err
	}
	return auctionFromWire(a)
}

// AuctionWithStatus is an auction and the status the daemon reported for it.
type AuctionWithStatus struct {
	escrow.Auction
	Status escrow.AuctionStatus
}

// ListAuctions lists a page of auctions.
func (c *Client) ListAuctions(ctx context.Context, q rpcapi.ListQuery) ([]AuctionWithStatus, error) {
	var auctions []rpcapi.Auction
	if err := c.call(ctx, &auctions, "listAuctions", q); err != nil {
		return nil, err
	}
	out := make([]AuctionWithStatus, len(auctions))
	for i, a := range auctions {
		auction, status, err := auctionFromWire(a)
		if err != nil {
			return nil, err
		}
		out[i] = AuctionWithStatus{Auction: auction, Status: status}
	}
	return out, nil
}

// Bids returns the live bids of an auction in placement order.
func (c *Client) Bids(ctx context.Context, id escrow.AuctionID) ([]escrow.Bid, error) {
	var bids []rpcapi.Bid
	if err := c.call(ctx, &bids, "bids", id); err != nil {
		return nil, err
	}
	out := make([]escrow.Bid, len(bids))
	for i, b := range bids {
		amount, err := escrow.ParseAmount(b.Amount)
		if err != nil {
			return nil, err
		}
		price, err := escrow.ParseAmount(b.Price)
		if err != nil {
			return nil, err
		}
		out[i] = escrow.Bid{
			AuctionID: escrow.AuctionID(b.AuctionID),
			Bidder:    escrow.Address(b.Bidder),
			Amount:    amount,
			Price:     price,
			PlacedAt:  time.Unix(b.PlacedAt, 0),
			UpdatedAt: time.Unix(b.UpdatedAt, 0),
		}
	}
	return out, nil
}

// Quote returns the payment and refund a prospective bid produces.
func (c *Client) Quote(
	ctx context.Context,
	id escrow.AuctionID,
	bidder escrow.Address,
	amount, price *big.Int) (ledger.Quote, error) {
	var q rpcapi.Quote
	if err := c.call(ctx, &q, "quote", id, bidder, amount.String(), price.String()); err != nil {
		return ledger.Quote{}, err
	}
	var out ledger.Quote
	delta, ok := new(big.Int).SetString(q.Delta, 10)
	if !ok {
		return ledger.Quote{}, fmt.Errorf("malformed quote delta %q", q.Delta)
	}
	out.Delta = delta
	var err error
	if out.Payment, err = escrow.ParseAmount(q.Payment); err != nil {
		return ledger.Quote{}, err
	}
	if out.Refund, err = escrow.ParseAmount(q.Refund); err != nil {
		return ledger.Quote{}, err
	}
	return out, nil
}

// Balance returns the currency held by the escrow.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	return c.amount(ctx, "balance")
}

// Height returns the height of the last committed call.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	var h uint64
	err := c.call(ctx, &h, "height")
	return h, err
}

// Events returns the events within a height range. A zero to means the latest height.
func (c *Client) Events(ctx context.Context, from, to uint64, limit int) ([]escrow.Event, error) {
	var events []rpcapi.Event
	if err := c.call(ctx, &events, "events", from, to, limit); err != nil {
		return nil, err
	}
	out := make([]escrow.Event, len(events))
	for i, e := range events {
		ev, err := rpcapi.EventFromWire(e)
		if err != nil {
			return nil, fmt.Errorf("decoding event: %v", err)
		}
		out[i] = ev
	}
	return out, nil
}

// PendingRefunds returns the refunds queued for an address.
func (c *Client) PendingRefunds(ctx context.Context, recipient escrow.Address) ([]escrow.Refund, error) {
	var refunds []rpcapi.Refund
	if err := c.call(ctx, &refunds, "pendingRefunds", recipient); err != nil {
		return nil, err
	}
	out := make([]escrow.Refund, len(refunds))
	for i, r := range refunds {
		refund, err := rpcapi.RefundFromWire(r)
		if err != nil {
			return nil, fmt.Errorf("decoding refund: %v", err)
		}
		out[i] = refund
	}
	return out, nil
}

// RealizedBalance returns the claimed refunds total of an address.
func (c *Client) RealizedBalance(ctx context.Context, recipient escrow.Address) (*big.Int, error) {
	return c.amount(ctx, "realizedBalance", recipient)
}

// Audit asks the daemon to recompute the escrow accounting.
func (c *Client) Audit(ctx context.Context) (*rpcapi.Report, error) {
	var r rpcapi.Report
	if err := c.call(ctx, &r, "audit"); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) amount(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	var s string
	if err := c.call(ctx, &s, method, args...); err != nil {
		return nil, err
	}
	return escrow.ParseAmount(s)
}

func (c *Client) amounts(ctx context.Context, method string, args ...interface{}) ([]*big.Int, error) {
	var ss []string
	if err := c.call(ctx, &ss, method, args...); err != nil {
		return nil, err
	}
	out := make([]*big.Int, len(ss))
	for i, s := range ss {
		v, err := escrow.ParseAmount(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func auctionFromWire(a rpcapi.Auction) (escrow.Auction, escrow.AuctionStatus, error) {
	total, err := escrow.ParseAmount(a.TotalAmount)
	if err != nil {
		return escrow.Auction{}, escrow.AuctionUnknown, err
	}
	escrowed, err := escrow.ParseAmount(a.Escrowed)
	if err != nil {
		return escrow.Auction{}, escrow.AuctionUnknown, err
	}
	status := escrow.AuctionClosed
	if a.Status == escrow.AuctionOpen.String() {
		status = escrow.AuctionOpen
	}
	return escrow.Auction{
		ID:           escrow.AuctionID(a.ID),
		TokenID:      escrow.TokenID(a.TokenID),
		TotalAmount:  total,
		EndTimestamp: a.EndTimestamp,
		Seller:       escrow.Address(a.Seller),
		NumBids:      a.NumBids,
		Escrowed:     escrowed,
		Height:       a.Height,
		CreatedAt:    time.Unix(a.CreatedAt, 0),
	}, status, nil
}
