package escrow

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"time"
)

const (
	invalidStatus = "invalid"

	// TokenIDPrefix is the prefix every token type id carries.
	TokenIDPrefix = "tti_"
	// MaxAddressLength is the maximum length of an account address.
	MaxAddressLength = 128
)

var (
	tokenIDRegexp = regexp.MustCompile(`^tti_[0-9a-f]{24}$`)
	addressRegexp = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// Escrow provides the entry points and queries of an auction escrow contract.
type Escrow interface {
	// CreateAuction registers a new auction. The attached payment is the seller collateral
	// and must equal totalAmount.
	CreateAuction(ctx context.Context, call Call, tokenID TokenID, totalAmount *big.Int, endTimestamp int64) (*Receipt, error)
	// Bid places or updates the caller's bid. The attached payment must equal the increase
	// of the committed value, or be zero when it decreases or stays equal.
	Bid(ctx context.Context, call Call, id AuctionID, amount, price *big.Int) (*Receipt, error)
	// CancelBid removes the caller's bid and queues a refund of its committed value.
	CancelBid(ctx context.Context, call Call, id AuctionID) (*Receipt, error)
	// Claim realizes every refund queued for the caller.
	Claim(ctx context.Context, call Call) (*Claim, error)
}

// AuctionID is the sequential identifier of an auction.
type AuctionID uint64

// String returns the decimal form of the id.
func (id AuctionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseAuctionID parses a decimal auction id.
func ParseAuctionID(s string) (AuctionID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: auction id %q", ErrInvalidParameters, s)
	}
	return AuctionID(v), nil
}

// Address identifies an account.
type Address string

// Validate checks that the address can be used as a caller or recipient.
func (a Address) Validate() error {
	if a == "" {
		return fmt.Errorf("%w: address is empty", ErrInvalidParameters)
	}
	if len(a) > MaxAddressLength || !addressRegexp.MatchString(string(a)) || a == "." || a == ".." {
		return fmt.Errorf("%w: malformed address %q", ErrInvalidParameters, string(a))
	}
	return nil
}

// TokenID identifies the token type offered in an auction.
type TokenID string

// ParseTokenID validates s and returns it as a TokenID.
func ParseTokenID(s string) (TokenID, error) {
	if !tokenIDRegexp.MatchString(s) {
		return "", fmt.Errorf("%w: malformed token id %q", ErrInvalidParameters, s)
	}
	return TokenID(s), nil
}

// Call carries the identity of the caller and the payment attached to a call.
type Call struct {
	Caller Address
	// Payment is the attached amount. Nil means nothing attached.
	Payment *big.Int
}

// AttachedPayment returns the attached amount, zero when nothing is attached.
func (c Call) AttachedPayment() *big.Int {
	if c.Payment == nil {
		return new(big.Int)
	}
	return c.Payment
}

// Auction is a registered sale.
type Auction struct {
	ID           AuctionID
	TokenID      TokenID
	TotalAmount  *big.Int
	EndTimestamp int64
	Seller       Address
	NumBids      int
	// Escrowed is the sum of the committed values of the live bids.
	Escrowed  *big.Int
	Height    uint64
	CreatedAt time.Time
}

// Status returns whether the auction accepts bids at t.
func (a Auction) Status(t time.Time) AuctionStatus {
	if t.Unix() < a.EndTimestamp {
		return AuctionOpen
	}
	return AuctionClosed
}

// AuctionStatus is the status of an auction.
type AuctionStatus int

const (
	// AuctionUnknown is an invalid status value. Defined for safety.
	AuctionUnknown AuctionStatus = iota
	// AuctionOpen indicates the auction accepts bids and cancellations.
	AuctionOpen
	// AuctionClosed indicates the auction deadline passed.
	AuctionClosed
)

// String returns a string-encoded status.
func (s AuctionStatus) String() string {
	switch s {
	case AuctionUnknown:
		return "unknown"
	case AuctionOpen:
		return "open"
	case AuctionClosed:
		return "closed"
	default:
		return invalidStatus
	}
}

// Bid is a bidder commitment on an auction.
type Bid struct {
	AuctionID AuctionID
	Bidder    Address
	Amount    *big.Int
	Price     *big.Int
	PlacedAt  time.Time
	UpdatedAt time.Time
}

// Committed returns the currency escrowed for the bid.
func (b Bid) Committed() *big.Int {
	return Committed(b.Amount, b.Price)
}

// Committed returns amount * price. Nil operands count as zero.
func Committed(amount, price *big.Int) *big.Int {
	if amount == nil || price == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(amount, price)
}

// RefundReason describes why a refund was queued.
type RefundReason int

const (
	// RefundUnknown is an invalid reason value. Defined for safety.
	RefundUnknown RefundReason = iota
	// RefundBidDecreased indicates a bid update lowered the committed value.
	RefundBidDecreased
	// RefundBidCancelled indicates a bid was cancelled.
	RefundBidCancelled
)

// String returns a string-encoded reason.
func (r RefundReason) String() string {
	switch r {
	case RefundUnknown:
		return "unknown"
	case RefundBidDecreased:
		return "bid-decreased"
	case RefundBidCancelled:
		return "bid-cancelled"
	default:
		return invalidStatus
	}
}

// ParseRefundReason parses a string-encoded reason.
func ParseRefundReason(s string) (RefundReason, error) {
	for _, r := range []RefundReason{RefundBidDecreased, RefundBidCancelled} {
		if r.String() == s {
			return r, nil
		}
	}
	return RefundUnknown, fmt.Errorf("unknown refund reason %q", s)
}

// Refund is an outbound payment waiting to be claimed by its recipient.
type Refund struct {
	ID        string
	Recipient Address
	Amount    *big.Int
	AuctionID AuctionID
	Reason    RefundReason
	Height    uint64
	CreatedAt time.Time
}

// Receipt describes the effects of a committed state-changing call.
type Receipt struct {
	Height    uint64
	AuctionID AuctionID
	Events    []Event
	// Refunds lists the refunds queued by the call.
	Refunds []Refund
}

// Claim describes the refunds realized by a claim call.
type Claim struct {
	Recipient Address
	Height    uint64
	Refunds   []Refund
	// Total is the sum of the realized refunds.
	Total *big.Int
	// Balance is the realized balance of the recipient after the claim.
	Balance *big.Int
}
