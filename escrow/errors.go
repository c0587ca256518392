package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown auction or bid.
	ErrNotFound = errors.New("not found")
	// ErrAuctionNotFound indicates the requested auction does not exist.
	ErrAuctionNotFound = fmt.Errorf("auction %w", ErrNotFound)
	// ErrBidNotFound indicates the caller has no bid on the auction.
	ErrBidNotFound = fmt.Errorf("bid %w", ErrNotFound)
	// ErrClosed indicates the auction is past its deadline.
	ErrClosed = errors.New("auction closed")
	// ErrInvalidParameters indicates a malformed or non-positive argument.
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrPaymentMismatch indicates the attached payment differs from the required amount.
	ErrPaymentMismatch = errors.New("payment mismatch")
)

// ErrorKind returns a short label for the error class of err, used in metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrInvalidParameters):
		return "invalid-parameters"
	case errors.Is(err, ErrPaymentMismatch):
		return "payment-mismatch"
	default:
		return "internal"
	}
}
