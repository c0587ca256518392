package rpcapi

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/textileio/escrow-core/escrow"
)

// JSON-RPC error codes of escrow failures.
const (
	CodeUnauthorized      = -32001
	CodeNotFound          = -32004
	CodeClosed            = -32005
	CodePaymentMismatch   = -32006
	CodeInvalidParameters = -32602
	CodeInternal          = -32603
)

const (
	kindAuctionNotFound = "auction-not-found"
	kindBidNotFound     = "bid-not-found"
	kindUnauthorized    = "unauthorized"
)

// ErrUnauthorized indicates the call carried no valid credentials for the caller.
var ErrUnauthorized = errors.New("unauthorized")

// Error is an escrow failure carried over JSON-RPC.
type Error struct {
	code int
	kind string
	msg  string
}

// Error implements error.
func (e *Error) Error() string { return e.msg }

// ErrorCode returns the JSON-RPC error code.
func (e *Error) ErrorCode() int { return e.code }

// ErrorData returns the error kind.
func (e *Error) ErrorData() interface{} { return e.kind }

var (
	_ rpc.Error     = (*Error)(nil)
	_ rpc.DataError = (*Error)(nil)
)

// ToRPCError maps an escrow error to a JSON-RPC error.
func ToRPCError(err error) error {
	if err == nil {
		return nil
	}
	e := &Error{code: CodeInternal, kind: escrow.ErrorKind(err), msg: err.Error()}
	switch {
	case errors.Is(err, escrow.ErrBidNotFound):
		e.code, e.kind = CodeNotFound, kindBidNotFound
	case errors.Is(err, escrow.ErrNotFound):
		e.code, e.kind = CodeNotFound, kindAuctionNotFound
	case errors.Is(err, escrow.ErrClosed):
		e.code = CodeClosed
	case errors.Is(err, escrow.ErrInvalidParameters):
		e.code = CodeInvalidParameters
	case errors.Is(err, escrow.ErrPaymentMismatch):
		e.code = CodePaymentMismatch
	case errors.Is(err, ErrUnauthorized):
		e.code, e.kind = CodeUnauthorized, kindUnauthorized
	}
	return e
}

// FromRPCError maps a JSON-RPC error back to the escrow error it carries, so
// errors.Is works against the escrow sentinels on the client side.
func FromRPCError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	var sentinel error
	switch rpcErr.ErrorCode() {
	case CodeNotFound:
		sentinel = escrow.ErrAuctionNotFound
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) && dataErr.ErrorData() == kindBidNotFound {
			sentinel = escrow.ErrBidNotFound
		}
	case CodeClosed:
		sentinel = escrow.ErrClosed
	case CodeInvalidParameters:
		sentinel = escrow.ErrInvalidParameters
	case CodePaymentMismatch:
		sentinel = escrow.ErrPaymentMismatch
	case CodeUnauthorized:
		sentinel = ErrUnauthorized
	default:
		return err
	}
	return &remoteError{sentinel: sentinel, msg: err.Error()}
}

type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.sentinel }

func unauthorized(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}
