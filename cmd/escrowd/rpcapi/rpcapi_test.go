package rpcapi

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/escrow-core/auth"
	"github.com/textileio/escrow-core/cmd/escrowd/ledger"
	"github.com/textileio/escrow-core/escrow"
	badger "github.com/textileio/go-ds-badger3"
)

const tokenID = "tti_5649544520544f4b454e6e40"

func newServer(t *testing.T, requireAuth bool) *rpc.Server {
	s, err := badger.NewDatastore(t.TempDir(), &badger.DefaultOptions)
	require.NoError(t, err)
	l, err := ledger.New(s)
	require.NoError(t, err)
	server, err := NewServer(l, requireAuth)
	require.NoError(t, err)
	t.Cleanup(func() {
		server.Stop()
		require.NoError(t, l.Close())
		require.NoError(t, s.Close())
	})
	return server
}

func newClient(t *testing.T) *rpc.Client {
	c := rpc.DialInProc(newServer(t, false))
	t.Cleanup(c.Close)
	return c
}

func endTimestamp() int64 {
	return time.Now().Add(time.Hour).Unix()
}

func TestAuctionLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newClient(t)

	var r Receipt
	err := c.CallContext(ctx, &r, "escrow_createAuction",
		CallOpts{Caller: "vite_alice", Payment: "100"}, tokenID, "100", endTimestamp())
	require.NoError(t, err)
	require.Equal(t, uint64(0), r.AuctionID)
	require.Equal(t, uint64(1), r.Height)
	id := r.AuctionID
	require.Len(t, r.Events, 1)
	require.Equal(t, escrow.EventAuctionCreated.String(), r.Events[0].Type)

	err = c.CallContext(ctx, &r, "escrow_bid", CallOpts{Caller: "vite_bob", Payment: "50"}, id, "10", "5")
	require.NoError(t, err)
	err = c.CallContext(ctx, &r, "escrow_bid", CallOpts{Caller: "vite_bob"}, id, "4", "5")
	require.NoError(t, err)
	require.Len(t, r.Refunds, 1)
	require.Equal(t, "30", r.Refunds[0].Amount)
	require.Equal(t, "vite_bob", r.Refunds[0].Recipient)

	var info BidInfo
	require.NoError(t, c.CallContext(ctx, &info, "escrow_bidInfo", id, "vite_bob"))
	require.Equal(t, BidInfo{Amount: "4", Price: "5"}, info)

	var bidders []string
	require.NoError(t, c.CallContext(ctx, &bidders, "escrow_auctionBidders", id))
	require.Equal(t, []string{"vite_bob"}, bidders)

	var auction Auction
	require.NoError(t, c.CallContext(ctx, &auction, "escrow_auction", id))
	assert.Equal(t, "20", auction.Escrowed)
	assert.Equal(t, 1, auction.NumBids)
	assert.Equal(t, escrow.AuctionOpen.String(), auction.Status)

	var auctions []Auction
	require.NoError(t, c.CallContext(ctx, &auctions, "escrow_listAuctions", ListQuery{}))
	require.Len(t, auctions, 1)
	assert.Equal(t, id, auctions[0].ID)

	var balance string
	require.NoError(t, c.CallContext(ctx, &balance, "escrow_balance"))
	require.Equal(t, "120", balance)

	var claim Claim
	require.NoError(t, c.CallContext(ctx, &claim, "escrow_claim", CallOpts{Caller: "vite_bob"}))
	require.Equal(t, "30", claim.Total)
	decoded, err := ClaimFromWire(&claim)
	require.NoError(t, err)
	require.Len(t, decoded.Refunds, 1)
	require.Equal(t, escrow.RefundBidDecreased, decoded.Refunds[0].Reason)

	var events []Event
	require.NoError(t, c.CallContext(ctx, &events, "escrow_events", 0, 0, 0))
	require.Len(t, events, 3)

	var report Report
	require.NoError(t, c.CallContext(ctx, &report, "escrow_audit"))
	require.Equal(t, "120", report.Held)
	require.Equal(t, 1, report.Auctions)
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newClient(t)

	var r Receipt
	require.NoError(t, c.CallContext(ctx, &r, "escrow_createAuction",
		CallOpts{Caller: "vite_alice", Payment: "100"}, tokenID, "100", endTimestamp()))
	id := r.AuctionID

	tests := []struct {
		name     string
		method   string
		args     []interface{}
		code     int
		sentinel error
	}{
		{"unknown auction", "escrow_auction", []interface{}{7}, CodeNotFound, escrow.ErrAuctionNotFound},
		{"unknown bid", "escrow_bidInfo", []interface{}{id, "vite_bob"}, CodeNotFound, escrow.ErrBidNotFound},
		{
			"short payment", "escrow_bid",
			[]interface{}{CallOpts{Caller: "vite_bob", Payment: "1"}, id, "10", "5"},
			CodePaymentMismatch, escrow.ErrPaymentMismatch,
		},
		{
			"malformed amount", "escrow_bid",
			[]interface{}{CallOpts{Caller: "vite_bob"}, id, "ten", "5"},
			CodeInvalidParameters, escrow.ErrInvalidParameters,
		},
		{
			"negative payment", "escrow_claim",
			[]interface{}{CallOpts{Caller: "vite_bob", Payment: "-1"}},
			CodeInvalidParameters, escrow.ErrInvalidParameters,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := c.CallContext(ctx, nil, tc.method, tc.args...)
			require.Error(t, err)
			var rpcErr rpc.Error
			require.True(t, errors.As(err, &rpcErr))
			require.Equal(t, tc.code, rpcErr.ErrorCode())
			require.ErrorIs(t, FromRPCError(err), tc.sentinel)
		})
	}
}

func TestToRPCError(t *testing.T) {
	t.Parallel()
	require.NoError(t, ToRPCError(nil))

	var e *Error
	require.True(t, errors.As(ToRPCError(escrow.ErrClosed), &e))
	require.Equal(t, CodeClosed, e.ErrorCode())
	require.Equal(t, "closed", e.ErrorData())

	require.True(t, errors.As(ToRPCError(errors.New("disk on fire")), &e))
	require.Equal(t, CodeInternal, e.ErrorCode())

	require.True(t, errors.As(ToRPCError(unauthorized("nope")), &e))
	require.Equal(t, CodeUnauthorized, e.ErrorCode())

	other := errors.New("transport")
	require.Equal(t, other, FromRPCError(other))
}

func TestAuthenticatedCaller(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := auth.NewJWTAuthorizer("s3cret")
	require.NoError(t, err)
	srv := httptest.NewServer(auth.Middleware(a, newServer(t, true)))
	t.Cleanup(srv.Close)

	token, err := auth.NewToken("s3cret", "test", "vite_alice", time.Minute)
	require.NoError(t, err)
	c, err := rpc.DialHTTP(srv.URL)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	c.SetHeader("Authorization", "Bearer "+token)

	var r Receipt
	err = c.CallContext(ctx, &r, "escrow_createAuction",
		CallOpts{Caller: "vite_mallory", Payment: "100"}, tokenID, "100", endTimestamp())
	require.ErrorIs(t, FromRPCError(err), ErrUnauthorized)

	err = c.CallContext(ctx, &r, "escrow_createAuction", CallOpts{Payment: "100"}, tokenID, "100", endTimestamp())
	require.NoError(t, err)
	var auction Auction
	require.NoError(t, c.CallContext(ctx, &auction, "escrow_auction", r.AuctionID))
	require.Equal(t, "vite_alice", auction.Seller)
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	t.Parallel()
	c := rpc.DialInProc(newServer(t, true))
	t.Cleanup(c.Close)

	var r Receipt
	err := c.CallContext(context.Background(), &r, "escrow_createAuction",
		CallOpts{Caller: "vite_alice", Payment: "100"}, tokenID, "100", endTimestamp())
	require.ErrorIs(t, FromRPCError(err), ErrUnauthorized)

	var h uint64
	require.NoError(t, c.CallContext(context.Background(), &h, "escrow_height"))
	require.Equal(t, uint64(0), h)
}
