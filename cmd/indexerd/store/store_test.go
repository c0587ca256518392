package store

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/escrow-core/escrow"
	"github.com/textileio/escrow-core/tests"
)

var now = time.Unix(1650000000, 0).UTC()

func newStore(t *testing.T) *Store {
	s, err := New(tests.PostgresURL(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func created(height uint64, id escrow.AuctionID) escrow.Event {
	e := escrow.NewAuctionCreatedEvent(escrow.Auction{
		ID:           id,
		TokenID:      "tti_5649544520544f4b454e6e40",
		TotalAmount:  big.NewInt(1000),
		EndTimestamp: now.Unix() + 3600,
		Seller:       "vite_alice",
	})
	e.Height, e.Timestamp = height, now
	return e
}

func placed(height uint64, id escrow.AuctionID, bidder escrow.Address, amount, price int64) escrow.Event {
	e := escrow.NewBidPlacedEvent(escrow.Bid{
		AuctionID: id,
		Bidder:    bidder,
		Amount:    big.NewInt(amount),
		Price:     big.NewInt(price),
	})
	e.Height, e.Timestamp = height, now
	return e
}

func cancelled(height uint64, id escrow.AuctionID, bidder escrow.Address) escrow.Event {
	e := escrow.NewBidCancelledEvent(id, bidder)
	e.Height, e.Timestamp = height, now
	return e
}

func apply(t *testing.T, s *Store, events ...escrow.Event) {
	for _, e := range events {
		_, err := s.ApplyEvent(context.Background(), e)
		require.NoError(t, err)
	}
}

func TestApplyEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	apply(t, s,
		created(1, 1),
		placed(2, 1, "vite_bob", 23, 5),
		placed(3, 1, "vite_charlie", 10, 6),
		placed(4, 1, "vite_bob", 25, 5),
	)

	a, err := s.Auction(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, escrow.Address("vite_alice"), a.Seller)
	require.Equal(t, "1000", a.TotalAmount.String())
	require.Equal(t, 2, a.NumBids)
	require.Equal(t, "185", a.Escrowed.String())

	bids, err := s.Bids(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Equal(t, escrow.Address("vite_bob"), bids[0].Bidder)
	require.Equal(t, "25", bids[0].Amount.String())

	apply(t, s, cancelled(5, 1, "vite_bob"))
	bids, err = s.Bids(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, escrow.Address("vite_charlie"), bids[0].Bidder)

	h, err := s.LastHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), h)

	_, err = s.Auction(ctx, 2)
	require.ErrorIs(t, err, escrow.ErrAuctionNotFound)
}

func TestApplyEventIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	e := created(1, 1)
	applied, err := s.ApplyEvent(ctx, e)
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = s.ApplyEvent(ctx, e)
	require.NoError(t, err)
	require.False(t, applied)

	events, err := s.Events(ctx, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, escrow.EventAuctionCreated, events[0].Type)
	require.Equal(t, "1000", events[0].Amount.String())
	require.True(t, now.Equal(events[0].Timestamp))
}

func TestOutOfOrderDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	// Topics are independent, so a cancellation can arrive before the placement.
	apply(t, s,
		cancelled(3, 1, "vite_bob"),
		placed(2, 1, "vite_bob", 10, 1),
		placed(5, 1, "vite_charlie", 1, 1),
		placed(4, 1, "vite_charlie", 9, 9),
		created(1, 1),
	)

	bids, err := s.Bids(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, escrow.Address("vite_charlie"), bids[0].Bidder)
	require.Equal(t, "1", bids[0].Amount.String())

	events, err := s.Events(ctx, 2, 4, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		require.Equal(t, uint64(i+2), e.Height)
	}
}

func TestApplyHugeAmounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	huge, ok := new(big.Int).SetString("1"+strings.Repeat("0", 120), 10)
	require.True(t, ok)
	bid := escrow.NewBidPlacedEvent(escrow.Bid{
		AuctionID: 0,
		Bidder:    "vite_bob",
		Amount:    huge,
		Price:     big.NewInt(3),
	})
	bid.Height, bid.Timestamp = 2, now
	apply(t, s, created(1, 0), bid)

	bids, err := s.Bids(ctx, 0)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Zero(t, huge.Cmp(bids[0].Amount))

	a, err := s.Auction(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, new(big.Int).Mul(huge, big.NewInt(3)).Cmp(a.Escrowed))
}
