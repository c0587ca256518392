package ledger

import (
	"context"
	"math"
	"math/big"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/escrow-core/escrow"
	badger "github.com/textileio/go-ds-badger3"
	logging "github.com/textileio/go-log/v2"
)

const (
	tokenID = escrow.TokenID("tti_5649544520544f4b454e6e40")
	alice   = escrow.Address("vite_alice")
	bob     = escrow.Address("vite_bob")
	charlie = escrow.Address("vite_charlie")
)

var startTime = time.Unix(100000, 0)

func init() {
	if err := logging.SetLogLevel(LogName, "debug"); err != nil {
		panic(err)
	}
}

type fakeClock struct {
	lk  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	lk     sync.Mutex
	events []escrow.Event
}

func (r *eventRecorder) handle(_ context.Context, events []escrow.Event) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.events = append(r.events, events...)
}

func (r *eventRecorder) all() []escrow.Event {
	r.lk.Lock()
	defer r.lk.Unlock()
	return append([]escrow.Event(nil), r.events...)
}

type testLedger struct {
	*Ledger
	clock  *fakeClock
	events *eventRecorder
	store  *badger.Datastore
}

func newLedger(t *testing.T) *testLedger {
	s, err := badger.NewDatastore(t.TempDir(), &badger.DefaultOptions)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return openLedger(t, s)
}

func openLedger(t *testing.T, s *badger.Datastore) *testLedger {
	clock := &fakeClock{now: startTime}
	rec := &eventRecorder{}
	l, err := New(s, WithClock(clock.Now), WithEventHandler(rec.handle))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, l.Close())
	})
	return &testLedger{Ledger: l, clock: clock, events: rec, store: s}
}

func pay(caller escrow.Address, amount int64) escrow.Call {
	return escrow.Call{Caller: caller, Payment: big.NewInt(amount)}
}

func n(v int64) *big.Int {
	return big.NewInt(v)
}

func (tl *testLedger) createAuction(t *testing.T, total int64) escrow.AuctionID {
	r, err := tl.CreateAuction(context.Background(), pay(alice, total), tokenID, n(total), startTime.Unix()+3600)
	require.NoError(t, err)
	return r.AuctionID
}

func (tl *testLedger) requireBalance(t *testing.T, expected int64) {
	ctx := context.Background()
	balance, err := tl.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, n(expected).String(), balance.String())
	_, err = tl.Audit(ctx)
	require.NoError(t, err)
}

func TestCreateAuction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)

	end := startTime.Unix() + 3600
	r, err := l.CreateAuction(ctx, pay(alice, 55), tokenID, n(55), end)
	require.NoError(t, err)
	assert.Equal(t, escrow.AuctionID(0), r.AuctionID)
	assert.Equal(t, uint64(1), r.Height)
	require.Len(t, r.Events, 1)
	e := r.Events[0]
	assert.Equal(t, escrow.EventAuctionCreated, e.Type)
	assert.Equal(t, escrow.AuctionID(0), e.AuctionID)
	assert.Equal(t, tokenID, e.TokenID)
	assert.Equal(t, alice, e.Seller)
	assert.Equal(t, "55", e.Amount.String())
	assert.Equal(t, end, e.EndTimestamp)
	assert.Empty(t, r.Refunds)

	r, err = l.CreateAuction(ctx, pay(bob, 7), tokenID, n(7), end)
	require.NoError(t, err)
	assert.Equal(t, escrow.AuctionID(1), r.AuctionID)

	tid, err := l.AuctionTokenID(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, tokenID, tid)
	amount, err := l.AuctionAmount(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "55", amount.String())
	ts, err := l.AuctionEndTimestamp(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, end, ts)
	numBids, err := l.AuctionNumBids(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, numBids)

	a, err := l.Auction(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, bob, a.Seller)
	assert.Equal(t, escrow.AuctionOpen, a.Status(l.clock.Now()))

	_, err = l.Auction(ctx, 2)
	require.ErrorIs(t, err, escrow.ErrAuctionNotFound)
	require.ErrorIs(t, err, escrow.ErrNotFound)

	l.requireBalance(t, 62)
	assert.Len(t, l.events.all(), 2)
}

func TestCreateAuctionRejected(t *testing.T) {
	t.Parallel()

	end := startTime.Unix() + 60
	tests := []struct {
		name   string
		call   escrow.Call
		token  escrow.TokenID
		total  *big.Int
		end    int64
		target error
	}{
		{"no payment", escrow.Call{Caller: alice}, tokenID, n(55), end, escrow.ErrPaymentMismatch},
		{"underpaid", pay(alice, 54), tokenID, n(55), end, escrow.ErrPaymentMismatch},
		{"overpaid", pay(alice, 56), tokenID, n(55), end, escrow.ErrPaymentMismatch},
		{"negative payment", pay(alice, -55), tokenID, n(55), end, escrow.ErrInvalidParameters},
		{"zero total", pay(alice, 0), tokenID, n(0), end, escrow.ErrInvalidParameters},
		{"negative total", pay(alice, 0), tokenID, n(-1), end, escrow.ErrInvalidParameters},
		{"nil total", pay(alice, 0), tokenID, nil, end, escrow.ErrInvalidParameters},
		{"deadline now", pay(alice, 55), tokenID, n(55), startTime.Unix(), escrow.ErrInvalidParameters},
		{"deadline past", pay(alice, 55), tokenID, n(55), startTime.Unix() - 1, escrow.ErrInvalidParameters},
		{"bad token", pay(alice, 55), "VITE", n(55), end, escrow.ErrInvalidParameters},
		{"no caller", escrow.Call{Payment: n(55)}, tokenID, n(55), end, escrow.ErrInvalidParameters},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			l := newLedger(t)

			_, err := l.CreateAuction(ctx, tc.call, tc.token, tc.total, tc.end)
			require.ErrorIs(t, err, tc.target)

			auctions, err := l.ListAuctions(ctx, Query{})
			require.NoError(t, err)
			assert.Empty(t, auctions)
			height, err := l.Height(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(0), height)
			events, err := l.Events(ctx, EventQuery{})
			require.NoError(t, err)
			assert.Empty(t, events)
			assert.Empty(t, l.events.all())
			l.requireBalance(t, 0)

			// The next successful creation still gets the first id.
			id := l.createAuction(t, 55)
			assert.Equal(t, escrow.AuctionID(0), id)
		})
	}
}

func TestBidIncrease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)
	id := l.createAuction(t, 55)
	l.requireBalance(t, 55)

	r, err := l.Bid(ctx, pay(bob, 60), id, n(12), n(5))
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	assert.Equal(t, escrow.EventBidPlaced, r.Events[0].Type)
	assert.Equal(t, bob, r.Events[0].Bidder)
	assert.Equal(t, "12", r.Events[0].Amount.String())
	assert.Equal(t, "5", r.Events[0].Price.String())
	assert.Empty(t, r.Refunds)
	l.requireBalance(t, 115)

	_, err = l.Bid(ctx, pay(bob, 10), id, n(14), n(5))
	require.NoError(t, err)
	l.requireBalance(t, 125)

	exists, err := l.BidExists(ctx, id, bob)
	require.NoError(t, err)
	assert.True(t, exists)
	amount, price, err := l.BidInfo(ctx, id, bob)
	require.NoError(t, err)
	assert.Equal(t, "14", amount.String())
	assert.Equal(t, "5", price.String())

	a, err := l.Auction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "70", a.Escrowed.String())
	assert.Equal(t, 1, a.NumBids)
}

func TestBidDecreaseQueuesRefund(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)
	id := l.createAuction(t, 55)

	_, err := l.Bid(ctx, pay(bob, 60), id, n(12), n(5))
	require.NoError(t, err)
	l.requireBalance(t, 115)

	// Attaching anything to a decrease is rejected.
	_, err = l.Bid(ctx, pay(bob, 1), id, n(9), n(5))
	require.ErrorIs(t, err, escrow.ErrPaymentMismatch)
	l.requireBalance(t, 115)

	r, err := l.Bid(ctx, escrow.Call{Caller: bob}, id, n(9), n(5))
	require.NoError(t, err)
	require.Len(t, r.Refunds, 1)
	assert.Equal(t, "15", r.Refunds[0].Amount.String())
	assert.Equal(t, bob, r.Refunds[0].Recipient)
	assert.Equal(t, escrow.RefundBidDecreased, r.Refunds[0].Reason)
	assert.Equal(t, r.Height, r.Refunds[0].Height)
	l.requireBalance(t, 100)

	// The refund waits in the outbox until bob claims it.
	pending, err := l.PendingRefunds(ctx, bob)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, r.Refunds[0].ID, pending[0].ID)
	realized, err := l.RealizedBalance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 0, realized.Sign())
	outbox, err := l.Outbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, "15", outbox.String())

	c, err := l.Claim(ctx, escrow.Call{Caller: bob})
	require.NoError(t, err)
	assert.Equal(t, "15", c.Total.String())
	assert.Equal(t, "15", c.Balance.String())
	require.Len(t, c.Refunds, 1)

	l.requireBalance(t, 100)
	pending, err = l.PendingRefunds(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, pending)
	realized, err = l.RealizedBalance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "15", realized.String())
	outbox, err = l.Outbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, outbox.Sign())
}

func TestBidPriceIncreaseRequiresExactDelta(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)
	id := l.createAuction(t, 55)

	_, err := l.Bid(ctx, pay(bob, 60), id, n(12), n(5))
	require.NoError(t, err)

	q, err := l.Quote(ctx, id, bob, n(12), n(11))
	require.NoError(t, err)
	assert.Equal(t, "72", q.Payment.String())
	assert.Equal(t, "72", q.Delta.String())
	assert.Equal(t, 0, q.Refund.Sign())

	for _, wrong := range []int64{0, 71, 73, 132} {
		_, err = l.Bid(ctx, pay(bob, wrong), id, n(12), n(11))
		require.ErrorIs(t, err, escrow.ErrPaymentMismatch)
	}
	l.requireBalance(t, 115)

	_, err = l.Bid(ctx, pay(bob, 72), id, n(12), n(11))
	require.NoError(t, err)
	l.requireBalance(t, 187)
}

func TestIdenticalRebid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)
	id := l.createAuction(t, 55)

	_, err := l.Bid(ctx, pay(bob, 60), id, n(12), n(5))
	require.NoError(t, err)

	_, err = l.Bid(ctx, pay(bob, 60), id, n(12), n(5))
	require.ErrorIs(t, err, escrow.ErrPaymentMismatch)

	r, err := l.Bid(ctx, escrow.Call{Caller: bob}, id, n(12), n(5))
	require.NoError(t, err)
	assert.Empty(t, r.Refunds)
	require.Len(t, r.Events, 1)
	assert.Equal(t, escrow.EventBidPlaced, r.Events[0].Type)
	l.requireBalance(t, 115)

	var placed int
	for _, e := range l.events.all() {
		if e.Type == escrow.EventBidPlaced {
			placed++
		}
	}
	assert.Equal(t, 2, placed)
}

func TestCancelBid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)
	id := l.createAuction(t, 55)

	_, err := l.CancelBid(ctx, escrow.Call{Caller: bob}, id)
	require.ErrorIs(t, err, escrow.ErrBidNotFound)
	_, err = l.CancelBid(ctx, escrow.Call{Caller: bob}, id+1)
	require.ErrorIs(t, err, escrow.ErrAuctionNotFound)

	_, err = l.Bid(ctx, pay(bob, 60), id, n(12), n(5))
	require.NoError(t, err)

	_, err = l.CancelBid(ctx, pay(bob, 1), id)
	require.ErrorIs(t, err, escrow.ErrPaymentMismatch)

	r, err := l.CancelBid(ctx, escrow.Call{Caller: bob}, id)
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	e := r.Events[0]
	assert.Equal(t, escrow.EventBidCancelled, e.Type)
	assert.Equal(t, bob, e.Bidder)
	assert.Nil(t, e.Amount)
	assert.Nil(t, e.Price)
	require.Len(t, r.Refunds, 1)
	assert.Equal(t, "60", r.Refunds[0].Amount.String())
	assert.Equal(t, escrow.RefundBidCancelled, r.Refunds[0].Reason)
	l.requireBalance(t, 55)

	exists, err := l.BidExists(ctx, id, bob)
	require.NoError(t, err)
	assert.False(t, exists)
	_, _, err = l.BidInfo(ctx, id, bob)
	require.ErrorIs(t, err, escrow.ErrBidNotFound)

	bidders, err := l.AuctionBidders(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, bidders)
	amounts, err := l.AuctionAmounts(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, amounts)
	prices, err := l.AuctionPrices(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, prices)
	numBids, err := l.AuctionNumBids(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, numBids)

	c, err := l.Claim(ctx, escrow.Call{Caller: bob})
	require.NoError(t, err)
	assert.Equal(t, "60", c.Total.String())

	_, err = l.CancelBid(ctx, escrow.Call{Caller: bob}, id)
	require.ErrorIs(t, err, escrow.ErrBidNotFound)
}

func TestAggregateViewsOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)
	id := l.createAuction(t, 100)

	_, err := l.Bid(ctx, pay(alice, 10), id, n(10), n(1))
	require.NoError(t, err)
	_, err = l.Bid(ctx, pay(bob, 40), id, n(20), n(2))
	require.NoError(t, err)
	_, err = l.Bid(ctx, pay(charlie, 90), id, n(30), n(3))
	require.NoError(t, err)

	// Updates keep the slot.
	_, err = l.Bid(ctx, pay(bob, 20), id, n(20), n(3))
	require.NoError(t, err)
	requireViews(t, l, id, []escrow.Address{alice, bob, charlie}, []int64{10, 20, 30}, []int64{1, 3, 3})

	// Cancellation removes the slot.
	_, err = l.CancelBid(ctx, escrow.Call{Caller: alice}, id)
	require.NoError(t, err)
	requireViews(t, l, id, []escrow.Address{bob, charlie}, []int64{20, 30}, []int64{3, 3})

	// A new bid after cancellation goes to the end.
	_, err = l.Bid(ctx, pay(alice, 5), id, n(5), n(1))
	require.NoError(t, err)
	requireViews(t, l, id, []escrow.Address{bob, charlie, alice}, []int64{20, 30, 5}, []int64{3, 3, 1})

	numBids, err := l.AuctionNumBids(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, numBids)
	l.requireBalance(t, 100+60+90+5)
}

func requireViews(t *testing.T, l *testLedger, id escrow.AuctionID, bidders []escrow.Address, amounts, prices []int64) {
	ctx := context.Background()
	gotBidders, err := l.AuctionBidders(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bidders, gotBidders)

	gotAmounts, err := l.AuctionAmounts(ctx, id)
	require.NoError(t, err)
	require.Len(t, gotAmounts, len(amounts))
	for i := range amounts {
		assert.Equal(t, n(amounts[i]).String(), gotAmounts[i].String())
	}

	gotPrices, err := l.AuctionPrices(ctx, id)
	require.NoError(t, err)
	require.Len(t, gotPrices, len(prices))
	for i := range prices {
		assert.Equal(t, n(prices[i]).String(), gotPrices[i].String())
	}
}

func TestBidRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)
	id := l.createAuction(t, 55)
	_, err := l.Bid(ctx, pay(bob, 60), id, n(12), n(5))
	require.NoError(t, err)

	tests := []struct {
		name   string
		call   escrow.Call
		id     escrow.AuctionID
		amount *big.Int
		price  *big.Int
		target error
	}{
		{"unknown auction", pay(charlie, 10), id + 1, n(1), n(10), escrow.ErrAuctionNotFound},
		{"zero amount", escrow.Call{Caller: bob}, id, n(0), n(5), escrow.ErrInvalidParameters},
		{"zero price", escrow.Call{Caller: bob}, id, n(12), n(0), escrow.ErrInvalidParameters},
		{"negative amount", escrow.Call{Caller: bob}, id, n(-1), n(5), escrow.ErrInvalidParameters},
		{"nil price", escrow.Call{Caller: bob}, id, n(1), nil, escrow.ErrInvalidParameters},
		{"bad caller", pay("", 10), id, n(1), n(10), escrow.ErrInvalidParameters},
		{"negative payment", pay(bob, -1), id, n(12), n(6), escrow.ErrInvalidParameters},
	}
	for _, tc := range tests {
		_, err := l.Bid(ctx, tc.call, tc.id, tc.amount, tc.price)
		require.ErrorIs(t, err, tc.target, tc.name)
	}

	// Nothing changed.
	height, err := l.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), height)
	assert.Len(t, l.events.all(), 2)
	amount, price, err := l.BidInfo(ctx, id, bob)
	require.NoError(t, err)
	assert.Equal(t, "12", amount.String())
	assert.Equal(t, "5", price.String())
	l.requireBalance(t, 115)
}

func TestClosedAuction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)
	id := l.createAuction(t, 55)
	_, err := l.Bid(ctx, pay(bob, 60), id, n(12), n(5))
	require.NoError(t, err)

	l.clock.Advance(time.Hour)

	_, err = l.Bid(ctx, pay(charlie, 10), id, n(1), n(10))
	require.ErrorIs(t, err, escrow.ErrClosed)
	_, err = l.Bid(ctx, escrow.Call{Caller: bob}, id, n(1), n(5))
	require.ErrorIs(t, err, escrow.ErrClosed)
	_, err = l.CancelBid(ctx, escrow.Call{Caller: bob}, id)
	require.ErrorIs(t, err, escrow.ErrClosed)
	_, err = l.Quote(ctx, id, bob, n(1), n(5))
	require.ErrorIs(t, err, escrow.ErrClosed)

	a, err := l.Auction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, escrow.AuctionClosed, a.Status(l.clock.Now()))

	// Queries keep working after the deadline.
	bidders, err := l.AuctionBidders(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []escrow.Address{bob}, bidders)
	l.requireBalance(t, 115)
}

func TestClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)

	// Nothing queued: no-op, no new height.
	c, err := l.Claim(ctx, escrow.Call{Caller: bob})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Total.Sign())
	assert.Equal(t, 0, c.Balance.Sign())
	assert.Empty(t, c.Refunds)
	height, err := l.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), height)

	_, err = l.Claim(ctx, pay(bob, 1))
	require.ErrorIs(t, err, escrow.ErrPaymentMismatch)
	_, err = l.Claim(ctx, escrow.Call{})
	require.ErrorIs(t, err, escrow.ErrInvalidParameters)

	a := l.createAuction(t, 10)
	b := l.createAuction(t, 20)
	_, err = l.Bid(ctx, pay(bob, 100), a, n(10), n(10))
	require.NoError(t, err)
	_, err = l.Bid(ctx, pay(bob, 50), b, n(5), n(10))
	require.NoError(t, err)
	_, err = l.Bid(ctx, escrow.Call{Caller: bob}, a, n(5), n(10))
	require.NoError(t, err)
	_, err = l.CancelBid(ctx, escrow.Call{Caller: bob}, b)
	require.NoError(t, err)
	l.requireBalance(t, 30+50)

	pending, err := l.PendingRefunds(ctx, bob)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a, pending[0].AuctionID)
	assert.Equal(t, b, pending[1].AuctionID)
	assert.True(t, pending[0].ID < pending[1].ID)

	// Refunds of others stay put.
	others, err := l.PendingRefunds(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, others)

	c, err = l.Claim(ctx, escrow.Call{Caller: bob})
	require.NoError(t, err)
	assert.Equal(t, "100", c.Total.String())
	assert.Equal(t, "100", c.Balance.String())
	l.requireBalance(t, 80)

	c, err = l.Claim(ctx, escrow.Call{Caller: bob})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Total.Sign())
	assert.Equal(t, "100", c.Balance.String())
}

func TestEventsByHeight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)

	id := l.createAuction(t, 55)                        // height 1
	_, err := l.Bid(ctx, pay(bob, 60), id, n(12), n(5)) // height 2
	require.NoError(t, err)
	_, err = l.Bid(ctx, pay(charlie, 6), id, n(1), n(6)) // height 3
	require.NoError(t, err)
	_, err = l.CancelBid(ctx, escrow.Call{Caller: bob}, id) // height 4
	require.NoError(t, err)
	_, err = l.Claim(ctx, escrow.Call{Caller: bob}) // height 5, no events
	require.NoError(t, err)

	all, err := l.Events(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	types := []escrow.EventType{escrow.EventAuctionCreated, escrow.EventBidPlaced, escrow.EventBidPlaced, escrow.EventBidCancelled}
	for i, e := range all {
		assert.Equal(t, uint64(i+1), e.Height)
		assert.Equal(t, 0, e.Index)
		assert.Equal(t, types[i], e.Type)
		assert.Equal(t, startTime.Unix(), e.Timestamp.Unix())
	}
	handled := l.events.all()
	require.Len(t, handled, len(all))
	for i := range all {
		assert.Equal(t, all[i].Height, handled[i].Height)
		assert.Equal(t, all[i].Type, handled[i].Type)
		assert.Equal(t, all[i].Bidder, handled[i].Bidder)
	}

	mid, err := l.Events(ctx, EventQuery{FromHeight: 2, ToHeight: 3})
	require.NoError(t, err)
	require.Len(t, mid, 2)
	assert.Equal(t, bob, mid[0].Bidder)
	assert.Equal(t, charlie, mid[1].Bidder)

	tail, err := l.Events(ctx, EventQuery{FromHeight: 4})
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, escrow.EventBidCancelled, tail[0].Type)

	unbounded, err := l.Events(ctx, EventQuery{FromHeight: 3, ToHeight: math.MaxUint64})
	require.NoError(t, err)
	require.Len(t, unbounded, 2)
	assert.Equal(t, uint64(3), unbounded[0].Height)

	limited, err := l.Events(ctx, EventQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	none, err := l.Events(ctx, EventQuery{FromHeight: 6})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = l.Events(ctx, EventQuery{FromHeight: 3, ToHeight: 2})
	require.ErrorIs(t, err, escrow.ErrInvalidParameters)

	height, err := l.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), height)
}

func TestListAuctions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)

	for i := 0; i < 12; i++ {
		l.createAuction(t, int64(i+1))
	}

	page, err := l.ListAuctions(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, page, defaultListLimit)
	assert.Equal(t, escrow.AuctionID(11), page[0].ID)

	page, err = l.ListAuctions(ctx, Query{Order: OrderAscending, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, escrow.AuctionID(0), page[0].ID)
	assert.Equal(t, escrow.AuctionID(2), page[2].ID)

	page, err = l.ListAuctions(ctx, Query{Order: OrderAscending, Offset: "9", Limit: -1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, escrow.AuctionID(10), page[0].ID)
	assert.Equal(t, escrow.AuctionID(11), page[1].ID)

	page, err = l.ListAuctions(ctx, Query{Order: OrderAscending, Offset: "11"})
	require.NoError(t, err)
	require.Empty(t, page)

	// Paging newest first, each page continuing after the last id of the previous one.
	page, err = l.ListAuctions(ctx, Query{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, escrow.AuctionID(9), page[2].ID)
	page, err = l.ListAuctions(ctx, Query{Offset: page[2].ID.String(), Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, escrow.AuctionID(8), page[0].ID)
	assert.Equal(t, escrow.AuctionID(6), page[2].ID)

	page, err = l.ListAuctions(ctx, Query{Order: OrderDescending, Offset: "2"})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, escrow.AuctionID(1), page[0].ID)
	assert.Equal(t, escrow.AuctionID(0), page[1].ID)

	// An offset with no auction behind it still pages from its position.
	page, err = l.ListAuctions(ctx, Query{Offset: "100", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, escrow.AuctionID(11), page[0].ID)

	_, err = l.ListAuctions(ctx, Query{Offset: "x"})
	require.ErrorIs(t, err, escrow.ErrInvalidParameters)
}

func TestQuote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)
	id := l.createAuction(t, 55)

	q, err := l.Quote(ctx, id, bob, n(12), n(5))
	require.NoError(t, err)
	assert.Equal(t, "60", q.Payment.String())

	_, err = l.Bid(ctx, pay(bob, 60), id, n(12), n(5))
	require.NoError(t, err)

	q, err = l.Quote(ctx, id, bob, n(9), n(5))
	require.NoError(t, err)
	assert.Equal(t, 0, q.Payment.Sign())
	assert.Equal(t, "15", q.Refund.String())
	assert.Equal(t, "-15", q.Delta.String())

	q, err = l.Quote(ctx, id, bob, n(6), n(10))
	require.NoError(t, err)
	assert.Equal(t, 0, q.Delta.Sign())
	assert.Equal(t, 0, q.Payment.Sign())
	assert.Equal(t, 0, q.Refund.Sign())

	_, err = l.Quote(ctx, id, bob, n(0), n(5))
	require.ErrorIs(t, err, escrow.ErrInvalidParameters)
	_, err = l.Quote(ctx, id+1, bob, n(1), n(5))
	require.ErrorIs(t, err, escrow.ErrAuctionNotFound)

	// Quotes never change state.
	l.requireBalance(t, 115)
}

func TestReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)
	id := l.createAuction(t, 55)
	_, err := l.Bid(ctx, pay(bob, 60), id, n(12), n(5))
	require.NoError(t, err)
	_, err = l.Bid(ctx, escrow.Call{Caller: bob}, id, n(9), n(5))
	require.NoError(t, err)

	l2 := openLedger(t, l.store)
	l2.requireBalance(t, 100)
	height, err := l2.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), height)
	pending, err := l2.PendingRefunds(ctx, bob)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Ids continue after a restart.
	next := l2.createAuction(t, 1)
	assert.Equal(t, id+1, next)
}

// TestConservationUnderRandomCalls drives random calls, valid or not, and checks the
// escrow accounting after each one.
func TestConservationUnderRandomCalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLedger(t)
	rnd := rand.New(rand.NewSource(42))
	bidders := []escrow.Address{alice, bob, charlie}

	var auctions []escrow.AuctionID
	for i := 0; i < 3; i++ {
		auctions = append(auctions, l.createAuction(t, int64(10*(i+1))))
	}

	for i := 0; i < 300; i++ {
		bidder := bidders[rnd.Intn(len(bidders))]
		id := auctions[rnd.Intn(len(auctions))]
		switch rnd.Intn(4) {
		case 0, 1:
			amount, price := n(rnd.Int63n(20)), n(rnd.Int63n(20))
			q, err := l.Quote(ctx, id, bidder, amount, price)
			payment := q.Payment
			if err != nil || rnd.Intn(5) == 0 {
				payment = n(rnd.Int63n(100))
			}
			_, _ = l.Bid(ctx, escrow.Call{Caller: bidder, Payment: payment}, id, amount, price)
		case 2:
			_, _ = l.CancelBid(ctx, escrow.Call{Caller: bidder}, id)
		case 3:
			_, err := l.Claim(ctx, escrow.Call{Caller: bidder})
			require.NoError(t, err)
		}
		_, err := l.Audit(ctx)
		require.NoError(t, err, "after call %d", i)
	}

	// The held balance is collateral plus the committed value of every live bid.
	expected := n(60)
	for _, id := range auctions {
		bids, err := l.Bids(ctx, id)
		require.NoError(t, err)
		for _, b := range bids {
			expected.Add(expected, b.Committed())
		}
	}
	balance, err := l.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, expected.String(), balance.String())
}
