package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/textileio/escrow-core/escrow"
)

// Quote is the payment a prospective bid requires.
type Quote struct {
	// Delta is the change of the committed value.
	Delta *big.Int
	// Payment is what the bid call must attach.
	Payment *big.Int
	// Refund is what the bid call would queue for the bidder.
	Refund *big.Int
}

func newQuote(old *bidRecord, amount, price *big.Int) Quote {
	oldCommitted := new(big.Int)
	if old != nil {
		oldCommitted = escrow.Committed(old.Amount, old.Price)
	}
	delta := new(big.Int).Sub(escrow.Committed(amount, price), oldCommitted)
	q := Quote{Delta: delta, Payment: new(big.Int), Refund: new(big.Int)}
	switch delta.Sign() {
	case 1:
		q.Payment.Set(delta)
	case -1:
		q.Refund.Neg(delta)
	}
	return q
}

// checkBidParams validates every precondition of a bid on an auction except the payment.
func checkBidParams(now time.Time, a *auctionRecord, amount, price *big.Int) error {
	if a.Status(now) != escrow.AuctionOpen {
		return fmt.Errorf("%w: auction %d ended at %d", escrow.ErrClosed, a.ID, a.EndTimestamp)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", escrow.ErrInvalidParameters)
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", escrow.ErrInvalidParameters)
	}
	return nil
}

// Bid places or updates the bid of call.Caller on an auction. When the committed value
// grows the attached payment must equal the increase; otherwise nothing may be attached
// and any decrease is queued as a refund to the bidder.
func (l *Ledger) Bid(ctx context.Context, call escrow.Call, id escrow.AuctionID, amount, price *big.Int) (*escrow.Receipt, error) {
	var quote Quote
	st, err := l.update(ctx, "bid", func(st *txState) error {
		if err := call.Caller.Validate(); err != nil {
			return err
		}
		a, err := getAuction(st.ctx, st.txn, id)
		if err != nil {
			return err
		}
		if err := checkBidParams(st.now, a, amount, price); err != nil {
			return err
		}
		old, err := getBid(st.ctx, st.txn, id, call.Caller)
		if err != nil {
			return err
		}
		quote = newQuote(old, amount, price)
		if err := checkPayment(call, quote.Payment); err != nil {
			return err
		}

		b := &bidRecord{
			Amount:    new(big.Int).Set(amount),
			Price:     new(big.Int).Set(price),
			PlacedAt:  st.now,
			UpdatedAt: st.now,
		}
		if old != nil {
			b.Seq = old.Seq
			b.PlacedAt = old.PlacedAt
		} else {
			b.Seq = a.NextBidSeq
			a.NextBidSeq++
			a.NumBids++
			if err := st.putRaw(bidSlotKey(id, b.Seq), []byte(call.Caller)); err != nil {
				return err
			}
		}
		if err := st.put(bidKey(id, call.Caller), b); err != nil {
			return err
		}
		a.Escrowed.Add(a.Escrowed, quote.Delta)
		if err := st.put(auctionKey(id), a); err != nil {
			return err
		}

		st.balance.Add(st.balance, quote.Payment)
		if quote.Refund.Sign() > 0 {
			if err := l.enqueueRefund(st, call.Caller, id, quote.Refund, escrow.RefundBidDecreased); err != nil {
				return err
			}
		}
		st.emit(escrow.NewBidPlacedEvent(b.toBid(id, call.Caller)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("bid of %s on auction %d set to %s at %s (delta %s)", call.Caller, id, amount, price, quote.Delta)
	return receipt(st, id), nil
}

// CancelBid removes the bid of call.Caller and queues a refund of its full committed value.
func (l *Ledger) CancelBid(ctx context.Context, call escrow.Call, id escrow.AuctionID) (*escrow.Receipt, error) {
	var refund *big.Int
	st, err := l.update(ctx, "cancel-bid", func(st *txState) error {
		if err := call.Caller.Validate(); err != nil {
			return err
		}
		a, err := getAuction(st.ctx, st.txn, id)
		if err != nil {
			return err
		}
		if a.Status(st.now) != escrow.AuctionOpen {
			return fmt.Errorf("%w: auction %d ended at %d", escrow.ErrClosed, a.ID, a.EndTimestamp)
		}
		b, err := getBid(st.ctx, st.txn, id, call.Caller)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("%w: %s on auction %d", escrow.ErrBidNotFound, call.Caller, id)
		}
		if err := checkPayment(call, new(big.Int)); err != nil {
			return err
		}

		if err := st.delete(bidKey(id, call.Caller)); err != nil {
			return err
		}
		if err := st.delete(bidSlotKey(id, b.Seq)); err != nil {
			return err
		}
		refund = escrow.Committed(b.Amount, b.Price)
		a.NumBids--
		a.Escrowed.Sub(a.Escrowed, refund)
		if err := st.put(auctionKey(id), a); err != nil {
			return err
		}
		if err := l.enqueueRefund(st, call.Caller, id, refund, escrow.RefundBidCancelled); err != nil {
			return err
		}
		st.emit(escrow.NewBidCancelledEvent(id, call.Caller))
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("bid of %s on auction %d cancelled, refunding %s", call.Caller, id, refund)
	return receipt(st, id), nil
}

// Quote returns the payment and refund a bid of bidder with amount and price would
// produce right now. It validates like Bid and changes nothing.
func (l *Ledger) Quote(ctx context.Context, id escrow.AuctionID, bidder escrow.Address, amount, price *big.Int) (Quote, error) {
	if err := bidder.Validate(); err != nil {
		return Quote{}, err
	}
	var q Quote
	err := l.view(ctx, func(txn ds.Txn) error {
		a, err := getAuction(ctx, txn, id)
		if err != nil {
			return err
		}
		if err := checkBidParams(l.clock(), a, amount, price); err != nil {
			return err
		}
		old, err := getBid(ctx, txn, id, bidder)
		if err != nil {
			return err
		}
		q = newQuote(old, amount, price)
		return nil
	})
	return q, err
}

// BidExists returns whether bidder has a live bid on an auction.
func (l *Ledger) BidExists(ctx context.Context, id escrow.AuctionID, bidder escrow.Address) (bool, error) {
	var exists bool
	err := l.view(ctx, func(txn ds.Txn) error {
		if _, err := getAuction(ctx, txn, id); err != nil {
			return err
		}
		b, err := getBid(ctx, txn, id, bidder)
		if err != nil {
			return err
		}
		exists = b != nil
		return nil
	})
	return exists, err
}

// BidInfo returns the amount and price of the bid of bidder on an auction.
func (l *Ledger) BidInfo(ctx context.Context, id escrow.AuctionID, bidder escrow.Address) (amount, price *big.Int, err error) {
	err = l.view(ctx, func(txn ds.Txn) error {
		if _, err := getAuction(ctx, txn, id); err != nil {
			return err
		}
		b, err := getBid(ctx, txn, id, bidder)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("%w: %s on auction %d", escrow.ErrBidNotFound, bidder, id)
		}
		amount, price = b.Amount, b.Price
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amount, price, nil
}

// Bids returns the live bids of an auction in first placement order.
func (l *Ledger) Bids(ctx context.Context, id escrow.AuctionID) ([]escrow.Bid, error) {
	var bids []escrow.Bid
	err := l.view(ctx, func(txn ds.Txn) error {
		if _, err := getAuction(ctx, txn, id); err != nil {
			return err
		}
		var err error
		bids, err = getOrderedBids(ctx, txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bids, nil
}

// AuctionNumBids returns the number of live bids of an auction.
func (l *Ledger) AuctionNumBids(ctx context.Context, id escrow.AuctionID) (int, error) {
	a, err := l.Auction(ctx, id)
	if err != nil {
		return 0, err
	}
	return a.NumBids, nil
}

// AuctionBidders returns the bidders of an auction, aligned with AuctionAmounts and AuctionPrices.
func (l *Ledger) AuctionBidders(ctx context.Context, id escrow.AuctionID) ([]escrow.Address, error) {
	bids, err := l.Bids(ctx, id)
	if err != nil {
		return nil, err
	}
	bidders := make([]escrow.Address, len(bids))
	for i, b := range bids {
		bidders[i] = b.Bidder
	}
	return bidders, nil
}

// AuctionAmounts returns the bid amounts of an auction, aligned with AuctionBidders.
func (l *Ledger) AuctionAmounts(ctx context.Context, id escrow.AuctionID) ([]*big.Int, error) {
	bids, err := l.Bids(ctx, id)
	if err != nil {
		return nil, err
	}
	amounts := make([]*big.Int, len(bids))
	for i, b := range bids {
		amounts[i] = b.Amount
	}
	return amounts, nil
}

// AuctionPrices returns the bid prices of an auction, aligned with AuctionBidders.
func (l *Ledger) AuctionPrices(ctx context.Context, id escrow.AuctionID) ([]*big.Int, error) {
	bids, err := l.Bids(ctx, id)
	if err != nil {
		return nil, err
	}
	prices := make([]*big.Int, len(bids))
	for i, b := range bids {
		prices[i] = b.Price
	}
	return prices, nil
}
