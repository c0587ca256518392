package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/textileio/escrow-core/escrow"
)

// Report is the result of recomputing the escrow accounting from the stored records.
type Report struct {
	Held       *big.Int
	Collateral *big.Int
	Committed  *big.Int
	Outbox     *big.Int
	Pending    *big.Int
	Auctions   int
	Bids       int
}

// Audit recomputes the escrow totals from every auction, bid and queued refund and
// checks that the held balance equals collateral plus committed bids, and that the
// outbox total equals the queued refunds.
func (l *Ledger) Audit(ctx context.Context) (Report, error) {
	r := Report{
		Collateral: new(big.Int),
		Committed:  new(big.Int),
		Pending:    new(big.Int),
	}
	err := l.view(ctx, func(txn ds.Txn) error {
		var err error
		if r.Held, err = getAmount(ctx, txn, dsBalanceKey); err != nil {
			return err
		}
		if r.Outbox, err = getAmount(ctx, txn, dsOutboxKey); err != nil {
			return err
		}

		auctions, err := queryAll(ctx, txn, dsAuctionPrefix)
		if err != nil {
			return err
		}
		for _, e := range auctions {
			var a auctionRecord
			if err := decode(e.Value, &a); err != nil {
				return fmt.Errorf("decoding auction %s: %v", e.Key, err)
			}
			bids, err := getOrderedBids(ctx, txn, a.ID)
			if err != nil {
				return err
			}
			sum := new(big.Int)
			for _, b := range bids {
				sum.Add(sum, b.Committed())
			}
			if len(bids) != a.NumBids {
				return fmt.Errorf("auction %d counts %d bids, found %d", a.ID, a.NumBids, len(bids))
			}
			if sum.Cmp(orZero(a.Escrowed)) != 0 {
				return fmt.Errorf("auction %d records %s escrowed, bids commit %s", a.ID, a.Escrowed, sum)
			}
			r.Collateral.Add(r.Collateral, orZero(a.TotalAmount))
			r.Committed.Add(r.Committed, sum)
			r.Auctions++
			r.Bids += len(bids)
		}

		refunds, err := queryAll(ctx, txn, dsRefundPrefix)
		if err != nil {
			return err
		}
		for _, e := range refunds {
			var rf escrow.Refund
			if err := decode(e.Value, &rf); err != nil {
				return fmt.Errorf("decoding refund %s: %v", e.Key, err)
			}
			r.Pending.Add(r.Pending, orZero(rf.Amount))
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	expected := new(big.Int).Add(r.Collateral, r.Committed)
	if r.Held.Cmp(expected) != 0 {
		return r, fmt.Errorf("held balance %s differs from collateral %s plus committed %s", r.Held, r.Collateral, r.Committed)
	}
	if r.Outbox.Cmp(r.Pending) != 0 {
		return r, fmt.Errorf("outbox total %s differs from queued refunds %s", r.Outbox, r.Pending)
	}
	return r, nil
}

// String returns a one line summary of the report.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "held=%s collateral=%s committed=%s ", r.Held, r.Collateral, r.Committed)
	fmt.Fprintf(&b, "outbox=%s auctions=%d bids=%d", r.Outbox, r.Auctions, r.Bids)
	return b.String()
}

func queryAll(ctx context.Context, r ds.Read, prefix ds.Key) ([]dsq.Entry, error) {
	results, err := r.Query(ctx, dsq.Query{Prefix: prefix.String()})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %v", prefix, err)
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %v", prefix, err)
	}
	return entries, nil
}
