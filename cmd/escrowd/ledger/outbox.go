package ledger

import (
	"context"
	"fmt"
	"math/big"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/textileio/escrow-core/escrow"
)

// enqueueRefund moves amount out of escrow into the outbox of recipient.
func (l *Ledger) enqueueRefund(
	st *txState,
	recipient escrow.Address,
	id escrow.AuctionID,
	amount *big.Int,
	reason escrow.RefundReason,
) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("refund amount %s must be positive", amount)
	}
	if st.balance.Cmp(amount) < 0 {
		return fmt.Errorf("refund of %s exceeds held balance %s", amount, st.balance)
	}
	refundID, err := l.newRefundID(st.now)
	if err != nil {
		return err
	}
	r := escrow.Refund{
		ID:        refundID,
		Recipient: recipient,
		Amount:    new(big.Int).Set(amount),
		AuctionID: id,
		Reason:    reason,
		Height:    st.height,
		CreatedAt: st.now,
	}
	if err := st.put(refundsKey(recipient).ChildString(refundID), r); err != nil {
		return err
	}
	st.balance.Sub(st.balance, amount)
	st.outbox.Add(st.outbox, amount)
	st.refunds = append(st.refunds, r)
	return nil
}

func getRefunds(ctx context.Context, r ds.Read, recipient escrow.Address) ([]escrow.Refund, error) {
	results, err := r.Query(ctx, dsq.Query{
		Prefix: refundsKey(recipient).String(),
		Orders: []dsq.Order{dsq.OrderByKey{}},
	})
	if err != nil {
		return nil, fmt.Errorf("querying refunds: %v", err)
	}
	defer func() {
		if err := results.Close(); err != nil {
			log.Errorf("closing results: %v", err)
		}
	}()

	var refunds []escrow.Refund
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		var rf escrow.Refund
		if err := decode(res.Value, &rf); err != nil {
			return nil, fmt.Errorf("decoding refund %s: %v", res.Key, err)
		}
		rf.Amount = orZero(rf.Amount)
		refunds = append(refunds, rf)
	}
	return refunds, nil
}

// PendingRefunds returns the refunds queued for recipient, oldest first.
func (l *Ledger) PendingRefunds(ctx context.Context, recipient escrow.Address) ([]escrow.Refund, error) {
	if err := recipient.Validate(); err != nil {
		return nil, err
	}
	var refunds []escrow.Refund
	err := l.view(ctx, func(txn ds.Txn) (err error) {
		refunds, err = getRefunds(ctx, txn, recipient)
		return err
	})
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

// RealizedBalance returns the total of the refunds recipient has claimed.
func (l *Ledger) RealizedBalance(ctx context.Context, recipient escrow.Address) (*big.Int, error) {
	if err := recipient.Validate(); err != nil {
		return nil, err
	}
	var balance *big.Int
	err := l.view(ctx, func(txn ds.Txn) (err error) {
		balance, err = getAmount(ctx, txn, realizedKey(recipient))
		return err
	})
	return balance, err
}

// Outbox returns the total of the refunds waiting to be claimed.
func (l *Ledger) Outbox(ctx context.Context) (*big.Int, error) {
	var total *big.Int
	err := l.view(ctx, func(txn ds.Txn) (err error) {
		total, err = getAmount(ctx, txn, dsOutboxKey)
		return err
	})
	return total, err
}

// Claim delivers every refund queued for call.Caller into its realized balance.
// Claiming with nothing queued changes nothing.
func (l *Ledger) Claim(ctx context.Context, call escrow.Call) (*escrow.Claim, error) {
	c := &escrow.Claim{Recipient: call.Caller, Total: new(big.Int)}
	st, err := l.update(ctx, "claim", func(st *txState) error {
		if err := call.Caller.Validate(); err != nil {
			return err
		}
		if err := checkPayment(call, new(big.Int)); err != nil {
			return err
		}
		refunds, err := getRefunds(st.ctx, st.txn, call.Caller)
		if err != nil {
			return err
		}
		realized, err := getAmount(st.ctx, st.txn, realizedKey(call.Caller))
		if err != nil {
			return err
		}
		c.Balance = realized
		if len(refunds) == 0 {
			return nil
		}

		for _, r := range refunds {
			if err := st.delete(refundsKey(call.Caller).ChildString(r.ID)); err != nil {
				return err
			}
			c.Total.Add(c.Total, r.Amount)
		}
		if st.outbox.Cmp(c.Total) < 0 {
			return fmt.Errorf("claim of %s exceeds outbox %s", c.Total, st.outbox)
		}
		st.outbox.Sub(st.outbox, c.Total)
		realized.Add(realized, c.Total)
		if err := putAmount(st.ctx, st.txn, realizedKey(call.Caller), realized); err != nil {
			return err
		}
		c.Refunds = refunds
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.Height = st.height

	if len(c.Refunds) > 0 {
		log.Debugf("%s claimed %d refunds for %s", call.Caller, len(c.Refunds), c.Total)
	}
	return c, nil
}
