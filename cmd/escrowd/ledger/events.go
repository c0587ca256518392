package ledger

import (
	"context"
	"fmt"
	"math"

	dsq "github.com/ipfs/go-datastore/query"
	"github.com/textileio/escrow-core/escrow"
	dsextensions "github.com/textileio/go-datastore-extensions"
)

// EventQuery selects events by block height range.
type EventQuery struct {
	// FromHeight is the first height included.
	FromHeight uint64
	// ToHeight is the last height included. Zero or math.MaxUint64 mean up to the
	// latest height.
	ToHeight uint64
	// Limit caps the number of events. Zero means maxListLimit.
	Limit int
}

// Events returns the logged events within a height range, in log order.
func (l *Ledger) Events(ctx context.Context, query EventQuery) ([]escrow.Event, error) {
	if query.ToHeight != 0 && query.ToHeight < query.FromHeight {
		return nil, fmt.Errorf("%w: height range %d-%d", escrow.ErrInvalidParameters, query.FromHeight, query.ToHeight)
	}
	if query.Limit <= 0 || query.Limit > maxListLimit {
		query.Limit = maxListLimit
	}

	// Keys at or past end are out of range.
	var end string
	if query.ToHeight != 0 && query.ToHeight != math.MaxUint64 {
		end = eventKey(query.ToHeight+1, 0).String()
	}

	var events []escrow.Event
	err := l.viewExtended(ctx, func(txn dsextensions.TxnExt) error {
		results, err := txn.QueryExtended(dsextensions.QueryExt{
			Query: dsq.Query{
				Prefix: dsEventPrefix.String(),
				Orders: []dsq.Order{dsq.OrderByKey{}},
				Limit:  query.Limit,
			},
			SeekPrefix: eventKey(query.FromHeight, 0).String(),
		})
		if err != nil {
			return fmt.Errorf("querying events: %v", err)
		}
		defer func() {
			if err := results.Close(); err != nil {
				log.Errorf("closing results: %v", err)
			}
		}()
		for res := range results.Next() {
			if res.Error != nil {
				return fmt.Errorf("getting next result: %v", res.Error)
			}
			if end != "" && res.Key >= end {
				break
			}
			var e escrow.Event
			if err := decode(res.Value, &e); err != nil {
				return fmt.Errorf("decoding event %s: %v", res.Key, err)
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
