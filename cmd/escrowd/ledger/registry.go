package ledger

import (
	"context"
	"fmt"
	"math"
	"math/big"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/textileio/escrow-core/escrow"
	dsextensions "github.com/textileio/go-datastore-extensions"
)

// CreateAuction registers a new auction for call.Caller. The attached payment must equal
// totalAmount and is held as seller collateral.
func (l *Ledger) CreateAuction(
	ctx context.Context,
	call escrow.Call,
	tokenID escrow.TokenID,
	totalAmount *big.Int,
	endTimestamp int64,
) (*escrow.Receipt, error) {
	var id escrow.AuctionID
	st, err := l.update(ctx, "create-auction", func(st *txState) error {
		if err := call.Caller.Validate(); err != nil {
			return err
		}
		if _, err := escrow.ParseTokenID(string(tokenID)); err != nil {
			return err
		}
		if totalAmount == nil || totalAmount.Sign() <= 0 {
			return fmt.Errorf("%w: total amount must be positive", escrow.ErrInvalidParameters)
		}
		if endTimestamp <= st.now.Unix() {
			return fmt.Errorf("%w: end timestamp %d is not in the future", escrow.ErrInvalidParameters, endTimestamp)
		}
		if err := checkPayment(call, totalAmount); err != nil {
			return err
		}

		next, err := getUint(st.ctx, st.txn, dsNextIDKey)
		if err != nil {
			return err
		}
		id = escrow.AuctionID(next)
		a := auctionRecord{
			Auction: escrow.Auction{
				ID:           id,
				TokenID:      tokenID,
				TotalAmount:  new(big.Int).Set(totalAmount),
				EndTimestamp: endTimestamp,
				Seller:       call.Caller,
				Escrowed:     new(big.Int),
				Height:       st.height,
				CreatedAt:    st.now,
			},
		}
		if err := st.put(auctionKey(id), a); err != nil {
			return err
		}
		if err := putUint(st.ctx, st.txn, dsNextIDKey, next+1); err != nil {
			return err
		}
		st.balance.Add(st.balance, totalAmount)
		st.emit(escrow.NewAuctionCreatedEvent(a.Auction))
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("auction %d created by %s: %s of %s until %d", id, call.Caller, totalAmount, tokenID, endTimestamp)
	return receipt(st, id), nil
}

// Auction returns the auction with the given id.
func (l *Ledger) Auction(ctx context.Context, id escrow.AuctionID) (escrow.Auction, error) {
	var a *auctionRecord
	err := l.view(ctx, func(txn ds.Txn) (err error) {
		a, err = getAuction(ctx, txn, id)
		return err
	})
	if err != nil {
		return escrow.Auction{}, err
	}
	return a.Auction, nil
}

// AuctionTokenID returns the token offered in an auction.
func (l *Ledger) AuctionTokenID(ctx context.Context, id escrow.AuctionID) (escrow.TokenID, error) {
	a, err := l.Auction(ctx, id)
	if err != nil {
		return "", err
	}
	return a.TokenID, nil
}

// AuctionAmount returns the quantity offered in an auction.
func (l *Ledger) AuctionAmount(ctx context.Context, id escrow.AuctionID) (*big.Int, error) {
	a, err := l.Auction(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.TotalAmount, nil
}

// AuctionEndTimestamp returns the deadline of an auction.
func (l *Ledger) AuctionEndTimestamp(ctx context.Context, id escrow.AuctionID) (int64, error) {
	a, err := l.Auction(ctx, id)
	if err != nil {
		return 0, err
	}
	return a.EndTimestamp, nil
}

// Order specifies the order of list results.
// Default is decending by auction id.
type Order int

const (
	// OrderDescending orders results decending.
	OrderDescending Order = iota
	// OrderAscending orders results ascending.
	OrderAscending
)

// Query is used to query for auctions.
type Query struct {
	// Offset is the last auction id of the previous page; results start after it.
	// Empty starts at an end.
	Offset string
	Order  Order
	Limit  int
}

func (q Query) setDefaults() Query {
	if q.Limit == -1 {
		q.Limit = maxListLimit
	} else if q.Limit <= 0 {
		q.Limit = defaultListLimit
	} else if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	return q
}

// ListAuctions lists auctions by applying a Query.
func (l *Ledger) ListAuctions(ctx context.Context, query Query) ([]escrow.Auction, error) {
	query = query.setDefaults()

	var (
		order dsq.Order
		seek  string
		limit = query.Limit
	)
	if query.Offset != "" {
		offset, err := escrow.ParseAuctionID(query.Offset)
		if err != nil {
			return nil, err
		}
		seek = auctionKey(offset).String()
		limit++
	}

	switch query.Order {
	case OrderDescending:
		order = dsq.OrderByKeyDescending{}
		if seek == "" {
			// Seek to the largest possible key and descend from there.
			seek = auctionKey(escrow.AuctionID(math.MaxUint64)).String()
		}
	case OrderAscending:
		order = dsq.OrderByKey{}
	default:
		return nil, fmt.Errorf("%w: unknown order %d", escrow.ErrInvalidParameters, query.Order)
	}

	var (
		list []escrow.Auction
		keys []string
	)
	err := l.viewExtended(ctx, func(txn dsextensions.TxnExt) error {
		results, err := txn.QueryExtended(dsextensions.QueryExt{
			Query: dsq.Query{
				Prefix: dsAuctionPrefix.String(),
				Orders: []dsq.Order{order},
				Limit:  limit,
			},
			SeekPrefix: seek,
		})
		if err != nil {
			return fmt.Errorf("querying auctions: %v", err)
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
			a := auctionRecord{}
			if err := decode(res.Value, &a); err != nil {
				return fmt.Errorf("decoding auction %s: %v", res.Key, err)
			}
			list = append(list, a.Auction)
			keys = append(keys, res.Key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Remove the offset auction itself.
	if query.Offset != "" && len(list) > 0 && keys[0] == seek {
		list = list[1:]
	}
	if len(list) > query.Limit {
		list = list[:query.Limit]
	}
	return list, nil
}

func receipt(st *txState, id escrow.AuctionID) *escrow.Receipt {
	return &escrow.Receipt{
		Height:    st.height,
		AuctionID: id,
		Events:    st.events,
		Refunds:   st.refunds,
	}
}
