package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"math/big"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/textileio/escrow-core/escrow"
)

var (
	// dsMetaPrefix is the prefix for contract wide counters.
	// Structure: /meta/<name> -> value
	dsMetaPrefix = ds.NewKey("/meta")
	dsNextIDKey  = dsMetaPrefix.ChildString("nextid")
	dsHeightKey  = dsMetaPrefix.ChildString("height")
	dsBalanceKey = dsMetaPrefix.ChildString("balance")
	dsOutboxKey  = dsMetaPrefix.ChildString("outbox")

	// dsAuctionPrefix is the prefix for auctions.
	// Structure: /auctions/<auction_id> -> auctionRecord
	dsAuctionPrefix = ds.NewKey("/auctions")

	// dsBidPrefix is the prefix for bids grouped by auction.
	// Structure: /bids/<auction_id>/<bidder> -> bidRecord
	dsBidPrefix = ds.NewKey("/bids")

	// dsBidOrderPrefix keeps the insertion order of the live bids of an auction.
	// Structure: /bidorder/<auction_id>/<seq> -> bidder
	dsBidOrderPrefix = ds.NewKey("/bidorder")

	// dsRefundPrefix is the prefix for queued refunds grouped by recipient.
	// Structure: /refunds/<recipient>/<refund_id> -> escrow.Refund
	dsRefundPrefix = ds.NewKey("/refunds")

	// dsRealizedPrefix holds the claimed refund totals.
	// Structure: /realized/<recipient> -> amount
	dsRealizedPrefix = ds.NewKey("/realized")

	// dsEventPrefix is the append-only event log.
	// Structure: /events/<height>/<index> -> escrow.Event
	dsEventPrefix = ds.NewKey("/events")
)

// auctionRecord is the persisted auction model.
type auctionRecord struct {
	escrow.Auction
	// NextBidSeq is the insertion slot the next new bidder gets.
	NextBidSeq uint64
}

// bidRecord is the persisted bid model. The committed value is always derived.
type bidRecord struct {
	Amount    *big.Int
	Price     *big.Int
	Seq       uint64
	PlacedAt  time.Time
	UpdatedAt time.Time
}

// padded renders n so that lexicographic key order matches numeric order.
func padded(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

func auctionKey(id escrow.AuctionID) ds.Key {
	return dsAuctionPrefix.ChildString(padded(uint64(id)))
}

func bidsKey(id escrow.AuctionID) ds.Key {
	return dsBidPrefix.ChildString(padded(uint64(id)))
}

func bidKey(id escrow.AuctionID, bidder escrow.Address) ds.Key {
	return bidsKey(id).ChildString(string(bidder))
}

func bidOrderKey(id escrow.AuctionID) ds.Key {
	return dsBidOrderPrefix.ChildString(padded(uint64(id)))
}

func bidSlotKey(id escrow.AuctionID, seq uint64) ds.Key {
	return bidOrderKey(id).ChildString(padded(seq))
}

func refundsKey(recipient escrow.Address) ds.Key {
	return dsRefundPrefix.ChildString(string(recipient))
}

func realizedKey(recipient escrow.Address) ds.Key {
	return dsRealizedPrefix.ChildString(string(recipient))
}

func eventKey(height uint64, index int) ds.Key {
	return dsEventPrefix.ChildString(padded(height)).ChildString(fmt.Sprintf("%06d", index))
}

func getAuction(ctx context.Context, r ds.Read, id escrow.AuctionID) (*auctionRecord, error) {
	v, err := r.Get(ctx, auctionKey(id))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", escrow.ErrAuctionNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("getting key: %v", err)
	}
	a := &auctionRecord{}
	if err := decode(v, a); err != nil {
		return nil, fmt.Errorf("decoding auction: %v", err)
	}
	a.TotalAmount = orZero(a.TotalAmount)
	a.Escrowed = orZero(a.Escrowed)
	return a, nil
}

// getBid returns the bid of bidder or nil if there is none.
func getBid(ctx context.Context, r ds.Read, id escrow.AuctionID, bidder escrow.Address) (*bidRecord, error) {
	v, err := r.Get(ctx, bidKey(id, bidder))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("getting key: %v", err)
	}
	b := &bidRecord{}
	if err := decode(v, b); err != nil {
		return nil, fmt.Errorf("decoding bid: %v", err)
	}
	b.Amount = orZero(b.Amount)
	b.Price = orZero(b.Price)
	return b, nil
}

// getOrderedBids returns the live bids of an auction in first placement order.
func getOrderedBids(ctx context.Context, r ds.Read, id escrow.AuctionID) ([]escrow.Bid, error) {
	results, err := r.Query(ctx, dsq.Query{
		Prefix: bidOrderKey(id).String(),
		Orders: []dsq.Order{dsq.OrderByKey{}},
	})
	if err != nil {
		return nil, fmt.Errorf("querying bid order: %v", err)
	}
	defer func() {
		if err := results.Close(); err != nil {
			log.Errorf("closing results: %v", err)
		}
	}()

	var bids []escrow.Bid
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		bidder := escrow.Address(res.Value)
		b, err := getBid(ctx, r, id, bidder)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, fmt.Errorf("bid order of auction %d references missing bid of %s", id, bidder)
		}
		bids = append(bids, b.toBid(id, bidder))
	}
	return bids, nil
}

func (b *bidRecord) toBid(id escrow.AuctionID, bidder escrow.Address) escrow.Bid {
	return escrow.Bid{
		AuctionID: id,
		Bidder:    bidder,
		Amount:    new(big.Int).Set(b.Amount),
		Price:     new(big.Int).Set(b.Price),
		PlacedAt:  b.PlacedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

// orZero guards against gob leaving nil big.Int fields behind.
func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func getUint(ctx context.Context, r ds.Read, key ds.Key) (uint64, error) {
	v, err := r.Get(ctx, key)
	if errors.Is(err, ds.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("getting key %s: %v", key, err)
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("key %s holds %d bytes", key, len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

func putUint(ctx context.Context, w ds.Write, key ds.Key, n uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	if err := w.Put(ctx, key, buf); err != nil {
		return fmt.Errorf("putting key %s: %v", key, err)
	}
	return nil
}

// getAmount returns the non-negative amount stored at key, zero if missing.
func getAmount(ctx context.Context, r ds.Read, key ds.Key) (*big.Int, error) {
	v, err := r.Get(ctx, key)
	if errors.Is(err, ds.ErrNotFound) {
		return new(big.Int), nil
	} else if err != nil {
		return nil, fmt.Errorf("getting key %s: %v", key, err)
	}
	return new(big.Int).SetBytes(v), nil
}

func putAmount(ctx context.Context, w ds.Write, key ds.Key, v *big.Int) error {
	if v.Sign() < 0 {
		return fmt.Errorf("negative amount %s for key %s", v, key)
	}
	if err := w.Put(ctx, key, v.Bytes()); err != nil {
		return fmt.Errorf("putting key %s: %v", key, err)
	}
	return nil
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(v []byte, out interface{}) error {
	return gob.NewDecoder(bytes.NewReader(v)).Decode(out)
}
