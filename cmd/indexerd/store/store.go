package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/textileio/escrow-core/cmd/indexerd/store/migrations"
	"github.com/textileio/escrow-core/escrow"
	"github.com/textileio/escrow-core/storeutil"
	logging "github.com/textileio/go-log/v2"
)

// LogName is the logging subsystem of the store.
const LogName = "indexerd/store"

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

var log = logging.Logger(LogName)

// Store is a Postgres projection of the escrow event stream.
type Store struct {
	conn *sql.DB
}

// New returns a new Store backed by `postgresURI`.
func New(postgresURI string) (*Store, error) {
	conn, err := storeutil.MigrateAndConnectToDB(postgresURI, migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("initializing db connection: %s", err)
	}
	return &Store{conn: conn}, nil
}

const insertEventQuery = `
INSERT INTO events (height, idx, type, auction_id, token_id, seller, bidder, amount, price, end_timestamp, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11)
ON CONFLICT (height, idx) DO NOTHING`

const upsertAuctionQuery = `
INSERT INTO auctions (id, token_id, total_amount, seller, end_timestamp, height, created_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

// Bid rows are never deleted: a cancellation leaves a tombstone so that an
// older placement delivered late can't resurrect the bid.
const upsertBidQuery = `
INSERT INTO bids (auction_id, bidder, amount, price, placed_height, height, cancelled, placed_at, updated_at)
VALUES ($1, $2, $3::numeric, $4::numeric, $5, $5, false, $6, $6)
ON CONFLICT (auction_id, bidder) DO UPDATE SET
    amount = EXCLUDED.amount,
    price = EXCLUDED.price,
    height = EXCLUDED.height,
    placed_height = CASE WHEN bids.cancelled THEN EXCLUDED.placed_height ELSE bids.placed_height END,
    placed_at = CASE WHEN bids.cancelled THEN EXCLUDED.placed_at ELSE bids.placed_at END,
    cancelled = false,
    updated_at = EXCLUDED.updated_at
WHERE bids.height < EXCLUDED.height`

const cancelBidQuery = `
INSERT INTO bids (auction_id, bidder, amount, price, placed_height, height, cancelled, placed_at, updated_at)
VALUES ($1, $2, 0, 0, $3, $3, true, $4, $4)
ON CONFLICT (auction_id, bidder) DO UPDATE SET
    cancelled = true,
    height = EXCLUDED.height,
    updated_at = EXCLUDED.updated_at
WHERE bids.height < EXCLUDED.height`

// ApplyEvent records e and updates the auction and bid tables. Events are identified
// by height and index; applying an event twice is a no-op that returns false.
func (s *Store) ApplyEvent(ctx context.Context, e escrow.Event) (applied bool, err error) {
	ts := e.Timestamp.UTC()
	err = storeutil.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertEventQuery,
			int64(e.Height), e.Index, e.Type.String(), int64(e.AuctionID), string(e.TokenID), string(e.Seller),
			string(e.Bidder), nullAmount(e.Amount), nullAmount(e.Price), e.EndTimestamp, ts)
		if err != nil {
			return fmt.Errorf("inserting event: %v", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting affected rows: %v", err)
		}
		if n == 0 {
			return nil
		}
		applied = true

		switch e.Type {
		case escrow.EventAuctionCreated:
			_, err = tx.ExecContext(ctx, upsertAuctionQuery,
				int64(e.AuctionID), string(e.TokenID), amountOrZero(e.Amount), string(e.Seller), e.EndTimestamp,
				int64(e.Height), ts)
		case escrow.EventBidPlaced:
			_, err = tx.ExecContext(ctx, upsertBidQuery,
				int64(e.AuctionID), string(e.Bidder), amountOrZero(e.Amount), amountOrZero(e.Price), int64(e.Height), ts)
		case escrow.EventBidCancelled:
			_, err = tx.ExecContext(ctx, cancelBidQuery, int64(e.AuctionID), string(e.Bidder), int64(e.Height), ts)
		default:
			return fmt.Errorf("unknown event type %s", e.Type)
		}
		if err != nil {
			return fmt.Errorf("applying %s event: %v", e.Type, err)
		}
		return nil
	}, storeutil.TxWithIsolation(sql.LevelReadCommitted))
	if err == nil && !applied {
		log.Debugf("event %d.%d already applied", e.Height, e.Index)
	}
	return applied, err
}

const auctionQuery = `
SELECT a.id, a.token_id, a.total_amount::text, a.seller, a.end_timestamp, a.height, a.created_at,
       COUNT(b.bidder), COALESCE(SUM(b.amount * b.price), 0)::text
FROM auctions a
LEFT JOIN bids b ON b.auction_id = a.id AND NOT b.cancelled
WHERE a.id = $1
GROUP BY a.id`

// Auction returns an auction with its live bid count and escrowed total.
func (s *Store) Auction(ctx context.Context, id escrow.AuctionID) (escrow.Auction, error) {
	var (
		a               escrow.Auction
		total, escrowed string
	)
	err := s.conn.QueryRowContext(ctx, auctionQuery, int64(id)).Scan(
		&a.ID, &a.TokenID, &total, &a.Seller, &a.EndTimestamp, &a.Height, &a.CreatedAt, &a.NumBids, &escrowed)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Auction{}, escrow.ErrAuctionNotFound
	}
	if err != nil {
		return escrow.Auction{}, fmt.Errorf("querying auction: %v", err)
	}
	if a.TotalAmount, err = parseAmount(total); err != nil {
		return escrow.Auction{}, err
	}
	if a.Escrowed, err = parseAmount(escrowed); err != nil {
		return escrow.Auction{}, err
	}
	return a, nil
}

const bidsQuery = `
SELECT auction_id, bidder, amount::text, price::text, placed_at, updated_at
FROM bids
WHERE auction_id = $1 AND NOT cancelled
ORDER BY placed_height, bidder`

// Bids returns the live bids of an auction in placement order.
func (s *Store) Bids(ctx context.Context, id escrow.AuctionID) ([]escrow.Bid, error) {
	rows, err := s.conn.QueryContext(ctx, bidsQuery, int64(id))
	if err != nil {
		return nil, fmt.Errorf("querying bids: %v", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Errorf("closing rows: %s", err)
		}
	}()
	var bids []escrow.Bid
	for rows.Next() {
		var (
			b             escrow.Bid
			amount, price string
		)
		if err := rows.Scan(&b.AuctionID, &b.Bidder, &amount, &price, &b.PlacedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning bid: %v", err)
		}
		if b.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if b.Price, err = parseAmount(price); err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

const eventsQuery = `
SELECT height, idx, type, auction_id, token_id, seller, bidder, amount::text, price::text, end_timestamp, ts
FROM events
WHERE height >= $1::bigint AND ($2::bigint = 0 OR height <= $2::bigint)
ORDER BY height, idx
LIMIT $3`

// Events returns the indexed events within a height range. A zero to means no upper bound.
func (s *Store) Events(ctx context.Context, from, to uint64, limit int) ([]escrow.Event, error) {
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	rows, err := s.conn.QueryContext(ctx, eventsQuery, int64(from), int64(to), limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %v", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Errorf("closing rows: %s", err)
		}
	}()
	var events []escrow.Event
	for rows.Next() {
		var (
			e             escrow.Event
			typ           string
			amount, price sql.NullString
			ts            time.Time
		)
		if err := rows.Scan(&e.Height, &e.Index, &typ, &e.AuctionID, &e.TokenID, &e.Seller, &e.Bidder,
			&amount, &price, &e.EndTimestamp, &ts); err != nil {
			return nil, fmt.Errorf("scanning event: %v", err)
		}
		if e.Type, err = escrow.ParseEventType(typ); err != nil {
			return nil, err
		}
		if amount.Valid {
			if e.Amount, err = parseAmount(amount.String); err != nil {
				return nil, err
			}
		}
		if price.Valid {
			if e.Price, err = parseAmount(price.String); err != nil {
				return nil, err
			}
		}
		e.Timestamp = ts
		events = append(events, e)
	}
	return events, rows.Err()
}

// LastHeight returns the highest indexed height, or zero.
func (s *Store) LastHeight(ctx context.Context) (uint64, error) {
	var h sql.NullInt64
	if err := s.conn.QueryRowContext(ctx, "SELECT MAX(height) FROM events").Scan(&h); err != nil {
		return 0, fmt.Errorf("querying last height: %v", err)
	}
	return uint64(h.Int64), nil
}

// Close closes the db connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

func nullAmount(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func amountOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed stored amount %q", s)
	}
	return v, nil
}
