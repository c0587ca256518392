package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/oklog/ulid/v2"
	"github.com/textileio/escrow-core/escrow"
	dsextensions "github.com/textileio/go-datastore-extensions"
	logging "github.com/textileio/go-log/v2"
)

const (
	// LogName is the logging subsystem of the ledger.
	LogName = "escrow/ledger"

	// defaultListLimit is the default list page size.
	defaultListLimit = 10
	// maxListLimit is the max list page size.
	maxListLimit = 1000
)

var log = logging.Logger(LogName)

// EventHandler receives the events of every committed call, in commit order.
// It runs while the ledger lock is held and must not call back into the ledger.
type EventHandler func(ctx context.Context, events []escrow.Event)

type config struct {
	clock   func() time.Time
	handler EventHandler
}

// Option configures a Ledger.
type Option func(*config) error

// WithClock sets the time source used for deadlines and timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *config) error {
		if clock == nil {
			return errors.New("clock is nil")
		}
		c.clock = clock
		return nil
	}
}

// WithEventHandler sets the handler that receives committed events.
func WithEventHandler(h EventHandler) Option {
	return func(c *config) error {
		c.handler = h
		return nil
	}
}

// Datastore is the transactional store a Ledger persists to. Range queries seek
// with dsextensions, so the store must support extended queries.
type Datastore interface {
	ds.TxnDatastore
	dsextensions.DatastoreExtensions
}

// Ledger is an auction escrow contract instance: the auction registry, the bid
// ledger, the refund outbox and the event log, persisted in a transactional datastore.
// Entry points run one at a time, each inside a single datastore transaction.
type Ledger struct {
	store   Datastore
	clock   func() time.Time
	handler EventHandler
	entropy *ulid.MonotonicEntropy

	lk sync.Mutex

	metrics ledgerMetrics
	statsLk sync.Mutex
	stats   stats
}

var _ escrow.Escrow = (*Ledger)(nil)

// New returns a new Ledger backed by store.
func New(store Datastore, opts ...Option) (*Ledger, error) {
	conf := config{clock: time.Now}
	for _, opt := range opts {
		if err := opt(&conf); err != nil {
			return nil, fmt.Errorf("applying option: %v", err)
		}
	}
	l := &Ledger{
		store:   store,
		clock:   conf.clock,
		handler: conf.handler,
	}
	if err := l.loadStats(context.Background()); err != nil {
		return nil, fmt.Errorf("loading stats: %v", err)
	}
	l.initMetrics()
	return l, nil
}

// txState is the working set of one entry point call.
type txState struct {
	ctx    context.Context
	txn    ds.Txn
	now    time.Time
	height uint64
	dirty  bool

	balance *big.Int
	outbox  *big.Int

	events  []escrow.Event
	refunds []escrow.Refund
}

func (st *txState) put(key ds.Key, v interface{}) error {
	val, err := encode(v)
	if err != nil {
		return fmt.Errorf("encoding value for %s: %v", key, err)
	}
	if err := st.txn.Put(st.ctx, key, val); err != nil {
		return fmt.Errorf("putting key %s: %v", key, err)
	}
	st.dirty = true
	return nil
}

func (st *txState) putRaw(key ds.Key, v []byte) error {
	if err := st.txn.Put(st.ctx, key, v); err != nil {
		return fmt.Errorf("putting key %s: %v", key, err)
	}
	st.dirty = true
	return nil
}

func (st *txState) delete(key ds.Key) error {
	if err := st.txn.Delete(st.ctx, key); err != nil {
		return fmt.Errorf("deleting key %s: %v", key, err)
	}
	st.dirty = true
	return nil
}

func (st *txState) emit(e escrow.Event) {
	e.Height = st.height
	e.Index = len(st.events)
	e.Timestamp = st.now
	st.events = append(st.events, e)
	st.dirty = true
}

// update runs f inside a write transaction. Nothing f wrote is kept unless it
// returns nil. Events emitted by f are appended to the log under a new height.
func (l *Ledger) update(ctx context.Context, op string, f func(*txState) error) (st *txState, err error) {
	start := time.Now()
	defer func() { l.onCall(ctx, op, start, err) }()

	l.lk.Lock()
	defer l.lk.Unlock()

	txn, err := l.store.NewTransaction(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	height, err := getUint(ctx, txn, dsHeightKey)
	if err != nil {
		return nil, err
	}
	balance, err := getAmount(ctx, txn, dsBalanceKey)
	if err != nil {
		return nil, err
	}
	outbox, err := getAmount(ctx, txn, dsOutboxKey)
	if err != nil {
		return nil, err
	}
	st = &txState{
		ctx:     ctx,
		txn:     txn,
		now:     l.clock(),
		height:  height + 1,
		balance: balance,
		outbox:  outbox,
	}
	if err := f(st); err != nil {
		return nil, err
	}
	if !st.dirty {
		st.height = height
		return st, nil
	}

	for _, e := range st.events {
		if err := st.put(eventKey(e.Height, e.Index), e); err != nil {
			return nil, err
		}
	}
	if err := putAmount(ctx, txn, dsBalanceKey, st.balance); err != nil {
		return nil, err
	}
	if err := putAmount(ctx, txn, dsOutboxKey, st.outbox); err != nil {
		return nil, err
	}
	if err := putUint(ctx, txn, dsHeightKey, st.height); err != nil {
		return nil, err
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing txn: %v", err)
	}

	l.setStats(stats{height: st.height, balance: st.balance, outbox: st.outbox})
	if l.handler != nil && len(st.events) > 0 {
		l.handler(ctx, st.events)
	}
	return st, nil
}

// view runs f inside a read-only transaction.
func (l *Ledger) view(ctx context.Context, f func(ds.Txn) error) error {
	txn, err := l.store.NewTransaction(ctx, true)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)
	return f(txn)
}

// viewExtended is view with a transaction supporting seek queries.
func (l *Ledger) viewExtended(ctx context.Context, f func(dsextensions.TxnExt) error) error {
	txn, err := l.store.NewTransactionExtended(true)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)
	return f(txn)
}

// newRefundID returns a new monotonically increasing refund id.
// Must be called with the ledger lock held; entropy is not safe for concurrent use.
func (l *Ledger) newRefundID(t time.Time) (string, error) {
	if l.entropy == nil {
		l.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(t.UTC()), l.entropy)
	if errors.Is(err, ulid.ErrMonotonicOverflow) {
		l.entropy = nil
		return l.newRefundID(t)
	} else if err != nil {
		return "", fmt.Errorf("generating id: %v", err)
	}
	return id.String(), nil
}

// Balance returns the currency held by the contract.
func (l *Ledger) Balance(ctx context.Context) (*big.Int, error) {
	var balance *big.Int
	err := l.view(ctx, func(txn ds.Txn) (err error) {
		balance, err = getAmount(ctx, txn, dsBalanceKey)
		return err
	})
	return balance, err
}

// Height returns the height of the last committed call.
func (l *Ledger) Height(ctx context.Context) (uint64, error) {
	var height uint64
	err := l.view(ctx, func(txn ds.Txn) (err error) {
		height, err = getUint(ctx, txn, dsHeightKey)
		return err
	})
	return height, err
}

// Now returns the current time of the ledger clock.
func (l *Ledger) Now() time.Time {
	return l.clock()
}

// Close the ledger. The datastore is owned by the caller.
func (l *Ledger) Close() error {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.handler = nil
	return nil
}

func checkPayment(call escrow.Call, required *big.Int) error {
	paid := call.AttachedPayment()
	if paid.Sign() < 0 {
		return fmt.Errorf("%w: negative payment %s", escrow.ErrInvalidParameters, paid)
	}
	if paid.Cmp(required) != 0 {
		return fmt.Errorf("%w: attached %s, required %s", escrow.ErrPaymentMismatch, paid, required)
	}
	return nil
}
