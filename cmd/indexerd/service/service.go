package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/textileio/escrow-core/cmd/escrowd/rpcapi"
	"github.com/textileio/escrow-core/cmd/indexerd/store"
	"github.com/textileio/escrow-core/common"
	"github.com/textileio/escrow-core/escrow"
	"github.com/textileio/escrow-core/msgbroker"
	"github.com/textileio/escrow-core/sempool"
	"github.com/textileio/go-libp2p-pubsub-rpc/finalizer"
	logging "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// LogName is the logging subsystem of the service.
const LogName = "indexerd/service"

var log = logging.Logger(LogName)

// Service indexes escrow events into Postgres and serves them over HTTP.
type Service struct {
	store *store.Store
	// Events of one auction are applied one at a time.
	auctionLocks *sempool.SemaphorePool
	listener     net.Listener
	finalizer    *finalizer.Finalizer
}

var _ msgbroker.EscrowEventsListener = (*Service)(nil)

// New creates the service.
func New(mb msgbroker.MsgBroker, httpAddr string, postgresURI string) (*Service, error) {
	fin := finalizer.NewFinalizer()
	s, err := store.New(postgresURI)
	if err != nil {
		return nil, fin.Cleanupf("creating store: %v", err)
	}
	fin.Add(s)
	service := &Service{store: s, auctionLocks: sempool.NewSemaphorePool(1), finalizer: fin}
	fin.AddFn(service.auctionLocks.Stop)

	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fin.Cleanupf("listening: %v", err)
	}
	service.listener = listener
	httpServer := &http.Server{
		ReadHeaderTimeout: time.Second * 5,
		Handler:           common.HTTPLoggerMiddleware(log, service.createMux()),
	}
	log.Infof("running HTTP API at %s...", listener.Addr())
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()
	fin.AddFn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Errorf("shutting down http server: %s", err)
		}
	})

	if err := msgbroker.RegisterHandlers(mb, service); err != nil {
		return nil, fin.Cleanupf("registering msgbroker handlers: %v", err)
	}

	return service, nil
}

// Addr returns the address the HTTP API listens on.
func (s *Service) Addr() string {
	return s.listener.Addr().String()
}

// Close the service.
func (s *Service) Close() error {
	return s.finalizer.Cleanup(nil)
}

// OnAuctionCreated .
func (s *Service) OnAuctionCreated(ctx context.Context, e escrow.Event) error {
	log.Debugf("handling auction created message: %+v", e)
	return s.apply(ctx, e)
}

// OnBidPlaced .
func (s *Service) OnBidPlaced(ctx context.Context, e escrow.Event) error {
	log.Debugf("handling bid placed message: %+v", e)
	return s.apply(ctx, e)
}

// OnBidCancelled .
func (s *Service) OnBidCancelled(ctx context.Context, e escrow.Event) error {
	log.Debugf("handling bid cancelled message: %+v", e)
	return s.apply(ctx, e)
}

type auctionKey escrow.AuctionID

func (k auctionKey) Key() string {
	return escrow.AuctionID(k).String()
}

func (s *Service) apply(ctx context.Context, e escrow.Event) error {
	lock := s.auctionLocks.Get(auctionKey(e.AuctionID))
	lock.Acquire()
	defer lock.Release()

	if _, err := s.store.ApplyEvent(ctx, e); err != nil {
		log.Errorf("applying %s event at height %d: %s", e.Type, e.Height, err)
		return err
	}
	return nil
}

func (s *Service) createMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/events", otelhttp.NewHandler(http.HandlerFunc(s.eventsHandler), "events"))
	mux.Handle("/auctions/", otelhttp.NewHandler(http.HandlerFunc(s.auctionsHandler), "auctions"))
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

func (s *Service) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, "only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	from, err := uintParam(q.Get("from"))
	if err != nil {
		httpError(w, fmt.Sprintf("parsing from: %s", err), http.StatusBadRequest)
		return
	}
	to, err := uintParam(q.Get("to"))
	if err != nil {
		httpError(w, fmt.Sprintf("parsing to: %s", err), http.StatusBadRequest)
		return
	}
	limit, err := uintParam(q.Get("limit"))
	if err != nil {
		httpError(w, fmt.Sprintf("parsing limit: %s", err), http.StatusBadRequest)
		return
	}
	events, err := s.store.Events(r.Context(), from, to, int(limit))
	if err != nil {
		httpError(w, fmt.Sprintf("getting events: %s", err), http.StatusInternalServerError)
		return
	}
	out := make([]rpcapi.Event, len(events))
	for i, e := range events {
		out[i] = rpcapi.EventToWire(e)
	}
	writeJSON(w, out)
}

// auctionsHandler serves /auctions/<id> and /auctions/<id>/bids.
func (s *Service) auctionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, "only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/auctions/"), "/"), "/")
	if len(parts) == 0 || len(parts) > 2 || (len(parts) == 2 && parts[1] != "bids") {
		httpError(w, "not found", http.StatusNotFound)
		return
	}
	id, err := escrow.ParseAuctionID(parts[0])
	if err != nil {
		httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(parts) == 2 {
		bids, err := s.store.Bids(r.Context(), id)
		if err != nil {
			httpError(w, fmt.Sprintf("getting bids: %s", err), http.StatusInternalServerError)
			return
		}
		out := make([]rpcapi.Bid, len(bids))
		for i, b := range bids {
			out[i] = rpcapi.Bid{
				AuctionID: uint64(b.AuctionID),
				Bidder:    string(b.Bidder),
				Amount:    b.Amount.String(),
				Price:     b.Price.String(),
				PlacedAt:  b.PlacedAt.Unix(),
				UpdatedAt: b.UpdatedAt.Unix(),
			}
		}
		writeJSON(w, out)
		return
	}

	a, err := s.store.Auction(r.Context(), id)
	if errors.Is(err, escrow.ErrNotFound) {
		httpError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		httpError(w, fmt.Sprintf("getting auction: %s", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rpcapi.Auction{
		ID:           uint64(a.ID),
		TokenID:      string(a.TokenID),
		TotalAmount:  a.TotalAmount.String(),
		EndTimestamp: a.EndTimestamp,
		Seller:       string(a.Seller),
		NumBids:      a.NumBids,
		Escrowed:     a.Escrowed.String(),
		Height:       a.Height,
		CreatedAt:    a.CreatedAt.Unix(),
		Status:       a.Status(time.Now()).String(),
	})
}

func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	height, err := s.store.LastHeight(r.Context())
	if err != nil {
		httpError(w, fmt.Sprintf("reading height: %s", err), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "height": height})
}

func uintParam(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("writing response: %s", err)
	}
}

func httpError(w http.ResponseWriter, err string, status int) {
	log.Debugf("request error: %s", err)
	http.Error(w, err, status)
}
