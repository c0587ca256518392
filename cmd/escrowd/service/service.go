package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/textileio/escrow-core/auth"
	"github.com/textileio/escrow-core/cmd/escrowd/ledger"
	"github.com/textileio/escrow-core/cmd/escrowd/rpcapi"
	"github.com/textileio/escrow-core/common"
	"github.com/textileio/escrow-core/msgbroker"
	escrowrpc "github.com/textileio/escrow-core/rpc"
	badger "github.com/textileio/go-ds-badger3"
	"github.com/textileio/go-libp2p-pubsub-rpc/finalizer"
	logging "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// LogName is the logging subsystem of the service.
const LogName = "escrowd/service"

var log = logging.Logger(LogName)

// Config defines params for Service configuration.
type Config struct {
	// RepoPath is the directory of the ledger datastore.
	RepoPath string
	// RPCAddr is the listen address of the HTTP server.
	RPCAddr string
	// AuthSecret enables bearer token authentication of callers when set.
	AuthSecret string
	// PublishQueueSize bounds the events waiting to be published.
	PublishQueueSize int
	// LedgerOptions are passed to the ledger.
	LedgerOptions []ledger.Option
}

// Service runs the escrow ledger behind a JSON-RPC server and publishes its events.
type Service struct {
	ledger    *ledger.Ledger
	server    *http.Server
	listener  net.Listener
	finalizer *finalizer.Finalizer
}

// New returns a new Service.
func New(mb msgbroker.MsgBroker, conf Config) (*Service, error) {
	fin := finalizer.NewFinalizer()

	store, err := badgerStore(conf.RepoPath, fin)
	if err != nil {
		return nil, fin.Cleanupf("creating repo: %v", err)
	}

	pub := newPublisher(mb, conf.PublishQueueSize)
	fin.Add(pub)

	opts := append([]ledger.Option{ledger.WithEventHandler(pub.handle)}, conf.LedgerOptions...)
	l, err := ledger.New(store, opts...)
	if err != nil {
		return nil, fin.Cleanupf("creating ledger: %v", err)
	}
	fin.Add(l)

	rpcServer, err := rpcapi.NewServer(l, conf.AuthSecret != "")
	if err != nil {
		return nil, fin.Cleanupf("creating rpc server: %v", err)
	}
	fin.AddFn(rpcServer.Stop)

	var handler http.Handler = rpcServer
	if conf.AuthSecret != "" {
		a, err := auth.NewJWTAuthorizer(conf.AuthSecret)
		if err != nil {
			return nil, fin.Cleanupf("creating authorizer: %v", err)
		}
		handler = auth.Middleware(a, handler)
	}

	s := &Service{ledger: l, finalizer: fin}

	mux := http.NewServeMux()
	mux.Handle(escrowrpc.DefaultPath, otelhttp.NewHandler(handler, "rpc"))
	mux.HandleFunc("/health", s.healthHandler)

	listener, err := net.Listen("tcp", conf.RPCAddr)
	if err != nil {
		return nil, fin.Cleanupf("listening: %v", err)
	}
	s.listener = listener
	s.server = &http.Server{
		ReadHeaderTimeout: time.Second * 5,
		Handler:           common.HTTPLoggerMiddleware(log, mux),
	}
	log.Infof("running JSON-RPC API at %s...", listener.Addr())
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()
	fin.AddFn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			log.Errorf("shutting down http server: %s", err)
		}
	})

	return s, nil
}

// Addr returns the address the JSON-RPC server listens on.
func (s *Service) Addr() string {
	return s.listener.Addr().String()
}

// Ledger returns the ledger of the service.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// Close the service.
func (s *Service) Close() error {
	log.Info("closing service...")
	return s.finalizer.Cleanup(nil)
}

type health struct {
	Status string `json:"status"`
	Height uint64 `json:"height"`
}

func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	height, err := s.ledger.Height(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("reading height: %s", err), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health{Status: "ok", Height: height}); err != nil {
		log.Errorf("writing health response: %s", err)
	}
}

func badgerStore(repoPath string, fin *finalizer.Finalizer) (ledger.Datastore, error) {
	if err := os.MkdirAll(repoPath, os.ModePerm); err != nil {
		return nil, err
	}
	dstore, err := badger.NewDatastore(repoPath, &badger.DefaultOptions)
	if err != nil {
		return nil, err
	}
	fin.Add(dstore)
	return dstore, nil
}
