// Command exchange wires every component described in spec.md §4 into a
// running process: durable store, token store, account manager, one
// matching engine per symbol, the exchange coordinator, the persistence
// worker, and the TCP/WebSocket/shared-memory transports. Grounded on the
// teacher's main.go wiring shape (construct bottom-up, start top-down, shut
// down in reverse).
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"equityexchange/account"
	"equityexchange/config"
	"equityexchange/domain"
	"equityexchange/exchange"
	"equityexchange/matching"
	"equityexchange/persistence"
	"equityexchange/session"
	"equityexchange/store"
	"equityexchange/tokenstore"
	"equityexchange/transport/mdfeed"
	"equityexchange/transport/shmring"
	"equityexchange/transport/tcpserver"
)

// defaultSymbols is the starting trading universe. A production deployment
// would instead enumerate stocks_master at startup; this process has no
// "list all rows" store method yet, so the universe is fixed here.
var defaultSymbols = []domain.Symbol{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := buildLogger(cfg.DeveloperVerbose)
	defer logger.Sync()

	db, err := store.Open(cfg.DBDSN)
	if err != nil {
		logger.Error("store open failed", zap.Error(err))
		return 1
	}
	defer db.Close()

	tokens, err := tokenstore.Open(tokenstore.Options{
		Addr:     cfg.TokenStoreAddr,
		Password: cfg.TokenStorePassword,
		DB:       cfg.TokenStoreDB,
	})
	if err != nil {
		logger.Error("token store open failed", zap.Error(err))
		return 1
	}
	defer tokens.Close()

	accounts := account.NewManager(db, logger, account.DefaultInitialCash)
	persist := persistence.NewWorker(db, logger, 0, 0, 0)
	ex := exchange.New(accounts, persist, db, logger, exchange.Config{})

	ids := matching.NewIDGenerator("T")
	for _, symbol := range defaultSymbols {
		engine := matching.NewEngine(matching.Options{
			Symbol:       symbol,
			Reservations: accounts,
			IDs:          ids,
			Logger:       logger,
			OnStatus:     onOrderStatus(db, logger, persist.EnqueueOrder),
			OnTrade:      persist.EnqueueTrade,
		})
		ex.RegisterSymbol(engine)
	}

	sessions := session.NewManager(tokens, session.LoaderFunc(func(ctx context.Context, userID domain.UserID) error {
		_, err := accounts.Load(ctx, userID)
		return err
	}), db, logger, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex.Start(ctx)
	defer ex.Stop()

	go persist.Run(ctx)
	defer persist.Stop()

	flushCtx, flushCancel := context.WithCancel(context.Background())
	defer flushCancel()
	go accounts.RunFlushLoop(flushCtx, 30*time.Second)

	go sessions.RunIdleSweep(ctx, time.Minute)

	feed := mdfeed.New(ex, logger)
	for _, engine := range ex.Engines() {
		feed.RegisterSymbol(engine)
	}
	feed.Start(ctx)
	defer feed.Stop()

	ring := shmring.New(cfg.SharedMemoryRingName, 0)
	shmWorker := shmring.NewWorker(ring, tokens, ex, logger)
	go shmWorker.Run(ctx)

	tcpCfg := tcpserver.Config{Addr: cfg.TCPBindAddr}
	if cfg.TCPTLSEnabled {
		tlsCfg, err := loadTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			logger.Error("tls config load failed", zap.Error(err))
			return 1
		}
		tcpCfg.TLS = tlsCfg
	}
	tcp := tcpserver.New(tcpCfg, sessions, ex, logger)

	streamMux := http.NewServeMux()
	streamMux.Handle("/stream", feed)
	streamSrv := &http.Server{Addr: cfg.StreamBindAddr, Handler: streamMux}
	defer streamSrv.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- tcp.Serve(ctx)
	}()

	streamErrCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.StreamTLSEnabled {
			err = streamSrv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = streamSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			streamErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("tcp server failed to bind", zap.Error(err))
			return 1
		}
	case err := <-streamErrCh:
		logger.Error("stream server failed to bind", zap.Error(err))
		return 1
	case <-sigCh:
		logger.Info("shutdown signal received")
	}

	cancel()
	return 0
}

// onOrderStatus wraps next (ordinarily persist.EnqueueOrder) so a market
// order cancelled for breaching the price-protection band also lands a
// circuit_breaker_event (spec.md §4.6): the band reject is this exchange's
// only per-symbol protective action, so it is the one status transition
// worth a durable, synchronous record rather than just a log line.
func onOrderStatus(db store.Store, logger *zap.Logger, next func(order *domain.Order)) func(order *domain.Order) {
	return func(order *domain.Order) {
		next(order)
		if order.Status != domain.StatusCancelled || order.RejectReason != domain.RejectMarketBandViolated {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.RecordCircuitBreakerEvent(ctx, store.CircuitBreakerEvent{
			Symbol:      order.Symbol,
			Action:      "band_reject",
			Reason:      string(domain.RejectMarketBandViolated),
			TimestampMs: domain.NowMs(),
		}); err != nil {
			logger.Warn("circuit breaker event record failed", zap.Error(err), zap.String("symbol", string(order.Symbol)))
		}
	}
}

func buildLogger(verbose bool) *zap.Logger {
	if verbose {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}

func loadTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
