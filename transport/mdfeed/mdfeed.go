// Package mdfeed publishes market-data snapshots and the cross-symbol index
// over WebSocket, the "streaming RPC" endpoint of spec.md §6. Grounded on
// the pack's gorilla/websocket usage for the wire transport and on the
// teacher's per-symbol publisher-goroutine pattern for draining engine
// output without touching the matching thread.
package mdfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"equityexchange/exchange"
	"equityexchange/matching"
)

// DefaultWriteTimeout bounds how long a single frame write may block before
// the connection is considered dead.
const DefaultWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope is the JSON message shape sent to every subscriber.
type envelope struct {
	Kind string `json:"kind"` // "market_data" or "index"
	Data any    `json:"data"`
}

// Feed fans out market-data updates (one goroutine per registered symbol)
// and index snapshots to every connected WebSocket client.
type Feed struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	engines []*matching.Engine
	index   *exchange.Exchange

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Feed. Call RegisterSymbol for each engine whose
// market-data stream should be published, then Start.
func New(index *exchange.Exchange, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
		index:   index,
		stopCh:  make(chan struct{}),
	}
}

// RegisterSymbol adds engine's market-data stream to the feed. Call before
// Start.
func (f *Feed) RegisterSymbol(engine *matching.Engine) {
	f.engines = append(f.engines, engine)
}

// ServeHTTP upgrades the connection to a WebSocket and registers it as a
// subscriber until it disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	f.mu.Lock()
	f.clients[conn] = struct{}{}
	f.mu.Unlock()

	// Subscribers never send anything meaningful; read and discard until
	// the client disconnects, so we notice the close promptly.
	go func() {
		defer f.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *Feed) removeClient(conn *websocket.Conn) {
	f.mu.Lock()
	delete(f.clients, conn)
	f.mu.Unlock()
	conn.Close()
}

// Start launches one goroutine per registered symbol draining its
// market-data queue, plus one goroutine fanning out index snapshots.
func (f *Feed) Start(ctx context.Context) {
	for _, engine := range f.engines {
		f.wg.Add(1)
		go f.runMarketData(ctx, engine)
	}
	f.wg.Add(1)
	go f.runIndex(ctx)
}

// Stop signals every feed goroutine to exit and closes all client
// connections.
func (f *Feed) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	f.mu.Lock()
	for conn := range f.clients {
		conn.Close()
	}
	f.clients = make(map[*websocket.Conn]struct{})
	f.mu.Unlock()
}

func (f *Feed) runMarketData(ctx context.Context, engine *matching.Engine) {
	defer f.wg.Done()
	queue := engine.MarketData()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		update, ok := queue.TryPop()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		f.broadcast(envelope{Kind: "market_data", Data: update})
	}
}

func (f *Feed) runIndex(ctx context.Context) {
	defer f.wg.Done()
	snapshots := f.index.Subscribe()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			f.broadcast(envelope{Kind: "index", Data: snap})
		}
	}
}

func (f *Feed) broadcast(env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		f.logger.Error("market data encode failed", zap.Error(err))
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for conn := range f.clients {
		conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			f.logger.Debug("market data write failed", zap.Error(err))
		}
	}
}
