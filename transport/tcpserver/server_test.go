package tcpserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"equityexchange/account"
	"equityexchange/domain"
	"equityexchange/exchange"
	"equityexchange/matching"
	"equityexchange/session"
	"equityexchange/store"
	"equityexchange/wire"
)

type memStore struct {
	mu   sync.Mutex
	rows map[domain.UserID]store.AccountRow
}

func newMemStore() *memStore { return &memStore{rows: make(map[domain.UserID]store.AccountRow)} }

func (s *memStore) LoadAccount(_ context.Context, userID domain.UserID) (store.AccountRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[userID]
	if !ok {
		return store.AccountRow{}, store.ErrNotFound
	}
	return row, nil
}

func (s *memStore) SaveAccount(_ context.Context, row store.AccountRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.UserID] = row
	return nil
}

type fakeTokenStore struct {
	tokens map[string]domain.UserID
}

func (f *fakeTokenStore) Lookup(_ context.Context, token string) (domain.UserID, bool, error) {
	userID, ok := f.tokens[token]
	return userID, ok, nil
}
func (f *fakeTokenStore) Close() error { return nil }

// newTestServer wires a real account manager, a single AAPL engine, an
// exchange coordinator, and a session manager together, returning a Server
// that hasn't bound a listener — tests drive it directly over net.Pipe via
// handle, the same path Serve would dispatch a real connection to.
func newTestServer(t *testing.T) (*Server, context.Context) {
	t.Helper()
	accounts := account.NewManager(newMemStore(), zap.NewNop(), 100_000*100)
	ctx := context.Background()
	_, err := accounts.Load(ctx, "alice")
	require.NoError(t, err)

	x := exchange.New(accounts, nil, nil, zap.NewNop(), exchange.Config{IndexInterval: time.Hour})
	engine := matching.NewEngine(matching.Options{
		Symbol:       "AAPL",
		Reservations: accounts,
		IDs:          matching.NewIDGenerator("S"),
		Logger:       zap.NewNop(),
	})
	x.RegisterSymbol(engine)
	x.Start(ctx)
	t.Cleanup(x.Stop)

	tokens := &fakeTokenStore{tokens: map[string]domain.UserID{"tok-alice": "alice"}}
	sessions := session.NewManager(tokens, session.LoaderFunc(func(ctx context.Context, userID domain.UserID) error {
		_, err := accounts.Load(ctx, userID)
		return err
	}), nil, zap.NewNop(), time.Hour)

	srv := New(Config{RateLimit: 1000, RateBurst: 1000, HeartbeatTimeout: 5 * time.Second}, sessions, x, zap.NewNop())
	return srv, ctx
}

func TestLoginThenSubmitOrderRoundTrip(t *testing.T) {
	srv, ctx := newTestServer(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go srv.handle(ctx, "conn1", serverConn)

	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeLoginRequest, &wire.LoginRequest{Token: "tok-alice"}))
	typ, msg, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeLoginResponse, typ)
	loginResp := msg.(*wire.LoginResponse)
	require.True(t, loginResp.Success)

	submit := &wire.SubmitOrder{
		OrderID:      "o1",
		UserID:       "alice",
		Symbol:       "AAPL",
		Side:         uint8(domain.SideBuy),
		Kind:         uint8(domain.KindLimit),
		Quantity:     5,
		PriceDollars: 100.00,
		TimestampMs:  uint64(domain.NowMs()),
	}
	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeSubmitOrder, submit))

	typ, msg, err = wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeOrderResponse, typ)
	orderResp := msg.(*wire.OrderResponse)
	require.Equal(t, "o1", orderResp.OrderID)
	require.True(t, orderResp.Accepted, orderResp.Message)
}

func TestSubmitOrderWithoutLoginIsRejected(t *testing.T) {
	srv, ctx := newTestServer(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go srv.handle(ctx, "conn2", serverConn)

	submit := &wire.SubmitOrder{OrderID: "o1", UserID: "alice", Symbol: "AAPL", Side: 0, Kind: 1, Quantity: 5, PriceDollars: 100}
	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeSubmitOrder, submit))

	typ, msg, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeOrderResponse, typ)
	resp := msg.(*wire.OrderResponse)
	require.False(t, resp.Accepted)
}

func TestHeartbeatGetsAcked(t *testing.T) {
	srv, ctx := newTestServer(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go srv.handle(ctx, "conn3", serverConn)

	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeHeartbeat, nil))
	typ, _, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeHeartbeatAck, typ)
}

func TestLoginWithUnknownTokenFails(t *testing.T) {
	srv, ctx := newTestServer(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go srv.handle(ctx, "conn4", serverConn)

	require.NoError(t, wire.WriteFrame(clientConn, wire.TypeLoginRequest, &wire.LoginRequest{Token: "bogus"}))
	typ, msg, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.TypeLoginResponse, typ)
	resp := msg.(*wire.LoginResponse)
	require.False(t, resp.Success)
}
