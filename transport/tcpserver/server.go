// Package tcpserver implements the TLS-framed TCP endpoint of spec.md §6:
// one goroutine per connection, speaking the wire package's length-prefixed
// protocol, backed by the session layer for authentication and the
// exchange coordinator for order submission. Grounded on the teacher's
// per-connection-goroutine transport shape, with per-connection rate
// limiting borrowed from the pack's golang.org/x/time/rate usage.
package tcpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"equityexchange/domain"
	"equityexchange/exchange"
	"equityexchange/money"
	"equityexchange/session"
	"equityexchange/wire"
	"equityexchange/xerr"
)

// DefaultRateLimit bounds how many frames per second one connection may
// submit before it starts getting throttled (a plain read-delay, not a
// rejection).
const DefaultRateLimit = 200

// DefaultRateBurst is the token bucket's burst allowance.
const DefaultRateBurst = 400

// DefaultHeartbeatTimeout closes a connection that sends nothing at all —
// not even a Heartbeat — for this long.
const DefaultHeartbeatTimeout = 30 * time.Second

// Config configures the server.
type Config struct {
	Addr             string
	TLS              *tls.Config // nil disables TLS (plaintext, for local dev/tests)
	RateLimit        rate.Limit
	RateBurst        int
	HeartbeatTimeout time.Duration
	IdleThreshold    time.Duration
}

// Server accepts connections and dispatches each to its own goroutine.
type Server struct {
	cfg      Config
	sessions *session.Manager
	exchange *exchange.Exchange
	logger   *zap.Logger

	listener net.Listener
}

// New constructs a Server. Call Serve to start accepting.
func New(cfg Config, sessions *session.Manager, ex *exchange.Exchange, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Server{cfg: cfg, sessions: sessions, exchange: ex, logger: logger}
}

// Serve binds the listener and accepts connections until ctx is cancelled.
// Returns the bind error, if any, so the caller can treat a failed mandatory
// bind as a nonzero exit code (spec.md §6).
func (s *Server) Serve(ctx context.Context) error {
	var ln net.Listener
	var err error
	if s.cfg.TLS != nil {
		ln, err = tls.Listen("tcp", s.cfg.Addr, s.cfg.TLS)
	} else {
		ln, err = net.Listen("tcp", s.cfg.Addr)
	}
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.logger.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		connID := domain.ConnectionID(uuid.NewString())
		go s.handle(ctx, connID, conn)
	}
}

func (s *Server) handle(ctx context.Context, connID domain.ConnectionID, conn net.Conn) {
	defer conn.Close()
	defer s.sessions.Drop(connID)

	limiter := rate.NewLimiter(s.cfg.RateLimit, s.cfg.RateBurst)

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
		typ, msg, err := wire.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("connection closed", zap.Error(err), zap.String("conn_id", string(connID)))
			}
			return
		}

		if err := limiter.Wait(ctx); err != nil {
			return
		}

		s.sessions.Touch(connID)

		switch typ {
		case wire.TypeLoginRequest:
			s.handleLogin(ctx, connID, conn, msg.(*wire.LoginRequest))
		case wire.TypeSubmitOrder:
			s.handleSubmit(connID, conn, msg.(*wire.SubmitOrder))
		case wire.TypeHeartbeat:
			if err := wire.WriteFrame(conn, wire.TypeHeartbeatAck, nil); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) handleLogin(ctx context.Context, connID domain.ConnectionID, conn net.Conn, req *wire.LoginRequest) {
	_, err := s.sessions.Authenticate(ctx, connID, req.Token)
	success := err == nil || errors.Is(err, session.ErrAlreadyAuthenticated)
	msg := "ok"
	if err != nil && !errors.Is(err, session.ErrAlreadyAuthenticated) {
		msg = err.Error()
	}
	wire.WriteFrame(conn, wire.TypeLoginResponse, &wire.LoginResponse{Success: success, Message: msg})
}

func (s *Server) handleSubmit(connID domain.ConnectionID, conn net.Conn, req *wire.SubmitOrder) {
	userID, ok := s.sessions.UserID(connID)
	if !ok {
		wire.WriteFrame(conn, wire.TypeOrderResponse, &wire.OrderResponse{
			OrderID: req.OrderID, Accepted: false, Message: xerr.Reason(xerr.KindNotAuthenticated),
		})
		return
	}
	// The authenticated session's user id is authoritative over whatever
	// the frame claims (spec.md §6); a mismatch is logged, not rejected.
	if domain.UserID(req.UserID) != userID {
		s.logger.Warn("submit order user_id mismatch, substituting session identity",
			zap.String("conn_id", string(connID)), zap.String("frame_user_id", req.UserID))
	}

	order := domain.NewOrder(
		domain.OrderID(req.OrderID),
		userID,
		domain.Symbol(req.Symbol),
		domain.Side(req.Side),
		domain.Kind(req.Kind),
		money.FromDollars(req.PriceDollars),
		int64(req.Quantity),
		int64(req.TimestampMs),
	)

	accepted, reason := s.exchange.Submit(order)
	resp := &wire.OrderResponse{OrderID: req.OrderID, Accepted: accepted}
	if accepted {
		resp.Message = "accepted"
	} else {
		resp.Message = xerr.Reason(xerr.FromRejectReason(reason))
		order.Release()
	}
	wire.WriteFrame(conn, wire.TypeOrderResponse, resp)
}
