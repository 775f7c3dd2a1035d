// Package shmring approximates the optional shared-memory ingress contract
// of spec.md §6 with an in-process ring: a named, fixed-capacity MPSC queue
// of decoded envelopes, plus Encode/Decode for the `[uint32 slot_len][payload]`
// slot framing. Unlike the TCP
// path, shared-memory submissions carry their own token per message rather
// than relying on a connection-scoped session, because no persistent
// session exists across a shared-memory boundary. Grounded on the
// teacher's queue.MPSC ring for the producer/consumer shape, generalized
// from an order-only payload to the token-carrying envelope this spec
// names.
package shmring

import (
	"context"
	"encoding/binary"
	"time"

	"go.uber.org/zap"

	"equityexchange/domain"
	"equityexchange/exchange"
	"equityexchange/money"
	"equityexchange/queue"
	"equityexchange/tokenstore"
	"equityexchange/wire"
)

// DefaultRingName matches spec.md §6's default shared-memory ring name.
const DefaultRingName = "stock_exchange_orders"

// DefaultCapacity is the ring's slot count (power of two, per queue.MPSC).
const DefaultCapacity = 1 << 14

// Envelope is one shared-memory slot's payload: the same fields as
// wire.SubmitOrder plus a per-message bearer token.
type Envelope struct {
	Token string
	Order wire.SubmitOrder
}

// Ring is the in-process stand-in for the named shared-memory ring. Slots
// are modeled as a fixed-capacity MPSC queue of pre-decoded Envelopes
// rather than raw bytes, since there is no real shared-memory segment to
// frame in this process-local approximation; Encode/Decode below still
// implement the `[uint32 slot_len][payload]` wire framing for anything that
// does need to cross a real shared-memory boundary (e.g. a future
// out-of-process writer).
type Ring struct {
	name  string
	slots *queue.MPSC[Envelope]
}

// New creates a Ring of the given name and capacity (must be a power of
// two; 0 selects DefaultCapacity).
func New(name string, capacity int) *Ring {
	if name == "" {
		name = DefaultRingName
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{name: name, slots: queue.NewMPSC[Envelope](capacity)}
}

func (r *Ring) Name() string { return r.name }

// TryPublish enqueues env without blocking; false means the ring is full
// and the submission is dropped (the caller is expected to retry or log).
func (r *Ring) TryPublish(env Envelope) bool {
	return r.slots.TryPublish(env)
}

// Encode frames env as `[uint32 slot_len][payload]`, reusing wire's
// SubmitOrder body encoding for the order portion.
func Encode(env Envelope) ([]byte, error) {
	orderBody, err := wire.EncodeSubmitOrderBody(env.Order)
	if err != nil {
		return nil, err
	}
	tokenLen := len(env.Token)
	payload := make([]byte, 4+tokenLen+len(orderBody))
	binary.BigEndian.PutUint32(payload, uint32(tokenLen))
	copy(payload[4:], env.Token)
	copy(payload[4+tokenLen:], orderBody)

	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// Decode reverses Encode, reading one `[uint32 slot_len][payload]` slot
// from the front of raw.
func Decode(raw []byte) (Envelope, error) {
	if len(raw) < 4 {
		return Envelope{}, wire.ErrMalformedFrame
	}
	slotLen := binary.BigEndian.Uint32(raw)
	if int(slotLen) < 4 || 4+int(slotLen) > len(raw) {
		return Envelope{}, wire.ErrMalformedFrame
	}
	payload := raw[4 : 4+slotLen]
	if len(payload) < 4 {
		return Envelope{}, wire.ErrMalformedFrame
	}
	tokenLen := binary.BigEndian.Uint32(payload)
	if 4+int(tokenLen) > len(payload) {
		return Envelope{}, wire.ErrMalformedFrame
	}
	token := string(payload[4 : 4+tokenLen])
	order, err := wire.DecodeSubmitOrderBody(payload[4+tokenLen:])
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Token: token, Order: order}, nil
}

// Worker drains a Ring, authenticating each envelope's token independently
// (shared-memory submissions have no standing session) and submitting the
// resulting order to the exchange.
type Worker struct {
	ring     *Ring
	tokens   tokenstore.Store
	exchange *exchange.Exchange
	logger   *zap.Logger
}

func NewWorker(ring *Ring, tokens tokenstore.Store, ex *exchange.Exchange, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{ring: ring, tokens: tokens, exchange: ex, logger: logger}
}

// Run drains the ring until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	consumer := w.ring.slots.NewConsumer()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		env, ok := consumer.TryConsume()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		w.process(ctx, env)
	}
}

func (w *Worker) process(ctx context.Context, env Envelope) {
	userID, ok, err := w.tokens.Lookup(ctx, env.Token)
	if err != nil || !ok {
		w.logger.Warn("shared-memory submission failed authentication", zap.Error(err))
		return
	}

	order := domain.NewOrder(
		domain.OrderID(env.Order.OrderID),
		userID,
		domain.Symbol(env.Order.Symbol),
		domain.Side(env.Order.Side),
		domain.Kind(env.Order.Kind),
		money.FromDollars(env.Order.PriceDollars),
		int64(env.Order.Quantity),
		int64(env.Order.TimestampMs),
	)
	accepted, _ := w.exchange.Submit(order)
	if !accepted {
		order.Release()
	}
}
