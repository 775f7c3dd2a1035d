// Package wire implements the length-prefixed binary TCP protocol of
// spec.md §6: frame types LoginRequest/LoginResponse/SubmitOrder/
// OrderResponse/Heartbeat/HeartbeatAck, big-endian throughout, max frame
// 8192 bytes. Grounded on the teacher's length-prefixed framing convention
// in its transport layer, generalized from a single message type to the
// six this spec names.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// FrameType is the single byte following the length prefix.
type FrameType uint8

const (
	TypeLoginRequest  FrameType = 1
	TypeLoginResponse FrameType = 2
	TypeSubmitOrder   FrameType = 3
	TypeOrderResponse FrameType = 4
	TypeHeartbeat     FrameType = 5
	TypeHeartbeatAck  FrameType = 6
)

// MaxFrameBytes is the hard cap on a frame's length prefix, per spec.md §6.
// A frame claiming to be larger is a protocol violation.
const MaxFrameBytes = 8192

// minFrameBytes is the length prefix plus the type byte; anything shorter
// can never be a valid frame.
const minFrameBytes = 4 + 1

// ErrMalformedFrame is returned for any protocol violation: an oversized or
// undersized length, an unknown type byte, or a truncated body. Per
// spec.md §7, the caller must drop the connection on this error.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// LoginRequest carries the bearer token a client authenticates with.
type LoginRequest struct {
	Token string
}

// LoginResponse answers a LoginRequest.
type LoginResponse struct {
	Success bool
	Message string
}

// SubmitOrder is the client's order-entry frame. Price is in dollars on the
// wire (spec.md §6); callers convert via the money package before using it
// internally.
type SubmitOrder struct {
	OrderID     string
	UserID      string
	Symbol      string
	Side        uint8 // 0 = Buy, 1 = Sell
	Kind        uint8 // 0 = Market, 1 = Limit, 2 = IOC, 3 = FOK
	Quantity    uint64
	PriceDollars float64
	TimestampMs uint64
}

// OrderResponse answers a SubmitOrder.
type OrderResponse struct {
	OrderID  string
	Accepted bool
	Message  string
}

// ReadFrame reads one frame from r, dispatching on its type byte. The
// returned value is one of *LoginRequest, *LoginResponse, *SubmitOrder,
// *OrderResponse, or nil for Heartbeat/HeartbeatAck (which carry no body).
func ReadFrame(r io.Reader) (FrameType, any, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, err
		}
		return 0, nil, ErrMalformedFrame
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < minFrameBytes || length > MaxFrameBytes {
		return 0, nil, ErrMalformedFrame
	}

	body := make([]byte, length-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, ErrMalformedFrame
	}

	typ := FrameType(body[0])
	payload := body[1:]

	switch typ {
	case TypeLoginRequest:
		v, err := decodeLoginRequest(payload)
		return typ, v, err
	case TypeLoginResponse:
		v, err := decodeLoginResponse(payload)
		return typ, v, err
	case TypeSubmitOrder:
		v, err := decodeSubmitOrder(payload)
		return typ, v, err
	case TypeOrderResponse:
		v, err := decodeOrderResponse(payload)
		return typ, v, err
	case TypeHeartbeat, TypeHeartbeatAck:
		return typ, nil, nil
	default:
		return 0, nil, ErrMalformedFrame
	}
}

// WriteFrame encodes msg and writes the full length-prefixed frame to w.
func WriteFrame(w io.Writer, typ FrameType, msg any) error {
	var body []byte
	var err error
	switch typ {
	case TypeLoginRequest:
		body, err = encodeLoginRequest(msg.(*LoginRequest))
	case TypeLoginResponse:
		body, err = encodeLoginResponse(msg.(*LoginResponse))
	case TypeSubmitOrder:
		body, err = encodeSubmitOrder(msg.(*SubmitOrder))
	case TypeOrderResponse:
		body, err = encodeOrderResponse(msg.(*OrderResponse))
	case TypeHeartbeat, TypeHeartbeatAck:
		body = nil
	default:
		return fmt.Errorf("wire: unknown frame type %d", typ)
	}
	if err != nil {
		return err
	}

	total := 4 + 1 + len(body)
	if total > MaxFrameBytes {
		return fmt.Errorf("wire: encoded frame too large: %d bytes", total)
	}
	frame := make([]byte, total)
	binary.BigEndian.PutUint32(frame, uint32(total))
	frame[4] = byte(typ)
	copy(frame[5:], body)

	_, err = w.Write(frame)
	return err
}

func decodeLoginRequest(b []byte) (*LoginRequest, error) {
	s, _, err := readString(b, 0)
	if err != nil {
		return nil, err
	}
	return &LoginRequest{Token: s}, nil
}

func encodeLoginRequest(m *LoginRequest) ([]byte, error) {
	return appendString(nil, m.Token), nil
}

func decodeLoginResponse(b []byte) (*LoginResponse, error) {
	if len(b) < 1 {
		return nil, ErrMalformedFrame
	}
	success := b[0] != 0
	msg, _, err := readString(b, 1)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Success: success, Message: msg}, nil
}

func encodeLoginResponse(m *LoginResponse) ([]byte, error) {
	out := make([]byte, 0, 1+4+len(m.Message))
	if m.Success {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return appendString(out, m.Message), nil
}

// EncodeSubmitOrderBody encodes just a SubmitOrder's body (no frame length
// prefix or type byte), for callers framing it into a different envelope —
// e.g. the shared-memory ring's `[uint32 slot_len][payload]` slots, which
// embed this body alongside a per-message token.
func EncodeSubmitOrderBody(m SubmitOrder) ([]byte, error) {
	return encodeSubmitOrder(&m)
}

// DecodeSubmitOrderBody is the inverse of EncodeSubmitOrderBody.
func DecodeSubmitOrderBody(b []byte) (SubmitOrder, error) {
	m, err := decodeSubmitOrder(b)
	if err != nil {
		return SubmitOrder{}, err
	}
	return *m, nil
}

func decodeSubmitOrder(b []byte) (*SubmitOrder, error) {
	if len(b) < 4+4+4+1+1+8+8+8 {
		return nil, ErrMalformedFrame
	}
	off := 0
	orderIDLen := binary.BigEndian.Uint32(b[off:])
	off += 4
	userIDLen := binary.BigEndian.Uint32(b[off:])
	off += 4
	symbolLen := binary.BigEndian.Uint32(b[off:])
	off += 4
	side := b[off]
	off++
	kind := b[off]
	off++
	quantity := binary.BigEndian.Uint64(b[off:])
	off += 8
	priceBits := binary.BigEndian.Uint64(b[off:])
	off += 8
	timestamp := binary.BigEndian.Uint64(b[off:])
	off += 8

	need := int(orderIDLen) + int(userIDLen) + int(symbolLen)
	if need < 0 || off+need > len(b) {
		return nil, ErrMalformedFrame
	}
	orderID := string(b[off : off+int(orderIDLen)])
	off += int(orderIDLen)
	userID := string(b[off : off+int(userIDLen)])
	off += int(userIDLen)
	symbol := string(b[off : off+int(symbolLen)])

	return &SubmitOrder{
		OrderID:      orderID,
		UserID:       userID,
		Symbol:       symbol,
		Side:         side,
		Kind:         kind,
		Quantity:     quantity,
		PriceDollars: float64frombits(priceBits),
		TimestampMs:  timestamp,
	}, nil
}

func encodeSubmitOrder(m *SubmitOrder) ([]byte, error) {
	out := make([]byte, 4+4+4+1+1+8+8+8+len(m.OrderID)+len(m.UserID)+len(m.Symbol))
	off := 0
	binary.BigEndian.PutUint32(out[off:], uint32(len(m.OrderID)))
	off += 4
	binary.BigEndian.PutUint32(out[off:], uint32(len(m.UserID)))
	off += 4
	binary.BigEndian.PutUint32(out[off:], uint32(len(m.Symbol)))
	off += 4
	out[off] = m.Side
	off++
	out[off] = m.Kind
	off++
	binary.BigEndian.PutUint64(out[off:], m.Quantity)
	off += 8
	binary.BigEndian.PutUint64(out[off:], float64bits(m.PriceDollars))
	off += 8
	binary.BigEndian.PutUint64(out[off:], m.TimestampMs)
	off += 8
	off += copy(out[off:], m.OrderID)
	off += copy(out[off:], m.UserID)
	copy(out[off:], m.Symbol)
	return out, nil
}

func decodeOrderResponse(b []byte) (*OrderResponse, error) {
	if len(b) < 4 {
		return nil, ErrMalformedFrame
	}
	orderIDLen := binary.BigEndian.Uint32(b)
	off := 4
	if off+int(orderIDLen) > len(b) {
		return nil, ErrMalformedFrame
	}
	orderID := string(b[off : off+int(orderIDLen)])
	off += int(orderIDLen)

	if off >= len(b) {
		return nil, ErrMalformedFrame
	}
	accepted := b[off] != 0
	off++

	msg, _, err := readString(b, off)
	if err != nil {
		return nil, err
	}
	return &OrderResponse{OrderID: orderID, Accepted: accepted, Message: msg}, nil
}

func encodeOrderResponse(m *OrderResponse) ([]byte, error) {
	out := make([]byte, 0, 4+len(m.OrderID)+1+4+len(m.Message))
	out = appendString(out, m.OrderID)
	if m.Accepted {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return appendString(out, m.Message), nil
}

// readString reads a uint32-length-prefixed UTF-8 string starting at off,
// returning the string, the offset just past it, and an error if the
// declared length overruns the buffer.
func readString(b []byte, off int) (string, int, error) {
	if off+4 > len(b) {
		return "", 0, ErrMalformedFrame
	}
	n := binary.BigEndian.Uint32(b[off:])
	off += 4
	if int(n) < 0 || off+int(n) > len(b) {
		return "", 0, ErrMalformedFrame
	}
	return string(b[off : off+int(n)]), off + int(n), nil
}

func appendString(b []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	b = append(b, lenBuf[:]...)
	return append(b, s...)
}

func float64bits(f float64) uint64    { return math.Float64bits(f) }
func float64frombits(u uint64) float64 { return math.Float64frombits(u) }
