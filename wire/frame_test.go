package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoginRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypeLoginRequest, &LoginRequest{Token: "abc123"}))

	typ, msg, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeLoginRequest, typ)
	require.Equal(t, &LoginRequest{Token: "abc123"}, msg)
}

func TestSubmitOrderRoundTrip(t *testing.T) {
	original := &SubmitOrder{
		OrderID:      "order-1",
		UserID:       "alice",
		Symbol:       "AAPL",
		Side:         0,
		Kind:         1,
		Quantity:     100,
		PriceDollars: 123.45,
		TimestampMs:  1234567890,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypeSubmitOrder, original))

	typ, msg, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeSubmitOrder, typ)
	require.Equal(t, original, msg)
}

func TestOrderResponseRoundTrip(t *testing.T) {
	original := &OrderResponse{OrderID: "order-1", Accepted: false, Message: "insufficient buying power"}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypeOrderResponse, original))

	typ, msg, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeOrderResponse, typ)
	require.Equal(t, original, msg)
}

func TestHeartbeatCarriesNoBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypeHeartbeat, nil))

	typ, msg, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeHeartbeat, typ)
	require.Nil(t, msg)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var lenBuf [4]byte
	// Claim a length far beyond MaxFrameBytes.
	lenBuf[0], lenBuf[1], lenBuf[2], lenBuf[3] = 0xFF, 0xFF, 0xFF, 0xFF
	buf := bytes.NewBuffer(lenBuf[:])

	_, _, err := ReadFrame(buf)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadFrameRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypeHeartbeat, nil))
	raw := buf.Bytes()
	// Overwrite the type byte (offset 4) with an unknown value.
	raw[4] = 99

	_, _, err := ReadFrame(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeSubmitOrderRejectsTruncatedBody(t *testing.T) {
	_, err := decodeSubmitOrder([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestEncodeSubmitOrderBodyRoundTrip(t *testing.T) {
	original := SubmitOrder{
		OrderID:      "o1",
		UserID:       "u1",
		Symbol:       "MSFT",
		Side:         1,
		Kind:         3,
		Quantity:     50,
		PriceDollars: 400.5,
		TimestampMs:  42,
	}
	body, err := EncodeSubmitOrderBody(original)
	require.NoError(t, err)

	decoded, err := DecodeSubmitOrderBody(body)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}
