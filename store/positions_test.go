package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"equityexchange/domain"
)

func TestEncodeDecodePositionsRoundTrip(t *testing.T) {
	positions := map[domain.Symbol]int64{"AAPL": 10, "MSFT": -5}
	raw, err := encodePositions(positions)
	require.NoError(t, err)

	decoded, err := decodePositions(raw)
	require.NoError(t, err)
	require.Equal(t, positions, decoded)
}

func TestEncodePositionsHandlesNilMap(t *testing.T) {
	raw, err := encodePositions(nil)
	require.NoError(t, err)
	require.Equal(t, "{}", string(raw))
}

func TestDecodePositionsHandlesEmptyInput(t *testing.T) {
	decoded, err := decodePositions(nil)
	require.NoError(t, err)
	require.Equal(t, map[domain.Symbol]int64{}, decoded)
}

func TestDecodePositionsRejectsInvalidJSON(t *testing.T) {
	_, err := decodePositions([]byte("not json"))
	require.Error(t, err)
}
