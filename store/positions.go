package store

import (
	"encoding/json"

	"equityexchange/domain"
)

// encodePositions/decodePositions marshal the per-symbol share map to the
// accounts table's jsonb position_per_symbol column.
func encodePositions(positions map[domain.Symbol]int64) ([]byte, error) {
	if positions == nil {
		positions = map[domain.Symbol]int64{}
	}
	return json.Marshal(positions)
}

func decodePositions(raw []byte) (map[domain.Symbol]int64, error) {
	if len(raw) == 0 {
		return map[domain.Symbol]int64{}, nil
	}
	var out map[domain.Symbol]int64
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
