package matching

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"equityexchange/domain"
)

// IDGenerator mints trade IDs shared across every Engine in a process. Trade
// IDs embed the symbol they belong to so they stay greppable and sortable
// per-symbol in logs and store rows without a join back to the owning
// engine. Uniqueness comes from the atomic counter alone — the symbol is
// carried for readability, since the same counter is shared across symbols.
type IDGenerator struct {
	prefix      string
	counter     uint64
	builderPool sync.Pool
}

// NewIDGenerator creates a new ID generator. prefix distinguishes the
// process that minted the ID: main.go uses "T", cmd/benchmark uses "B",
// cmd/profile uses "P", test harnesses use their own letter.
func NewIDGenerator(prefix string) *IDGenerator {
	gen := &IDGenerator{
		prefix: prefix,
	}

	gen.builderPool = sync.Pool{
		New: func() any {
			b := &strings.Builder{}
			b.Grow(32) // prefix + "-" + symbol + "-" + ~16 digit counter
			return b
		},
	}

	return gen
}

// Next generates the next unique trade ID for symbol.
// Format: prefix + "-" + symbol + "-" + counter (e.g., "T-AAPL-1", "T-AAPL-2"...)
func (g *IDGenerator) Next(symbol domain.Symbol) string {
	count := atomic.AddUint64(&g.counter, 1)

	b := g.builderPool.Get().(*strings.Builder)
	defer func() {
		b.Reset()
		g.builderPool.Put(b)
	}()

	b.WriteString(g.prefix)
	b.WriteByte('-')
	b.WriteString(string(symbol))
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(count, 10))

	return b.String()
}
