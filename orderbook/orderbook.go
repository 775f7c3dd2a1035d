// Package orderbook implements the per-symbol limit order book: two
// price-sorted chains of price levels (bids descending, asks ascending),
// each level a FIFO of resting orders, per spec.md §3 and §4.1.
//
// Levels and orders are intrusive doubly-linked lists in the source this
// spec was distilled from, via raw pointers and a slab allocator. spec.md §9
// asks for an arena + index representation instead: one arena (a Go slice)
// per symbol for levels and one for orders, with typed integer handles
// standing in for pointers. Removal is still O(1) given a handle, and there
// is no dangling-pointer risk around level cleanup, since a stale handle
// just indexes a slot that has been marked free.
package orderbook

import (
	"equityexchange/domain"
)

// handle indexes into a Book's order or level arena. -1 means "none".
type handle int32

const none handle = -1

// DefaultMaxDepth is the per-side resting-order cap from spec.md §3.
const DefaultMaxDepth = 10000

type orderSlot struct {
	order      *domain.Order
	prev, next handle // FIFO siblings within the level
	level      handle
	used       bool
}

type levelSlot struct {
	price    domain.Price
	totalQty int64
	head     handle // order handles, FIFO order
	tail     handle
	next     handle // next level in the sorted chain
	used     bool
}

// chain is one side of the book: a sorted singly-linked list of price
// levels plus the arena backing it.
type chain struct {
	levels     []levelSlot
	freeLevels []handle
	head       handle // best price level
	descending bool   // true for bids (best = highest), false for asks
}

func newChain(descending bool) *chain {
	return &chain{head: none, descending: descending}
}

func (c *chain) better(a, b domain.Price) bool {
	if c.descending {
		return a > b
	}
	return a < b
}

func (c *chain) allocLevel(price domain.Price) handle {
	var h handle
	if n := len(c.freeLevels); n > 0 {
		h = c.freeLevels[n-1]
		c.freeLevels = c.freeLevels[:n-1]
	} else {
		c.levels = append(c.levels, levelSlot{})
		h = handle(len(c.levels) - 1)
	}
	c.levels[h] = levelSlot{price: price, head: none, tail: none, next: none, used: true}
	return h
}

func (c *chain) freeLevel(h handle) {
	c.levels[h].used = false
	c.freeLevels = append(c.freeLevels, h)
}

// find locates the level for price, or where one should be spliced in.
// Returns (handle, found) when found, else (predecessor, false) where
// predecessor is none if price belongs at the head.
func (c *chain) find(price domain.Price) (h handle, pred handle, found bool) {
	pred = none
	cur := c.head
	for cur != none {
		lv := &c.levels[cur]
		if lv.price == price {
			return cur, pred, true
		}
		if c.better(price, lv.price) {
			return none, pred, false
		}
		pred = cur
		cur = lv.next
	}
	return none, pred, false
}

func (c *chain) insertLevelAfter(pred handle, h handle) {
	if pred == none {
		c.levels[h].next = c.head
		c.head = h
		return
	}
	c.levels[h].next = c.levels[pred].next
	c.levels[pred].next = h
}

func (c *chain) removeLevelAfter(pred handle, h handle) {
	if pred == none {
		c.head = c.levels[h].next
		return
	}
	c.levels[pred].next = c.levels[h].next
}

// Symbol is an alias so callers of this package don't need to import domain
// just to name a book.
type Symbol = domain.Symbol

// Book is a single symbol's order book. It is owned exclusively by that
// symbol's matching-engine goroutine; nothing else mutates it. Depth
// snapshots are served from a goroutine-safe cached copy by the caller
// (matching.Engine), not by Book itself.
type Book struct {
	Symbol Symbol

	bids *chain
	asks *chain

	orders     []orderSlot
	freeOrders []handle
	byID       map[domain.OrderID]handle

	buyCount, sellCount int
	maxDepth            int
}

// New creates an empty book for symbol with the default depth cap.
func New(symbol Symbol) *Book {
	return NewWithDepth(symbol, DefaultMaxDepth)
}

func NewWithDepth(symbol Symbol, maxDepth int) *Book {
	return &Book{
		Symbol:   symbol,
		bids:     newChain(true),
		asks:     newChain(false),
		byID:     make(map[domain.OrderID]handle),
		maxDepth: maxDepth,
	}
}

func (b *Book) sideChain(s domain.Side) *chain {
	if s == domain.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) allocOrder() handle {
	var h handle
	if n := len(b.freeOrders); n > 0 {
		h = b.freeOrders[n-1]
		b.freeOrders = b.freeOrders[:n-1]
	} else {
		b.orders = append(b.orders, orderSlot{})
		h = handle(len(b.orders) - 1)
	}
	return h
}

func (b *Book) freeOrder(h handle) {
	b.orders[h] = orderSlot{}
	b.freeOrders = append(b.freeOrders, h)
}

// ErrDepthLimit is returned by Insert when the side is already at capacity.
var ErrDepthLimit = depthLimitError{}

type depthLimitError struct{}

func (depthLimitError) Error() string { return "orderbook: depth limit reached" }

// Insert places order at the tail of its price level's FIFO, creating the
// level if absent, preserving the chain's sort order. It fails only when the
// side's resting-order cap (spec.md §3) is already reached.
func (b *Book) Insert(order *domain.Order) error {
	c := b.sideChain(order.Side)
	count := b.buyCount
	if order.Side == domain.SideSell {
		count = b.sellCount
	}
	if count >= b.maxDepth {
		return ErrDepthLimit
	}

	lvlH, pred, found := c.find(order.Price)
	if !found {
		lvlH = c.allocLevel(order.Price)
		c.insertLevelAfter(pred, lvlH)
	}
	lv := &c.levels[lvlH]

	oh := b.allocOrder()
	b.orders[oh] = orderSlot{order: order, prev: lv.tail, next: none, level: lvlH, used: true}
	if lv.tail == none {
		lv.head = oh
	} else {
		b.orders[lv.tail].next = oh
	}
	lv.tail = oh
	lv.totalQty += order.RemainingQty

	b.byID[order.ID] = oh
	if order.Side == domain.SideBuy {
		b.buyCount++
	} else {
		b.sellCount++
	}
	return nil
}

// Remove unlinks the order identified by id in O(1), decrementing the
// level's total quantity and removing the level if it becomes empty. It
// reports false if the order is not resting in the book.
func (b *Book) Remove(id domain.OrderID) bool {
	oh, ok := b.byID[id]
	if !ok {
		return false
	}
	slot := b.orders[oh]
	order := slot.order
	c := b.sideChain(order.Side)
	lv := &c.levels[slot.level]

	if slot.prev != none {
		b.orders[slot.prev].next = slot.next
	} else {
		lv.head = slot.next
	}
	if slot.next != none {
		b.orders[slot.next].prev = slot.prev
	} else {
		lv.tail = slot.prev
	}
	lv.totalQty -= order.RemainingQty
	if lv.totalQty < 0 {
		lv.totalQty = 0
	}

	delete(b.byID, id)
	b.freeOrder(oh)
	if order.Side == domain.SideBuy {
		b.buyCount--
	} else {
		b.sellCount--
	}

	if lv.head == none {
		// Level removal policy (spec.md §4.1): a level is removed exactly
		// when its FIFO is empty, which for a correctly accounted book
		// coincides with total_quantity reaching zero.
		_, pred, found := c.find(lv.price)
		if found {
			c.removeLevelAfter(pred, slot.level)
			c.freeLevel(slot.level)
		}
	}
	return true
}

// Reduce decrements the resting order's remaining quantity (and the level's
// total) by qty without unlinking it, for a partial fill against a maker
// that stays in the book.
func (b *Book) Reduce(id domain.OrderID, qty int64) {
	oh, ok := b.byID[id]
	if !ok {
		return
	}
	slot := b.orders[oh]
	c := b.sideChain(slot.order.Side)
	c.levels[slot.level].totalQty -= qty
}

// BestBid returns the highest resting bid price and true, or (0, false) if
// the bid side is empty.
func (b *Book) BestBid() (domain.Price, bool) {
	if b.bids.head == none {
		return 0, false
	}
	return b.bids.levels[b.bids.head].price, true
}

// BestAsk returns the lowest resting ask price and true, or (0, false) if
// the ask side is empty.
func (b *Book) BestAsk() (domain.Price, bool) {
	if b.asks.head == none {
		return 0, false
	}
	return b.asks.levels[b.asks.head].price, true
}

// Crossed reports whether the book is observably crossed: best bid >= best
// ask, which spec.md §3 and §8 require never to be true between order
// events once the ingress queue has drained.
func (b *Book) Crossed() bool {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return false
	}
	return bid >= ask
}

// BuyCount and SellCount report the live resting-order count per side, for
// depth-cap checks and diagnostics.
func (b *Book) BuyCount() int  { return b.buyCount }
func (b *Book) SellCount() int { return b.sellCount }

// Depth returns up to `levels` price levels from each side, best-first.
func (b *Book) Depth(levels int) (bids, asks []domain.BookLevel) {
	return b.chainDepth(b.bids, levels), b.chainDepth(b.asks, levels)
}

func (b *Book) chainDepth(c *chain, levels int) []domain.BookLevel {
	if levels <= 0 {
		return nil
	}
	out := make([]domain.BookLevel, 0, levels)
	cur := c.head
	for cur != none && len(out) < levels {
		lv := c.levels[cur]
		n := 0
		for oh := lv.head; oh != none; oh = b.orders[oh].next {
			n++
		}
		out = append(out, domain.BookLevel{Price: lv.price, Quantity: lv.totalQty, Orders: n})
		cur = lv.next
	}
	return out
}

// Drain removes every resting order from both sides and returns them,
// unordered, for engine shutdown (spec.md §9's shutdown-draining note). The
// book is left empty. Unlike repeated Remove calls this never touches the
// level chains' linked-list bookkeeping, since every level is about to be
// discarded anyway.
func (b *Book) Drain() []*domain.Order {
	out := make([]*domain.Order, 0, len(b.byID))
	for i := range b.orders {
		if b.orders[i].used {
			out = append(out, b.orders[i].order)
		}
	}
	b.bids = newChain(true)
	b.asks = newChain(false)
	b.orders = b.orders[:0]
	b.freeOrders = b.freeOrders[:0]
	b.byID = make(map[domain.OrderID]handle)
	b.buyCount, b.sellCount = 0, 0
	return out
}

// Get returns the live resting order for id, if any.
func (b *Book) Get(id domain.OrderID) (*domain.Order, bool) {
	oh, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	return b.orders[oh].order, true
}

// TotalQuantityAtLevel is a test/diagnostic hook verifying spec.md §8
// property 7 (book consistency): total_quantity equals the sum of resting
// orders' remaining quantity at that level.
func (b *Book) TotalQuantityAtLevel(side domain.Side, price domain.Price) (sum int64, liveOrders int, ok bool) {
	c := b.sideChain(side)
	h, _, found := c.find(price)
	if !found {
		return 0, 0, false
	}
	lv := c.levels[h]
	for oh := lv.head; oh != none; oh = b.orders[oh].next {
		sum += b.orders[oh].order.RemainingQty
		liveOrders++
	}
	return sum, liveOrders, true
}

// WalkMatchable iterates candidate makers on side `side`, in strict
// price-time priority, while `withinLimit` holds for the level's price and
// the maker's user id is not `excludeUser` (self-trade prevention, spec.md
// §4.2). fn is called once per candidate maker and reports whether the walk
// should stop. A maker skipped for being the same user is never passed to
// fn and is never mutated — the walk simply advances past it, exactly as
// spec.md §4.2 and scenario S4 require. A level whose only remaining orders
// are excluded is treated as fully consumed for the taker and the walk
// proceeds to the next level, per spec.md §4.1.
func (b *Book) WalkMatchable(side domain.Side, withinLimit func(domain.Price) bool, excludeUser domain.UserID, fn func(maker *domain.Order) (stop bool)) {
	c := b.sideChain(side)
	cur := c.head
	for cur != none {
		lv := &c.levels[cur]
		if withinLimit != nil && !withinLimit(lv.price) {
			return
		}
		nextLevel := lv.next
		oh := lv.head
		for oh != none {
			slot := b.orders[oh]
			nextOrder := slot.next
			if slot.order.UserID != excludeUser {
				if fn(slot.order) {
					return
				}
			}
			oh = nextOrder
		}
		cur = nextLevel
	}
}
