package orderbook

import (
	"errors"

	"github.com/tidwall/btree"
	"github.com/uhyunpark/orderflow/pkg/app/core"
)

// ErrStaleHandle means the handle points at an entry that was already removed.
var ErrStaleHandle = errors.New("stale order handle")

const nilIdx int32 = -1

// Handle refers to a resting entry. It is an arena index plus the generation
// the slot had when the entry was inserted, so a handle kept past removal
// fails the generation check instead of aliasing a recycled slot.
type Handle struct {
	index int32
	gen   uint32
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.gen == 0 }

// Entry is a resting order as seen by callers.
type Entry struct {
	Side      core.Side
	Price     int64 // micros
	Qty       int64 // remaining
	Owner     string
	Seq       uint64 // arrival sequence, strictly increasing per book
	ArrivalNs int64
}

type slot struct {
	Entry
	gen  uint32
	live bool
	prev int32
	next int32
}

// level is one price on one side: a FIFO list threaded through the arena.
type level struct {
	price  int64
	head   int32
	tail   int32
	orders int
	qty    int64
}

type PriceLevel struct {
	Price  int64 `json:"price"`
	Qty    int64 `json:"qty"`
	Orders int   `json:"orders"`
}

// OrderBook is a price-time priority book for one instrument. Bids are
// walked highest first, asks lowest first, FIFO by arrival inside a price.
// Not safe for concurrent use; the owning engine serializes access.
type OrderBook struct {
	bids  *btree.Map[int64, *level]
	asks  *btree.Map[int64, *level]
	slots []slot
	free  []int32
	seq   uint64
	live  int
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: btree.NewMap[int64, *level](32),
		asks: btree.NewMap[int64, *level](32),
	}
}

func (ob *OrderBook) side(s core.Side) *btree.Map[int64, *level] {
	if s == core.Buy {
		return ob.bids
	}
	return ob.asks
}

// Len is the number of resting entries on both sides.
func (ob *OrderBook) Len() int { return ob.live }

func (ob *OrderBook) alloc() int32 {
	if n := len(ob.free); n > 0 {
		idx := ob.free[n-1]
		ob.free = ob.free[:n-1]
		return idx
	}
	ob.slots = append(ob.slots, slot{})
	return int32(len(ob.slots) - 1)
}

// Insert rests qty at price behind everything already at that price.
func (ob *OrderBook) Insert(side core.Side, price, qty int64, owner string, arrivalNs int64) Handle {
	ob.seq++
	idx := ob.alloc()
	s := &ob.slots[idx]
	s.gen++
	s.live = true
	s.Entry = Entry{Side: side, Price: price, Qty: qty, Owner: owner, Seq: ob.seq, ArrivalNs: arrivalNs}
	s.next = nilIdx

	levels := ob.side(side)
	lvl, ok := levels.Get(price)
	if !ok {
		lvl = &level{price: price, head: nilIdx, tail: nilIdx}
		levels.Set(price, lvl)
	}
	s.prev = lvl.tail
	if lvl.tail != nilIdx {
		ob.slots[lvl.tail].next = idx
	} else {
		lvl.head = idx
	}
	lvl.tail = idx
	lvl.orders++
	lvl.qty += qty
	ob.live++
	return Handle{index: idx, gen: s.gen}
}

func (ob *OrderBook) lookup(h Handle) (*slot, error) {
	if h.gen == 0 || h.index < 0 || int(h.index) >= len(ob.slots) {
		return nil, ErrStaleHandle
	}
	s := &ob.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, ErrStaleHandle
	}
	return s, nil
}

// Get returns a copy of the entry behind h.
func (ob *OrderBook) Get(h Handle) (Entry, error) {
	s, err := ob.lookup(h)
	if err != nil {
		return Entry{}, err
	}
	return s.Entry, nil
}

// Valid reports whether h still refers to a resting entry.
func (ob *OrderBook) Valid(h Handle) bool {
	_, err := ob.lookup(h)
	return err == nil
}

func (ob *OrderBook) bestLevel(side core.Side) *level {
	var best *level
	pick := func(_ int64, l *level) bool {
		best = l
		return false
	}
	if side == core.Buy {
		ob.bids.Reverse(pick)
	} else {
		ob.asks.Scan(pick)
	}
	return best
}

// Best returns the entry at the front of the queue on side's best price.
func (ob *OrderBook) Best(side core.Side) (Handle, Entry, bool) {
	lvl := ob.bestLevel(side)
	if lvl == nil {
		return Handle{}, Entry{}, false
	}
	s := &ob.slots[lvl.head]
	return Handle{index: lvl.head, gen: s.gen}, s.Entry, true
}

// BestPrice is the touch on side.
func (ob *OrderBook) BestPrice(side core.Side) (int64, bool) {
	lvl := ob.bestLevel(side)
	if lvl == nil {
		return 0, false
	}
	return lvl.price, true
}

// Reduce takes qty off the entry. The entry is removed when nothing is left;
// the returned remainder tells the caller which happened.
func (ob *OrderBook) Reduce(h Handle, qty int64) (int64, error) {
	s, err := ob.lookup(h)
	if err != nil {
		return 0, err
	}
	if qty > s.Qty {
		qty = s.Qty
	}
	s.Qty -= qty
	if lvl, ok := ob.side(s.Side).Get(s.Price); ok {
		lvl.qty -= qty
	}
	if s.Qty == 0 {
		ob.unlink(h.index)
		return 0, nil
	}
	return s.Qty, nil
}

// Remove pulls the entry out regardless of its remaining quantity.
func (ob *OrderBook) Remove(h Handle) (Entry, error) {
	s, err := ob.lookup(h)
	if err != nil {
		return Entry{}, err
	}
	e := s.Entry
	if lvl, ok := ob.side(s.Side).Get(s.Price); ok {
		lvl.qty -= s.Qty
	}
	ob.unlink(h.index)
	return e, nil
}

func (ob *OrderBook) unlink(idx int32) {
	s := &ob.slots[idx]
	levels := ob.side(s.Side)
	lvl, _ := levels.Get(s.Price)

	if s.prev != nilIdx {
		ob.slots[s.prev].next = s.next
	} else {
		lvl.head = s.next
	}
	if s.next != nilIdx {
		ob.slots[s.next].prev = s.prev
	} else {
		lvl.tail = s.prev
	}
	lvl.orders--
	if lvl.orders == 0 {
		levels.Delete(s.Price)
	}

	s.live = false
	s.Qty = 0
	s.Owner = ""
	s.prev, s.next = nilIdx, nilIdx
	ob.free = append(ob.free, idx)
	ob.live--
}

func (ob *OrderBook) walkLevels(side core.Side, fn func(*level) bool) {
	iter := func(_ int64, l *level) bool { return fn(l) }
	if side == core.Buy {
		ob.bids.Reverse(iter)
	} else {
		ob.asks.Scan(iter)
	}
}

// Levels returns up to depth aggregated levels from the touch outward.
// depth <= 0 returns every level.
func (ob *OrderBook) Levels(side core.Side, depth int) []PriceLevel {
	out := make([]PriceLevel, 0)
	ob.walkLevels(side, func(l *level) bool {
		out = append(out, PriceLevel{Price: l.price, Qty: l.qty, Orders: l.orders})
		return depth <= 0 || len(out) < depth
	})
	return out
}

// Walk visits entries on side in exact priority order until fn returns false.
func (ob *OrderBook) Walk(side core.Side, fn func(Entry) bool) {
	ob.walkLevels(side, func(l *level) bool {
		for i := l.head; i != nilIdx; i = ob.slots[i].next {
			if !fn(ob.slots[i].Entry) {
				return false
			}
		}
		return true
	})
}

// Crosses reports whether a taker on the opposite side with limit px would
// trade against a resting price on side.
func Crosses(side core.Side, resting, px int64, market bool) bool {
	if market {
		return true
	}
	if side == core.Sell {
		return resting <= px
	}
	return resting >= px
}

// Available sums resting quantity on side that a taker with limit px could
// reach right now. It stops early once upTo is covered (upTo <= 0 sums all).
func (ob *OrderBook) Available(side core.Side, px int64, market bool, upTo int64) int64 {
	var total int64
	ob.walkLevels(side, func(l *level) bool {
		if !Crosses(side, l.price, px, market) {
			return false
		}
		total += l.qty
		return upTo <= 0 || total < upTo
	})
	return total
}
