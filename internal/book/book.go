// Package book maintains a bounded-depth limit order book for one symbol.
//
// A Book is not safe for concurrent use. It has exactly one writer, the feed
// reader (or the replay source), and everything else observes it through the
// immutable snapshots returned by Snapshot.
package book

import (
	"math"
	"sort"
	"time"

	"github.com/tidwall/btree"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

const btreeDegree = 32

// Config controls the depth bound of a Book.
type Config struct {
	Symbol string
	// MaxLevels bounds each side after a trim pass. Zero or negative disables
	// trimming entirely.
	MaxLevels int
	// TrimEvery is the trim cadence K: trim after every K applied frames.
	// Values below 1 are treated as 1.
	TrimEvery int
}

// Stats counts what the book has seen since construction.
type Stats struct {
	Applied        uint64 // frames applied (resets + deltas)
	Resets         uint64
	Ignored        uint64 // wrong type tag or symbol
	RejectedLevels uint64 // malformed price/size entries skipped
	Trims          uint64
}

// Book holds the bid and ask ladders of a single symbol.
type Book struct {
	symbol    string
	maxLevels int
	trimEvery int

	bids *btree.Map[float64, float64]
	asks *btree.Map[float64, float64]

	lastUpdate string
	updatedAt  time.Time
	seq        uint64
	sinceTrim  int
	stats      Stats
}

// New creates an empty book.
func New(cfg Config) *Book {
	k := cfg.TrimEvery
	if k < 1 {
		k = 1
	}
	return &Book{
		symbol:    cfg.Symbol,
		maxLevels: cfg.MaxLevels,
		trimEvery: k,
		bids:      btree.NewMap[float64, float64](btreeDegree),
		asks:      btree.NewMap[float64, float64](btreeDegree),
	}
}

// Symbol returns the tracked symbol.
func (b *Book) Symbol() string { return b.symbol }

// Sequence is incremented on every applied frame. Published snapshots carry
// it so consumers can observe monotonic progress.
func (b *Book) Sequence() uint64 { return b.seq }

// LastUpdate returns the wire timestamp of the most recently applied frame.
func (b *Book) LastUpdate() string { return b.lastUpdate }

// Stats returns a copy of the book counters.
func (b *Book) Stats() Stats { return b.stats }

// Depth returns the number of stored levels per side.
func (b *Book) Depth() (bids, asks int) {
	return b.bids.Len(), b.asks.Len()
}

// Update applies a validated frame. Frames with a foreign type tag or symbol
// are a silent no-op and Update reports false.
func (b *Book) Update(f domain.BookFrame) bool {
	if !f.IsBookUpdate() || f.Symbol != b.symbol {
		b.stats.Ignored++
		return false
	}
	if f.Reset {
		b.ApplyReset(f.Bids, f.Asks)
	} else {
		b.ApplyDelta(f.Bids, f.Asks)
	}
	b.lastUpdate = f.Timestamp
	return true
}

// ApplyReset replaces both ladders. Levels with a non-positive size are
// dropped during the rebuild.
func (b *Book) ApplyReset(bids, asks []domain.PriceLevel) {
	nb := btree.NewMap[float64, float64](btreeDegree)
	na := btree.NewMap[float64, float64](btreeDegree)
	for _, lvl := range bids {
		if !b.validLevel(lvl) {
			continue
		}
		if lvl.Size > 0 {
			nb.Set(lvl.Price, lvl.Size)
		}
	}
	for _, lvl := range asks {
		if !b.validLevel(lvl) {
			continue
		}
		if lvl.Size > 0 {
			na.Set(lvl.Price, lvl.Size)
		}
	}
	b.bids, b.asks = nb, na
	b.stats.Resets++
	b.applied()
}

// ApplyDelta inserts, overwrites, or removes individual levels. A zero size
// removes the price if present. Later entries win over earlier ones.
func (b *Book) ApplyDelta(bids, asks []domain.PriceLevel) {
	applyLevels(b, b.bids, bids)
	applyLevels(b, b.asks, asks)
	b.applied()
}

func applyLevels(b *Book, side *btree.Map[float64, float64], levels []domain.PriceLevel) {
	for _, lvl := range levels {
		if !b.validLevel(lvl) {
			continue
		}
		if lvl.Size == 0 {
			side.Delete(lvl.Price)
			continue
		}
		side.Set(lvl.Price, lvl.Size)
	}
}

func (b *Book) validLevel(lvl domain.PriceLevel) bool {
	if math.IsNaN(lvl.Price) || math.IsInf(lvl.Price, 0) || lvl.Price <= 0 ||
		math.IsNaN(lvl.Size) || math.IsInf(lvl.Size, 0) || lvl.Size < 0 {
		b.stats.RejectedLevels++
		return false
	}
	return true
}

// applied runs after every frame: bookkeeping plus the trim cadence. A side
// that already exceeds MaxLevels+K-1 is trimmed early so the bound holds for
// frames carrying many levels at once.
func (b *Book) applied() {
	b.seq++
	b.updatedAt = time.Now()
	b.stats.Applied++
	if b.maxLevels <= 0 {
		return
	}
	b.sinceTrim++
	ceiling := b.maxLevels + b.trimEvery - 1
	if b.sinceTrim >= b.trimEvery || b.bids.Len() > ceiling || b.asks.Len() > ceiling {
		b.Trim()
	}
}

// Trim evicts levels on each side beyond MaxLevels, keeping those closest to
// the mid price. Ties on distance go to the lower price. It is skipped while
// either side is empty.
func (b *Book) Trim() {
	if b.maxLevels <= 0 {
		return
	}
	mid, ok := b.Mid()
	if !ok {
		return
	}
	trimSide(b.bids, mid, b.maxLevels)
	trimSide(b.asks, mid, b.maxLevels)
	b.sinceTrim = 0
	b.stats.Trims++
}

func trimSide(side *btree.Map[float64, float64], mid float64, keep int) {
	if side.Len() <= keep {
		return
	}
	prices := make([]float64, 0, side.Len())
	side.Scan(func(p, _ float64) bool {
		prices = append(prices, p)
		return true
	})
	sort.Slice(prices, func(i, j int) bool {
		di, dj := math.Abs(prices[i]-mid), math.Abs(prices[j]-mid)
		if di != dj {
			return di < dj
		}
		return prices[i] < prices[j]
	})
	for _, p := range prices[keep:] {
		side.Delete(p)
	}
}

// BestBid returns the highest bid.
func (b *Book) BestBid() (domain.PriceLevel, bool) {
	p, s, ok := b.bids.Max()
	return domain.PriceLevel{Price: p, Size: s}, ok
}

// BestAsk returns the lowest ask.
func (b *Book) BestAsk() (domain.PriceLevel, bool) {
	p, s, ok := b.asks.Min()
	return domain.PriceLevel{Price: p, Size: s}, ok
}

// Spread is best ask minus best bid, defined only when both sides are set.
func (b *Book) Spread() (float64, bool) {
	bid, okb := b.BestBid()
	ask, oka := b.BestAsk()
	if !okb || !oka {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// Mid is the average of the best prices, defined only when both sides are set.
func (b *Book) Mid() (float64, bool) {
	bid, okb := b.BestBid()
	ask, oka := b.BestAsk()
	if !okb || !oka {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// TopBids returns up to n bids, highest price first. n <= 0 returns all.
func (b *Book) TopBids(n int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, capFor(n, b.bids.Len()))
	b.bids.Reverse(func(p, s float64) bool {
		out = append(out, domain.PriceLevel{Price: p, Size: s})
		return n <= 0 || len(out) < n
	})
	return out
}

// TopAsks returns up to n asks, lowest price first. n <= 0 returns all.
func (b *Book) TopAsks(n int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, capFor(n, b.asks.Len()))
	b.asks.Scan(func(p, s float64) bool {
		out = append(out, domain.PriceLevel{Price: p, Size: s})
		return n <= 0 || len(out) < n
	})
	return out
}

func capFor(n, length int) int {
	if n <= 0 || n > length {
		return length
	}
	return n
}

// Snapshot copies the top n levels per side together with the derived
// quotes. The result shares no memory with the book.
func (b *Book) Snapshot(n int) domain.BookSnapshot {
	snap := domain.BookSnapshot{
		Symbol:    b.symbol,
		Sequence:  b.seq,
		Bids:      b.TopBids(n),
		Asks:      b.TopAsks(n),
		Source:    b.lastUpdate,
		Timestamp: b.updatedAt,
	}
	snap.BestBid, snap.HasBid = b.BestBid()
	snap.BestAsk, snap.HasAsk = b.BestAsk()
	if snap.HasBid && snap.HasAsk {
		snap.Spread = snap.BestAsk.Price - snap.BestBid.Price
		snap.MidPrice = (snap.BestAsk.Price + snap.BestBid.Price) / 2
	}
	return snap
}
