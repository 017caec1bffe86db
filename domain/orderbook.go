package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// OrderPrice is a single resting level of one book side. In a delta, a
// zero (or negative) amount or a zero price marks the removal of that
// price level.
type OrderPrice struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

func byPriceAscending(a, b OrderPrice) bool {
	return a.Price.LessThan(b.Price)
}

// OrderBook is a full book or a delta for a single symbol. Both sides
// iterate price-ascending, so the best ask is the first entry of Asks
// and the best bid is the last entry of Bids.
type OrderBook struct {
	Symbol         string
	SequenceID     int64
	Asks           *btree.BTreeG[OrderPrice]
	Bids           *btree.BTreeG[OrderPrice]
	LastUpdatedUTC time.Time

	mu sync.Mutex
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		Asks:   btree.NewBTreeG(byPriceAscending),
		Bids:   btree.NewBTreeG(byPriceAscending),
	}
}

// ApplyDelta merges a delta into the receiver under the per-book lock.
// A delta older than the current state is discarded entirely and false
// is returned. Levels with a non-positive amount or price are removed;
// removing a price that is not present is not an error, exchanges
// legitimately send deletes for levels trimmed off the client's top-N.
func (ob *OrderBook) ApplyDelta(delta *OrderBook) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if delta.SequenceID < ob.SequenceID {
		return false
	}

	applySide(ob.Asks, delta.Asks)
	applySide(ob.Bids, delta.Bids)
	ob.SequenceID = delta.SequenceID
	return true
}

func applySide(target, changes *btree.BTreeG[OrderPrice]) {
	changes.Scan(func(level OrderPrice) bool {
		if level.Amount.Sign() <= 0 || level.Price.Sign() <= 0 {
			target.Delete(level)
		} else {
			target.Set(level)
		}
		return true
	})
}

// Scrub drops any level with a non-positive amount or price. Applied to
// full messages before they seed per-symbol state, so that an emitted
// book never carries a delete marker.
func (ob *OrderBook) Scrub() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	scrubSide(ob.Asks)
	scrubSide(ob.Bids)
}

func scrubSide(side *btree.BTreeG[OrderPrice]) {
	var dead []OrderPrice
	side.Scan(func(level OrderPrice) bool {
		if level.Amount.Sign() <= 0 || level.Price.Sign() <= 0 {
			dead = append(dead, level)
		}
		return true
	})
	for _, level := range dead {
		side.Delete(level)
	}
}

func (ob *OrderBook) StampUpdated(now time.Time) {
	ob.mu.Lock()
	ob.LastUpdatedUTC = now
	ob.mu.Unlock()
}

// BestAsk returns the lowest ask, if any.
func (ob *OrderBook) BestAsk() (OrderPrice, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.Asks.Min()
}

// BestBid returns the highest bid, if any.
func (ob *OrderBook) BestBid() (OrderPrice, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.Bids.Max()
}

// AskLevels returns a price-ascending copy of the ask side.
func (ob *OrderBook) AskLevels() []OrderPrice {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return sideLevels(ob.Asks, 0)
}

// BidLevels returns a price-ascending copy of the bid side.
func (ob *OrderBook) BidLevels() []OrderPrice {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return sideLevels(ob.Bids, 0)
}

// Top copies up to limit levels closest to the spread from each side.
// Asks come lowest-first, bids highest-first. limit <= 0 means all.
func (ob *OrderBook) Top(limit int) (asks, bids []OrderPrice) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	asks = sideLevels(ob.Asks, limit)

	ob.Bids.Reverse(func(level OrderPrice) bool {
		if limit > 0 && len(bids) >= limit {
			return false
		}
		bids = append(bids, level)
		return true
	})
	return asks, bids
}

func sideLevels(side *btree.BTreeG[OrderPrice], limit int) []OrderPrice {
	levels := make([]OrderPrice, 0, side.Len())
	side.Scan(func(level OrderPrice) bool {
		if limit > 0 && len(levels) >= limit {
			return false
		}
		levels = append(levels, level)
		return true
	})
	return levels
}
