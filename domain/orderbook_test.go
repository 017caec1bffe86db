package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bookWith(symbol string, seq int64, asks, bids [][2]string) *OrderBook {
	book := NewOrderBook(symbol)
	book.SequenceID = seq
	for _, level := range asks {
		book.Asks.Set(OrderPrice{Price: dec(level[0]), Amount: dec(level[1])})
	}
	for _, level := range bids {
		book.Bids.Set(OrderPrice{Price: dec(level[0]), Amount: dec(level[1])})
	}
	return book
}

func askPrices(book *OrderBook) []string {
	var prices []string
	for _, level := range book.AskLevels() {
		prices = append(prices, level.Price.String())
	}
	return prices
}

func TestOrderBook_ApplyDelta(t *testing.T) {
	book := bookWith("BTC-USDT", 10, [][2]string{{"5", "5"}, {"6", "6"}}, [][2]string{{"4", "4"}})
	delta := bookWith("BTC-USDT", 11, [][2]string{{"5", "0"}}, [][2]string{{"4", "7"}})

	applied := book.ApplyDelta(delta)

	assert.True(t, applied)
	assert.Equal(t, int64(11), book.SequenceID)
	assert.Equal(t, []string{"6"}, askPrices(book), "zero amount should delete the level")

	bid, ok := book.BestBid()
	assert.True(t, ok)
	assert.Equal(t, "4", bid.Price.String())
	assert.Equal(t, "7", bid.Amount.String(), "delta should overwrite the bid amount")
}

func TestOrderBook_ApplyDeltaStale(t *testing.T) {
	book := bookWith("BTC-USDT", 50, [][2]string{{"10", "1"}}, nil)
	stale := bookWith("BTC-USDT", 49, [][2]string{{"1", "1"}}, nil)

	applied := book.ApplyDelta(stale)

	assert.False(t, applied, "a delta older than current state is discarded entirely")
	assert.Equal(t, int64(50), book.SequenceID)
	assert.Equal(t, []string{"10"}, askPrices(book))
}

func TestOrderBook_ApplyDeltaIdempotent(t *testing.T) {
	delta := bookWith("BTC-USDT", 11, [][2]string{{"5", "2"}, {"6", "0"}}, [][2]string{{"4", "9"}})

	once := bookWith("BTC-USDT", 10, [][2]string{{"5", "5"}, {"6", "6"}}, [][2]string{{"4", "4"}})
	twice := bookWith("BTC-USDT", 10, [][2]string{{"5", "5"}, {"6", "6"}}, [][2]string{{"4", "4"}})

	once.ApplyDelta(delta)
	twice.ApplyDelta(delta)
	twice.ApplyDelta(delta)

	assert.Equal(t, once.SequenceID, twice.SequenceID)
	assert.Equal(t, once.AskLevels(), twice.AskLevels())
	assert.Equal(t, once.BidLevels(), twice.BidLevels())
}

func TestOrderBook_DeleteMissingIsNoOp(t *testing.T) {
	book := bookWith("BTC-USDT", 10, [][2]string{{"5", "5"}}, [][2]string{{"4", "4"}})
	delta := bookWith("BTC-USDT", 11, [][2]string{{"999", "0"}}, nil)

	applied := book.ApplyDelta(delta)

	assert.True(t, applied)
	assert.Equal(t, int64(11), book.SequenceID, "sequence still advances")
	assert.Equal(t, []string{"5"}, askPrices(book))
	assert.Len(t, book.BidLevels(), 1)
}

func TestOrderBook_BestBidIsLastEntry(t *testing.T) {
	book := bookWith("BTC-USDT", 1,
		[][2]string{{"101", "1"}, {"100.5", "2"}},
		[][2]string{{"99", "1"}, {"100", "2"}, {"98", "3"}})

	ask, ok := book.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, "100.5", ask.Price.String())

	bid, ok := book.BestBid()
	assert.True(t, ok)
	assert.Equal(t, "100", bid.Price.String())

	bids := book.BidLevels()
	assert.Equal(t, "98", bids[0].Price.String(), "bids iterate price-ascending")
	assert.Equal(t, "100", bids[len(bids)-1].Price.String())
}

func TestOrderBook_Top(t *testing.T) {
	book := bookWith("BTC-USDT", 1,
		[][2]string{{"101", "1"}, {"102", "1"}, {"103", "1"}},
		[][2]string{{"98", "1"}, {"99", "1"}, {"100", "1"}})

	asks, bids := book.Top(2)

	assert.Equal(t, "101", asks[0].Price.String())
	assert.Equal(t, "102", asks[1].Price.String())
	assert.Equal(t, "100", bids[0].Price.String(), "bids come best-first")
	assert.Equal(t, "99", bids[1].Price.String())
}

func TestOrderBook_Scrub(t *testing.T) {
	book := bookWith("BTC-USDT", 1, [][2]string{{"5", "0"}, {"6", "1"}}, [][2]string{{"4", "-1"}})

	book.Scrub()

	assert.Equal(t, []string{"6"}, askPrices(book))
	assert.Empty(t, book.BidLevels())
}
