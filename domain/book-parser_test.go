package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositionalBook(t *testing.T) {
	payload := `{
		"sequence": 4252345,
		"asks": [["10100", "1.5"], [10200, 2.5]],
		"bids": [["10000", "1"], ["9900", "2"]]
	}`

	book, err := ParsePositionalBook([]byte(payload), ParseOptions{Symbol: "BTC-USDT"})
	require.NoError(t, err)

	assert.Equal(t, "BTC-USDT", book.Symbol)
	assert.Equal(t, int64(4252345), book.SequenceID)

	asks := book.AskLevels()
	require.Len(t, asks, 2)
	assert.Equal(t, "10100", asks[0].Price.String())
	assert.Equal(t, "1.5", asks[0].Amount.String())
	assert.Equal(t, "10200", asks[1].Price.String())

	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, "10000", bid.Price.String())
}

func TestParsePositionalBook_SequenceAsString(t *testing.T) {
	payload := `{"sequence": "987654321987", "asks": [], "bids": []}`

	book, err := ParsePositionalBook([]byte(payload), ParseOptions{Symbol: "BTC-USDT"})
	require.NoError(t, err)
	assert.Equal(t, int64(987654321987), book.SequenceID)
}

func TestParsePositionalBook_MaxCount(t *testing.T) {
	payload := `{
		"sequence": 1,
		"asks": [["1", "1"], ["2", "1"], ["3", "1"], ["4", "1"]],
		"bids": [["0.9", "1"], ["0.8", "1"], ["0.7", "1"]]
	}`

	book, err := ParsePositionalBook([]byte(payload), ParseOptions{Symbol: "BTC-USDT", MaxCount: 2})
	require.NoError(t, err)
	assert.Len(t, book.AskLevels(), 2)
	assert.Len(t, book.BidLevels(), 2)
}

func TestParsePositionalBook_DuplicatePricesCollapse(t *testing.T) {
	payload := `{"sequence": 1, "asks": [["10", "1"], ["10", "3"]], "bids": []}`

	book, err := ParsePositionalBook([]byte(payload), ParseOptions{Symbol: "BTC-USDT"})
	require.NoError(t, err)

	asks := book.AskLevels()
	require.Len(t, asks, 1)
	assert.Equal(t, "3", asks[0].Amount.String(), "last occurrence wins")
}

func TestParsePositionalBook_FieldOverrides(t *testing.T) {
	payload := `{"Nonce": 42, "Sell": [["10", "1"]], "Buy": [["9", "1"]]}`

	book, err := ParsePositionalBook([]byte(payload), ParseOptions{
		Symbol:        "BTC-USDT",
		SequenceField: "Nonce",
		AsksField:     "Sell",
		BidsField:     "Buy",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), book.SequenceID)
	assert.Len(t, book.AskLevels(), 1)
	assert.Len(t, book.BidLevels(), 1)
}

func TestParseKeyedBook(t *testing.T) {
	payload := `{
		"Nonce": 713,
		"Sell": [{"Rate": "10100", "Quantity": "1.5"}, {"Rate": 10200, "Quantity": 0}],
		"Buy": [{"Rate": "10000", "Quantity": "1"}]
	}`

	book, err := ParseKeyedBook([]byte(payload), ParseOptions{
		Symbol:        "BTC-USDT",
		SequenceField: "Nonce",
		AsksField:     "Sell",
		BidsField:     "Buy",
		PriceField:    "Rate",
		AmountField:   "Quantity",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(713), book.SequenceID)

	asks := book.AskLevels()
	require.Len(t, asks, 2, "a zero quantity is kept at parse time, it is a delete marker")
	assert.Equal(t, "10100", asks[0].Price.String())
	assert.Equal(t, "0", asks[1].Amount.String())
}

func TestParseKeyedBook_MissingField(t *testing.T) {
	payload := `{"sequence": 1, "asks": [{"price": "10"}], "bids": []}`

	_, err := ParseKeyedBook([]byte(payload), ParseOptions{Symbol: "BTC-USDT"})
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseBook_MissingSequence(t *testing.T) {
	payload := `{"asks": [], "bids": []}`

	_, err := ParsePositionalBook([]byte(payload), ParseOptions{Symbol: "BTC-USDT"})
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseBook_Malformed(t *testing.T) {
	_, err := ParsePositionalBook([]byte(`not json at all`), ParseOptions{Symbol: "BTC-USDT"})
	assert.ErrorIs(t, err, ErrParse)

	_, err = ParsePositionalBook([]byte(`{"sequence": 1, "asks": [["10"]], "bids": []}`), ParseOptions{Symbol: "BTC-USDT"})
	assert.ErrorIs(t, err, ErrParse)
}
