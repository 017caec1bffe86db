package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

var ErrParse = errors.New("malformed book payload")

// ParseOptions carries field-name overrides for the two recognized book
// layouts plus a per-side entry cap. Zero values fall back to the
// conventional names.
type ParseOptions struct {
	Symbol        string
	SequenceField string
	AsksField     string
	BidsField     string
	PriceField    string
	AmountField   string
	MaxCount      int
}

func (o ParseOptions) withDefaults() ParseOptions {
	if o.SequenceField == "" {
		o.SequenceField = "sequence"
	}
	if o.AsksField == "" {
		o.AsksField = "asks"
	}
	if o.BidsField == "" {
		o.BidsField = "bids"
	}
	if o.PriceField == "" {
		o.PriceField = "price"
	}
	if o.AmountField == "" {
		o.AmountField = "amount"
	}
	return o
}

// ParsePositionalBook reads the layout where each level is an array:
// index 0 is the price, index 1 is the amount. Trailing elements must
// still be numbers; their values are ignored. Duplicate prices collapse
// to the last occurrence.
func ParsePositionalBook(raw []byte, opts ParseOptions) (*OrderBook, error) {
	opts = opts.withDefaults()

	root, book, err := parseRoot(raw, opts)
	if err != nil {
		return nil, err
	}

	if err := positionalSide(root[opts.AsksField], book.Asks, opts.MaxCount); err != nil {
		return nil, fmt.Errorf("%w: %s side: %s", ErrParse, opts.AsksField, err)
	}
	if err := positionalSide(root[opts.BidsField], book.Bids, opts.MaxCount); err != nil {
		return nil, fmt.Errorf("%w: %s side: %s", ErrParse, opts.BidsField, err)
	}
	return book, nil
}

// ParseKeyedBook reads the layout where each level is an object with
// named price and amount fields.
func ParseKeyedBook(raw []byte, opts ParseOptions) (*OrderBook, error) {
	opts = opts.withDefaults()

	root, book, err := parseRoot(raw, opts)
	if err != nil {
		return nil, err
	}

	if err := keyedSide(root[opts.AsksField], book.Asks, opts); err != nil {
		return nil, fmt.Errorf("%w: %s side: %s", ErrParse, opts.AsksField, err)
	}
	if err := keyedSide(root[opts.BidsField], book.Bids, opts); err != nil {
		return nil, fmt.Errorf("%w: %s side: %s", ErrParse, opts.BidsField, err)
	}
	return book, nil
}

func parseRoot(raw []byte, opts ParseOptions) (map[string]json.RawMessage, *OrderBook, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrParse, err)
	}

	seqRaw, ok := root[opts.SequenceField]
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing sequence field %q", ErrParse, opts.SequenceField)
	}
	seq, err := parseSequence(seqRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: sequence field %q: %s", ErrParse, opts.SequenceField, err)
	}

	book := NewOrderBook(opts.Symbol)
	book.SequenceID = seq
	return root, book, nil
}

// parseSequence accepts the sequence id both as a bare number and as a
// quoted string; going through strconv keeps full int64 precision.
func parseSequence(raw json.RawMessage) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	return strconv.ParseInt(s, 10, 64)
}

func positionalSide(raw json.RawMessage, side *btree.BTreeG[OrderPrice], maxCount int) error {
	if len(raw) == 0 {
		return nil
	}

	var entries [][]decimal.Decimal
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}

	for i, entry := range entries {
		if maxCount > 0 && i >= maxCount {
			break
		}
		if len(entry) < 2 {
			return fmt.Errorf("level %d has %d elements, want at least 2", i, len(entry))
		}
		side.Set(OrderPrice{Price: entry[0], Amount: entry[1]})
	}
	return nil
}

func keyedSide(raw json.RawMessage, side *btree.BTreeG[OrderPrice], opts ParseOptions) error {
	if len(raw) == 0 {
		return nil
	}

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}

	for i, entry := range entries {
		if opts.MaxCount > 0 && i >= opts.MaxCount {
			break
		}
		price, err := keyedField(entry, opts.PriceField)
		if err != nil {
			return fmt.Errorf("level %d: %s", i, err)
		}
		amount, err := keyedField(entry, opts.AmountField)
		if err != nil {
			return fmt.Errorf("level %d: %s", i, err)
		}
		side.Set(OrderPrice{Price: price, Amount: amount})
	}
	return nil
}

func keyedField(entry map[string]json.RawMessage, field string) (decimal.Decimal, error) {
	raw, ok := entry[field]
	if !ok {
		return decimal.Zero, fmt.Errorf("missing field %q", field)
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return decimal.Zero, fmt.Errorf("field %q: %s", field, err)
	}
	return d, nil
}
