package kucoin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Kucoin/kucoin-go-sdk"

	"github.com/bichuga/go-bookhub/domain"
)

// KucoinSyncAPI is a reference BookSnapshotProvider backed by the
// aggregated full book REST endpoint.
type KucoinSyncAPI struct {
	apiService *kucoin.ApiService
}

func NewKucoinSyncAPI() *KucoinSyncAPI {
	return &KucoinSyncAPI{
		apiService: kucoin.NewApiService(
			kucoin.ApiKeyOption(os.Getenv("KUCOIN_API_KEY")),
			kucoin.ApiSecretOption(os.Getenv("KUCOIN_SECRET_KEY")),
			kucoin.ApiPassPhraseOption(os.Getenv("KUCOIN_PASSPHRASE")),
		),
	}
}

func (api *KucoinSyncAPI) GetOrderBook(ctx context.Context, symbol string, maxCount int) (*domain.OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := api.apiService.AggregatedFullOrderBookV3(strings.ToUpper(symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", err)
	}

	book, err := domain.ParsePositionalBook(resp.RawData, domain.ParseOptions{
		Symbol:        symbol,
		SequenceField: "sequence",
		MaxCount:      maxCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse order book snapshot: %w", err)
	}
	return book, nil
}
