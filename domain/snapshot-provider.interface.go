package domain

import "context"

// BookSnapshotProvider is the REST collaborator used by the DeltaOnly
// path. The returned book must carry a sequence id comparable to the
// delta sequence ids of the same exchange.
type BookSnapshotProvider interface {
	GetOrderBook(ctx context.Context, symbol string, maxCount int) (*OrderBook, error)
}
