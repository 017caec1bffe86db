package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bichuga/go-bookhub/domain"
	"github.com/bichuga/go-bookhub/domain/interfaces"
	"github.com/bichuga/go-bookhub/infrastructure/logging"
	promclient "github.com/bichuga/go-bookhub/infrastructure/prometheus"
	"github.com/bichuga/go-bookhub/signalr"
)

var logger = logging.Named("book-stream")

// SubscribeMethod is the hub method carrying book increments.
const SubscribeMethod = "SubscribeToExchangeDeltas"

// ParseFunc turns one decoded hub payload into a book increment.
type ParseFunc func(payload string) (*domain.OrderBook, error)

// BookStreamUseCase glues the hub client to the reconciler: decoded
// frames are parsed, reconciled per symbol, and surfaced as a stream of
// full books.
type BookStreamUseCase struct {
	manager   *signalr.ConnectionManager
	directory *domain.DispatchDirectory
	snapshots domain.BookSnapshotProvider

	delayBetweenInvokes time.Duration
}

func NewBookStreamUseCase(
	manager *signalr.ConnectionManager,
	directory *domain.DispatchDirectory,
	snapshots domain.BookSnapshotProvider,
) *BookStreamUseCase {
	return &BookStreamUseCase{
		manager:             manager,
		directory:           directory,
		snapshots:           snapshots,
		delayBetweenInvokes: 100 * time.Millisecond,
	}
}

// SetDelayBetweenInvokes overrides the pause between consecutive hub
// invokes of one subscription.
func (u *BookStreamUseCase) SetDelayBetweenInvokes(delay time.Duration) {
	if delay >= 0 {
		u.delayBetweenInvokes = delay
	}
}

// StreamOrderBook subscribes to the book feed of one symbol and returns
// a subscription of reconciled full books. parse may be nil, in which
// case payloads are read as the positional layout.
func (u *BookStreamUseCase) StreamOrderBook(ctx context.Context, exchange, symbol string, parse ParseFunc) (*interfaces.Subscription[*domain.OrderBook], error) {
	profile, ok := u.directory.Lookup(exchange)
	if !ok {
		return nil, fmt.Errorf("exchange %q is not registered in the dispatch directory", exchange)
	}

	if parse == nil {
		parse = func(payload string) (*domain.OrderBook, error) {
			return domain.ParsePositionalBook([]byte(payload), domain.ParseOptions{
				Symbol:   symbol,
				MaxCount: profile.MaxCount,
			})
		}
	}

	out := newBookStream()

	reconciler := domain.NewReconciler(profile.Dialect, u.snapshots, profile.MaxCount, func(book *domain.OrderBook) {
		promclient.BooksEmittedCounter.Inc()
		out.send(book)
	})

	callback := func(payload string) {
		book, err := parse(payload)
		if err != nil {
			logger.Debug("dropping unparsable book payload",
				zap.String("symbol", symbol), zap.Error(err))
			promclient.DroppedFramesCounter.Inc()
			return
		}
		reconciler.OnIncrement(book)
		promclient.OpenOrderBooksGauge.Set(float64(reconciler.OpenBooks()))
	}

	handle, err := u.manager.Subscribe(ctx, SubscribeMethod, [][]any{{symbol}}, callback, u.delayBetweenInvokes)
	if err != nil {
		return nil, err
	}

	// Sequence continuity cannot be verified across a connection gap:
	// drop all reconciled state so the next message re-seeds it.
	go func() {
		for event := range handle.Events() {
			if event == signalr.EventDisconnected {
				logger.Info("connection lost, invalidating reconciled books",
					zap.String("symbol", symbol))
				reconciler.InvalidateAll()
			}
		}
	}()

	return &interfaces.Subscription[*domain.OrderBook]{
		Stream: out.ch,
		Topic:  symbol,
		Unsubscribe: func() {
			_ = handle.Close()
			reconciler.Close()
			out.close()
		},
	}, nil
}

// bookStream is a close-safe fan-out channel. A slow consumer loses
// books rather than stalling the feed.
type bookStream struct {
	ch     chan *domain.OrderBook
	mu     sync.Mutex
	closed bool
}

func newBookStream() *bookStream {
	return &bookStream{ch: make(chan *domain.OrderBook, 64)}
}

func (s *bookStream) send(book *domain.OrderBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- book:
	default:
	}
}

func (s *bookStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
