package domain

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"github.com/bichuga/go-bookhub/infrastructure/logging"
)

var logger = logging.Named("reconciler")

const snapshotTimeout = 30 * time.Second

// EmitFunc receives every reconciled full book. It is invoked
// synchronously after the per-book lock has been released and must not
// retain the book past the call if it mutates it.
type EmitFunc func(book *OrderBook)

// Reconciler turns a per-symbol stream of increments into reconciled
// full books according to the feed's dialect. Increments for different
// symbols may arrive concurrently; within one symbol they are applied
// in arrival order.
type Reconciler struct {
	dialect   Dialect
	snapshots BookSnapshotProvider
	maxCount  int
	emit      EmitFunc

	mu    sync.Mutex
	books map[string]*symbolState
}

// symbolState queues deltas while the REST snapshot for its symbol is
// outstanding. The queue-before-snapshot discipline is the invariant
// that prevents loss: a delta observed before the snapshot request
// completes must not be discarded, it may postdate the snapshot. Do not
// bypass the queue even when the snapshot appears to have arrived
// first.
type symbolState struct {
	mu               sync.Mutex
	fullBook         *OrderBook
	pending          deque.Deque[*OrderBook]
	needSnapshot     bool
	snapshotInFlight bool
}

func NewReconciler(dialect Dialect, snapshots BookSnapshotProvider, maxCount int, emit EmitFunc) *Reconciler {
	return &Reconciler{
		dialect:   dialect,
		snapshots: snapshots,
		maxCount:  maxCount,
		emit:      emit,
		books:     make(map[string]*symbolState),
	}
}

// OnIncrement consumes one message from the exchange feed. A malformed
// or throwing increment must never tear down the feed, so every failure
// is swallowed here at the boundary.
func (r *Reconciler) OnIncrement(incoming *OrderBook) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("panic in feed pipeline", zap.Any("panic", rec))
		}
	}()

	if incoming == nil || incoming.Symbol == "" {
		return
	}

	switch r.dialect {
	case DialectFullEachTime:
		r.onFullBook(incoming)
	case DialectSnapshotThenDelta:
		r.onSnapshotThenDelta(incoming)
	case DialectDeltaOnly:
		r.onDeltaOnly(incoming)
	}
}

func (r *Reconciler) onFullBook(incoming *OrderBook) {
	st := r.state(incoming.Symbol)

	st.mu.Lock()
	// A full book older than the current one is dropped so that emitted
	// sequence ids never go backwards, even on a reordered feed.
	if st.fullBook != nil && incoming.SequenceID < st.fullBook.SequenceID {
		st.mu.Unlock()
		return
	}
	incoming.Scrub()
	st.fullBook = incoming
	st.mu.Unlock()

	r.emitBook(incoming)
}

func (r *Reconciler) onSnapshotThenDelta(incoming *OrderBook) {
	st := r.state(incoming.Symbol)

	st.mu.Lock()
	if st.fullBook == nil {
		incoming.Scrub()
		st.fullBook = incoming
		st.mu.Unlock()
		r.emitBook(incoming)
		return
	}
	book := st.fullBook
	st.mu.Unlock()

	if book.ApplyDelta(incoming) {
		r.emitBook(book)
	}
}

func (r *Reconciler) onDeltaOnly(incoming *OrderBook) {
	st := r.state(incoming.Symbol)

	st.mu.Lock()
	st.pending.PushBack(incoming)

	if st.needSnapshot {
		if !st.snapshotInFlight {
			st.snapshotInFlight = true
			go r.fetchSnapshot(incoming.Symbol, st)
		}
		st.mu.Unlock()
		return
	}
	if st.fullBook == nil {
		// snapshot request still outstanding
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()

	r.drain(st)
}

func (r *Reconciler) fetchSnapshot(symbol string, st *symbolState) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	snapshot, err := r.snapshots.GetOrderBook(ctx, symbol, r.maxCount)
	if err != nil || snapshot == nil {
		// needSnapshot stays latched, the next delta retries
		st.mu.Lock()
		st.snapshotInFlight = false
		st.mu.Unlock()
		logger.Warn("order book snapshot request failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	snapshot.Scrub()

	st.mu.Lock()
	st.fullBook = snapshot
	st.needSnapshot = false
	st.snapshotInFlight = false
	st.mu.Unlock()

	r.drain(st)
}

// drain applies every queued delta FIFO, then emits the full book once
// if any of them advanced it.
func (r *Reconciler) drain(st *symbolState) {
	st.mu.Lock()
	book := st.fullBook
	if book == nil {
		st.mu.Unlock()
		return
	}
	applied := false
	for st.pending.Len() > 0 {
		delta := st.pending.PopFront()
		if book.ApplyDelta(delta) {
			applied = true
		}
	}
	st.mu.Unlock()

	if applied {
		r.emitBook(book)
	}
}

func (r *Reconciler) emitBook(book *OrderBook) {
	book.StampUpdated(time.Now().UTC())

	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("panic in user callback", zap.String("symbol", book.Symbol), zap.Any("panic", rec))
		}
	}()
	r.emit(book)
}

func (r *Reconciler) state(symbol string) *symbolState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.books[symbol]
	if !ok {
		st = &symbolState{needSnapshot: r.dialect == DialectDeltaOnly}
		r.books[symbol] = st
	}
	return st
}

// InvalidateAll drops every per-symbol state. Called when the transport
// connection is lost: sequence continuity cannot be verified across the gap, so
// the next message re-seeds each symbol (and re-arms the snapshot fetch
// on DeltaOnly feeds).
func (r *Reconciler) InvalidateAll() {
	r.mu.Lock()
	r.books = make(map[string]*symbolState)
	r.mu.Unlock()
}

// CloseSymbol destroys the state of a single symbol.
func (r *Reconciler) CloseSymbol(symbol string) {
	r.mu.Lock()
	delete(r.books, symbol)
	r.mu.Unlock()
}

// Close destroys all per-symbol state.
func (r *Reconciler) Close() {
	r.InvalidateAll()
}

// OpenBooks reports how many symbols currently hold reconciled state.
func (r *Reconciler) OpenBooks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.books)
}
