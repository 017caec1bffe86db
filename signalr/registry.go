package signalr

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bichuga/go-bookhub/infrastructure/logging"
)

var logger = logging.Named("signalr")

// DefaultMethodNames maps the conventional short method names onto the
// hub's fully qualified ones. Lookup is case-insensitive.
var DefaultMethodNames = map[string]string{
	"subscribeToExchangeDeltas": "SubscribeToExchangeDeltas",
	"queryExchangeState":        "QueryExchangeState",
	"getAuthContext":            "GetAuthContext",
	"authenticate":              "Authenticate",
}

type callbackEntry struct {
	id int64
	fn func(payload string)
}

// HubListener is one server-initiated event subscription: the argument
// vectors that must be re-invoked after every (re)connect, plus the
// callbacks fanning out from it.
type HubListener struct {
	FunctionName     string
	FunctionFullName string
	ParamSets        [][]any

	callbacks []callbackEntry
}

// Registry maps fully qualified hub method names to listeners. All
// operations are serialized under a single lock; dispatch snapshots the
// callback list and invokes outside it.
type Registry struct {
	mu        sync.Mutex
	listeners map[string]*HubListener
	fullNames map[string]string
	nextID    int64

	// onEmpty is invoked, outside the lock, when the last listener is
	// removed.
	onEmpty func()
}

// NewRegistry builds a registry with a case-insensitive mapping from
// short method names to fully qualified ones. Unknown short names
// resolve to themselves.
func NewRegistry(methodNames map[string]string, onEmpty func()) *Registry {
	fullNames := make(map[string]string, len(methodNames))
	for short, full := range methodNames {
		fullNames[strings.ToLower(short)] = full
	}
	return &Registry{
		listeners: make(map[string]*HubListener),
		fullNames: fullNames,
		onEmpty:   onEmpty,
	}
}

// Resolve maps a short method name to its fully qualified form.
func (r *Registry) Resolve(functionName string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(functionName)
}

func (r *Registry) resolveLocked(functionName string) string {
	if full, ok := r.fullNames[strings.ToLower(functionName)]; ok {
		return full
	}
	return functionName
}

// AddListener registers a callback under the resolved full name. The
// first registration for a name records its param sets; later ones
// only append their callback. The returned id deregisters exactly this
// callback.
func (r *Registry) AddListener(functionName string, callback func(string), paramSets [][]any) (fullName string, callbackID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fullName = r.resolveLocked(functionName)
	key := strings.ToLower(fullName)

	listener, ok := r.listeners[key]
	if !ok {
		listener = &HubListener{
			FunctionName:     functionName,
			FunctionFullName: fullName,
			ParamSets:        paramSets,
		}
		r.listeners[key] = listener
	}

	r.nextID++
	callbackID = r.nextID
	listener.callbacks = append(listener.callbacks, callbackEntry{id: callbackID, fn: callback})
	return fullName, callbackID
}

// RemoveListener deregisters one callback. The key is always the fully
// qualified name. Tolerant of entries already gone: a close may race a
// registry teardown.
func (r *Registry) RemoveListener(functionFullName string, callbackID int64) {
	r.mu.Lock()

	key := strings.ToLower(functionFullName)
	listener, ok := r.listeners[key]
	if ok {
		for i, entry := range listener.callbacks {
			if entry.id == callbackID {
				listener.callbacks = append(listener.callbacks[:i], listener.callbacks[i+1:]...)
				break
			}
		}
		if len(listener.callbacks) == 0 {
			delete(r.listeners, key)
		}
	}
	empty := len(r.listeners) == 0
	onEmpty := r.onEmpty
	r.mu.Unlock()

	if ok && empty && onEmpty != nil {
		onEmpty()
	}
}

// Dispatch delivers one decoded frame to every callback of the named
// listener. Each callback is called exactly once per frame; a panic in
// one callback does not affect its peers.
func (r *Registry) Dispatch(functionFullName string, payload string) {
	r.mu.Lock()
	listener, ok := r.listeners[strings.ToLower(functionFullName)]
	var callbacks []callbackEntry
	if ok {
		callbacks = make([]callbackEntry, len(listener.callbacks))
		copy(callbacks, listener.callbacks)
	}
	r.mu.Unlock()

	for _, entry := range callbacks {
		invokeCallback(entry.fn, payload)
	}
}

func invokeCallback(fn func(string), payload string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("panic in listener callback", zap.Any("panic", rec))
		}
	}()
	fn(payload)
}

// Listeners snapshots the current listeners for replay after a
// reconnect.
func (r *Registry) Listeners() []*HubListener {
	r.mu.Lock()
	defer r.mu.Unlock()

	listeners := make([]*HubListener, 0, len(r.listeners))
	for _, listener := range r.listeners {
		listeners = append(listeners, listener)
	}
	return listeners
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}
