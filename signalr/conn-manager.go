package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/bichuga/go-bookhub/helpers"
	promclient "github.com/bichuga/go-bookhub/infrastructure/prometheus"
)

var (
	ErrClosed       = errors.New("connection manager is closed")
	ErrInvoke       = errors.New("hub invoke failed")
	ErrNotSupported = errors.New("operation not supported")
)

type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	}
	return "Disconnected"
}

// hubInvocation is an outbound invoke-method-by-name frame.
type hubInvocation struct {
	Hub    string `json:"H"`
	Method string `json:"M"`
	Args   []any  `json:"A"`
	ID     string `json:"I"`
}

// clientInvocation is a server-initiated named event. The payload
// arrives as the single "A" argument string.
type clientInvocation struct {
	Hub    string            `json:"H"`
	Method string            `json:"M"`
	Args   []json.RawMessage `json:"A"`
}

// serverMessage is the envelope of every inbound frame: either a batch
// of client invocations (M) or the response to one of ours (R/E keyed
// by I).
type serverMessage struct {
	Cursor      string             `json:"C"`
	Invocations []clientInvocation `json:"M"`
	Result      json.RawMessage    `json:"R"`
	Error       string             `json:"E"`
	ID          string             `json:"I"`
}

type negotiateResponse struct {
	ConnectionToken string `json:"ConnectionToken"`
}

type invocationResult struct {
	result json.RawMessage
	err    string
}

// ConnectionManager owns a single realtime session to
// connectionURL/hubName, fans inbound frames out through the listener
// registry and transparently recovers from transport loss by replaying
// every registered param set on the fresh connection.
type ConnectionManager struct {
	connectionURL string
	hubName       string

	registry   *Registry
	httpClient *http.Client

	transportFactory TransportFactory
	negotiate        func(ctx context.Context) (string, error)

	mu        sync.Mutex
	transport RealtimeTransport

	state  atomic.Int32
	closed atomic.Bool

	// reconnectGuard is the single-holder mutex of the reconnect loop:
	// overlapping transport-lost triggers TryLock and bail out.
	reconnectGuard sync.Mutex

	handleMu sync.Mutex
	handles  map[*SubscriptionHandle]struct{}

	invMu            sync.Mutex
	invocations      map[string]chan invocationResult
	nextInvocationID int64

	backoffFloor  time.Duration
	backoffCap    time.Duration
	invokeTimeout time.Duration
	keepAlive     time.Duration
}

// NewConnectionManager wires a manager for one hub. methodNames is the
// case-insensitive short-name to fully-qualified-name mapping handed to
// the registry; nil is fine when callers always use full names.
func NewConnectionManager(connectionURL, hubName string, methodNames map[string]string) *ConnectionManager {
	jar, _ := cookiejar.New(nil)

	m := &ConnectionManager{
		connectionURL: strings.TrimRight(connectionURL, "/"),
		hubName:       hubName,
		httpClient:    &http.Client{Jar: jar, Timeout: 15 * time.Second},
		handles:       make(map[*SubscriptionHandle]struct{}),
		invocations:   make(map[string]chan invocationResult),
		backoffFloor:  5 * time.Second,
		backoffCap:    60 * time.Second,
		invokeTimeout: 10 * time.Second,
		keepAlive:     5 * time.Second,
	}
	m.registry = NewRegistry(methodNames, m.stopWhenIdle)
	m.negotiate = m.negotiateHTTP
	m.transportFactory = func(handlers TransportHandlers) RealtimeTransport {
		return NewWebSocketTransport(jar, m.keepAlive, handlers)
	}
	return m
}

// SetTransportFactory swaps the default websocket transport for a
// custom one. Must be called before the first Subscribe.
func (m *ConnectionManager) SetTransportFactory(factory TransportFactory) {
	m.transportFactory = factory
}

// SetReconnectBackoff overrides the reconnect delay floor and cap.
// Must be called before the first Subscribe.
func (m *ConnectionManager) SetReconnectBackoff(floor, cap time.Duration) {
	if floor > 0 {
		m.backoffFloor = floor
	}
	if cap > 0 {
		m.backoffCap = cap
	}
}

// SetInvokeTimeout overrides the default deadline applied to hub
// invokes whose context carries none.
func (m *ConnectionManager) SetInvokeTimeout(timeout time.Duration) {
	if timeout > 0 {
		m.invokeTimeout = timeout
	}
}

// SetKeepAliveInterval overrides the websocket keep-alive probe
// interval. Must be called before the first Subscribe.
func (m *ConnectionManager) SetKeepAliveInterval(interval time.Duration) {
	if interval > 0 {
		m.keepAlive = interval
	}
}

func (m *ConnectionManager) State() ConnState {
	return ConnState(m.state.Load())
}

func (m *ConnectionManager) Registry() *Registry {
	return m.registry
}

// Subscribe ensures the hub session is up, registers the callback
// before invoking so early frames are not lost, then invokes each param
// set. Exchanges disconnect clients that invoke too fast, so
// delayBetweenInvokes separates consecutive calls. Any failed
// invocation deregisters the listener and propagates.
func (m *ConnectionManager) Subscribe(ctx context.Context, functionName string, paramSets [][]any, callback func(string), delayBetweenInvokes time.Duration) (*SubscriptionHandle, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if err := m.ensureConnected(ctx); err != nil {
		return nil, err
	}

	fullName, callbackID := m.registry.AddListener(functionName, callback, paramSets)

	for i, args := range paramSets {
		if i > 0 && delayBetweenInvokes > 0 {
			time.Sleep(delayBetweenInvokes)
		}
		if err := m.invokeBool(ctx, fullName, args...); err != nil {
			m.registry.RemoveListener(fullName, callbackID)
			return nil, err
		}
	}

	handle := newSubscriptionHandle(m, fullName, callbackID)
	m.handleMu.Lock()
	m.handles[handle] = struct{}{}
	m.handleMu.Unlock()
	promclient.OpenHandlesGauge.Inc()
	return handle, nil
}

// Invoke calls a hub method by name and returns its raw result.
func (m *ConnectionManager) Invoke(ctx context.Context, functionName string, args ...any) (json.RawMessage, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()
	if transport == nil || m.State() != StateConnected {
		return nil, fmt.Errorf("%w: not connected", ErrInvoke)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.invokeTimeout)
		defer cancel()
	}

	if args == nil {
		args = []any{}
	}
	id := helpers.IntToString(atomic.AddInt64(&m.nextInvocationID, 1))
	ch := make(chan invocationResult, 1)
	m.invMu.Lock()
	m.invocations[id] = ch
	m.invMu.Unlock()
	defer func() {
		m.invMu.Lock()
		delete(m.invocations, id)
		m.invMu.Unlock()
	}()

	frame := hubInvocation{
		Hub:    m.hubName,
		Method: m.registry.Resolve(functionName),
		Args:   args,
		ID:     id,
	}
	if err := transport.Send(ctx, helpers.ToJsonString(frame)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvoke, err)
	}

	select {
	case res := <-ch:
		if res.err != "" {
			return nil, fmt.Errorf("%w: %s", ErrInvoke, res.err)
		}
		return res.result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrInvoke, ctx.Err())
	}
}

func (m *ConnectionManager) invokeBool(ctx context.Context, functionName string, args ...any) error {
	result, err := m.Invoke(ctx, functionName, args...)
	if err != nil {
		return err
	}
	var ok bool
	if err := json.Unmarshal(result, &ok); err != nil {
		return fmt.Errorf("%w: unexpected result %s", ErrInvoke, result)
	}
	if !ok {
		return fmt.Errorf("%w: invoke returned false", ErrInvoke)
	}
	return nil
}

// Close tears down the transport and marks the manager disposed.
// Idempotent; operations after Close fail with ErrClosed.
func (m *ConnectionManager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.state.Store(int32(StateDisconnected))
	m.teardownTransport()
	m.failPendingInvocations("connection manager closed")
	return nil
}

func (m *ConnectionManager) ensureConnected(ctx context.Context) error {
	if m.State() == StateConnected {
		return nil
	}
	m.reconnectGuard.Lock()
	defer m.reconnectGuard.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if m.State() == StateConnected {
		return nil
	}
	return m.connect(ctx)
}

// connect performs a single negotiate+start attempt, then replays every
// registered listener's param sets and notifies open handles.
func (m *ConnectionManager) connect(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.state.Store(int32(StateConnecting))

	connectURL, err := m.negotiate(ctx)
	if err != nil {
		m.state.Store(int32(StateDisconnected))
		return fmt.Errorf("%w: negotiate: %s", ErrTransport, err)
	}

	transport := m.transportFactory(TransportHandlers{
		OnMessage: m.handleFrame,
		OnClosed:  m.onTransportLost,
	})
	if err := transport.Start(ctx, connectURL); err != nil {
		m.state.Store(int32(StateDisconnected))
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}

	m.mu.Lock()
	m.transport = transport
	m.mu.Unlock()
	m.state.Store(int32(StateConnected))
	logger.Info("hub connected", zap.String("hub", m.hubName))

	m.replayListeners(ctx)
	m.notifyHandles(EventConnected)
	return nil
}

func (m *ConnectionManager) negotiateHTTP(ctx context.Context) (string, error) {
	connectionData := helpers.ToJsonString([]map[string]string{{"name": m.hubName}})

	negotiateURL := m.connectionURL + "/negotiate?clientProtocol=1.5&connectionData=" + url.QueryEscape(connectionData)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, negotiateURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("negotiate returned status %d", resp.StatusCode)
	}

	var neg negotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&neg); err != nil {
		return "", err
	}

	return m.connectionURL +
		"/connect?transport=webSockets&clientProtocol=1.5&connectionToken=" + url.QueryEscape(neg.ConnectionToken) +
		"&connectionData=" + url.QueryEscape(connectionData), nil
}

func (m *ConnectionManager) replayListeners(ctx context.Context) {
	for _, listener := range m.registry.Listeners() {
		for _, args := range listener.ParamSets {
			if err := m.invokeBool(ctx, listener.FunctionFullName, args...); err != nil {
				logger.Info("replay invoke failed",
					zap.String("method", listener.FunctionFullName), zap.Error(err))
			}
		}
	}
}

// handleFrame decodes one inbound frame and routes it: invocation
// responses to their waiters, hub events through the wire decoder into
// the registry. A bad frame is dropped, never fatal.
func (m *ConnectionManager) handleFrame(raw []byte) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Debug("dropping unparsable frame", zap.Error(err))
		promclient.DroppedFramesCounter.Inc()
		return
	}

	if msg.ID != "" {
		m.invMu.Lock()
		ch, ok := m.invocations[msg.ID]
		m.invMu.Unlock()
		if ok {
			ch <- invocationResult{result: msg.Result, err: msg.Error}
		}
		return
	}

	for _, inv := range msg.Invocations {
		if inv.Hub != "" && !strings.EqualFold(inv.Hub, m.hubName) {
			continue
		}
		if len(inv.Args) == 0 {
			continue
		}

		var wire string
		if err := json.Unmarshal(inv.Args[0], &wire); err != nil {
			logger.Debug("dropping frame with non-string payload", zap.String("method", inv.Method))
			promclient.DroppedFramesCounter.Inc()
			continue
		}
		payload, err := DecodePayload(wire)
		if err != nil {
			logger.Debug("dropping frame", zap.String("method", inv.Method), zap.Error(err))
			promclient.DroppedFramesCounter.Inc()
			continue
		}
		m.registry.Dispatch(m.registry.Resolve(inv.Method), payload)
	}
}

func (m *ConnectionManager) onTransportLost(err error) {
	if !m.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		return
	}
	logger.Warn("hub connection lost", zap.Error(err))

	m.notifyHandles(EventDisconnected)
	m.teardownTransport()
	m.failPendingInvocations("connection lost")

	if m.closed.Load() || m.registry.Len() == 0 {
		return
	}
	go m.reconnectLoop()
}

// reconnectLoop retries until connected or disposed. The guard keeps at
// most one loop alive per manager.
func (m *ConnectionManager) reconnectLoop() {
	if !m.reconnectGuard.TryLock() {
		return
	}
	defer m.reconnectGuard.Unlock()

	b := &backoff.Backoff{
		Min:    m.backoffFloor,
		Max:    m.backoffCap,
		Factor: 2,
		Jitter: true,
	}

	for !m.closed.Load() && m.State() != StateConnected {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := m.connect(ctx)
		cancel()
		if err == nil {
			promclient.ReconnectsCounter.Inc()
			return
		}
		logger.Warn("reconnect attempt failed", zap.Error(err))
		time.Sleep(b.Duration())
	}
}

func (m *ConnectionManager) teardownTransport() {
	m.mu.Lock()
	transport := m.transport
	m.transport = nil
	m.mu.Unlock()
	if transport != nil {
		_ = transport.Stop()
	}
}

func (m *ConnectionManager) failPendingInvocations(reason string) {
	m.invMu.Lock()
	defer m.invMu.Unlock()
	for id, ch := range m.invocations {
		select {
		case ch <- invocationResult{err: reason}:
		default:
		}
		delete(m.invocations, id)
	}
}

// stopWhenIdle tears the session down once the last listener is gone.
// No reconnect is scheduled for an empty registry.
func (m *ConnectionManager) stopWhenIdle() {
	if m.closed.Load() {
		return
	}
	logger.Info("registry empty, stopping hub connection")
	m.state.Store(int32(StateDisconnected))
	m.teardownTransport()
}

// notifyHandles fans a lifecycle event out to a snapshot of the open
// handle set, outside any lock, so a handler cannot deadlock against
// subscribe or close.
func (m *ConnectionManager) notifyHandles(event ConnEvent) {
	m.handleMu.Lock()
	snapshot := make([]*SubscriptionHandle, 0, len(m.handles))
	for handle := range m.handles {
		snapshot = append(snapshot, handle)
	}
	m.handleMu.Unlock()

	for _, handle := range snapshot {
		handle.notify(event)
	}
}

func (m *ConnectionManager) releaseHandle(handle *SubscriptionHandle) {
	m.handleMu.Lock()
	delete(m.handles, handle)
	m.handleMu.Unlock()
}
