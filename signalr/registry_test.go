package signalr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveCaseInsensitive(t *testing.T) {
	r := NewRegistry(map[string]string{"subscribeToExchangeDeltas": "SubscribeToExchangeDeltas"}, nil)

	assert.Equal(t, "SubscribeToExchangeDeltas", r.Resolve("SUBSCRIBETOEXCHANGEDELTAS"))
	assert.Equal(t, "SubscribeToExchangeDeltas", r.Resolve("subscribetoexchangedeltas"))
	assert.Equal(t, "SomethingElse", r.Resolve("SomethingElse"), "unknown short names resolve to themselves")
}

func TestRegistry_AddListenerKeepsFirstParamSets(t *testing.T) {
	r := NewRegistry(nil, nil)

	fullName, _ := r.AddListener("updateBook", func(string) {}, [][]any{{"BTC-USDT"}})
	_, _ = r.AddListener("updateBook", func(string) {}, [][]any{{"ETH-USDT"}})

	listeners := r.Listeners()
	require.Len(t, listeners, 1)
	assert.Equal(t, fullName, listeners[0].FunctionFullName)
	assert.Equal(t, [][]any{{"BTC-USDT"}}, listeners[0].ParamSets,
		"param sets are recorded by the first registration only")
}

func TestRegistry_DispatchExactlyOncePerCallback(t *testing.T) {
	r := NewRegistry(nil, nil)

	var first, second int
	r.AddListener("updateBook", func(string) { first++ }, nil)
	r.AddListener("updateBook", func(string) { second++ }, nil)

	r.Dispatch("updateBook", "payload")

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestRegistry_DispatchPanicIsolation(t *testing.T) {
	r := NewRegistry(nil, nil)

	var survived bool
	r.AddListener("updateBook", func(string) { panic("bad callback") }, nil)
	r.AddListener("updateBook", func(string) { survived = true }, nil)

	assert.NotPanics(t, func() { r.Dispatch("updateBook", "payload") })
	assert.True(t, survived, "a panicking callback must not affect its peers")
}

func TestRegistry_RemoveListenerByFullName(t *testing.T) {
	var stopped bool
	r := NewRegistry(nil, func() { stopped = true })

	fullName, firstID := r.AddListener("updateBook", func(string) {}, nil)
	_, secondID := r.AddListener("updateBook", func(string) {}, nil)

	r.RemoveListener(fullName, firstID)
	assert.Equal(t, 1, r.Len())
	assert.False(t, stopped)

	r.RemoveListener(fullName, secondID)
	assert.Equal(t, 0, r.Len())
	assert.True(t, stopped, "emptying the registry must request a stop")
}

func TestRegistry_RemoveMissingTolerated(t *testing.T) {
	r := NewRegistry(nil, func() { t.Fatal("onEmpty must not fire for a no-op removal") })

	assert.NotPanics(t, func() { r.RemoveListener("NeverAdded", 77) })
}

func TestRegistry_DispatchUnknownListener(t *testing.T) {
	r := NewRegistry(nil, nil)
	assert.NotPanics(t, func() { r.Dispatch("NoSuchListener", "payload") })
}
