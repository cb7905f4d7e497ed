package host

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type change struct {
	newValue string
	oldValue string
}

// contexts opens two views of one host: writer and observer. For the local
// runtime both views are the same process-wide runtime.
type contexts func(t *testing.T) (writer, observer Runtime)

func localContexts(t *testing.T) (Runtime, Runtime) {
	rt, err := NewLocalRuntime(filepath.Join(t.TempDir(), "profile.db"), Options{ResourceBase: "moz-extension://abc/", TabID: 3}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, rt
}

func redisContexts(t *testing.T) (Runtime, Runtime) {
	mr := miniredis.RunT(t)
	open := func(tabID int) Runtime {
		rt, err := NewRedisRuntime(context.Background(), NewRedisClient(RedisConfig{Addr: mr.Addr()}), "test", Options{ResourceBase: "moz-extension://abc/", TabID: tabID}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = rt.Close() })
		return rt
	}
	return open(3), open(-1)
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func runConformance(t *testing.T, open contexts) {
	ctx := context.Background()

	t.Run("absent key", func(t *testing.T) {
		rt, _ := open(t)
		value, ok, err := rt.ReadStorage(ctx, "MISSING")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, value)
	})

	t.Run("write then read", func(t *testing.T) {
		rt, _ := open(t)
		require.NoError(t, rt.WriteStorage(ctx, "BLACKLIST", []string{"a", "b"}))

		value, ok, err := rt.ReadStorage(ctx, "BLACKLIST")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `["a","b"]`, string(value))
	})

	t.Run("change notification across contexts", func(t *testing.T) {
		writer, observer := open(t)
		changes := make(chan change, 8)
		observer.SubscribeStorageChange("CURRENCY_COUNT", func(newValue, oldValue json.RawMessage) {
			changes <- change{string(newValue), string(oldValue)}
		})

		require.NoError(t, writer.WriteStorage(ctx, "CURRENCY_COUNT", 5))
		require.NoError(t, writer.WriteStorage(ctx, "CURRENCY_COUNT", 7))
		require.NoError(t, writer.WriteStorage(ctx, "CURRENCY_COUNT", 7))
		require.NoError(t, writer.WriteStorage(ctx, "CURRENCY_COUNT", 8))
		require.NoError(t, writer.WriteStorage(ctx, "OTHER", 1))

		assert.Equal(t, change{"5", ""}, recv(t, changes))
		assert.Equal(t, change{"7", "5"}, recv(t, changes))
		assert.Equal(t, change{"8", "7"}, recv(t, changes))
	})

	t.Run("listeners fire in registration order", func(t *testing.T) {
		writer, observer := open(t)
		order := make(chan int, 4)
		observer.SubscribeStorageChange("DUOLINGO_USERNAME", func(json.RawMessage, json.RawMessage) { order <- 1 })
		observer.SubscribeStorageChange("DUOLINGO_USERNAME", func(json.RawMessage, json.RawMessage) { order <- 2 })

		require.NoError(t, writer.WriteStorage(ctx, "DUOLINGO_USERNAME", "amy"))
		assert.Equal(t, 1, recv(t, order))
		assert.Equal(t, 2, recv(t, order))
	})

	t.Run("publish and subscribe", func(t *testing.T) {
		writer, observer := open(t)
		msgs := make(chan Message, 4)
		observer.Subscribe("ping", func(m Message) { msgs <- m })
		observer.Subscribe("other", func(m Message) { msgs <- m })

		require.NoError(t, writer.Publish(ctx, "ping", map[string]string{"hello": "world"}))

		m := recv(t, msgs)
		assert.Equal(t, "ping", m.Channel)
		assert.Equal(t, 3, m.TabID)
		assert.JSONEq(t, `{"hello":"world"}`, string(m.Payload))
		assert.Empty(t, msgs)
	})

	t.Run("tab commands", func(t *testing.T) {
		writer, observer := open(t)
		cmds := make(chan TabCommand, 4)
		observer.Subscribe(TabsChannel, func(m Message) {
			var cmd TabCommand
			if json.Unmarshal(m.Payload, &cmd) == nil {
				cmds <- cmd
			}
		})

		require.NoError(t, writer.RedirectTab(ctx, 9, "https://www.duolingo.com/"))
		require.NoError(t, writer.CloseCurrentTab(ctx))
		require.NoError(t, writer.CloseTab(ctx, 12))
		require.NoError(t, writer.OpenOptionsPage(ctx))

		assert.Equal(t, TabCommand{Action: TabRedirect, TabID: 9, URL: "https://www.duolingo.com/"}, recv(t, cmds))
		assert.Equal(t, TabCommand{Action: TabClose, TabID: 3}, recv(t, cmds))
		assert.Equal(t, TabCommand{Action: TabClose, TabID: 12}, recv(t, cmds))
		assert.Equal(t, TabCommand{Action: TabOpenOptions}, recv(t, cmds))
	})

	t.Run("first install runs once", func(t *testing.T) {
		writer, observer := open(t)
		var calls atomic.Int32
		done := make(chan struct{}, 4)
		fn := func() {
			calls.Add(1)
			done <- struct{}{}
		}

		require.NoError(t, writer.RunOnFirstInstall(ctx, fn))
		require.NoError(t, observer.RunOnFirstInstall(ctx, fn))
		require.NoError(t, writer.RunOnFirstInstall(ctx, fn))

		recv(t, done)
		assert.Never(t, func() bool { return calls.Load() > 1 }, 200*time.Millisecond, 20*time.Millisecond)
	})

	t.Run("resource url", func(t *testing.T) {
		rt, _ := open(t)
		assert.Equal(t, "moz-extension://abc/html/toll.html", rt.ResourceURL("html/toll.html"))
	})
}

func TestLocalRuntime(t *testing.T) {
	runConformance(t, localContexts)
}

func TestRedisRuntime(t *testing.T) {
	runConformance(t, redisContexts)
}

func TestPlatformNames(t *testing.T) {
	local, _ := localContexts(t)
	primary, _ := redisContexts(t)

	assert.Equal(t, SecondaryPlatform, local.Name())
	assert.Equal(t, PrimaryPlatform, primary.Name())
}

func TestLocalRuntimeSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "profile.db")

	first, err := NewLocalRuntime(path, Options{}, nil)
	require.NoError(t, err)
	installed := make(chan struct{}, 1)
	require.NoError(t, first.RunOnFirstInstall(ctx, func() { installed <- struct{}{} }))
	recv(t, installed)
	require.NoError(t, first.WriteStorage(ctx, "CURRENCY_COUNT", 4))
	require.NoError(t, first.Close())

	second, err := NewLocalRuntime(path, Options{}, nil)
	require.NoError(t, err)
	defer second.Close()

	var again atomic.Bool
	require.NoError(t, second.RunOnFirstInstall(ctx, func() { again.Store(true) }))

	value, ok, err := second.ReadStorage(ctx, "CURRENCY_COUNT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "4", string(value))
	assert.Never(t, again.Load, 100*time.Millisecond, 10*time.Millisecond)
}
