package datastore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"willsave/internal/host"
)

func newTestRuntime(t *testing.T) host.Runtime {
	t.Helper()
	rt, err := host.NewLocalRuntime(filepath.Join(t.TempDir(), "profile.db"), host.Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestKeyNames(t *testing.T) {
	want := []string{
		"CURRENCY_COUNT",
		"CURRENT_SESSION_VALID_UNTIL",
		"BLACKLIST",
		"MINUTES_PER_CURRENCY",
		"CURRENCY_PER_REVIEW",
		"DUOLINGO_USERNAME",
		"DUOLINGO_LAST_CHECK_POINTS",
	}
	require.Len(t, Keys, len(want))
	for i, k := range Keys {
		assert.Equal(t, want[i], k.String())
	}
	assert.Equal(t, "Key(99)", Key(99).String())
}

func TestGetReturnsDefaultWhenAbsent(t *testing.T) {
	store := New(newTestRuntime(t), nil)
	ctx := context.Background()

	minutes, err := Get(ctx, store, MinutesPerCurrency, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, minutes)

	name, err := Get(ctx, store, DuolingoUsername, "")
	require.NoError(t, err)
	assert.Equal(t, "", name)
}

func TestGetRoundTrip(t *testing.T) {
	store := New(newTestRuntime(t), nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, DuolingoUsername, "amy"))
	name, err := Get(ctx, store, DuolingoUsername, "")
	require.NoError(t, err)
	assert.Equal(t, "amy", name)

	require.NoError(t, store.Set(ctx, BlackList, []string{}))
	list, err := Get(ctx, store, BlackList, []string{"fallback"})
	require.NoError(t, err)
	assert.Empty(t, list, "an empty list is stored, not falsy")
}

func TestGetTreatsFalsyAsDefault(t *testing.T) {
	store := New(newTestRuntime(t), nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, DuolingoLastCheckPoints, 0))
	points, err := Get(ctx, store, DuolingoLastCheckPoints, -1)
	require.NoError(t, err)
	assert.Equal(t, -1, points, "a stored 0 is indistinguishable from unset")

	require.NoError(t, store.Set(ctx, DuolingoUsername, ""))
	name, err := Get(ctx, store, DuolingoUsername, "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", name)
}

func TestGetDecodeError(t *testing.T) {
	store := New(newTestRuntime(t), nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, MinutesPerCurrency, "ten"))
	minutes, err := Get(ctx, store, MinutesPerCurrency, 10)
	require.Error(t, err)
	assert.Equal(t, 10, minutes)
}

func TestIsFalsy(t *testing.T) {
	for _, raw := range []string{"", "null", "false", "0", "0.0", "-0", `""`, "  0 "} {
		assert.True(t, isFalsy(json.RawMessage(raw)), raw)
	}
	for _, raw := range []string{"1", "-1", "true", `"0"`, "[]", "{}", `"x"`} {
		assert.False(t, isFalsy(json.RawMessage(raw)), raw)
	}
}

func TestOnChangeDecodes(t *testing.T) {
	store := New(newTestRuntime(t), nil)
	ctx := context.Background()

	type pair struct{ newValue, oldValue int }
	got := make(chan pair, 4)
	OnChange(store, CurrencyCount, 0, func(newValue, oldValue int) {
		got <- pair{newValue, oldValue}
	})

	require.NoError(t, store.Set(ctx, CurrencyCount, 3))
	require.NoError(t, store.Set(ctx, CurrencyCount, 5))

	for _, want := range []pair{{3, 0}, {5, 3}} {
		select {
		case p := <-got:
			assert.Equal(t, want, p)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for change")
		}
	}
}
