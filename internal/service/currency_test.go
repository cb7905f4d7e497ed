package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"willsave/internal/duolingo"
)

func linkAccount(t *testing.T, f *fixture, username string, points int) {
	t.Helper()
	require.NoError(t, f.access.SetDuolingoUsernameAndInitializeInventory(context.Background(), username, points))
}

func TestRefreshCreditsCompletedLessons(t *testing.T) {
	f := newFixture(t, -1)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	u := NewCurrencyUpdater(f.access, f.api, 5*time.Second, reg, nil)

	linkAccount(t, f, "amy", 120)
	f.api.set("amy", duolingo.Response{TotalPoints: 143})

	lessons, err := u.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, lessons)

	checkpoint, err := f.access.GetLastCheckPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 140, checkpoint)

	currency, err := f.access.GetCurrency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, currency)
	assert.Equal(t, 2.0, testutil.ToFloat64(u.credited))

	// The overflow carries into the next check.
	f.api.set("amy", duolingo.Response{TotalPoints: 150})
	lessons, err = u.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, lessons)
}

func TestRefreshUsesCurrencyPerLesson(t *testing.T) {
	f := newFixture(t, -1)
	ctx := context.Background()
	u := NewCurrencyUpdater(f.access, f.api, 0, nil, nil)

	require.NoError(t, f.access.SetCurrencyPerLesson(ctx, 3))
	linkAccount(t, f, "amy", 120)
	f.api.set("amy", duolingo.Response{TotalPoints: 143})

	_, err := u.Refresh(ctx)
	require.NoError(t, err)
	currency, err := f.access.GetCurrency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, currency)
}

func TestRefreshAfterLinkCreditsNothing(t *testing.T) {
	f := newFixture(t, -1)
	ctx := context.Background()
	u := NewCurrencyUpdater(f.access, f.api, 0, nil, nil)

	linkAccount(t, f, "amy", 500)
	f.api.set("amy", duolingo.Response{TotalPoints: 509})

	lessons, err := u.Refresh(ctx)
	require.NoError(t, err)
	assert.Zero(t, lessons)

	checkpoint, err := f.access.GetLastCheckPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500, checkpoint)
}

func TestRefreshErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not linked", func(t *testing.T) {
		f := newFixture(t, -1)
		_, err := NewCurrencyUpdater(f.access, f.api, 0, nil, nil).Refresh(ctx)
		assert.ErrorIs(t, err, ErrNotLinked)
		assert.Zero(t, f.api.calls.Load())
	})

	t.Run("api failure", func(t *testing.T) {
		f := newFixture(t, -1)
		linkAccount(t, f, "ghost", 100)
		_, err := NewCurrencyUpdater(f.access, f.api, 0, nil, nil).Refresh(ctx)
		assert.ErrorIs(t, err, ErrProgressUnavailable)
		assert.ErrorContains(t, err, duolingo.ErrUserNotFound)
	})

	t.Run("uninitialized checkpoint", func(t *testing.T) {
		f := newFixture(t, -1)
		// A zero baseline reads back as uninitialized.
		linkAccount(t, f, "amy", 0)
		f.api.set("amy", duolingo.Response{TotalPoints: 40})
		_, err := NewCurrencyUpdater(f.access, f.api, 0, nil, nil).Refresh(ctx)
		assert.ErrorIs(t, err, ErrPointsUninitialized)

		currency, err := f.access.GetCurrency(ctx)
		require.NoError(t, err)
		assert.Zero(t, currency)
	})
}

func TestUpdateKeepsMinimumGap(t *testing.T) {
	f := newFixture(t, -1)
	ctx := context.Background()
	clock := newFakeClock()
	u := NewCurrencyUpdater(f.access, f.api, 5*time.Second, nil, nil)
	u.now = clock.Now

	linkAccount(t, f, "amy", 100)
	f.api.set("amy", duolingo.Response{TotalPoints: 110})

	assert.True(t, u.Update(ctx))
	u.Wait()
	assert.EqualValues(t, 1, f.api.calls.Load())

	clock.Advance(4 * time.Second)
	assert.False(t, u.Update(ctx))

	clock.Advance(2 * time.Second)
	assert.True(t, u.Update(ctx))
	u.Wait()
	assert.EqualValues(t, 2, f.api.calls.Load())

	currency, err := f.access.GetCurrency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, currency)
}

func TestUpdateSurvivesCanceledContext(t *testing.T) {
	f := newFixture(t, -1)
	u := NewCurrencyUpdater(f.access, f.api, 0, nil, nil)
	linkAccount(t, f, "amy", 100)
	f.api.set("amy", duolingo.Response{TotalPoints: 120})

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, u.Update(ctx))
	cancel()
	u.Wait()

	currency, err := f.access.GetCurrency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, currency)
}
