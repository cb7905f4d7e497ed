package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"willsave/internal/datastore"
)

const redditPost = "https://www.reddit.com/r/golang/comments/1"

func blockReddit(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.access.SetBlockList(context.Background(), []string{"https?://.*?reddit.com/.*"}))
}

func TestCheck(t *testing.T) {
	f := newFixture(t, -1)
	ctx := context.Background()
	blockReddit(t, f)
	b := NewBlocker(f.rt, f.access, f.hub, nil)

	d, err := b.Check(ctx, "https://news.ycombinator.com/")
	require.NoError(t, err)
	assert.Equal(t, Decision{State: Allowed}, d)

	d, err = b.Check(ctx, "https://www.duolingo.com/reddit.com/x")
	require.NoError(t, err)
	assert.Equal(t, Allowed, d.State)

	d, err = b.Check(ctx, redditPost)
	require.NoError(t, err)
	assert.Equal(t, Blocked, d.State)
	assert.Equal(t, "moz-extension://abc/html/toll.html?r=https%3A%2F%2Fwww.reddit.com%2Fr%2Fgolang%2Fcomments%2F1", d.TollURL)

	until, err := f.access.GiveDefaultTime(ctx)
	require.NoError(t, err)
	d, err = b.Check(ctx, redditPost)
	require.NoError(t, err)
	assert.Equal(t, Unblocked, d.State)
	assert.Equal(t, until.UnixMilli(), d.SessionUntil.UnixMilli())
}

func TestWatchAllowedPage(t *testing.T) {
	f := newFixture(t, -1)
	b := NewBlocker(f.rt, f.access, f.hub, nil)

	ch, err := b.Watch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, Decision{State: Allowed}, await(t, ch))
	_, open := <-ch
	assert.False(t, open)
}

func TestWatchUnblocksAfterPayment(t *testing.T) {
	f := newFixture(t, -1)
	blockReddit(t, f)
	b := NewBlocker(f.rt, f.access, f.hub, nil)
	tabs := make(chan string, 4)
	f.hub.OnRequestNewTab(func(url string) { tabs <- url })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Watch(ctx, redditPost)
	require.NoError(t, err)

	first := await(t, ch)
	assert.Equal(t, Blocked, first.State)
	// The local profile has no embeddable frame, so the toll opens in a tab.
	assert.Equal(t, first.TollURL, await(t, tabs))

	_, err = f.access.IncrementCurrency(ctx, 1)
	require.NoError(t, err)
	_, err = NewToll(f.rt, f.access, f.hub, mineURL, nil).Pay(ctx, 1, SelfTab)
	require.NoError(t, err)

	assert.Equal(t, Unblocked, await(t, ch).State)

	cancel()
	for range ch {
	}
}

func TestWatchBlocksAgainWhenSessionEnds(t *testing.T) {
	f := newFixture(t, -1)
	ctx := context.Background()
	blockReddit(t, f)
	b := NewBlocker(f.rt, f.access, f.hub, nil)
	b.buffer = 10 * time.Millisecond

	// A session that is about to run out.
	require.NoError(t, f.access.Store().Set(ctx, datastore.CurrentSessionValidUntil, time.Now().Add(200*time.Millisecond).UnixMilli()))

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := b.Watch(wctx, redditPost)
	require.NoError(t, err)

	assert.Equal(t, Unblocked, await(t, ch).State)
	assert.Equal(t, Blocked, await(t, ch).State)

	cancel()
	for range ch {
	}
	b.mu.Lock()
	assert.Empty(t, b.watches)
	b.mu.Unlock()
}
