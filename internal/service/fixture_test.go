package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"willsave/internal/datastore"
	"willsave/internal/duolingo"
	"willsave/internal/events"
	"willsave/internal/host"
)

type fixture struct {
	rt     *host.LocalRuntime
	access *datastore.Access
	hub    *events.Hub
	api    *fakeAPI
}

func newFixture(t *testing.T, tabID int) *fixture {
	t.Helper()
	rt, err := host.NewLocalRuntime(
		filepath.Join(t.TempDir(), "profile.db"),
		host.Options{ResourceBase: "moz-extension://abc/", TabID: tabID},
		nil,
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	return &fixture{
		rt:     rt,
		access: datastore.NewAccess(datastore.New(rt, nil), nil),
		hub:    events.NewHub(rt, nil, nil),
		api:    &fakeAPI{},
	}
}

// tabCommands collects commands published for the browser shim.
func (f *fixture) tabCommands() chan host.TabCommand {
	ch := make(chan host.TabCommand, 16)
	f.rt.Subscribe(host.TabsChannel, func(msg host.Message) {
		var cmd host.TabCommand
		if err := json.Unmarshal(msg.Payload, &cmd); err == nil {
			ch <- cmd
		}
	})
	return ch
}

type fakeAPI struct {
	mu    sync.Mutex
	resp  map[string]duolingo.Response
	calls atomic.Int32
}

func (a *fakeAPI) set(username string, resp duolingo.Response) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resp == nil {
		a.resp = make(map[string]duolingo.Response)
	}
	a.resp[username] = resp
}

func (a *fakeAPI) GetData(_ context.Context, username string) duolingo.Response {
	a.calls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if resp, ok := a.resp[username]; ok {
		return resp
	}
	return duolingo.Response{Error: duolingo.ErrUserNotFound, TotalPoints: -1}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func expectNone[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	case <-time.After(100 * time.Millisecond):
	}
}
