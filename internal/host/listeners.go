package host

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
)

// listeners is the per-key and per-channel callback registry shared by the
// runtime variants. Dispatch happens on the owning runtime's event loop.
type listeners struct {
	mu       sync.RWMutex
	storage  map[string][]StorageChangeFunc
	channels map[string][]MessageFunc
}

func newListeners() *listeners {
	return &listeners{
		storage:  make(map[string][]StorageChangeFunc),
		channels: make(map[string][]MessageFunc),
	}
}

func (l *listeners) addStorage(key string, fn StorageChangeFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.storage[key] = append(l.storage[key], fn)
}

func (l *listeners) addChannel(channel string, fn MessageFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels[channel] = append(l.channels[channel], fn)
}

// changeDispatcher snapshots the key's listeners now and returns a func that
// fans a change out to them in registration order. Listeners registered after
// the write do not see it.
func (l *listeners) changeDispatcher(key string) func(newValue, oldValue json.RawMessage) {
	l.mu.RLock()
	fns := append([]StorageChangeFunc(nil), l.storage[key]...)
	l.mu.RUnlock()

	return func(newValue, oldValue json.RawMessage) {
		for _, fn := range fns {
			fn(newValue, oldValue)
		}
	}
}

// messageDispatcher is changeDispatcher for channel subscribers.
func (l *listeners) messageDispatcher(channel string) func(Message) {
	l.mu.RLock()
	fns := append([]MessageFunc(nil), l.channels[channel]...)
	l.mu.RUnlock()

	return func(msg Message) {
		for _, fn := range fns {
			fn(msg)
		}
	}
}

// changed reports whether a write actually modified the stored value.
func changed(newValue, oldValue json.RawMessage) bool {
	return oldValue == nil || !bytes.Equal(newValue, oldValue)
}

// resourceURL joins base and path, tolerating a missing trailing slash.
func resourceURL(base, path string) string {
	joined, err := url.JoinPath(base, path)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	return joined
}

// publishFunc is the variant-specific Publish used by the tab helpers.
type publishFunc func(ctx context.Context, channel string, payload any) error

// tabs issues tab commands on TabsChannel.
type tabs struct {
	publish publishFunc
	tabID   int
}

func (t tabs) RedirectTab(ctx context.Context, tabID int, url string) error {
	return t.publish(ctx, TabsChannel, TabCommand{Action: TabRedirect, TabID: tabID, URL: url})
}

func (t tabs) OpenTab(ctx context.Context, url string) error {
	return t.publish(ctx, TabsChannel, TabCommand{Action: TabOpen, URL: url})
}

func (t tabs) CloseTab(ctx context.Context, tabID int) error {
	return t.publish(ctx, TabsChannel, TabCommand{Action: TabClose, TabID: tabID})
}

func (t tabs) CloseCurrentTab(ctx context.Context) error {
	return t.CloseTab(ctx, t.tabID)
}

func (t tabs) OpenOptionsPage(ctx context.Context) error {
	return t.publish(ctx, TabsChannel, TabCommand{Action: TabOpenOptions})
}
