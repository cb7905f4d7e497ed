// Package host normalizes the storage, messaging and tab capabilities of the
// extension platforms behind a single Runtime interface.
package host

import (
	"context"
	"encoding/json"
	"errors"
)

// Platform identifies which runtime variant is active.
type Platform string

const (
	// PrimaryPlatform is backed by Redis; contexts may live in different processes.
	PrimaryPlatform Platform = "PrimaryPlatform"
	// SecondaryPlatform is backed by a local SQLite profile; contexts share one process.
	SecondaryPlatform Platform = "SecondaryPlatform"
)

// TabsChannel is the reserved channel tab commands are published on.
const TabsChannel = "HOST_TABS"

// ErrUnsupportedPlatform is returned by Select when no probe matches.
var ErrUnsupportedPlatform = errors.New("unsupported host platform")

// StorageChangeFunc receives the new and previous JSON value of a key.
// Either side is nil when the key was absent.
type StorageChangeFunc func(newValue, oldValue json.RawMessage)

// Message is the envelope delivered to channel subscribers.
type Message struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
	TabID   int             `json:"tab_id"`
}

// MessageFunc receives messages published on a subscribed channel.
type MessageFunc func(Message)

// TabAction names a tab command.
type TabAction string

const (
	TabRedirect    TabAction = "redirect"
	TabOpen        TabAction = "open"
	TabClose       TabAction = "close"
	TabOpenOptions TabAction = "open_options"
)

// TabCommand is published on TabsChannel for the browser shim to execute.
type TabCommand struct {
	Action TabAction `json:"action"`
	TabID  int       `json:"tab_id,omitempty"`
	URL    string    `json:"url,omitempty"`
}

// Runtime is the capability surface shared by every platform variant.
//
// Storage and publish calls block until host I/O completes. Callbacks run on
// the runtime's event loop, one at a time, in delivery order.
type Runtime interface {
	// Name reports the platform variant.
	Name() Platform

	// ResourceURL resolves a bundled resource path to an addressable URL.
	ResourceURL(path string) string

	// ReadStorage returns the stored JSON value; ok is false when absent.
	ReadStorage(ctx context.Context, key string) (value json.RawMessage, ok bool, err error)

	// WriteStorage JSON-encodes value and stores it under key.
	WriteStorage(ctx context.Context, key string, value any) error

	// SubscribeStorageChange registers fn for changes to key from any context.
	SubscribeStorageChange(key string, fn StorageChangeFunc)

	// Publish sends payload to every subscriber of channel, at most once each.
	Publish(ctx context.Context, channel string, payload any) error

	// Subscribe registers fn for messages on channel.
	Subscribe(channel string, fn MessageFunc)

	RedirectTab(ctx context.Context, tabID int, url string) error
	OpenTab(ctx context.Context, url string) error
	CloseTab(ctx context.Context, tabID int) error
	CloseCurrentTab(ctx context.Context) error
	OpenOptionsPage(ctx context.Context) error

	// RunOnFirstInstall runs fn only the first time the profile is seen.
	RunOnFirstInstall(ctx context.Context, fn func()) error

	// Close stops the event loop and releases host connections.
	Close() error
}

// Options are shared by all runtime variants.
type Options struct {
	// ResourceBase is the extension's resource root, e.g. chrome-extension://<id>/.
	ResourceBase string
	// TabID is the tab this context runs in; -1 for background contexts.
	TabID int
}
