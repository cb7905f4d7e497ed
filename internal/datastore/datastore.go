// Package datastore provides typed access to the host runtime's key-value
// storage and the domain operations built on it.
package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"willsave/internal/host"
	"willsave/internal/logger"
)

// Datastore wraps host storage with the closed Key enumeration.
type Datastore struct {
	rt  host.Runtime
	log *zap.Logger
}

// New creates a datastore over rt.
func New(rt host.Runtime, log *zap.Logger) *Datastore {
	return &Datastore{
		rt:  rt,
		log: logger.OrNop(log).Named("Datastore"),
	}
}

// Set stores value under key.
func (d *Datastore) Set(ctx context.Context, key Key, value any) error {
	return d.rt.WriteStorage(ctx, key.String(), value)
}

// SubscribeChange registers fn for raw changes to key.
func (d *Datastore) SubscribeChange(key Key, fn host.StorageChangeFunc) {
	d.rt.SubscribeStorageChange(key.String(), fn)
}

// Get reads key into a T. Absent values and falsy values (null, false, 0,
// "") both resolve to def, so a stored 0 reads back as def.
func Get[T any](ctx context.Context, d *Datastore, key Key, def T) (T, error) {
	raw, _, err := d.rt.ReadStorage(ctx, key.String())
	if err != nil {
		return def, err
	}
	return decodeOr(raw, key, def)
}

// OnChange registers fn for changes to key, decoding both sides with the
// same falsy-to-default rule as Get. Undecodable changes are logged and
// skipped.
func OnChange[T any](d *Datastore, key Key, def T, fn func(newValue, oldValue T)) {
	d.SubscribeChange(key, func(newRaw, oldRaw json.RawMessage) {
		newValue, err := decodeOr(newRaw, key, def)
		if err != nil {
			d.log.Error("undecodable change", zap.Stringer("key", key), zap.Error(err))
			return
		}
		oldValue, err := decodeOr(oldRaw, key, def)
		if err != nil {
			oldValue = def
		}
		fn(newValue, oldValue)
	})
}

func decodeOr[T any](raw json.RawMessage, key Key, def T) (T, error) {
	if isFalsy(raw) {
		return def, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return v, nil
}

// isFalsy reports whether raw is absent or one of the JSON falsy values.
// Empty arrays and objects are not falsy.
func isFalsy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return true
	}
	switch raw[0] {
	case 'n', 'f':
		return true
	case '"':
		return string(raw) == `""`
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return false
		}
		f, err := n.Float64()
		return err == nil && f == 0
	}
	return false
}
