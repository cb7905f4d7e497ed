package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"willsave/internal/logger"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// LocalRuntime implements Runtime on a SQLite profile database. Every context
// shares the process, so change and message delivery stay in memory.
type LocalRuntime struct {
	tabs

	db        *sql.DB
	mu        sync.Mutex // serializes read-old/write-new so change records pair up
	opts      Options
	loop      *eventLoop
	listeners *listeners
	log       *zap.Logger
}

// NewLocalRuntime opens (or creates) the profile database at dbPath.
func NewLocalRuntime(dbPath string, opts Options, log *zap.Logger) (*LocalRuntime, error) {
	log = logger.OrNop(log).Named("LocalRuntime")

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create profile directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	r := &LocalRuntime{
		db:        db,
		opts:      opts,
		loop:      newEventLoop(log),
		listeners: newListeners(),
		log:       log,
	}
	r.tabs = tabs{publish: r.Publish, tabID: opts.TabID}

	log.Info("initialized", zap.String("profile", dbPath))
	return r, nil
}

func createTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS storage (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS install (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		installed_at DATETIME NOT NULL
	);
	`
	_, err := db.Exec(query)
	return err
}

// Name reports SecondaryPlatform.
func (r *LocalRuntime) Name() Platform {
	return SecondaryPlatform
}

// ResourceURL resolves path against the configured resource base.
func (r *LocalRuntime) ResourceURL(path string) string {
	return resourceURL(r.opts.ResourceBase, path)
}

// ReadStorage returns the JSON value stored under key.
func (r *LocalRuntime) ReadStorage(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM storage WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return json.RawMessage(value), true, nil
}

// WriteStorage stores value under key and notifies subscribers if it changed.
func (r *LocalRuntime) WriteStorage(ctx context.Context, key string, value any) error {
	newValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var old sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT value FROM storage WHERE key = ?`, key).Scan(&old)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO storage (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`, key, string(newValue))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	var oldValue json.RawMessage
	if old.Valid {
		oldValue = json.RawMessage(old.String)
	}
	if changed(newValue, oldValue) {
		dispatch := r.listeners.changeDispatcher(key)
		r.loop.post(func() {
			dispatch(newValue, oldValue)
		})
	}
	return nil
}

// SubscribeStorageChange registers fn for changes to key.
func (r *LocalRuntime) SubscribeStorageChange(key string, fn StorageChangeFunc) {
	r.listeners.addStorage(key, fn)
}

// Publish delivers payload to the channel's subscribers on the event loop.
func (r *LocalRuntime) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", channel, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := Message{Channel: channel, Payload: data, TabID: r.opts.TabID}
	dispatch := r.listeners.messageDispatcher(channel)
	r.loop.post(func() {
		dispatch(msg)
	})
	return nil
}

// Subscribe registers fn for messages on channel.
func (r *LocalRuntime) Subscribe(channel string, fn MessageFunc) {
	r.listeners.addChannel(channel, fn)
}

// RunOnFirstInstall runs fn when this call is the one that created the
// install marker.
func (r *LocalRuntime) RunOnFirstInstall(ctx context.Context, fn func()) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO install (id, installed_at) VALUES (1, datetime('now'))`)
	if err != nil {
		return fmt.Errorf("failed to record install: %w", err)
	}

	created, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if created == 1 {
		r.log.Info("first install detected")
		r.loop.post(fn)
	}
	return nil
}

// Close stops the event loop and closes the database.
func (r *LocalRuntime) Close() error {
	r.loop.stop()
	return r.db.Close()
}

// Ensure LocalRuntime implements Runtime
var _ Runtime = (*LocalRuntime)(nil)
