package host

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"willsave/internal/logger"
)

// swapScript stores ARGV[1] under KEYS[1] and returns the previous value.
var swapScript = redis.NewScript(`
	local old = redis.call("GET", KEYS[1])
	redis.call("SET", KEYS[1], ARGV[1])
	return old
`)

// RedisConfig holds connection settings for the Redis runtime.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// storageChange is the record published on the storage change channel.
type storageChange struct {
	Key      string          `json:"key"`
	NewValue json.RawMessage `json:"new_value"`
	OldValue json.RawMessage `json:"old_value,omitempty"`
}

// RedisRuntime implements Runtime on Redis. Contexts in different processes
// that share a key prefix see each other's storage changes and messages.
type RedisRuntime struct {
	tabs

	client    *redis.Client
	pubsub    *redis.PubSub
	keyPrefix string
	opts      Options
	loop      *eventLoop
	listeners *listeners
	wg        sync.WaitGroup
	closeOnce sync.Once
	log       *zap.Logger
}

// NewRedisClient creates a client tuned for the runtime.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
}

// NewRedisRuntime pings Redis, subscribes to the runtime's channels and
// starts delivering events. The client is owned by the runtime afterwards.
func NewRedisRuntime(ctx context.Context, client *redis.Client, keyPrefix string, opts Options, log *zap.Logger) (*RedisRuntime, error) {
	log = logger.OrNop(log).Named("RedisRuntime")

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if keyPrefix == "" {
		keyPrefix = "willsave"
	}

	r := &RedisRuntime{
		client:    client,
		keyPrefix: keyPrefix,
		opts:      opts,
		loop:      newEventLoop(log),
		listeners: newListeners(),
		log:       log,
	}
	r.tabs = tabs{publish: r.Publish, tabID: opts.TabID}

	r.pubsub = client.PSubscribe(ctx, keyPrefix+":*")
	// Wait for the subscription confirmation so nothing published after the
	// constructor returns is missed.
	if _, err := r.pubsub.Receive(ctx); err != nil {
		r.pubsub.Close()
		r.loop.stop()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	r.wg.Add(1)
	go r.receive()

	log.Info("initialized", zap.String("prefix", keyPrefix))
	return r, nil
}

func (r *RedisRuntime) dataKey(key string) string {
	return r.keyPrefix + ":data:" + key
}

func (r *RedisRuntime) installKey() string {
	return r.keyPrefix + ":installed"
}

func (r *RedisRuntime) storageChannel() string {
	return r.keyPrefix + ":storage"
}

func (r *RedisRuntime) messagePrefix() string {
	return r.keyPrefix + ":msg:"
}

// Name reports PrimaryPlatform.
func (r *RedisRuntime) Name() Platform {
	return PrimaryPlatform
}

// ResourceURL resolves path against the configured resource base.
func (r *RedisRuntime) ResourceURL(path string) string {
	return resourceURL(r.opts.ResourceBase, path)
}

// ReadStorage returns the JSON value stored under key.
func (r *RedisRuntime) ReadStorage(ctx context.Context, key string) (json.RawMessage, bool, error) {
	data, err := r.client.Get(ctx, r.dataKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return json.RawMessage(data), true, nil
}

// WriteStorage stores value under key and publishes a change record if the
// value changed. The publish is not atomic with the write.
func (r *RedisRuntime) WriteStorage(ctx context.Context, key string, value any) error {
	newValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	var oldValue json.RawMessage
	old, err := swapScript.Run(ctx, r.client, []string{r.dataKey(key)}, string(newValue)).Text()
	switch {
	case err == redis.Nil:
	case err != nil:
		return fmt.Errorf("failed to write %s: %w", key, err)
	default:
		oldValue = json.RawMessage(old)
	}

	if !changed(newValue, oldValue) {
		return nil
	}

	record, err := json.Marshal(storageChange{Key: key, NewValue: newValue, OldValue: oldValue})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.storageChannel(), record).Err(); err != nil {
		return fmt.Errorf("failed to publish change for %s: %w", key, err)
	}
	return nil
}

// SubscribeStorageChange registers fn for changes to key.
func (r *RedisRuntime) SubscribeStorageChange(key string, fn StorageChangeFunc) {
	r.listeners.addStorage(key, fn)
}

// Publish sends payload on the channel to every subscribed context.
func (r *RedisRuntime) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", channel, err)
	}

	envelope, err := json.Marshal(Message{Channel: channel, Payload: data, TabID: r.opts.TabID})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.messagePrefix()+channel, envelope).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers fn for messages on channel.
func (r *RedisRuntime) Subscribe(channel string, fn MessageFunc) {
	r.listeners.addChannel(channel, fn)
}

// RunOnFirstInstall runs fn when this call set the install marker.
func (r *RedisRuntime) RunOnFirstInstall(ctx context.Context, fn func()) error {
	created, err := r.client.SetNX(ctx, r.installKey(), time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to record install: %w", err)
	}
	if created {
		r.log.Info("first install detected")
		r.loop.post(fn)
	}
	return nil
}

// receive routes pub/sub traffic onto the event loop.
func (r *RedisRuntime) receive() {
	defer r.wg.Done()

	for m := range r.pubsub.Channel() {
		switch {
		case m.Channel == r.storageChannel():
			var change storageChange
			if err := json.Unmarshal([]byte(m.Payload), &change); err != nil {
				r.log.Error("bad storage change record", zap.Error(err))
				continue
			}
			dispatch := r.listeners.changeDispatcher(change.Key)
			r.loop.post(func() {
				dispatch(change.NewValue, change.OldValue)
			})
		case strings.HasPrefix(m.Channel, r.messagePrefix()):
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.log.Error("bad message envelope", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			dispatch := r.listeners.messageDispatcher(msg.Channel)
			r.loop.post(func() {
				dispatch(msg)
			})
		}
	}
}

// Close unsubscribes, stops the event loop and closes the client.
func (r *RedisRuntime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.pubsub.Close()
		r.wg.Wait()
		r.loop.stop()
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// Ensure RedisRuntime implements Runtime
var _ Runtime = (*RedisRuntime)(nil)
