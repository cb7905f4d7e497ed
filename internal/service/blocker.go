package service

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"willsave/internal/datastore"
	"willsave/internal/events"
	"willsave/internal/host"
	"willsave/internal/logger"
)

// BlockState is the blocker's verdict for a page.
type BlockState string

const (
	// Allowed means the page is not on the blocklist.
	Allowed BlockState = "allowed"
	// Blocked means the page is blocklisted and no session is active.
	Blocked BlockState = "blocked"
	// Unblocked means the page is blocklisted but a session is active.
	Unblocked BlockState = "unblocked"
)

// TollPage is the resource path of the paywall page.
const TollPage = "html/toll.html"

// Decision is a block verdict at one point in time.
type Decision struct {
	State        BlockState `json:"state"`
	TollURL      string     `json:"tollUrl,omitempty"`
	SessionUntil time.Time  `json:"sessionUntil,omitzero"`
}

// Blocker decides whether pages are paywalled and follows session changes
// for pages being watched.
type Blocker struct {
	rt     host.Runtime
	access *datastore.Access
	hub    *events.Hub
	buffer time.Duration
	log    *zap.Logger

	mu      sync.Mutex
	watches map[int]chan time.Time
	nextID  int
}

// NewBlocker creates a blocker and subscribes it to session changes.
func NewBlocker(rt host.Runtime, access *datastore.Access, hub *events.Hub, log *zap.Logger) *Blocker {
	b := &Blocker{
		rt:      rt,
		access:  access,
		hub:     hub,
		buffer:  time.Second,
		log:     logger.OrNop(log).Named("Blocker"),
		watches: make(map[int]chan time.Time),
	}
	access.SubscribeToSession(b.sessionChanged)
	return b
}

// TollURL returns the paywall URL that returns to pageURL.
func (b *Blocker) TollURL(pageURL string) string {
	return b.rt.ResourceURL(TollPage) + "?r=" + url.QueryEscape(pageURL)
}

// Check returns the current verdict for pageURL.
func (b *Blocker) Check(ctx context.Context, pageURL string) (Decision, error) {
	blocked, err := b.access.IsBlocked(ctx, pageURL)
	if err != nil {
		return Decision{}, err
	}
	if !blocked {
		return Decision{State: Allowed}, nil
	}
	return b.sessionDecision(ctx, pageURL)
}

func (b *Blocker) sessionDecision(ctx context.Context, pageURL string) (Decision, error) {
	remaining, err := b.access.GetMillisecondsToSessionExpiration(ctx)
	if err != nil {
		return Decision{}, err
	}
	if remaining < 0 {
		return Decision{State: Blocked, TollURL: b.TollURL(pageURL)}, nil
	}
	until, err := b.access.GetSessionExpiry(ctx)
	if err != nil {
		return Decision{}, err
	}
	return Decision{State: Unblocked, SessionUntil: until}, nil
}

// Watch streams verdict changes for pageURL until ctx is done. Pages that
// are not blocklisted get a single Allowed decision.
func (b *Blocker) Watch(ctx context.Context, pageURL string) (<-chan Decision, error) {
	id, sessions := b.register()
	first, err := b.Check(ctx, pageURL)
	if err != nil {
		b.unregister(id)
		return nil, err
	}

	out := make(chan Decision, 4)
	if first.State == Allowed {
		b.unregister(id)
		out <- first
		close(out)
		return out, nil
	}

	go func() {
		defer close(out)
		defer b.unregister(id)
		b.follow(ctx, pageURL, first, sessions, out)
	}()
	return out, nil
}

func (b *Blocker) follow(ctx context.Context, pageURL string, current Decision, sessions <-chan time.Time, out chan<- Decision) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	emit := func(d Decision) bool {
		if d.State == Blocked && b.rt.Name() == host.SecondaryPlatform {
			// No embeddable toll frame here; the toll page opens in a tab.
			if err := b.hub.RequestNewTab(ctx, d.TollURL); err != nil {
				b.log.Error("new tab request failed", zap.Error(err))
			}
		}
		select {
		case out <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}
	rearm := func(until time.Time) {
		dt := time.Until(until) + b.buffer
		b.log.Debug("will check again", zap.Duration("in", dt))
		timer.Reset(dt)
	}

	if !emit(current) {
		return
	}
	if current.State == Unblocked {
		rearm(current.SessionUntil)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case until := <-sessions:
			b.log.Info("user spent potion on extra time")
			if time.Now().Before(until) {
				if current.State != Unblocked || !current.SessionUntil.Equal(until) {
					current = Decision{State: Unblocked, SessionUntil: until}
					if !emit(current) {
						return
					}
				}
				rearm(until)
			}
		case <-timer.C:
			d, err := b.sessionDecision(ctx, pageURL)
			if err != nil {
				b.log.Error("session check failed", zap.Error(err))
				continue
			}
			if d.State == Unblocked {
				rearm(d.SessionUntil)
			}
			if d.State != current.State {
				current = d
				if !emit(current) {
					return
				}
			}
		}
	}
}

func (b *Blocker) register() (int, <-chan time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	ch := make(chan time.Time, 1)
	b.watches[b.nextID] = ch
	return b.nextID, ch
}

func (b *Blocker) unregister(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.watches, id)
}

// sessionChanged hands the newest expiry to every watch, replacing any
// value it has not consumed yet.
func (b *Blocker) sessionChanged(until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.watches {
		select {
		case <-ch:
		default:
		}
		ch <- until
	}
}
