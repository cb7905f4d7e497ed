// Package service implements the background-context behaviour: crediting
// currency from remote progress, toll payments, options, and page blocking.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"willsave/internal/datastore"
	"willsave/internal/duolingo"
	"willsave/internal/logger"
)

// PointsPerLesson is how many remote points one lesson is worth.
const PointsPerLesson = 10

var (
	// ErrNotLinked is returned when no remote account is configured.
	ErrNotLinked = errors.New("no duolingo username configured")
	// ErrPointsUninitialized is returned when the checkpoint was never set.
	ErrPointsUninitialized = errors.New("points are uninitialized, user must do setup")
	// ErrProgressUnavailable wraps failures reported by the progress API.
	ErrProgressUnavailable = errors.New("progress unavailable")
)

// ProgressAPI reads a user's remote point total.
type ProgressAPI interface {
	GetData(ctx context.Context, username string) duolingo.Response
}

// CurrencyUpdater credits currency for lessons completed since the last
// checkpoint.
type CurrencyUpdater struct {
	access  *datastore.Access
	api     ProgressAPI
	minGap  time.Duration
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu        sync.Mutex
	updating  bool
	lastStart time.Time
	wg        sync.WaitGroup

	credited prometheus.Counter
}

// NewCurrencyUpdater creates an updater that starts at most one remote
// check per minGap.
func NewCurrencyUpdater(access *datastore.Access, api ProgressAPI, minGap time.Duration, promRegistry prometheus.Registerer, log *zap.Logger) *CurrencyUpdater {
	u := &CurrencyUpdater{
		access:  access,
		api:     api,
		minGap:  minGap,
		timeout: 30 * time.Second,
		now:     time.Now,
		log:     logger.OrNop(log).Named("CurrencyUpdater"),
	}
	if promRegistry != nil {
		u.credited = promauto.With(promRegistry).NewCounter(prometheus.CounterOpts{
			Name: "willsave_lessons_credited_total",
			Help: "lessons converted into currency",
		})
	}
	return u
}

// Update starts a refresh in the background unless one is running or the
// last one started less than minGap ago. It reports whether it started.
func (u *CurrencyUpdater) Update(ctx context.Context) bool {
	u.mu.Lock()
	now := u.now()
	if u.updating || (!u.lastStart.IsZero() && now.Before(u.lastStart.Add(u.minGap))) {
		u.mu.Unlock()
		u.log.Info("skip updating because an update is running or too recent")
		return false
	}
	u.updating = true
	u.lastStart = now
	u.mu.Unlock()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.timeout)
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer cancel()
		defer func() {
			u.mu.Lock()
			u.updating = false
			u.mu.Unlock()
		}()

		if _, err := u.Refresh(runCtx); err != nil {
			u.log.Error("currency update failed", zap.Error(err))
		}
	}()
	return true
}

// Wait blocks until running background updates finish.
func (u *CurrencyUpdater) Wait() {
	u.wg.Wait()
}

// Refresh checks remote progress once and returns the lessons credited.
func (u *CurrencyUpdater) Refresh(ctx context.Context) (int, error) {
	username, err := u.access.GetDuolingoUsername(ctx)
	if err != nil {
		return 0, err
	}
	if username == "" {
		return 0, ErrNotLinked
	}

	data := u.api.GetData(ctx, username)
	if data.Error != "" {
		return 0, fmt.Errorf("%w: %s", ErrProgressUnavailable, data.Error)
	}

	oldPoints, err := u.access.GetLastCheckPoints(ctx)
	if err != nil {
		return 0, err
	}
	if oldPoints <= 0 {
		return 0, ErrPointsUninitialized
	}

	diff := data.TotalPoints - oldPoints
	overflow := diff % PointsPerLesson
	lessons := diff / PointsPerLesson
	u.log.Info("checked progress",
		zap.Int("total", data.TotalPoints),
		zap.Int("checkpoint", oldPoints),
		zap.Int("lessons", lessons),
		zap.Int("overflow", overflow),
	)

	if lessons <= 0 {
		u.log.Info("no changes were made")
		return 0, nil
	}

	if _, err := u.access.IncrementCurrency(ctx, lessons); err != nil {
		return 0, err
	}
	newPoints := data.TotalPoints - overflow
	if err := u.access.SetLastCheckPoints(ctx, newPoints); err != nil {
		return lessons, err
	}
	if u.credited != nil {
		u.credited.Add(float64(lessons))
	}
	return lessons, nil
}
