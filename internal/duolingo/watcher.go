package duolingo

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"willsave/internal/logger"
)

// DefaultPollInterval is how often the watcher inspects the page.
const DefaultPollInterval = 100 * time.Millisecond

// State is the watcher's classification of the current page.
type State int

const (
	Idle State = iota
	HomePage
	SkillOverviewPage
	PracticeHome
	QuestionPending
	QuestionAnsweredCorrect
	QuestionAnsweredWrong
	PracticeSessionEnd
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case HomePage:
		return "HomePage"
	case SkillOverviewPage:
		return "SkillOverviewPage"
	case PracticeHome:
		return "PracticeHome"
	case QuestionPending:
		return "QuestionPending"
	case QuestionAnsweredCorrect:
		return "QuestionAnsweredCorrect"
	case QuestionAnsweredWrong:
		return "QuestionAnsweredWrong"
	case PracticeSessionEnd:
		return "PracticeSessionEnd"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Page is what the watcher can observe about the page currently shown.
type Page interface {
	Path() string
	Has(m Marker) bool
}

// PageSource yields the latest page, or nil when nothing is loaded.
type PageSource interface {
	Current() Page
}

// URL localization may break these on non-English sites.
var (
	skillPath    = regexp.MustCompile(`\/skill\/[^\/]+?\/[^\/]+?$`)
	lessonPath   = regexp.MustCompile(`^\/skill\/[^\/]+?\/[^\/]+?\/.*$`)
	practicePath = regexp.MustCompile(`^\/practice$`)
)

// Watcher is a state machine that polls a PageSource and fires listeners
// whenever the classified state changes.
type Watcher struct {
	source   PageSource
	interval time.Duration
	log      *zap.Logger

	mu        sync.Mutex
	current   State
	listeners map[State][]func()

	transitions *prometheus.CounterVec
	wg          sync.WaitGroup
}

// NewWatcher creates a watcher over source. A non-positive interval uses
// DefaultPollInterval; metrics are registered when promRegistry is non-nil.
func NewWatcher(source PageSource, interval time.Duration, promRegistry prometheus.Registerer, log *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	w := &Watcher{
		source:    source,
		interval:  interval,
		log:       logger.OrNop(log).Named("Watcher"),
		listeners: make(map[State][]func()),
	}
	if promRegistry != nil {
		w.transitions = promauto.With(promRegistry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "willsave_watcher_transitions_total",
				Help: "page state transitions detected by the watcher, by new state",
			},
			[]string{"state"},
		)
	}
	return w
}

// On registers fn for entries into state.
func (w *Watcher) On(state State, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners[state] = append(w.listeners[state], fn)
}

// State returns the last classified state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Begin starts polling until ctx is done.
func (w *Watcher) Begin(ctx context.Context) {
	w.log.Info("watcher will now observe page for events", zap.Duration("interval", w.interval))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.tick()
			}
		}
	}()
}

// Wait blocks until the poll goroutine started by Begin has returned.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) tick() {
	w.mu.Lock()
	detected := classify(w.source.Current(), w.current)
	if detected == w.current {
		w.mu.Unlock()
		return
	}
	w.current = detected
	fns := append([]func(){}, w.listeners[detected]...)
	w.mu.Unlock()

	w.log.Info("watcher will trigger event", zap.Stringer("state", detected))
	if w.transitions != nil {
		w.transitions.WithLabelValues(detected.String()).Inc()
	}
	for _, fn := range fns {
		fn()
	}
}

// classify maps a page to a state, keeping previous when nothing matches.
func classify(page Page, previous State) State {
	if page == nil {
		return previous
	}

	path := page.Path()
	switch {
	case path == "/":
		return HomePage
	case skillPath.MatchString(path):
		return SkillOverviewPage
	case lessonPath.MatchString(path) || practicePath.MatchString(path):
		switch {
		case page.Has(UntimedButton):
			return PracticeHome
		case page.Has(NextButtonVisible):
			switch {
			case page.Has(WrongBadge):
				return QuestionAnsweredWrong
			case page.Has(CorrectBadge):
				return QuestionAnsweredCorrect
			default:
				return QuestionPending
			}
		case page.Has(EndCarousel):
			return PracticeSessionEnd
		}
	}
	return previous
}
