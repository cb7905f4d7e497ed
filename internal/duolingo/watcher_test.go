package duolingo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recorder struct {
	mu     sync.Mutex
	events []State
}

func (r *recorder) watch(w *Watcher, states ...State) {
	for _, s := range states {
		w.On(s, func() {
			r.mu.Lock()
			r.events = append(r.events, s)
			r.mu.Unlock()
		})
	}
}

func (r *recorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.events...)
}

var allStates = []State{
	Idle, HomePage, SkillOverviewPage, PracticeHome,
	QuestionPending, QuestionAnsweredCorrect, QuestionAnsweredWrong, PracticeSessionEnd,
}

func TestWatcherEmitsOncePerStateEntry(t *testing.T) {
	feed := NewFeed()
	reg := prometheus.NewRegistry()
	w := NewWatcher(feed, 0, reg, nil)
	rec := &recorder{}
	rec.watch(w, allStates...)

	pages := []*Snapshot{
		NewSnapshot("/"),
		NewSnapshot("/"),
		NewSnapshot("/skill/es/Basics-1"),
		NewSnapshot("/skill/es/Basics-1"),
		NewSnapshot("/skill/es/Basics-1/1", NextButtonVisible, WrongBadge),
		NewSnapshot("/skill/es/Basics-1/1", NextButtonVisible, WrongBadge),
	}
	for _, p := range pages {
		feed.Update(p)
		w.tick()
	}

	assert.Equal(t, []State{HomePage, SkillOverviewPage, QuestionAnsweredWrong}, rec.snapshot())
	assert.Equal(t, QuestionAnsweredWrong, w.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(w.transitions.WithLabelValues("HomePage")))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		page     Page
		previous State
		want     State
	}{
		{"no page", nil, PracticeHome, PracticeHome},
		{"root", NewSnapshot("/"), Idle, HomePage},
		{"skill overview", NewSnapshot("/skill/fr/Food"), HomePage, SkillOverviewPage},
		{"untimed wins", NewSnapshot("/skill/fr/Food/2", UntimedButton, NextButtonVisible, WrongBadge), Idle, PracticeHome},
		{"wrong before correct", NewSnapshot("/practice", NextButtonVisible, WrongBadge, CorrectBadge), Idle, QuestionAnsweredWrong},
		{"correct", NewSnapshot("/practice", NextButtonVisible, CorrectBadge), Idle, QuestionAnsweredCorrect},
		{"pending", NewSnapshot("/practice", NextButtonVisible), Idle, QuestionPending},
		{"badge without next button", NewSnapshot("/practice", WrongBadge, EndCarousel), QuestionPending, PracticeSessionEnd},
		{"practice without markers", NewSnapshot("/practice"), QuestionPending, QuestionPending},
		{"unrelated path", NewSnapshot("/settings/account"), SkillOverviewPage, SkillOverviewPage},
		{"practice prefix only", NewSnapshot("/practice/extra", NextButtonVisible), HomePage, HomePage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.page, tt.previous))
		})
	}
}

func TestWatcherBeginStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	feed := NewFeed()
	w := NewWatcher(feed, 5*time.Millisecond, nil, nil)

	ended := make(chan struct{}, 1)
	w.On(PracticeSessionEnd, func() { ended <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	w.Begin(ctx)
	feed.Update(NewSnapshot("/practice", EndCarousel))

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never reported the end of the session")
	}

	cancel()
	w.Wait()
	require.Equal(t, PracticeSessionEnd, w.State())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "QuestionAnsweredWrong", QuestionAnsweredWrong.String())
	assert.Equal(t, "State(42)", State(42).String())
}
