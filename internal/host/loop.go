package host

import (
	"sync"

	"go.uber.org/zap"
)

const loopQueueSize = 1024

// eventLoop runs posted callbacks one at a time on a single goroutine.
type eventLoop struct {
	queue    chan func()
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	log      *zap.Logger
}

func newEventLoop(logger *zap.Logger) *eventLoop {
	l := &eventLoop{
		queue: make(chan func(), loopQueueSize),
		done:  make(chan struct{}),
		log:   logger,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// post enqueues fn without blocking, so callbacks may post to their own
// loop. When the queue is full, fn is handed off to a goroutine that waits
// for room and may run after later posts. fn is dropped once the loop has
// stopped.
func (l *eventLoop) post(fn func()) {
	select {
	case <-l.done:
		return
	case l.queue <- fn:
		return
	default:
	}

	l.log.Warn("event loop queue full", zap.Int("size", loopQueueSize))
	go func() {
		select {
		case <-l.done:
		case l.queue <- fn:
		}
	}()
}

func (l *eventLoop) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case fn := <-l.queue:
			l.invoke(fn)
		}
	}
}

func (l *eventLoop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (l *eventLoop) stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}
