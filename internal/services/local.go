package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/internal/models"
)

const eventBuffer = 64

// LocalLocker is the in-process keyed mutex used when no redis is configured
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker creates an empty keyed mutex
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

// Lock blocks until key is held or ctx is done
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}

// LocalBus fans events out to subscribers of the same process
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[chan models.Event]struct{}
	logger *zap.SugaredLogger
}

// NewLocalBus creates an in-process event bus
func NewLocalBus(logger *zap.SugaredLogger) *LocalBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LocalBus{
		subs:   make(map[string]map[chan models.Event]struct{}),
		logger: logger,
	}
}

// Publish delivers event to every subscriber of its project. Slow subscribers miss events.
func (b *LocalBus) Publish(_ context.Context, event models.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[event.Project] {
		select {
		case ch <- event:
		default:
			b.logger.Warnw("subscriber buffer full, dropping event",
				"project", event.Project,
				"event", event.Type,
			)
		}
	}
	return nil
}

// Subscribe streams the events of project until ctx is done
func (b *LocalBus) Subscribe(ctx context.Context, project string) (<-chan models.Event, error) {
	ch := make(chan models.Event, eventBuffer)

	b.mu.Lock()
	if b.subs[project] == nil {
		b.subs[project] = make(map[chan models.Event]struct{})
	}
	b.subs[project][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[project], ch)
		if len(b.subs[project]) == 0 {
			delete(b.subs, project)
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
