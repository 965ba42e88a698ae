package service

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

const progressBuffer = 16

type runEntry struct {
	run         models.SchedulingRun
	cancel      context.CancelFunc
	subscribers map[int]chan models.RunProgress
}

// runRegistry keeps runs in memory until ttl after they finish.
type runRegistry struct {
	ttl     time.Duration
	clock   func() time.Time
	mu      sync.Mutex
	items   map[string]*runEntry
	nextSub int
}

func newRunRegistry(ttl time.Duration, clock func() time.Time) *runRegistry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &runRegistry{ttl: ttl, clock: clock, items: make(map[string]*runEntry)}
}

func (r *runRegistry) Save(run models.SchedulingRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()
	r.items[run.ID] = &runEntry{run: run, subscribers: make(map[int]chan models.RunProgress)}
}

func (r *runRegistry) Get(id string) (models.SchedulingRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.items[id]
	if !ok {
		return models.SchedulingRun{}, false
	}
	if r.expiredLocked(entry) {
		r.dropLocked(id, entry)
		return models.SchedulingRun{}, false
	}
	return entry.run, true
}

// Update mutates a run and notifies subscribers. Terminal runs close their subscriptions.
func (r *runRegistry) Update(id string, mutate func(run *models.SchedulingRun)) (models.SchedulingRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.items[id]
	if !ok {
		return models.SchedulingRun{}, false
	}
	wasTerminal := entry.run.Status.Terminal()
	mutate(&entry.run)
	if entry.run.Status.Terminal() && !wasTerminal {
		entry.run.ExpiresAt = r.clock().Add(r.ttl)
		entry.cancel = nil
	}

	event := models.RunProgress{
		RunID:    entry.run.ID,
		Status:   entry.run.Status,
		Progress: entry.run.Progress,
		Stage:    entry.run.Stage,
		At:       r.clock(),
	}
	for _, ch := range entry.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	if entry.run.Status.Terminal() {
		for key, ch := range entry.subscribers {
			close(ch)
			delete(entry.subscribers, key)
		}
	}
	return entry.run, true
}

func (r *runRegistry) SetCancel(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.items[id]; ok {
		entry.cancel = cancel
	}
}

// CancelFunc returns the cancel function of a running run.
func (r *runRegistry) CancelFunc(id string) context.CancelFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.items[id]; ok {
		return entry.cancel
	}
	return nil
}

// Subscribe streams progress for a run. The channel closes once the run is terminal.
func (r *runRegistry) Subscribe(id string) (<-chan models.RunProgress, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.items[id]
	if !ok {
		return nil, func() {}, false
	}
	ch := make(chan models.RunProgress, progressBuffer)
	ch <- models.RunProgress{RunID: id, Status: entry.run.Status, Progress: entry.run.Progress, Stage: entry.run.Stage, At: r.clock()}
	if entry.run.Status.Terminal() {
		close(ch)
		return ch, func() {}, true
	}
	key := r.nextSub
	r.nextSub++
	entry.subscribers[key] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := entry.subscribers[key]; ok {
			close(sub)
			delete(entry.subscribers, key)
		}
	}, true
}

func (r *runRegistry) expiredLocked(entry *runEntry) bool {
	return entry.run.Status.Terminal() && !entry.run.ExpiresAt.IsZero() && r.clock().After(entry.run.ExpiresAt)
}

func (r *runRegistry) dropLocked(id string, entry *runEntry) {
	for key, ch := range entry.subscribers {
		close(ch)
		delete(entry.subscribers, key)
	}
	delete(r.items, id)
}

func (r *runRegistry) purgeLocked() {
	for id, entry := range r.items {
		if r.expiredLocked(entry) {
			r.dropLocked(id, entry)
		}
	}
}
