package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// MemoryResourceStore keeps the resource model in process with compare-and-swap commits.
type MemoryResourceStore struct {
	mu    sync.RWMutex
	state *models.ResourceSnapshot
	clock func() time.Time
}

// NewMemoryResourceStore seeds the store. A nil seed starts empty at version 1.
func NewMemoryResourceStore(seed *models.ResourceSnapshot) *MemoryResourceStore {
	state := seed.Clone()
	if state == nil {
		state = &models.ResourceSnapshot{}
	}
	if state.Version == 0 {
		state.Version = 1
	}
	return &MemoryResourceStore{state: state, clock: func() time.Time { return time.Now().UTC() }}
}

// Snapshot returns a deep copy of the current state.
func (s *MemoryResourceStore) Snapshot(ctx context.Context) (*models.ResourceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.state.Clone()
	snapshot.TakenAt = s.clock()
	return snapshot, nil
}

// Commit upserts classes and appends overrides when expectedVersion is current.
func (s *MemoryResourceStore) Commit(ctx context.Context, expectedVersion int64, changes models.ChangeSet) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Version != expectedVersion {
		return 0, appErrors.Clone(appErrors.ErrStaleResourceModel, fmt.Sprintf("resource model is at version %d, commit expected %d", s.state.Version, expectedVersion))
	}

	index := make(map[string]int, len(s.state.Classes))
	for i, class := range s.state.Classes {
		index[class.ID] = i
	}
	for _, class := range changes.Classes {
		if i, ok := index[class.ID]; ok {
			s.state.Classes[i] = class.Clone()
			continue
		}
		index[class.ID] = len(s.state.Classes)
		s.state.Classes = append(s.state.Classes, class.Clone())
	}
	s.state.Overrides = append(s.state.Overrides, changes.Overrides...)
	s.state.Version++
	return s.state.Version, nil
}

// Version reports the current version.
func (s *MemoryResourceStore) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Version
}
