package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

// MemoryRecommendationRepository stores recommendations in memory.
type MemoryRecommendationRepository struct {
	mu    sync.RWMutex
	items map[string]models.SchedulingRecommendation
}

// NewMemoryRecommendationRepository constructs the repository.
func NewMemoryRecommendationRepository() *MemoryRecommendationRepository {
	return &MemoryRecommendationRepository{items: make(map[string]models.SchedulingRecommendation)}
}

// SaveBatch inserts or replaces recommendations.
func (r *MemoryRecommendationRepository) SaveBatch(_ context.Context, recs []models.SchedulingRecommendation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		r.items[rec.ID] = rec
	}
	return nil
}

// List returns recommendations matching filter ordered by creation time then id.
func (r *MemoryRecommendationRepository) List(_ context.Context, filter models.RecommendationFilter) ([]models.SchedulingRecommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]models.SchedulingRecommendation, 0, len(r.items))
	for _, rec := range r.items {
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		if filter.Type != nil && rec.Type != *filter.Type {
			continue
		}
		if filter.RunID != "" && rec.RunID != filter.RunID {
			continue
		}
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// FindByID loads one recommendation.
func (r *MemoryRecommendationRepository) FindByID(_ context.Context, id string) (*models.SchedulingRecommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rec, nil
}

// Update replaces a stored recommendation.
func (r *MemoryRecommendationRepository) Update(_ context.Context, rec *models.SchedulingRecommendation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[rec.ID]; !ok {
		return sql.ErrNoRows
	}
	r.items[rec.ID] = *rec
	return nil
}
