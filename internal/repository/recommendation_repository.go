package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

// RecommendationRepository persists scheduling recommendations.
type RecommendationRepository struct {
	db *sqlx.DB
}

// NewRecommendationRepository constructs repository.
func NewRecommendationRepository(db *sqlx.DB) *RecommendationRepository {
	return &RecommendationRepository{db: db}
}

type recommendationRow struct {
	ID         string         `db:"id"`
	RunID      string         `db:"run_id"`
	Type       string         `db:"type"`
	Status     string         `db:"status"`
	Priority   string         `db:"priority"`
	Confidence float64        `db:"confidence_score"`
	Payload    types.JSONText `db:"payload"`
	CreatedAt  time.Time      `db:"created_at"`
	ResolvedAt *time.Time     `db:"resolved_at"`
}

func toRecommendationRow(rec models.SchedulingRecommendation) (recommendationRow, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return recommendationRow{}, fmt.Errorf("encode recommendation %s: %w", rec.ID, err)
	}
	return recommendationRow{
		ID:         rec.ID,
		RunID:      rec.RunID,
		Type:       string(rec.Type),
		Status:     string(rec.Status),
		Priority:   string(rec.Priority),
		Confidence: rec.ConfidenceScore,
		Payload:    types.JSONText(payload),
		CreatedAt:  rec.CreatedAt,
		ResolvedAt: rec.ResolvedAt,
	}, nil
}

func (row recommendationRow) model() (models.SchedulingRecommendation, error) {
	var rec models.SchedulingRecommendation
	if err := unmarshalJSON(row.Payload, &rec); err != nil {
		return rec, fmt.Errorf("decode recommendation %s: %w", row.ID, err)
	}
	return rec, nil
}

// SaveBatch upserts recommendations in one transaction.
func (r *RecommendationRepository) SaveBatch(ctx context.Context, recs []models.SchedulingRecommendation) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recommendation batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `
INSERT INTO scheduling_recommendations (id, run_id, type, status, priority, confidence_score, payload, created_at, resolved_at)
VALUES (:id, :run_id, :type, :status, :priority, :confidence_score, :payload, :created_at, :resolved_at)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, priority = EXCLUDED.priority,
confidence_score = EXCLUDED.confidence_score, payload = EXCLUDED.payload, resolved_at = EXCLUDED.resolved_at`
	for _, rec := range recs {
		row, err := toRecommendationRow(rec)
		if err != nil {
			return err
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, query, row); err != nil {
			return fmt.Errorf("save recommendation %s: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recommendation batch: %w", err)
	}
	return nil
}

// List returns recommendations matching filter ordered by creation time.
func (r *RecommendationRepository) List(ctx context.Context, filter models.RecommendationFilter) ([]models.SchedulingRecommendation, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, string(*filter.Status))
	}
	if filter.Type != nil {
		where = append(where, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, string(*filter.Type))
	}
	if filter.RunID != "" {
		where = append(where, fmt.Sprintf("run_id = $%d", len(args)+1))
		args = append(args, filter.RunID)
	}
	query := fmt.Sprintf(`SELECT id, run_id, type, status, priority, confidence_score, payload, created_at, resolved_at
FROM scheduling_recommendations WHERE %s ORDER BY created_at ASC, id ASC`, strings.Join(where, " AND "))

	var rows []recommendationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	recs := make([]models.SchedulingRecommendation, 0, len(rows))
	for _, row := range rows {
		rec, err := row.model()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// FindByID loads a recommendation. sql.ErrNoRows is returned when it does not exist.
func (r *RecommendationRepository) FindByID(ctx context.Context, id string) (*models.SchedulingRecommendation, error) {
	const query = `SELECT id, run_id, type, status, priority, confidence_score, payload, created_at, resolved_at
FROM scheduling_recommendations WHERE id = $1`
	var row recommendationRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	rec, err := row.model()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update stores the resolved state of a recommendation.
func (r *RecommendationRepository) Update(ctx context.Context, rec *models.SchedulingRecommendation) error {
	row, err := toRecommendationRow(*rec)
	if err != nil {
		return err
	}
	const query = `UPDATE scheduling_recommendations SET status = :status, payload = :payload, resolved_at = :resolved_at WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.db, query, row)
	if err != nil {
		return fmt.Errorf("update recommendation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("recommendation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
