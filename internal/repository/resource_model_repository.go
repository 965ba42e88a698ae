package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// ResourceModelRepository persists the resource model in Postgres. A single version row
// guards every commit.
type ResourceModelRepository struct {
	db      *sqlx.DB
	observe func(query string, duration time.Duration)
}

// NewResourceModelRepository constructs repository.
func NewResourceModelRepository(db *sqlx.DB) *ResourceModelRepository {
	return &ResourceModelRepository{db: db}
}

// WithQueryObserver reports the duration of every snapshot and commit to fn.
func (r *ResourceModelRepository) WithQueryObserver(fn func(query string, duration time.Duration)) *ResourceModelRepository {
	r.observe = fn
	return r
}

func (r *ResourceModelRepository) timed(query string, start time.Time) {
	if r.observe != nil {
		r.observe(query, time.Since(start))
	}
}

type teacherRow struct {
	ID                string         `db:"id"`
	Name              string         `db:"name"`
	Certifications    types.JSONText `db:"certifications"`
	Availability      types.JSONText `db:"availability"`
	AssignedHours     float64        `db:"assigned_hours"`
	TargetWeeklyHours float64        `db:"target_weekly_hours"`
}

type roomRow struct {
	ID      string         `db:"id"`
	Name    string         `db:"name"`
	Windows types.JSONText `db:"windows"`
}

type slotRow struct {
	ID                string `db:"id"`
	DayOfWeek         int    `db:"day_of_week"`
	StartMinute       int    `db:"start_minute"`
	EndMinute         int    `db:"end_minute"`
	RoomID            string `db:"room_id"`
	CapacityMin       int    `db:"capacity_min"`
	CapacityMax       int    `db:"capacity_max"`
	CurrentEnrollment int    `db:"current_enrollment"`
}

type classRow struct {
	ID         string         `db:"id"`
	CourseType string         `db:"course_type"`
	Status     string         `db:"status"`
	TeacherID  string         `db:"teacher_id"`
	SlotID     string         `db:"slot_id"`
	RunID      string         `db:"run_id"`
	Payload    types.JSONText `db:"payload"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

type overrideRow struct {
	ID        string         `db:"id"`
	ClassID   string         `db:"class_id"`
	Type      string         `db:"type"`
	Payload   types.JSONText `db:"payload"`
	AppliedAt time.Time      `db:"applied_at"`
}

const (
	resourceVersionQuery = `SELECT version FROM resource_model_version WHERE id = 1`
	teachersQuery        = `SELECT id, name, certifications, availability, assigned_hours, target_weekly_hours FROM scheduler_teachers ORDER BY id`
	roomsQuery           = `SELECT id, name, windows FROM scheduler_rooms ORDER BY id`
	slotsQuery           = `SELECT id, day_of_week, start_minute, end_minute, room_id, capacity_min, capacity_max, current_enrollment FROM scheduler_time_slots ORDER BY day_of_week, start_minute, id`
	classesQuery         = `SELECT id, course_type, status, teacher_id, slot_id, run_id, payload, updated_at FROM scheduled_classes ORDER BY id`
	overridesQuery       = `SELECT id, class_id, type, payload, applied_at FROM scheduling_overrides ORDER BY seq`
	bumpVersionQuery     = `UPDATE resource_model_version SET version = version + 1, updated_at = $2 WHERE id = 1 AND version = $1 RETURNING version`
)

// Snapshot reads the whole model inside one repeatable-read transaction.
func (r *ResourceModelRepository) Snapshot(ctx context.Context) (*models.ResourceSnapshot, error) {
	defer r.timed("resource_model_snapshot", time.Now())

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SET TRANSACTION ISOLATION LEVEL REPEATABLE READ READ ONLY`); err != nil {
		return nil, fmt.Errorf("set snapshot isolation: %w", err)
	}

	snapshot := &models.ResourceSnapshot{TakenAt: time.Now().UTC()}
	if err := tx.GetContext(ctx, &snapshot.Version, resourceVersionQuery); err != nil {
		return nil, fmt.Errorf("load resource model version: %w", err)
	}

	var teachers []teacherRow
	if err := tx.SelectContext(ctx, &teachers, teachersQuery); err != nil {
		return nil, fmt.Errorf("load teachers: %w", err)
	}
	for _, row := range teachers {
		teacher := models.Teacher{ID: row.ID, Name: row.Name, AssignedHours: row.AssignedHours, TargetWeeklyHours: row.TargetWeeklyHours}
		if err := unmarshalJSON(row.Certifications, &teacher.Certifications); err != nil {
			return nil, fmt.Errorf("decode certifications of teacher %s: %w", row.ID, err)
		}
		if err := unmarshalJSON(row.Availability, &teacher.Availability); err != nil {
			return nil, fmt.Errorf("decode availability of teacher %s: %w", row.ID, err)
		}
		snapshot.Teachers = append(snapshot.Teachers, teacher)
	}

	var rooms []roomRow
	if err := tx.SelectContext(ctx, &rooms, roomsQuery); err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	for _, row := range rooms {
		room := models.Room{ID: row.ID, Name: row.Name}
		if err := unmarshalJSON(row.Windows, &room.Windows); err != nil {
			return nil, fmt.Errorf("decode windows of room %s: %w", row.ID, err)
		}
		snapshot.Rooms = append(snapshot.Rooms, room)
	}

	var slots []slotRow
	if err := tx.SelectContext(ctx, &slots, slotsQuery); err != nil {
		return nil, fmt.Errorf("load time slots: %w", err)
	}
	for _, row := range slots {
		snapshot.Slots = append(snapshot.Slots, models.TimeSlot{
			ID:        row.ID,
			DayOfWeek: row.DayOfWeek,
			Start:     models.ClockTime(row.StartMinute),
			End:       models.ClockTime(row.EndMinute),
			RoomID:    row.RoomID,
			Capacity:  models.Capacity{Min: row.CapacityMin, Max: row.CapacityMax, CurrentEnrollment: row.CurrentEnrollment},
		})
	}

	var classes []classRow
	if err := tx.SelectContext(ctx, &classes, classesQuery); err != nil {
		return nil, fmt.Errorf("load scheduled classes: %w", err)
	}
	for _, row := range classes {
		var class models.ScheduledClass
		if err := unmarshalJSON(row.Payload, &class); err != nil {
			return nil, fmt.Errorf("decode class %s: %w", row.ID, err)
		}
		snapshot.Classes = append(snapshot.Classes, class)
	}

	var overrides []overrideRow
	if err := tx.SelectContext(ctx, &overrides, overridesQuery); err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	for _, row := range overrides {
		var override models.SchedulingOverride
		if err := unmarshalJSON(row.Payload, &override); err != nil {
			return nil, fmt.Errorf("decode override %s: %w", row.ID, err)
		}
		snapshot.Overrides = append(snapshot.Overrides, override)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("finish snapshot: %w", err)
	}
	return snapshot, nil
}

// Commit bumps the version row and writes the change set in one transaction.
func (r *ResourceModelRepository) Commit(ctx context.Context, expectedVersion int64, changes models.ChangeSet) (int64, error) {
	defer r.timed("resource_model_commit", time.Now())

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var next int64
	if err := tx.GetContext(ctx, &next, bumpVersionQuery, expectedVersion, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.Clone(appErrors.ErrStaleResourceModel, fmt.Sprintf("resource model moved past version %d", expectedVersion))
		}
		return 0, fmt.Errorf("bump resource model version: %w", err)
	}

	const upsertClass = `
INSERT INTO scheduled_classes (id, course_type, status, teacher_id, slot_id, run_id, payload, updated_at)
VALUES (:id, :course_type, :status, :teacher_id, :slot_id, :run_id, :payload, :updated_at)
ON CONFLICT (id) DO UPDATE SET course_type = EXCLUDED.course_type, status = EXCLUDED.status,
teacher_id = EXCLUDED.teacher_id, slot_id = EXCLUDED.slot_id, run_id = EXCLUDED.run_id,
payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	for _, class := range changes.Classes {
		payload, err := json.Marshal(class)
		if err != nil {
			return 0, fmt.Errorf("encode class %s: %w", class.ID, err)
		}
		row := classRow{
			ID:         class.ID,
			CourseType: class.CourseType,
			Status:     string(class.Status),
			TeacherID:  class.TeacherID,
			SlotID:     class.Slot.ID,
			RunID:      class.RunID,
			Payload:    types.JSONText(payload),
			UpdatedAt:  class.UpdatedAt,
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, upsertClass, row); err != nil {
			return 0, fmt.Errorf("upsert class %s: %w", class.ID, err)
		}
	}

	const insertOverride = `
INSERT INTO scheduling_overrides (id, class_id, type, payload, applied_at)
VALUES (:id, :class_id, :type, :payload, :applied_at)`
	for _, override := range changes.Overrides {
		payload, err := json.Marshal(override)
		if err != nil {
			return 0, fmt.Errorf("encode override %s: %w", override.ID, err)
		}
		row := overrideRow{
			ID:        override.ID,
			ClassID:   override.ClassID,
			Type:      string(override.Type),
			Payload:   types.JSONText(payload),
			AppliedAt: override.AppliedAt,
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, insertOverride, row); err != nil {
			return 0, fmt.Errorf("insert override %s: %w", override.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit resource model: %w", err)
	}
	return next, nil
}

func unmarshalJSON(raw types.JSONText, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
