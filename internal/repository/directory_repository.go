package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// DirectoryRepository reads the course, student, content and progress directories.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

type studentRow struct {
	ID      string         `db:"id"`
	Name    string         `db:"name"`
	Profile types.JSONText `db:"profile"`
}

type contentRow struct {
	ID               string         `db:"id"`
	CourseType       string         `db:"course_type"`
	Title            string         `db:"title"`
	Topic            string         `db:"topic"`
	Difficulty       int            `db:"difficulty"`
	Unit             int            `db:"unit"`
	Lesson           int            `db:"lesson"`
	EstimatedMinutes int            `db:"estimated_minutes"`
	Prerequisites    pq.StringArray `db:"prerequisites"`
	DueAt            sql.NullTime   `db:"due_at"`
}

// Course loads the class size policy of a course type.
func (r *DirectoryRepository) Course(ctx context.Context, courseType string) (*models.Course, error) {
	const query = `SELECT id, course_type, name, min_class_size, max_class_size, ideal_class_size FROM courses WHERE course_type = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, courseType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("course %s not found", courseType))
		}
		return nil, fmt.Errorf("get course %s: %w", courseType, err)
	}
	return &course, nil
}

// CourseTypes lists every registered course type.
func (r *DirectoryRepository) CourseTypes(ctx context.Context) ([]string, error) {
	var courseTypes []string
	if err := r.db.SelectContext(ctx, &courseTypes, `SELECT course_type FROM courses ORDER BY course_type`); err != nil {
		return nil, fmt.Errorf("list course types: %w", err)
	}
	return courseTypes, nil
}

// Students returns the students enrolled in a course type. Scheduling attributes live in
// the profile JSON column.
func (r *DirectoryRepository) Students(ctx context.Context, courseType string) ([]models.Student, error) {
	const query = `SELECT s.id, s.name, s.profile FROM students s
JOIN student_courses sc ON sc.student_id = s.id
WHERE sc.course_type = $1 ORDER BY s.id`
	var rows []studentRow
	if err := r.db.SelectContext(ctx, &rows, query, courseType); err != nil {
		return nil, fmt.Errorf("list students of %s: %w", courseType, err)
	}
	students := make([]models.Student, 0, len(rows))
	for _, row := range rows {
		var student models.Student
		if err := unmarshalJSON(row.Profile, &student); err != nil {
			return nil, fmt.Errorf("decode student %s: %w", row.ID, err)
		}
		student.ID = row.ID
		student.Name = row.Name
		if len(student.CourseTypes) == 0 {
			student.CourseTypes = []string{courseType}
		}
		students = append(students, student)
	}
	return students, nil
}

// Content returns the content catalog of a course type in curriculum order.
func (r *DirectoryRepository) Content(ctx context.Context, courseType string) ([]models.ContentItem, error) {
	const query = `SELECT id, course_type, title, topic, difficulty, unit, lesson, estimated_minutes, prerequisites, due_at
FROM content_items WHERE course_type = $1 ORDER BY unit, lesson, id`
	var rows []contentRow
	if err := r.db.SelectContext(ctx, &rows, query, courseType); err != nil {
		return nil, fmt.Errorf("list content of %s: %w", courseType, err)
	}
	items := make([]models.ContentItem, 0, len(rows))
	for _, row := range rows {
		item := models.ContentItem{
			ID:               row.ID,
			CourseType:       row.CourseType,
			Title:            row.Title,
			Topic:            row.Topic,
			Difficulty:       row.Difficulty,
			Position:         models.CurriculumPosition{Unit: row.Unit, Lesson: row.Lesson},
			EstimatedMinutes: row.EstimatedMinutes,
			Prerequisites:    []string(row.Prerequisites),
		}
		if row.DueAt.Valid {
			due := row.DueAt.Time
			item.DueAt = &due
		}
		items = append(items, item)
	}
	return items, nil
}

// Progress returns the completion history of each requested student.
func (r *DirectoryRepository) Progress(ctx context.Context, studentIDs []string) (map[string][]models.ProgressRecord, error) {
	out := make(map[string][]models.ProgressRecord, len(studentIDs))
	if len(studentIDs) == 0 {
		return out, nil
	}
	const query = `SELECT student_id, content_id, completed_at, passed, attempts FROM progress_records
WHERE student_id = ANY($1) ORDER BY student_id, completed_at`
	var records []models.ProgressRecord
	if err := r.db.SelectContext(ctx, &records, query, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("list progress records: %w", err)
	}
	for _, record := range records {
		out[record.StudentID] = append(out[record.StudentID], record)
	}
	return out, nil
}
