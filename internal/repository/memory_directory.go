package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// MemoryDirectory serves courses, students, content and progress from memory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	courses  map[string]models.Course
	students []models.Student
	content  map[string][]models.ContentItem
	progress map[string][]models.ProgressRecord
}

// NewMemoryDirectory constructs an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		courses:  make(map[string]models.Course),
		content:  make(map[string][]models.ContentItem),
		progress: make(map[string][]models.ProgressRecord),
	}
}

// PutCourse registers or replaces a course.
func (d *MemoryDirectory) PutCourse(course models.Course) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.courses[course.Type] = course
}

// PutStudents appends students.
func (d *MemoryDirectory) PutStudents(students ...models.Student) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.students = append(d.students, students...)
}

// PutContent appends content items under their course type.
func (d *MemoryDirectory) PutContent(items ...models.ContentItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, item := range items {
		d.content[item.CourseType] = append(d.content[item.CourseType], item)
	}
}

// PutProgress appends progress records under their student.
func (d *MemoryDirectory) PutProgress(records ...models.ProgressRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, record := range records {
		d.progress[record.StudentID] = append(d.progress[record.StudentID], record)
	}
}

// Course returns the course registered for courseType.
func (d *MemoryDirectory) Course(_ context.Context, courseType string) (*models.Course, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	course, ok := d.courses[courseType]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("course %s not found", courseType))
	}
	return &course, nil
}

// CourseTypes lists the registered course types in order.
func (d *MemoryDirectory) CourseTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	types := make([]string, 0, len(d.courses))
	for courseType := range d.courses {
		types = append(types, courseType)
	}
	sort.Strings(types)
	return types
}

// Students returns students enrolled in courseType.
func (d *MemoryDirectory) Students(_ context.Context, courseType string) ([]models.Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	enrolled := make([]models.Student, 0)
	for _, student := range d.students {
		for _, t := range student.CourseTypes {
			if t == courseType {
				enrolled = append(enrolled, student)
				break
			}
		}
	}
	return enrolled, nil
}

// Content returns the catalog of courseType.
func (d *MemoryDirectory) Content(_ context.Context, courseType string) ([]models.ContentItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]models.ContentItem(nil), d.content[courseType]...), nil
}

// Progress returns the history of each requested student. Students without history are omitted.
func (d *MemoryDirectory) Progress(_ context.Context, studentIDs []string) (map[string][]models.ProgressRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string][]models.ProgressRecord, len(studentIDs))
	for _, id := range studentIDs {
		if records, ok := d.progress[id]; ok {
			out[id] = append([]models.ProgressRecord(nil), records...)
		}
	}
	return out, nil
}
