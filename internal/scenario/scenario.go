// Package scenario loads self-contained scheduling fixtures from YAML.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/repository"
)

// Scenario is the YAML document: directories, the resource model and the runs to execute.
type Scenario struct {
	Name      string                  `yaml:"name"`
	Now       time.Time               `yaml:"now"`
	Courses   []models.Course         `yaml:"courses"`
	Teachers  []models.Teacher        `yaml:"teachers"`
	Rooms     []models.Room           `yaml:"rooms"`
	Slots     []models.TimeSlot       `yaml:"slots"`
	Students  []models.Student        `yaml:"students"`
	Content   []models.ContentItem    `yaml:"content"`
	Progress  []models.ProgressRecord `yaml:"progress"`
	Classes   []ClassSpec             `yaml:"classes"`
	Overrides []OverrideSpec          `yaml:"overrides"`
	Runs      []RunSpec               `yaml:"runs"`
}

// ClassSpec is a class that already exists before any run.
type ClassSpec struct {
	ID         string             `yaml:"id"`
	CourseType string             `yaml:"course_type"`
	ContentID  string             `yaml:"content_id"`
	TeacherID  string             `yaml:"teacher_id"`
	SlotID     string             `yaml:"slot_id"`
	StudentIDs []string           `yaml:"student_ids"`
	Status     models.ClassStatus `yaml:"status"`
}

// OverrideSpec is an override already recorded against a class.
type OverrideSpec struct {
	ClassID string                `yaml:"class_id"`
	Type    models.OverrideType   `yaml:"type"`
	Reason  string                `yaml:"reason"`
	Params  models.OverrideParams `yaml:"params"`
}

// RunSpec describes one scheduling request. All constraints default to on.
type RunSpec struct {
	CourseType      string                        `yaml:"course_type"`
	StudentIDs      []string                      `yaml:"student_ids"`
	Goals           []models.GoalWeight           `yaml:"goals"`
	Constraints     *models.SchedulingConstraints `yaml:"constraints"`
	IterationBudget int                           `yaml:"iteration_budget"`
}

// Request converts the run entry into a SchedulingRequest.
func (r RunSpec) Request() models.SchedulingRequest {
	constraints := models.DefaultConstraints()
	if r.Constraints != nil {
		constraints = *r.Constraints
	}
	return models.SchedulingRequest{
		CourseType:      r.CourseType,
		StudentIDs:      append([]string(nil), r.StudentIDs...),
		Goals:           append([]models.GoalWeight(nil), r.Goals...),
		Constraints:     constraints,
		IterationBudget: r.IterationBudget,
		RequestedBy:     "scenario",
	}
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario and rejects unknown fields.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}
	return &s, nil
}

// Validate checks referential integrity and returns every problem found.
func (s *Scenario) Validate() error {
	var problems []error
	report := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	courses := make(map[string]bool)
	for _, c := range s.Courses {
		if c.Type == "" {
			report("course %q has no course_type", c.ID)
			continue
		}
		if courses[c.Type] {
			report("course type %s is declared twice", c.Type)
		}
		courses[c.Type] = true
		if c.MaxClassSize < 1 || c.MinClassSize > c.MaxClassSize {
			report("course %s has invalid class size bounds %d-%d", c.Type, c.MinClassSize, c.MaxClassSize)
		}
	}

	teachers := uniqueIDs(len(s.Teachers), func(i int) string { return s.Teachers[i].ID }, "teacher", report)
	rooms := uniqueIDs(len(s.Rooms), func(i int) string { return s.Rooms[i].ID }, "room", report)
	slots := uniqueIDs(len(s.Slots), func(i int) string { return s.Slots[i].ID }, "slot", report)
	students := uniqueIDs(len(s.Students), func(i int) string { return s.Students[i].ID }, "student", report)
	content := uniqueIDs(len(s.Content), func(i int) string { return s.Content[i].ID }, "content item", report)
	classes := uniqueIDs(len(s.Classes), func(i int) string { return s.Classes[i].ID }, "class", report)

	for _, t := range s.Teachers {
		checkWindows(t.Availability, "teacher "+t.ID, report)
	}
	for _, r := range s.Rooms {
		checkWindows(r.Windows, "room "+r.ID, report)
	}
	for _, slot := range s.Slots {
		if !rooms[slot.RoomID] {
			report("slot %s references unknown room %s", slot.ID, slot.RoomID)
		}
		if slot.DayOfWeek < 1 || slot.DayOfWeek > 7 {
			report("slot %s has day_of_week %d outside 1-7", slot.ID, slot.DayOfWeek)
		}
		if slot.End <= slot.Start {
			report("slot %s ends before it starts", slot.ID)
		}
		if slot.Capacity.Max < 1 {
			report("slot %s has no capacity", slot.ID)
		}
	}
	for _, st := range s.Students {
		for _, t := range st.CourseTypes {
			if !courses[t] {
				report("student %s is enrolled in unknown course type %s", st.ID, t)
			}
		}
		checkWindows(st.PreferredWindows, "student "+st.ID, report)
	}
	for _, item := range s.Content {
		if !courses[item.CourseType] {
			report("content %s belongs to unknown course type %s", item.ID, item.CourseType)
		}
		for _, pre := range item.Prerequisites {
			if !content[pre] {
				report("content %s requires unknown content %s", item.ID, pre)
			}
		}
	}
	for _, p := range s.Progress {
		if !students[p.StudentID] {
			report("progress references unknown student %s", p.StudentID)
		}
		if !content[p.ContentID] {
			report("progress references unknown content %s", p.ContentID)
		}
	}
	for _, c := range s.Classes {
		if !teachers[c.TeacherID] {
			report("class %s references unknown teacher %s", c.ID, c.TeacherID)
		}
		if !slots[c.SlotID] {
			report("class %s references unknown slot %s", c.ID, c.SlotID)
		}
		if !courses[c.CourseType] {
			report("class %s has unknown course type %s", c.ID, c.CourseType)
		}
		for _, id := range c.StudentIDs {
			if !students[id] {
				report("class %s references unknown student %s", c.ID, id)
			}
		}
	}
	for _, o := range s.Overrides {
		if !classes[o.ClassID] {
			report("override references unknown class %s", o.ClassID)
		}
		if o.Type == "" {
			report("override on class %s has no type", o.ClassID)
		}
	}
	for i, r := range s.Runs {
		if !courses[r.CourseType] {
			report("runs[%d] has unknown course type %s", i, r.CourseType)
		}
		for _, id := range r.StudentIDs {
			if !students[id] {
				report("runs[%d] references unknown student %s", i, id)
			}
		}
	}
	return errors.Join(problems...)
}

func uniqueIDs(n int, id func(int) string, kind string, report func(string, ...interface{})) map[string]bool {
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		value := id(i)
		if value == "" {
			report("%s #%d has no id", kind, i+1)
			continue
		}
		if seen[value] {
			report("%s %s is declared twice", kind, value)
		}
		seen[value] = true
	}
	return seen
}

func checkWindows(windows []models.TimeWindow, owner string, report func(string, ...interface{})) {
	for _, w := range windows {
		if w.DayOfWeek < 1 || w.DayOfWeek > 7 {
			report("%s has a window on day %d outside 1-7", owner, w.DayOfWeek)
		}
		if w.End <= w.Start {
			report("%s has a window ending before it starts", owner)
		}
	}
}

// Build materialises the directory and resource store. Call Validate first.
func (s *Scenario) Build() (*repository.MemoryDirectory, *repository.MemoryResourceStore, error) {
	directory := repository.NewMemoryDirectory()
	for _, c := range s.Courses {
		directory.PutCourse(c)
	}
	directory.PutStudents(s.Students...)
	directory.PutContent(s.Content...)
	directory.PutProgress(s.Progress...)

	now := s.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	slots := make(map[string]models.TimeSlot, len(s.Slots))
	for _, slot := range s.Slots {
		slots[slot.ID] = slot
	}
	difficulty := make(map[string]int, len(s.Content))
	for _, item := range s.Content {
		difficulty[item.ID] = item.Difficulty
	}

	snapshot := &models.ResourceSnapshot{
		Version:  1,
		Teachers: append([]models.Teacher(nil), s.Teachers...),
		Rooms:    append([]models.Room(nil), s.Rooms...),
		Slots:    append([]models.TimeSlot(nil), s.Slots...),
	}
	for _, entry := range s.Classes {
		slot, ok := slots[entry.SlotID]
		if !ok {
			return nil, nil, fmt.Errorf("class %s references unknown slot %s", entry.ID, entry.SlotID)
		}
		studentIDs := append([]string(nil), entry.StudentIDs...)
		sort.Strings(studentIDs)
		status := entry.Status
		if status == "" {
			status = models.ClassStatusConfirmed
		}
		classType := models.ClassTypeGroup
		if len(studentIDs) == 1 {
			classType = models.ClassTypeIndividual
		}
		slot.Capacity = models.Capacity{Min: 1, Max: slot.Capacity.Free(), CurrentEnrollment: len(studentIDs)}
		snapshot.Classes = append(snapshot.Classes, models.ScheduledClass{
			ID:         entry.ID,
			CourseType: entry.CourseType,
			ContentID:  entry.ContentID,
			Difficulty: difficulty[entry.ContentID],
			TeacherID:  entry.TeacherID,
			StudentIDs: studentIDs,
			Slot:       slot,
			ClassType:  classType,
			Rationale:  "loaded from scenario",
			Status:     status,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	for i, entry := range s.Overrides {
		for j := range snapshot.Classes {
			if snapshot.Classes[j].ID != entry.ClassID {
				continue
			}
			snapshot.Classes[j].Status = models.ClassStatusOverridden
			if entry.Type == models.OverridePreventSchedule {
				snapshot.Classes[j].Suspended = true
				if entry.Params.TeacherID == "" {
					entry.Params.TeacherID = snapshot.Classes[j].TeacherID
				}
				if entry.Params.SlotID == "" {
					entry.Params.SlotID = snapshot.Classes[j].Slot.ID
				}
			}
		}
		snapshot.Overrides = append(snapshot.Overrides, models.SchedulingOverride{
			ID:        fmt.Sprintf("scenario-override-%d", i+1),
			ClassID:   entry.ClassID,
			Type:      entry.Type,
			Reason:    entry.Reason,
			Priority:  models.UrgencyMedium,
			Params:    entry.Params,
			AppliedBy: "scenario",
			AppliedAt: now,
		})
	}
	return directory, repository.NewMemoryResourceStore(snapshot), nil
}
