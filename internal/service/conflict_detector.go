package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

// conflictNamespace seeds deterministic conflict identifiers.
var conflictNamespace = uuid.MustParse("6f1c8f0e-5b7a-4c1e-9a55-3d7f0b2e8c41")

// DetectionInput is the read-only view the detector scans.
type DetectionInput struct {
	Classes  []models.ScheduledClass
	Teachers []models.Teacher
	Content  []models.ContentItem
	// Mastered maps student id to the content ids the student has passed.
	Mastered map[string]map[string]bool
	// CheckAvailability reports classes outside their teacher's windows.
	CheckAvailability bool
	// EnforceSequencing reports students seated before they mastered the prerequisites.
	EnforceSequencing bool
	Now               time.Time
}

// ConflictDetector finds resource violations. It holds no state.
type ConflictDetector struct{}

// NewConflictDetector constructs a ConflictDetector.
func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{}
}

type detection struct {
	seen      map[string]struct{}
	conflicts []models.SchedulingConflict
	now       time.Time
}

func (d *detection) add(key string, c models.SchedulingConflict) {
	if _, dup := d.seen[key]; dup {
		return
	}
	d.seen[key] = struct{}{}
	c.ID = uuid.NewSHA1(conflictNamespace, []byte(key)).String()
	c.DetectedAt = d.now
	if c.Resolutions == nil {
		c.Resolutions = []models.Resolution{}
	}
	d.conflicts = append(d.conflicts, c)
}

// Detect scans active classes and returns conflicts ordered by severity, type and id.
// Identical input yields an identical list.
func (d *ConflictDetector) Detect(in DetectionInput) []models.SchedulingConflict {
	run := &detection{seen: make(map[string]struct{}), now: in.Now}

	classes := activeClasses(in.Classes)
	sort.SliceStable(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })

	byDay := make(map[int][]models.ScheduledClass)
	for _, class := range classes {
		byDay[class.Slot.DayOfWeek] = append(byDay[class.Slot.DayOfWeek], class)
	}
	days := make([]int, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Ints(days)

	for _, day := range days {
		dayClasses := byDay[day]
		d.scanResource(run, dayClasses, models.ConflictTeacherUnavailable, func(c models.ScheduledClass) []string {
			return []string{c.TeacherID}
		})
		d.scanResource(run, dayClasses, models.ConflictRoomDoubleBooked, func(c models.ScheduledClass) []string {
			return []string{c.Slot.RoomID}
		})
		d.scanResource(run, dayClasses, models.ConflictStudentDoubleBooked, func(c models.ScheduledClass) []string {
			return c.StudentIDs
		})
	}

	teachers := make(map[string]models.Teacher, len(in.Teachers))
	for _, t := range in.Teachers {
		teachers[t.ID] = t
	}
	content := make(map[string]models.ContentItem, len(in.Content))
	for _, item := range in.Content {
		content[item.ID] = item
	}

	for _, class := range classes {
		d.checkCapacity(run, class)
		if in.CheckAvailability {
			d.checkAvailability(run, class, teachers)
		}
		if in.EnforceSequencing {
			d.checkSequencing(run, class, content, in.Mastered)
		}
	}

	sort.SliceStable(run.conflicts, func(i, j int) bool {
		a, b := run.conflicts[i], run.conflicts[j]
		if a.Severity.Level() != b.Severity.Level() {
			return a.Severity.Level() > b.Severity.Level()
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	return run.conflicts
}

type sweepEntry struct {
	class models.ScheduledClass
}

// scanResource sweeps each resource's intervals in start order, comparing a class only
// with intervals still open when it starts.
func (d *ConflictDetector) scanResource(run *detection, classes []models.ScheduledClass, kind models.ConflictType, keys func(models.ScheduledClass) []string) {
	byKey := make(map[string][]sweepEntry)
	for _, class := range classes {
		for _, key := range keys(class) {
			if key == "" {
				continue
			}
			byKey[key] = append(byKey[key], sweepEntry{class: class})
		}
	}
	resourceKeys := make([]string, 0, len(byKey))
	for key := range byKey {
		resourceKeys = append(resourceKeys, key)
	}
	sort.Strings(resourceKeys)

	for _, key := range resourceKeys {
		entries := byKey[key]
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].class.Slot.Start != entries[j].class.Slot.Start {
				return entries[i].class.Slot.Start < entries[j].class.Slot.Start
			}
			return entries[i].class.ID < entries[j].class.ID
		})
		var open []sweepEntry
		for _, current := range entries {
			kept := open[:0]
			for _, o := range open {
				if o.class.Slot.End > current.class.Slot.Start {
					kept = append(kept, o)
				}
			}
			open = kept
			for _, o := range open {
				d.reportOverlap(run, kind, key, o.class, current.class)
			}
			open = append(open, current)
		}
	}
}

func (d *ConflictDetector) reportOverlap(run *detection, kind models.ConflictType, resource string, a, b models.ScheduledClass) {
	if a.ID > b.ID {
		a, b = b, a
	}
	severity := models.SeverityHigh
	if a.Status == models.ClassStatusOverridden && b.Status == models.ClassStatusOverridden {
		severity = models.SeverityCritical
	}
	window := fmt.Sprintf("day %d %s-%s / %s-%s", a.Slot.DayOfWeek, a.Slot.Start, a.Slot.End, b.Slot.Start, b.Slot.End)

	conflict := models.SchedulingConflict{
		Type:     kind,
		Severity: severity,
		ClassIDs: []string{a.ID, b.ID},
	}
	switch kind {
	case models.ConflictTeacherUnavailable:
		conflict.TeacherIDs = []string{resource}
		conflict.Description = fmt.Sprintf("teacher %s is double-booked by classes %s and %s (%s)", resource, a.ID, b.ID, window)
	case models.ConflictRoomDoubleBooked:
		conflict.RoomIDs = []string{resource}
		conflict.Description = fmt.Sprintf("room %s is double-booked by classes %s and %s (%s)", resource, a.ID, b.ID, window)
	case models.ConflictStudentDoubleBooked:
		conflict.StudentIDs = []string{resource}
		conflict.Description = fmt.Sprintf("student %s attends overlapping classes %s and %s (%s)", resource, a.ID, b.ID, window)
	}
	run.add(strings.Join([]string{string(kind), resource, a.ID, b.ID}, "|"), conflict)
}

func (d *ConflictDetector) checkCapacity(run *detection, class models.ScheduledClass) {
	size := len(class.StudentIDs)
	max := class.Slot.Capacity.Max
	if max <= 0 || size <= max {
		return
	}
	severity := models.SeverityMedium
	if float64(size-max) > 0.2*float64(max) {
		severity = models.SeverityHigh
	}
	run.add(strings.Join([]string{string(models.ConflictCapacityExceeded), class.ID}, "|"), models.SchedulingConflict{
		Type:        models.ConflictCapacityExceeded,
		Severity:    severity,
		ClassIDs:    []string{class.ID},
		RoomIDs:     []string{class.Slot.RoomID},
		StudentIDs:  append([]string(nil), class.StudentIDs...),
		Description: fmt.Sprintf("class %s holds %d students but slot %s allows %d", class.ID, size, class.Slot.ID, max),
	})
}

func (d *ConflictDetector) checkAvailability(run *detection, class models.ScheduledClass, teachers map[string]models.Teacher) {
	teacher, ok := teachers[class.TeacherID]
	if ok && models.WindowsContain(teacher.Availability, class.Slot.DayOfWeek, class.Slot.Start, class.Slot.End) {
		return
	}
	description := fmt.Sprintf("teacher %s is not available on day %d %s-%s for class %s", class.TeacherID, class.Slot.DayOfWeek, class.Slot.Start, class.Slot.End, class.ID)
	if !ok {
		description = fmt.Sprintf("teacher %s of class %s is unknown to the resource model", class.TeacherID, class.ID)
	}
	run.add(strings.Join([]string{string(models.ConflictTeacherUnavailable), "availability", class.ID}, "|"), models.SchedulingConflict{
		Type:        models.ConflictTeacherUnavailable,
		Severity:    models.SeverityMedium,
		ClassIDs:    []string{class.ID},
		TeacherIDs:  []string{class.TeacherID},
		Description: description,
	})
}

func (d *ConflictDetector) checkSequencing(run *detection, class models.ScheduledClass, content map[string]models.ContentItem, mastered map[string]map[string]bool) {
	item, ok := content[class.ContentID]
	if !ok || len(item.Prerequisites) == 0 || len(class.StudentIDs) == 0 {
		return
	}
	var lacking []string
	for _, studentID := range class.StudentIDs {
		passed := mastered[studentID]
		for _, prerequisite := range item.Prerequisites {
			if !passed[prerequisite] {
				lacking = append(lacking, studentID)
				break
			}
		}
	}
	if len(lacking) == 0 {
		return
	}
	sort.Strings(lacking)
	severity := models.SeverityLow
	if 2*len(lacking) > len(class.StudentIDs) {
		severity = models.SeverityMedium
	}
	run.add(strings.Join([]string{string(models.ConflictContentSequencing), class.ID}, "|"), models.SchedulingConflict{
		Type:        models.ConflictContentSequencing,
		Severity:    severity,
		ClassIDs:    []string{class.ID},
		StudentIDs:  lacking,
		Description: fmt.Sprintf("%d student(s) in class %s have not completed the prerequisites of %s", len(lacking), class.ID, item.ID),
	})
}
