package service

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// ResourceStore is the persistence boundary of the shared resource model.
// Commit must apply the change set atomically and only when expectedVersion is current,
// returning ErrStaleResourceModel otherwise.
type ResourceStore interface {
	Snapshot(ctx context.Context) (*models.ResourceSnapshot, error)
	Commit(ctx context.Context, expectedVersion int64, changes models.ChangeSet) (int64, error)
}

// --- booking index ---

type booking struct {
	owner string
	start models.ClockTime
	end   models.ClockTime
}

// bookingIndex tracks which teacher, room and student intervals are taken, bucketed by day.
type bookingIndex struct {
	teachers map[string]map[int][]booking
	rooms    map[string]map[int][]booking
	students map[string]map[int][]booking
}

func newBookingIndex(classes []models.ScheduledClass) *bookingIndex {
	idx := &bookingIndex{
		teachers: make(map[string]map[int][]booking),
		rooms:    make(map[string]map[int][]booking),
		students: make(map[string]map[int][]booking),
	}
	for _, class := range classes {
		if !class.Active() {
			continue
		}
		idx.place(class.ID, class.TeacherID, class.Slot, class.StudentIDs)
	}
	return idx
}

func (b *bookingIndex) place(owner, teacherID string, slot models.TimeSlot, studentIDs []string) {
	entry := booking{owner: owner, start: slot.Start, end: slot.End}
	addBooking(b.teachers, teacherID, slot.DayOfWeek, entry)
	addBooking(b.rooms, slot.RoomID, slot.DayOfWeek, entry)
	for _, id := range studentIDs {
		addBooking(b.students, id, slot.DayOfWeek, entry)
	}
}

func (b *bookingIndex) release(owner, teacherID string, slot models.TimeSlot, studentIDs []string) {
	removeBooking(b.teachers, teacherID, slot.DayOfWeek, owner)
	removeBooking(b.rooms, slot.RoomID, slot.DayOfWeek, owner)
	for _, id := range studentIDs {
		removeBooking(b.students, id, slot.DayOfWeek, owner)
	}
}

func (b *bookingIndex) teacherFree(teacherID string, slot models.TimeSlot, ignore string) bool {
	return isFree(b.teachers, teacherID, slot, ignore)
}

func (b *bookingIndex) roomFree(slot models.TimeSlot, ignore string) bool {
	return isFree(b.rooms, slot.RoomID, slot, ignore)
}

func (b *bookingIndex) studentsFree(studentIDs []string, slot models.TimeSlot, ignore string) bool {
	for _, id := range studentIDs {
		if !isFree(b.students, id, slot, ignore) {
			return false
		}
	}
	return true
}

// canPlace checks every double-booking constraint for a prospective class.
func (b *bookingIndex) canPlace(teacherID string, slot models.TimeSlot, studentIDs []string, ignore string) bool {
	return b.teacherFree(teacherID, slot, ignore) && b.roomFree(slot, ignore) && b.studentsFree(studentIDs, slot, ignore)
}

func addBooking(index map[string]map[int][]booking, key string, day int, entry booking) {
	if key == "" {
		return
	}
	days, ok := index[key]
	if !ok {
		days = make(map[int][]booking)
		index[key] = days
	}
	days[day] = append(days[day], entry)
}

func removeBooking(index map[string]map[int][]booking, key string, day int, owner string) {
	days, ok := index[key]
	if !ok {
		return
	}
	entries := days[day]
	kept := entries[:0]
	for _, entry := range entries {
		if entry.owner != owner {
			kept = append(kept, entry)
		}
	}
	days[day] = kept
}

func isFree(index map[string]map[int][]booking, key string, slot models.TimeSlot, ignore string) bool {
	if key == "" {
		return true
	}
	for _, entry := range index[key][slot.DayOfWeek] {
		if entry.owner == ignore {
			continue
		}
		if slot.Start < entry.end && entry.start < slot.End {
			return false
		}
	}
	return true
}

// --- snapshot helpers ---

func sortedTeachers(teachers []models.Teacher) []models.Teacher {
	out := append([]models.Teacher(nil), teachers...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedSlots(slots []models.TimeSlot) []models.TimeSlot {
	out := append([]models.TimeSlot(nil), slots...)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.RoomID != b.RoomID {
			return a.RoomID < b.RoomID
		}
		return a.ID < b.ID
	})
	return out
}

func activeClasses(classes []models.ScheduledClass) []models.ScheduledClass {
	out := make([]models.ScheduledClass, 0, len(classes))
	for _, class := range classes {
		if class.Active() {
			out = append(out, class)
		}
	}
	return out
}

// teacherLoad sums the hours each teacher carries across the given classes on top of
// their externally assigned hours.
func teacherLoad(teachers []models.Teacher, classes []models.ScheduledClass) map[string]float64 {
	load := make(map[string]float64, len(teachers))
	for _, t := range teachers {
		load[t.ID] = t.AssignedHours
	}
	for _, class := range classes {
		if class.Active() {
			load[class.TeacherID] += class.Slot.Hours()
		}
	}
	return load
}

// --- optimistic commit ---

type snapshotMutation func(snapshot *models.ResourceSnapshot) (models.ChangeSet, error)

// commitWithRetry reloads the snapshot and reapplies mutate until the CAS commit succeeds
// or attempts run out. Errors from mutate abort immediately.
func commitWithRetry(ctx context.Context, store ResourceStore, attempts int, logger *zap.Logger, mutate snapshotMutation) (*models.ResourceSnapshot, int64, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		snapshot, err := store.Snapshot(ctx)
		if err != nil {
			return nil, 0, wrapStoreError(err, "failed to load resource model")
		}
		changes, err := mutate(snapshot)
		if err != nil {
			return nil, 0, err
		}
		if changes.Empty() {
			return snapshot, snapshot.Version, nil
		}
		version, err := store.Commit(ctx, snapshot.Version, changes)
		if err == nil {
			return snapshot, version, nil
		}
		if !appErrors.IsRetryable(err) {
			return nil, 0, wrapStoreError(err, "failed to commit resource model")
		}
		lastErr = err
		logger.Debug("resource model changed, retrying commit", zap.Int64("version", snapshot.Version), zap.Int("attempt", attempt))
	}
	return nil, 0, lastErr
}

func wrapStoreError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.ErrUnavailable.WithCause(err, message)
}
