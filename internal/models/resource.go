package models

import (
	"sort"
	"time"
)

// ResourceSnapshot is a versioned, by-value copy of the shared resource model.
type ResourceSnapshot struct {
	Version   int64                `json:"version"`
	Teachers  []Teacher            `json:"teachers"`
	Rooms     []Room               `json:"rooms"`
	Slots     []TimeSlot           `json:"slots"`
	Classes   []ScheduledClass     `json:"classes"`
	Overrides []SchedulingOverride `json:"overrides"`
	TakenAt   time.Time            `json:"taken_at"`
}

// ChangeSet is the atomic unit committed against a snapshot version.
type ChangeSet struct {
	Classes   []ScheduledClass     `json:"classes"`
	Overrides []SchedulingOverride `json:"overrides"`
}

// Empty reports whether the change set carries no mutations.
func (c ChangeSet) Empty() bool {
	return len(c.Classes) == 0 && len(c.Overrides) == 0
}

// Clone returns a deep copy so callers can mutate freely.
func (s *ResourceSnapshot) Clone() *ResourceSnapshot {
	if s == nil {
		return nil
	}
	clone := &ResourceSnapshot{
		Version:   s.Version,
		Teachers:  append([]Teacher(nil), s.Teachers...),
		Rooms:     append([]Room(nil), s.Rooms...),
		Slots:     append([]TimeSlot(nil), s.Slots...),
		Classes:   make([]ScheduledClass, len(s.Classes)),
		Overrides: append([]SchedulingOverride(nil), s.Overrides...),
		TakenAt:   s.TakenAt,
	}
	for i, class := range s.Classes {
		clone.Classes[i] = class.Clone()
	}
	return clone
}

// Teacher finds a teacher by id.
func (s *ResourceSnapshot) Teacher(id string) (Teacher, bool) {
	for _, t := range s.Teachers {
		if t.ID == id {
			return t, true
		}
	}
	return Teacher{}, false
}

// Room finds a room by id.
func (s *ResourceSnapshot) Room(id string) (Room, bool) {
	for _, r := range s.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return Room{}, false
}

// Slot finds a slot by id.
func (s *ResourceSnapshot) Slot(id string) (TimeSlot, bool) {
	for _, slot := range s.Slots {
		if slot.ID == id {
			return slot, true
		}
	}
	return TimeSlot{}, false
}

// Class finds a class by id.
func (s *ResourceSnapshot) Class(id string) (ScheduledClass, bool) {
	for _, c := range s.Classes {
		if c.ID == id {
			return c, true
		}
	}
	return ScheduledClass{}, false
}

// History returns the override history of a class in application order.
func (s *ResourceSnapshot) History(classID string) []SchedulingOverride {
	var history []SchedulingOverride
	for _, o := range s.Overrides {
		if o.ClassID == classID {
			history = append(history, o)
		}
	}
	return history
}

// Blocks derives the (teacher, slot) pairs forbidden by prevent_schedule overrides.
// A later force_schedule onto the same pair lifts the block.
func (s *ResourceSnapshot) Blocks() []BlockedAssignment {
	active := make(map[BlockedAssignment]struct{})
	for _, o := range s.Overrides {
		pair := BlockedAssignment{TeacherID: o.Params.TeacherID, SlotID: o.Params.SlotID}
		switch o.Type {
		case OverridePreventSchedule:
			if pair.TeacherID != "" && pair.SlotID != "" {
				active[pair] = struct{}{}
			}
		case OverrideForceSchedule:
			delete(active, pair)
		}
	}
	blocks := make([]BlockedAssignment, 0, len(active))
	for pair := range active {
		blocks = append(blocks, pair)
	}
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].TeacherID != blocks[j].TeacherID {
			return blocks[i].TeacherID < blocks[j].TeacherID
		}
		return blocks[i].SlotID < blocks[j].SlotID
	})
	return blocks
}
