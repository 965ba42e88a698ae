package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseClockTime(t *testing.T) {
	cases := []struct {
		raw     string
		want    ClockTime
		wantErr bool
	}{
		{raw: "09:30", want: NewClockTime(9, 30)},
		{raw: " 00:00 ", want: 0},
		{raw: "24:00", want: NewClockTime(24, 0)},
		{raw: "24:01", wantErr: true},
		{raw: "9", wantErr: true},
		{raw: "10:60", wantErr: true},
		{raw: "ab:10", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseClockTime(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClockTimeEncoding(t *testing.T) {
	window := TimeWindow{DayOfWeek: 1, Start: NewClockTime(9, 0), End: NewClockTime(12, 15)}
	raw, err := json.Marshal(window)
	require.NoError(t, err)
	assert.JSONEq(t, `{"day_of_week":1,"start":"09:00","end":"12:15"}`, string(raw))

	var decoded TimeWindow
	require.NoError(t, yaml.Unmarshal([]byte("day_of_week: 2\nstart: \"08:00\"\nend: \"10:00\"\n"), &decoded))
	assert.Equal(t, NewClockTime(8, 0), decoded.Start)
	assert.True(t, decoded.Contains(2, NewClockTime(8, 30), NewClockTime(10, 0)))
	assert.False(t, decoded.Contains(2, NewClockTime(9, 30), NewClockTime(10, 30)))

	require.Error(t, json.Unmarshal([]byte(`{"start":"late"}`), &decoded))
}

func TestUrgencyRaise(t *testing.T) {
	assert.Equal(t, UrgencyHigh, UrgencyMedium.Raise(1))
	assert.Equal(t, UrgencyUrgent, UrgencyLow.Raise(10))
	assert.Equal(t, UrgencyLow, UrgencyMedium.Raise(-3))
	assert.Equal(t, 0, Urgency("unknown").Level())
}

func TestPaceRank(t *testing.T) {
	for _, p := range []Pace{PaceFast, PaceNormal, PaceSlow} {
		assert.Equal(t, p, PaceFromRank(float64(p.Rank())))
	}
	assert.Equal(t, 2, Pace("").Rank())
	assert.Equal(t, PaceFast, PaceFromRank(2.5))
	assert.Equal(t, PaceNormal, PaceFromRank(1.5))
}

func TestScheduledClassLifecycle(t *testing.T) {
	class := ScheduledClass{ID: "c1", StudentIDs: []string{"s1"}, Status: ClassStatusProposed}
	assert.True(t, class.Active())
	assert.False(t, class.Pinned())

	class.Status = ClassStatusOverridden
	assert.True(t, class.Pinned())

	class.Suspended = true
	assert.False(t, class.Active())

	clone := class.Clone()
	clone.StudentIDs[0] = "s2"
	assert.True(t, class.HasStudent("s1"))
	assert.False(t, class.HasStudent("s2"))

	cancelled := ScheduledClass{Status: ClassStatusCancelled}
	assert.False(t, cancelled.Active())
}

func TestSnapshotBlocks(t *testing.T) {
	snapshot := &ResourceSnapshot{Overrides: []SchedulingOverride{
		{Type: OverridePreventSchedule, Params: OverrideParams{TeacherID: "t2", SlotID: "s1"}},
		{Type: OverridePreventSchedule, Params: OverrideParams{TeacherID: "t1", SlotID: "s1"}},
		{Type: OverridePreventSchedule, Params: OverrideParams{TeacherID: "t1"}},
		{Type: OverridePreventSchedule, Params: OverrideParams{TeacherID: "t3", SlotID: "s9"}},
		{Type: OverrideForceSchedule, Params: OverrideParams{TeacherID: "t3", SlotID: "s9"}},
	}}

	assert.Equal(t, []BlockedAssignment{
		{TeacherID: "t1", SlotID: "s1"},
		{TeacherID: "t2", SlotID: "s1"},
	}, snapshot.Blocks())
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	snapshot := &ResourceSnapshot{
		Version: 4,
		Classes: []ScheduledClass{{ID: "c1", StudentIDs: []string{"s1"}}},
	}
	clone := snapshot.Clone()
	clone.Classes[0].StudentIDs[0] = "s9"
	clone.Classes = append(clone.Classes, ScheduledClass{ID: "c2"})

	assert.Equal(t, "s1", snapshot.Classes[0].StudentIDs[0])
	assert.Len(t, snapshot.Classes, 1)
	assert.Nil(t, (*ResourceSnapshot)(nil).Clone())
}

func TestBulkOperationValidate(t *testing.T) {
	op, err := NewBatchSchedule([]SchedulingRequest{{CourseType: "math"}, {CourseType: "reading"}})
	require.NoError(t, err)
	assert.Equal(t, 2, op.Size())

	_, err = NewBatchSchedule([]SchedulingRequest{{CourseType: " "}})
	assert.EqualError(t, err, "requests[0]: course_type is required")

	_, err = NewBatchSchedule(nil)
	assert.EqualError(t, err, "bulk operation has no items")

	_, err = NewBatchReassign([]Reassignment{{ClassID: "c1", Reason: "swap"}})
	assert.EqualError(t, err, "reassignments[0]: teacher_id or slot_id is required")

	_, err = NewBatchReassign([]Reassignment{{ClassID: "c1", TeacherID: "t1"}})
	assert.EqualError(t, err, "reassignments[0]: reason is required")

	op, err = NewApproveRecommendations([]string{"r1", "r2", "r3"}, "weekly review")
	require.NoError(t, err)
	assert.Equal(t, 3, op.Size())

	mixed := BulkOperation{Type: BulkBatchSchedule, Requests: []SchedulingRequest{{CourseType: "math"}}, RecommendationIDs: []string{"r1"}}
	assert.Error(t, mixed.Validate())

	unknown := BulkOperation{Type: "explode"}
	assert.Error(t, unknown.Validate())
	assert.Equal(t, 0, unknown.Size())
}

func TestSeverityAndCapacity(t *testing.T) {
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityLow, SeverityCritical, SeverityHigh))
	assert.Equal(t, SeverityLow, MaxSeverity())
	assert.Equal(t, 0, Capacity{Max: 3, CurrentEnrollment: 5}.Free())
	assert.Equal(t, 2, Capacity{Max: 5, CurrentEnrollment: 3}.Free())
	assert.True(t, RunStatusCancelled.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
}
