package models

// OnboardingKey groups students that have no progress history yet.
const OnboardingKey = "onboarding"

// StudentProfile is a student together with the analysed content queue.
type StudentProfile struct {
	Student    Student                 `json:"student"`
	Bundle     *UnlearnedContentBundle `json:"bundle,omitempty"`
	Head       UnlearnedItem           `json:"head"`
	Onboarding bool                    `json:"onboarding"`
}

// StudentGroup is a candidate class produced by the compatibility matcher.
type StudentGroup struct {
	ID         string      `json:"id"`
	CourseType string      `json:"course_type"`
	Key        string      `json:"key"`
	Head       ContentItem `json:"head"`
	Urgency    Urgency     `json:"urgency"`
	Pace       Pace        `json:"pace"`
	StudentIDs []string    `json:"student_ids"`
	ClassType  ClassType   `json:"class_type"`
	Onboarding bool        `json:"onboarding"`
}

// Size returns the number of students in the group.
func (g StudentGroup) Size() int {
	return len(g.StudentIDs)
}

// ClassBounds are the class size limits applied by the matcher.
type ClassBounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}
