package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-scheduler-api/internal/dto"
	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

type fakeClassService struct {
	applied  models.SchedulingOverride
	classID  string
	actor    string
	reason   string
	history  []models.SchedulingOverride
	err      error
	applyErr error
}

func (f *fakeClassService) Class(_ context.Context, classID string) (*models.ScheduledClass, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ScheduledClass{ID: classID, Status: models.ClassStatusConfirmed}, nil
}

func (f *fakeClassService) Apply(_ context.Context, classID string, override models.SchedulingOverride) (*models.ScheduledClass, error) {
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	f.classID = classID
	f.applied = override
	return &models.ScheduledClass{ID: classID, Status: models.ClassStatusOverridden}, nil
}

func (f *fakeClassService) History(context.Context, string) ([]models.SchedulingOverride, error) {
	return f.history, f.err
}

func (f *fakeClassService) Effective(context.Context, string) (map[models.OverrideType]models.SchedulingOverride, error) {
	effective := map[models.OverrideType]models.SchedulingOverride{}
	for _, o := range f.history {
		effective[o.Type] = o
	}
	return effective, f.err
}

func (f *fakeClassService) Confirm(_ context.Context, classID, actor string) (*models.ScheduledClass, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.classID, f.actor = classID, actor
	return &models.ScheduledClass{ID: classID, Status: models.ClassStatusConfirmed}, nil
}

func (f *fakeClassService) Cancel(_ context.Context, classID, reason, actor string) (*models.ScheduledClass, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.classID, f.reason, f.actor = classID, reason, actor
	return &models.ScheduledClass{ID: classID, Status: models.ClassStatusCancelled}, nil
}

func TestClassHandlerApplyOverride(t *testing.T) {
	svc := &fakeClassService{}
	h := NewClassHandler(svc)

	rec := serve(http.MethodPost, "/classes/:id/overrides", "/classes/class-1/overrides", map[string]interface{}{
		"type":   "preferred_time",
		"reason": "parent request",
		"params": map[string]interface{}{"slot_id": "mon-10"},
	}, adminClaims, h.ApplyOverride)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "class-1", svc.classID)
	assert.Equal(t, models.OverridePreferredTime, svc.applied.Type)
	assert.Equal(t, "mon-10", svc.applied.Params.SlotID)
	assert.Equal(t, "admin@example.com", svc.applied.AppliedBy)

	var class models.ScheduledClass
	decodeEnvelope(t, rec, &class)
	assert.Equal(t, models.ClassStatusOverridden, class.Status)
}

func TestClassHandlerApplyOverrideErrors(t *testing.T) {
	h := NewClassHandler(&fakeClassService{})
	rec := serve(http.MethodPost, "/classes/:id/overrides", "/classes/class-1/overrides", `{"type":"preferred_time"}`, adminClaims, h.ApplyOverride)
	assertErrorCode(t, rec, http.StatusBadRequest, appErrors.ErrValidation.Code)

	booked := NewClassHandler(&fakeClassService{applyErr: appErrors.Clone(appErrors.ErrConflict, "slot is already booked")})
	rec = serve(http.MethodPost, "/classes/:id/overrides", "/classes/class-1/overrides", `{"type":"preferred_time","reason":"x","params":{"slot_id":"mon-10"}}`, adminClaims, booked.ApplyOverride)
	assertErrorCode(t, rec, http.StatusConflict, appErrors.ErrConflict.Code)

	invalid := NewClassHandler(&fakeClassService{applyErr: appErrors.Clone(appErrors.ErrInvalidOverride, "unknown slot")})
	rec = serve(http.MethodPost, "/classes/:id/overrides", "/classes/class-1/overrides", `{"type":"preferred_time","reason":"x","params":{"slot_id":"nope"}}`, adminClaims, invalid.ApplyOverride)
	assertErrorCode(t, rec, http.StatusBadRequest, appErrors.ErrInvalidOverride.Code)
}

func TestClassHandlerOverridesHistory(t *testing.T) {
	h := NewClassHandler(&fakeClassService{history: []models.SchedulingOverride{
		{ID: "o1", Type: models.OverridePreferredTeacher, Params: models.OverrideParams{TeacherID: "t1"}},
		{ID: "o2", Type: models.OverridePreferredTeacher, Params: models.OverrideParams{TeacherID: "t2"}},
	}})
	rec := serve(http.MethodGet, "/classes/:id/overrides", "/classes/class-1/overrides", nil, adminClaims, h.Overrides)

	require.Equal(t, http.StatusOK, rec.Code)
	var body dto.ClassOverridesResponse
	decodeEnvelope(t, rec, &body)
	assert.Equal(t, "class-1", body.ClassID)
	assert.Len(t, body.History, 2)
	assert.Equal(t, "o2", body.Effective[models.OverridePreferredTeacher].ID)

	empty := NewClassHandler(&fakeClassService{})
	rec = serve(http.MethodGet, "/classes/:id/overrides", "/classes/class-2/overrides", nil, adminClaims, empty.Overrides)
	decodeEnvelope(t, rec, &body)
	assert.NotNil(t, body.History)
	assert.Empty(t, body.History)
}

func TestClassHandlerGetConfirmCancel(t *testing.T) {
	missing := NewClassHandler(&fakeClassService{err: appErrors.Clone(appErrors.ErrNotFound, "class not found")})
	rec := serve(http.MethodGet, "/classes/:id", "/classes/ghost", nil, adminClaims, missing.Get)
	assertErrorCode(t, rec, http.StatusNotFound, appErrors.ErrNotFound.Code)

	svc := &fakeClassService{}
	h := NewClassHandler(svc)
	rec = serve(http.MethodPost, "/classes/:id/confirm", "/classes/class-1/confirm", nil, nil, h.Confirm)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, anonymousActor, svc.actor)

	rec = serve(http.MethodPost, "/classes/:id/cancel", "/classes/class-1/cancel", `{}`, adminClaims, h.Cancel)
	assertErrorCode(t, rec, http.StatusBadRequest, appErrors.ErrValidation.Code)

	rec = serve(http.MethodPost, "/classes/:id/cancel", "/classes/class-1/cancel", `{"reason":"course dropped"}`, adminClaims, h.Cancel)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "course dropped", svc.reason)
	assert.Equal(t, "admin@example.com", svc.actor)
}
