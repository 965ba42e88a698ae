package handler

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-scheduler-api/internal/middleware"
	"github.com/noah-isme/class-scheduler-api/internal/models"
)

type responseEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Meta  map[string]interface{} `json:"meta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// closeNotifyingRecorder lets gin's Stream run against a recorder.
type closeNotifyingRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newRecorder() *closeNotifyingRecorder {
	return &closeNotifyingRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
}

func (r *closeNotifyingRecorder) CloseNotify() <-chan bool { return r.closed }

var adminClaims = &models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin, Email: "admin@example.com"}

// serve mounts handler on route and performs one request as claims.
func serve(method, route, target string, body interface{}, claims *models.JWTClaims, handler gin.HandlerFunc) *closeNotifyingRecorder {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Handle(method, route, func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.ContextUserKey, claims)
		}
		c.Next()
	}, handler)

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, _ := json.Marshal(v)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := newRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *closeNotifyingRecorder, data interface{}) responseEnvelope {
	t.Helper()
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	if data != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, data))
	}
	return envelope
}

func assertErrorCode(t *testing.T, rec *closeNotifyingRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	envelope := decodeEnvelope(t, rec, nil)
	require.NotNil(t, envelope.Error)
	require.Equal(t, code, envelope.Error.Code)
}
