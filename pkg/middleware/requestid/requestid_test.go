package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var fromGin, fromCtx string
	engine := gin.New()
	engine.Use(Middleware())
	engine.GET("/", func(c *gin.Context) {
		fromGin = Value(c)
		fromCtx = FromContext(c.Request.Context())
	})

	cases := []struct {
		name    string
		inbound string
		reuse   bool
	}{
		{name: "reuses inbound id", inbound: "abc-123", reuse: true},
		{name: "mints when missing"},
		{name: "mints when oversized", inbound: strings.Repeat("x", maxLen+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.inbound != "" {
				req.Header.Set(Header, tc.inbound)
			}
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)

			assert.Equal(t, fromGin, fromCtx)
			assert.Equal(t, fromGin, rec.Header().Get(Header))
			if tc.reuse {
				assert.Equal(t, tc.inbound, fromGin)
				return
			}
			_, err := uuid.Parse(fromGin)
			require.NoError(t, err)
		})
	}

	assert.Empty(t, Value(nil))
}
