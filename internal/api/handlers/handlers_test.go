package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wabdesk/wabdesk/internal/api/middleware"
	"github.com/wabdesk/wabdesk/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestRouter returns an engine whose /api/v1 group runs as actor.
func newTestRouter(actor models.Actor, register func(*gin.RouterGroup)) *gin.Engine {
	r := gin.New()
	group := r.Group("/api/v1")
	group.Use(func(c *gin.Context) {
		c.Set(string(middleware.ActorContextKey), actor)
		c.Next()
	})
	register(group)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func actorWithRole(role models.Role) models.Actor {
	return models.Actor{UserID: uuid.New(), OrgID: uuid.New(), Role: role}
}
