package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wabdesk/wabdesk/internal/license"
	"github.com/wabdesk/wabdesk/internal/metrics"
	"github.com/wabdesk/wabdesk/internal/models"
)

type stubDB struct{}

func (stubDB) Ping(context.Context) error { return nil }
func (stubDB) Health() map[string]any     { return map[string]any{} }

type stubTokens map[string]models.Actor

func (s stubTokens) Authenticate(_ context.Context, token string) (models.Actor, error) {
	actor, ok := s[token]
	if !ok {
		return models.Actor{}, errors.New("unknown token")
	}
	return actor, nil
}

func newTestRouter(t *testing.T, tokens stubTokens) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheusMetrics(reg)
	require.NoError(t, err)

	// The services are never reached: every request below is answered by
	// middleware before a handler calls into the store.
	svcCfg := license.ServiceConfig{Metrics: m, Logger: zerolog.Nop()}
	cfg := DefaultConfig()
	cfg.Gatherer = reg
	cfg.Metrics = m

	router, err := NewRouter(cfg, Services{
		Database:  stubDB{},
		Tokens:    tokens,
		Authority: license.NewAuthority(svcCfg),
		Ledger:    license.NewLedger(svcCfg),
	}, zerolog.Nop())
	require.NoError(t, err)
	return router
}

func serve(r *Router, method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "127.0.0.1:1234"
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestNewRouterRequiresServices(t *testing.T) {
	_, err := NewRouter(DefaultConfig(), Services{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRouterPublicRoutes(t *testing.T) {
	r := newTestRouter(t, stubTokens{})

	w := serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = serve(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wabdesk_http_request_duration_seconds")
}

func TestRouterAuthAndRoles(t *testing.T) {
	member := "wab_" + strings.Repeat("1", 64)
	admin := "wab_" + strings.Repeat("2", 64)
	orgID := uuid.New()
	r := newTestRouter(t, stubTokens{
		member: {UserID: uuid.New(), OrgID: orgID, Role: models.RoleMember},
		admin:  {UserID: uuid.New(), OrgID: orgID, Role: models.RoleAdmin},
	})

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodPost, "/api/v1/subscription/activate", "", http.StatusUnauthorized},
		{"unknown token", http.MethodGet, "/api/v1/subscription/plans", "wab_" + strings.Repeat("9", 64), http.StatusUnauthorized},
		{"member lists plans", http.MethodGet, "/api/v1/subscription/plans", member, http.StatusForbidden},
		{"member issues license", http.MethodPost, "/api/v1/subscription/instances", member, http.StatusForbidden},
		{"member revokes", http.MethodPut, "/api/v1/subscription/instances/" + uuid.NewString() + "/revoke", member, http.StatusForbidden},
		{"admin creates plan", http.MethodPost, "/api/v1/subscription/plans", admin, http.StatusForbidden},
		{"admin deactivates plan", http.MethodPut, "/api/v1/subscription/plans/pro/deactivate", admin, http.StatusForbidden},
		{"member activate without body fields", http.MethodPost, "/api/v1/subscription/activate", member, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.method, tt.path, tt.token)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}
