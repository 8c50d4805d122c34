package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kparsons/timehub/internal/command"
	"github.com/kparsons/timehub/internal/event"
	"github.com/kparsons/timehub/internal/gateway"
	"github.com/kparsons/timehub/internal/httpapi"
	"github.com/kparsons/timehub/internal/models"
	"github.com/kparsons/timehub/internal/registry"
	"github.com/kparsons/timehub/internal/storage"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	processor := command.NewProcessor(storage.NewMemoryRepository(), clockwork.NewFakeClock(), nil)
	rooms := registry.NewRooms[*gateway.Connection]()
	manager := gateway.NewManager(gateway.DefaultConfig(), processor, rooms)
	return httpapi.NewRouter(httpapi.NewHandler(processor), manager)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateSessionEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", map[string]string{
		"title":       "design review",
		"description": "weekly",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Len(t, session.ID, 8)
	assert.Equal(t, "design review", session.Title)
	assert.Equal(t, "weekly", session.Description)
}

func TestCreateSessionEmptyBody(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, models.DefaultSessionTitle, session.Title)
}

func TestGetSessionWithTimers(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	rec = doJSON(t, router, http.MethodPost, "/api/sessions/"+session.ID+"/timers", map[string]string{
		"title": "kickoff",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload event.SessionDataPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.NotNil(t, payload.Session)
	require.Len(t, payload.Timers, 1)
	assert.Equal(t, "kickoff", payload.Timers[0].Title)
	assert.False(t, payload.Timers[0].IsRunning)
	assert.Equal(t, payload.Session.TimerIDs[0], payload.Timers[0].ID)
}

func TestGetSessionNotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/sessions/missing1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Session not found"}`, rec.Body.String())
}

func TestCreateTimerUnknownSession(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions/missing1/timers", map[string]string{
		"title": "t",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTimerInvalidBody(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", nil)
	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+session.ID+"/timers",
		bytes.NewBufferString("{broken"))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestHealthAndStats(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/ws/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_connections":0,"active_sessions":0}`, rec.Body.String())
}
