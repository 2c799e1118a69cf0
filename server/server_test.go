package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/profile"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
	"github.com/RcityLucas/Prizm-Agent-sub001/store/db/memdb"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	p := &profile.Profile{
		Mode:               "demo",
		Driver:             "memory",
		CacheTTL:           300,
		BatchIntervalMs:    10,
		MaxBatchSize:       20,
		ContentTruncateLen: 1000,
		HeartbeatTimeout:   30,
		MonitorInterval:    10,
		OfflineSpoolCap:    100,
		MonitoringInterval: 60,
	}
	driver, err := memdb.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)

	s, err := NewServer(context.Background(), p, st)
	require.NoError(t, err)
	t.Cleanup(func() { s.integrator.Stop() })
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	fallback, err := memdb.NewDB(s.Profile)
	require.NoError(t, err)
	s.Store.MarkDegraded(fallback, "backend unreachable")
	rec = doJSON(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prizm_cache_hits")
}

func TestSessionAndChatFlow(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/sessions",
		`{"user_id":"alice","dialogue_type":"human_human_private","participants":["alice","bob"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var session store.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.NotEmpty(t, session.ID)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/sessions/"+session.ID+"/messages",
		`{"user_id":"alice","content":"hi bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var turn store.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	assert.Equal(t, "hi bob", turn.Content)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/sessions/"+session.ID+"/messages?user_id=bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hi bob")

	rec = doJSON(t, s, http.MethodGet, "/api/v1/users/bob/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var counts map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, 1, counts[session.ID])

	rec = doJSON(t, s, http.MethodPost, "/api/v1/messages/"+turn.ID+"/read", `{"user_id":"bob"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("outsider forbidden", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/sessions/"+session.ID+"/messages?user_id=mallory", "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/sessions/ghost/messages",
			`{"user_id":"alice","content":"hi"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDialogueFallbackWithoutLLM(t *testing.T) {
	s := newTestServer(t) // no LLM configured in the test profile

	rec := doJSON(t, s, http.MethodPost, "/api/v1/sessions",
		`{"user_id":"alice","dialogue_type":"human_ai_private"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var session store.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	rec = doJSON(t, s, http.MethodPost, "/api/v1/sessions/"+session.ID+"/messages",
		`{"user_id":"alice","content":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "I received: 'hello'",
		"missing LLM degrades to the canned fallback")
}

func TestCreateReminderValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/reminders",
		`{"user_id":"alice","session_id":"s1","spec":"not a spec","text":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/reminders",
		`{"user_id":"alice","session_id":"s1","spec":"@every 1h","text":"stand up"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHeartbeatEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/presence/heartbeat", `{"user_id":"alice"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, s.presence.IsOnline("alice"))

	rec = doJSON(t, s, http.MethodPost, "/api/v1/presence/heartbeat", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
