package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/Corphon/SceneWeaver/internal/content"
	"github.com/Corphon/SceneWeaver/internal/models"
	"github.com/Corphon/SceneWeaver/internal/services"
	"github.com/Corphon/SceneWeaver/internal/storage"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

type testServer struct {
	router   *gin.Engine
	sessions *services.SessionManager
	ws       *WebSocketManager
	kv       storage.KeyValueStore
}

func newTestServer(t *testing.T, kv storage.KeyValueStore) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := utils.NewLogger(zap.NewNop())

	def, err := content.Default()
	require.NoError(t, err)
	catalog, err := services.LoadCatalog(def, services.CatalogOptions{Strict: true, Logger: logger})
	require.NoError(t, err)

	metrics := utils.NewEngineMetrics(utils.NewMetricsCollector(), logger)
	sessions := services.NewSessionManager(catalog, kv, services.SessionOptions{
		Navigator:    services.NavigatorConfig{AutoAdvanceDelay: time.Hour},
		SaveDebounce: time.Hour,
		TTL:          time.Hour,
	}, logger, metrics)
	ws := NewWebSocketManager(logger)

	srv := &testServer{
		router: NewRouter(RouterDeps{
			Sessions:   sessions,
			WebSockets: ws,
			Logger:     logger,
			Debug:      true,
		}),
		sessions: sessions,
		ws:       ws,
		kv:       kv,
	}
	t.Cleanup(srv.close)
	return srv
}

func (s *testServer) close() {
	s.ws.Shutdown()
	s.sessions.Close(context.Background())
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (s *testServer) session(t *testing.T, method, path, body string) SessionPayload {
	t.Helper()
	code, env := s.do(t, method, path, body)
	require.Truef(t, code == http.StatusOK || code == http.StatusCreated, "%s %s: %d %+v", method, path, code, env.Error)
	var payload SessionPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload
}

func TestSessionPlaythroughOverHTTP(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newTestServer(t, storage.NewMemoryStorage(0, 0))
	defer srv.close()

	created := srv.session(t, http.MethodPost, "/api/sessions", "")
	id := created.SessionID
	assert.Equal(t, models.StateAtNode, created.View.State.Kind)
	assert.Equal(t, "prologue", created.View.SceneID)
	assert.Equal(t, []string{"first_light"}, created.State.Memories)

	named := srv.session(t, http.MethodPut, "/api/sessions/"+id+"/player/name", `{"name": " Ada "}`)
	assert.Equal(t, "Ada", named.State.PlayerName)

	code, env := srv.do(t, http.MethodPut, "/api/sessions/"+id+"/player/name", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ErrorBadRequest, env.Error.Code)

	hub := srv.session(t, http.MethodPost, "/api/sessions/"+id+"/navigate", `{"scene_id": "hub"}`)
	assert.Equal(t, models.StateAwaitingChoice, hub.View.State.Kind)
	require.Len(t, hub.View.Choices, 4)
	assert.False(t, hub.View.Choices[2].Available)

	code, env = srv.do(t, http.MethodPost, "/api/sessions/"+id+"/choices/2", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, ErrorChoiceUnavailable, env.Error.Code)

	code, env = srv.do(t, http.MethodPost, "/api/sessions/"+id+"/choices/two", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ErrorChoiceInvalid, env.Error.Code)

	study := srv.session(t, http.MethodPost, "/api/sessions/"+id+"/choices/0", "")
	assert.Equal(t, "scriptorium", study.View.SceneID)
	assert.Equal(t, 10, study.State.FactionInfluence["archive"])
	assert.Contains(t, study.State.Memories, "ink_and_dust")

	code, env = srv.do(t, http.MethodPost, "/api/sessions/"+id+"/save", "")
	assert.Equal(t, http.StatusOK, code)
	var record models.SaveRecord
	require.NoError(t, json.Unmarshal(env.Data, &record))
	assert.Equal(t, services.CurrentSaveVersion, record.Version)
	assert.Equal(t, "scriptorium", record.State.CurrentScene)

	lost := srv.session(t, http.MethodPost, "/api/sessions/"+id+"/navigate", `{"scene_id": "nowhere"}`)
	assert.Equal(t, models.StateNotFound, lost.View.State.Kind)
	assert.Equal(t, "nowhere", lost.View.State.RequestedID)
	assert.Equal(t, "scriptorium", lost.State.CurrentScene)

	reset := srv.session(t, http.MethodPost, "/api/sessions/"+id+"/reset", "")
	assert.Equal(t, "prologue", reset.View.SceneID)
	assert.Empty(t, reset.State.PlayerName)
	assert.Equal(t, 10, reset.State.FactionInfluence["clans"])

	again := srv.session(t, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, id, again.SessionID)
}

func TestSessionErrors(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStorage(0, 0))

	code, env := srv.do(t, http.MethodGet, "/api/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ErrorSessionInvalid, env.Error.Code)

	for i := 0; i < 2; i++ {
		code, env = srv.do(t, http.MethodGet, "/api/sessions/6f1c2a8e-3b1d-4b55-9a53-2b9f1a0d3c11", "")
		assert.Equal(t, http.StatusNotFound, code, "unknown ids stay unknown")
		assert.Equal(t, ErrorSessionNotFound, env.Error.Code)
	}
	_, err := srv.kv.Get(context.Background(), services.SessionSaveKey("6f1c2a8e-3b1d-4b55-9a53-2b9f1a0d3c11"))
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	code, env = srv.do(t, http.MethodPost, "/api/sessions", `{"session_id": "6f1c2a8e-3b1d-4b55-9a53-2b9f1a0d3c11"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, ErrorSessionNotFound, env.Error.Code)

	created := srv.session(t, http.MethodPost, "/api/sessions", "")
	code, env = srv.do(t, http.MethodPost, "/api/sessions/"+created.SessionID+"/navigate", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ErrorBadRequest, env.Error.Code)

	code, env = srv.do(t, http.MethodPost, "/api/sessions/"+created.SessionID+"/choices/0", "")
	assert.Equal(t, http.StatusConflict, code, "prologue offers no choices")
	assert.Equal(t, ErrorChoiceUnavailable, env.Error.Code)
}

func TestSessionRestoredAfterRestart(t *testing.T) {
	kv := storage.NewMemoryStorage(0, 0)
	first := newTestServer(t, kv)

	created := first.session(t, http.MethodPost, "/api/sessions", "")
	first.session(t, http.MethodPut, "/api/sessions/"+created.SessionID+"/player/name", `{"name": "Ada"}`)
	first.session(t, http.MethodPost, "/api/sessions/"+created.SessionID+"/navigate", `{"scene_id": "hub"}`)
	first.close()

	second := newTestServer(t, kv)
	restored := second.session(t, http.MethodPost, "/api/sessions", `{"session_id": "`+created.SessionID+`"}`)
	assert.Equal(t, created.SessionID, restored.SessionID)
	assert.Equal(t, "Ada", restored.State.PlayerName)
	assert.Equal(t, "hub", restored.View.SceneID)
	assert.Equal(t, models.StateAwaitingChoice, restored.View.State.Kind)
}

func TestCatalogEndpoints(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStorage(0, 0))

	code, env := srv.do(t, http.MethodGet, "/api/scenes/hub", "")
	require.Equal(t, http.StatusOK, code)
	var scene struct {
		Scene      models.SceneNode `json:"scene"`
		Successors []string         `json:"successors"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &scene))
	assert.Equal(t, "hub", scene.Scene.ID)
	assert.ElementsMatch(t, []string{"scriptorium", "clan_camp", "ruins", "tablet"}, scene.Successors)

	code, env = srv.do(t, http.MethodGet, "/api/scenes/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, ErrorSceneNotFound, env.Error.Code)

	code, env = srv.do(t, http.MethodGet, "/api/scenes", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Start    string              `json:"start"`
		Entries  map[string]string   `json:"entries"`
		Glyphs   []models.GlyphDef   `json:"glyphs"`
		Factions []models.FactionDef `json:"factions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, "prologue", list.Start)
	assert.Equal(t, "hub", list.Entries["hub"])
	require.Len(t, list.Glyphs, 3)
	assert.Equal(t, "sun_glyph", list.Glyphs[0].ID)
	assert.Equal(t, []string{"latin"}, list.Glyphs[0].Languages)
	require.Len(t, list.Factions, 2)
	assert.Equal(t, 10, list.Factions[0].Initial)
}

func TestPacingEndpoint(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStorage(0, 0))

	var saved []time.Duration
	srv.router = NewRouter(RouterDeps{
		Sessions:   srv.sessions,
		WebSockets: srv.ws,
		Logger:     utils.NewLogger(zap.NewNop()),
		Debug:      true,
		SavePacing: func(autoAdvance, reveal time.Duration) error {
			saved = append(saved, autoAdvance, reveal)
			return nil
		},
	})

	code, env := srv.do(t, http.MethodGet, "/api/config/pacing", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"auto_advance_delay_ms": 3600000, "reveal_delay_ms": 0}`, string(env.Data))

	code, _ = srv.do(t, http.MethodPut, "/api/config/pacing", `{"auto_advance_delay_ms": -1, "reveal_delay_ms": 0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = srv.do(t, http.MethodPut, "/api/config/pacing", `{"reveal_delay_ms": 10}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, saved)

	code, env = srv.do(t, http.MethodPut, "/api/config/pacing", `{"auto_advance_delay_ms": 5000, "reveal_delay_ms": 250}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"auto_advance_delay_ms": 5000, "reveal_delay_ms": 250}`, string(env.Data))
	assert.Equal(t, []time.Duration{5 * time.Second, 250 * time.Millisecond}, saved)
	assert.Equal(t, services.NavigatorConfig{
		AutoAdvanceDelay: 5 * time.Second,
		RevealDelay:      250 * time.Millisecond,
	}, srv.sessions.Pacing())

	// 新会话使用新节奏, so hub choices wait for the reveal
	created := srv.session(t, http.MethodPost, "/api/sessions", "")
	hub := srv.session(t, http.MethodPost, "/api/sessions/"+created.SessionID+"/navigate", `{"scene_id": "hub"}`)
	assert.Equal(t, models.StateAtNode, hub.View.State.Kind)
	assert.False(t, hub.View.ChoicesRevealed)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStorage(0, 0))
	srv.session(t, http.MethodPost, "/api/sessions", "")

	code, env := srv.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["active_sessions"])

	code, env = srv.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, code)
	var metrics struct {
		Counters map[string]int64 `json:"counters"`
		Gauges   map[string]int64 `json:"gauges"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &metrics))
	assert.GreaterOrEqual(t, metrics.Counters["api_requests_total"], int64(2))
	assert.Equal(t, int64(1), metrics.Gauges["sessions_active"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStorage(0, 0))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
	assert.Contains(t, rec.Body.String(), `"request_id":"req-42"`)
}

func TestRateLimit(t *testing.T) {
	defer goleak.VerifyNone(t)
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(time.Hour)
	defer limiter.Stop()

	r := gin.New()
	r.Use(RateLimitByIP(limiter, 2, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	var codes []int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, rec.Code)
		if i == 2 {
			assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
			assert.Contains(t, rec.Body.String(), ErrorRateLimitExceeded)
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterWindowResets(t *testing.T) {
	limiter := NewRateLimiter(time.Hour)
	defer limiter.Stop()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	assert.True(t, limiter.Allow("ip", 1, time.Minute))
	assert.False(t, limiter.Allow("ip", 1, time.Minute))
	clock = clock.Add(2 * time.Minute)
	assert.True(t, limiter.Allow("ip", 1, time.Minute))
}

func TestClassifyError(t *testing.T) {
	status, code := classifyError(services.ErrChoiceUnavailable)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, ErrorChoiceUnavailable, code)

	status, code = classifyError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, ErrorInternalError, code)

	assert.Equal(t, "An internal error occurred", sanitizeErrorMessage("dial postgres://u:p@db failed"))
	assert.Equal(t, "choice unavailable", sanitizeErrorMessage("choice unavailable"))
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips messages until match accepts one
func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]interface{}) bool) map[string]interface{} {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readMessage(t, conn)
		if match(msg) {
			return msg
		}
	}
	t.Fatal("expected message never arrived")
	return nil
}

func viewScene(msg map[string]interface{}) string {
	view, _ := msg["view"].(map[string]interface{})
	scene, _ := view["scene_id"].(string)
	return scene
}

func errorCode(msg map[string]interface{}) string {
	apiErr, _ := msg["error"].(map[string]interface{})
	code, _ := apiErr["code"].(string)
	return code
}

func TestSessionWebSocket(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStorage(0, 0))
	created := srv.session(t, http.MethodPost, "/api/sessions", "")

	httpServer := httptest.NewServer(srv.router)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws/sessions/" + created.SessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	assert.Equal(t, "view", first["type"])
	assert.Equal(t, "prologue", viewScene(first))

	require.NoError(t, conn.WriteJSON(WSIntent{Type: "navigate", SceneID: "hub"}))
	hub := readUntil(t, conn, func(m map[string]interface{}) bool { return viewScene(m) == "hub" })
	assert.Equal(t, created.SessionID, hub["session_id"])

	index := 2
	require.NoError(t, conn.WriteJSON(WSIntent{Type: "choose", Index: &index}))
	rejected := readUntil(t, conn, func(m map[string]interface{}) bool { return m["type"] == "error" })
	assert.Equal(t, ErrorChoiceUnavailable, errorCode(rejected))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "dance"}`)))
	unknown := readUntil(t, conn, func(m map[string]interface{}) bool { return m["type"] == "error" })
	assert.Equal(t, ErrorMessageInvalid, errorCode(unknown))

	// a change made over HTTP is pushed too
	srv.session(t, http.MethodPost, "/api/sessions/"+created.SessionID+"/choices/0", "")
	pushed := readUntil(t, conn, func(m map[string]interface{}) bool { return viewScene(m) == "scriptorium" })
	assert.Equal(t, "view", pushed["type"])

	assert.Eventually(t, func() bool {
		return srv.ws.GetStatus()["total_connections"] == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return srv.ws.GetStatus()["total_connections"] == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketUnknownSessionIsRejected(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStorage(0, 0))
	httpServer := httptest.NewServer(srv.router)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws/sessions/6f1c2a8e-3b1d-4b55-9a53-2b9f1a0d3c11"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
