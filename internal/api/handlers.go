// internal/api/handlers.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/SceneWeaver/internal/errors"
	"github.com/Corphon/SceneWeaver/internal/models"
	"github.com/Corphon/SceneWeaver/internal/services"
	"github.com/Corphon/SceneWeaver/internal/utils"
)

// Handler 处理 HTTP 请求
type Handler struct {
	sessions *services.SessionManager
	ws       *WebSocketManager
	resp     *ResponseHelper
	logger   *utils.Logger

	// savePacing persists pacing changes; nil keeps them in memory only
	savePacing func(autoAdvance, reveal time.Duration) error
}

// NewHandler 创建 HTTP 处理器
func NewHandler(sessions *services.SessionManager, ws *WebSocketManager, logger *utils.Logger) *Handler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Handler{
		sessions: sessions,
		ws:       ws,
		resp:     NewResponseHelper(),
		logger:   logger,
	}
}

// SessionPayload is the body of every session response
type SessionPayload struct {
	SessionID string              `json:"session_id"`
	View      models.SceneView    `json:"view"`
	State     *models.PlayerState `json:"state"`
}

// CreateSessionRequest restores session_id when given, otherwise starts a new one
type CreateSessionRequest struct {
	SessionID string `json:"session_id"`
}

// NavigateRequest 跳转请求
type NavigateRequest struct {
	SceneID string `json:"scene_id" binding:"required"`
}

// PlayerNameRequest 名字输入
type PlayerNameRequest struct {
	Name string `json:"name" binding:"required"`
}

// PacingRequest 叙事节奏 in milliseconds
type PacingRequest struct {
	AutoAdvanceDelayMS *int64 `json:"auto_advance_delay_ms" binding:"required,min=0"`
	RevealDelayMS      *int64 `json:"reveal_delay_ms" binding:"required,min=0"`
}

func payloadOf(session *services.GameSession) SessionPayload {
	return SessionPayload{
		SessionID: session.ID,
		View:      session.View(),
		State:     session.Snapshot(),
	}
}

// loadSession writes the error response itself when the session is unusable
func (h *Handler) loadSession(c *gin.Context) (*services.GameSession, bool) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		return session, true
	case apperrors.IsNotFoundError(err):
		h.resp.NotFound(c, "session", err.Error())
	case apperrors.IsValidationError(err):
		h.resp.Error(c, http.StatusBadRequest, ErrorSessionInvalid, err.Error())
	default:
		h.resp.Fail(c, err)
	}
	return nil, false
}

// CreateSession POST /api/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.resp.BadRequest(c, "invalid request body", err.Error())
			return
		}
	}

	if req.SessionID != "" {
		session, err := h.sessions.Get(c.Request.Context(), req.SessionID)
		if err != nil {
			if apperrors.IsNotFoundError(err) {
				h.resp.NotFound(c, "session", err.Error())
				return
			}
			if apperrors.IsValidationError(err) {
				h.resp.Error(c, http.StatusBadRequest, ErrorSessionInvalid, err.Error())
				return
			}
			h.resp.Fail(c, err)
			return
		}
		h.resp.Success(c, payloadOf(session), "session restored")
		return
	}

	session, err := h.sessions.Create(c.Request.Context())
	if err != nil {
		h.resp.Fail(c, err)
		return
	}
	h.resp.Created(c, payloadOf(session), "session created")
}

// GetSession GET /api/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}
	h.resp.Success(c, payloadOf(session))
}

// Advance POST /api/sessions/:id/advance
func (h *Handler) Advance(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}
	acted := session.Advance()
	h.resp.Success(c, gin.H{
		"acted":   acted,
		"session": payloadOf(session),
	})
}

// Choose POST /api/sessions/:id/choices/:index
func (h *Handler) Choose(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		h.resp.Error(c, http.StatusBadRequest, ErrorChoiceInvalid, "choice index must be an integer")
		return
	}
	if err := session.Choose(index); err != nil {
		h.resp.Fail(c, err)
		return
	}
	h.resp.Success(c, payloadOf(session))
}

// Navigate POST /api/sessions/:id/navigate. A missing scene is a NotFound
// view, not a request error.
func (h *Handler) Navigate(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.resp.BadRequest(c, "scene_id is required", err.Error())
		return
	}
	session.Navigate(req.SceneID)
	h.resp.Success(c, payloadOf(session))
}

// Reset POST /api/sessions/:id/reset
func (h *Handler) Reset(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}
	if err := session.Reset(c.Request.Context()); err != nil {
		h.resp.Fail(c, err)
		return
	}
	h.resp.Success(c, payloadOf(session), "new game started")
}

// SetPlayerName PUT /api/sessions/:id/player/name
func (h *Handler) SetPlayerName(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}
	var req PlayerNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.resp.BadRequest(c, "name is required", err.Error())
		return
	}
	if err := session.SetPlayerName(req.Name); err != nil {
		h.resp.Fail(c, err)
		return
	}
	h.resp.Success(c, payloadOf(session))
}

// Save POST /api/sessions/:id/save
func (h *Handler) Save(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}
	record, err := session.Save(c.Request.Context())
	if err != nil {
		h.resp.Fail(c, err)
		return
	}
	h.resp.Success(c, record, "saved")
}

// ListScenes GET /api/scenes
func (h *Handler) ListScenes(c *gin.Context) {
	catalog := h.sessions.Catalog()
	h.resp.Success(c, gin.H{
		"source":   catalog.Source(),
		"start":    catalog.Start(),
		"scenes":   catalog.SceneIDs(),
		"entries":  catalog.Entries(),
		"glyphs":   catalog.Glyphs(),
		"factions": catalog.Factions(),
	})
}

func pacingBody(cfg services.NavigatorConfig) gin.H {
	return gin.H{
		"auto_advance_delay_ms": cfg.AutoAdvanceDelay.Milliseconds(),
		"reveal_delay_ms":       cfg.RevealDelay.Milliseconds(),
	}
}

// GetPacing GET /api/config/pacing
func (h *Handler) GetPacing(c *gin.Context) {
	h.resp.Success(c, pacingBody(h.sessions.Pacing()))
}

// UpdatePacing PUT /api/config/pacing. New and restored sessions use the
// new delays; live sessions keep theirs.
func (h *Handler) UpdatePacing(c *gin.Context) {
	var req PacingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.resp.BadRequest(c, "Invalid pacing", err.Error())
		return
	}
	cfg := services.NavigatorConfig{
		AutoAdvanceDelay: time.Duration(*req.AutoAdvanceDelayMS) * time.Millisecond,
		RevealDelay:      time.Duration(*req.RevealDelayMS) * time.Millisecond,
	}
	if h.savePacing != nil {
		if err := h.savePacing(cfg.AutoAdvanceDelay, cfg.RevealDelay); err != nil {
			h.logger.Error("Persist pacing failed", map[string]interface{}{"error": err})
			h.resp.InternalError(c, "Failed to save pacing", err.Error())
			return
		}
	}
	h.sessions.SetPacing(cfg)
	h.resp.Success(c, pacingBody(cfg))
}

// GetScene GET /api/scenes/:id
func (h *Handler) GetScene(c *gin.Context) {
	catalog := h.sessions.Catalog()
	node, err := catalog.Lookup(c.Param("id"))
	if err != nil {
		h.resp.NotFound(c, "scene", err.Error())
		return
	}
	h.resp.Success(c, gin.H{
		"scene":      node,
		"successors": catalog.Successors(node.ID),
	})
}

// Health GET /api/health
func (h *Handler) Health(c *gin.Context) {
	catalog := h.sessions.Catalog()
	h.resp.Success(c, gin.H{
		"status":          "ok",
		"content_source":  catalog.Source(),
		"scene_count":     catalog.Len(),
		"active_sessions": len(h.sessions.IDs()),
		"websocket":       h.ws.GetStatus(),
	})
}

// Metrics GET /api/metrics
func (h *Handler) Metrics(c *gin.Context) {
	h.resp.Success(c, h.sessions.Metrics().Collector().GetMetrics())
}

// WebSocketStatus GET /api/ws/status
func (h *Handler) WebSocketStatus(c *gin.Context) {
	h.resp.Success(c, h.ws.GetStatus())
}
