// internal/api/websocket_handlers.go
package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/SceneWeaver/internal/models"
	"github.com/Corphon/SceneWeaver/internal/services"
)

// WSIntent 客户端消息
type WSIntent struct {
	Type    string `json:"type"`
	Index   *int   `json:"index,omitempty"`
	SceneID string `json:"scene_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

// WSView 服务端推送
type WSView struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	View      models.SceneView `json:"view"`
	Timestamp string           `json:"timestamp"`
}

func viewMessage(sessionID string, view models.SceneView) WSView {
	return WSView{
		Type:      "view",
		SessionID: sessionID,
		View:      view,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// SessionWebSocket GET /ws/sessions/:id. Every view change of the session is
// pushed; intents arrive as WSIntent messages.
func (h *Handler) SessionWebSocket(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", map[string]interface{}{
			"session_id": session.ID,
			"error":      err,
		})
		return
	}

	client := NewWebSocketClient(conn, session.ID, h.logger)
	if !h.ws.Register(client) {
		client.Close()
		return
	}

	// 连接存活期间不做空闲回收
	release := session.Hold()
	defer release()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(client)
	}()

	cancel := session.Navigator.OnChange(func(view models.SceneView) {
		client.SendMessage(viewMessage(session.ID, view))
	})
	client.SendMessage(viewMessage(session.ID, session.View()))

	h.readPump(client, session)

	cancel()
	h.ws.Unregister(client)
	client.Close()
	wg.Wait()
}

// readPump 处理 WebSocket 读取 until the connection fails
func (h *Handler) readPump(client *WebSocketClient, session *services.GameSession) {
	client.conn.SetReadDeadline(time.Now().Add(wsPingTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		session.Touch()
		return client.conn.SetReadDeadline(time.Now().Add(wsPingTimeout))
	})

	for !client.IsClosed() {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read failed", map[string]interface{}{
					"session_id": client.sessionID,
					"error":      err,
				})
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsPingTimeout))

		var intent WSIntent
		if err := json.Unmarshal(data, &intent); err != nil {
			client.SendError(ErrorMessageInvalid, "message is not valid JSON")
			continue
		}
		h.handleIntent(client, session, intent)
	}
}

// writePump 处理 WebSocket 写入 and keepalive pings
func (h *Handler) writePump(client *WebSocketClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return

		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				client.Close()
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		}
	}
}

// handleIntent 处理收到的消息
func (h *Handler) handleIntent(client *WebSocketClient, session *services.GameSession, intent WSIntent) {
	switch intent.Type {
	case "advance":
		if !session.Advance() {
			client.SendMessage(gin.H{"type": "ignored", "intent": "advance"})
		}

	case "choose":
		if intent.Index == nil {
			client.SendError(ErrorChoiceInvalid, "index is required")
			return
		}
		if err := session.Choose(*intent.Index); err != nil {
			_, code := classifyError(err)
			client.SendError(code, err.Error())
		}

	case "navigate":
		if intent.SceneID == "" {
			client.SendError(ErrorMessageInvalid, "scene_id is required")
			return
		}
		session.Navigate(intent.SceneID)

	case "set_name":
		if err := session.SetPlayerName(intent.Name); err != nil {
			_, code := classifyError(err)
			client.SendError(code, err.Error())
			return
		}
		client.SendMessage(viewMessage(session.ID, session.View()))

	case "reset":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := session.Reset(ctx); err != nil {
			_, code := classifyError(err)
			client.SendError(code, err.Error())
		}

	case "ping":
		client.SendMessage(gin.H{"type": "pong", "timestamp": time.Now().Format(time.RFC3339)})

	default:
		client.SendError(ErrorMessageInvalid, "unknown message type "+intent.Type)
	}
}
