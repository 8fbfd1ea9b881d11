// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/SceneWeaver/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsPingTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 一个会话的一个连接
type WebSocketClient struct {
	conn      WebSocketConnection
	sessionID string
	send      chan []byte
	done      chan struct{}
	closed    int32 // 0=开启，1=关闭
	lastPing  int64 // unix nano
	createdAt time.Time
	logger    *utils.Logger
}

// NewWebSocketClient wraps conn for sessionID
func NewWebSocketClient(conn WebSocketConnection, sessionID string, logger *utils.Logger) *WebSocketClient {
	now := time.Now()
	return &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, wsSendBuffer),
		done:      make(chan struct{}),
		lastPing:  now.UnixNano(),
		createdAt: now,
		logger:    logger,
	}
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后ping时间
func (client *WebSocketClient) UpdatePing() {
	atomic.StoreInt64(&client.lastPing, time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, atomic.LoadInt64(&client.lastPing))) > timeout
}

// SendMessage queues a JSON message; a full queue drops it
func (client *WebSocketClient) SendMessage(message interface{}) error {
	if client.IsClosed() {
		return nil
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.send <- msgBytes:
	case <-client.done:
	default:
		client.logger.Warn("WebSocket send queue full, message dropped", map[string]interface{}{
			"session_id": client.sessionID,
		})
	}
	return nil
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(code, message string) {
	client.SendMessage(map[string]interface{}{
		"type":      "error",
		"error":     &APIError{Code: code, Message: message},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// WebSocketManager 管理所有 WebSocket 连接, keyed by session id
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{}
	register    chan *WebSocketClient
	unregister  chan *WebSocketClient
	mutex       sync.RWMutex
	pingTimeout time.Duration
	logger      *utils.Logger

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWebSocketManager starts the manager loop; call Shutdown to stop it
func NewWebSocketManager(logger *utils.Logger) *WebSocketManager {
	if logger == nil {
		logger = utils.GetLogger()
	}
	manager := &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		register:    make(chan *WebSocketClient, 64),
		unregister:  make(chan *WebSocketClient, 64),
		pingTimeout: wsPingTimeout,
		logger:      logger,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go manager.run()
	return manager
}

// run 运行 WebSocket 管理器主循环
func (manager *WebSocketManager) run() {
	defer close(manager.done)
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-manager.register:
			manager.registerClient(client)

		case client := <-manager.unregister:
			manager.unregisterClient(client)

		case <-cleanupTicker.C:
			manager.cleanupExpiredConnections()

		case <-manager.quit:
			manager.shutdown()
			return
		}
	}
}

// Register queues client; false once the manager is shut down
func (manager *WebSocketManager) Register(client *WebSocketClient) bool {
	select {
	case manager.register <- client:
		return true
	case <-manager.quit:
		return false
	}
}

// Unregister queues client removal
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	select {
	case manager.unregister <- client:
	case <-manager.quit:
		client.Close()
	}
}

// registerClient 注册新客户端
func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.sessionID][client] = struct{}{}
	client.UpdatePing()

	manager.logger.Info("WebSocket client connected", map[string]interface{}{"session_id": client.sessionID})
}

// unregisterClient 安全注销客户端
func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	if connections, exists := manager.connections[client.sessionID]; exists {
		delete(connections, client)
		if len(connections) == 0 {
			delete(manager.connections, client.sessionID)
		}
	}
	manager.mutex.Unlock()

	client.Close()
	manager.logger.Info("WebSocket client disconnected", map[string]interface{}{"session_id": client.sessionID})
}

// cleanupExpiredConnections 清理过期和死连接
func (manager *WebSocketManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for sessionID, connections := range manager.connections {
		for client := range connections {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				delete(connections, client)
				client.Close()
			}
		}
		if len(connections) == 0 {
			delete(manager.connections, sessionID)
		}
	}
}

// processBatch 处理批量消息发送; clients that cannot keep up are closed
func (manager *WebSocketManager) processBatch(clients []*WebSocketClient, message []byte) {
	for _, client := range clients {
		if client.IsClosed() {
			continue
		}

		select {
		case client.send <- message:
		default:
			client.Close()
			manager.logger.Warn("Slow WebSocket client closed", map[string]interface{}{"session_id": client.sessionID})
		}
	}
}

// shutdown 关闭所有连接
func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, connections := range manager.connections {
		for client := range connections {
			client.Close()
		}
	}
	manager.connections = make(map[string]map[*WebSocketClient]struct{})
	manager.logger.Info("WebSocket manager stopped", nil)
}

// Shutdown stops the loop and closes every connection
func (manager *WebSocketManager) Shutdown() {
	manager.stopOnce.Do(func() {
		close(manager.quit)
		<-manager.done
	})
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	sessions := make(map[string]interface{})
	totalConnections := 0

	for sessionID, connections := range manager.connections {
		active := 0
		for client := range connections {
			if !client.IsClosed() {
				active++
			}
		}
		sessions[sessionID] = map[string]interface{}{"client_count": active}
		totalConnections += active
	}

	return map[string]interface{}{
		"total_sessions":    len(manager.connections),
		"total_connections": totalConnections,
		"sessions":          sessions,
	}
}

// BroadcastToSession 向指定会话的所有连接广播消息
func (manager *WebSocketManager) BroadcastToSession(sessionID string, message interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		manager.logger.Error("Encode broadcast failed", map[string]interface{}{"error": err})
		return
	}

	manager.mutex.RLock()
	connections := manager.connections[sessionID]
	clients := make([]*WebSocketClient, 0, len(connections))
	for client := range connections {
		if !client.IsClosed() {
			clients = append(clients, client)
		}
	}
	manager.mutex.RUnlock()

	if len(clients) > 0 {
		manager.processBatch(clients, msgBytes)
	}
}
