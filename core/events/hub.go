package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"QFMBot/logger"
	"QFMBot/model"

	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	MsgTypePing      MessageType = "ping"      // 心跳
	MsgTypePong      MessageType = "pong"      // 心跳响应
	MsgTypeSubscribe MessageType = "subscribe" // 只接收某个会话的消息，sessionId 为空表示全部
	MsgTypeTracking  MessageType = "tracking"  // 空闲检测状态更新
	MsgTypeUntracked MessageType = "untracked" // 会话结束检测
)

// ErrHubStopped Hub 已停止
var ErrHubStopped = errors.New("event hub stopped")

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client WebSocket 客户端
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte

	mu     sync.RWMutex
	filter string
	closed bool
}

// NewClient 创建客户端，需要调用 Hub.Register 后再启动读写循环
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 64)}
}

// Hub 管理面板的事件推送中心
type Hub struct {
	clients map[*Client]bool

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// 广播通道
	broadcast chan *BroadcastMessage

	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

// BroadcastMessage 广播消息
type BroadcastMessage struct {
	SessionID string
	Message   []byte
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Debug("[Events] client registered", logger.Int("clients", h.ClientCount()))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closeSend()
	}
}

func (h *Hub) broadcastMessage(msg *BroadcastMessage) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if !client.wants(msg.SessionID) {
			continue
		}
		select {
		case client.Send <- msg.Message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	// 发送缓冲区已满的客户端直接断开
	for _, client := range slow {
		h.removeClient(client)
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) error {
	if h.stopped() {
		return ErrHubStopped
	}
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) send(ctx context.Context, msg *WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if h.stopped() {
		return ErrHubStopped
	}
	select {
	case h.broadcast <- &BroadcastMessage{SessionID: msg.SessionID, Message: data}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish 推送空闲检测快照
func (h *Hub) Publish(ctx context.Context, snap model.TrackingSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return h.send(ctx, &WSMessage{Type: MsgTypeTracking, SessionID: snap.SessionID, Data: data})
}

// Remove 推送会话结束检测
func (h *Hub) Remove(ctx context.Context, sessionID string) error {
	return h.send(ctx, &WSMessage{Type: MsgTypeUntracked, SessionID: sessionID})
}

// ========== Client 方法 ==========

func (c *Client) wants(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter == "" || c.filter == sessionID
}

func (c *Client) setFilter(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = sessionID
}

// ReadPump 读取消息循环，处理心跳和订阅
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096) // 4KB
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("[Events] websocket read error", logger.ErrorField(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("[Events] invalid message format", logger.ErrorField(err))
			continue
		}

		switch msg.Type {
		case MsgTypePing:
			c.reply(&WSMessage{Type: MsgTypePong})
		case MsgTypeSubscribe:
			c.setFilter(msg.SessionID)
			c.reply(&WSMessage{Type: MsgTypeSubscribe, SessionID: msg.SessionID})
		}
	}
}

func (c *Client) reply(msg *WSMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// WritePump 写入消息循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
