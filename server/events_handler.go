package server

import (
	"context"
	"net/http"

	"QFMBot/core/events"
	"QFMBot/logger"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventsHandler 管理面板的事件推送。浏览器无法设置请求头，令牌通过 token 参数传递
func (h *APIHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	if _, err := h.deps.Tokens.ParseToken(r.URL.Query().Get("token")); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	// 升级为 WebSocket 连接
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[Events] WebSocket 升级失败", logger.ErrorField(err))
		return
	}

	client := events.NewClient(h.deps.Events, conn)
	if err := h.deps.Events.Register(client); err != nil {
		conn.Close()
		return
	}

	// 启动读写协程
	go client.WritePump()
	go client.ReadPump(context.Background())
	logger.Info("[Events] WebSocket 连接建立", logger.String("remote", r.RemoteAddr))
}
