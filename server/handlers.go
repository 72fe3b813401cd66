package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"QFMBot/core/resolver"
	"QFMBot/logger"
	"QFMBot/repository"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/mux"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[Server] 写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionIDFromPath 解析路径中的会话 ID
func sessionIDFromPath(r *http.Request) (snowflake.ID, bool) {
	id, err := snowflake.Parse(mux.Vars(r)["id"])
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// HealthHandler 健康检查
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": len(h.deps.Sessions.Sessions()),
	})
}

// ResolveHandler 解析查询并返回曲目，失败时返回 422 和失败原因
func (h *APIHandler) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	var scope resolver.Scope
	if raw := r.URL.Query().Get("session"); raw != "" {
		id, err := snowflake.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		scope.SessionID = id
	}

	result := h.deps.Resolver.Resolve(r.Context(), query, scope)
	if !result.Success() {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetPlaylistHandler 返回保存的播放列表
func (h *APIHandler) GetPlaylistHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	playlist, err := h.deps.Playlists.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrPlaylistNotFound) {
			writeError(w, http.StatusNotFound, "playlist not found")
			return
		}
		logger.Error("[Server] 查询播放列表失败", logger.String("playlist_id", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to load playlist")
		return
	}
	writeJSON(w, http.StatusOK, playlist)
}

// sessionInfo 播放器可选提供的展示信息
type sessionInfo interface {
	ChannelID() snowflake.ID
	Playing() bool
}

// ListSessionsHandler 列出存在播放器的会话
func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	type sessionView struct {
		ID        string `json:"id"`
		ChannelID string `json:"channelId"`
		Playing   bool   `json:"playing"`
	}

	ids := h.deps.Sessions.Sessions()
	out := make([]sessionView, 0, len(ids))
	for _, id := range ids {
		p, ok := h.deps.Sessions.Get(id)
		if !ok {
			continue
		}
		view := sessionView{ID: id.String()}
		if info, ok := p.(sessionInfo); ok {
			view.ChannelID = info.ChannelID().String()
			view.Playing = info.Playing()
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

// TrackingHandler 返回会话的空闲检测快照
func (h *APIHandler) TrackingHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if h.deps.Tracking == nil {
		writeError(w, http.StatusServiceUnavailable, "tracking cache not configured")
		return
	}

	snap, err := h.deps.Tracking.Get(r.Context(), id.String())
	if err != nil {
		logger.Error("[Server] 读取空闲检测状态失败", logger.Session(id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to load tracking state")
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "session is not tracked")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
