package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"QFMBot/core/codec"
	"QFMBot/core/lifecycle"
	"QFMBot/core/node"
	"QFMBot/logger"
	"QFMBot/repository"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/mux"
)

// ShutdownRequest 手动关闭播放器，缺省时保存播放列表并关闭展示端
type ShutdownRequest struct {
	Reason           string `json:"reason"`
	SavePlaylist     *bool  `json:"savePlaylist"`
	ShutdownDisplays *bool  `json:"shutdownDisplays"`
	Restart          bool   `json:"restart"`
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

// ShutdownSessionHandler 关闭会话的播放器
func (h *APIHandler) ShutdownSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req ShutdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = lifecycle.StoppedTitle
	}

	p, ok := h.deps.Sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session has no player")
		return
	}

	params := lifecycle.ShutdownParams{
		SavePlaylist:     boolOr(req.SavePlaylist, true),
		ShutdownDisplays: boolOr(req.ShutdownDisplays, true),
		RestartPlayer:    req.Restart,
		AuthorID:         GetUsernameFromContext(r.Context()),
	}
	result, err := h.deps.Lifecycle.Shutdown(r.Context(), p, params, req.Reason)
	if err != nil {
		if errors.Is(err, codec.ErrNoCodec) || errors.Is(err, lifecycle.ErrShuttingDown) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		logger.Error("[Server] 关闭播放器失败", logger.Session(id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "shutdown failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ResumeRequest 恢复播放列表的目标会话和频道
type ResumeRequest struct {
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId"`
}

// ResumePlaylistHandler 从保存的播放列表恢复播放器
func (h *APIHandler) ResumePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	playlistID := mux.Vars(r)["id"]

	var req ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID, err := snowflake.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	channelID, err := snowflake.Parse(req.ChannelID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel id")
		return
	}

	p, err := h.deps.Lifecycle.Resume(r.Context(), playlistID, sessionID, channelID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPlaylistNotFound):
			writeError(w, http.StatusNotFound, "playlist not found")
		case errors.Is(err, node.ErrNoAvailableNode):
			writeError(w, http.StatusServiceUnavailable, "no audio node available")
		case errors.Is(err, codec.ErrNoCodec):
			writeError(w, http.StatusConflict, err.Error())
		default:
			logger.Error("[Server] 恢复播放列表失败", logger.String("playlist_id", playlistID), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "resume failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sessionId":  p.SessionID().String(),
		"playlistId": playlistID,
	})
}
