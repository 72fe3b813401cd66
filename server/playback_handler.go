package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"QFMBot/core/lifecycle"
	"QFMBot/core/node"
	"QFMBot/core/player"
	"QFMBot/core/resolver"
	"QFMBot/logger"

	"github.com/disgoorg/snowflake/v2"
)

// PlayRequest 解析查询并交给会话播放，会话没有播放器时需要 channelId
type PlayRequest struct {
	Query     string `json:"query"`
	ChannelID string `json:"channelId"`
}

// PlayHandler 解析并播放，已有播放器时加入队列
func (h *APIHandler) PlayHandler(w http.ResponseWriter, r *http.Request) {
	if h.deps.Playback == nil {
		writeError(w, http.StatusServiceUnavailable, "playback not configured")
		return
	}
	id, ok := sessionIDFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req PlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	var channelID snowflake.ID
	if req.ChannelID != "" {
		parsed, err := snowflake.Parse(req.ChannelID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid channel id")
			return
		}
		channelID = parsed
	}

	result := h.deps.Resolver.Resolve(r.Context(), req.Query, resolver.Scope{SessionID: id})
	if !result.Success() {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}

	created, err := h.deps.Playback.Play(r.Context(), id, channelID, result.Tracks)
	if err != nil {
		switch {
		case errors.Is(err, player.ErrNoChannel), errors.Is(err, player.ErrNoTracks):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, player.ErrFrozen):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, node.ErrNoAvailableNode):
			writeError(w, http.StatusServiceUnavailable, "no audio node available")
		default:
			logger.Error("[Server] 播放失败", logger.Session(id), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "play failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId":    id.String(),
		"created":      created,
		"tracks":       len(result.Tracks),
		"playlistName": result.PlaylistName,
	})
}

// playerControls 播放器支持的控制操作
type playerControls interface {
	Skip(ctx context.Context) error
	Pause(ctx context.Context, paused bool) error
	SetVolume(ctx context.Context, volume int) error
	SetEffects(ctx context.Context, effects map[string]interface{}) error
	SetLoop(mode lifecycle.LoopMode) error
}

// control 找到会话播放器，解析请求体后执行 fn
func (h *APIHandler) control(w http.ResponseWriter, r *http.Request, body interface{}, fn func(playerControls) error) {
	id, ok := sessionIDFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if body != nil {
		if err := json.NewDecoder(r.Body).Decode(body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	p, ok := h.deps.Sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session has no player")
		return
	}
	controls, ok := p.(playerControls)
	if !ok {
		writeError(w, http.StatusNotImplemented, "player does not support controls")
		return
	}
	if err := fn(controls); err != nil {
		var bad *badRequestError
		switch {
		case errors.As(err, &bad):
			writeError(w, http.StatusBadRequest, bad.msg)
		case errors.Is(err, player.ErrFrozen):
			writeError(w, http.StatusConflict, err.Error())
		default:
			logger.Error("[Server] 播放器控制失败", logger.Session(id), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "control failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

// SkipHandler 跳到下一首
func (h *APIHandler) SkipHandler(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, nil, func(p playerControls) error {
		return p.Skip(r.Context())
	})
}

// PauseHandler 暂停或继续
func (h *APIHandler) PauseHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused bool `json:"paused"`
	}
	h.control(w, r, &req, func(p playerControls) error {
		return p.Pause(r.Context(), req.Paused)
	})
}

// VolumeHandler 设置音量，范围 0-1000
func (h *APIHandler) VolumeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume int `json:"volume"`
	}
	h.control(w, r, &req, func(p playerControls) error {
		if req.Volume < 0 || req.Volume > 1000 {
			return &badRequestError{msg: "volume must be between 0 and 1000"}
		}
		return p.SetVolume(r.Context(), req.Volume)
	})
}

// LoopHandler 设置循环模式 off/track/queue
func (h *APIHandler) LoopHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	h.control(w, r, &req, func(p playerControls) error {
		mode, ok := lifecycle.ParseLoopMode(req.Mode)
		if !ok {
			return &badRequestError{msg: "mode must be off, track or queue"}
		}
		return p.SetLoop(mode)
	})
}

// EffectsHandler 替换节点音效，请求体原样作为 filters
func (h *APIHandler) EffectsHandler(w http.ResponseWriter, r *http.Request) {
	effects := make(map[string]interface{})
	h.control(w, r, &effects, func(p playerControls) error {
		return p.SetEffects(r.Context(), effects)
	})
}
