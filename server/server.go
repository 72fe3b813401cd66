package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"QFMBot/core/auth"
	"QFMBot/core/events"
	"QFMBot/core/lifecycle"
	"QFMBot/core/resolver"
	"QFMBot/logger"
	"QFMBot/model"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/mux"
)

// QueryResolver 解析服务
type QueryResolver interface {
	Resolve(ctx context.Context, query string, scope resolver.Scope) resolver.Result
}

// PlaylistReader 读取保存的播放列表
type PlaylistReader interface {
	GetByID(ctx context.Context, id string) (*model.StoredPlaylist, error)
}

// TrackingReader 读取空闲检测快照，不存在时返回 nil
type TrackingReader interface {
	Get(ctx context.Context, sessionID string) (*model.TrackingSnapshot, error)
}

// Sessions 当前存在播放器的会话
type Sessions interface {
	Get(sessionID snowflake.ID) (lifecycle.Player, bool)
	Sessions() []snowflake.ID
}

// Lifecycle 播放器关闭和恢复
type Lifecycle interface {
	Shutdown(ctx context.Context, p lifecycle.Player, params lifecycle.ShutdownParams, reason string) (lifecycle.ShutdownResult, error)
	Resume(ctx context.Context, playlistID string, sessionID, channelID snowflake.ID) (lifecycle.Player, error)
}

// Playback 把解析出的曲目交给会话播放
type Playback interface {
	Play(ctx context.Context, sessionID, channelID snowflake.ID, tracks []model.Track) (created bool, err error)
}

// Deps 管理接口依赖，Tracking 和 Events 可以为 nil
type Deps struct {
	Resolver  QueryResolver
	Playlists PlaylistReader
	Tracking  TrackingReader
	Sessions  Sessions
	Lifecycle Lifecycle
	Playback  Playback
	Tokens    *auth.TokenIssuer
	Events    *events.Hub

	AdminUsername     string
	AdminPasswordHash string
}

// APIHandler 处理所有API请求
type APIHandler struct {
	deps Deps
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(deps Deps) *APIHandler {
	return &APIHandler{deps: deps}
}

// Router 注册全部路由
func (h *APIHandler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	api.HandleFunc("/auth/login", h.LoginHandler).Methods(http.MethodPost)
	api.HandleFunc("/resolve", h.ResolveHandler).Methods(http.MethodGet)
	api.HandleFunc("/playlists/{id}", h.GetPlaylistHandler).Methods(http.MethodGet)
	api.HandleFunc("/playlists/{id}/resume", h.AuthMiddleware(h.ResumePlaylistHandler)).Methods(http.MethodPost)
	api.HandleFunc("/sessions", h.ListSessionsHandler).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/tracking", h.TrackingHandler).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/shutdown", h.AuthMiddleware(h.ShutdownSessionHandler)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/play", h.AuthMiddleware(h.PlayHandler)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/skip", h.AuthMiddleware(h.SkipHandler)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/pause", h.AuthMiddleware(h.PauseHandler)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/volume", h.AuthMiddleware(h.VolumeHandler)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/loop", h.AuthMiddleware(h.LoopHandler)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/effects", h.AuthMiddleware(h.EffectsHandler)).Methods(http.MethodPost)
	api.HandleFunc("/events", h.EventsHandler).Methods(http.MethodGet)
	return router
}

// 添加 CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run 启动 HTTP 服务，ctx 结束后在 5 秒内优雅关闭
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] 管理接口启动", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("[Server] Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
