package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"QFMBot/core/auth"
	"QFMBot/logger"
)

type contextKey string

const usernameKey contextKey = "username"

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler 校验管理员账号并签发令牌
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("[Login] 解析请求体失败", logger.ErrorField(err))
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if req.Username != h.deps.AdminUsername || !auth.VerifyPassword(req.Password, h.deps.AdminPasswordHash) {
		logger.Warn("[Login] 密码验证失败", logger.String("username", req.Username))
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := h.deps.Tokens.GenerateToken(req.Username)
	if err != nil {
		logger.Error("[Login] 生成Token失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	logger.Info("[Login] 登录成功", logger.String("username", req.Username))
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// AuthMiddleware is a middleware function that checks for a valid JWT token
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "authorization header is required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := h.deps.Tokens.ParseToken(parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetUsernameFromContext extracts the username from the request context
func GetUsernameFromContext(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}
