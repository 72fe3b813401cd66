package netease

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"QFMBot/logger"

	"golang.org/x/time/rate"
)

// Client 网易云音乐API客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient 创建新的API客户端，rps <= 0 表示不限速
func NewClient(baseURL string, rps int) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(limit, max(rps, 1)),
	}
}

// BaseURL API基础URL，为空表示未配置
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetTimeout 设置请求超时时间
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// getJSON 发送 GET 请求并解析响应，code 不为 200 时返回错误
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("netease api url not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	// 设置cookie确保返回正常数据
	req.AddCookie(&http.Cookie{Name: "os", Value: "pc"})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("[Netease] 请求失败", logger.String("path", path), logger.ErrorField(err))
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API返回错误状态码: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
