package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"QFMBot/config"
	"QFMBot/logger"
	"QFMBot/model"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const clientName = "QFMBot/1.0"

// RawTrack 节点返回的曲目结构
type RawTrack struct {
	Encoded string    `json:"encoded"`
	Info    TrackInfo `json:"info"`
}

// TrackInfo 节点曲目元数据，时长单位为毫秒
type TrackInfo struct {
	Identifier string  `json:"identifier"`
	IsSeekable bool    `json:"isSeekable"`
	Author     string  `json:"author"`
	Length     int64   `json:"length"`
	IsStream   bool    `json:"isStream"`
	Position   int64   `json:"position"`
	Title      string  `json:"title"`
	URI        *string `json:"uri"`
	ArtworkURL *string `json:"artworkUrl"`
	ISRC       *string `json:"isrc"`
	SourceName string  `json:"sourceName"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ToTrack 转换成内部曲目
func (r RawTrack) ToTrack() model.Track {
	return model.Track{
		Identifier:    r.Info.Identifier,
		Title:         r.Info.Title,
		Author:        r.Info.Author,
		Duration:      time.Duration(r.Info.Length) * time.Millisecond,
		Source:        r.Info.SourceName,
		URI:           deref(r.Info.URI),
		StartPosition: time.Duration(r.Info.Position) * time.Millisecond,
		Encoded:       r.Encoded,
		Capabilities: model.Capabilities{
			ArtworkURL: deref(r.Info.ArtworkURL),
			ISRC:       deref(r.Info.ISRC),
			IsStream:   r.Info.IsStream,
		},
	}
}

// RawTrackOf 由内部曲目还原节点结构
func RawTrackOf(t model.Track) RawTrack {
	return RawTrack{
		Encoded: t.Encoded,
		Info: TrackInfo{
			Identifier: t.Identifier,
			IsSeekable: !t.Capabilities.IsStream,
			Author:     t.Author,
			Length:     t.Duration.Milliseconds(),
			IsStream:   t.Capabilities.IsStream,
			Position:   t.StartPosition.Milliseconds(),
			Title:      t.Title,
			URI:        ref(t.URI),
			ArtworkURL: ref(t.Capabilities.ArtworkURL),
			ISRC:       ref(t.Capabilities.ISRC),
			SourceName: t.Source,
		},
	}
}

// LavalinkNode 通过 REST 和 websocket 与 Lavalink v4 节点通信
type LavalinkNode struct {
	cfg        config.NodeConfig
	userID     string
	httpClient *http.Client
	limiter    *rate.Limiter

	status  atomic.Int32
	players atomic.Int32

	mu         sync.Mutex
	conn       *websocket.Conn
	sessionID  string
	ready      chan struct{}
	onTrackEnd func(guildID, reason string)
}

// NewLavalinkNode 创建节点，userID 为机器人自身的用户 ID
func NewLavalinkNode(cfg config.NodeConfig, userID string) *LavalinkNode {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Address
	}
	return &LavalinkNode{
		cfg:        cfg,
		userID:     userID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
		ready:      make(chan struct{}),
	}
}

// Name 节点名称
func (n *LavalinkNode) Name() string { return n.cfg.Name }

// Status 当前状态
func (n *LavalinkNode) Status() Status { return Status(n.status.Load()) }

// Players 节点上报的播放器数量
func (n *LavalinkNode) Players() int { return int(n.players.Load()) }

func (n *LavalinkNode) httpURL(path string) string {
	scheme := "http"
	if n.cfg.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, n.cfg.Address, path)
}

func (n *LavalinkNode) wsURL() string {
	scheme := "ws"
	if n.cfg.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/v4/websocket", scheme, n.cfg.Address)
}

// Start 建立 websocket 连接，ready 消息到达后节点变为可用
func (n *LavalinkNode) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Status() != StatusUnavailable {
		return nil
	}
	n.status.Store(int32(StatusConnecting))
	n.ready = make(chan struct{})

	header := http.Header{}
	header.Set("Authorization", n.cfg.Password)
	header.Set("User-Id", n.userID)
	header.Set("Client-Name", clientName)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, n.wsURL(), header)
	if err != nil {
		n.status.Store(int32(StatusUnavailable))
		return fmt.Errorf("connect node %s: %w", n.cfg.Name, err)
	}
	n.conn = conn

	logger.Info("[Node] connected", logger.String("node", n.cfg.Name))
	go n.readLoop(conn, n.ready)
	return nil
}

type wsMessage struct {
	Op        string `json:"op"`
	SessionID string `json:"sessionId"`
	Resumed   bool   `json:"resumed"`
	Players   int    `json:"players"`
	Type      string `json:"type"`
	GuildID   string `json:"guildId"`
	Reason    string `json:"reason"`
}

// OnTrackEnd 设置曲目结束回调，在读取协程中调用
func (n *LavalinkNode) OnTrackEnd(fn func(guildID, reason string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onTrackEnd = fn
}

func (n *LavalinkNode) readLoop(conn *websocket.Conn, ready chan struct{}) {
	var readyOnce sync.Once
	defer func() {
		n.status.Store(int32(StatusUnavailable))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Warn("[Node] connection closed", logger.String("node", n.cfg.Name), logger.ErrorField(err))
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("[Node] bad message", logger.String("node", n.cfg.Name), logger.ErrorField(err))
			continue
		}

		switch msg.Op {
		case "ready":
			n.mu.Lock()
			n.sessionID = msg.SessionID
			n.mu.Unlock()
			n.status.Store(int32(StatusAvailable))
			readyOnce.Do(func() { close(ready) })
			logger.Info("[Node] ready", logger.String("node", n.cfg.Name), logger.String("session", msg.SessionID), logger.Bool("resumed", msg.Resumed))
		case "stats":
			n.players.Store(int32(msg.Players))
		case "event":
			if msg.Type != "TrackEndEvent" {
				continue
			}
			n.mu.Lock()
			fn := n.onTrackEnd
			n.mu.Unlock()
			if fn != nil {
				fn(msg.GuildID, msg.Reason)
			}
		}
	}
}

// WaitForReady 等待 ready 消息
func (n *LavalinkNode) WaitForReady(ctx context.Context) error {
	n.mu.Lock()
	ready := n.ready
	n.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭 websocket 连接
func (n *LavalinkNode) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}

func (n *LavalinkNode) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.httpURL(path), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", n.cfg.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("node %s returned %d: %s", n.cfg.Name, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type loadResponse struct {
	LoadType LoadType        `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

type playlistData struct {
	Info struct {
		Name          string `json:"name"`
		SelectedTrack int    `json:"selectedTrack"`
	} `json:"info"`
	Tracks []RawTrack `json:"tracks"`
}

// LoadTracks 调用 /v4/loadtracks
func (n *LavalinkNode) LoadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	var resp loadResponse
	if err := n.do(ctx, http.MethodGet, "/v4/loadtracks?identifier="+url.QueryEscape(identifier), nil, &resp); err != nil {
		return nil, err
	}
	return parseLoadResponse(resp)
}

func parseLoadResponse(resp loadResponse) (*LoadResult, error) {
	result := &LoadResult{Type: resp.LoadType, SelectedTrack: -1}

	switch resp.LoadType {
	case LoadTrack:
		var t RawTrack
		if err := json.Unmarshal(resp.Data, &t); err != nil {
			return nil, fmt.Errorf("decode track: %w", err)
		}
		result.Tracks = []model.Track{t.ToTrack()}
	case LoadPlaylist:
		var p playlistData
		if err := json.Unmarshal(resp.Data, &p); err != nil {
			return nil, fmt.Errorf("decode playlist: %w", err)
		}
		result.PlaylistName = p.Info.Name
		result.SelectedTrack = p.Info.SelectedTrack
		for _, t := range p.Tracks {
			result.Tracks = append(result.Tracks, t.ToTrack())
		}
	case LoadSearch:
		var tracks []RawTrack
		if err := json.Unmarshal(resp.Data, &tracks); err != nil {
			return nil, fmt.Errorf("decode search: %w", err)
		}
		for _, t := range tracks {
			result.Tracks = append(result.Tracks, t.ToTrack())
		}
	case LoadEmpty:
	case LoadError:
		var e Exception
		if err := json.Unmarshal(resp.Data, &e); err != nil {
			return nil, fmt.Errorf("decode exception: %w", err)
		}
		result.Exception = &e
	default:
		return nil, fmt.Errorf("unknown load type %q", resp.LoadType)
	}
	return result, nil
}

type playerUpdateBody struct {
	Track    *playerTrackBody       `json:"track,omitempty"`
	Position *int64                 `json:"position,omitempty"`
	Volume   *int                   `json:"volume,omitempty"`
	Paused   *bool                  `json:"paused,omitempty"`
	Filters  map[string]interface{} `json:"filters,omitempty"`
}

type playerTrackBody struct {
	Encoded *string `json:"encoded"`
}

func (n *LavalinkNode) playerPath(guildID string) (string, error) {
	n.mu.Lock()
	sessionID := n.sessionID
	n.mu.Unlock()
	if sessionID == "" {
		return "", fmt.Errorf("node %s has no session", n.cfg.Name)
	}
	return fmt.Sprintf("/v4/sessions/%s/players/%s", sessionID, guildID), nil
}

// UpdatePlayer 更新或创建节点上的播放器
func (n *LavalinkNode) UpdatePlayer(ctx context.Context, guildID string, update PlayerUpdate) error {
	path, err := n.playerPath(guildID)
	if err != nil {
		return err
	}

	body := playerUpdateBody{Volume: update.Volume, Paused: update.Paused, Filters: update.Filters}
	switch {
	case update.Stop:
		body.Track = &playerTrackBody{}
	case update.Track != nil:
		body.Track = &playerTrackBody{Encoded: ref(update.Track.Encoded)}
		pos := update.Position.Milliseconds()
		body.Position = &pos
	}
	return n.do(ctx, http.MethodPatch, path, body, nil)
}

// DestroyPlayer 删除节点上的播放器
func (n *LavalinkNode) DestroyPlayer(ctx context.Context, guildID string) error {
	path, err := n.playerPath(guildID)
	if err != nil {
		return err
	}
	return n.do(ctx, http.MethodDelete, path, nil, nil)
}
