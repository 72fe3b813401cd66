package node

import (
	"context"
	"errors"
	"time"

	"QFMBot/model"
)

// ErrNoAvailableNode 没有处于可用状态的节点
var ErrNoAvailableNode = errors.New("no available node")

// Status 节点连接状态
type Status int32

const (
	StatusUnavailable Status = iota
	StatusConnecting
	StatusAvailable
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusAvailable:
		return "available"
	default:
		return "unavailable"
	}
}

// RequestType 请求类别，用于选择节点
type RequestType int

const (
	RequestLoadTrack RequestType = iota
	RequestPlayback
)

// SearchMode 搜索前缀
type SearchMode string

const (
	SearchNone         SearchMode = ""
	SearchYouTube      SearchMode = "ytsearch"
	SearchYouTubeMusic SearchMode = "ytmsearch"
	SearchSoundCloud   SearchMode = "scsearch"
)

// Identifier 拼出节点可识别的加载标识
func Identifier(mode SearchMode, query string) string {
	if mode == SearchNone {
		return query
	}
	return string(mode) + ":" + query
}

// LoadType 加载结果类别
type LoadType string

const (
	LoadTrack    LoadType = "track"
	LoadPlaylist LoadType = "playlist"
	LoadSearch   LoadType = "search"
	LoadEmpty    LoadType = "empty"
	LoadError    LoadType = "error"
)

// Exception 节点返回的加载错误
type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"` // common / suspicious / fault
	Cause    string `json:"cause"`
}

func (e *Exception) Error() string {
	return e.Message
}

// LoadResult 一次加载的结果
type LoadResult struct {
	Type          LoadType
	Tracks        []model.Track
	PlaylistName  string
	SelectedTrack int
	Exception     *Exception
}

// First 返回第一首曲目
func (r *LoadResult) First() (model.Track, bool) {
	if r == nil || len(r.Tracks) == 0 {
		return model.Track{}, false
	}
	return r.Tracks[0], true
}

// Node 一个音频后端节点
type Node interface {
	Name() string
	Status() Status
	// Start 建立连接，不等待就绪
	Start(ctx context.Context) error
	// WaitForReady 阻塞到节点就绪或 ctx 结束
	WaitForReady(ctx context.Context) error
	LoadTracks(ctx context.Context, identifier string) (*LoadResult, error)
	// Players 节点上的播放器数量，用于播放请求的负载均衡
	Players() int
}

// PlayerUpdate 更新节点播放器的参数，零值字段不发送
type PlayerUpdate struct {
	// Stop 为 true 时停止当前曲目，忽略 Track
	Stop     bool
	Track    *model.Track
	Position time.Duration
	Volume   *int
	Paused   *bool
	Filters  map[string]interface{}
}

// PlayerNode 可以承载播放器的节点
type PlayerNode interface {
	Node
	UpdatePlayer(ctx context.Context, guildID string, update PlayerUpdate) error
	DestroyPlayer(ctx context.Context, guildID string) error
}

// TrackEndNotifier 能推送曲目结束事件的节点
type TrackEndNotifier interface {
	OnTrackEnd(fn func(guildID, reason string))
}
