package lifecycle

import (
	"context"
	"time"

	"QFMBot/model"

	"github.com/disgoorg/snowflake/v2"
)

// LoopMode 循环模式
type LoopMode int

const (
	LoopOff LoopMode = iota
	LoopTrack
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return "off"
	}
}

// ParseLoopMode 解析 off/track/queue
func ParseLoopMode(s string) (LoopMode, bool) {
	switch s {
	case "off":
		return LoopOff, true
	case "track":
		return LoopTrack, true
	case "queue":
		return LoopQueue, true
	}
	return LoopOff, false
}

// Snapshot 关闭时捕获的播放器状态，只在一次关闭流程中使用
type Snapshot struct {
	SessionID snowflake.ID
	ChannelID snowflake.ID
	Current   *model.Track
	Position  time.Duration
	History   []model.Track
	Queue     []model.Track
	Loop      LoopMode
	Effects   map[string]interface{}
	Volume    int
}

// LaunchOptions 创建播放器时的初始状态
type LaunchOptions struct {
	Track   *model.Track
	History []model.Track
	Queue   []model.Track
	Loop    LoopMode
	Effects map[string]interface{}
	Volume  int
}

// LaunchOptions 当前曲目从捕获的位置继续播放
func (s Snapshot) LaunchOptions() LaunchOptions {
	opts := LaunchOptions{
		History: s.History,
		Queue:   s.Queue,
		Loop:    s.Loop,
		Effects: s.Effects,
		Volume:  s.Volume,
	}
	if s.Current != nil {
		t := s.Current.WithStartPosition(s.Position)
		opts.Track = &t
	}
	return opts
}

// HistoryEntry 展示在队列历史中的一行，Track 为空时是一条提示
type HistoryEntry struct {
	Track *model.Track
	Note  string
}

// Display 播放器的展示端，例如频道里的控制面板消息
type Display interface {
	// ExecuteShutdown 渲染最终的停止状态
	ExecuteShutdown(ctx context.Context, title, reason string) error
	// NotifyReconnect 提示可以用 resumeID 恢复
	NotifyReconnect(ctx context.Context, resumeID, reason string) error
	ChangePlayer(ctx context.Context, p Player) error
	WriteToQueueHistory(ctx context.Context, entries []HistoryEntry) error
}

// Player 生命周期管理器操作的播放器
type Player interface {
	SessionID() snowflake.ID
	// Freeze 停止接受外部修改并返回当前状态，已经冻结时 ok 为 false
	Freeze() (snap Snapshot, ok bool)
	// Thaw 关闭被中断时恢复接受修改
	Thaw()
	// DetachDisplays 移除并返回全部展示端
	DetachDisplays() []Display
	AttachDisplay(d Display)
	Destroy(ctx context.Context) error
}

// Players 按会话查找播放器
type Players interface {
	Get(sessionID snowflake.ID) (Player, bool)
}

// PlayerFactory 为会话创建新播放器
type PlayerFactory interface {
	Acquire(ctx context.Context, sessionID, channelID snowflake.ID, opts LaunchOptions) (Player, error)
}
