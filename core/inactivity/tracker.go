package inactivity

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// ExecutionMode 检测器的运行方式
type ExecutionMode int

const (
	// Realtime 在引擎运行期间只调用一次 Run，由事件驱动
	Realtime ExecutionMode = iota
	// Polled 每个轮询周期调用一次 Run
	Polled
)

// Tracker 为会话提供活跃/空闲信号
type Tracker interface {
	Label() string
	Mode() ExecutionMode
	// Timeout 该检测器的超时，0 表示使用引擎默认值
	Timeout() time.Duration
	Run(ctx context.Context, scope *Scope) error
}

// SessionRef 被检测的会话
type SessionRef struct {
	ID        snowflake.ID
	ChannelID snowflake.ID
}

// Scope 一个检测器一次运行期间可用的操作
type Scope struct {
	engine  *Engine
	tracker Tracker
	// tracked 只有实时检测器的 Scope 才有
	tracked chan snowflake.ID
}

// Tracked 新加入检测或换了频道的会话。轮询检测器得到 nil 通道
func (s *Scope) Tracked() <-chan snowflake.ID {
	return s.tracked
}

// MarkActive 清除该检测器对会话的计时
func (s *Scope) MarkActive(sessionID snowflake.ID) {
	s.engine.report(sessionID, s.tracker.Label(), false, 0)
}

// MarkInactive 开始计时，timeout 为 0 时依次使用检测器和引擎的默认值。
// 已在计时中的不会重置 TrackedSince。
func (s *Scope) MarkInactive(sessionID snowflake.ID, timeout time.Duration) {
	if timeout <= 0 {
		timeout = s.tracker.Timeout()
	}
	if timeout <= 0 {
		timeout = s.engine.options().DefaultTimeout
	}
	s.engine.report(sessionID, s.tracker.Label(), true, timeout)
}

// Sessions 当前被检测的会话
func (s *Scope) Sessions() []SessionRef {
	return s.engine.Sessions()
}

// Channel 会话所在的语音频道
func (s *Scope) Channel(sessionID snowflake.ID) (snowflake.ID, bool) {
	return s.engine.channel(sessionID)
}
