package inactivity

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// PlaybackState 查询会话是否在播放
type PlaybackState interface {
	IsPlaying(sessionID snowflake.ID) bool
}

// IdlePlayerTracker 没有在播放的会话视为空闲
type IdlePlayerTracker struct {
	state   PlaybackState
	label   string
	timeout time.Duration
}

// NewIdlePlayerTracker 创建轮询检测器
func NewIdlePlayerTracker(state PlaybackState, label string, timeout time.Duration) *IdlePlayerTracker {
	if label == "" {
		label = "idle-player"
	}
	return &IdlePlayerTracker{state: state, label: label, timeout: timeout}
}

func (t *IdlePlayerTracker) Label() string { return t.label }
func (t *IdlePlayerTracker) Mode() ExecutionMode { return Polled }
func (t *IdlePlayerTracker) Timeout() time.Duration { return t.timeout }

func (t *IdlePlayerTracker) Run(ctx context.Context, scope *Scope) error {
	for _, s := range scope.Sessions() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.state.IsPlaying(s.ID) {
			scope.MarkActive(s.ID)
		} else {
			scope.MarkInactive(s.ID, t.timeout)
		}
	}
	return nil
}
