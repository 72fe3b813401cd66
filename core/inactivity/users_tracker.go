package inactivity

import (
	"context"
	"time"

	"QFMBot/logger"

	"github.com/disgoorg/snowflake/v2"
)

// MembershipEvent 某个会话的语音频道成员发生变化
type MembershipEvent struct {
	SessionID snowflake.ID
	// Channels 变化涉及的频道，离开和加入的频道都会列出
	Channels []snowflake.ID
}

// MembershipSource 语音频道成员来源
type MembershipSource interface {
	Members(ctx context.Context, sessionID, channelID snowflake.ID, includeBots bool) ([]snowflake.ID, error)
	// Subscribe 注册事件回调，返回的函数用于取消订阅
	Subscribe(fn func(MembershipEvent)) (unsubscribe func())
}

// UsersInChannelTracker 频道内成员数低于阈值时认为空闲
type UsersInChannelTracker struct {
	source      MembershipSource
	label       string
	timeout     time.Duration
	threshold   int
	excludeBots bool
}

// UsersInChannelOptions 成员检测器配置
type UsersInChannelOptions struct {
	Label       string
	Timeout     time.Duration
	Threshold   int
	ExcludeBots bool
}

// NewUsersInChannelTracker 创建成员检测器，Threshold 至少为 1
func NewUsersInChannelTracker(source MembershipSource, opts UsersInChannelOptions) *UsersInChannelTracker {
	if opts.Label == "" {
		opts.Label = "users-in-channel"
	}
	if opts.Threshold < 1 {
		opts.Threshold = 1
	}
	return &UsersInChannelTracker{
		source:      source,
		label:       opts.Label,
		timeout:     opts.Timeout,
		threshold:   opts.Threshold,
		excludeBots: opts.ExcludeBots,
	}
}

func (t *UsersInChannelTracker) Label() string { return t.label }
func (t *UsersInChannelTracker) Mode() ExecutionMode { return Realtime }
func (t *UsersInChannelTracker) Timeout() time.Duration { return t.timeout }

// Run 订阅成员变化直到 ctx 结束，任何退出路径都会取消订阅。
// 引擎启动后才加入的会话通过 scope.Tracked 立即检查一次
func (t *UsersInChannelTracker) Run(ctx context.Context, scope *Scope) error {
	events := make(chan MembershipEvent, 64)
	unsubscribe := t.source.Subscribe(func(ev MembershipEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	for _, s := range scope.Sessions() {
		t.evaluate(ctx, scope, s.ID)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if t.relevant(scope, ev) {
				t.evaluate(ctx, scope, ev.SessionID)
			}
		case id := <-scope.Tracked():
			t.evaluate(ctx, scope, id)
		}
	}
}

func (t *UsersInChannelTracker) relevant(scope *Scope, ev MembershipEvent) bool {
	channelID, ok := scope.Channel(ev.SessionID)
	if !ok {
		return false
	}
	if len(ev.Channels) == 0 {
		return true
	}
	for _, c := range ev.Channels {
		if c == channelID {
			return true
		}
	}
	return false
}

func (t *UsersInChannelTracker) evaluate(ctx context.Context, scope *Scope, sessionID snowflake.ID) {
	channelID, ok := scope.Channel(sessionID)
	if !ok {
		return
	}
	members, err := t.source.Members(ctx, sessionID, channelID, !t.excludeBots)
	if err != nil {
		logger.Warn("[Inactivity] list channel members failed", logger.Session(sessionID), logger.ErrorField(err))
		return
	}
	if len(members) >= t.threshold {
		scope.MarkActive(sessionID)
	} else {
		scope.MarkInactive(sessionID, t.timeout)
	}
}
