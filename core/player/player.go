package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"QFMBot/core/lifecycle"
	"QFMBot/core/node"
	"QFMBot/logger"
	"QFMBot/model"

	"github.com/disgoorg/snowflake/v2"
)

// ErrFrozen 播放器正在关闭，不再接受修改
var ErrFrozen = errors.New("player is shutting down")

const maxHistory = 50

// Locator 给出曲目在节点上的加载标识
type Locator interface {
	Locate(ctx context.Context, t model.Track) (string, error)
}

// Player 运行在某个节点上的会话播放器
type Player struct {
	sessionID snowflake.ID
	channelID snowflake.ID
	node      node.PlayerNode
	locator   Locator
	now       func() time.Time
	onDestroy func(*Player)

	mu        sync.Mutex
	frozen    bool
	destroyed bool
	current   *model.Track
	position  time.Duration
	resumedAt time.Time
	paused    bool
	history   []model.Track
	queue     []model.Track
	loop      lifecycle.LoopMode
	effects   map[string]interface{}
	volume    int
	displays  []lifecycle.Display
}

var _ lifecycle.Player = (*Player)(nil)

func (p *Player) guild() string { return p.sessionID.String() }

// SessionID 会话 ID
func (p *Player) SessionID() snowflake.ID { return p.sessionID }

// ChannelID 语音频道 ID
func (p *Player) ChannelID() snowflake.ID { return p.channelID }

// NodeName 所在节点
func (p *Player) NodeName() string { return p.node.Name() }

// Current 当前曲目
func (p *Player) Current() (model.Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return model.Track{}, false
	}
	return *p.current, true
}

// Queue 待播放队列的副本
func (p *Player) Queue() []model.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Track(nil), p.queue...)
}

// Playing 有曲目且没有暂停
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.frozen && p.current != nil && !p.paused
}

// Position 当前播放位置
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() time.Duration {
	if p.current == nil {
		return 0
	}
	pos := p.position
	if !p.paused && !p.resumedAt.IsZero() {
		pos += p.now().Sub(p.resumedAt)
	}
	if p.current.Duration > 0 && pos > p.current.Duration {
		pos = p.current.Duration
	}
	return pos
}

// Enqueue 加入队列，空闲时立即开始播放
func (p *Player) Enqueue(ctx context.Context, tracks ...model.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	p.queue = append(p.queue, tracks...)
	if p.current == nil {
		return p.advanceLocked(ctx)
	}
	return nil
}

// Skip 跳到下一首
func (p *Player) Skip(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	return p.advanceLocked(ctx)
}

// TrackEnded 节点报告曲目结束，按循环模式继续
func (p *Player) TrackEnded(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen || p.current == nil {
		return nil
	}
	switch p.loop {
	case lifecycle.LoopTrack:
		return p.playLocked(ctx, p.current.WithStartPosition(0))
	case lifecycle.LoopQueue:
		p.queue = append(p.queue, p.current.WithStartPosition(0))
	}
	return p.advanceLocked(ctx)
}

// advanceLocked 当前曲目进入历史，播放队首
func (p *Player) advanceLocked(ctx context.Context) error {
	if p.current != nil {
		p.history = append(p.history, p.current.WithStartPosition(0))
		if len(p.history) > maxHistory {
			p.history = p.history[len(p.history)-maxHistory:]
		}
		p.current = nil
	}
	if len(p.queue) == 0 {
		p.position, p.resumedAt = 0, time.Time{}
		return p.node.UpdatePlayer(ctx, p.guild(), node.PlayerUpdate{Stop: true})
	}
	next := p.queue[0]
	p.queue = p.queue[1:]
	return p.playLocked(ctx, next)
}

func (p *Player) playLocked(ctx context.Context, t model.Track) error {
	playable, err := p.playable(ctx, t)
	if err != nil {
		return err
	}
	volume, paused := p.volume, p.paused
	update := node.PlayerUpdate{
		Track:    &playable,
		Position: t.StartPosition,
		Volume:   &volume,
		Paused:   &paused,
		Filters:  p.effects,
	}
	if err := p.node.UpdatePlayer(ctx, p.guild(), update); err != nil {
		return fmt.Errorf("play %s: %w", t.Identifier, err)
	}
	p.current = &t
	p.position = t.StartPosition
	p.resumedAt = p.now()
	return nil
}

// playable 没有节点编码的曲目先通过节点加载
func (p *Player) playable(ctx context.Context, t model.Track) (model.Track, error) {
	if t.Encoded != "" || p.locator == nil {
		return t, nil
	}
	identifier, err := p.locator.Locate(ctx, t)
	if err != nil {
		return model.Track{}, fmt.Errorf("locate %s: %w", t.Identifier, err)
	}
	res, err := p.node.LoadTracks(ctx, identifier)
	if err != nil {
		return model.Track{}, err
	}
	loaded, ok := res.First()
	if !ok {
		return model.Track{}, fmt.Errorf("no stream for %s", t.DisplayName())
	}
	t.Encoded = loaded.Encoded
	return t, nil
}

// Pause 暂停或继续
func (p *Player) Pause(ctx context.Context, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	if err := p.node.UpdatePlayer(ctx, p.guild(), node.PlayerUpdate{Paused: &paused}); err != nil {
		return err
	}
	p.position = p.positionLocked()
	p.resumedAt = p.now()
	p.paused = paused
	return nil
}

// SetVolume 设置音量
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	if err := p.node.UpdatePlayer(ctx, p.guild(), node.PlayerUpdate{Volume: &volume}); err != nil {
		return err
	}
	p.volume = volume
	return nil
}

// SetEffects 替换当前音效
func (p *Player) SetEffects(ctx context.Context, effects map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	if err := p.node.UpdatePlayer(ctx, p.guild(), node.PlayerUpdate{Filters: effects}); err != nil {
		return err
	}
	p.effects = effects
	return nil
}

// SetLoop 设置循环模式
func (p *Player) SetLoop(mode lifecycle.LoopMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	p.loop = mode
	return nil
}

// Freeze 冻结播放器并捕获状态，之后的修改都会返回 ErrFrozen。
// 已经冻结或销毁时返回 false
func (p *Player) Freeze() (lifecycle.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return lifecycle.Snapshot{}, false
	}
	p.frozen = true

	snap := lifecycle.Snapshot{
		SessionID: p.sessionID,
		ChannelID: p.channelID,
		Position:  p.positionLocked(),
		History:   append([]model.Track(nil), p.history...),
		Queue:     append([]model.Track(nil), p.queue...),
		Loop:      p.loop,
		Effects:   p.effects,
		Volume:    p.volume,
	}
	if p.current != nil {
		cur := *p.current
		snap.Current = &cur
	}
	return snap, true
}

// Thaw 解除冻结，已销毁的播放器保持冻结
func (p *Player) Thaw() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.destroyed {
		p.frozen = false
	}
}

// AttachDisplay 添加展示端
func (p *Player) AttachDisplay(d lifecycle.Display) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displays = append(p.displays, d)
}

// DetachDisplays 移除全部展示端
func (p *Player) DetachDisplays() []lifecycle.Display {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.displays
	p.displays = nil
	return out
}

// Destroy 删除节点上的播放器并从注册表移除
func (p *Player) Destroy(ctx context.Context) error {
	p.mu.Lock()
	p.frozen = true
	p.destroyed = true
	p.mu.Unlock()

	if p.onDestroy != nil {
		p.onDestroy(p)
	}
	if err := p.node.DestroyPlayer(ctx, p.guild()); err != nil {
		return err
	}
	logger.Debug("[Player] destroyed", logger.Session(p.sessionID), logger.String("node", p.node.Name()))
	return nil
}
