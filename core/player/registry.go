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

// DefaultVolume 新播放器的音量
const DefaultVolume = 100

var (
	// ErrNoChannel 会话没有播放器时需要指定语音频道
	ErrNoChannel = errors.New("voice channel required to start a player")
	// ErrNoTracks 没有可以播放的曲目
	ErrNoTracks = errors.New("no tracks to play")
)

// Registry 管理所有会话的播放器
type Registry struct {
	pool    *node.Pool
	locator Locator
	now     func() time.Time

	mu      sync.RWMutex
	players map[snowflake.ID]*Player

	// playMu 串行化 Play，避免同一会话并发创建两个播放器
	playMu sync.Mutex

	onAcquired func(sessionID, channelID snowflake.ID)
	onRemoved  func(sessionID snowflake.ID)
}

var (
	_ lifecycle.Players       = (*Registry)(nil)
	_ lifecycle.PlayerFactory = (*Registry)(nil)
)

// NewRegistry 创建注册表并订阅节点的曲目结束事件
func NewRegistry(pool *node.Pool, locator Locator) *Registry {
	r := &Registry{
		pool:    pool,
		locator: locator,
		now:     time.Now,
		players: make(map[snowflake.ID]*Player),
	}
	for _, n := range pool.Nodes() {
		if notifier, ok := n.(node.TrackEndNotifier); ok {
			notifier.OnTrackEnd(r.handleTrackEnd)
		}
	}
	return r
}

// SetHooks 播放器创建和移除时的回调，在 Acquire 之前设置
func (r *Registry) SetHooks(acquired func(sessionID, channelID snowflake.ID), removed func(sessionID snowflake.ID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAcquired = acquired
	r.onRemoved = removed
}

// handleTrackEnd 只有正常结束和加载失败时继续下一首
func (r *Registry) handleTrackEnd(guildID, reason string) {
	if reason != "finished" && reason != "loadFailed" {
		return
	}
	id, err := snowflake.Parse(guildID)
	if err != nil {
		return
	}
	p, ok := r.Lookup(id)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := p.TrackEnded(ctx); err != nil {
			logger.Warn("[Player] advance after track end failed", logger.Session(id), logger.ErrorField(err))
		}
	}()
}

// Get 实现 lifecycle.Players
func (r *Registry) Get(sessionID snowflake.ID) (lifecycle.Player, bool) {
	p, ok := r.Lookup(sessionID)
	if !ok {
		return nil, false
	}
	return p, true
}

// Lookup 返回具体的播放器
func (r *Registry) Lookup(sessionID snowflake.ID) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[sessionID]
	return p, ok
}

// Sessions 当前有播放器的会话
func (r *Registry) Sessions() []snowflake.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]snowflake.ID, 0, len(r.players))
	for id := range r.players {
		out = append(out, id)
	}
	return out
}

// IsPlaying 会话是否在播放，没有播放器时返回 false
func (r *Registry) IsPlaying(sessionID snowflake.ID) bool {
	p, ok := r.Lookup(sessionID)
	return ok && p.Playing()
}

// Acquire 在负载最低的节点上创建播放器，已存在时先销毁旧的
func (r *Registry) Acquire(ctx context.Context, sessionID, channelID snowflake.ID, opts lifecycle.LaunchOptions) (lifecycle.Player, error) {
	selected, err := r.pool.Select(node.RequestPlayback)
	if err != nil {
		return nil, err
	}
	pn, ok := selected.(node.PlayerNode)
	if !ok {
		return nil, fmt.Errorf("node %s cannot host players", selected.Name())
	}

	if old, ok := r.Lookup(sessionID); ok {
		if err := old.Destroy(ctx); err != nil {
			logger.Warn("[Player] destroy previous player failed", logger.Session(sessionID), logger.ErrorField(err))
		}
	}

	volume := opts.Volume
	if volume <= 0 {
		volume = DefaultVolume
	}
	p := &Player{
		sessionID: sessionID,
		channelID: channelID,
		node:      pn,
		locator:   r.locator,
		now:       r.now,
		onDestroy: r.remove,
		history:   append([]model.Track(nil), opts.History...),
		queue:     append([]model.Track(nil), opts.Queue...),
		loop:      opts.Loop,
		effects:   opts.Effects,
		volume:    volume,
	}

	if opts.Track != nil {
		p.mu.Lock()
		err := p.playLocked(ctx, *opts.Track)
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.players[sessionID] = p
	acquired := r.onAcquired
	r.mu.Unlock()
	if acquired != nil {
		acquired(sessionID, channelID)
	}

	logger.Info("[Player] acquired",
		logger.Session(sessionID),
		logger.String("node", pn.Name()),
		logger.Int("queue", len(p.queue)))
	return p, nil
}

// Play 会话已有播放器时加入队列，否则在 channelID 上创建播放器并播放第一首。
// created 表示是否新建了播放器
func (r *Registry) Play(ctx context.Context, sessionID, channelID snowflake.ID, tracks []model.Track) (created bool, err error) {
	if len(tracks) == 0 {
		return false, ErrNoTracks
	}
	r.playMu.Lock()
	defer r.playMu.Unlock()

	if p, ok := r.Lookup(sessionID); ok {
		if err := p.Enqueue(ctx, tracks...); err != nil {
			return false, err
		}
		logger.Debug("[Player] enqueued", logger.Session(sessionID), logger.Int("tracks", len(tracks)))
		return false, nil
	}
	if channelID == 0 {
		return false, ErrNoChannel
	}

	first := tracks[0]
	_, err = r.Acquire(ctx, sessionID, channelID, lifecycle.LaunchOptions{
		Track: &first,
		Queue: tracks[1:],
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Registry) remove(p *Player) {
	r.mu.Lock()
	if r.players[p.sessionID] != p {
		r.mu.Unlock()
		return
	}
	delete(r.players, p.sessionID)
	removed := r.onRemoved
	r.mu.Unlock()
	if removed != nil {
		removed(p.sessionID)
	}
}
