package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"QFMBot/core/codec"
	"QFMBot/core/node"
	"QFMBot/logger"
	"QFMBot/model"
	"QFMBot/repository"

	"github.com/disgoorg/snowflake/v2"
)

// DefaultRestartDelay 关闭后到重新创建播放器之间的等待时间
const DefaultRestartDelay = 2 * time.Second

// ErrShuttingDown 播放器已经在关闭或已经关闭
var ErrShuttingDown = errors.New("player is already shutting down")

// StoppedTitle 展示端停止状态的标题
const StoppedTitle = "Player stopped"

// ShutdownParams 关闭选项
type ShutdownParams struct {
	SavePlaylist     bool
	ShutdownDisplays bool
	RestartPlayer    bool
	// AuthorID 保存播放列表时记录的发起人
	AuthorID string
}

// ShutdownResult 一次关闭的结果
type ShutdownResult struct {
	// ResumeID 保存成功时的播放列表 ID
	ResumeID         string
	Reason           string
	RestartScheduled bool
}

// Options 管理器配置
type Options struct {
	RestartDelay time.Duration
	// SessionParams 空闲检测触发关闭时使用的选项
	SessionParams ShutdownParams
}

// Manager 负责播放器的关闭、重启和恢复
type Manager struct {
	pool    *node.Pool
	codecs  *codec.Registry
	store   repository.PlaylistRepository
	players Players
	factory PlayerFactory
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager 创建生命周期管理器
func NewManager(pool *node.Pool, codecs *codec.Registry, store repository.PlaylistRepository, players Players, factory PlayerFactory, opts Options) *Manager {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		pool:    pool,
		codecs:  codecs,
		store:   store,
		players: players,
		factory: factory,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ResumeHint 附加在关闭原因后的恢复提示
func ResumeHint(resumeID string) string {
	return fmt.Sprintf("Use `/resume %s` to pick up where you left off.", resumeID)
}

// Shutdown 依次执行：冻结并捕获状态、保存播放列表、处理展示端、销毁并按需安排重启。
// 只有编解码器不匹配会中断流程并返回错误。
func (m *Manager) Shutdown(ctx context.Context, p Player, params ShutdownParams, reason string) (ShutdownResult, error) {
	result := ShutdownResult{Reason: reason}
	snap, ok := p.Freeze()
	if !ok {
		return result, ErrShuttingDown
	}

	logger.Info("[Lifecycle] shutting down player",
		logger.Session(snap.SessionID),
		logger.String("reason", reason),
		logger.Bool("save", params.SavePlaylist),
		logger.Bool("restart", params.RestartPlayer))

	if params.SavePlaylist {
		stored, err := m.savePlaylist(ctx, snap, params.AuthorID)
		switch {
		case errors.Is(err, codec.ErrNoCodec):
			p.Thaw()
			return result, err
		case err != nil:
			logger.Error("[Lifecycle] 保存播放列表失败", logger.Session(snap.SessionID), logger.ErrorField(err))
		default:
			result.ResumeID = stored.ID
			result.Reason = reason + "\n" + ResumeHint(stored.ID)
		}
	}

	displays := p.DetachDisplays()
	switch {
	case params.ShutdownDisplays:
		for _, d := range displays {
			if err := d.ExecuteShutdown(ctx, StoppedTitle, result.Reason); err != nil {
				logger.Warn("[Lifecycle] display shutdown failed", logger.Session(snap.SessionID), logger.ErrorField(err))
			}
		}
	case result.ResumeID != "":
		for _, d := range displays {
			if err := d.NotifyReconnect(ctx, result.ResumeID, result.Reason); err != nil {
				logger.Warn("[Lifecycle] display reconnect notice failed", logger.Session(snap.SessionID), logger.ErrorField(err))
			}
		}
	}

	if err := p.Destroy(ctx); err != nil {
		logger.Warn("[Lifecycle] destroy player failed", logger.Session(snap.SessionID), logger.ErrorField(err))
	}

	if params.RestartPlayer {
		result.RestartScheduled = true
		m.wg.Add(1)
		go m.restart(snap, displays, result.ResumeID)
	}
	return result, nil
}

// savePlaylist 保存 历史 + 当前 + 队列，恢复位置指向当前曲目
func (m *Manager) savePlaylist(ctx context.Context, snap Snapshot, authorID string) (*model.StoredPlaylist, error) {
	tracks := make([]model.Track, 0, len(snap.History)+len(snap.Queue)+1)
	tracks = append(tracks, snap.History...)
	index := -1
	if snap.Current != nil {
		index = len(tracks)
		tracks = append(tracks, *snap.Current)
	}
	tracks = append(tracks, snap.Queue...)

	encoded, err := m.codecs.EncodeAll(tracks)
	if err != nil {
		return nil, err
	}

	playlist := &model.StoredPlaylist{
		Tracks:      encoded,
		ResumeIndex: index,
		AuthorID:    authorID,
	}
	if index >= 0 {
		playlist.ResumePositionMs = snap.Position.Milliseconds()
	}

	stored, err := m.store.Store(ctx, playlist)
	if err != nil {
		return nil, err
	}
	logger.Info("[Lifecycle] playlist saved",
		logger.Session(snap.SessionID),
		logger.String("playlist_id", stored.ID),
		logger.Int("tracks", len(encoded)),
		logger.Int("resume_index", index))
	return stored, nil
}

// restart 等待固定延迟后重新创建播放器，失败只记录日志，不再重试
func (m *Manager) restart(snap Snapshot, displays []Display, resumeID string) {
	defer m.wg.Done()

	timer := time.NewTimer(m.opts.RestartDelay)
	defer timer.Stop()
	select {
	case <-m.ctx.Done():
		return
	case <-timer.C:
	}

	if !m.pool.AnyAvailable() {
		logger.Warn("[Lifecycle] restart abandoned: no node available", logger.Session(snap.SessionID))
		return
	}

	p, err := m.factory.Acquire(m.ctx, snap.SessionID, snap.ChannelID, snap.LaunchOptions())
	if err != nil {
		logger.Error("[Lifecycle] restart abandoned", logger.Session(snap.SessionID), logger.ErrorField(err))
		return
	}

	history := make([]HistoryEntry, 0, len(snap.History)+1)
	for i := range snap.History {
		history = append(history, HistoryEntry{Track: &snap.History[i]})
	}
	note := "Player reconnected"
	if resumeID != "" {
		note += " (resume id " + resumeID + ")"
	}
	history = append(history, HistoryEntry{Note: note})

	for _, d := range displays {
		p.AttachDisplay(d)
		if err := d.ChangePlayer(m.ctx, p); err != nil {
			logger.Warn("[Lifecycle] display change player failed", logger.Session(snap.SessionID), logger.ErrorField(err))
			continue
		}
		if err := d.WriteToQueueHistory(m.ctx, history); err != nil {
			logger.Warn("[Lifecycle] display history write failed", logger.Session(snap.SessionID), logger.ErrorField(err))
		}
	}
	logger.Info("[Lifecycle] player restarted", logger.Session(snap.SessionID), logger.Int("displays", len(displays)))
}

// ShutdownSession 空闲检测的关闭入口，会话没有播放器时什么也不做
func (m *Manager) ShutdownSession(ctx context.Context, sessionID snowflake.ID, reason string) error {
	p, ok := m.players.Get(sessionID)
	if !ok {
		logger.Debug("[Lifecycle] no player for session", logger.Session(sessionID))
		return nil
	}
	_, err := m.Shutdown(ctx, p, m.opts.SessionParams, reason)
	if errors.Is(err, ErrShuttingDown) {
		logger.Debug("[Lifecycle] player already shutting down", logger.Session(sessionID))
		return nil
	}
	return err
}

// Resume 从保存的播放列表创建播放器，曲目顺序与保存时一致
func (m *Manager) Resume(ctx context.Context, playlistID string, sessionID, channelID snowflake.ID) (Player, error) {
	stored, err := m.store.GetByID(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	if err := m.WaitForAnyNodeAvailable(ctx); err != nil {
		return nil, err
	}

	var opts LaunchOptions
	tracks := []model.EncodedTrack(stored.Tracks)
	if stored.ResumeIndex >= 0 && stored.ResumeIndex < len(tracks) {
		current, err := m.codecs.Decode(ctx, tracks[stored.ResumeIndex])
		if err != nil {
			return nil, fmt.Errorf("decode current track: %w", err)
		}
		current = current.WithStartPosition(stored.ResumePosition())
		opts.Track = &current
		if opts.History, err = m.codecs.DecodeAllOrdered(ctx, tracks[:stored.ResumeIndex]); err != nil {
			return nil, err
		}
		if opts.Queue, err = m.codecs.DecodeAllOrdered(ctx, tracks[stored.ResumeIndex+1:]); err != nil {
			return nil, err
		}
	} else {
		if opts.Queue, err = m.codecs.DecodeAllOrdered(ctx, tracks); err != nil {
			return nil, err
		}
		if len(opts.Queue) > 0 {
			first := opts.Queue[0]
			opts.Track = &first
			opts.Queue = opts.Queue[1:]
		}
	}

	p, err := m.factory.Acquire(ctx, sessionID, channelID, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("[Lifecycle] playlist resumed",
		logger.Session(sessionID),
		logger.String("playlist_id", playlistID),
		logger.Int("tracks", len(tracks)))
	return p, nil
}

// WaitForAnyNodeAvailable 有可用节点时立即返回，否则启动全部节点并等待第一个就绪的节点。
// 其余节点的启动在后台继续进行。
func (m *Manager) WaitForAnyNodeAvailable(ctx context.Context) error {
	if m.pool.AnyAvailable() {
		return nil
	}
	nodes := m.pool.Nodes()
	if len(nodes) == 0 {
		return node.ErrNoAvailableNode
	}

	results := make(chan error, len(nodes))
	for _, n := range nodes {
		go func(n node.Node) {
			if err := n.Start(m.ctx); err != nil {
				logger.Warn("[Lifecycle] start node failed", logger.String("node", n.Name()), logger.ErrorField(err))
				results <- err
				return
			}
			results <- n.WaitForReady(m.ctx)
		}(n)
	}

	for failed := 0; failed < len(nodes); {
		select {
		case err := <-results:
			if err == nil {
				return nil
			}
			failed++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return node.ErrNoAvailableNode
}

// Wait 等待所有已安排的重启任务结束
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close 取消尚未执行的重启并等待后台任务退出
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
