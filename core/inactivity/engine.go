package inactivity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"QFMBot/logger"
	"QFMBot/model"

	"github.com/disgoorg/snowflake/v2"
)

const (
	DefaultTimeout      = 2 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

// Shutdowner 会话空闲到期时调用
type Shutdowner interface {
	ShutdownSession(ctx context.Context, sessionID snowflake.ID, reason string) error
}

// Publisher 接收状态快照，失败不影响检测
type Publisher interface {
	Publish(ctx context.Context, snap model.TrackingSnapshot) error
	Remove(ctx context.Context, sessionID string) error
}

// Options 引擎配置，Trackers 的 Label 需要互不相同
type Options struct {
	DefaultTimeout  time.Duration
	PollInterval    time.Duration
	Mode            TrackingMode
	TimeoutBehavior TimeoutBehavior
	Trackers        []Tracker
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// session 单个会话的状态，所有修改都在 mu 内完成
type session struct {
	id snowflake.ID

	mu         sync.Mutex
	channelID  snowflake.ID
	trackers   []TrackerInformation
	status     Status
	expiresAt  time.Time
	timer      *time.Timer
	generation uint64
	closed     bool
}

func (s *session) stateLocked() PlayerTrackingState {
	return PlayerTrackingState{
		Status:    s.status,
		Trackers:  append([]TrackerInformation(nil), s.trackers...),
		ExpiresAt: s.expiresAt,
	}
}

func (s *session) stopTimerLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// trackedBuffer 每个实时检测器待检查会话的缓冲
const trackedBuffer = 256

// Engine 空闲检测引擎
type Engine struct {
	shutdowner Shutdowner
	publisher  Publisher
	now        func() time.Time

	optsMu sync.RWMutex
	opts   Options

	mu       sync.RWMutex
	sessions map[snowflake.ID]*session

	runMu   sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// scopes 正在运行的实时检测器
	scopesMu sync.Mutex
	scopes   []*Scope
}

// NewEngine 创建引擎，publisher 可以为 nil
func NewEngine(shutdowner Shutdowner, publisher Publisher, opts Options) *Engine {
	return &Engine{
		shutdowner: shutdowner,
		publisher:  publisher,
		now:        time.Now,
		opts:       opts.withDefaults(),
		sessions:   make(map[snowflake.ID]*session),
		baseCtx:    context.Background(),
	}
}

func (e *Engine) options() Options {
	e.optsMu.RLock()
	defer e.optsMu.RUnlock()
	return e.opts
}

func (e *Engine) labels() []string {
	opts := e.options()
	out := make([]string, len(opts.Trackers))
	for i, t := range opts.Trackers {
		out[i] = t.Label()
	}
	return out
}

// Start 启动所有检测器，重复调用无效
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}
	e.baseCtx = ctx
	e.startTrackersLocked()
}

func (e *Engine) startTrackersLocked() {
	runCtx, cancel := context.WithCancel(e.baseCtx)
	e.cancel = cancel
	opts := e.options()

	var scopes []*Scope
	for _, t := range opts.Trackers {
		scope := &Scope{engine: e, tracker: t}
		e.wg.Add(1)
		switch t.Mode() {
		case Polled:
			go e.poll(runCtx, t, scope, opts.PollInterval)
		default:
			scope.tracked = make(chan snowflake.ID, trackedBuffer)
			scopes = append(scopes, scope)
			go e.runRealtime(runCtx, t, scope)
		}
	}
	e.scopesMu.Lock()
	e.scopes = scopes
	e.scopesMu.Unlock()
	logger.Info("[Inactivity] trackers started", logger.Int("count", len(opts.Trackers)))
}

func (e *Engine) runRealtime(ctx context.Context, t Tracker, scope *Scope) {
	defer e.wg.Done()
	if err := t.Run(ctx, scope); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("[Inactivity] realtime tracker stopped", logger.String("tracker", t.Label()), logger.ErrorField(err))
	}
}

func (e *Engine) poll(ctx context.Context, t Tracker, scope *Scope, interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Run(ctx, scope); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("[Inactivity] polled tracker failed", logger.String("tracker", t.Label()), logger.ErrorField(err))
			}
		}
	}
}

// Stop 停止所有检测器并取消所有会话的计时
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.stopTrackersLocked()

	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[snowflake.ID]*session)
	e.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.closed = true
		s.stopTimerLocked()
		s.mu.Unlock()
	}
}

func (e *Engine) stopTrackersLocked() {
	if e.cancel == nil {
		return
	}
	e.scopesMu.Lock()
	e.scopes = nil
	e.scopesMu.Unlock()
	e.cancel()
	e.wg.Wait()
	e.cancel = nil
}

// UpdateOptions 替换配置。检测器列表变化时重启检测器，同名检测器保留已有状态
func (e *Engine) UpdateOptions(opts Options) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	running := e.cancel != nil
	if running {
		e.stopTrackersLocked()
	}

	e.optsMu.Lock()
	e.opts = opts.withDefaults()
	e.optsMu.Unlock()

	labels := e.labels()
	for _, s := range e.snapshotSessions() {
		s.mu.Lock()
		if !s.closed {
			s.trackers = remapTrackers(s.trackers, labels)
			e.evaluateLocked(s)
		}
		s.mu.Unlock()
	}

	if running {
		e.startTrackersLocked()
	}
	logger.Info("[Inactivity] options updated",
		logger.Strings("trackers", labels),
		logger.Duration("default_timeout", opts.DefaultTimeout))
}

func remapTrackers(old []TrackerInformation, labels []string) []TrackerInformation {
	byLabel := make(map[string]TrackerInformation, len(old))
	for _, info := range old {
		byLabel[info.Tracker] = info
	}
	out := make([]TrackerInformation, len(labels))
	for i, label := range labels {
		if info, ok := byLabel[label]; ok {
			out[i] = info
		} else {
			out[i] = TrackerInformation{Tracker: label}
		}
	}
	return out
}

func (e *Engine) snapshotSessions() []*session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// Track 开始检测会话，已存在时只更新频道
func (e *Engine) Track(sessionID, channelID snowflake.ID) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		s = &session{id: sessionID}
		labels := e.labels()
		s.trackers = make([]TrackerInformation, len(labels))
		for i, label := range labels {
			s.trackers[i] = TrackerInformation{Tracker: label}
		}
		e.sessions[sessionID] = s
	}
	e.mu.Unlock()

	s.mu.Lock()
	changed := !ok || s.channelID != channelID
	s.channelID = channelID
	s.mu.Unlock()
	if !ok {
		logger.Debug("[Inactivity] tracking session", logger.Session(sessionID))
	}
	if changed {
		e.notifyTracked(sessionID)
	}
}

// notifyTracked 通知实时检测器检查会话，缓冲区满时丢弃并记录
func (e *Engine) notifyTracked(sessionID snowflake.ID) {
	e.scopesMu.Lock()
	defer e.scopesMu.Unlock()
	for _, scope := range e.scopes {
		select {
		case scope.tracked <- sessionID:
		default:
			logger.Warn("[Inactivity] tracker busy, session check dropped",
				logger.String("tracker", scope.tracker.Label()), logger.Session(sessionID))
		}
	}
}

// Untrack 停止检测会话
func (e *Engine) Untrack(sessionID snowflake.ID) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	delete(e.sessions, sessionID)
	e.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.closed = true
	s.stopTimerLocked()
	s.mu.Unlock()
	e.unpublish(sessionID)
}

func (e *Engine) session(sessionID snowflake.ID) *session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[sessionID]
}

// Sessions 当前被检测的会话
func (e *Engine) Sessions() []SessionRef {
	sessions := e.snapshotSessions()
	out := make([]SessionRef, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, SessionRef{ID: s.id, ChannelID: s.channelID})
		s.mu.Unlock()
	}
	return out
}

func (e *Engine) channel(sessionID snowflake.ID) (snowflake.ID, bool) {
	s := e.session(sessionID)
	if s == nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID, !s.closed
}

// State 返回会话状态的副本
func (e *Engine) State(sessionID snowflake.ID) (PlayerTrackingState, bool) {
	s := e.session(sessionID)
	if s == nil {
		return PlayerTrackingState{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(), true
}

// report 更新一个检测器的状态并重新计算到期时间
func (e *Engine) report(sessionID snowflake.ID, label string, inactive bool, timeout time.Duration) {
	s := e.session(sessionID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := false
	for i := range s.trackers {
		info := &s.trackers[i]
		if info.Tracker != label {
			continue
		}
		switch {
		case inactive && info.Status != Tracked:
			*info = TrackerInformation{Tracker: label, Status: Tracked, TrackedSince: e.now(), Timeout: timeout}
			changed = true
		case inactive && info.Timeout != timeout:
			info.Timeout = timeout
			changed = true
		case !inactive && info.Status == Tracked:
			*info = TrackerInformation{Tracker: label}
			changed = true
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	e.evaluateLocked(s)
	state := s.stateLocked()
	s.mu.Unlock()

	e.publish(sessionID, state)
}

// evaluateLocked 重新聚合并安排到期计时，调用方持有 s.mu
func (e *Engine) evaluateLocked(s *session) {
	opts := e.options()
	status, expiry := aggregate(s.trackers, opts.Mode, opts.TimeoutBehavior)
	if status == s.status && expiry.Equal(s.expiresAt) {
		return
	}

	s.stopTimerLocked()
	s.status, s.expiresAt = status, expiry
	if status != Tracked {
		return
	}

	gen := s.generation
	delay := expiry.Sub(e.now())
	if delay < 0 {
		delay = 0
	}
	s.timer = time.AfterFunc(delay, func() { e.expire(s, gen) })
}

// expire 计时到期且期间没有新的活动时关闭会话，关闭在锁外进行
func (e *Engine) expire(s *session, gen uint64) {
	s.mu.Lock()
	if s.closed || s.generation != gen || s.status != Tracked {
		s.mu.Unlock()
		return
	}
	var labels []string
	for _, info := range s.trackers {
		if info.Status == Tracked {
			labels = append(labels, info.Tracker)
		}
	}
	s.closed = true
	s.stopTimerLocked()
	s.mu.Unlock()

	e.mu.Lock()
	if e.sessions[s.id] == s {
		delete(e.sessions, s.id)
	}
	e.mu.Unlock()

	reason := "Inactive: " + strings.Join(labels, ", ")
	logger.Info("[Inactivity] session expired", logger.Session(s.id), logger.String("reason", reason))

	e.runMu.Lock()
	ctx := e.baseCtx
	e.runMu.Unlock()
	if err := e.shutdowner.ShutdownSession(ctx, s.id, reason); err != nil {
		logger.Error("[Inactivity] shutdown failed", logger.Session(s.id), logger.ErrorField(err))
	}
	e.unpublish(s.id)
}

func (e *Engine) publish(sessionID snowflake.ID, state PlayerTrackingState) {
	if e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.publisher.Publish(ctx, state.Snapshot(sessionID, e.now())); err != nil {
		logger.Debug("[Inactivity] publish state failed", logger.Session(sessionID), logger.ErrorField(err))
	}
}

func (e *Engine) unpublish(sessionID snowflake.ID) {
	if e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.publisher.Remove(ctx, sessionID.String()); err != nil {
		logger.Debug("[Inactivity] remove state failed", logger.Session(sessionID), logger.ErrorField(err))
	}
}
