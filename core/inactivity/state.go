package inactivity

import (
	"time"

	"QFMBot/model"

	"github.com/disgoorg/snowflake/v2"
)

// Status 检测状态
type Status int

const (
	NotTracked Status = iota
	Tracked
)

func (s Status) String() string {
	if s == Tracked {
		return "tracked"
	}
	return "not_tracked"
}

// TrackingMode 多个检测器之间的聚合方式
type TrackingMode int

const (
	// TrackingAny 任意一个检测器认为空闲即开始计时
	TrackingAny TrackingMode = iota
	// TrackingAll 所有检测器都认为空闲才开始计时
	TrackingAll
)

// ParseTrackingMode 解析配置值，未知值按 any 处理
func ParseTrackingMode(s string) TrackingMode {
	if s == "all" {
		return TrackingAll
	}
	return TrackingAny
}

// TimeoutBehavior 多个检测器同时计时时取哪个到期时间
type TimeoutBehavior int

const (
	TimeoutHighest TimeoutBehavior = iota
	TimeoutLowest
)

// ParseTimeoutBehavior 解析配置值，未知值按 highest 处理
func ParseTimeoutBehavior(s string) TimeoutBehavior {
	if s == "lowest" {
		return TimeoutLowest
	}
	return TimeoutHighest
}

// TrackerInformation 单个检测器对某个会话的状态
type TrackerInformation struct {
	Tracker      string
	Status       Status
	TrackedSince time.Time
	Timeout      time.Duration
}

// ExpiresAt TrackedSince + Timeout，未计时时返回 false
func (i TrackerInformation) ExpiresAt() (time.Time, bool) {
	if i.Status != Tracked || i.TrackedSince.IsZero() {
		return time.Time{}, false
	}
	return i.TrackedSince.Add(i.Timeout), true
}

// PlayerTrackingState 某个会话的聚合状态
type PlayerTrackingState struct {
	Status   Status
	Trackers []TrackerInformation
	// ExpiresAt 聚合后的到期时间，Status 为 Tracked 时有效
	ExpiresAt time.Time
}

// aggregate 按聚合策略计算整体状态和到期时间
func aggregate(trackers []TrackerInformation, mode TrackingMode, behavior TimeoutBehavior) (Status, time.Time) {
	var (
		tracked int
		expiry  time.Time
	)
	for _, info := range trackers {
		at, ok := info.ExpiresAt()
		if !ok {
			continue
		}
		tracked++
		switch {
		case expiry.IsZero():
			expiry = at
		case behavior == TimeoutHighest && at.After(expiry):
			expiry = at
		case behavior == TimeoutLowest && at.Before(expiry):
			expiry = at
		}
	}

	if tracked == 0 || (mode == TrackingAll && tracked < len(trackers)) {
		return NotTracked, time.Time{}
	}
	return Tracked, expiry
}

// Snapshot 转换为可以发布到缓存的只读副本
func (s PlayerTrackingState) Snapshot(sessionID snowflake.ID, now time.Time) model.TrackingSnapshot {
	snap := model.TrackingSnapshot{
		SessionID: sessionID.String(),
		Tracked:   s.Status == Tracked,
		ExpiresAt: s.ExpiresAt,
		Trackers:  make([]model.TrackerSnapshot, len(s.Trackers)),
		UpdatedAt: now,
	}
	for i, info := range s.Trackers {
		at, _ := info.ExpiresAt()
		snap.Trackers[i] = model.TrackerSnapshot{
			Label:        info.Tracker,
			Tracked:      info.Status == Tracked,
			TrackedSince: info.TrackedSince,
			ExpiresAt:    at,
		}
	}
	return snap
}
