package model

import "time"

// TrackerSnapshot 单个检测器的状态
type TrackerSnapshot struct {
	Label        string    `json:"label"`
	Tracked      bool      `json:"tracked"`
	TrackedSince time.Time `json:"trackedSince,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// TrackingSnapshot 某个会话空闲检测状态的只读副本，允许读到稍旧的数据
type TrackingSnapshot struct {
	SessionID string            `json:"sessionId"`
	Tracked   bool              `json:"tracked"`
	ExpiresAt time.Time         `json:"expiresAt,omitempty"`
	Trackers  []TrackerSnapshot `json:"trackers"`
	UpdatedAt time.Time         `json:"updatedAt"`
}
