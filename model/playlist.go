package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// EncodedTrack 曲目的可持久化形式，Codec 标识由哪个编解码器还原
type EncodedTrack struct {
	Codec   string `json:"codec"`
	Payload string `json:"payload"`
}

// EncodedTrackList 以 JSON 列保存的曲目列表
type EncodedTrackList []EncodedTrack

// Scan 实现 sql.Scanner 接口
func (l *EncodedTrackList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		*l = nil
		return nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, l)
}

// Value 实现 driver.Valuer 接口，空列表存为 []
func (l EncodedTrackList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// StoredPlaylist 关闭播放器时保存的队列快照，每次保存生成新 ID，之后不再修改
type StoredPlaylist struct {
	ID               string           `json:"id" gorm:"primaryKey;size:36"`
	Tracks           EncodedTrackList `json:"tracks" gorm:"type:json"`
	ResumeIndex      int              `json:"resumeIndex" gorm:"not null;default:-1"`
	ResumePositionMs int64            `json:"resumePositionMs" gorm:"not null;default:0"`
	AuthorID         string           `json:"authorId" gorm:"size:32;index"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// TableName 指定表名
func (StoredPlaylist) TableName() string {
	return "stored_playlists"
}

// ResumePosition 恢复时的播放位置
func (p *StoredPlaylist) ResumePosition() time.Duration {
	return time.Duration(p.ResumePositionMs) * time.Millisecond
}
