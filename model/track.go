package model

import (
	"strings"
	"time"
)

// Capabilities 曲目可选能力，由各来源在构造时填充，零值表示不具备该能力
type Capabilities struct {
	ArtworkURL   string `json:"artworkUrl,omitempty"`
	DisplayTitle string `json:"displayTitle,omitempty"`
	AlbumName    string `json:"albumName,omitempty"`
	ISRC         string `json:"isrc,omitempty"`
	IsStream     bool   `json:"isStream,omitempty"`
}

// Track 一首可播放的曲目，按值传递，不在原处修改
type Track struct {
	Identifier    string        `json:"identifier"`
	Title         string        `json:"title"`
	Author        string        `json:"author"`
	Duration      time.Duration `json:"duration"`
	Source        string        `json:"source"`
	URI           string        `json:"uri,omitempty"`
	StartPosition time.Duration `json:"startPosition,omitempty"`
	// Encoded 音频节点返回的原始编码，只对节点来源的曲目有效
	Encoded      string       `json:"encoded,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// WithStartPosition 返回从指定位置开始播放的副本
func (t Track) WithStartPosition(pos time.Duration) Track {
	if pos < 0 {
		pos = 0
	}
	t.StartPosition = pos
	return t
}

// HasArtwork 是否带封面
func (t Track) HasArtwork() bool {
	return t.Capabilities.ArtworkURL != ""
}

// DisplayName 展示用名称，优先使用自定义标题
func (t Track) DisplayName() string {
	title := t.Title
	if t.Capabilities.DisplayTitle != "" {
		title = t.Capabilities.DisplayTitle
	}
	if t.Author == "" {
		return title
	}
	return strings.TrimSpace(title + " - " + t.Author)
}
