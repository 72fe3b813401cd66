package resolver

import (
	"context"
	"fmt"

	"QFMBot/core/codec"
	"QFMBot/model"

	"github.com/disgoorg/snowflake/v2"
)

// Severity 解析失败的严重程度
type Severity int

const (
	// SeveritySuspicious 多半是来源或查询本身的问题，例如无结果、被风控
	SeveritySuspicious Severity = iota
	// SeverityFault 内部错误或解析器不可用
	SeverityFault
)

func (s Severity) String() string {
	if s == SeverityFault {
		return "fault"
	}
	return "suspicious"
}

// Failure 解析失败的描述
type Failure struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Detail   string   `json:"detail,omitempty"`
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("%s: %s", f.Severity, f.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", f.Severity, f.Message, f.Detail)
}

// Result 解析结果，要么是曲目列表（可以为空），要么是失败
type Result struct {
	Tracks       []model.Track `json:"tracks,omitempty"`
	PlaylistName string        `json:"playlistName,omitempty"`
	Failure      *Failure      `json:"failure,omitempty"`

	cacheable bool
}

// Tracks 普通成功结果
func Tracks(tracks ...model.Track) Result {
	return Result{Tracks: tracks}
}

// Playlist 带名称的歌单结果
func Playlist(name string, tracks []model.Track) Result {
	return Result{Tracks: tracks, PlaylistName: name}
}

// SearchHit 搜索得到的单曲，可以写入查询缓存
func SearchHit(track model.Track) Result {
	return Result{Tracks: []model.Track{track}, cacheable: true}
}

// Fail 失败结果
func Fail(severity Severity, message, detail string) Result {
	return Result{Failure: &Failure{Severity: severity, Message: message, Detail: detail}}
}

// Success 是否成功
func (r Result) Success() bool {
	return r.Failure == nil
}

// Cacheable 是否可以按查询文本缓存
func (r Result) Cacheable() bool {
	return r.Success() && r.cacheable && len(r.Tracks) == 1
}

// Scope 发起解析的上下文信息
type Scope struct {
	SessionID   snowflake.ID
	RequesterID snowflake.ID
}

// Resolver 一个曲目来源，同时负责该来源曲目的编解码
type Resolver interface {
	codec.Codec
	// Available 当前是否可用，不可用时认领到的查询直接失败
	Available() bool
	// CanResolve 是否认领该查询
	CanResolve(query string) bool
	Resolve(ctx context.Context, query string, scope Scope) (Result, error)
}
