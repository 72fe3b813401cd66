package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"QFMBot/model"

	"github.com/raitonoberu/ytmusic"
)

// YTMusicCodecID YouTube Music 曲目的编解码器标识
const YTMusicCodecID = "ytmusic"

const ytmusicPrefix = "ytm:"

// YTMusicSearchFunc 执行一次 YouTube Music 单曲搜索
type YTMusicSearchFunc func(query string) ([]*ytmusic.TrackItem, error)

func defaultYTMusicSearch(query string) ([]*ytmusic.TrackItem, error) {
	r, err := ytmusic.TrackSearch(query).Next()
	if err != nil {
		return nil, err
	}
	return r.Tracks, nil
}

// YTMusicResolver 处理 ytm: 前缀的搜索
type YTMusicResolver struct {
	search YTMusicSearchFunc
}

// NewYTMusicResolver 创建解析器，search 为 nil 时使用 ytmusic 库
func NewYTMusicResolver(search YTMusicSearchFunc) *YTMusicResolver {
	if search == nil {
		search = defaultYTMusicSearch
	}
	return &YTMusicResolver{search: search}
}

func (r *YTMusicResolver) ID() string { return YTMusicCodecID }

func (r *YTMusicResolver) Available() bool { return true }

func (r *YTMusicResolver) CanResolve(query string) bool {
	return strings.HasPrefix(strings.ToLower(query), ytmusicPrefix)
}

type ytmSearchResult struct {
	items []*ytmusic.TrackItem
	err   error
}

// Resolve 搜索并返回第一首有效结果。ytmusic 库不接受 ctx，这里在 ctx 结束时放弃等待
func (r *YTMusicResolver) Resolve(ctx context.Context, query string, scope Scope) (Result, error) {
	term := strings.TrimSpace(query[len(ytmusicPrefix):])
	if term == "" {
		return Fail(SeveritySuspicious, "empty search", query), nil
	}

	done := make(chan ytmSearchResult, 1)
	go func() {
		items, err := r.search(term)
		done <- ytmSearchResult{items: items, err: err}
	}()

	var res ytmSearchResult
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return Result{}, fmt.Errorf("ytmusic search: %w", res.err)
	}

	for _, item := range res.items {
		if item == nil || item.VideoID == "" {
			continue
		}
		return SearchHit(ytmusicTrack(ytmusicPayload{
			VideoID:  item.VideoID,
			Title:    item.Title,
			Author:   firstArtist(item),
			Duration: item.Duration,
		})), nil
	}
	return Fail(SeveritySuspicious, "no matches found", term), nil
}

func firstArtist(item *ytmusic.TrackItem) string {
	if len(item.Artists) == 0 {
		return ""
	}
	return item.Artists[0].Name
}

// ytmusicPayload 编码后保存的字段，时长单位为秒
type ytmusicPayload struct {
	VideoID  string `json:"videoId"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Duration int    `json:"duration"`
}

func ytmusicTrack(p ytmusicPayload) model.Track {
	return model.Track{
		Identifier: p.VideoID,
		Title:      p.Title,
		Author:     p.Author,
		Duration:   time.Duration(p.Duration) * time.Second,
		Source:     YTMusicCodecID,
		URI:        "https://music.youtube.com/watch?v=" + p.VideoID,
		Capabilities: model.Capabilities{
			ArtworkURL: fmt.Sprintf("https://i.ytimg.com/vi/%s/hqdefault.jpg", p.VideoID),
		},
	}
}

func (r *YTMusicResolver) CanEncode(t model.Track) bool { return t.Source == YTMusicCodecID }

func (r *YTMusicResolver) Encode(t model.Track) (model.EncodedTrack, error) {
	data, err := json.Marshal(ytmusicPayload{
		VideoID:  t.Identifier,
		Title:    t.Title,
		Author:   t.Author,
		Duration: int(t.Duration / time.Second),
	})
	if err != nil {
		return model.EncodedTrack{}, err
	}
	return model.EncodedTrack{Codec: YTMusicCodecID, Payload: string(data)}, nil
}

func (r *YTMusicResolver) CanDecode(e model.EncodedTrack) bool { return e.Codec == YTMusicCodecID }

func (r *YTMusicResolver) Decode(_ context.Context, payload string) (model.Track, error) {
	var p ytmusicPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return model.Track{}, fmt.Errorf("decode ytmusic track: %w", err)
	}
	return ytmusicTrack(p), nil
}
