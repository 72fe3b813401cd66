package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"QFMBot/core/codec"
	"QFMBot/core/netease"
	"QFMBot/model"
)

// NeteaseCodecID 网易云曲目的编解码器标识
const NeteaseCodecID = "netease"

var (
	neteaseSongPattern     = regexp.MustCompile(`music\.163\.com/(?:#/)?(?:m/)?song\?(?:.*&)?id=(\d+)`)
	neteasePlaylistPattern = regexp.MustCompile(`music\.163\.com/(?:#/)?(?:m/)?playlist\?(?:.*&)?id=(\d+)`)
	neteaseSearchPrefixes  = []string{"ncm:", "netease:"}
)

var _ codec.BatchDecoder = (*NeteaseResolver)(nil)

// NeteaseResolver 解析网易云链接和 ncm: 搜索
type NeteaseResolver struct {
	client *netease.Client
}

// NewNeteaseResolver 创建网易云解析器
func NewNeteaseResolver(client *netease.Client) *NeteaseResolver {
	return &NeteaseResolver{client: client}
}

func (r *NeteaseResolver) ID() string { return NeteaseCodecID }

// Available 配置了 API 地址才可用
func (r *NeteaseResolver) Available() bool { return r.client.BaseURL() != "" }

func searchTerm(query string) (string, bool) {
	lower := strings.ToLower(query)
	for _, p := range neteaseSearchPrefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(query[len(p):]), true
		}
	}
	return "", false
}

func (r *NeteaseResolver) CanResolve(query string) bool {
	if _, ok := searchTerm(query); ok {
		return true
	}
	return neteaseSongPattern.MatchString(query) || neteasePlaylistPattern.MatchString(query)
}

func (r *NeteaseResolver) Resolve(ctx context.Context, query string, scope Scope) (Result, error) {
	if term, ok := searchTerm(query); ok {
		if term == "" {
			return Fail(SeveritySuspicious, "empty search", query), nil
		}
		res, err := r.client.SearchSongs(ctx, term, 1, 0)
		if err != nil {
			return Result{}, err
		}
		if len(res.Songs) == 0 {
			return Fail(SeveritySuspicious, "no matches found", term), nil
		}
		return SearchHit(neteaseTrack(res.Songs[0])), nil
	}

	if m := neteasePlaylistPattern.FindStringSubmatch(query); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		detail, err := r.client.GetPlaylistDetail(ctx, id)
		if err != nil {
			return Result{}, err
		}
		songs, err := r.client.GetPlaylistTracks(ctx, id)
		if err != nil {
			return Result{}, err
		}
		tracks := make([]model.Track, len(songs))
		for i, s := range songs {
			tracks[i] = neteaseTrack(s)
		}
		return Playlist(detail.Name, tracks), nil
	}

	m := neteaseSongPattern.FindStringSubmatch(query)
	if m == nil {
		return Fail(SeveritySuspicious, "unsupported netease link", query), nil
	}
	id, _ := strconv.ParseInt(m[1], 10, 64)
	songs, err := r.client.SongDetails(ctx, []int64{id})
	if err != nil {
		return Result{}, err
	}
	if len(songs) == 0 {
		return Fail(SeveritySuspicious, "song not found", m[1]), nil
	}
	return Tracks(neteaseTrack(songs[0])), nil
}

func neteaseTrack(s model.NeteaseSong) model.Track {
	return model.Track{
		Identifier: strconv.FormatInt(s.ID, 10),
		Title:      s.Name,
		Author:     s.ArtistNames(),
		Duration:   time.Duration(s.Duration) * time.Millisecond,
		Source:     NeteaseCodecID,
		URI:        fmt.Sprintf("https://music.163.com/song?id=%d", s.ID),
		Capabilities: model.Capabilities{
			ArtworkURL: s.Album.PicURL,
			AlbumName:  s.Album.Name,
		},
	}
}

func (r *NeteaseResolver) CanEncode(t model.Track) bool { return t.Source == NeteaseCodecID }

// Encode 只保存歌曲 ID，解码时重新拉取详情
func (r *NeteaseResolver) Encode(t model.Track) (model.EncodedTrack, error) {
	if _, err := strconv.ParseInt(t.Identifier, 10, 64); err != nil {
		return model.EncodedTrack{}, fmt.Errorf("invalid netease id %q", t.Identifier)
	}
	return model.EncodedTrack{Codec: NeteaseCodecID, Payload: t.Identifier}, nil
}

func (r *NeteaseResolver) CanDecode(e model.EncodedTrack) bool { return e.Codec == NeteaseCodecID }

func (r *NeteaseResolver) Decode(ctx context.Context, payload string) (model.Track, error) {
	tracks, err := r.DecodeBatch(ctx, []string{payload})
	if err != nil {
		return model.Track{}, err
	}
	return tracks[0], nil
}

// DecodeBatch 每 400 个 ID 请求一次详情，结果按 payloads 的顺序返回
func (r *NeteaseResolver) DecodeBatch(ctx context.Context, payloads []string) ([]model.Track, error) {
	byID := make(map[int64]model.NeteaseSong, len(payloads))
	for _, chunk := range codec.Chunk(payloads, codec.MaxBatchSize) {
		ids := make([]int64, len(chunk))
		for i, p := range chunk {
			id, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid netease payload %q", p)
			}
			ids[i] = id
		}
		songs, err := r.client.SongDetails(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, s := range songs {
			byID[s.ID] = s
		}
	}

	out := make([]model.Track, len(payloads))
	for i, p := range payloads {
		id, _ := strconv.ParseInt(p, 10, 64)
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("netease song %d not found", id)
		}
		out[i] = neteaseTrack(s)
	}
	return out, nil
}
