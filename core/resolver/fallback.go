package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"QFMBot/core/node"
	"QFMBot/logger"
	"QFMBot/model"
)

// FallbackCodecID 节点来源曲目的编解码器标识
const FallbackCodecID = "lavalink"

// FallbackResolver 把查询交给音频节点，认领所有查询，放在优先级最后
type FallbackResolver struct {
	pool *node.Pool
	mode node.SearchMode
}

// NewFallbackResolver 创建节点解析器
func NewFallbackResolver(pool *node.Pool, mode node.SearchMode) *FallbackResolver {
	return &FallbackResolver{pool: pool, mode: mode}
}

func (r *FallbackResolver) ID() string { return FallbackCodecID }

// Available 至少一个节点可用
func (r *FallbackResolver) Available() bool { return r.pool.AnyAvailable() }

func (r *FallbackResolver) CanResolve(string) bool { return true }

// IsAbsoluteURI 带协议和主机的完整地址
func IsAbsoluteURI(query string) bool {
	u, err := url.Parse(query)
	return err == nil && u.IsAbs() && u.Host != ""
}

// Resolve 完整地址直接加载一次；其他查询先在首选节点搜索，没有结果时换一个节点再试一次
func (r *FallbackResolver) Resolve(ctx context.Context, query string, scope Scope) (Result, error) {
	preferred, err := r.pool.Select(node.RequestLoadTrack)
	if err != nil {
		return Result{}, err
	}

	if IsAbsoluteURI(query) {
		res, err := preferred.LoadTracks(ctx, query)
		if err != nil {
			return Result{}, fmt.Errorf("load %s on %s: %w", query, preferred.Name(), err)
		}
		return fromLoadResult(res), nil
	}

	identifier := node.Identifier(r.mode, query)
	track, found, lastErr := loadFirst(ctx, preferred, identifier)
	if found {
		return SearchHit(track), nil
	}

	alternate := r.pool.SelectOther(preferred)
	if alternate == nil {
		alternate = preferred
	}
	logger.Debug("[Resolver] retrying search on another node",
		logger.String("query", query),
		logger.String("first", preferred.Name()),
		logger.String("second", alternate.Name()))

	track, found, err = loadFirst(ctx, alternate, identifier)
	if found {
		return SearchHit(track), nil
	}
	if err != nil {
		lastErr = err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	detail := query
	if lastErr != nil {
		detail = lastErr.Error()
	}
	return Fail(SeveritySuspicious, "no matches found", detail), nil
}

func loadFirst(ctx context.Context, n node.Node, identifier string) (model.Track, bool, error) {
	res, err := n.LoadTracks(ctx, identifier)
	if err != nil {
		return model.Track{}, false, err
	}
	if res.Exception != nil {
		return model.Track{}, false, res.Exception
	}
	track, ok := res.First()
	return track, ok, nil
}

func severityOf(s string) Severity {
	if s == "fault" {
		return SeverityFault
	}
	return SeveritySuspicious
}

func fromLoadResult(res *node.LoadResult) Result {
	if res.Exception != nil {
		return Fail(severityOf(res.Exception.Severity), res.Exception.Message, res.Exception.Cause)
	}
	if res.Type == node.LoadPlaylist {
		return Playlist(res.PlaylistName, res.Tracks)
	}
	return Tracks(res.Tracks...)
}

// CanEncode 只有带节点编码的曲目才能由节点还原
func (r *FallbackResolver) CanEncode(t model.Track) bool { return t.Encoded != "" }

// Encode 把节点曲目原样序列化
func (r *FallbackResolver) Encode(t model.Track) (model.EncodedTrack, error) {
	data, err := json.Marshal(node.RawTrackOf(t))
	if err != nil {
		return model.EncodedTrack{}, err
	}
	return model.EncodedTrack{Codec: FallbackCodecID, Payload: string(data)}, nil
}

func (r *FallbackResolver) CanDecode(e model.EncodedTrack) bool { return e.Codec == FallbackCodecID }

func (r *FallbackResolver) Decode(_ context.Context, payload string) (model.Track, error) {
	var raw node.RawTrack
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return model.Track{}, fmt.Errorf("decode node track: %w", err)
	}
	return raw.ToTrack(), nil
}
