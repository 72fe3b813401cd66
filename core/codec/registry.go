package codec

import (
	"context"
	"errors"
	"fmt"

	"QFMBot/model"

	"golang.org/x/sync/errgroup"
)

// ErrNoCodec 没有编解码器能处理该曲目，属于不可恢复的错误
var ErrNoCodec = errors.New("no codec can handle track")

// MismatchError 描述无法处理的曲目
type MismatchError struct {
	Op     string // encode / decode
	Codec  string
	Detail string
}

func (e *MismatchError) Error() string {
	if e.Codec != "" {
		return fmt.Sprintf("%s: codec %q: %s", e.Op, e.Codec, ErrNoCodec)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, ErrNoCodec)
}

func (e *MismatchError) Unwrap() error { return ErrNoCodec }

// Codec 曲目与可持久化形式之间的转换
type Codec interface {
	ID() string
	CanEncode(track model.Track) bool
	Encode(track model.Track) (model.EncodedTrack, error)
	CanDecode(encoded model.EncodedTrack) bool
	Decode(ctx context.Context, payload string) (model.Track, error)
}

// BatchDecoder 支持批量解码的编解码器实现它
type BatchDecoder interface {
	DecodeBatch(ctx context.Context, payloads []string) ([]model.Track, error)
}

// Registry 按优先级排列的编解码器集合
type Registry struct {
	codecs []Codec
}

// NewRegistry 创建注册表，顺序即优先级
func NewRegistry(codecs ...Codec) *Registry {
	return &Registry{codecs: codecs}
}

// Encode 使用第一个能处理的编解码器编码
func (r *Registry) Encode(track model.Track) (model.EncodedTrack, error) {
	for _, c := range r.codecs {
		if c.CanEncode(track) {
			enc, err := c.Encode(track)
			if err != nil {
				return model.EncodedTrack{}, fmt.Errorf("encode with %s: %w", c.ID(), err)
			}
			return enc, nil
		}
	}
	return model.EncodedTrack{}, &MismatchError{Op: "encode", Detail: fmt.Sprintf("source %q identifier %q", track.Source, track.Identifier)}
}

// EncodeAll 逐个编码，顺序与输入一致
func (r *Registry) EncodeAll(tracks []model.Track) ([]model.EncodedTrack, error) {
	out := make([]model.EncodedTrack, 0, len(tracks))
	for _, t := range tracks {
		enc, err := r.Encode(t)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

func (r *Registry) find(encoded model.EncodedTrack) Codec {
	for _, c := range r.codecs {
		if c.CanDecode(encoded) {
			return c
		}
	}
	return nil
}

// Decode 解码单个曲目
func (r *Registry) Decode(ctx context.Context, encoded model.EncodedTrack) (model.Track, error) {
	c := r.find(encoded)
	if c == nil {
		return model.Track{}, &MismatchError{Op: "decode", Codec: encoded.Codec}
	}
	return c.Decode(ctx, encoded.Payload)
}

type decodeGroup struct {
	codec     Codec
	payloads  []string
	positions []int
}

// DecodeAll 按 Codec 标识分组，每组只调用一次对应的编解码器，各组并发执行。
// 组内顺序保持不变，结果按各组首次出现的顺序拼接，不保证与输入顺序一致。
func (r *Registry) DecodeAll(ctx context.Context, encoded []model.EncodedTrack) ([]model.Track, error) {
	_, results, err := r.decodeGrouped(ctx, encoded)
	if err != nil {
		return nil, err
	}
	out := make([]model.Track, 0, len(encoded))
	for _, tracks := range results {
		out = append(out, tracks...)
	}
	return out, nil
}

// DecodeAllOrdered 与 DecodeAll 相同的分组解码，结果按输入顺序排列。
// 某组返回的曲目数与输入不一致时返回错误。
func (r *Registry) DecodeAllOrdered(ctx context.Context, encoded []model.EncodedTrack) ([]model.Track, error) {
	groups, results, err := r.decodeGrouped(ctx, encoded)
	if err != nil {
		return nil, err
	}
	out := make([]model.Track, len(encoded))
	for i, g := range groups {
		if len(results[i]) != len(g.positions) {
			return nil, fmt.Errorf("codec %s decoded %d of %d tracks", g.codec.ID(), len(results[i]), len(g.positions))
		}
		for j, pos := range g.positions {
			out[pos] = results[i][j]
		}
	}
	return out, nil
}

func (r *Registry) decodeGrouped(ctx context.Context, encoded []model.EncodedTrack) ([]*decodeGroup, [][]model.Track, error) {
	var groups []*decodeGroup
	index := make(map[string]*decodeGroup)

	for pos, e := range encoded {
		g, ok := index[e.Codec]
		if !ok {
			c := r.find(e)
			if c == nil {
				return nil, nil, &MismatchError{Op: "decode", Codec: e.Codec}
			}
			g = &decodeGroup{codec: c}
			index[e.Codec] = g
			groups = append(groups, g)
		}
		g.payloads = append(g.payloads, e.Payload)
		g.positions = append(g.positions, pos)
	}

	results := make([][]model.Track, len(groups))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, g := range groups {
		i, g := i, g
		eg.Go(func() error {
			tracks, err := decodeGroupTracks(egCtx, g)
			if err != nil {
				return fmt.Errorf("decode %d tracks with %s: %w", len(g.payloads), g.codec.ID(), err)
			}
			results[i] = tracks
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return groups, results, nil
}

func decodeGroupTracks(ctx context.Context, g *decodeGroup) ([]model.Track, error) {
	if batch, ok := g.codec.(BatchDecoder); ok {
		return batch.DecodeBatch(ctx, g.payloads)
	}
	out := make([]model.Track, 0, len(g.payloads))
	for _, p := range g.payloads {
		t, err := g.codec.Decode(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
