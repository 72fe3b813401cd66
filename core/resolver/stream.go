package resolver

import (
	"context"
	"fmt"
	"strconv"

	"QFMBot/core/node"
	"QFMBot/model"
)

// StreamLocator 给没有节点编码的曲目找到节点可以加载的标识
type StreamLocator struct {
	netease *NeteaseResolver
	mode    node.SearchMode
}

// NewStreamLocator 创建定位器，mode 用于只有元数据的曲目
func NewStreamLocator(netease *NeteaseResolver, mode node.SearchMode) *StreamLocator {
	if mode == node.SearchNone {
		mode = node.SearchYouTubeMusic
	}
	return &StreamLocator{netease: netease, mode: mode}
}

// Locate 网易云曲目取直链，其余优先使用 URI，最后按标题搜索
func (l *StreamLocator) Locate(ctx context.Context, t model.Track) (string, error) {
	if t.Source == NeteaseCodecID && l.netease != nil {
		id, err := strconv.ParseInt(t.Identifier, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid netease id %q", t.Identifier)
		}
		return l.netease.client.SongURL(ctx, id)
	}
	if t.URI != "" {
		return t.URI, nil
	}
	return node.Identifier(l.mode, t.DisplayName()), nil
}
