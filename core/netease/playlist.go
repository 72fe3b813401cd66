package netease

import (
	"context"
	"fmt"
	"strconv"

	"QFMBot/logger"
	"QFMBot/model"
)

// GetPlaylistDetail 获取歌单详情
func (c *Client) GetPlaylistDetail(ctx context.Context, playlistID int64) (*model.NeteasePlaylist, error) {
	var result struct {
		Playlist model.NeteasePlaylist `json:"playlist"`
		Code     int                   `json:"code"`
	}
	if err := c.getJSON(ctx, "/playlist/detail?id="+strconv.FormatInt(playlistID, 10), &result); err != nil {
		return nil, err
	}
	if result.Code != 200 {
		return nil, fmt.Errorf("API返回错误 (code: %d)", result.Code)
	}
	return &result.Playlist, nil
}

// GetPlaylistTracks 获取歌单中的歌曲列表
func (c *Client) GetPlaylistTracks(ctx context.Context, playlistID int64) ([]model.NeteaseSong, error) {
	var result struct {
		Songs []detailSong `json:"songs"`
		Code  int          `json:"code"`
	}
	if err := c.getJSON(ctx, "/playlist/track/all?id="+strconv.FormatInt(playlistID, 10), &result); err != nil {
		return nil, err
	}
	if result.Code != 200 {
		return nil, fmt.Errorf("API返回错误 (code: %d)", result.Code)
	}

	songs := make([]model.NeteaseSong, len(result.Songs))
	for i, s := range result.Songs {
		songs[i] = s.toModel()
	}
	logger.Info("[Netease] 获取歌单歌曲", logger.Int64("playlist_id", playlistID), logger.Int("songs_count", len(songs)))
	return songs, nil
}
