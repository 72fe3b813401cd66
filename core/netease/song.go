package netease

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"QFMBot/logger"
	"QFMBot/model"
)

// detailSong /song/detail 与 /playlist/track/all 返回的歌曲结构，字段名与搜索接口不同
type detailSong struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"ar"`
	Album struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		PicURL string `json:"picUrl"`
	} `json:"al"`
	Duration int `json:"dt"`
}

func (s detailSong) toModel() model.NeteaseSong {
	artists := make([]model.NeteaseArtist, len(s.Artists))
	for i, a := range s.Artists {
		artists[i] = model.NeteaseArtist{ID: a.ID, Name: a.Name}
	}
	return model.NeteaseSong{
		ID:       s.ID,
		Name:     s.Name,
		Artists:  artists,
		Album:    model.NeteaseAlbum{ID: s.Album.ID, Name: s.Album.Name, PicURL: s.Album.PicURL},
		Duration: s.Duration,
	}
}

// SearchSongs 搜索歌曲
func (c *Client) SearchSongs(ctx context.Context, keyword string, limit, offset int) (*model.NeteaseSearchResult, error) {
	params := url.Values{}
	params.Set("keywords", keyword)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var result struct {
		Result struct {
			Songs []struct {
				ID      int64  `json:"id"`
				Name    string `json:"name"`
				Artists []struct {
					ID        int64  `json:"id"`
					Name      string `json:"name"`
					Img1v1Url string `json:"img1v1Url"`
				} `json:"artists"`
				Album struct {
					ID     int64  `json:"id"`
					Name   string `json:"name"`
					PicURL string `json:"picUrl"`
				} `json:"album"`
				Duration int `json:"duration"`
			} `json:"songs"`
			Total int `json:"songCount"`
		} `json:"result"`
		Code int `json:"code"`
	}
	if err := c.getJSON(ctx, "/search?"+params.Encode(), &result); err != nil {
		return nil, err
	}
	if result.Code != 200 {
		return nil, fmt.Errorf("API返回错误 (code: %d)", result.Code)
	}

	searchResult := &model.NeteaseSearchResult{
		Total: result.Result.Total,
		Songs: make([]model.NeteaseSong, len(result.Result.Songs)),
	}
	for i, song := range result.Result.Songs {
		// 没有专辑封面时使用第一个艺术家的图片
		picURL := song.Album.PicURL
		if picURL == "" && len(song.Artists) > 0 {
			picURL = song.Artists[0].Img1v1Url
		}

		artists := make([]model.NeteaseArtist, len(song.Artists))
		for j, a := range song.Artists {
			artists[j] = model.NeteaseArtist{ID: a.ID, Name: a.Name}
		}
		searchResult.Songs[i] = model.NeteaseSong{
			ID:       song.ID,
			Name:     song.Name,
			Artists:  artists,
			Album:    model.NeteaseAlbum{ID: song.Album.ID, Name: song.Album.Name, PicURL: picURL},
			Duration: song.Duration,
		}
	}

	logger.Debug("[Netease] search done", logger.String("keyword", keyword), logger.Int("count", len(searchResult.Songs)))
	return searchResult, nil
}

// SongDetails 批量获取歌曲详情，返回顺序与接口一致，不存在的 ID 会被跳过
func (c *Client) SongDetails(ctx context.Context, ids []int64) ([]model.NeteaseSong, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}

	var result struct {
		Songs []detailSong `json:"songs"`
		Code  int          `json:"code"`
	}
	if err := c.getJSON(ctx, "/song/detail?ids="+strings.Join(parts, ","), &result); err != nil {
		return nil, err
	}
	if result.Code != 200 {
		return nil, fmt.Errorf("API返回错误 (code: %d)", result.Code)
	}

	songs := make([]model.NeteaseSong, len(result.Songs))
	for i, s := range result.Songs {
		songs[i] = s.toModel()
	}
	return songs, nil
}

// SongURL 获取歌曲的播放地址，地址为空通常是版权限制
func (c *Client) SongURL(ctx context.Context, id int64) (string, error) {
	var result struct {
		Data []struct {
			ID  int64  `json:"id"`
			URL string `json:"url"`
		} `json:"data"`
		Code int    `json:"code"`
		Msg  string `json:"msg,omitempty"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/song/url/v1?id=%d&level=exhigh", id), &result); err != nil {
		return "", err
	}
	if result.Code != 200 {
		return "", fmt.Errorf("API返回错误: %s (code: %d)", result.Msg, result.Code)
	}
	if len(result.Data) == 0 {
		return "", fmt.Errorf("未找到歌曲数据")
	}
	if result.Data[0].URL == "" {
		return "", fmt.Errorf("歌曲URL为空，可能是版权限制")
	}
	return result.Data[0].URL, nil
}
