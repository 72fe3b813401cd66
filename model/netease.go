package model

// NeteaseAlbum 网易云音乐专辑信息
type NeteaseAlbum struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	PicURL string `json:"picUrl"`
}

// NeteaseArtist 网易云音乐艺术家信息
type NeteaseArtist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NeteaseSong 网易云音乐歌曲信息
type NeteaseSong struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Artists  []NeteaseArtist `json:"artists"`
	Album    NeteaseAlbum    `json:"album"`
	Duration int             `json:"duration"` // 时长（毫秒）
}

// ArtistNames 以逗号连接的艺术家名
func (s NeteaseSong) ArtistNames() string {
	names := ""
	for i, a := range s.Artists {
		if i > 0 {
			names += ", "
		}
		names += a.Name
	}
	return names
}

// NeteaseSearchResult 搜索结果
type NeteaseSearchResult struct {
	Songs []NeteaseSong `json:"songs"`
	Total int           `json:"total"`
}

// NeteasePlaylist 歌单信息
type NeteasePlaylist struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CoverURL    string `json:"coverImgUrl"`
	TrackCount  int    `json:"trackCount"`
	PlayCount   int    `json:"playCount"`
}
