package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QFMBot/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrPlaylistNotFound 指定 ID 的播放列表不存在
var ErrPlaylistNotFound = errors.New("stored playlist not found")

// PlaylistRepository 保存和读取关闭时的队列快照
type PlaylistRepository interface {
	// Store 分配新 ID 并保存，返回保存后的记录
	Store(ctx context.Context, playlist *model.StoredPlaylist) (*model.StoredPlaylist, error)
	GetByID(ctx context.Context, id string) (*model.StoredPlaylist, error)
}

// PrepareForStore 为即将保存的播放列表生成 ID 和时间，其他实现也复用它
func PrepareForStore(playlist *model.StoredPlaylist) *model.StoredPlaylist {
	p := *playlist
	p.ID = uuid.New().String()
	p.CreatedAt = time.Now()
	if p.Tracks == nil {
		p.Tracks = model.EncodedTrackList{}
	}
	return &p
}

// gormPlaylistRepository GORM 实现
type gormPlaylistRepository struct {
	db *gorm.DB
}

// NewGormPlaylistRepository 创建 GORM 播放列表仓库
func NewGormPlaylistRepository(db *gorm.DB) PlaylistRepository {
	return &gormPlaylistRepository{db: db}
}

// Store 保存播放列表
func (r *gormPlaylistRepository) Store(ctx context.Context, playlist *model.StoredPlaylist) (*model.StoredPlaylist, error) {
	p := PrepareForStore(playlist)
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("store playlist: %w", err)
	}
	return p, nil
}

// GetByID 根据ID获取播放列表
func (r *gormPlaylistRepository) GetByID(ctx context.Context, id string) (*model.StoredPlaylist, error) {
	var p model.StoredPlaylist
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlaylistNotFound
		}
		return nil, fmt.Errorf("get playlist %s: %w", id, err)
	}
	return &p, nil
}
