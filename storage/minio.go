package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"QFMBot/config"
	"QFMBot/logger"
	"QFMBot/model"
	"QFMBot/repository"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const playlistPrefix = "playlists/"

// InitMinio 创建 MinIO 客户端，存储桶不存在时自动创建
func InitMinio(cfg *config.Config) (*minio.Client, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("[MinIO] bucket created", logger.String("bucket", cfg.MinioBucket))
	}
	return client, nil
}

// PlaylistObjectName 播放列表在存储桶中的对象名
func PlaylistObjectName(id string) string {
	return playlistPrefix + id + ".json"
}

// MinioPlaylistRepository 以 JSON 对象形式把播放列表存到 MinIO
type MinioPlaylistRepository struct {
	client *minio.Client
	bucket string
}

// NewMinioPlaylistRepository 创建 MinIO 播放列表仓库
func NewMinioPlaylistRepository(client *minio.Client, bucket string) *MinioPlaylistRepository {
	return &MinioPlaylistRepository{client: client, bucket: bucket}
}

var _ repository.PlaylistRepository = (*MinioPlaylistRepository)(nil)

// Store 保存播放列表
func (r *MinioPlaylistRepository) Store(ctx context.Context, playlist *model.StoredPlaylist) (*model.StoredPlaylist, error) {
	p := repository.PrepareForStore(playlist)
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal playlist: %w", err)
	}

	_, err = r.client.PutObject(ctx, r.bucket, PlaylistObjectName(p.ID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("upload playlist %s: %w", p.ID, err)
	}
	return p, nil
}

// GetByID 读取播放列表
func (r *MinioPlaylistRepository) GetByID(ctx context.Context, id string) (*model.StoredPlaylist, error) {
	obj, err := r.client.GetObject(ctx, r.bucket, PlaylistObjectName(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get playlist %s: %w", id, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, repository.ErrPlaylistNotFound
		}
		return nil, fmt.Errorf("read playlist %s: %w", id, err)
	}

	var p model.StoredPlaylist
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode playlist %s: %w", id, err)
	}
	return &p, nil
}

// ListIDs 列出最近保存的播放列表 ID
func (r *MinioPlaylistRepository) ListIDs(ctx context.Context, limit int) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ids []string
	for obj := range r.client.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{Prefix: playlistPrefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list playlists: %w", obj.Err)
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(obj.Key, playlistPrefix), ".json"))
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}
