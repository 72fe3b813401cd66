package cmd

import (
	"context"
	"fmt"
	"strings"

	"QFMBot/cache"
	"QFMBot/config"
	"QFMBot/core/auth"
	"QFMBot/core/codec"
	"QFMBot/core/discord"
	"QFMBot/core/events"
	"QFMBot/core/inactivity"
	"QFMBot/core/lifecycle"
	"QFMBot/core/netease"
	"QFMBot/core/node"
	"QFMBot/core/player"
	"QFMBot/core/resolver"
	"QFMBot/db"
	"QFMBot/logger"
	"QFMBot/model"
	"QFMBot/repository"
	"QFMBot/server"
	"QFMBot/storage"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动机器人和管理接口",
	Long:  `连接 Discord 网关和音频节点，启动空闲检测引擎和 HTTP 管理接口`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func initLogger(cfg *config.Config) {
	logger.InitLogger(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})
}

// openPlaylistStore 按配置选择 MySQL 或 MinIO 保存播放列表
func openPlaylistStore(cfg *config.Config) (repository.PlaylistRepository, func(), error) {
	switch strings.ToLower(cfg.PlaylistStore) {
	case "minio":
		client, err := storage.InitMinio(cfg)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewMinioPlaylistRepository(client, cfg.MinioBucket), func() {}, nil
	case "mysql", "":
		if err := db.ConnectGormDB(cfg); err != nil {
			return nil, nil, err
		}
		if err := db.AutoMigrateModels(&model.StoredPlaylist{}); err != nil {
			db.CloseGormDB()
			return nil, nil, err
		}
		return repository.NewGormPlaylistRepository(db.GormDB), func() { db.CloseGormDB() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown playlist store %q", cfg.PlaylistStore)
	}
}

func runServer(ctx context.Context) error {
	cfg := config.Load()
	initLogger(cfg)
	defer logger.Sync()

	store, closeStore, err := openPlaylistStore(cfg)
	if err != nil {
		return fmt.Errorf("open playlist store: %w", err)
	}
	defer closeStore()

	// Redis 只用于发布空闲检测快照，连不上时降级运行
	var publisher inactivity.Publisher
	var tracking server.TrackingReader
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("[Server] Redis 不可用，空闲检测快照不会发布", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
		tc := cache.NewTrackingCache(cache.RedisClient)
		publisher, tracking = tc, tc
	}

	membership := discord.NewMembership()
	client, err := discord.NewClient(ctx, cfg.DiscordToken, membership)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	nodes := make([]node.Node, 0, len(cfg.Nodes))
	for _, nc := range cfg.Nodes {
		nodes = append(nodes, node.NewLavalinkNode(nc, client.ID().String()))
	}
	pool := node.NewPool(nodes...)
	for _, n := range nodes {
		if err := n.Start(ctx); err != nil {
			logger.Warn("[Server] 节点启动失败", logger.String("node", n.Name()), logger.ErrorField(err))
		}
	}

	mode := node.SearchMode(cfg.SearchMode)
	neteaseResolver := resolver.NewNeteaseResolver(netease.NewClient(cfg.NeteaseAPIURL, cfg.NeteaseRateLimit))
	queryCache := cache.NewQueryCache(cache.DefaultQueryTTL)
	go queryCache.Run(ctx, cache.DefaultPurgeInterval)
	service := resolver.NewService(
		queryCache,
		neteaseResolver,
		resolver.NewYTMusicResolver(nil),
		resolver.NewFallbackResolver(pool, mode),
	)
	codecs := codec.NewRegistry(service.Codecs()...)

	players := player.NewRegistry(pool, resolver.NewStreamLocator(neteaseResolver, mode))
	manager := lifecycle.NewManager(pool, codecs, store, players, players, lifecycle.Options{
		RestartDelay:  cfg.RestartDelay,
		SessionParams: lifecycle.ShutdownParams{SavePlaylist: true, ShutdownDisplays: true},
	})
	defer manager.Close()

	opts, err := inactivity.OptionsFromConfig(cfg.Inactivity, membership, players)
	if err != nil {
		return fmt.Errorf("inactivity config: %w", err)
	}
	hub := events.NewHub()
	go hub.Run()
	defer hub.Stop()

	engine := inactivity.NewEngine(manager, inactivity.Publishers(publisher, hub), opts)
	players.SetHooks(engine.Track, engine.Untrack)
	engine.Start(ctx)
	defer engine.Stop()

	err = config.Watch(ctx, cfg.ConfigFile, cfg.Inactivity, func(ic config.InactivityConfig) {
		opts, err := inactivity.OptionsFromConfig(ic, membership, players)
		if err != nil {
			logger.Warn("[Server] 忽略无效的空闲检测配置", logger.ErrorField(err))
			return
		}
		engine.UpdateOptions(opts)
		logger.Info("[Server] 空闲检测配置已更新", logger.Int("trackers", len(opts.Trackers)))
	})
	if err != nil {
		logger.Warn("[Server] 配置文件监听失败", logger.String("path", cfg.ConfigFile), logger.ErrorField(err))
	}

	handler := server.NewAPIHandler(server.Deps{
		Resolver:          service,
		Playlists:         store,
		Tracking:          tracking,
		Sessions:          players,
		Lifecycle:         manager,
		Playback:          players,
		Tokens:            auth.NewTokenIssuer(cfg.JWTSecret, auth.DefaultTokenTTL),
		Events:            hub,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: cfg.AdminPasswordHash,
	})
	return server.Run(ctx, cfg.HTTPAddr, handler.Router())
}
