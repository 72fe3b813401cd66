package cmd

import (
	"context"
	"fmt"
	"time"

	"QFMBot/cache"
	"QFMBot/config"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，并列出正在进行空闲检测的会话。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer cache.CloseRedis()
		fmt.Println("Redis连接成功！")

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		tc := cache.NewTrackingCache(cache.RedisClient)
		sessions, err := tc.Sessions(ctx)
		if err != nil {
			return fmt.Errorf("读取会话列表失败: %w", err)
		}
		fmt.Printf("空闲检测中的会话: %d\n", len(sessions))
		for _, id := range sessions {
			snap, err := tc.Get(ctx, id)
			if err != nil || snap == nil {
				continue
			}
			expires := "-"
			if snap.Tracked {
				expires = time.Until(snap.ExpiresAt).Round(time.Second).String()
			}
			fmt.Printf("  %s tracked=%v expiresIn=%s\n", id, snap.Tracked, expires)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
