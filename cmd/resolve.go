package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"QFMBot/config"
	"QFMBot/core/netease"
	"QFMBot/core/resolver"

	"github.com/spf13/cobra"
)

var resolveTimeout time.Duration

var resolveCmd = &cobra.Command{
	Use:   "resolve [query]",
	Short: "解析一条查询并打印曲目",
	Long:  `使用网易云和 YouTube Music 解析器解析查询，不连接音频节点。支持歌曲/歌单链接、ncm: 前缀搜索和普通关键词。`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		initLogger(cfg)

		service := resolver.NewService(nil,
			resolver.NewNeteaseResolver(netease.NewClient(cfg.NeteaseAPIURL, cfg.NeteaseRateLimit)),
			resolver.NewYTMusicResolver(nil),
		)

		ctx := cmd.Context()
		if resolveTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, resolveTimeout)
			defer cancel()
		}

		query := strings.Join(args, " ")
		fmt.Printf("正在解析: %s\n", query)
		result := service.Resolve(ctx, query, resolver.Scope{})
		if !result.Success() {
			return fmt.Errorf("解析失败 (%s): %s %s", result.Failure.Severity, result.Failure.Message, result.Failure.Detail)
		}

		if result.PlaylistName != "" {
			fmt.Printf("\n歌单: %s\n", result.PlaylistName)
		}
		fmt.Printf("找到 %d 首歌曲:\n", len(result.Tracks))
		for i, t := range result.Tracks {
			fmt.Printf("%d. %s [%s] %s\n", i+1, t.DisplayName(), t.Source, t.Duration.Round(time.Second))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().DurationVarP(&resolveTimeout, "timeout", "t", 30*time.Second, "解析超时时间")
}
