package cmd

import (
	"context"
	"fmt"
	"time"

	"QFMBot/config"

	"github.com/spf13/cobra"
)

var playlistLimit int

var playlistCmd = &cobra.Command{
	Use:   "playlist [id]",
	Short: "查看保存的播放列表",
	Long:  `不带参数时列出最近保存的播放列表 ID（仅 MinIO 后端），带 ID 时打印播放列表内容。`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		initLogger(cfg)

		store, closeStore, err := openPlaylistStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if len(args) == 0 {
			lister, ok := store.(interface {
				ListIDs(ctx context.Context, limit int) ([]string, error)
			})
			if !ok {
				return fmt.Errorf("playlist store %q does not support listing", cfg.PlaylistStore)
			}
			ids, err := lister.ListIDs(ctx, playlistLimit)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		}

		p, err := store.GetByID(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("播放列表: %s\n", p.ID)
		fmt.Printf("创建者: %s, 保存时间: %s\n", p.AuthorID, p.CreatedAt.Format(time.RFC3339))
		fmt.Printf("恢复位置: 第 %d 首 %s\n", p.ResumeIndex+1, p.ResumePosition())
		for i, t := range p.Tracks {
			marker := " "
			if i == p.ResumeIndex {
				marker = ">"
			}
			fmt.Printf("%s %d. [%s] %s\n", marker, i+1, t.Codec, t.Payload)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(playlistCmd)
	playlistCmd.Flags().IntVarP(&playlistLimit, "limit", "n", 20, "列出的最大数量")
	playlistCmd.Example = `  # 列出最近保存的播放列表
  qfmbot playlist

  # 查看一个播放列表
  qfmbot playlist 3f1c2a9e-...`
}
