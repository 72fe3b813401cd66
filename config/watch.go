package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay 合并编辑器保存时产生的多次写事件
const reloadDelay = 200 * time.Millisecond

// Watch 监听配置文件变化，重新解析空闲检测配置后回调 onChange，直到 ctx 结束。
// 监听的是所在目录，这样重命名式保存也能收到事件。
func Watch(ctx context.Context, path string, base InactivityConfig, onChange func(InactivityConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		defer watcher.Close()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					pending = time.After(reloadDelay)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Config watcher error: %v", err)
			case <-pending:
				pending = nil
				data, err := os.ReadFile(abs)
				if err != nil {
					log.Printf("Failed to read config file %s: %v", abs, err)
					continue
				}
				fc, err := parseFile(data, base)
				if err != nil {
					log.Printf("Ignoring invalid config file %s: %v", abs, err)
					continue
				}
				if fc.Inactivity != nil {
					base = *fc.Inactivity
					onChange(base)
				}
			}
		}
	}()
	return nil
}
