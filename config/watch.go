package config

import (
	"context"
	"os"
	"time"
)

// DefaultWatchInterval mtime 轮询周期。
const DefaultWatchInterval = 2 * time.Second

// Watcher mtime 轮询的配置监视兜底：fsnotify 热更新器起不来时（如容器
// 内 inotify 句柄耗尽）由 cmd/proxyd 启用，变更时回调最新配置。
type Watcher struct {
	Path     string
	Interval time.Duration
}

// Start 开始轮询，阻塞直到 ctx 取消。读不到文件或解析失败的轮次跳过，
// 不打断监视。
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if w.Interval <= 0 {
		w.Interval = DefaultWatchInterval
	}
	var lastMod time.Time
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := readFileInfo(w.Path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				if cfg, err := LoadWithEnvOverrides(w.Path); err == nil && onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}
}

// readFileInfo 测试注入点。
var readFileInfo = func(path string) (info interface{ ModTime() time.Time }, err error) {
	return os.Stat(path)
}
