package ops

import (
	"context"
	"os"
	"time"

	"github.com/yanun0323/logs"
)

// Watch polls the modification time of path and calls update with every
// config that loads cleanly. A broken file keeps the previous config.
func Watch(ctx context.Context, path string, interval time.Duration, update func(Loaded)) {
	if interval <= 0 {
		interval = ReloadInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Errorf("config stat failed, path: %s, err: %+v", path, err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			loaded, err := Load(path)
			if err != nil {
				logs.Errorf("config reload failed, path: %s, err: %+v", path, err)
				continue
			}
			update(loaded)
			logs.Infof("config reloaded, path: %s", path)
		}
	}
}
