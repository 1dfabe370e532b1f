package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/pion/webrtc/v4"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

// Live holds the current config and is swapped atomically on reload.
type Live struct {
	cur atomic.Pointer[Config]
}

// NewLive returns a Live seeded with cfg.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.cur.Store(cfg)
	return l
}

// Get returns the current config. Treat it as read-only.
func (l *Live) Get() *Config { return l.cur.Load() }

// ICEServers returns the current ICE server list. Calls in progress keep the
// list they were created with.
func (l *Live) ICEServers() []webrtc.ICEServer {
	return l.Get().WebRTC.PionICEServers()
}

// Watch reloads path whenever it changes and stores the result in l. A file
// that fails to load is logged and the previous config kept. Watch blocks
// until ctx is done.
func (l *Live) Watch(ctx context.Context, path string, onReload func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	// Editors replace files by rename, so watch the directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				util.LogWarning("config reload skipped: %v", err)
				continue
			}
			l.cur.Store(cfg)
			util.LogInfo("config reloaded (%d ICE servers)", len(cfg.WebRTC.ICEServers))
			if onReload != nil {
				onReload(cfg)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			util.LogWarning("config watcher: %v", err)
		}
	}
}
