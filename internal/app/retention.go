package app

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"msgblast/internal/config"
	"msgblast/pkg/logx"
)

// Upload spool files this old are leftovers from a crashed dispatch.
const staleUploadAge = time.Hour

// startRetention schedules the periodic prune of old attempt summaries and
// stale upload files. Disabled unless the config enables it.
func (a *App) startRetention() error {
	cfg := a.cfgMgr.Get()
	if cfg == nil || cfg.Retention == nil || !cfg.Retention.Enabled {
		return nil
	}
	spec := cfg.Retention.Schedule
	if spec == "" {
		spec = "0 3 * * *"
	}
	maxAge, err := config.ParseDurationOrDefault("retention.max_age", cfg.Retention.MaxAge, 720*time.Hour)
	if err != nil {
		return err
	}

	c := cron.New()
	_, err = c.AddFunc(spec, func() { a.runRetention(maxAge) })
	if err != nil {
		return err
	}
	c.Start()
	a.cron = c
	a.log.Info("retention scheduled", logx.String("spec", spec), logx.Duration("max_age", maxAge))
	return nil
}

func (a *App) runRetention(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		removed, err := a.store.PruneAttempts(ctx, cutoff)
		cancel()
		if err != nil {
			a.log.Warn("attempt prune failed", logx.Err(err))
		} else if removed > 0 {
			a.log.Info("old attempt summaries pruned", logx.Int("removed", removed))
		}
	}

	a.sweepUploads()
}

// sweepUploads removes spool files left behind by dispatches that never
// finished (crash, kill). Live uploads are far younger than the threshold.
func (a *App) sweepUploads() {
	cfg := a.cfgMgr.Get()
	if cfg == nil {
		return
	}
	dir := cfg.Server.UploadDir
	if dir == "" {
		dir = "./uploads"
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-staleUploadAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(dir, e.Name())) == nil {
			removed++
		}
	}
	if removed > 0 {
		a.log.Info("stale uploads swept", logx.Int("removed", removed), logx.String("dir", dir))
	}
}
