package providers

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/do/v2"

	"github.com/listenupapp/gallery/internal/config"
	"github.com/listenupapp/gallery/internal/retry"
	"github.com/listenupapp/gallery/internal/syncer"
	"github.com/listenupapp/gallery/internal/synclock"
)

// SyncLockHandle wraps the cross-process sync lease with shutdown capability.
type SyncLockHandle struct {
	synclock.Locker
	close func() error
}

// Shutdown implements do.Shutdownable.
func (h *SyncLockHandle) Shutdown() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// ProvideSyncLock provides the Redis lease when a lock URL is configured and
// an in-process lock otherwise.
func ProvideSyncLock(i do.Injector) (*SyncLockHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	if cfg.Sync.LockURL == "" {
		return &SyncLockHandle{Locker: synclock.Local{}}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	lock, err := synclock.NewRedis(ctx, cfg.Sync.LockURL, cfg.Sync.LockTTL)
	if err != nil {
		return nil, err
	}

	log.Info("Sync lease enabled", "ttl", cfg.Sync.LockTTL)

	return &SyncLockHandle{Locker: lock, close: lock.Close}, nil
}

// ProvideSyncEngine provides the sync engine without starting it.
func ProvideSyncEngine(i do.Injector) (*syncer.Engine, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)
	galleryHandle := do.MustInvoke[*GalleryHandle](i)
	remoteHandle := do.MustInvoke[*RemoteHandle](i)
	blobs := do.MustInvoke[*BlobUploader](i)
	lock := do.MustInvoke[*SyncLockHandle](i)

	return syncer.New(syncer.Options{
		Data:     galleryHandle.Service,
		Remote:   remoteHandle.Store,
		Uploader: blobs.Uploader,
		Locker:   lock.Locker,
		Interval: cfg.Sync.Interval,
		Retry: retry.Policy{
			MaxAttempts:    cfg.Sync.MaxAttempts,
			InitialBackoff: cfg.Sync.InitialBackoff,
			MaxBackoff:     cfg.Sync.MaxBackoff,
		},
		RatePerSecond: cfg.Sync.RatePerSecond,
		Logger:        log.Component("syncer"),
	}), nil
}

// SyncJob runs the sync engine in the background.
type SyncJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable. It waits for the running cycle to stop.
func (j *SyncJob) Shutdown() error {
	j.cancel()
	select {
	case <-j.done:
	case <-time.After(shutdownTimeout):
	}
	return nil
}

// ProvideSyncJob starts the periodic sync loop. The job is a no-op when sync
// is disabled.
func ProvideSyncJob(i do.Injector) (*SyncJob, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	ctx, cancel := context.WithCancel(context.Background())
	job := &SyncJob{cancel: cancel, done: make(chan struct{})}

	if !cfg.Sync.Enabled {
		close(job.done)
		log.Info("Sync disabled")
		return job, nil
	}

	engine := do.MustInvoke[*syncer.Engine](i)
	go func() {
		defer close(job.done)
		engine.Run(ctx)
	}()

	log.Info("Sync job started", "interval", cfg.Sync.Interval)

	return job, nil
}

// CacheCleanupJob periodically removes expired cached blobs.
type CacheCleanupJob struct {
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (j *CacheCleanupJob) Shutdown() error {
	j.cancel()
	return nil
}

// ProvideCacheCleanupJob provides the periodic cache cleanup job.
func ProvideCacheCleanupJob(i do.Injector) (*CacheCleanupJob, error) {
	galleryHandle := do.MustInvoke[*GalleryHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)

	ctx, cancel := context.WithCancel(context.Background())

	clean := func(initial bool) {
		sweep, err := galleryHandle.CleanExpiredCache(ctx, 0)
		switch {
		case err != nil && initial:
			log.Warn("Initial cache cleanup failed", "error", err)
		case err != nil:
			log.Warn("Cache cleanup failed", "error", err)
		case sweep.Removed > 0:
			log.Info("Cache cleanup completed",
				"removed", sweep.Removed,
				"freed", humanize.Bytes(uint64(sweep.FreedBytes)),
			)
		}
	}

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		clean(true)

		for {
			select {
			case <-ticker.C:
				clean(false)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Cache cleanup job started")

	return &CacheCleanupJob{cancel: cancel}, nil
}
