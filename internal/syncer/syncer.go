// Package syncer pushes images created or edited offline to the remote store
// and replaces each local record with the version the remote store confirmed.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/listenupapp/gallery/internal/blobstore"
	"github.com/listenupapp/gallery/internal/domain"
	"github.com/listenupapp/gallery/internal/logger"
	"github.com/listenupapp/gallery/internal/ratelimit"
	"github.com/listenupapp/gallery/internal/remote"
	"github.com/listenupapp/gallery/internal/retry"
	"github.com/listenupapp/gallery/internal/synclock"
)

// DefaultInterval is the cycle period when none is configured.
const DefaultInterval = 30 * time.Second

// DataService is the part of the data service the engine reads and confirms
// through.
type DataService interface {
	PendingImages(ctx context.Context) ([]*domain.Image, error)
	ListPromptBlocks(ctx context.Context, imageID string) ([]*domain.PromptBlock, error)
	GetCachedBlob(ctx context.Context, imageID string) (*domain.CachedBlob, error)
	FindTagsByName(ctx context.Context, name string) ([]*domain.Tag, error)
	ListTagGroups(ctx context.Context) ([]*domain.TagGroup, error)
	ConfirmImage(ctx context.Context, localID string, expectedVersion int64, confirmed *domain.ImageDocument) (*domain.Image, error)
}

// Options configures New.
type Options struct {
	Data   DataService
	Remote remote.Store
	// Uploader stores image payloads before their documents are pushed.
	// Nil keeps payload URLs as they are.
	Uploader blobstore.Uploader
	// Locker guards cycles across processes. Nil uses synclock.Local.
	Locker   synclock.Locker
	Interval time.Duration
	Retry    retry.Policy
	// RatePerSecond paces calls per backend. Zero disables pacing.
	RatePerSecond float64
	Logger        *slog.Logger
}

// Report summarizes one cycle.
type Report struct {
	Pending  int
	Synced   int
	Failed   int
	Skipped  bool
	Duration time.Duration
}

// Engine runs sync cycles. Create one with New.
type Engine struct {
	data     DataService
	remote   remote.Store
	uploader blobstore.Uploader
	locker   synclock.Locker
	interval time.Duration
	retry    retry.Policy
	limiter  *ratelimit.Keyed
	logger   *slog.Logger

	cycles singleflight.Group
}

// New creates an engine.
func New(opts Options) *Engine {
	log := logger.OrDiscard(opts.Logger)
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	locker := opts.Locker
	if locker == nil {
		locker = synclock.Local{}
	}
	policy := opts.Retry
	if policy.Logger == nil {
		policy.Logger = log
	}

	return &Engine{
		data:     opts.Data,
		remote:   opts.Remote,
		uploader: opts.Uploader,
		locker:   locker,
		interval: interval,
		retry:    policy,
		limiter:  ratelimit.New(opts.RatePerSecond, 1),
		logger:   log,
	}
}

// Run runs a cycle immediately and then once per interval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("Sync engine started", "interval", e.interval)
	e.SyncOnce(ctx)

	for {
		select {
		case <-ticker.C:
			e.SyncOnce(ctx)
		case <-ctx.Done():
			e.logger.Info("Sync engine stopped")
			return
		}
	}
}

// SyncOnce runs one cycle. A call made while a cycle is in flight waits for
// that cycle and returns its report instead of starting another.
func (e *Engine) SyncOnce(ctx context.Context) Report {
	v, _, _ := e.cycles.Do("cycle", func() (any, error) {
		return e.cycle(ctx), nil
	})
	return v.(Report)
}

func (e *Engine) cycle(ctx context.Context) Report {
	start := time.Now()
	report := Report{}

	release, err := e.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, synclock.ErrHeld) {
			e.logger.Debug("sync cycle skipped; another process holds the lease")
		} else {
			e.logger.Warn("sync cycle skipped; lease unavailable", "error", err)
		}
		report.Skipped = true
		return report
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("failed to release sync lease", "error", err)
		}
	}()

	pending, err := e.data.PendingImages(ctx)
	if err != nil {
		e.logger.Warn("sync cycle failed to list pending images", "error", err)
		report.Skipped = true
		return report
	}
	report.Pending = len(pending)
	if len(pending) == 0 {
		return report
	}

	tags := e.tagCatalog(ctx, pending)
	for _, img := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := e.push(ctx, img, tags); err != nil {
			report.Failed++
			e.logPushFailure(img, err)
			continue
		}
		report.Synced++
	}

	report.Duration = time.Since(start)
	e.logger.Info("Sync cycle completed",
		"pending", report.Pending,
		"synced", report.Synced,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return report
}

// Pacing keys. Document calls and payload uploads hit different backends
// and are paced separately.
const (
	paceRemote = "remote"
	paceBlob   = "blob"
)

// call paces and retries one remote operation.
func (e *Engine) call(ctx context.Context, op string, fn func(context.Context) error) error {
	key := paceRemote
	if op == "upload" {
		key = paceBlob
	}
	return e.retry.Do(ctx, op, func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx, key); err != nil {
			return err
		}
		return fn(ctx)
	})
}
