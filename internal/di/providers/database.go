package providers

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/listenupapp/gallery/internal/config"
	"github.com/listenupapp/gallery/internal/gallery"
	"github.com/listenupapp/gallery/internal/remote"
	"github.com/listenupapp/gallery/internal/remote/mongostore"
	"github.com/listenupapp/gallery/internal/remote/sqldoc"
)

// GalleryHandle wraps the data service with shutdown capability.
type GalleryHandle struct {
	*gallery.Service
}

// Shutdown implements do.Shutdownable.
func (h *GalleryHandle) Shutdown() error {
	return h.Close()
}

// ProvideGallery provides the data service over the local store.
func ProvideGallery(i do.Injector) (*GalleryHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	opts := gallery.Options{
		StorePath:      cfg.StorePath(),
		CacheRetention: cfg.Local.CacheRetention,
		Logger:         log.Component("gallery"),
	}
	if cfg.Local.SearchEnabled {
		opts.Index = do.MustInvoke[*SearchIndexHandle](i).Index
	}

	svc := gallery.Open(opts)
	if !svc.Available() {
		log.Warn("Local store unavailable, running degraded", "path", opts.StorePath)
	} else {
		log.Info("Local store initialized", "path", opts.StorePath)
	}

	return &GalleryHandle{Service: svc}, nil
}

// RemoteHandle wraps the remote document store with shutdown capability.
type RemoteHandle struct {
	remote.Store
}

// Shutdown implements do.Shutdownable.
func (h *RemoteHandle) Shutdown() error {
	return h.Close()
}

// ProvideRemote provides the remote document store for the configured driver.
// Every call is bounded by the configured call timeout.
func ProvideRemote(i do.Injector) (*RemoteHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var (
		store remote.Store
		err   error
	)
	switch cfg.Remote.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		var dialect sqldoc.Dialect = sqldoc.SQLite{}
		if cfg.Remote.Driver == config.DriverPostgres {
			dialect = sqldoc.Postgres{}
		}
		store, err = sqldoc.Open(ctx, sqldoc.Options{
			Dialect:      dialect,
			DSN:          cfg.Remote.DSN,
			MaxBatchSize: cfg.Remote.MaxBatchSize,
			Logger:       log.Component("remote"),
		})
	case config.DriverMongo:
		store, err = mongostore.Open(ctx, mongostore.Options{
			URI:          cfg.Remote.DSN,
			Database:     cfg.Remote.Database,
			MaxBatchSize: cfg.Remote.MaxBatchSize,
			Logger:       log.Component("remote"),
		})
	default:
		err = fmt.Errorf("unknown remote driver %q", cfg.Remote.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("remote store: %w", err)
	}

	log.Info("Remote store connected",
		"driver", cfg.Remote.Driver,
		"max_batch", store.MaxBatchSize(),
		"call_timeout", cfg.Remote.CallTimeout,
	)

	return &RemoteHandle{Store: remote.WithCallTimeout(store, cfg.Remote.CallTimeout)}, nil
}
