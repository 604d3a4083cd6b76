// Package di provides dependency injection configuration for the gallery core.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/gallery/internal/config"
	"github.com/listenupapp/gallery/internal/di/providers"
	"github.com/listenupapp/gallery/internal/migration"
	"github.com/listenupapp/gallery/internal/syncer"
)

// NewContainer creates and configures the DI container with all providers.
// Nothing is constructed until invoked.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Local layer
	do.Provide(injector, providers.ProvideSearchIndex)
	do.Provide(injector, providers.ProvideGallery)

	// Remote layer
	do.Provide(injector, providers.ProvideRemote)
	do.Provide(injector, providers.ProvideBlobUploader)
	do.Provide(injector, providers.ProvideSyncLock)

	// Engines
	do.Provide(injector, providers.ProvideSyncEngine)
	do.Provide(injector, providers.ProvideMigrationEngine)

	// Workers
	do.Provide(injector, providers.ProvideSyncJob)
	do.Provide(injector, providers.ProvideCacheCleanupJob)

	return injector
}

// Bootstrap initializes the daemon services and starts the background jobs.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*providers.LoggerHandle](injector)

	if _, err := do.Invoke[*providers.GalleryHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.RemoteHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.BlobUploader](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.SyncLockHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*syncer.Engine](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*migration.Engine](injector); err != nil {
		return err
	}

	// Workers
	_ = do.MustInvoke[*providers.SyncJob](injector)
	_ = do.MustInvoke[*providers.CacheCleanupJob](injector)

	providers.TriggerSearchReindexIfNeeded(injector)

	return nil
}
