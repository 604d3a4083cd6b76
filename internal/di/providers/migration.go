package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/gallery/internal/migration"
)

// ProvideMigrationEngine provides the schema migration engine.
func ProvideMigrationEngine(i do.Injector) (*migration.Engine, error) {
	remoteHandle := do.MustInvoke[*RemoteHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)

	return migration.New(remoteHandle.Store, log.Component("migration")), nil
}
