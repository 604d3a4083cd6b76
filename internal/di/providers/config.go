// Package providers contains dependency injection providers for the gallery core.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/gallery/internal/config"
	"github.com/listenupapp/gallery/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// LoggerHandle wraps the logger so the rotated log file is closed on shutdown.
type LoggerHandle struct {
	*logger.Logger
}

// Shutdown implements do.Shutdownable.
func (h *LoggerHandle) Shutdown() error {
	return h.Close()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*LoggerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
		FilePath:    cfg.Logger.FilePath,
		MaxSizeMB:   50,
		MaxBackups:  3,
	})

	log.Info("Starting gallery core",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"data_path", cfg.Local.DataPath,
		"remote_driver", cfg.Remote.Driver,
	)

	return &LoggerHandle{Logger: log}, nil
}
