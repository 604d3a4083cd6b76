// Package main provides gallery-admin, the operator CLI for schema migration,
// one-off sync cycles and cache maintenance.
package main

import (
	"fmt"
	"os"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/listenupapp/gallery/internal/config"
	"github.com/listenupapp/gallery/internal/di"
)

var (
	// Persistent flags forwarded to config.Load.
	envFile      string
	dataPath     string
	remoteDriver string
	remoteDSN    string
	logLevel     string

	// injector is built by PersistentPreRunE and shut down when the command returns.
	injector *do.RootScope
)

func main() {
	err := rootCmd.Execute()
	if closeErr := closeContainer(); closeErr != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", closeErr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gallery-admin",
	Short: "Operate on the gallery stores",
	Long: `gallery-admin runs maintenance against the local store and the remote
document store: schema migrations, a single sync cycle, and cache cleanup.

Configuration is read the same way as the daemon: flags, then environment
variables, then the .env file.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initContainer,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "path to .env file")
	flags.StringVar(&dataPath, "data-path", "", "base path for the local store")
	flags.StringVar(&remoteDriver, "remote-driver", "", "remote store driver: sqlite, postgres, mongo")
	flags.StringVar(&remoteDSN, "remote-dsn", "", "remote store DSN")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(cacheCmd)
}

// initContainer loads the configuration from the persistent flags and
// registers it in a fresh container.
func initContainer(cmd *cobra.Command, args []string) error {
	args = []string{"-env-file", envFile}
	for flag, value := range map[string]string{
		"-data-path":     dataPath,
		"-remote-driver": remoteDriver,
		"-remote-dsn":    remoteDSN,
		"-log-level":     logLevel,
	} {
		if value != "" {
			args = append(args, flag, value)
		}
	}

	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	injector = di.NewContainer()
	do.OverrideValue(injector, cfg)
	return nil
}

func closeContainer() error {
	if injector == nil {
		return nil
	}
	if errs := injector.Shutdown(); errs != nil {
		return errs
	}
	return nil
}
