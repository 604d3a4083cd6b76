package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/listenupapp/gallery/internal/config"
	"github.com/listenupapp/gallery/internal/migration"
)

var (
	dryRun    bool
	chunkSize int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move the remote schema between embedded and normalized tags",
}

var migrateForwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Move embedded tags into categories, tags and image-tag links",
	Long: `forward derives categories, tags and image-tag links from every image
that still embeds tags, then clears the embedded lists.

A run interrupted part way is resumed by running forward again. Running it
after completion migrates only images that gained embedded tags since.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(cmd, (*migration.Engine).Forward)
	},
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rebuild embedded tags from the normalized records and delete them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(cmd, (*migration.Engine).Rollback)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cursor of the latest migration run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := do.Invoke[*migration.Engine](injector)
		if err != nil {
			return err
		}
		cursor, err := engine.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("read migration status: %w", err)
		}
		if cursor == nil {
			fmt.Println("No migration has run")
			return nil
		}
		return printJSON(cursor)
	},
}

func init() {
	for _, c := range []*cobra.Command{migrateForwardCmd, migrateRollbackCmd} {
		c.Flags().BoolVar(&dryRun, "dry-run", false, "compute and report the plan without writing")
		c.Flags().IntVar(&chunkSize, "chunk-size", 0, "operations per committed batch (default: MIGRATION_CHUNK_SIZE or the store limit)")
	}
	migrateCmd.AddCommand(migrateForwardCmd, migrateRollbackCmd, migrateStatusCmd)
}

type migrateFunc func(*migration.Engine, context.Context, migration.Options) (*migration.Result, error)

func runMigration(cmd *cobra.Command, run migrateFunc) error {
	cfg := do.MustInvoke[*config.Config](injector)
	engine, err := do.Invoke[*migration.Engine](injector)
	if err != nil {
		return err
	}

	opts := migration.Options{DryRun: dryRun, ChunkSize: cfg.Migration.ChunkSize}
	if cmd.Flags().Changed("chunk-size") {
		opts.ChunkSize = chunkSize
	}

	result, err := run(engine, cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
