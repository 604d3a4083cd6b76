package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/listenupapp/gallery/internal/di/providers"
)

var maxAgeHours int

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the local blob cache",
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete cached image payloads older than the retention",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := do.Invoke[*providers.GalleryHandle](injector)
		if err != nil {
			return err
		}
		sweep, err := g.CleanExpiredCache(cmd.Context(), maxAgeHours)
		if err != nil {
			return fmt.Errorf("clean cache: %w", err)
		}
		fmt.Printf("Removed %d cached blobs, freed %s\n", sweep.Removed, humanize.Bytes(uint64(sweep.FreedBytes)))
		return nil
	},
}

func init() {
	cacheCleanCmd.Flags().IntVar(&maxAgeHours, "max-age-hours", 0, "age limit in hours (default: CACHE_RETENTION)")
	cacheCmd.AddCommand(cacheCleanCmd)
}
