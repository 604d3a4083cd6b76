package main

import (
	"fmt"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/listenupapp/gallery/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending local changes to the remote store",
}

var syncOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single sync cycle and report it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := do.Invoke[*syncer.Engine](injector)
		if err != nil {
			return err
		}
		report := engine.SyncOnce(cmd.Context())
		if err := printJSON(report); err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d of %d pending images failed to sync", report.Failed, report.Pending)
		}
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncOnceCmd)
}
