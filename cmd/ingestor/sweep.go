package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/snapmatch/internal/reconcile"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete uploaded objects that no folder references",
	Long: `Run one orphan sweep now. Objects younger than the configured grace
period are kept so in-flight uploads are not removed.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().Duration("grace", 0, "Override cleanup.grace_period")
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	grace := d.cfg.Cleanup.GracePeriod
	if g, _ := cmd.Flags().GetDuration("grace"); g > 0 {
		grace = g
	}

	sweeper := reconcile.NewSweeper(d.store, d.minio, d.cfg.Upload.Prefix, grace)
	n, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d orphaned objects\n", n)
	return nil
}
