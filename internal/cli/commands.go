package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"github.com/LJTian/TrendingVault/internal/snapshot"
	"github.com/spf13/cobra"
)

func NewCollectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Fetch all sources once and upsert the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.Scheduler.Collect(cmd.Context())
			return opts.print(cmd.OutOrStdout(), rep, func(w io.Writer) {
				fmt.Fprintf(w, "run %s: fetched=%d saved=%d skipped=%d failed=%d\n",
					rep.RunID, rep.Fetched, rep.Saved, rep.Skipped, rep.Failed)
			})
		},
	}
}

func NewBuildCommand(opts *RootOptions) *cobra.Command {
	var skipCollect bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Collect and build a snapshot (no-op if a build is already running)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			var res snapshot.BuildResult
			if skipCollect {
				res, err = a.Coordinator.Build(cmd.Context(), "cli")
			} else {
				res, err = a.Scheduler.RunOnce(cmd.Context(), "cli")
			}
			// 已有构建在进行时按成功处理，与管理接口的语义一致
			if err != nil && !errors.Is(err, apperr.ErrBuildInProgress) {
				_ = opts.print(cmd.OutOrStdout(), res, func(io.Writer) {})
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "snapshot %s: %s", res.SnapshotID, res.Status)
				if res.DataVersion != "" {
					fmt.Fprintf(w, " (data_version=%s, items=%d)", res.DataVersion, res.ItemCount)
				}
				fmt.Fprintln(w)
			})
		},
	}
	cmd.Flags().BoolVar(&skipCollect, "skip-collect", false, "build from already stored observations")
	return cmd
}

func NewPruneCommand(opts *RootOptions) *cobra.Command {
	var horizonDays int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots older than the retention horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			horizon := a.Config.Retention.Horizon()
			if horizonDays > 0 {
				horizon = time.Duration(horizonDays) * 24 * time.Hour
			}
			rep, err := a.Pruner.Prune(cmd.Context(), horizon)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), rep, func(w io.Writer) {
				fmt.Fprintf(w, "pruned %d snapshots, %d enrichment records, %d observations before %s (kept latest %s)\n",
					rep.Snapshots, rep.EnrichmentRecords, rep.Observations, rep.Cutoff.Format(time.RFC3339), rep.KeptLatest)
			})
		},
	}
	cmd.Flags().IntVar(&horizonDays, "horizon-days", 0, "override the configured retention horizon")
	return cmd
}

func NewLatestCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the latest published snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Store.GetLatest(cmd.Context())
			if errors.Is(err, apperr.ErrNotFound) {
				return fmt.Errorf("no snapshot has been published yet")
			}
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), view, func(w io.Writer) {
				fmt.Fprintf(w, "snapshot %s  data_version=%s  built_at=%s\n\n",
					view.SnapshotID, view.DataVersion, view.BuiltAt.Format(time.RFC3339))
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RANK\tSCORE\tTOP\tENRICHMENT\tPLATFORM\tTITLE")
				for _, it := range view.Items {
					top := ""
					if it.IsTopN {
						top = "*"
					}
					fmt.Fprintf(tw, "%d\t%.2f\t%s\t%s\t%s\t%s\n",
						it.Rank, it.PopularityScore, top, it.EnrichmentStatus, it.Platform, it.Title)
				}
				_ = tw.Flush()
			})
		},
	}
}
