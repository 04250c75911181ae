package main

import (
	"context"
	"fmt"
	"io"

	"github.com/aatumaykin/autotask/internal/config"
	"github.com/aatumaykin/autotask/internal/logger"
	"github.com/aatumaykin/autotask/internal/retention"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

var rotateOpts runFlags

// rotateCmd represents the rotate command
var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Run one retention pass and exit",
	Long: `Run a single retention pass over every configured directory, or over the
directory given with -p, and print what was archived and pruned.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(&rotateOpts, cmd.Flags().Changed)
		if err != nil {
			return err
		}

		log, err := newLogger(cfg)
		if err != nil {
			return err
		}

		return rotate(cmd.Context(), cfg, log, cmd.OutOrStdout())
	},
}

func init() {
	addRetentionFlags(rotateCmd, &rotateOpts)
}

// rotate runs every entry once, reporting each failure and continuing with
// the next entry.
func rotate(ctx context.Context, cfg *config.Config, log *logger.Logger, out io.Writer) error {
	var errs *multierror.Error
	for _, r := range cfg.Retention {
		c, err := retention.NewCleaner(retentionConfig(r), retention.WithLogger(log))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("retention %q: %w", r.Name, err))
			continue
		}

		stats, err := c.Run(ctx)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("retention %q: %w", r.Name, err))
			continue
		}
		printStats(out, r, stats)
	}
	return errs.ErrorOrNil()
}

func printStats(out io.Writer, r config.RetentionConfig, s retention.Stats) {
	fmt.Fprintf(out, "%s (%s)\n", r.Name, r.Path)
	fmt.Fprintf(out, "  snapshots: %d found, %d kept\n", s.Snapshots, s.Snapshots-s.Archived)
	if s.ArchiveName != "" {
		fmt.Fprintf(out, "  archived:  %d into %s\n", s.Archived, s.ArchiveName)
	} else {
		fmt.Fprintln(out, "  archived:  none")
	}
	fmt.Fprintf(out, "  pruned:    %d archives, %s freed\n", s.Pruned, humanize.IBytes(uint64(s.BytesFreed)))
	fmt.Fprintf(out, "  archives:  %s of %d MiB\n", humanize.IBytes(uint64(s.ArchiveBytes)), r.MaxArchiveSizeMB)
}
