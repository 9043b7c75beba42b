package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/italolelis/aletheia_data/internal/cache"
	"github.com/italolelis/aletheia_data/internal/processor"
	"github.com/italolelis/aletheia_data/internal/storage"
)

func newFetchCommand(a *app) *cobra.Command {
	var (
		all        bool
		decompress bool
		parallel   int
	)

	cmd := &cobra.Command{
		Use:   "fetch [names...]",
		Short: "Download registry files that are missing or stale",
		Example: `  aletheia_data fetch tables/atoms.csv
  aletheia_data fetch --all --parallel 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return errors.New("name the files to fetch or pass --all")
			}

			if len(args) > 0 && all {
				return errors.New("--all does not take file names")
			}

			c, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}

			var opts []cache.FetchOption
			if decompress {
				opts = append(opts, cache.WithProcessor(processor.NewDecompress()))
			}

			if parallel <= 0 {
				parallel = a.cfg.MaxParallel
			}

			paths, err := c.FetchAll(cmd.Context(), args, parallel, opts...)
			if err != nil {
				return err
			}

			names := args
			if all {
				names = c.Registry().Names()
			}

			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", green("✓"), name, gray(paths[name]))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "fetch every registry file")
	cmd.Flags().BoolVar(&decompress, "decompress", false, "decompress gzip or zstd files after fetching")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "concurrent transfers (default max_parallel)")

	return cmd
}

func newAvailableCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "available NAME...",
		Short: "Check that registry files exist on their server without downloading them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}

			var missing []string

			for _, name := range args {
				ok, err := c.IsAvailable(cmd.Context(), name)
				if err != nil {
					return err
				}

				if ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", green("available"), name, gray(c.URL(name)))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", red("missing"), name, gray(c.URL(name)))
					missing = append(missing, name)
				}
			}

			if len(missing) > 0 {
				return fmt.Errorf("not available: %s", strings.Join(missing, ", "))
			}

			return nil
		},
	}
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [names...]",
		Short: "Show which local copies are missing, stale or valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}

			var statuses []cache.FileStatus

			if len(args) == 0 {
				if statuses, err = c.Statuses(); err != nil {
					return err
				}
			}

			for _, name := range args {
				st, err := c.Status(name)
				if err != nil {
					return err
				}

				statuses = append(statuses, st)
			}

			fmt.Fprintln(cmd.OutOrStdout(), bold("cache: ")+c.Path())

			for _, st := range statuses {
				last := ""

				rec, err := a.ledger.LastSuccess(cmd.Context(), st.Name)
				if err == nil {
					last = "fetched " + humanize.Time(rec.FetchedAt)
				} else if !errors.Is(err, storage.ErrNotFound) {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%-9s %s %s\n", stateLabel(st.State), st.Name, gray(last))
			}

			return nil
		},
	}
}

func stateLabel(s cache.State) string {
	switch s {
	case cache.StateValid:
		return green(string(s))
	case cache.StateStale:
		return yellow(string(s))
	default:
		return red(string(s))
	}
}
