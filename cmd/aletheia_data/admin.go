package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/italolelis/aletheia_data/internal/cleanup"
	"github.com/italolelis/aletheia_data/internal/config"
	"github.com/italolelis/aletheia_data/internal/storage"
)

func newPruneCommand(a *app) *cobra.Command {
	var orphans bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove abandoned temporary files and old fetch history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}

			p := &cleanup.Pruner{
				Root:           c.Path(),
				Registry:       c.Registry(),
				KeepTempFor:    a.cfg.KeepTempFor,
				KeepHistoryFor: a.cfg.KeepHistoryFor,
				RemoveOrphans:  orphans,
				Ledger:         a.ledger,
				Telemetry:      a.telemetry,
			}

			report, err := p.Prune(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d temporary files, %d orphaned files, %d history records\n",
				report.TempFiles, report.Orphans, report.History)

			return nil
		},
	}

	cmd.Flags().BoolVar(&orphans, "orphans", false, "also delete files the registry does not list")

	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var (
		name  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent downloads and updates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}

			var records []storage.FetchRecord
			if name != "" {
				records, err = ledger.GetFetchesByName(cmd.Context(), name, limit)
			} else {
				records, err = ledger.GetFetches(cmd.Context(), limit)
			}

			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, rec := range records {
				status := green(rec.Status)
				if rec.Status != storage.StatusSuccess {
					status = red(rec.Status)
				}

				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.FetchedAt.Local().Format("2006-01-02 15:04:05"), status, rec.Action, rec.Name,
					humanize.Bytes(uint64(rec.Bytes)), gray(rec.Error))
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "only records for this file")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum number of records")

	return cmd
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or persist the settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)

			if err := enc.Encode(a.cfg); err != nil {
				return err
			}

			return enc.Close()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save [PATH]",
		Short: "Write the effective settings to the settings file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Path
			if len(args) == 1 {
				path = args[0]
			}

			if err := config.SaveConfig(path, a.cfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s settings written to %s\n", green("✓"), path)

			return nil
		},
	})

	return cmd
}
