package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/italolelis/aletheia_data/internal/ftp"
)

func newLsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls FTP_URL",
		Short: "List an FTP directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.ftpTransport().List(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Type, size(e), modTime(e), e.Name)
			}

			return w.Flush()
		},
	}
}

func newStatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat FTP_URL",
		Short: "Show one FTP directory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.ftpTransport().Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", bold("name:"), e.Name)
			fmt.Fprintf(out, "%s %s\n", bold("path:"), e.Path)
			fmt.Fprintf(out, "%s %s\n", bold("type:"), e.Type)
			fmt.Fprintf(out, "%s %s\n", bold("size:"), size(e))
			fmt.Fprintf(out, "%s %s\n", bold("modified:"), modTime(e))

			if e.Mode != "" {
				fmt.Fprintf(out, "%s %s\n", bold("mode:"), e.Mode)
			}

			if e.Owner != "" {
				fmt.Fprintf(out, "%s %s:%s\n", bold("owner:"), e.Owner, e.Group)
			}

			return nil
		},
	}
}

func size(e ftp.Entry) string {
	if e.Size < 0 {
		return "-"
	}

	return humanize.Bytes(uint64(e.Size))
}

func modTime(e ftp.Entry) string {
	if e.ModTime.IsZero() {
		return e.Modify
	}

	return e.ModTime.Format("2006-01-02 15:04")
}
