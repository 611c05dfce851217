package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newCacheCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clean the client cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show entry count, size and age range",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withProfile(opts, func(env *profileEnv) error {
					c := env.cache()
					st := c.Stats()
					if opts.json {
						return outputJSON(cmd.OutOrStdout(), map[string]any{
							"version":    c.Version(),
							"count":      st.Count,
							"totalBytes": st.TotalBytes,
							"limitBytes": env.cfg.Cache.MaxTotalBytes,
							"keys":       c.Keys(),
						})
					}
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Version: %s\n", c.Version())
					fmt.Fprintf(out, "Entries: %s\n", humanize.Comma(int64(st.Count)))
					fmt.Fprintf(out, "Size:    %s of %s\n", humanize.Bytes(uint64(st.TotalBytes)), humanize.Bytes(uint64(env.cfg.Cache.MaxTotalBytes)))
					if st.Count > 0 && !st.Oldest.IsZero() {
						fmt.Fprintf(out, "Oldest:  %s\n", humanize.Time(st.Oldest))
						fmt.Fprintf(out, "Newest:  %s\n", humanize.Time(st.Newest))
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "purge",
			Short: "Remove expired and corrupted entries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withProfile(opts, func(env *profileEnv) error {
					n := env.cache().PurgeExpired()
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries.\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cache entry",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withProfile(opts, func(env *profileEnv) error {
					env.cache().Clear()
					fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
					return nil
				})
			},
		},
	)
	return cmd
}
