package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/officechat/internal/store"
	"github.com/spf13/cobra"
)

func newOutboxCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect outgoing messages",
	}
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued, in-flight, sent and failed messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProfile(opts, func(env *profileEnv) error {
				entries, err := env.db.ListOutbox()
				if err != nil {
					return err
				}
				if status != "" {
					filtered := entries[:0]
					for _, e := range entries {
						if e.Status == status {
							filtered = append(filtered, e)
						}
					}
					entries = filtered
				}
				if opts.json {
					if entries == nil {
						entries = []store.OutboxEntry{}
					}
					return outputJSON(cmd.OutOrStdout(), entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Outbox is empty.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "CLIENT ID\tCONVERSATION\tSTATUS\tQUEUED\tDETAIL\t")
				for _, e := range entries {
					detail := e.ServerMsgID
					if e.ErrorMessage != "" {
						detail = e.ErrorMessage
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", shortID(e.ClientMsgID), e.ConversationID, e.Status,
						humanize.Time(time.UnixMilli(e.CreatedAt)), detail)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "only show entries with this status (queued, sending, sent, failed)")
	cmd.AddCommand(list)
	return cmd
}
