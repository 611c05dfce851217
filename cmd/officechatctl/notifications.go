package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/officechat/internal/notify"
	"github.com/matheus3301/officechat/internal/store"
	"github.com/spf13/cobra"
)

type notificationView struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Priority       string     `json:"priority"`
	SenderName     string     `json:"senderName,omitempty"`
	ConversationID string     `json:"conversationId,omitempty"`
	Message        string     `json:"message"`
	GroupCount     int        `json:"groupCount"`
	Read           bool       `json:"read"`
	State          string     `json:"state"`
	Timestamp      time.Time  `json:"timestamp"`
	SnoozedUntil   *time.Time `json:"snoozedUntil,omitempty"`
}

func viewOf(row store.NotificationRow) notificationView {
	v := notificationView{
		ID:             row.ID,
		Type:           row.Type,
		Priority:       row.Priority,
		SenderName:     row.SenderName,
		ConversationID: row.ConversationID,
		Message:        row.Message,
		GroupCount:     row.GroupCount,
		Read:           row.Read,
		State:          row.State,
		Timestamp:      time.UnixMilli(row.Timestamp),
	}
	if row.SnoozedUntil > 0 {
		t := time.UnixMilli(row.SnoozedUntil)
		v.SnoozedUntil = &t
	}
	return v
}

func newNotificationsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "List and manage notifications",
	}
	cmd.AddCommand(
		newNotificationsListCmd(opts),
		newNotificationsReadCmd(opts),
		newNotificationsDismissCmd(opts),
		newNotificationsSnoozeCmd(opts),
		newNotificationsClearCmd(opts),
	)
	return cmd
}

func newNotificationsListCmd(opts *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProfile(opts, func(env *profileEnv) error {
				rows, err := env.db.ListNotifications()
				if err != nil {
					return err
				}
				views := make([]notificationView, 0, len(rows))
				for _, row := range rows {
					if !all && row.State != string(notify.StateActive) {
						continue
					}
					views = append(views, viewOf(row))
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), views)
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No notifications.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tPRIORITY\tMESSAGE\tWHEN\t")
				for _, v := range views {
					marker := " "
					if !v.Read {
						marker = "*"
					}
					msg := v.Message
					if v.State != string(notify.StateActive) {
						msg = fmt.Sprintf("[%s] %s", v.State, msg)
					}
					fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t%s\t\n", marker, shortID(v.ID), v.Type, v.Priority, msg, humanize.Time(v.Timestamp))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include snoozed and suppressed notifications")
	return cmd
}

func newNotificationsReadCmd(opts *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "read [id]",
		Short: "Mark a notification, or all of them, as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("give either a notification id or --all")
			}
			return withScheduler(opts, func(_ *profileEnv, s *notify.Scheduler) error {
				if all {
					s.MarkAllAsRead()
					fmt.Fprintln(cmd.OutOrStdout(), "All notifications marked as read.")
					return nil
				}
				id, err := resolveID(s, args[0])
				if err != nil {
					return err
				}
				return s.MarkAsRead(id)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "mark every notification as read")
	return cmd
}

func newNotificationsDismissCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Remove a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withScheduler(opts, func(_ *profileEnv, s *notify.Scheduler) error {
				id, err := resolveID(s, args[0])
				if err != nil {
					return err
				}
				return s.Dismiss(id)
			})
		},
	}
}

func newNotificationsSnoozeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "snooze <id> <duration>",
		Short: "Hide a notification for a while (e.g. 15m, 1h)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[1])
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid duration %q", args[1])
			}
			return withScheduler(opts, func(_ *profileEnv, s *notify.Scheduler) error {
				id, err := resolveID(s, args[0])
				if err != nil {
					return err
				}
				if err := s.Snooze(id, d); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Snoozed until %s.\n", time.Now().Add(d).Format("15:04"))
				return nil
			})
		},
	}
}

func newNotificationsClearCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withScheduler(opts, func(_ *profileEnv, s *notify.Scheduler) error {
				s.ClearAll()
				fmt.Fprintln(cmd.OutOrStdout(), "Notifications cleared.")
				return nil
			})
		},
	}
}

// resolveID accepts a full id or the unique prefix shown by list.
func resolveID(s *notify.Scheduler, prefix string) (string, error) {
	if _, ok := s.Get(prefix); ok {
		return prefix, nil
	}
	var match string
	for _, n := range s.History() {
		if strings.HasPrefix(n.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("notification id %q is ambiguous", prefix)
			}
			match = n.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("notification %q: %w", prefix, notify.ErrNotFound)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
