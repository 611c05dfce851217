package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/officechat/internal/notify"
	"github.com/spf13/cobra"
)

func newSettingsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show and change notification settings",
	}
	cmd.AddCommand(
		newSettingsShowCmd(opts),
		newQuietHoursCmd(opts),
		newToggleCmd(opts, "grouping", "Group rapid messages from one sender", func(s *notify.Scheduler, on bool) error {
			return s.SetGrouping(on)
		}),
		newSoundCmd(opts),
		newPreviewCmd(opts),
		newMuteCmd(opts),
		newUnmuteCmd(opts),
	)
	return cmd
}

func newSettingsShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProfile(opts, func(env *profileEnv) error {
				st, err := notify.NewSettingsStore(env.db).Load()
				if err != nil {
					return err
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), st)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Sound:        %s\n", st.Sound)
				fmt.Fprintf(out, "Preview:      %s\n", st.Preview)
				fmt.Fprintf(out, "Grouping:     %s\n", onOff(st.Grouping))
				fmt.Fprintf(out, "Quiet hours:  %s (%s-%s)\n", onOff(st.QuietHours.Enabled), st.QuietHours.Start, st.QuietHours.End)
				fmt.Fprintf(out, "Urgent bypasses mute: %s\n", onOff(st.UrgentBypassesMute))

				ids := make([]string, 0, len(st.Conversations))
				for id := range st.Conversations {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					o := st.Conversations[id]
					switch {
					case o.Muted:
						fmt.Fprintf(out, "  %s: muted\n", id)
					case o.SnoozedUntil != nil && o.SnoozedUntil.After(time.Now()):
						fmt.Fprintf(out, "  %s: snoozed until %s\n", id, humanize.Time(*o.SnoozedUntil))
					}
				}
				return nil
			})
		},
	}
}

func newQuietHoursCmd(opts *options) *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "quiet-hours <on|off>",
		Short: "Enable or disable quiet hours; only urgent notifications surface inside the window",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return withScheduler(opts, func(_ *profileEnv, s *notify.Scheduler) error {
				cur := s.Settings().QuietHours
				from, to := cur.Start, cur.End
				if start != "" {
					if from, err = notify.ParseTimeOfDay(start); err != nil {
						return err
					}
				}
				if end != "" {
					if to, err = notify.ParseTimeOfDay(end); err != nil {
						return err
					}
				}
				return s.SetQuietHours(on, from, to)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "window start, HH:MM")
	cmd.Flags().StringVar(&end, "end", "", "window end, HH:MM (may wrap past midnight)")
	return cmd
}

func newToggleCmd(opts *options, use, short string, set func(*notify.Scheduler, bool) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <on|off>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return withScheduler(opts, func(_ *profileEnv, s *notify.Scheduler) error {
				return set(s, on)
			})
		},
	}
}

func newSoundCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "sound <default|subtle|silent>",
		Short:     "Set the notification sound",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(notify.SoundDefault), string(notify.SoundSubtle), string(notify.SoundSilent)},
		RunE: func(_ *cobra.Command, args []string) error {
			mode := notify.SoundMode(args[0])
			switch mode {
			case notify.SoundDefault, notify.SoundSubtle, notify.SoundSilent:
			default:
				return fmt.Errorf("unknown sound mode %q", args[0])
			}
			return withScheduler(opts, func(_ *profileEnv, s *notify.Scheduler) error {
				return s.SetSound(mode)
			})
		},
	}
}

func newPreviewCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <full|sender-only|count-only>",
		Short: "Set how much of a message notifications show",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			level := notify.PreviewLevel(args[0])
			switch level {
			case notify.PreviewFull, notify.PreviewSenderOnly, notify.PreviewCountOnly:
			default:
				return fmt.Errorf("unknown preview level %q", args[0])
			}
			return withScheduler(opts, func(_ *profileEnv, s *notify.Scheduler) error {
				return s.SetPreview(level)
			})
		},
	}
}

func newMuteCmd(opts *options) *cobra.Command {
	var forDur time.Duration
	cmd := &cobra.Command{
		Use:   "mute <conversation-id>",
		Short: "Mute a conversation, or snooze it with --for",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withScheduler(opts, func(_ *profileEnv, s *notify.Scheduler) error {
				if forDur > 0 {
					return s.SnoozeConversation(args[0], time.Now().Add(forDur))
				}
				return s.MuteConversation(args[0])
			})
		},
	}
	cmd.Flags().DurationVar(&forDur, "for", 0, "snooze for this long instead of muting")
	return cmd
}

func newUnmuteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unmute <conversation-id>",
		Short: "Clear a conversation's mute or snooze",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withScheduler(opts, func(_ *profileEnv, s *notify.Scheduler) error {
				return s.UnmuteConversation(args[0])
			})
		},
	}
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
