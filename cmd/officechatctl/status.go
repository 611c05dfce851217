package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/officechat/internal/ingest"
	"github.com/matheus3301/officechat/internal/lock"
	"github.com/matheus3301/officechat/internal/notify"
	"github.com/matheus3301/officechat/internal/offline"
	"github.com/matheus3301/officechat/internal/profile"
	"github.com/spf13/cobra"
)

type checkpoint struct {
	ConversationID string    `json:"conversationId"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
}

type statusReport struct {
	Profile       string       `json:"profile"`
	Running       bool         `json:"running"`
	PID           int          `json:"pid,omitempty"`
	Since         *time.Time   `json:"since,omitempty"`
	RealtimeURL   string       `json:"realtimeUrl"`
	Database      string       `json:"database"`
	DatabaseBytes int64        `json:"databaseBytes"`
	Online        bool         `json:"online"`
	OfflineSince  *time.Time   `json:"offlineSince,omitempty"`
	LastOnlineAt  *time.Time   `json:"lastOnlineAt,omitempty"`
	Unread        int          `json:"unread"`
	OutboxPending int          `json:"outboxPending"`
	CacheEntries  int          `json:"cacheEntries"`
	CacheBytes    int          `json:"cacheBytes"`
	Conversations []checkpoint `json:"conversations"`
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, network and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProfile(opts, func(env *profileEnv) error {
				report, err := buildStatus(env)
				if err != nil {
					return err
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), report)
				}
				printStatus(cmd, report)
				return nil
			})
		},
	}
}

func buildStatus(env *profileEnv) (*statusReport, error) {
	r := &statusReport{Profile: env.name, RealtimeURL: env.cfg.Realtime.URL, Database: env.db.Path()}
	size, err := env.db.SizeBytes()
	if err != nil {
		return nil, err
	}
	r.DatabaseBytes = size

	if held, ok := lock.Holder(profile.Dir(env.name)); ok {
		r.Running = true
		r.PID = held.PID
		if !held.Since.IsZero() {
			r.Since = &held.Since
		}
	}

	// No prober: this only restores the persisted state.
	net := offline.New(offline.Config{}, env.db, nil, nil, nil, nil, nil).State()
	r.Online = net.IsOnline
	if !net.OfflineSince.IsZero() {
		r.OfflineSince = &net.OfflineSince
	}
	if !net.LastOnlineAt.IsZero() {
		r.LastOnlineAt = &net.LastOnlineAt
	}

	rows, err := env.db.ListNotifications()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	for _, n := range rows {
		if !n.Read && n.State == string(notify.StateActive) {
			r.Unread++
		}
	}

	pending, err := env.db.PendingOutbox()
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	r.OutboxPending = len(pending)

	stats := env.cache().Stats()
	r.CacheEntries, r.CacheBytes = stats.Count, stats.TotalBytes

	marks, err := ingest.Checkpoints(env.db)
	if err != nil {
		return nil, err
	}
	r.Conversations = make([]checkpoint, 0, len(marks))
	for id, ts := range marks {
		r.Conversations = append(r.Conversations, checkpoint{ConversationID: id, LastMessageAt: time.UnixMilli(ts)})
	}
	sort.Slice(r.Conversations, func(i, j int) bool {
		return r.Conversations[i].LastMessageAt.After(r.Conversations[j].LastMessageAt)
	})
	return r, nil
}

func printStatus(cmd *cobra.Command, r *statusReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Profile:  %s\n", r.Profile)
	switch {
	case r.Running && r.Since != nil:
		fmt.Fprintf(out, "Daemon:   running (pid %d, started %s)\n", r.PID, humanize.Time(*r.Since))
	case r.Running:
		fmt.Fprintf(out, "Daemon:   running (pid %d)\n", r.PID)
	default:
		fmt.Fprintln(out, "Daemon:   stopped")
	}
	fmt.Fprintf(out, "Realtime: %s\n", r.RealtimeURL)
	fmt.Fprintf(out, "Database: %s (%s)\n", r.Database, humanize.Bytes(uint64(r.DatabaseBytes)))
	if r.Online {
		fmt.Fprintln(out, "Network:  online")
	} else if r.OfflineSince != nil {
		fmt.Fprintf(out, "Network:  offline since %s\n", humanize.Time(*r.OfflineSince))
	} else {
		fmt.Fprintln(out, "Network:  offline")
	}
	fmt.Fprintf(out, "Unread:   %s\n", humanize.Comma(int64(r.Unread)))
	fmt.Fprintf(out, "Outbox:   %s pending\n", humanize.Comma(int64(r.OutboxPending)))
	fmt.Fprintf(out, "Cache:    %s entries, %s\n", humanize.Comma(int64(r.CacheEntries)), humanize.Bytes(uint64(r.CacheBytes)))
	if len(r.Conversations) == 0 {
		return
	}
	fmt.Fprintln(out, "Conversations:")
	for _, c := range r.Conversations {
		fmt.Fprintf(out, "  %-24s last message %s\n", c.ConversationID, humanize.Time(c.LastMessageAt))
	}
}
