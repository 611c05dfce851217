package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/officechat/internal/outbox"
	"github.com/spf13/cobra"
)

type sendResult struct {
	ClientMsgID    string `json:"clientMsgId"`
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
}

func newSendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <message...>",
		Short: "Queue a message for delivery",
		Long: `Queue a message in the profile's outbox. A running officechatd delivers
it on its next poll; otherwise it waits until the daemon starts.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := strings.Join(args[1:], " ")
			if strings.TrimSpace(body) == "" {
				return errors.New("message is empty")
			}
			return withProfile(opts, func(env *profileEnv) error {
				sender := outbox.NewSender(outbox.Config{}, env.db, nil, nil, nil, nil, nil)
				id, err := sender.Queue(args[0], body)
				if err != nil {
					return err
				}
				res := sendResult{ClientMsgID: id, ConversationID: args[0], Status: "queued"}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s for %s.\n", shortID(id), res.ConversationID)
				return nil
			})
		},
	}
}
