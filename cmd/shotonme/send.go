package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/shotonme/shotonme/pkg/messaging"
)

func newInbox(s *session) *messaging.Inbox {
	return messaging.New(s.client, s.viewer,
		messaging.WithNotifier(s.notifier),
		messaging.WithLogger(s.logger),
		messaging.WithMetrics(s.metrics),
		messaging.WithReconcileOptions(s.reconcileOptions()...),
	)
}

func sendCmd(flags *globalFlags) *cobra.Command {
	var group bool

	cmd := &cobra.Command{
		Use:   "send <user-id> <text>",
		Short: "Send a direct or group message",
		Long: `Send a message to a user, or to a group chat with --group.

Examples:
  shotonme send u2 "see you at 9"
  shotonme send --group g1 "who's in?"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			inbox := newInbox(s)

			var thread *messaging.Thread
			if group {
				thread, err = inbox.OpenGroup(args[0])
			} else {
				thread, err = inbox.Open(args[0])
			}
			if err != nil {
				return err
			}
			msg, err := thread.Send(cmd.Context(), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			success("Sent to %s (%s)", thread.ID(), msg.ID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&group, "group", "g", false, "Treat the first argument as a group id")

	return cmd
}
