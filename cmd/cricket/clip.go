package main

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/cricket/pkg/conversation"
)

func newClipCmd() *cobra.Command {
	var (
		convID int64
		stats  bool
	)
	cmd := &cobra.Command{
		Use:   "clip",
		Short: "Copy the latest assistant reply to the clipboard",
		Long: `Clip copies the newest assistant message of a conversation to the
clipboard. Without --conversation the most recently updated one is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			id := convID
			if id == 0 {
				if err := a.service.LoadConversations(ctx, 1, cfg.Session.PageSize); err != nil {
					return err
				}
				convs := a.store.Conversations()
				if len(convs) == 0 {
					return errors.New("no conversations to clip from")
				}
				id = convs[0].ID
			}
			if err := a.service.LoadConversation(ctx, id); err != nil {
				return err
			}

			content := ""
			msgs := a.store.MessagesFor(id)
			for i := len(msgs) - 1; i >= 0; i-- {
				if msgs[i].Role == conversation.RoleAssistant {
					content = msgs[i].Content
					break
				}
			}
			if content == "" {
				return errors.Errorf("conversation %d has no assistant reply", id)
			}

			if err := clipboard.WriteAll(content); err != nil {
				return errors.Wrap(err, "copy to clipboard")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied the reply from conversation %d\n", id)
			if stats {
				printStats(cmd.OutOrStdout(), a.estimator, content)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.Int64Var(&convID, "conversation", 0, "conversation id, default most recently updated")
	flags.BoolVar(&stats, "stats", false, "show statistics about the copied text")
	return cmd
}
