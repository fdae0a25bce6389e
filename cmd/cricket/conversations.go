package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	input "github.com/tcnksm/go-input"

	"github.com/go-go-golems/cricket/pkg/chatapi"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage conversations on the chat backend",
	}
	cmd.AddCommand(
		newConversationsListCmd(),
		newConversationsCreateCmd(),
		newConversationsShowCmd(),
		newConversationsRenameCmd(),
		newConversationsDeleteCmd(),
	)
	return cmd
}

func newConversationsListCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.service.LoadConversations(cmd.Context(), page, cfg.Session.PageSize); err != nil {
				return err
			}
			return writeConversationTable(cmd.OutOrStdout(), a.store.Conversations(), a.store.Total())
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "listing page to fetch")
	return cmd
}

func newConversationsCreateCmd() *cobra.Command {
	var provider, model string
	cmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a conversation and print its id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := ""
			if len(args) > 0 {
				title = args[0]
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			conv, err := a.client.CreateConversation(cmd.Context(), chatapi.CreateConversationRequest{
				Title:    title,
				Provider: provider,
				Model:    model,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", conv.ID)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&provider, "provider", "", "provider override for this conversation")
	flags.StringVar(&model, "model", "", "model override for this conversation")
	return cmd
}

func newConversationsShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseConvID(args[0])
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.service.LoadConversation(cmd.Context(), id); err != nil {
				return err
			}
			conv, _ := a.store.Conversation(id)
			msgs := a.store.MessagesFor(id)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(chatapi.ConversationDetail{Conversation: conv, Messages: msgs})
			}
			writeConversationHeader(out, conv)
			writeTranscript(out, msgs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the transcript as JSON")
	return cmd
}

func newConversationsRenameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Change a conversation's title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseConvID(args[0])
			if err != nil {
				return err
			}
			title := args[1]
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.service.UpdateConversation(cmd.Context(), id, chatapi.UpdateConversationRequest{Title: &title}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed conversation %d\n", id)
			return nil
		},
	}
	return cmd
}

func newConversationsDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation, cancelling any in-flight exchange first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseConvID(args[0])
			if err != nil {
				return err
			}
			if !yes {
				ok, err := confirm(fmt.Sprintf("Delete conversation %d? [y/n]", id))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.service.DeleteConversation(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %d\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func confirm(query string) (bool, error) {
	ui := &input.UI{
		Writer: os.Stderr,
		Reader: os.Stdin,
	}
	answer, err := ui.Ask(query, &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, err
	}
	return answer == "y" || answer == "Y", nil
}
