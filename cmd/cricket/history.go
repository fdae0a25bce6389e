package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/cricket/pkg/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse locally archived transcripts",
	}
	cmd.AddCommand(newHistoryListCmd(), newHistoryShowCmd())
	return cmd
}

func openArchive() (*history.SQLiteArchive, error) {
	if !cfg.History.Enabled {
		return nil, errors.New("history is disabled in the config")
	}
	dsn, err := history.DSNForFile(cfg.History.Path)
	if err != nil {
		return nil, err
	}
	return history.NewSQLiteArchive(dsn)
}

func newHistoryListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			arch, err := openArchive()
			if err != nil {
				return err
			}
			defer func() { _ = arch.Close() }()
			convs, err := arch.ListConversations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeConversationTable(cmd.OutOrStdout(), convs, len(convs))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum conversations to list")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print an archived transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseConvID(args[0])
			if err != nil {
				return err
			}
			arch, err := openArchive()
			if err != nil {
				return err
			}
			defer func() { _ = arch.Close() }()
			conv, found, err := arch.Conversation(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !found {
				return errors.Errorf("conversation %d is not archived", id)
			}
			msgs, err := arch.Messages(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			writeConversationHeader(out, conv)
			writeTranscript(out, msgs)
			return nil
		},
	}
	return cmd
}
