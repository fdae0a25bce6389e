package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const chatHelp = `Commands:
  /help            show this help
  /list            list conversations
  /new [title]     create a conversation and switch to it
  /switch <id>     move the session to another conversation
  /tokens          estimate the transcript size of the current conversation
  /quit            leave
`

func newChatCmd() *cobra.Command {
	var convID int64
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		Long: `Chat reads lines from the terminal and streams replies as they arrive.
Without --conversation it talks on the quick-chat slot.

Ctrl-C ends the session; a reply that is still streaming is cancelled and its
partial text kept. Type /help inside the session for commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdin.Fd()) {
				return errors.New("chat needs a terminal, use 'cricket send' in scripts")
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runChat(cmd.Context(), a, convID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&convID, "conversation", 0, "resume an existing conversation")
	return cmd
}

func runChat(ctx context.Context, a *app, convID int64, out io.Writer) error {
	var err error
	if convID == 0 {
		convID, err = a.service.EnsureQuickChat(ctx)
		if err != nil {
			return err
		}
	} else {
		if err := a.service.LoadConversation(ctx, convID); err != nil {
			return err
		}
		writeTranscript(out, a.store.MessagesFor(convID))
	}

	fmt.Fprintf(out, "cricket chat, conversation %d. /quit leaves, /help lists commands.\n", convID)

	sc := bufio.NewScanner(os.Stdin)
	for {
		if ctx.Err() != nil {
			fmt.Fprintln(out)
			return nil
		}
		fmt.Fprintf(out, "cricket:%d> ", convID)
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			next, quit, err := handleChatCommand(ctx, a, convID, line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if quit {
				return nil
			}
			convID = next
			continue
		}

		a.store.ClearError()
		if err := streamAndPrint(ctx, a, convID, line, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		// Reconciliation failures land in the error slot, not in the handle.
		if msg := a.store.LastError(); msg != "" {
			fmt.Fprintf(out, "error: %s\n", msg)
		}
	}
}

// handleChatCommand processes one slash command and returns the conversation
// the session continues on.
func handleChatCommand(ctx context.Context, a *app, convID int64, line string, out io.Writer) (int64, bool, error) {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?":
		fmt.Fprint(out, chatHelp)
		return convID, false, nil

	case "/quit", "/q", "/exit":
		return convID, true, nil

	case "/list", "/l":
		if err := a.service.LoadConversations(ctx, 1, cfg.Session.PageSize); err != nil {
			return convID, false, err
		}
		return convID, false, writeConversationTable(out, a.store.Conversations(), a.store.Total())

	case "/new":
		conv, err := a.service.CreateConversation(ctx, strings.Join(args, " "))
		if err != nil {
			return convID, false, err
		}
		fmt.Fprintf(out, "conversation %d\n", conv.ID)
		return conv.ID, false, nil

	case "/switch", "/sw":
		if len(args) != 1 {
			return convID, false, errors.New("usage: /switch <id>")
		}
		id, err := parseConvID(args[0])
		if err != nil {
			return convID, false, err
		}
		if err := a.service.LoadConversation(ctx, id); err != nil {
			return convID, false, err
		}
		writeTranscript(out, a.store.MessagesFor(id))
		return id, false, nil

	case "/tokens":
		if a.estimator == nil {
			return convID, false, errors.New("token estimator unavailable")
		}
		n, err := a.estimator.CountMessages(a.store.MessagesFor(convID))
		if err != nil {
			return convID, false, err
		}
		fmt.Fprintf(out, "~%d tokens in the transcript\n", n)
		return convID, false, nil

	default:
		return convID, false, errors.Errorf("unknown command %s, /help lists them", command)
	}
}
