package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/cricket/pkg/session"
)

func newSendCmd() *cobra.Command {
	var (
		convID int64
		stream bool
	)
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message and print the reply",
		Long: `Send reads the message from the argument or from stdin. Without
--conversation the quick-chat slot is used, a scratch conversation created on
first use.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := messageFromArgsOrStdin(args)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			id := convID
			if id == 0 {
				id, err = a.service.EnsureQuickChat(ctx)
				if err != nil {
					return err
				}
			}

			if stream {
				a.store.ClearError()
				if err := streamAndPrint(ctx, a, id, content, cmd.OutOrStdout()); err != nil {
					return err
				}
				if msg := a.store.LastError(); msg != "" {
					return errors.New(msg)
				}
				return nil
			}

			msg, err := a.service.Send(ctx, id, content)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg.Content)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.Int64Var(&convID, "conversation", 0, "conversation id, 0 for the quick-chat slot")
	flags.BoolVar(&stream, "stream", false, "stream the reply as it is generated")
	return cmd
}

func messageFromArgsOrStdin(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", errors.Wrap(err, "read message from stdin")
	}
	content := strings.TrimSpace(string(b))
	if content == "" {
		return "", errors.New("message is empty")
	}
	return content, nil
}

// streamAndPrint subscribes to the conversation's change topic, starts the
// exchange, and writes deltas as they land. The subscription must exist
// before the send: the in-process transport only delivers to subscribers
// that are already attached.
func streamAndPrint(ctx context.Context, a *app, convID int64, content string, out io.Writer) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := a.notifier.Subscribe(subCtx, session.TopicForConversation(convID))
	if err != nil {
		return err
	}
	h, err := a.service.SendStream(ctx, convID, content)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(subCtx)
	eg.Go(func() error {
		// Paint from store state rather than from the delta payloads: the
		// events only signal that something changed, the store is the truth.
		// That keeps output correct even when deliveries reorder or repeat.
		printed := 0
		for {
			select {
			case <-egCtx.Done():
				return nil
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				ev, decodeErr := session.DecodeChange(msg)
				msg.Ack()
				if decodeErr != nil {
					continue
				}
				switch ev.Kind {
				case session.ChangeStreamDelta:
					if p, ok := a.store.Progress(convID); ok && len(p.Content) > printed {
						fmt.Fprint(out, p.Content[printed:])
						printed = len(p.Content)
					}
				case session.ChangeStreamStopped:
					// The progress record is gone, the tail lives on the
					// transcript's last message.
					if msgs := a.store.MessagesFor(convID); len(msgs) > 0 {
						if content := msgs[len(msgs)-1].Content; len(content) > printed {
							fmt.Fprint(out, content[printed:])
						}
					}
					fmt.Fprintln(out)
					return nil
				}
			}
		}
	})
	eg.Go(func() error {
		// Done closes only after reconciliation ran, so the transcript is
		// settled once Wait returns.
		select {
		case <-h.Done():
			return nil
		case <-egCtx.Done():
			return nil
		}
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	return h.Err()
}
