package main

import (
	"context"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/cricket/pkg/redisstream"
	"github.com/go-go-golems/cricket/pkg/session"
)

func newWatchCmd() *cobra.Command {
	var convID int64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail change events mirrored to Redis Streams",
		Long: `Watch follows the change events other cricket processes mirror to Redis:
the session topic, plus one conversation topic with --conversation. It reads
as a consumer group, so several watchers share the stream. Needs
redis.enabled in the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Redis.Enabled {
				return errors.New("watch needs redis.enabled: true in the config")
			}
			topics := []string{session.SessionTopic}
			if convID != 0 {
				topics = append(topics, session.TopicForConversation(convID))
			}
			for _, topic := range topics {
				if err := redisstream.EnsureGroupAtTail(cmd.Context(), cfg.Redis.Addr, topic, cfg.Redis.Group); err != nil {
					return err
				}
			}
			sub, err := redisstream.BuildSubscriber(cfg.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = sub.Close() }()

			eg, ctx := errgroup.WithContext(cmd.Context())
			for _, topic := range topics {
				ch, err := sub.Subscribe(ctx, topic)
				if err != nil {
					return err
				}
				eg.Go(func() error { return printChanges(ctx, ch, cmd.OutOrStdout()) })
			}
			return eg.Wait()
		},
	}
	cmd.Flags().Int64Var(&convID, "conversation", 0, "also follow one conversation's topic")
	return cmd
}

func printChanges(ctx context.Context, ch <-chan *message.Message, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := session.DecodeChange(msg)
			msg.Ack()
			if err != nil {
				continue
			}
			line := fmt.Sprintf("%s seq=%d", ev.Kind, ev.Seq)
			if ev.ConversationID != 0 {
				line += fmt.Sprintf(" conv=%d", ev.ConversationID)
			}
			if ev.Delta != "" {
				line += fmt.Sprintf(" delta=%q", ev.Delta)
			}
			if ev.Error != "" {
				line += fmt.Sprintf(" error=%q", ev.Error)
			}
			fmt.Fprintln(out, line)
		}
	}
}
