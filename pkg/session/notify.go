package session

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/cricket/pkg/helpers"
)

// ChangePublisher receives every committed store mutation. The Store calls
// it after releasing its lock, in mutation order.
type ChangePublisher interface {
	PublishChange(ev ChangeEvent)
}

// Notifier fans change events out to watermill subscribers. The in-process
// gochannel transport always runs; when Mirror is set (for example a Redis
// Streams publisher) every message is copied to it as well, best effort.
type Notifier struct {
	pubsub *gochannel.GoChannel
	mirror message.Publisher
}

type NotifierConfig struct {
	// Mirror receives a copy of every change event. Optional.
	Mirror message.Publisher
	// Buffer sizes the per-subscriber output channel. Defaults to 256.
	Buffer int64
}

var _ ChangePublisher = &Notifier{}

func NewNotifier(cfg NotifierConfig) *Notifier {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	wlog := helpers.NewWatermill(log.With().Str("component", "session").Logger())
	return &Notifier{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: buffer}, wlog),
		mirror: cfg.Mirror,
	}
}

// PublishChange serializes the event onto its topic. Failures are logged and
// swallowed: state observation must never stall a store mutation.
func (n *Notifier) PublishChange(ev ChangeEvent) {
	if n == nil || n.pubsub == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Str("kind", string(ev.Kind)).Msg("marshal change event")
		return
	}
	topic := TopicForChange(ev)
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("kind", string(ev.Kind))
	if ev.ConversationID != 0 {
		msg.Metadata.Set("conv_id", strconv.FormatInt(ev.ConversationID, 10))
	}
	if err := n.pubsub.Publish(topic, msg); err != nil {
		log.Warn().Err(err).Str("component", "session").Str("topic", topic).Msg("publish change event")
	}
	if n.mirror != nil {
		copyMsg := msg.Copy()
		copyMsg.UUID = uuid.NewString()
		if err := n.mirror.Publish(topic, copyMsg); err != nil {
			log.Warn().Err(err).Str("component", "session").Str("topic", topic).Msg("mirror change event")
		}
	}
}

// Subscribe returns a channel of change-event messages for one topic.
// Consumers must Ack each message.
func (n *Notifier) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if n == nil || n.pubsub == nil {
		return nil, errors.New("session notifier: not initialized")
	}
	return n.pubsub.Subscribe(ctx, topic)
}

func (n *Notifier) Close() error {
	if n == nil || n.pubsub == nil {
		return nil
	}
	err := n.pubsub.Close()
	if n.mirror != nil {
		if merr := n.mirror.Close(); err == nil {
			err = merr
		}
	}
	return err
}

// DecodeChange parses a message published by a Notifier back into its event.
func DecodeChange(msg *message.Message) (ChangeEvent, error) {
	var ev ChangeEvent
	if msg == nil {
		return ev, errors.New("session notifier: nil message")
	}
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, errors.Wrap(err, "session notifier: decode change event")
	}
	return ev, nil
}
