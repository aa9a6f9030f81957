package invalidation

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const topic = "cache.invalidation"

// Instruction is one invalidation message on the bus.
type Instruction struct {
	Keys []Key `json:"keys"`
}

// Bus is the in-process channel between invalidation producers (push
// notifier, poller) and the cache. Message ordering per publisher is
// preserved; consumers must stay idempotent since push and poll signals can
// overlap.
type Bus struct {
	pubsub *gochannel.GoChannel
}

func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
			// late subscribers still see earlier signals; harmless because
			// invalidation is idempotent
			Persistent: true,
		}, watermill.NopLogger{}),
	}
}

// Publish puts one instruction covering the given keys on the bus.
func (b *Bus) Publish(keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	payload, err := json.Marshal(Instruction{Keys: keys})
	if err != nil {
		return errors.Wrap(err, "encode invalidation")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return errors.Wrap(b.pubsub.Publish(topic, msg), "publish invalidation")
}

// Subscribe returns the stream of instructions. Malformed messages are acked
// and dropped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Instruction, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe invalidation")
	}
	out := make(chan Instruction)
	go func() {
		defer close(out)
		for msg := range msgs {
			var in Instruction
			if err := json.Unmarshal(msg.Payload, &in); err != nil {
				log.Warn().Err(err).Str("component", "invalidation").Msg("dropping malformed instruction")
				msg.Ack()
				continue
			}
			select {
			case out <- in:
			case <-ctx.Done():
				msg.Nack()
				return
			}
			msg.Ack()
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}
