package mqtt

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/barnybug/feedmux/pubsub"
)

var (
	_ pubsub.Transport = (*Broker)(nil)
	_ pubsub.Publisher = (*Publisher)(nil)
)

// Publisher emits messages through a connected Broker.
type Publisher struct {
	broker *Broker
}

func (b *Broker) Publisher() *Publisher {
	return &Publisher{broker: b}
}

func (pub *Publisher) ID() string {
	return pub.broker.ID()
}

// Emit publishes payload on key's topic. []byte payloads are sent as is,
// anything else is encoded as JSON.
func (pub *Publisher) Emit(key pubsub.ChannelKey, payload any) error {
	if !key.Valid() {
		return &pubsub.InvalidKeyError{API: key.API}
	}
	c, _ := pub.broker.current()
	if c == nil {
		return errors.New("mqtt publisher not connected")
	}
	var body []byte
	switch v := payload.(type) {
	case []byte:
		body = v
	case *pubsub.Event:
		body = v.Bytes()
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encode payload")
		}
		body = data
	}
	b := pub.broker
	topic := b.prefix + "/" + key.String()
	return b.wait(context.Background(), c.Publish(topic, b.qos, false, body))
}
