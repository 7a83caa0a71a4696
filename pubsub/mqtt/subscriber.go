package mqtt

import (
	"context"
	"strings"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/barnybug/feedmux/pubsub"
)

func (b *Broker) topicFor(key pubsub.ChannelKey) string {
	if !key.HasSub() {
		if b.wildcard {
			return b.prefix + "/" + key.API.String() + "/#"
		}
		return b.prefix + "/" + key.API.String()
	}
	return b.prefix + "/" + key.String()
}

func (b *Broker) keyFor(topic string) (pubsub.ChannelKey, error) {
	if !strings.HasPrefix(topic, b.prefix+"/") {
		return pubsub.ChannelKey{}, errors.Errorf("topic %q outside prefix %q", topic, b.prefix)
	}
	return pubsub.ParseKey(topic[len(b.prefix)+1:])
}

// Subscribe asks the broker for key's topic. While disconnected it does
// nothing: the key is active, so the connect handler will subscribe it.
func (b *Broker) Subscribe(ctx context.Context, key pubsub.ChannelKey) error {
	c, _ := b.current()
	if c == nil || !c.IsConnected() {
		b.logger.Debug("mqtt subscribe deferred until connected", zap.Stringer("key", key))
		return nil
	}
	topic := b.topicFor(key)
	if err := b.wait(ctx, c.Subscribe(topic, b.qos, nil)); err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}
	b.logger.Debug("mqtt subscribed", zap.String("topic", topic))
	return nil
}

func (b *Broker) Unsubscribe(ctx context.Context, key pubsub.ChannelKey) error {
	c, _ := b.current()
	if c == nil || !c.IsConnected() {
		return nil
	}
	topic := b.topicFor(key)
	if err := b.wait(ctx, c.Unsubscribe(topic)); err != nil {
		return errors.Wrapf(err, "unsubscribe %s", topic)
	}
	b.logger.Debug("mqtt unsubscribed", zap.String("topic", topic))
	return nil
}

// connectHandler (re)subscribes every active key after a (re)connect.
func (b *Broker) connectHandler(_ MQTT.Client) {
	c, sink := b.current()
	if c == nil || sink == nil {
		return
	}
	subs := map[string]byte{}
	for _, key := range sink.ActiveKeys() {
		subs[b.topicFor(key)] = b.qos
	}
	if len(subs) == 0 {
		return
	}
	b.logger.Info("mqtt connected, subscribing", zap.Int("topics", len(subs)))
	if err := b.wait(context.Background(), c.SubscribeMultiple(subs, nil)); err != nil {
		b.logger.Error("mqtt resubscribe failed", zap.Error(err))
	}
}

// publishHandler runs on the paho client's goroutine. It decodes and hands
// off without waiting for handlers.
func (b *Broker) publishHandler(_ MQTT.Client, msg MQTT.Message) {
	b.received.Add(1)
	_, sink := b.current()
	if sink == nil {
		return
	}
	key, err := b.keyFor(msg.Topic())
	if err != nil {
		b.decodeErrors.Add(1)
		b.logger.Debug("mqtt ignoring topic", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	payload, err := b.decoder.Decode(key, msg.Payload())
	if err != nil {
		b.decodeErrors.Add(1)
		b.logger.Warn("mqtt decode failed", zap.Stringer("key", key), zap.Error(err))
		return
	}
	if err := sink.OnMessage(key, payload); err != nil {
		b.logger.Warn("mqtt message not accepted", zap.Stringer("key", key), zap.Error(err))
	}
}
