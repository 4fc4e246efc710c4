package database

import (
	"context"

	"github.com/redbco/redb-desk/internal/streaming"
	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// Subscribe adds channels (or glob patterns) to the session's
// subscription. Messages reach listeners registered with OnMessage.
func (m *Manager) Subscribe(ctx context.Context, id string, channels []string) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpSubscribe, func(ctx context.Context, s *Session) (interface{}, error) {
		if m.hub == nil {
			return nil, adapter.NewUnsupportedOperationError(s.Kind(), string(dbcapabilities.OpSubscribe), "no streaming hub configured")
		}
		pubsub := s.Conn.PubSubOperations()
		if err := pubsub.Subscribe(ctx, channels, m.hub.Sink(id)); err != nil {
			return nil, err
		}
		return map[string]interface{}{"channels": pubsub.Channels()}, nil
	})
}

// Unsubscribe removes channels. Channels that are not subscribed are ignored.
func (m *Manager) Unsubscribe(ctx context.Context, id string, channels []string) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpUnsubscribe, func(ctx context.Context, s *Session) (interface{}, error) {
		pubsub := s.Conn.PubSubOperations()
		if err := pubsub.Unsubscribe(ctx, channels); err != nil {
			return nil, err
		}
		return map[string]interface{}{"channels": pubsub.Channels()}, nil
	})
}

// UnsubscribeAll drops every subscription of the session.
func (m *Manager) UnsubscribeAll(ctx context.Context, id string) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpUnsubscribeAll, func(ctx context.Context, s *Session) (interface{}, error) {
		if err := s.Conn.PubSubOperations().UnsubscribeAll(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"channels": []string{}}, nil
	})
}

// Publish sends payload to channel and reports how many clients received it.
func (m *Manager) Publish(ctx context.Context, id, channel, payload string) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpPublish, func(ctx context.Context, s *Session) (interface{}, error) {
		if channel == "" {
			return nil, adapter.NewValidationError("channel", "channel is required")
		}
		receivers, err := s.Conn.PubSubOperations().Publish(ctx, channel, payload)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"receivers": receivers}, nil
	})
}

// ConsumeMessages reads at most limit messages from topic without
// consumer group state. An empty topic yields an empty list.
func (m *Manager) ConsumeMessages(ctx context.Context, id, topic string, limit int, fromBeginning bool) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpConsumeMessages, func(ctx context.Context, s *Session) (interface{}, error) {
		messages, err := s.Conn.ConsumerOperations().ConsumeMessages(ctx, adapter.ConsumeRequest{
			Topic:         topic,
			Limit:         limit,
			FromBeginning: fromBeginning,
		})
		if err != nil {
			return nil, err
		}
		if messages == nil {
			messages = []adapter.BrokerMessage{}
		}
		return messages, nil
	})
}

// OnMessage registers listener for pub/sub messages of id. The listener is
// removed by the returned func or when the session closes.
func (m *Manager) OnMessage(id string, listener streaming.Listener) streaming.Unregister {
	if m.hub == nil {
		return func() {}
	}
	return m.hub.OnMessage(id, listener)
}
