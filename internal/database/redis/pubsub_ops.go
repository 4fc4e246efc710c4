package redis

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/redis/go-redis/v9"
)

// channelBuffer is the go-redis delivery buffer between the socket reader
// and the pump goroutine.
const channelBuffer = 256

// PubSubOps implements adapter.PubSubOperator for Redis. All channels of a
// connection share one PubSub and one pump goroutine, so messages reach
// the sink in the order the server sent them.
type PubSubOps struct {
	conn *Connection

	mu       sync.Mutex
	ps       *redis.PubSub
	sink     adapter.MessageSink
	channels map[string]struct{}
	done     chan struct{}
}

// isPattern reports whether a channel name is a PSUBSCRIBE glob.
func isPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// Subscribe adds channels to the connection's subscription. Names with glob
// characters are pattern subscriptions. Channels already subscribed are
// skipped. sink replaces any previous sink for the connection.
func (p *PubSubOps) Subscribe(ctx context.Context, channels []string, sink adapter.MessageSink) error {
	op := string(dbcapabilities.OpSubscribe)
	if len(channels) == 0 {
		return adapter.NewValidationError("channels", "at least one channel is required")
	}
	if sink == nil {
		return adapter.NewValidationError("sink", "a message sink is required")
	}
	for _, ch := range channels {
		if ch == "" {
			return adapter.NewValidationError("channels", "channel names must not be empty")
		}
	}
	client, err := p.conn.client("")
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var plain, patterns []string
	for _, ch := range channels {
		if _, ok := p.channels[ch]; ok {
			continue
		}
		if isPattern(ch) {
			patterns = append(patterns, ch)
		} else {
			plain = append(plain, ch)
		}
	}
	p.sink = sink
	if len(plain) == 0 && len(patterns) == 0 {
		return nil
	}

	if p.ps == nil {
		ps := client.Subscribe(ctx)
		if err := subscribeAll(ctx, ps, plain, patterns); err != nil {
			_ = ps.Close()
			return wrapErr(op, err)
		}
		// The first confirmation proves the subscription reached the server.
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return wrapErr(op, err)
		}
		p.ps = ps
		p.done = make(chan struct{})
		go p.pump(ps.Channel(redis.WithChannelSize(channelBuffer)), p.done)
	} else if err := subscribeAll(ctx, p.ps, plain, patterns); err != nil {
		return wrapErr(op, err)
	}

	for _, ch := range plain {
		p.channels[ch] = struct{}{}
	}
	for _, ch := range patterns {
		p.channels[ch] = struct{}{}
	}
	return nil
}

func subscribeAll(ctx context.Context, ps *redis.PubSub, plain, patterns []string) error {
	if len(plain) > 0 {
		if err := ps.Subscribe(ctx, plain...); err != nil {
			return err
		}
	}
	if len(patterns) > 0 {
		if err := ps.PSubscribe(ctx, patterns...); err != nil {
			return err
		}
	}
	return nil
}

func (p *PubSubOps) pump(msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range msgs {
		p.mu.Lock()
		sink := p.sink
		p.mu.Unlock()
		if sink == nil {
			continue
		}
		sink(adapter.ChannelMessage{
			ConnectionID: p.conn.id,
			Channel:      msg.Channel,
			Pattern:      msg.Pattern,
			Payload:      msg.Payload,
			Timestamp:    time.Now().UTC(),
		})
	}
}

// Unsubscribe drops channels. Unknown channels are ignored; removing the
// last channel releases the subscription connection.
func (p *PubSubOps) Unsubscribe(ctx context.Context, channels []string) error {
	if len(channels) == 0 {
		return adapter.NewValidationError("channels", "at least one channel is required")
	}

	p.mu.Lock()
	var plain, patterns []string
	for _, ch := range channels {
		if _, ok := p.channels[ch]; !ok {
			continue
		}
		delete(p.channels, ch)
		if isPattern(ch) {
			patterns = append(patterns, ch)
		} else {
			plain = append(plain, ch)
		}
	}
	if p.ps == nil {
		p.mu.Unlock()
		return nil
	}
	if len(p.channels) == 0 {
		ps, done := p.detach()
		p.mu.Unlock()
		return p.release(ps, done)
	}
	defer p.mu.Unlock()

	op := string(dbcapabilities.OpUnsubscribe)
	if len(plain) > 0 {
		if err := p.ps.Unsubscribe(ctx, plain...); err != nil {
			return wrapErr(op, err)
		}
	}
	if len(patterns) > 0 {
		if err := p.ps.PUnsubscribe(ctx, patterns...); err != nil {
			return wrapErr(op, err)
		}
	}
	return nil
}

// UnsubscribeAll drops every channel. It is a no-op without subscriptions.
func (p *PubSubOps) UnsubscribeAll(ctx context.Context) error {
	p.mu.Lock()
	ps, done := p.detach()
	p.mu.Unlock()
	return p.release(ps, done)
}

// Publish sends payload to channel and returns the number of receivers.
func (p *PubSubOps) Publish(ctx context.Context, channel, payload string) (int64, error) {
	if channel == "" {
		return 0, adapter.NewValidationError("channel", "channel name is required")
	}
	client, err := p.conn.client("")
	if err != nil {
		return 0, err
	}
	n, err := client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, wrapErr(string(dbcapabilities.OpPublish), err)
	}
	return n, nil
}

// Channels returns the subscribed channels and patterns in sorted order.
func (p *PubSubOps) Channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.channels))
	for ch := range p.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// detach clears subscription state. Callers hold mu.
func (p *PubSubOps) detach() (*redis.PubSub, chan struct{}) {
	ps, done := p.ps, p.done
	p.ps, p.done, p.sink = nil, nil, nil
	p.channels = map[string]struct{}{}
	return ps, done
}

// release closes a detached PubSub and waits for its pump to drain. It
// must run without mu held because the pump takes mu per message.
func (p *PubSubOps) release(ps *redis.PubSub, done chan struct{}) error {
	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	if err != nil && err != redis.ErrClosed {
		return wrapErr(string(dbcapabilities.OpUnsubscribe), err)
	}
	return nil
}

func (p *PubSubOps) close() {
	p.mu.Lock()
	ps, done := p.detach()
	p.mu.Unlock()
	_ = p.release(ps, done)
}
