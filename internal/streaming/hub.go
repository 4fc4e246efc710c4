// Package streaming fans pub/sub messages out to registered listeners.
//
// Every listener owns a bounded queue drained by its own goroutine, so a
// slow listener never stalls the adapter's receive loop or other
// listeners. When a queue is full the incoming message is dropped and
// counted; messages that are delivered keep their publish order.
package streaming

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/logger"
)

// DefaultBufferSize is the per-listener queue length.
const DefaultBufferSize = 256

// Listener receives messages for one connection.
type Listener func(adapter.ChannelMessage)

// Unregister removes a listener. Calling it more than once is a no-op.
type Unregister func()

// DropFunc is told about every message dropped for a connection.
type DropFunc func(connectionID string)

type subscriber struct {
	id           string
	connectionID string
	listener     Listener
	queue        chan adapter.ChannelMessage
	dropped      atomic.Uint64
	delivered    atomic.Uint64
	closeOnce    sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.queue) })
}

// Hub routes messages from adapter sinks to listeners by connection id.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber
	bufferSize  int
	onDrop      DropFunc
	logger      *logger.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-listener queue length.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithDropFunc installs a callback for dropped messages.
func WithDropFunc(fn DropFunc) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// WithLogger sets the hub logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subscribers: make(map[string]map[string]*subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// safeLog safely logs a message if logger is available
func (h *Hub) safeLog(level string, format string, args ...interface{}) {
	if h.logger != nil {
		switch level {
		case "info":
			h.logger.Info(format, args...)
		case "error":
			h.logger.Error(format, args...)
		case "warn":
			h.logger.Warn(format, args...)
		case "debug":
			h.logger.Debug(format, args...)
		}
	}
}

// OnMessage registers listener for messages of connectionID.
func (h *Hub) OnMessage(connectionID string, listener Listener) Unregister {
	sub := &subscriber{
		id:           uuid.NewString(),
		connectionID: connectionID,
		listener:     listener,
		queue:        make(chan adapter.ChannelMessage, h.bufferSize),
	}

	h.mu.Lock()
	if h.subscribers[connectionID] == nil {
		h.subscribers[connectionID] = make(map[string]*subscriber)
	}
	h.subscribers[connectionID][sub.id] = sub
	h.mu.Unlock()

	go h.drain(sub)
	h.safeLog("debug", "Listener %s registered for connection %s", sub.id, connectionID)

	return func() { h.remove(connectionID, sub.id) }
}

func (h *Hub) drain(sub *subscriber) {
	for msg := range sub.queue {
		h.deliver(sub, msg)
	}
}

func (h *Hub) deliver(sub *subscriber, msg adapter.ChannelMessage) {
	defer func() {
		if r := recover(); r != nil {
			h.safeLog("error", "Listener %s for connection %s panicked: %v", sub.id, sub.connectionID, r)
		}
	}()
	sub.listener(msg)
	sub.delivered.Add(1)
}

func (h *Hub) remove(connectionID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[connectionID]
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.subscribers, connectionID)
	}
	sub.close()
}

// Sink returns the adapter.MessageSink feeding listeners of connectionID.
func (h *Hub) Sink(connectionID string) adapter.MessageSink {
	return func(msg adapter.ChannelMessage) {
		h.Dispatch(connectionID, msg)
	}
}

// Dispatch queues msg for every listener of connectionID without blocking.
func (h *Hub) Dispatch(connectionID string, msg adapter.ChannelMessage) {
	if msg.ConnectionID == "" {
		msg.ConnectionID = connectionID
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers[connectionID] {
		select {
		case sub.queue <- msg:
		default:
			if sub.dropped.Add(1) == 1 {
				h.safeLog("warn", "Listener %s for connection %s is falling behind; dropping messages", sub.id, connectionID)
			}
			if h.onDrop != nil {
				h.onDrop(connectionID)
			}
		}
	}
}

// CloseConnection removes every listener of connectionID. Queued messages
// are still delivered.
func (h *Hub) CloseConnection(connectionID string) {
	h.mu.Lock()
	subs := h.subscribers[connectionID]
	delete(h.subscribers, connectionID)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	if len(subs) > 0 {
		h.safeLog("debug", "Removed %d listeners for connection %s", len(subs), connectionID)
	}
}

// Close removes every listener.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.subscribers
	h.subscribers = make(map[string]map[string]*subscriber)
	h.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.close()
		}
	}
}

// ListenerStats describes one registered listener.
type ListenerStats struct {
	ID        string `json:"id"`
	Queued    int    `json:"queued"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns the listeners of connectionID sorted by id.
func (h *Hub) Stats(connectionID string) []ListenerStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := make([]ListenerStats, 0, len(h.subscribers[connectionID]))
	for _, sub := range h.subscribers[connectionID] {
		stats = append(stats, ListenerStats{
			ID:        sub.id,
			Queued:    len(sub.queue),
			Delivered: sub.delivered.Load(),
			Dropped:   sub.dropped.Load(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// Dropped returns the number of messages dropped for connectionID across
// its current listeners.
func (h *Hub) Dropped(connectionID string) uint64 {
	var total uint64
	for _, s := range h.Stats(connectionID) {
		total += s.Dropped
	}
	return total
}

// ListenerCount returns the number of listeners of connectionID.
func (h *Hub) ListenerCount(connectionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[connectionID])
}
