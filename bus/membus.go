package bus

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/petal-labs/toolpilot/tool"
)

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory event bus implementation.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // tool name -> subscribers
	globalSubs []*memSub            // subscribers for all tools
	bufSize    int
	closed     bool
	dropped    atomic.Uint64
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish sends an event to all matching subscribers.
// Tool-specific subscribers receive events matching their tool name,
// and global subscribers receive all events. If the bus is closed,
// the event is silently dropped.
func (b *MemBus) Publish(event tool.CallEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs[event.ToolName] {
		if !sub.send(event) {
			b.dropped.Add(1)
		}
	}
	for _, sub := range b.globalSubs {
		if !sub.send(event) {
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were discarded because a subscriber's
// buffer was full.
func (b *MemBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe registers a subscriber for a single tool.
func (b *MemBus) Subscribe(toolName string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b, toolName, false, b.bufSize)
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[toolName] = append(b.subs[toolName], sub)
	return sub
}

// SubscribeAll registers a subscriber that receives events for every tool.
func (b *MemBus) SubscribeAll() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b, "", true, b.bufSize)
	if b.closed {
		sub.close()
		return sub
	}
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.globalSubs {
		sub.close()
	}
	b.subs = make(map[string][]*memSub)
	b.globalSubs = nil
	return nil
}

// SubscriberCount returns the number of live subscriptions.
func (b *MemBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.globalSubs)
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

func (b *MemBus) remove(sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.global {
		b.globalSubs = slices.DeleteFunc(b.globalSubs, func(s *memSub) bool { return s == sub })
		return
	}
	remaining := slices.DeleteFunc(b.subs[sub.toolName], func(s *memSub) bool { return s == sub })
	if len(remaining) == 0 {
		delete(b.subs, sub.toolName)
		return
	}
	b.subs[sub.toolName] = remaining
}

// memSub is an in-memory subscription.
type memSub struct {
	bus      *MemBus
	toolName string
	global   bool

	ch     chan tool.CallEvent
	mu     sync.Mutex
	closed bool
}

func newMemSub(b *MemBus, toolName string, global bool, bufSize int) *memSub {
	return &memSub{
		bus:      b,
		toolName: toolName,
		global:   global,
		ch:       make(chan tool.CallEvent, bufSize),
	}
}

// Events returns a channel of events for this subscription.
func (s *memSub) Events() <-chan tool.CallEvent {
	return s.ch
}

// Close unsubscribes and releases resources.
func (s *memSub) Close() error {
	s.bus.remove(s)
	s.close()
	return nil
}

// close performs the actual channel close, guarded against double-close.
func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers an event without blocking. It reports false only when the
// buffer is full; a closed subscription silently ignores the event.
func (s *memSub) send(event tool.CallEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// Compile-time interface checks.
var _ EventBus = (*MemBus)(nil)
var _ Subscription = (*memSub)(nil)
