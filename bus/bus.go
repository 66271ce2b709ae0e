// Package bus distributes tool call events. The invocation pipeline publishes
// into it and observers such as the call recorder, webhook dispatcher and SSE
// stream subscribe without coupling to each other.
package bus

import "github.com/petal-labs/toolpilot/tool"

// EventBus distributes call events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event tool.CallEvent)

	// Subscribe registers a subscriber for a single tool.
	// Returns a Subscription that must be closed when done.
	Subscribe(toolName string) Subscription

	// SubscribeAll registers a subscriber that receives events for every tool.
	// Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan tool.CallEvent

	// Close unsubscribes and releases resources.
	Close() error
}

// Handler adapts b into a pipeline event handler.
func Handler(b EventBus) tool.EventHandler {
	return b.Publish
}
