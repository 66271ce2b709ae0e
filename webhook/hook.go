// Package webhook delivers signed call notifications to external endpoints.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultRetries is the delivery attempt count when a hook does not set one.
const DefaultRetries = 3

var (
	// ErrHookNotFound is returned when a hook ID has no registration.
	ErrHookNotFound = errors.New("webhook: hook not found")
	// ErrInvalidHook is returned for malformed hook registrations.
	ErrInvalidHook = errors.New("webhook: invalid hook")
)

// Hook is one registered endpoint. An empty Tool receives events for every
// tool.
type Hook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Tool      string    `json:"tool,omitempty"`
	Secret    string    `json:"secret,omitempty"`
	Retries   int       `json:"retries"`
	CreatedAt time.Time `json:"created_at"`
}

// Global reports whether the hook receives events for every tool.
func (h Hook) Global() bool {
	return h.Tool == ""
}

// Matches reports whether the hook subscribes to toolName.
func (h Hook) Matches(toolName string) bool {
	return h.Global() || h.Tool == toolName
}

// Redacted returns a copy safe to show in listings.
func (h Hook) Redacted() Hook {
	if h.Secret != "" {
		h.Secret = "********"
	}
	return h
}

// Normalize applies defaults and validates the hook.
func (h Hook) Normalize() (Hook, error) {
	h.URL = strings.TrimSpace(h.URL)
	h.Tool = strings.TrimSpace(h.Tool)
	u, err := url.Parse(h.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Hook{}, fmt.Errorf("%w: url %q must be an absolute http(s) URL", ErrInvalidHook, h.URL)
	}
	if h.Retries < 0 {
		return Hook{}, fmt.Errorf("%w: retries must be >= 0", ErrInvalidHook)
	}
	if h.Retries == 0 {
		h.Retries = DefaultRetries
	}
	return h, nil
}

// Store persists hook registrations.
type Store interface {
	// List returns all hooks in creation order.
	List(ctx context.Context) ([]Hook, error)

	// Add validates and stores a hook, assigning ID and CreatedAt when empty.
	Add(ctx context.Context, hook Hook) (Hook, error)

	// Remove deletes a hook by ID or returns ErrHookNotFound.
	Remove(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}

// Matching returns the hooks in store that subscribe to toolName.
func Matching(ctx context.Context, store Store, toolName string) ([]Hook, error) {
	hooks, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := hooks[:0]
	for _, h := range hooks {
		if h.Matches(toolName) {
			out = append(out, h)
		}
	}
	return out, nil
}

// Ensure adds each hook that has no existing registration with the same URL
// and tool. It returns the number of hooks added.
func Ensure(ctx context.Context, store Store, hooks ...Hook) (int, error) {
	existing, err := store.List(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[[2]string]bool, len(existing))
	for _, h := range existing {
		seen[[2]string{h.URL, h.Tool}] = true
	}

	added := 0
	for _, h := range hooks {
		key := [2]string{strings.TrimSpace(h.URL), strings.TrimSpace(h.Tool)}
		if seen[key] {
			continue
		}
		if _, err := store.Add(ctx, h); err != nil {
			return added, fmt.Errorf("webhook: ensure %s: %w", key[0], err)
		}
		seen[key] = true
		added++
	}
	return added, nil
}
