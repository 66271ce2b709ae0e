package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/petal-labs/toolpilot/bus"
	"github.com/petal-labs/toolpilot/tool"
)

const (
	defaultDeliveryTimeout = 10 * time.Second
	defaultBackoff         = 500 * time.Millisecond
	defaultRatePerSecond   = 20
	defaultBurst           = 10
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Store Store
	// Client defaults to an http.Client with a 10s timeout.
	Client *http.Client
	// Backoff is multiplied by the attempt number between retries (default 500ms).
	Backoff time.Duration
	// RatePerSecond and Burst throttle outbound requests across all hooks.
	RatePerSecond float64
	Burst         int
	// Events selects which event kinds are delivered (default: all).
	Events []tool.EventKind
	Now    func() time.Time
	Logger *slog.Logger
}

// Delivery reports the outcome of delivering one payload to one hook.
type Delivery struct {
	HookID     string
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

// Dispatcher posts call events to every matching hook.
type Dispatcher struct {
	store   Store
	client  *http.Client
	backoff time.Duration
	limiter *rate.Limiter
	events  map[tool.EventKind]struct{}
	now     func() time.Time
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("webhook: dispatcher store is nil")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultDeliveryTimeout}
	}
	backoff := cfg.Backoff
	if backoff < 0 {
		backoff = 0
	} else if backoff == 0 {
		backoff = defaultBackoff
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = defaultRatePerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var events map[tool.EventKind]struct{}
	if len(cfg.Events) > 0 {
		events = make(map[tool.EventKind]struct{}, len(cfg.Events))
		for _, k := range cfg.Events {
			events[k] = struct{}{}
		}
	}

	return &Dispatcher{
		store:   cfg.Store,
		client:  client,
		backoff: backoff,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		events:  events,
		now:     now,
		logger:  logger,
	}, nil
}

func (d *Dispatcher) wants(kind tool.EventKind) bool {
	if d.events == nil {
		return true
	}
	_, ok := d.events[kind]
	return ok
}

// Dispatch delivers e to every matching hook concurrently and waits for all
// deliveries to finish. Final failures are logged and reported in the result.
func (d *Dispatcher) Dispatch(ctx context.Context, e tool.CallEvent) ([]Delivery, error) {
	if !d.wants(e.Kind) {
		return nil, nil
	}
	hooks, err := Matching(ctx, d.store, e.ToolName)
	if err != nil {
		return nil, fmt.Errorf("webhook: list hooks: %w", err)
	}
	if len(hooks) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(NewPayload(e, d.now()))
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal payload: %w", err)
	}

	deliveries := make([]Delivery, len(hooks))
	var wg sync.WaitGroup
	for i, hook := range hooks {
		wg.Add(1)
		go func(i int, hook Hook) {
			defer wg.Done()
			deliveries[i] = d.deliver(ctx, hook, body)
		}(i, hook)
	}
	wg.Wait()

	for _, dl := range deliveries {
		if dl.Err != nil {
			d.logger.Error("webhook delivery failed",
				"hook_id", dl.HookID,
				"url", dl.URL,
				"event", e.Kind,
				"call_id", e.CallID,
				"attempts", dl.Attempts,
				"error", dl.Err,
			)
		}
	}
	return deliveries, nil
}

func (d *Dispatcher) deliver(ctx context.Context, hook Hook, body []byte) Delivery {
	dl := Delivery{HookID: hook.ID, URL: hook.URL}
	var signature string
	if hook.Secret != "" {
		signature = Sign(hook.Secret, body)
	}

	dl.Attempts, dl.Err = deliverWithRetry(ctx, hook.Retries, d.backoff, func(ctx context.Context, attempt int) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(SignatureHeader, signature)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: post: %w", err)
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()

		dl.StatusCode = resp.StatusCode
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &DeliveryError{StatusCode: resp.StatusCode}
		}
		return nil
	})
	return dl
}

// Run consumes sub and dispatches each event in the background until ctx is
// done or the subscription closes. It waits for in-flight deliveries before
// returning.
func (d *Dispatcher) Run(ctx context.Context, sub bus.Subscription) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				if _, err := d.Dispatch(ctx, e); err != nil {
					d.logger.Error("webhook dispatch failed", "call_id", e.CallID, "error", err)
				}
			}()
		}
	}
}
