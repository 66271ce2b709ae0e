package calllog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs retention once an hour.
const DefaultPruneSchedule = "0 * * * *"

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// ParseSchedule parses a five-field cron expression evaluated in UTC.
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// Retention bounds the size of the call log.
type Retention struct {
	// MaxAge deletes records older than this (0 disables).
	MaxAge time.Duration
	// MaxCount keeps at most this many records per tool (0 disables).
	MaxCount int
}

// Enabled reports whether any limit is set.
func (r Retention) Enabled() bool {
	return r.MaxAge > 0 || r.MaxCount > 0
}

// Policy converts r into a prune policy evaluated at now.
func (r Retention) Policy(now time.Time) PrunePolicy {
	p := PrunePolicy{KeepLatest: r.MaxCount}
	if r.MaxAge > 0 {
		p.OlderThan = now.Add(-r.MaxAge)
	}
	return p
}

// PrunerConfig configures a Pruner.
type PrunerConfig struct {
	Store     Store
	Retention Retention
	// Schedule is a UTC cron expression (default DefaultPruneSchedule).
	Schedule string
	Now      func() time.Time
	Logger   *slog.Logger
}

// Pruner applies a retention policy on a cron schedule.
type Pruner struct {
	store     Store
	retention Retention
	schedule  cron.Schedule
	now       func() time.Time
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPruner validates cfg and creates a Pruner.
func NewPruner(cfg PrunerConfig) (*Pruner, error) {
	if cfg.Store == nil {
		return nil, errors.New("calllog: pruner store is nil")
	}
	expr := cfg.Schedule
	if strings.TrimSpace(expr) == "" {
		expr = DefaultPruneSchedule
	}
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, fmt.Errorf("calllog: pruner schedule: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pruner{
		store:     cfg.Store,
		retention: cfg.Retention,
		schedule:  schedule,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}, nil
}

// RunOnce applies the retention policy immediately.
func (p *Pruner) RunOnce(ctx context.Context) (int, error) {
	if !p.retention.Enabled() {
		return 0, nil
	}
	n, err := p.store.Prune(ctx, p.retention.Policy(p.now()))
	if err != nil {
		return n, err
	}
	if n > 0 {
		p.logger.Info("pruned call log", "deleted", n)
	}
	return n, nil
}

// Next returns the next scheduled run after t.
func (p *Pruner) Next(t time.Time) time.Time {
	return p.schedule.Next(t.UTC())
}

// Start runs the pruner in the background until Stop is called or ctx ends.
func (p *Pruner) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		for {
			wait := p.Next(p.now()).Sub(p.now())
			timer := time.NewTimer(wait)
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if _, err := p.RunOnce(loopCtx); err != nil && loopCtx.Err() == nil {
				p.logger.Error("call log prune failed", "error", err)
			}
		}
	}()
}

// Stop halts the background loop and waits for it to exit.
func (p *Pruner) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
