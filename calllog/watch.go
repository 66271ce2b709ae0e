package calllog

import (
	"context"
	"slices"
	"time"
)

const defaultWatchInterval = time.Second

// Watch polls store and sends records matching filter, oldest first, as they
// appear. Records already present when Watch starts are skipped unless
// filter.Since is set. The returned channel closes when ctx is done.
func Watch(ctx context.Context, store Store, filter Filter, interval time.Duration) <-chan Record {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	out := make(chan Record)

	go func() {
		defer close(out)

		cursor := filter.Since
		seen := make(map[string]struct{})
		if cursor.IsZero() {
			cursor = time.Now().UTC()
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			q := filter
			q.Since = cursor
			q.Limit = 0
			records, err := store.List(ctx, q)
			if err == nil {
				slices.Reverse(records)
				for _, rec := range records {
					if _, dup := seen[rec.CallID]; dup {
						continue
					}
					select {
					case out <- rec:
					case <-ctx.Done():
						return
					}
					if rec.Timestamp.After(cursor) {
						cursor = rec.Timestamp
						seen = make(map[string]struct{})
					}
					seen[rec.CallID] = struct{}{}
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}
