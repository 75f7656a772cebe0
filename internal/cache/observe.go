package cache

import (
	"context"
	"sync"

	"github.com/nguyenkims/pass/internal/domain"
)

// hub fans out change notifications to live observers. Signals are
// coalesced: an observer that is busy re-querying sees at most one pending
// wakeup.
type hub struct {
	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan struct{})}
}

func (h *hub) subscribe() (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan struct{}, 1)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

func (h *hub) notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Observe returns a live view of the user's records matching the filter.
// The current result set is emitted immediately, then again after every
// cache mutation. The channel closes when ctx is done. Slow consumers only
// ever see the most recent emission.
func (c *Cache) Observe(ctx context.Context, userID domain.UserID, f Filter) <-chan []Record {
	return observe(ctx, c, func(ctx context.Context) ([]Record, error) {
		return c.List(ctx, userID, f)
	})
}

// ObserveCountSummary is a live per-type count of the user's records
// matching the filter, with Observe's emission semantics.
func (c *Cache) ObserveCountSummary(ctx context.Context, userID domain.UserID, f Filter) <-chan domain.ItemCountSummary {
	return observe(ctx, c, func(ctx context.Context) (domain.ItemCountSummary, error) {
		return c.CountSummary(ctx, userID, f)
	})
}

// ObserveCountByShare is a live per-share count of the user's records,
// with Observe's emission semantics.
func (c *Cache) ObserveCountByShare(ctx context.Context, userID domain.UserID) <-chan map[domain.ShareID]domain.ShareItemCount {
	return observe(ctx, c, func(ctx context.Context) (map[domain.ShareID]domain.ShareItemCount, error) {
		return c.CountByShare(ctx, userID)
	})
}

// observe runs query now and after every committed mutation, emitting each
// result. A pending unread emission is replaced, never queued behind.
func observe[T any](ctx context.Context, c *Cache, query func(ctx context.Context) (T, error)) <-chan T {
	out := make(chan T, 1)
	wake, cancel := c.hub.subscribe()

	emit := func() {
		v, err := query(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Error(ctx, "observe query failed", "err", err)
			}
			return
		}
		// drop the stale pending emission, if any
		select {
		case <-out:
		default:
		}
		out <- v
	}

	go func() {
		defer close(out)
		defer cancel()
		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				emit()
			}
		}
	}()
	return out
}
