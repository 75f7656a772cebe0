package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nguyenkims/pass/internal/domain"
	"github.com/nguyenkims/pass/internal/logging"
	"github.com/nguyenkims/pass/internal/remote"
)

// Remote is the slice of the remote client the engine needs.
type Remote interface {
	GetLatestEventID(ctx context.Context, account domain.Account, shareID domain.ShareID) (domain.EventID, error)
	GetEvents(ctx context.Context, account domain.Account, shareID domain.ShareID, since domain.EventID) (*remote.EventList, error)
}

// Applier consumes one event batch: decrypt the updated items and commit
// upserts and deletes in a single cache transaction.
type Applier interface {
	ApplyEvents(ctx context.Context, account domain.Account, share domain.Share, events *remote.EventList) error
}

// Engine advances the per-share event cursor. A cursor is resolved from the
// server once, on first sync; after that every FetchAndApply round fetches
// the diff since the cursor, applies it, and only then stores the new id.
// Failure at any point leaves the cursor unchanged, so the same batch is
// retried on the next round and the whole loop stays idempotent.
type Engine struct {
	remote  Remote
	cursors *CursorStore
	applier Applier
	log     logging.Logger
}

func NewEngine(r Remote, cursors *CursorStore, applier Applier, log logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop{}
	}
	return &Engine{remote: r, cursors: cursors, applier: applier, log: log}
}

// FetchAndApply runs sync rounds for the share until the server reports no
// more pending events.
func (e *Engine) FetchAndApply(ctx context.Context, account domain.Account, share domain.Share) error {
	for {
		pending, err := e.syncOnce(ctx, account, share)
		if err != nil {
			return err
		}
		if !pending {
			return nil
		}
	}
}

func (e *Engine) syncOnce(ctx context.Context, account domain.Account, share domain.Share) (bool, error) {
	cursor, err := e.resolveCursor(ctx, account, share.ID)
	if err != nil {
		return false, err
	}

	var events *remote.EventList
	err = e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		events, err = e.remote.GetEvents(ctx, account, share.ID, cursor)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to fetch events: %w", err)
	}

	e.log.Debug(ctx, "applying events",
		"share", share.ID,
		"updates", len(events.UpdatedItems),
		"deletes", len(events.DeletedItemIDs),
	)
	if err := e.applier.ApplyEvents(ctx, account, share, events); err != nil {
		// cursor untouched: the batch will be re-fetched and re-applied
		return false, fmt.Errorf("failed to apply events: %w", err)
	}
	if err := e.cursors.Set(ctx, account, share.ID, events.LatestEventID); err != nil {
		return false, err
	}
	return events.EventsPending, nil
}

// resolveCursor returns the local cursor, asking the server for the latest
// event id once when none is cached yet.
func (e *Engine) resolveCursor(ctx context.Context, account domain.Account, shareID domain.ShareID) (domain.EventID, error) {
	cursor, ok, err := e.cursors.Get(ctx, account, shareID)
	if err != nil {
		return "", err
	}
	if ok {
		return cursor, nil
	}

	e.log.Debug(ctx, "no local event cursor, resolving from server", "share", shareID)
	var latest domain.EventID
	err = e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		latest, err = e.remote.GetLatestEventID(ctx, account, shareID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve event cursor: %w", err)
	}
	if err := e.cursors.Set(ctx, account, shareID, latest); err != nil {
		return "", err
	}
	return latest, nil
}

// withRetry retries transient remote failures with exponential backoff.
// Conflict and crypto errors are never retried.
func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		var remoteErr *domain.RemoteError
		if errors.As(err, &remoteErr) && (remoteErr.Status == 0 || remoteErr.Status >= 500) {
			return retry.RetryableError(err)
		}
		return err
	})
}
