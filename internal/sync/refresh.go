package sync

import (
	"context"
	"errors"

	"github.com/nguyenkims/pass/internal/cache"
	"github.com/nguyenkims/pass/internal/crypto"
	"github.com/nguyenkims/pass/internal/domain"
	"github.com/nguyenkims/pass/internal/remote"
)

// RefreshItems performs a full resync of one share: it downloads every
// revision, decrypts them, and replaces the share's cached rows in a
// single transaction. Rows deleted server-side disappear because the
// share is cleared before the download is written back.
func (c *Coordinator) RefreshItems(
	ctx context.Context,
	account domain.Account,
	share domain.Share,
) ([]domain.Item, error) {
	revs, err := c.remote.GetItems(ctx, account, share.ID)
	if err != nil {
		return nil, err
	}

	var items []domain.Item
	err = c.withShareKeys(ctx, account, share.ID, func(keys []domain.ShareKey) error {
		return c.codec.WithSession(ctx, func(s *crypto.Session) error {
			items = items[:0]
			recs := make([]cache.Record, 0, len(revs))
			for _, rev := range revs {
				item, rec, err := c.codec.OpenRevision(ctx, s, account, rev, share, keys)
				if err != nil {
					return err
				}
				items = append(items, *item)
				recs = append(recs, *rec)
			}
			return c.cache.WithTx(ctx, func(ctx context.Context, tx *cache.Txn) error {
				if err := tx.DeleteShare(ctx, share.ID); err != nil {
					return err
				}
				return tx.UpsertBatch(ctx, recs)
			})
		})
	})
	if err != nil {
		return nil, err
	}
	c.log.Info(ctx, "share refreshed", "share", share.ID, "items", len(items))
	return items, nil
}

// ApplyEvents folds one change-log batch into the cache: updated
// revisions are decrypted and upserted, deleted ids removed, all in one
// transaction. The events engine calls this before advancing its cursor.
func (c *Coordinator) ApplyEvents(
	ctx context.Context,
	account domain.Account,
	share domain.Share,
	events *remote.EventList,
) error {
	if len(events.UpdatedItems) == 0 && len(events.DeletedItemIDs) == 0 {
		return nil
	}
	return c.withShareKeys(ctx, account, share.ID, func(keys []domain.ShareKey) error {
		return c.codec.WithSession(ctx, func(s *crypto.Session) error {
			recs := make([]cache.Record, 0, len(events.UpdatedItems))
			for _, rev := range events.UpdatedItems {
				_, rec, err := c.codec.OpenRevision(ctx, s, account, rev, share, keys)
				if err != nil {
					return err
				}
				recs = append(recs, *rec)
			}
			return c.cache.WithTx(ctx, func(ctx context.Context, tx *cache.Txn) error {
				if err := tx.UpsertBatch(ctx, recs); err != nil {
					return err
				}
				for _, id := range events.DeletedItemIDs {
					if err := tx.Delete(ctx, share.ID, id); err != nil {
						return err
					}
				}
				return nil
			})
		})
	})
}

// ObserveItems streams the decrypted view of the cached items matching the
// filter, re-emitting after every committed cache mutation. Sensitive
// fields stay concealed; records that fail to decrypt are logged and
// skipped rather than aborting the stream. The stream closes when ctx is
// done.
func (c *Coordinator) ObserveItems(
	ctx context.Context,
	account domain.Account,
	f cache.Filter,
) <-chan []domain.Item {
	out := make(chan []domain.Item, 1)
	recsCh := c.cache.Observe(ctx, account.UserID, f)

	go func() {
		defer close(out)
		for recs := range recsCh {
			items := c.openRecords(ctx, account, recs)
			select {
			case out <- items:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// ObserveItemCount streams live per-share item counts, split by lifecycle
// state. Counts come straight from the cache; no decryption is involved.
func (c *Coordinator) ObserveItemCount(ctx context.Context, account domain.Account) <-chan map[domain.ShareID]domain.ShareItemCount {
	return c.cache.ObserveCountByShare(ctx, account.UserID)
}

// ObserveItemCountSummary streams live per-type counts of the items
// matching the filter.
func (c *Coordinator) ObserveItemCountSummary(ctx context.Context, account domain.Account, f cache.Filter) <-chan domain.ItemCountSummary {
	return c.cache.ObserveCountSummary(ctx, account.UserID, f)
}

// openRecords decrypts records grouped by share, concealed. Decrypt
// failures drop the record from the emission.
func (c *Coordinator) openRecords(ctx context.Context, account domain.Account, recs []cache.Record) []domain.Item {
	items := make([]domain.Item, 0, len(recs))
	for shareID, shareRecs := range groupByShare(recs) {
		var shareItems []domain.Item
		err := c.withShareKeys(ctx, account, shareID, func(keys []domain.ShareKey) error {
			return c.codec.WithSession(ctx, func(s *crypto.Session) error {
				shareItems = shareItems[:0]
				for _, rec := range shareRecs {
					item, err := c.codec.OpenRecord(ctx, s, rec, keys, false)
					if errors.Is(err, domain.ErrKeyNotFound) {
						return err
					}
					if err != nil {
						c.log.Warn(ctx, "skipping undecryptable cached item",
							"share", rec.ShareID, "item", rec.ItemID, "err", err)
						continue
					}
					shareItems = append(shareItems, *item)
				}
				return nil
			})
		})
		if err != nil {
			c.log.Warn(ctx, "error decrypting observed share items", "share", shareID, "err", err)
			continue
		}
		items = append(items, shareItems...)
	}
	return items
}
