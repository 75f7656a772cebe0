package sync

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nguyenkims/pass/internal/cache"
	"github.com/nguyenkims/pass/internal/crypto"
	"github.com/nguyenkims/pass/internal/domain"
	"github.com/nguyenkims/pass/internal/remote"
)

// MigrateItem moves one item from the source share to the destination
// share, re-encrypting it under the destination's latest key. The cache
// swap (insert under destination, delete under source) happens in one
// transaction after the server accepts the move. A crash between the
// remote call and the swap leaves the item present under both shares
// until the next RefreshItems reconciles.
func (c *Coordinator) MigrateItem(
	ctx context.Context,
	account domain.Account,
	source domain.Share,
	destination domain.Share,
	itemID domain.ItemID,
) (*domain.Item, error) {
	rec, err := c.cache.GetByID(ctx, source.ID, itemID)
	if err != nil {
		return nil, err
	}
	destKey, err := c.keys.LatestKey(ctx, account, destination.ID)
	if err != nil {
		return nil, err
	}
	sourceKeys, err := c.keys.AllKeys(ctx, account, source.ID)
	if err != nil {
		return nil, err
	}

	var item *domain.Item
	err = c.codec.WithSession(ctx, func(s *crypto.Session) error {
		payload, err := c.codec.ReencryptForMigration(ctx, s, destKey, sourceKeys, *rec)
		if err != nil {
			return err
		}
		rev, err := c.remote.MigrateItem(ctx, account, source.ID, itemID, remote.MigrateItemRequest{
			ShareID: destination.ID,
			Item:    toItemData(payload),
		})
		if err != nil {
			return err
		}
		var newRec *cache.Record
		item, newRec, err = c.codec.OpenRevision(ctx, s, account, *rev, destination, []domain.ShareKey{destKey})
		if err != nil {
			return err
		}
		return c.cache.WithTx(ctx, func(ctx context.Context, tx *cache.Txn) error {
			if err := tx.Upsert(ctx, *newRec); err != nil {
				return err
			}
			return tx.Delete(ctx, source.ID, itemID)
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// MigrateItems moves every active item of the source share to the
// destination share. The destination key is resolved once, items are
// re-encrypted and submitted in parallel batches, and each accepted batch
// swaps shares in its own transaction. A partial failure leaves the
// accepted batches migrated and returns the first error.
func (c *Coordinator) MigrateItems(
	ctx context.Context,
	account domain.Account,
	source domain.Share,
	destination domain.Share,
) error {
	active := domain.ItemStateActive
	recs, err := c.cache.List(ctx, account.UserID, cache.Filter{
		Selection: domain.SelectShare(source.ID),
		State:     &active,
	})
	if err != nil {
		return err
	}
	destKey, err := c.keys.LatestKey(ctx, account, destination.ID)
	if err != nil {
		return err
	}
	sourceKeys, err := c.keys.AllKeys(ctx, account, source.ID)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, batch := range chunk(recs, c.batchSize) {
		batch := batch
		g.Go(func() error {
			return c.migrateBatch(ctx, account, source.ID, destination, destKey, sourceKeys, batch)
		})
	}
	return g.Wait()
}

func (c *Coordinator) migrateBatch(
	ctx context.Context,
	account domain.Account,
	sourceID domain.ShareID,
	destination domain.Share,
	destKey domain.ShareKey,
	sourceKeys []domain.ShareKey,
	batch []cache.Record,
) error {
	return c.codec.WithSession(ctx, func(s *crypto.Session) error {
		bodies := make([]remote.MigrateItemsBody, 0, len(batch))
		for _, rec := range batch {
			payload, err := c.codec.ReencryptForMigration(ctx, s, destKey, sourceKeys, rec)
			if err != nil {
				return err
			}
			bodies = append(bodies, remote.MigrateItemsBody{
				ItemID: rec.ItemID,
				Item:   toItemData(payload),
			})
		}

		revs, err := c.remote.MigrateItems(ctx, account, sourceID, remote.MigrateItemsRequest{
			ShareID: destination.ID,
			Items:   bodies,
		})
		if err != nil {
			c.log.Warn(ctx, "error migrating items batch",
				"source", sourceID, "destination", destination.ID, "count", len(batch), "err", err)
			return err
		}

		newRecs := make([]cache.Record, 0, len(revs))
		for _, rev := range revs {
			_, newRec, err := c.codec.OpenRevision(ctx, s, account, rev, destination, []domain.ShareKey{destKey})
			if err != nil {
				return err
			}
			newRecs = append(newRecs, *newRec)
		}
		return c.cache.WithTx(ctx, func(ctx context.Context, tx *cache.Txn) error {
			if err := tx.UpsertBatch(ctx, newRecs); err != nil {
				return err
			}
			for _, rec := range batch {
				if err := tx.Delete(ctx, sourceID, rec.ItemID); err != nil {
					return err
				}
			}
			return nil
		})
	})
}
