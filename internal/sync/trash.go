package sync

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nguyenkims/pass/internal/cache"
	"github.com/nguyenkims/pass/internal/domain"
	"github.com/nguyenkims/pass/internal/remote"
)

// TrashItem moves an active item to the trash. Trashing an already
// trashed item fails with domain.ErrInvalidItemState before any network
// traffic.
func (c *Coordinator) TrashItem(
	ctx context.Context,
	account domain.Account,
	shareID domain.ShareID,
	itemID domain.ItemID,
) error {
	rec, err := c.cache.GetByID(ctx, shareID, itemID)
	if err != nil {
		return err
	}
	if rec.State == domain.ItemStateTrashed {
		return fmt.Errorf("%w: item is already trashed", domain.ErrInvalidItemState)
	}

	resp, err := c.remote.SendToTrash(ctx, account, shareID, remote.TrashItemsRequest{
		Items: []remote.ItemRef{{ItemID: itemID, Revision: rec.Revision}},
	})
	if err != nil {
		return err
	}

	applyTrashResponse(rec, resp, domain.ItemStateTrashed)
	return c.cache.Upsert(ctx, *rec)
}

// UntrashItem restores a trashed item. The cache flips to active before
// the remote call so the item reappears immediately; on remote failure the
// exact previous row is written back and the error is returned. Restoring
// an already active item is a no-op.
func (c *Coordinator) UntrashItem(
	ctx context.Context,
	account domain.Account,
	shareID domain.ShareID,
	itemID domain.ItemID,
) error {
	rec, err := c.cache.GetByID(ctx, shareID, itemID)
	if err != nil {
		return err
	}
	if rec.State == domain.ItemStateActive {
		return nil
	}
	snapshot := *rec

	if err := c.cache.SetState(ctx, shareID, itemID, domain.ItemStateActive); err != nil {
		return err
	}

	resp, err := c.remote.Untrash(ctx, account, shareID, remote.TrashItemsRequest{
		Items: []remote.ItemRef{{ItemID: itemID, Revision: rec.Revision}},
	})
	if err != nil {
		c.log.Warn(ctx, "untrash rejected remotely, restoring cached state",
			"share", shareID, "item", itemID, "err", err)
		if restoreErr := c.cache.Upsert(ctx, snapshot); restoreErr != nil {
			return fmt.Errorf("failed to roll back untrash: %w", restoreErr)
		}
		return err
	}

	applyTrashResponse(rec, resp, domain.ItemStateActive)
	return c.cache.Upsert(ctx, *rec)
}

// DeleteItem permanently removes a trashed item. Deleting an item that is
// not in the trash is a successful no-op; active items must be trashed
// first.
func (c *Coordinator) DeleteItem(
	ctx context.Context,
	account domain.Account,
	shareID domain.ShareID,
	itemID domain.ItemID,
) error {
	rec, err := c.cache.GetByID(ctx, shareID, itemID)
	if err != nil {
		return err
	}
	if rec.State != domain.ItemStateTrashed {
		return nil
	}

	err = c.remote.Delete(ctx, account, shareID, remote.TrashItemsRequest{
		Items: []remote.ItemRef{{ItemID: itemID, Revision: rec.Revision}},
	})
	if err != nil {
		return err
	}
	return c.cache.Delete(ctx, shareID, itemID)
}

// ClearTrash permanently deletes every trashed item of the user. Items are
// grouped by share, split into batches, and the batches run in parallel.
// Each accepted batch is committed independently, so a partial failure
// leaves the successful deletions in place and returns the first error.
func (c *Coordinator) ClearTrash(ctx context.Context, account domain.Account) error {
	trashed, err := c.cache.GetTrashed(ctx, account.UserID)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for shareID, recs := range groupByShare(trashed) {
		for _, batch := range chunk(recs, c.batchSize) {
			shareID, batch := shareID, batch
			g.Go(func() error {
				err := c.remote.Delete(ctx, account, shareID, remote.TrashItemsRequest{
					Items: itemRefs(batch),
				})
				if err != nil {
					c.log.Warn(ctx, "error deleting trashed items batch",
						"share", shareID, "count", len(batch), "err", err)
					return err
				}
				return c.cache.WithTx(ctx, func(ctx context.Context, tx *cache.Txn) error {
					for _, rec := range batch {
						if err := tx.Delete(ctx, rec.ShareID, rec.ItemID); err != nil {
							return err
						}
					}
					return nil
				})
			})
		}
	}
	return g.Wait()
}

// RestoreItems moves every trashed item of the user back to active, with
// the same batching and partial-failure semantics as ClearTrash.
func (c *Coordinator) RestoreItems(ctx context.Context, account domain.Account) error {
	trashed, err := c.cache.GetTrashed(ctx, account.UserID)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for shareID, recs := range groupByShare(trashed) {
		for _, batch := range chunk(recs, c.batchSize) {
			shareID, batch := shareID, batch
			g.Go(func() error {
				resp, err := c.remote.Untrash(ctx, account, shareID, remote.TrashItemsRequest{
					Items: itemRefs(batch),
				})
				if err != nil {
					c.log.Warn(ctx, "error restoring items batch",
						"share", shareID, "count", len(batch), "err", err)
					return err
				}
				return c.cache.WithTx(ctx, func(ctx context.Context, tx *cache.Txn) error {
					for i := range batch {
						applyTrashResponse(&batch[i], resp, domain.ItemStateActive)
						if err := tx.Upsert(ctx, batch[i]); err != nil {
							return err
						}
					}
					return nil
				})
			})
		}
	}
	return g.Wait()
}

// applyTrashResponse stamps the server-assigned revision and the new state
// onto the record. Items missing from the response keep their revision.
func applyTrashResponse(rec *cache.Record, resp *remote.TrashItemsResponse, state domain.ItemState) {
	rec.State = state
	if resp == nil {
		return
	}
	for _, it := range resp.Items {
		if it.ItemID == rec.ItemID {
			rec.Revision = it.Revision
			return
		}
	}
}

func groupByShare(recs []cache.Record) map[domain.ShareID][]cache.Record {
	out := make(map[domain.ShareID][]cache.Record)
	for _, rec := range recs {
		out[rec.ShareID] = append(out[rec.ShareID], rec)
	}
	return out
}

func itemRefs(recs []cache.Record) []remote.ItemRef {
	refs := make([]remote.ItemRef, 0, len(recs))
	for _, rec := range recs {
		refs = append(refs, remote.ItemRef{ItemID: rec.ItemID, Revision: rec.Revision})
	}
	return refs
}
