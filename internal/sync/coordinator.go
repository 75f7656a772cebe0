// Package sync implements the item sync coordinator: the single entry point
// the application layer uses to create, mutate, migrate and refresh
// encrypted items. It fans out to the key store and codec to produce
// ciphertext, to the remote client to persist it, and keeps the local cache
// authoritative.
//
// Within one operation the remote call strictly precedes the cache write,
// with two documented exceptions: the optimistic untrash path (compensated
// on failure) and the last-used-time notification.
package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nguyenkims/pass/internal/cache"
	"github.com/nguyenkims/pass/internal/crypto"
	"github.com/nguyenkims/pass/internal/domain"
	"github.com/nguyenkims/pass/internal/keyring"
	"github.com/nguyenkims/pass/internal/logging"
	"github.com/nguyenkims/pass/internal/remote"
)

// maxBatchItemsPerRequest is the server's per-request item limit for bulk
// trash/untrash/delete/migrate calls.
const maxBatchItemsPerRequest = 50

// Remote is the slice of the remote client the coordinator needs. It makes
// the network boundary swappable in tests.
type Remote interface {
	GetItems(ctx context.Context, account domain.Account, shareID domain.ShareID) ([]domain.ItemRevision, error)
	CreateItem(ctx context.Context, account domain.Account, shareID domain.ShareID, req remote.CreateItemRequest) (*domain.ItemRevision, error)
	CreateAlias(ctx context.Context, account domain.Account, shareID domain.ShareID, req remote.CreateAliasRequest) (*domain.ItemRevision, error)
	CreateItemAndAlias(ctx context.Context, account domain.Account, shareID domain.ShareID, req remote.CreateItemAliasRequest) (*remote.CreateItemAliasResponse, error)
	UpdateItem(ctx context.Context, account domain.Account, shareID domain.ShareID, itemID domain.ItemID, req remote.UpdateItemRequest) (*domain.ItemRevision, error)
	SendToTrash(ctx context.Context, account domain.Account, shareID domain.ShareID, req remote.TrashItemsRequest) (*remote.TrashItemsResponse, error)
	Untrash(ctx context.Context, account domain.Account, shareID domain.ShareID, req remote.TrashItemsRequest) (*remote.TrashItemsResponse, error)
	Delete(ctx context.Context, account domain.Account, shareID domain.ShareID, req remote.TrashItemsRequest) error
	MigrateItem(ctx context.Context, account domain.Account, shareID domain.ShareID, itemID domain.ItemID, req remote.MigrateItemRequest) (*domain.ItemRevision, error)
	MigrateItems(ctx context.Context, account domain.Account, shareID domain.ShareID, req remote.MigrateItemsRequest) ([]domain.ItemRevision, error)
	GetLatestItemKey(ctx context.Context, account domain.Account, shareID domain.ShareID, itemID domain.ItemID) (*domain.ItemKey, error)
	UpdateLastUsedTime(ctx context.Context, account domain.Account, shareID domain.ShareID, itemID domain.ItemID, ts int64) error
}

// Coordinator orchestrates item operations across crypto, cache, key store
// and the remote client.
type Coordinator struct {
	remote    Remote
	cache     *cache.Cache
	keys      *keyring.Store
	codec     *crypto.Codec
	log       logging.Logger
	batchSize int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(log logging.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithBatchSize overrides the bulk-request chunk size.
func WithBatchSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

func NewCoordinator(r Remote, cch *cache.Cache, keys *keyring.Store, codec *crypto.Codec, opts ...Option) *Coordinator {
	c := &Coordinator{
		remote:    r,
		cache:     cch,
		keys:      keys,
		codec:     codec,
		log:       logging.Nop{},
		batchSize: maxBatchItemsPerRequest,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateItem encrypts contents under the share's latest key, persists the
// item remotely, and caches the server's authoritative revision. The cache
// is only written after remote acceptance, and always from the server
// response, never from locally built ciphertext.
func (c *Coordinator) CreateItem(
	ctx context.Context,
	account domain.Account,
	share domain.Share,
	contents domain.ItemContents,
) (*domain.Item, error) {
	shareKey, err := c.keys.LatestKey(ctx, account, share.ID)
	if err != nil {
		return nil, err
	}

	var item *domain.Item
	err = c.codec.WithSession(ctx, func(s *crypto.Session) error {
		payload, err := c.codec.EncryptForCreate(ctx, s, shareKey, contents)
		if err != nil {
			c.log.Warn(ctx, "error encrypting item for create", "err", err)
			return err
		}
		rev, err := c.remote.CreateItem(ctx, account, share.ID, remote.CreateItemRequest{
			Item: toItemData(payload),
		})
		if err != nil {
			return err
		}
		var rec *cache.Record
		item, rec, err = c.codec.OpenRevision(ctx, s, account, *rev, share, []domain.ShareKey{shareKey})
		if err != nil {
			return err
		}
		return c.cache.Upsert(ctx, *rec)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// CreateAlias creates an alias item from the given alias description.
func (c *Coordinator) CreateAlias(
	ctx context.Context,
	account domain.Account,
	share domain.Share,
	alias domain.NewAlias,
) (*domain.Item, error) {
	shareKey, err := c.keys.LatestKey(ctx, account, share.ID)
	if err != nil {
		return nil, err
	}
	// alias email is assigned by the server, the payload carries none
	contents := domain.AliasContent{Title: alias.Title, Note: alias.Note}

	var item *domain.Item
	err = c.codec.WithSession(ctx, func(s *crypto.Session) error {
		payload, err := c.codec.EncryptForCreate(ctx, s, shareKey, contents)
		if err != nil {
			return err
		}
		rev, err := c.remote.CreateAlias(ctx, account, share.ID, remote.CreateAliasRequest{
			Prefix:       alias.Prefix,
			SignedSuffix: alias.SignedSuffix,
			MailboxIDs:   alias.MailboxIDs,
			Item:         toItemData(payload),
		})
		if err != nil {
			return err
		}
		var rec *cache.Record
		item, rec, err = c.codec.OpenRevision(ctx, s, account, *rev, share, []domain.ShareKey{shareKey})
		if err != nil {
			return err
		}
		return c.cache.Upsert(ctx, *rec)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// CreateItemAndAlias creates a login and its paired alias in one remote
// call and caches both inside a single transaction, so neither is ever
// visible without the other.
func (c *Coordinator) CreateItemAndAlias(
	ctx context.Context,
	account domain.Account,
	share domain.Share,
	contents domain.ItemContents,
	alias domain.NewAlias,
) (*domain.Item, error) {
	shareKey, err := c.keys.LatestKey(ctx, account, share.ID)
	if err != nil {
		return nil, err
	}

	var item *domain.Item
	err = c.codec.WithSession(ctx, func(s *crypto.Session) error {
		itemPayload, err := c.codec.EncryptForCreate(ctx, s, shareKey, contents)
		if err != nil {
			c.log.Error(ctx, "error encrypting item and alias", "err", err)
			return err
		}
		aliasContents := domain.AliasContent{Title: alias.Title, Note: alias.Note}
		aliasPayload, err := c.codec.EncryptForCreate(ctx, s, shareKey, aliasContents)
		if err != nil {
			return err
		}

		resp, err := c.remote.CreateItemAndAlias(ctx, account, share.ID, remote.CreateItemAliasRequest{
			Alias: remote.CreateAliasRequest{
				Prefix:       alias.Prefix,
				SignedSuffix: alias.SignedSuffix,
				MailboxIDs:   alias.MailboxIDs,
				Item:         toItemData(aliasPayload),
			},
			Item: toItemData(itemPayload),
		})
		if err != nil {
			return err
		}

		keys := []domain.ShareKey{shareKey}
		var itemRec, aliasRec *cache.Record
		item, itemRec, err = c.codec.OpenRevision(ctx, s, account, resp.Item, share, keys)
		if err != nil {
			return err
		}
		_, aliasRec, err = c.codec.OpenRevision(ctx, s, account, resp.Alias, share, keys)
		if err != nil {
			return err
		}
		return c.cache.WithTx(ctx, func(ctx context.Context, tx *cache.Txn) error {
			if err := tx.Upsert(ctx, *itemRec); err != nil {
				return err
			}
			return tx.Upsert(ctx, *aliasRec)
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItem submits new contents for an existing item, gated on the
// revision the caller saw. A stale revision surfaces as
// domain.ErrConflict and leaves the cache untouched.
func (c *Coordinator) UpdateItem(
	ctx context.Context,
	account domain.Account,
	share domain.Share,
	item domain.Item,
	contents domain.ItemContents,
) (*domain.Item, error) {
	itemKey, err := c.remote.GetLatestItemKey(ctx, account, share.ID, item.ID)
	if err != nil {
		return nil, err
	}
	shareKeys, err := c.keys.AllKeys(ctx, account, share.ID)
	if err != nil {
		return nil, err
	}

	var updated *domain.Item
	err = c.codec.WithSession(ctx, func(s *crypto.Session) error {
		payload, err := c.codec.EncryptUpdate(ctx, s, *itemKey, shareKeys, contents)
		if err != nil {
			return err
		}
		rev, err := c.remote.UpdateItem(ctx, account, share.ID, item.ID, remote.UpdateItemRequest{
			Item:         toItemData(payload),
			LastRevision: item.Revision,
		})
		if err != nil {
			return err
		}
		var rec *cache.Record
		updated, rec, err = c.codec.OpenRevision(ctx, s, account, *rev, share, shareKeys)
		if err != nil {
			return err
		}
		return c.cache.Upsert(ctx, *rec)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddPackageAndURL links autofill metadata (an app package name and/or a
// website URL) to a cached login, going through the regular update pipeline.
// Metadata the login already carries is not re-submitted; when nothing is
// missing the item is returned unchanged without a remote call. Non-login
// items are returned unchanged.
func (c *Coordinator) AddPackageAndURL(
	ctx context.Context,
	account domain.Account,
	share domain.Share,
	itemID domain.ItemID,
	packageName string,
	url string,
) (*domain.Item, error) {
	rec, err := c.cache.GetByID(ctx, share.ID, itemID)
	if err != nil {
		return nil, err
	}

	var item *domain.Item
	err = c.withShareKeys(ctx, account, share.ID, func(keys []domain.ShareKey) error {
		return c.codec.WithSession(ctx, func(s *crypto.Session) error {
			var err error
			item, err = c.codec.OpenRecord(ctx, s, *rec, keys, true)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	login, ok := item.Contents.(domain.LoginContent)
	if !ok {
		c.log.Debug(ctx, "autofill metadata only applies to logins",
			"share", share.ID, "item", itemID, "type", item.Contents.GetType())
		return c.GetByID(ctx, account, share.ID, itemID)
	}

	changed := false
	if packageName != "" && !slices.Contains(login.Packages, packageName) {
		login.Packages = append(login.Packages, packageName)
		changed = true
	}
	if url != "" && !slices.Contains(login.URLs, url) {
		login.URLs = append(login.URLs, url)
		changed = true
	}
	if !changed {
		c.log.Debug(ctx, "login already carries the autofill metadata",
			"share", share.ID, "item", itemID)
		return c.GetByID(ctx, account, share.ID, itemID)
	}
	return c.UpdateItem(ctx, account, share, *item, login)
}

// GetByID returns the decrypted cached item, sensitive fields concealed.
func (c *Coordinator) GetByID(
	ctx context.Context,
	account domain.Account,
	shareID domain.ShareID,
	itemID domain.ItemID,
) (*domain.Item, error) {
	rec, err := c.cache.GetByID(ctx, shareID, itemID)
	if err != nil {
		return nil, err
	}
	var item *domain.Item
	err = c.withShareKeys(ctx, account, shareID, func(keys []domain.ShareKey) error {
		return c.codec.WithSession(ctx, func(s *crypto.Session) error {
			var err error
			item, err = c.codec.OpenRecord(ctx, s, *rec, keys, false)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RevealContents decrypts the item's contents with sensitive fields
// revealed. The plaintext lives only in the returned value; the cache keeps
// ciphertext.
func (c *Coordinator) RevealContents(
	ctx context.Context,
	account domain.Account,
	shareID domain.ShareID,
	itemID domain.ItemID,
) (domain.ItemContents, error) {
	rec, err := c.cache.GetByID(ctx, shareID, itemID)
	if err != nil {
		return nil, err
	}
	var contents domain.ItemContents
	err = c.withShareKeys(ctx, account, shareID, func(keys []domain.ShareKey) error {
		return c.codec.WithSession(ctx, func(s *crypto.Session) error {
			item, err := c.codec.OpenRecord(ctx, s, *rec, keys, true)
			if err != nil {
				return err
			}
			contents = item.Contents
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return contents, nil
}

// GetByAliasEmail returns the alias item owning the given email, or nil
// when no cached item matches.
func (c *Coordinator) GetByAliasEmail(
	ctx context.Context,
	account domain.Account,
	aliasEmail string,
) (*domain.Item, error) {
	rec, err := c.cache.GetByAliasEmail(ctx, account.UserID, aliasEmail)
	if err != nil || rec == nil {
		return nil, err
	}
	var item *domain.Item
	err = c.withShareKeys(ctx, account, rec.ShareID, func(keys []domain.ShareKey) error {
		return c.codec.WithSession(ctx, func(s *crypto.Session) error {
			var err error
			item, err = c.codec.OpenRecord(ctx, s, *rec, keys, false)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateLastUsedTime records an item use locally and notifies the server.
// The local write comes first so autofill ordering updates immediately.
func (c *Coordinator) UpdateLastUsedTime(
	ctx context.Context,
	account domain.Account,
	shareID domain.ShareID,
	itemID domain.ItemID,
	now int64,
) error {
	if err := c.cache.UpdateLastUsedTime(ctx, shareID, itemID, now); err != nil {
		return err
	}
	return c.remote.UpdateLastUsedTime(ctx, account, shareID, itemID, now)
}

// withShareKeys runs fn with the share's keys, refreshing them from the
// server and retrying once when fn reports a missing rotation (the local
// key cache being behind).
func (c *Coordinator) withShareKeys(
	ctx context.Context,
	account domain.Account,
	shareID domain.ShareID,
	fn func(keys []domain.ShareKey) error,
) error {
	keys, err := c.keys.AllKeys(ctx, account, shareID)
	if err != nil {
		return err
	}
	err = fn(keys)
	if !errors.Is(err, domain.ErrKeyNotFound) {
		return err
	}

	c.log.Info(ctx, "key rotation missing locally, refreshing share keys", "share", shareID)
	keys, refreshErr := c.keys.Refresh(ctx, account, shareID)
	if refreshErr != nil {
		return fmt.Errorf("failed to refresh share keys: %w", refreshErr)
	}
	return fn(keys)
}

func toItemData(p *crypto.EncryptedItemPayload) remote.ItemData {
	return remote.ItemData{
		KeyRotation:          p.RotationID,
		ContentFormatVersion: p.ContentFormatVersion,
		ItemKey:              p.ItemKey,
		Content:              p.Content,
		Title:                p.Title,
		Note:                 p.Note,
	}
}

// chunk splits records into batches of at most size elements.
func chunk(recs []cache.Record, size int) [][]cache.Record {
	var out [][]cache.Record
	for size > 0 && len(recs) > 0 {
		n := size
		if n > len(recs) {
			n = len(recs)
		}
		out = append(out, recs[:n])
		recs = recs[n:]
	}
	return out
}
