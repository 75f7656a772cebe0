package crypto

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nguyenkims/pass/internal/cache"
	"github.com/nguyenkims/pass/internal/domain"
)

// EncryptedItemPayload is the wire-ready form of an item: a fresh item key
// wrapped under a share key, and the content fields sealed under that item
// key.
type EncryptedItemPayload struct {
	RotationID           domain.RotationID
	ContentFormatVersion int
	ItemKey              []byte
	Content              []byte
	Title                []byte
	Note                 []byte
}

// Codec turns typed item contents into encrypted payloads and back. It is
// stateless; all key material lives in per-operation Sessions.
type Codec struct {
	ks KeyStore
}

func NewCodec(ks KeyStore) *Codec {
	return &Codec{ks: ks}
}

// EncryptForCreate serializes contents to the canonical wire format and
// encrypts it under a fresh item key wrapped by shareKey. Sensitive fields
// must be revealed in contents; plaintext never leaves this call.
func (c *Codec) EncryptForCreate(
	ctx context.Context,
	s *Session,
	shareKey domain.ShareKey,
	contents domain.ItemContents,
) (*EncryptedItemPayload, error) {
	payload, err := domain.WrapContents(contents)
	if err != nil {
		return nil, &domain.CryptoError{Op: "serialize contents", Err: err}
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.CryptoError{Op: "serialize payload", Err: err}
	}
	defer zeroize(plaintext)

	return c.sealPayload(ctx, s, shareKey, plaintext, contents.GetTitle(), contents.GetNote())
}

// OpenRevision decrypts a server revision using the share key matching its
// rotation and produces both the domain item (sensitive fields concealed)
// and the cache record to persist. The record keeps ciphertext, not
// plaintext.
func (c *Codec) OpenRevision(
	ctx context.Context,
	s *Session,
	account domain.Account,
	rev domain.ItemRevision,
	share domain.Share,
	keys []domain.ShareKey,
) (*domain.Item, *cache.Record, error) {
	itemKey, err := c.unwrapItemKey(ctx, s, rev.RotationID, rev.ItemKey, keys)
	if err != nil {
		return nil, nil, err
	}
	defer zeroize(itemKey)

	contents, title, note, err := openContents(itemKey, rev.Content, rev.Title, rev.Note)
	if err != nil {
		return nil, nil, err
	}

	hasTotp := false
	if login, ok := contents.(domain.LoginContent); ok {
		hasTotp = login.HasTotp()
	}

	item := &domain.Item{
		ID:                   rev.ItemID,
		ShareID:              share.ID,
		Revision:             rev.Revision,
		ContentFormatVersion: rev.ContentFormatVersion,
		State:                rev.State,
		Title:                title,
		Note:                 note,
		Contents:             contents.Concealed(),
		RotationID:           rev.RotationID,
		AliasEmail:           rev.AliasEmail,
		HasTotp:              hasTotp,
		CreateTime:           rev.CreateTime,
		ModifyTime:           rev.ModifyTime,
		LastUsedTime:         rev.LastUsedTime,
	}
	rec := &cache.Record{
		UserID:               account.UserID,
		AddressID:            account.AddressID,
		ShareID:              share.ID,
		ItemID:               rev.ItemID,
		Revision:             rev.Revision,
		ContentFormatVersion: rev.ContentFormatVersion,
		Type:                 contents.GetType(),
		State:                rev.State,
		RotationID:           rev.RotationID,
		ItemKey:              rev.ItemKey,
		Content:              rev.Content,
		Title:                rev.Title,
		Note:                 rev.Note,
		AliasEmail:           rev.AliasEmail,
		HasTotp:              hasTotp,
		CreateTime:           rev.CreateTime,
		ModifyTime:           rev.ModifyTime,
		LastUsedTime:         rev.LastUsedTime,
	}
	return item, rec, nil
}

// OpenRecord decrypts a cached record back into a domain item. Sensitive
// fields are revealed only when reveal is set; otherwise they come back
// concealed.
func (c *Codec) OpenRecord(
	ctx context.Context,
	s *Session,
	rec cache.Record,
	keys []domain.ShareKey,
	reveal bool,
) (*domain.Item, error) {
	itemKey, err := c.unwrapItemKey(ctx, s, rec.RotationID, rec.ItemKey, keys)
	if err != nil {
		return nil, err
	}
	defer zeroize(itemKey)

	contents, title, note, err := openContents(itemKey, rec.Content, rec.Title, rec.Note)
	if err != nil {
		return nil, err
	}
	if !reveal {
		contents = contents.Concealed()
	}

	return &domain.Item{
		ID:                   rec.ItemID,
		ShareID:              rec.ShareID,
		Revision:             rec.Revision,
		ContentFormatVersion: rec.ContentFormatVersion,
		State:                rec.State,
		Title:                title,
		Note:                 note,
		Contents:             contents,
		RotationID:           rec.RotationID,
		AliasEmail:           rec.AliasEmail,
		HasTotp:              rec.HasTotp,
		CreateTime:           rec.CreateTime,
		ModifyTime:           rec.ModifyTime,
		LastUsedTime:         rec.LastUsedTime,
	}, nil
}

// EncryptUpdate re-seals new contents under an item's existing key pair,
// producing the payload for an update request.
func (c *Codec) EncryptUpdate(
	ctx context.Context,
	s *Session,
	itemKey domain.ItemKey,
	shareKeys []domain.ShareKey,
	contents domain.ItemContents,
) (*EncryptedItemPayload, error) {
	key, err := c.unwrapItemKey(ctx, s, itemKey.RotationID, itemKey.WrappedKey, shareKeys)
	if err != nil {
		return nil, err
	}
	defer zeroize(key)

	payload, err := domain.WrapContents(contents)
	if err != nil {
		return nil, &domain.CryptoError{Op: "serialize contents", Err: err}
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.CryptoError{Op: "serialize payload", Err: err}
	}
	defer zeroize(plaintext)

	out, err := sealFields(key, plaintext, contents.GetTitle(), contents.GetNote())
	if err != nil {
		return nil, err
	}
	out.RotationID = itemKey.RotationID
	out.ItemKey = itemKey.WrappedKey
	return out, nil
}

// ReencryptForMigration decrypts an item's current ciphertext with its
// source-share key and re-encrypts it under the destination share's key,
// minting a fresh item key. The intermediate plaintext exists only inside
// this call's session scope.
func (c *Codec) ReencryptForMigration(
	ctx context.Context,
	s *Session,
	destKey domain.ShareKey,
	sourceKeys []domain.ShareKey,
	rec cache.Record,
) (*EncryptedItemPayload, error) {
	itemKey, err := c.unwrapItemKey(ctx, s, rec.RotationID, rec.ItemKey, sourceKeys)
	if err != nil {
		return nil, err
	}
	defer zeroize(itemKey)

	plaintext, err := open(itemKey, rec.Content)
	if err != nil {
		return nil, &domain.CryptoError{Op: "decrypt content", Err: err}
	}
	defer zeroize(plaintext)

	title, err := open(itemKey, rec.Title)
	if err != nil {
		return nil, &domain.CryptoError{Op: "decrypt title", Err: err}
	}
	note, err := open(itemKey, rec.Note)
	if err != nil {
		return nil, &domain.CryptoError{Op: "decrypt note", Err: err}
	}

	return c.sealPayload(ctx, s, destKey, plaintext, string(title), string(note))
}

// sealPayload mints a fresh item key, wraps it under shareKey and seals the
// three content fields under it.
func (c *Codec) sealPayload(
	ctx context.Context,
	s *Session,
	shareKey domain.ShareKey,
	plaintext []byte,
	title, note string,
) (*EncryptedItemPayload, error) {
	vaultKey, err := s.vaultKey(ctx, shareKey)
	if err != nil {
		return nil, err
	}
	itemKey, err := newKey()
	if err != nil {
		return nil, &domain.CryptoError{Op: "mint item key", Err: err}
	}
	defer zeroize(itemKey)

	wrapped, err := seal(vaultKey, itemKey)
	if err != nil {
		return nil, &domain.CryptoError{Op: "wrap item key", Err: err}
	}
	out, err := sealFields(itemKey, plaintext, title, note)
	if err != nil {
		return nil, err
	}
	out.RotationID = shareKey.RotationID
	out.ItemKey = wrapped
	return out, nil
}

func sealFields(itemKey, plaintext []byte, title, note string) (*EncryptedItemPayload, error) {
	content, err := seal(itemKey, plaintext)
	if err != nil {
		return nil, &domain.CryptoError{Op: "encrypt content", Err: err}
	}
	sealedTitle, err := seal(itemKey, []byte(title))
	if err != nil {
		return nil, &domain.CryptoError{Op: "encrypt title", Err: err}
	}
	sealedNote, err := seal(itemKey, []byte(note))
	if err != nil {
		return nil, &domain.CryptoError{Op: "encrypt note", Err: err}
	}
	return &EncryptedItemPayload{
		ContentFormatVersion: domain.ContentFormatVersion,
		Content:              content,
		Title:                sealedTitle,
		Note:                 sealedNote,
	}, nil
}

// unwrapItemKey resolves the share key for the given rotation and unwraps
// the item key under it. A missing rotation means the local key cache is
// behind.
func (c *Codec) unwrapItemKey(
	ctx context.Context,
	s *Session,
	rotation domain.RotationID,
	wrapped []byte,
	keys []domain.ShareKey,
) ([]byte, error) {
	var shareKey *domain.ShareKey
	for i := range keys {
		if keys[i].RotationID == rotation {
			shareKey = &keys[i]
			break
		}
	}
	if shareKey == nil {
		return nil, fmt.Errorf("%w: rotation=%s", domain.ErrKeyNotFound, rotation)
	}
	vaultKey, err := s.vaultKey(ctx, *shareKey)
	if err != nil {
		return nil, err
	}
	itemKey, err := open(vaultKey, wrapped)
	if err != nil {
		return nil, &domain.CryptoError{Op: "unwrap item key", Err: err}
	}
	return itemKey, nil
}

func openContents(itemKey, content, title, note []byte) (domain.ItemContents, string, string, error) {
	plaintext, err := open(itemKey, content)
	if err != nil {
		return nil, "", "", &domain.CryptoError{Op: "decrypt content", Err: err}
	}
	defer zeroize(plaintext)

	var payload domain.ItemPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, "", "", &domain.CryptoError{Op: "parse payload", Err: err}
	}
	contents, err := payload.Unwrap()
	if err != nil {
		return nil, "", "", &domain.CryptoError{Op: "parse contents", Err: err}
	}

	titleB, err := open(itemKey, title)
	if err != nil {
		return nil, "", "", &domain.CryptoError{Op: "decrypt title", Err: err}
	}
	noteB, err := open(itemKey, note)
	if err != nil {
		return nil, "", "", &domain.CryptoError{Op: "decrypt note", Err: err}
	}
	return contents, string(titleB), string(noteB), nil
}
