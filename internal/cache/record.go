// Package cache is the transactional local store of encrypted item records.
// It is the engine's source of truth between syncs: every row mirrors a
// server-accepted revision (with the single documented exception of the
// optimistic untrash path, which is compensated on failure).
package cache

import "github.com/nguyenkims/pass/internal/domain"

// Record is one cached item row. Content, Title and Note are ciphertext
// sealed under the item key; plaintext never reaches the cache.
type Record struct {
	UserID               domain.UserID
	AddressID            domain.AddressID
	ShareID              domain.ShareID
	ItemID               domain.ItemID
	Revision             int64
	ContentFormatVersion int
	Type                 domain.ItemType
	State                domain.ItemState
	RotationID           domain.RotationID
	ItemKey              []byte
	Content              []byte
	Title                []byte
	Note                 []byte
	AliasEmail           string
	HasTotp              bool
	CreateTime           int64
	ModifyTime           int64
	LastUsedTime         int64
}

// Filter restricts a cache query.
type Filter struct {
	Selection domain.ShareSelection
	// State filters by lifecycle state when non-nil.
	State *domain.ItemState
	// Types filters by item kind.
	Types domain.ItemTypeFilter
}
