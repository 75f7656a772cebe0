package remote

import "github.com/nguyenkims/pass/internal/domain"

// ItemData is the encrypted item payload sent on create/update/migrate.
type ItemData struct {
	KeyRotation          domain.RotationID `json:"key_rotation"`
	ContentFormatVersion int               `json:"content_format_version"`
	ItemKey              []byte            `json:"item_key"`
	Content              []byte            `json:"content"`
	Title                []byte            `json:"title"`
	Note                 []byte            `json:"note"`
}

type CreateItemRequest struct {
	Item ItemData `json:"item"`
}

type CreateAliasRequest struct {
	Prefix       string   `json:"prefix"`
	SignedSuffix string   `json:"signed_suffix"`
	MailboxIDs   []int64  `json:"mailbox_ids"`
	Item         ItemData `json:"item"`
}

type CreateItemAliasRequest struct {
	Alias CreateAliasRequest `json:"alias"`
	Item  ItemData           `json:"item"`
}

// CreateItemAliasResponse carries both sides of a paired login+alias
// creation.
type CreateItemAliasResponse struct {
	Item  domain.ItemRevision `json:"item"`
	Alias domain.ItemRevision `json:"alias"`
}

type UpdateItemRequest struct {
	Item ItemData `json:"item"`
	// LastRevision is the revision the client last saw; the server rejects
	// the update when it is stale.
	LastRevision int64 `json:"last_revision"`
}

// ItemRef names one item revision in a bulk trash/untrash/delete request.
type ItemRef struct {
	ItemID   domain.ItemID `json:"item_id"`
	Revision int64         `json:"revision"`
}

type TrashItemsRequest struct {
	Items []ItemRef `json:"items"`
}

// TrashedItem is the server's post-mutation view of one item.
type TrashedItem struct {
	ItemID   domain.ItemID    `json:"item_id"`
	Revision int64            `json:"revision"`
	State    domain.ItemState `json:"state"`
}

type TrashItemsResponse struct {
	Items []TrashedItem `json:"items"`
}

type MigrateItemRequest struct {
	ShareID domain.ShareID `json:"share_id"`
	Item    ItemData       `json:"item"`
}

type MigrateItemsBody struct {
	ItemID domain.ItemID `json:"item_id"`
	Item   ItemData      `json:"item"`
}

type MigrateItemsRequest struct {
	ShareID domain.ShareID     `json:"share_id"`
	Items   []MigrateItemsBody `json:"items"`
}

// EventList is one batch of the share's change log.
type EventList struct {
	UpdatedItems   []domain.ItemRevision `json:"updated_items"`
	DeletedItemIDs []domain.ItemID       `json:"deleted_item_ids"`
	LatestEventID  domain.EventID        `json:"latest_event_id"`
	EventsPending  bool                  `json:"events_pending"`
}

type itemsResponse struct {
	Items []domain.ItemRevision `json:"items"`
}

type itemResponse struct {
	Item domain.ItemRevision `json:"item"`
}

type shareKeysResponse struct {
	Keys []shareKeyDTO `json:"keys"`
}

type shareKeyDTO struct {
	RotationID domain.RotationID `json:"key_rotation"`
	Rotation   int64             `json:"rotation"`
	Key        []byte            `json:"key"`
}

type itemKeyResponse struct {
	KeyRotation domain.RotationID `json:"key_rotation"`
	Key         []byte            `json:"key"`
}

type latestEventResponse struct {
	EventID domain.EventID `json:"event_id"`
}

type lastUseRequest struct {
	LastUseTime int64 `json:"last_use_time"`
}

type errorResponse struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}
