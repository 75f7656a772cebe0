package domain

// ItemState is the lifecycle state of an item.
type ItemState int

const (
	ItemStateActive  ItemState = 1
	ItemStateTrashed ItemState = 2
)

// Item is the decrypted, domain-level view of a cached item. Sensitive
// fields inside Contents stay concealed until explicitly revealed.
type Item struct {
	ID                   ItemID
	ShareID              ShareID
	Revision             int64
	ContentFormatVersion int
	State                ItemState
	Title                string
	Note                 string
	Contents             ItemContents
	RotationID           RotationID
	AliasEmail           string
	HasTotp              bool
	CreateTime           int64
	ModifyTime           int64
	LastUsedTime         int64
}

// ItemRevision is the server's authoritative representation of one item
// revision: all content fields are ciphertext sealed under the item key of
// the referenced rotation.
type ItemRevision struct {
	ItemID               ItemID     `json:"item_id"`
	Revision             int64      `json:"revision"`
	ContentFormatVersion int        `json:"content_format_version"`
	RotationID           RotationID `json:"key_rotation"`
	ItemKey              []byte     `json:"item_key"`
	Content              []byte     `json:"content"`
	Title                []byte     `json:"title"`
	Note                 []byte     `json:"note"`
	State                ItemState  `json:"state"`
	AliasEmail           string     `json:"alias_email,omitempty"`
	CreateTime           int64      `json:"create_time"`
	ModifyTime           int64      `json:"modify_time"`
	LastUsedTime         int64      `json:"last_use_time,omitempty"`
}

// ItemTypeFilter restricts an observation query to one item kind.
type ItemTypeFilter int

const (
	FilterAll ItemTypeFilter = iota
	FilterLogins
	FilterAliases
	FilterNotes
	FilterCreditCards
)

// Type returns the item type the filter selects, valid when the filter is
// not FilterAll.
func (f ItemTypeFilter) Type() ItemType {
	switch f {
	case FilterLogins:
		return ItemTypeLogin
	case FilterAliases:
		return ItemTypeAlias
	case FilterNotes:
		return ItemTypeNote
	case FilterCreditCards:
		return ItemTypeCreditCard
	default:
		return ItemTypeUnknown
	}
}

// ItemCountSummary is the per-type number of cached items matching an
// observation query.
type ItemCountSummary struct {
	Logins      int64
	Notes       int64
	Aliases     int64
	CreditCards int64
}

// Total sums the counted types.
func (s ItemCountSummary) Total() int64 {
	return s.Logins + s.Notes + s.Aliases + s.CreditCards
}

// ShareItemCount is the number of items cached for one share, split by
// lifecycle state.
type ShareItemCount struct {
	Active  int64
	Trashed int64
}

// ShareSelection scopes an observation query to a single share or to all of
// the user's shares. The zero value selects all shares.
type ShareSelection struct {
	shareID ShareID
	one     bool
}

// SelectShare scopes a query to one share.
func SelectShare(id ShareID) ShareSelection { return ShareSelection{shareID: id, one: true} }

// SelectAllShares scopes a query to every share of the user.
func SelectAllShares() ShareSelection { return ShareSelection{} }

// Share returns the selected share id and false when all shares are selected.
func (s ShareSelection) Share() (ShareID, bool) { return s.shareID, s.one }

// NewAlias describes an alias to be created: the chosen prefix, the signed
// suffix handed out by the server, and the mailboxes it forwards to.
type NewAlias struct {
	Title        string
	Note         string
	Prefix       string
	SignedSuffix string
	MailboxIDs   []int64
}
