package sync

import (
	"context"
	"crypto/rand"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyenkims/pass/internal/cache"
	"github.com/nguyenkims/pass/internal/crypto"
	"github.com/nguyenkims/pass/internal/domain"
	"github.com/nguyenkims/pass/internal/keyring"
	"github.com/nguyenkims/pass/internal/remote"
)

var (
	testAccount = domain.Account{UserID: "user-1", AddressID: "addr-1"}
	testShare   = domain.Share{ID: "share-1", Name: "Personal", IsPrimary: true}
)

// fakeRemote is an in-memory stand-in for the backend. It echoes submitted
// ciphertext back as authoritative revisions and lets tests inject failures
// per operation.
type fakeRemote struct {
	mu       sync.Mutex
	nextItem int
	itemKeys map[domain.ItemID]domain.ItemKey

	itemsByShare map[domain.ShareID][]domain.ItemRevision

	updateCalls  int
	trashCalls   int
	untrashCalls int
	deleteCalls  int
	lastUse      map[domain.ItemID]int64

	updateErr  error
	trashErr   error
	untrashErr error
	deleteErr  error
	migrateErr error

	// deleteFailFor fails any delete batch containing one of these ids.
	deleteFailFor map[domain.ItemID]bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		itemKeys:      make(map[domain.ItemID]domain.ItemKey),
		itemsByShare:  make(map[domain.ShareID][]domain.ItemRevision),
		lastUse:       make(map[domain.ItemID]int64),
		deleteFailFor: make(map[domain.ItemID]bool),
	}
}

func revisionFromData(d remote.ItemData, id domain.ItemID, revision int64, state domain.ItemState) domain.ItemRevision {
	return domain.ItemRevision{
		ItemID:               id,
		Revision:             revision,
		ContentFormatVersion: d.ContentFormatVersion,
		RotationID:           d.KeyRotation,
		ItemKey:              d.ItemKey,
		Content:              d.Content,
		Title:                d.Title,
		Note:                 d.Note,
		State:                state,
		CreateTime:           100,
		ModifyTime:           100,
	}
}

func (f *fakeRemote) create(d remote.ItemData) domain.ItemRevision {
	f.nextItem++
	id := domain.ItemID(fmt.Sprintf("item-%d", f.nextItem))
	f.itemKeys[id] = domain.ItemKey{RotationID: d.KeyRotation, WrappedKey: d.ItemKey}
	return revisionFromData(d, id, 1, domain.ItemStateActive)
}

func (f *fakeRemote) GetItems(_ context.Context, _ domain.Account, shareID domain.ShareID) ([]domain.ItemRevision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.itemsByShare[shareID], nil
}

func (f *fakeRemote) CreateItem(_ context.Context, _ domain.Account, _ domain.ShareID, req remote.CreateItemRequest) (*domain.ItemRevision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rev := f.create(req.Item)
	return &rev, nil
}

func (f *fakeRemote) CreateAlias(_ context.Context, _ domain.Account, _ domain.ShareID, req remote.CreateAliasRequest) (*domain.ItemRevision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rev := f.create(req.Item)
	rev.AliasEmail = req.Prefix + "@alias.example"
	return &rev, nil
}

func (f *fakeRemote) CreateItemAndAlias(_ context.Context, _ domain.Account, _ domain.ShareID, req remote.CreateItemAliasRequest) (*remote.CreateItemAliasResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.create(req.Item)
	alias := f.create(req.Alias.Item)
	alias.AliasEmail = req.Alias.Prefix + "@alias.example"
	return &remote.CreateItemAliasResponse{Item: item, Alias: alias}, nil
}

func (f *fakeRemote) UpdateItem(_ context.Context, _ domain.Account, _ domain.ShareID, itemID domain.ItemID, req remote.UpdateItemRequest) (*domain.ItemRevision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updateCalls++
	rev := revisionFromData(req.Item, itemID, req.LastRevision+1, domain.ItemStateActive)
	return &rev, nil
}

func (f *fakeRemote) SendToTrash(_ context.Context, _ domain.Account, _ domain.ShareID, req remote.TrashItemsRequest) (*remote.TrashItemsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trashErr != nil {
		return nil, f.trashErr
	}
	f.trashCalls++
	return trashResponse(req, domain.ItemStateTrashed), nil
}

func (f *fakeRemote) Untrash(_ context.Context, _ domain.Account, _ domain.ShareID, req remote.TrashItemsRequest) (*remote.TrashItemsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.untrashErr != nil {
		return nil, f.untrashErr
	}
	f.untrashCalls++
	return trashResponse(req, domain.ItemStateActive), nil
}

func (f *fakeRemote) Delete(_ context.Context, _ domain.Account, _ domain.ShareID, req remote.TrashItemsRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for _, ref := range req.Items {
		if f.deleteFailFor[ref.ItemID] {
			return &domain.RemoteError{Status: 500, Message: "delete rejected"}
		}
	}
	f.deleteCalls++
	return nil
}

func (f *fakeRemote) MigrateItem(_ context.Context, _ domain.Account, _ domain.ShareID, itemID domain.ItemID, req remote.MigrateItemRequest) (*domain.ItemRevision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.migrateErr != nil {
		return nil, f.migrateErr
	}
	rev := revisionFromData(req.Item, itemID, 1, domain.ItemStateActive)
	return &rev, nil
}

func (f *fakeRemote) MigrateItems(_ context.Context, _ domain.Account, _ domain.ShareID, req remote.MigrateItemsRequest) ([]domain.ItemRevision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.migrateErr != nil {
		return nil, f.migrateErr
	}
	revs := make([]domain.ItemRevision, 0, len(req.Items))
	for _, body := range req.Items {
		revs = append(revs, revisionFromData(body.Item, body.ItemID, 1, domain.ItemStateActive))
	}
	return revs, nil
}

func (f *fakeRemote) GetLatestItemKey(_ context.Context, _ domain.Account, _ domain.ShareID, itemID domain.ItemID) (*domain.ItemKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.itemKeys[itemID]
	if !ok {
		return nil, &domain.RemoteError{Status: 404, Message: "unknown item"}
	}
	return &key, nil
}

func (f *fakeRemote) UpdateLastUsedTime(_ context.Context, _ domain.Account, _ domain.ShareID, itemID domain.ItemID, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUse[itemID] = ts
	return nil
}

func trashResponse(req remote.TrashItemsRequest, state domain.ItemState) *remote.TrashItemsResponse {
	resp := &remote.TrashItemsResponse{}
	for _, ref := range req.Items {
		resp.Items = append(resp.Items, remote.TrashedItem{
			ItemID:   ref.ItemID,
			Revision: ref.Revision + 1,
			State:    state,
		})
	}
	return resp
}

// keySource serves share keys to the keyring from a plain map.
type keySource struct {
	keys map[domain.ShareID][]domain.ShareKey
}

func (s *keySource) GetShareKeys(_ context.Context, _ domain.Account, shareID domain.ShareID) ([]domain.ShareKey, error) {
	return s.keys[shareID], nil
}

type testEnv struct {
	remote *fakeRemote
	cache  *cache.Cache
	codec  *crypto.Codec
	keys   *keyring.Store
	source *keySource
	coord  *Coordinator
	ks     *crypto.LocalKeyStore
}

func setupEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	ks := crypto.NewLocalKeyStore([]byte("pw"), []byte("test-salt-01"))
	t.Cleanup(ks.Close)

	c, err := cache.Open(context.Background(), filepath.Join(t.TempDir(), "cache.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	source := &keySource{keys: make(map[domain.ShareID][]domain.ShareKey)}
	rem := newFakeRemote()
	codec := crypto.NewCodec(ks)
	keys := keyring.NewStore(source, nil)

	env := &testEnv{
		remote: rem,
		cache:  c,
		codec:  codec,
		keys:   keys,
		source: source,
		ks:     ks,
		coord:  NewCoordinator(rem, c, keys, codec, opts...),
	}
	env.addShareKey(t, testShare.ID, "rot-1", 1)
	return env
}

func (e *testEnv) addShareKey(t *testing.T, shareID domain.ShareID, rotationID domain.RotationID, rotation int64) {
	t.Helper()
	vaultKey := make([]byte, 32)
	_, err := rand.Read(vaultKey)
	require.NoError(t, err)
	wrapped, err := e.ks.Encrypt(context.Background(), vaultKey)
	require.NoError(t, err)
	e.source.keys[shareID] = append(e.source.keys[shareID], domain.ShareKey{
		ShareID:    shareID,
		RotationID: rotationID,
		Rotation:   rotation,
		WrappedKey: wrapped,
	})
}

func bankLogin() domain.LoginContent {
	return domain.LoginContent{
		Title:    "Bank",
		Note:     "main account",
		Username: "alice",
		Password: domain.Revealed("hunter2"),
		URLs:     []string{"https://bank.example"},
	}
}

func TestCoordinator_CreateItem(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	assert.Equal(t, int64(1), item.Revision)
	assert.Equal(t, "Bank", item.Title)
	assert.Equal(t, testShare.ID, item.ShareID)
	login := item.Contents.(domain.LoginContent)
	assert.Equal(t, "alice", login.Username)
	assert.Equal(t, domain.HiddenConcealed, login.Password.State)

	rec, err := env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStateActive, rec.State)
	assert.NotContains(t, string(rec.Content), "hunter2", "cache keeps ciphertext only")

	contents, err := env.coord.RevealContents(ctx, testAccount, testShare.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", contents.(domain.LoginContent).Password.Value)
}

func TestCoordinator_CreateAlias(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateAlias(ctx, testAccount, testShare, domain.NewAlias{
		Title:        "Shopping",
		Prefix:       "shop",
		SignedSuffix: "sig.xyz",
		MailboxIDs:   []int64{1},
	})
	require.NoError(t, err)
	assert.Equal(t, "shop@alias.example", item.AliasEmail)

	found, err := env.coord.GetByAliasEmail(ctx, testAccount, "shop@alias.example")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, item.ID, found.ID)

	missing, err := env.coord.GetByAliasEmail(ctx, testAccount, "nobody@alias.example")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCoordinator_CreateItemAndAlias(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItemAndAlias(ctx, testAccount, testShare, bankLogin(), domain.NewAlias{
		Title:  "Bank alias",
		Prefix: "bank",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bank", item.Title)

	// both rows landed
	recs, err := env.cache.List(ctx, testAccount.UserID, cache.Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestCoordinator_UpdateItem(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	updatedContents := bankLogin()
	updatedContents.Password = domain.Revealed("correct horse")
	updated, err := env.coord.UpdateItem(ctx, testAccount, testShare, *item, updatedContents)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision, "revision advances")

	contents, err := env.coord.RevealContents(ctx, testAccount, testShare.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "correct horse", contents.(domain.LoginContent).Password.Value)
}

func TestCoordinator_UpdateItemConflictLeavesCacheUntouched(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)
	before, err := env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.NoError(t, err)

	env.remote.updateErr = fmt.Errorf("%w: stale revision", domain.ErrConflict)
	_, err = env.coord.UpdateItem(ctx, testAccount, testShare, *item, bankLogin())
	require.ErrorIs(t, err, domain.ErrConflict)

	after, err := env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCoordinator_AddPackageAndURL(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	updated, err := env.coord.AddPackageAndURL(ctx, testAccount, testShare, item.ID,
		"com.bank.app", "https://m.bank.example")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision)
	assert.Equal(t, 1, env.remote.updateCalls)

	contents, err := env.coord.RevealContents(ctx, testAccount, testShare.ID, item.ID)
	require.NoError(t, err)
	login := contents.(domain.LoginContent)
	assert.Contains(t, login.Packages, "com.bank.app")
	assert.ElementsMatch(t, []string{"https://bank.example", "https://m.bank.example"}, login.URLs)
	assert.Equal(t, "hunter2", login.Password.Value, "existing fields survive the metadata update")
}

func TestCoordinator_AddPackageAndURLAlreadyPresent(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	// the fixture already carries this URL and no package is given
	got, err := env.coord.AddPackageAndURL(ctx, testAccount, testShare, item.ID,
		"", "https://bank.example")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision, "nothing to add, no update submitted")
	assert.Equal(t, 0, env.remote.updateCalls)
}

func TestCoordinator_AddPackageAndURLIgnoresNonLogins(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, domain.NoteContent{Title: "Wifi"})
	require.NoError(t, err)

	got, err := env.coord.AddPackageAndURL(ctx, testAccount, testShare, item.ID,
		"com.bank.app", "https://bank.example")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
	assert.Equal(t, 0, env.remote.updateCalls)
}

func TestCoordinator_TrashItem(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	require.NoError(t, env.coord.TrashItem(ctx, testAccount, testShare.ID, item.ID))
	rec, err := env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStateTrashed, rec.State)
	assert.Equal(t, int64(2), rec.Revision, "server revision is adopted")
	assert.Equal(t, 1, env.remote.trashCalls)

	// trashing again fails locally, before any network call
	err = env.coord.TrashItem(ctx, testAccount, testShare.ID, item.ID)
	require.ErrorIs(t, err, domain.ErrInvalidItemState)
	assert.Equal(t, 1, env.remote.trashCalls)
}

func TestCoordinator_UntrashItem(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)
	require.NoError(t, env.coord.TrashItem(ctx, testAccount, testShare.ID, item.ID))

	require.NoError(t, env.coord.UntrashItem(ctx, testAccount, testShare.ID, item.ID))
	rec, err := env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStateActive, rec.State)
	assert.Equal(t, int64(3), rec.Revision)

	// already active: no-op, no extra remote call
	require.NoError(t, env.coord.UntrashItem(ctx, testAccount, testShare.ID, item.ID))
	assert.Equal(t, 1, env.remote.untrashCalls)
}

func TestCoordinator_UntrashRollsBackOnRemoteFailure(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)
	require.NoError(t, env.coord.TrashItem(ctx, testAccount, testShare.ID, item.ID))
	snapshot, err := env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.NoError(t, err)

	env.remote.untrashErr = &domain.RemoteError{Status: 500, Message: "boom"}
	err = env.coord.UntrashItem(ctx, testAccount, testShare.ID, item.ID)
	require.Error(t, err)

	restored, err := env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot, restored, "failed untrash must restore the exact previous row")
}

func TestCoordinator_DeleteItem(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	// active items are not deletable: successful no-op, no network
	require.NoError(t, env.coord.DeleteItem(ctx, testAccount, testShare.ID, item.ID))
	assert.Equal(t, 0, env.remote.deleteCalls)
	_, err = env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.NoError(t, err)

	require.NoError(t, env.coord.TrashItem(ctx, testAccount, testShare.ID, item.ID))
	require.NoError(t, env.coord.DeleteItem(ctx, testAccount, testShare.ID, item.ID))
	assert.Equal(t, 1, env.remote.deleteCalls)
	_, err = env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestCoordinator_ClearTrashChunks(t *testing.T) {
	env := setupEnv(t, WithBatchSize(2))
	ctx := context.Background()

	var ids []domain.ItemID
	for i := 0; i < 5; i++ {
		item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
		require.NoError(t, err)
		require.NoError(t, env.coord.TrashItem(ctx, testAccount, testShare.ID, item.ID))
		ids = append(ids, item.ID)
	}

	require.NoError(t, env.coord.ClearTrash(ctx, testAccount))
	assert.Equal(t, 3, env.remote.deleteCalls, "5 items in batches of 2")
	for _, id := range ids {
		_, err := env.cache.GetByID(ctx, testShare.ID, id)
		require.ErrorIs(t, err, domain.ErrItemNotFound)
	}
}

func TestCoordinator_ClearTrashPartialFailure(t *testing.T) {
	env := setupEnv(t, WithBatchSize(1))
	ctx := context.Background()

	var ids []domain.ItemID
	for i := 0; i < 3; i++ {
		item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
		require.NoError(t, err)
		require.NoError(t, env.coord.TrashItem(ctx, testAccount, testShare.ID, item.ID))
		ids = append(ids, item.ID)
	}
	env.remote.deleteFailFor[ids[1]] = true

	err := env.coord.ClearTrash(ctx, testAccount)
	require.Error(t, err, "one rejected batch fails the operation")

	// the rejected item survives, the accepted ones are gone
	_, err = env.cache.GetByID(ctx, testShare.ID, ids[1])
	require.NoError(t, err)
	for _, id := range []domain.ItemID{ids[0], ids[2]} {
		_, err := env.cache.GetByID(ctx, testShare.ID, id)
		require.ErrorIs(t, err, domain.ErrItemNotFound)
	}
}

func TestCoordinator_RestoreItems(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	var ids []domain.ItemID
	for i := 0; i < 3; i++ {
		item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
		require.NoError(t, err)
		require.NoError(t, env.coord.TrashItem(ctx, testAccount, testShare.ID, item.ID))
		ids = append(ids, item.ID)
	}

	require.NoError(t, env.coord.RestoreItems(ctx, testAccount))
	for _, id := range ids {
		rec, err := env.cache.GetByID(ctx, testShare.ID, id)
		require.NoError(t, err)
		assert.Equal(t, domain.ItemStateActive, rec.State)
	}
}

func TestCoordinator_MigrateItem(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	dest := domain.Share{ID: "share-2", Name: "Work"}
	env.addShareKey(t, dest.ID, "rot-dst", 1)

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	migrated, err := env.coord.MigrateItem(ctx, testAccount, testShare, dest, item.ID)
	require.NoError(t, err)
	assert.Equal(t, dest.ID, migrated.ShareID)
	assert.Equal(t, domain.RotationID("rot-dst"), migrated.RotationID)

	// the swap is atomic: present under the destination, gone from the source
	_, err = env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.ErrorIs(t, err, domain.ErrItemNotFound)
	rec, err := env.cache.GetByID(ctx, dest.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RotationID("rot-dst"), rec.RotationID)

	// still decryptable, now under the destination key
	contents, err := env.coord.RevealContents(ctx, testAccount, dest.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", contents.(domain.LoginContent).Password.Value)
}

func TestCoordinator_MigrateItemRemoteFailureKeepsSource(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	dest := domain.Share{ID: "share-2"}
	env.addShareKey(t, dest.ID, "rot-dst", 1)

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	env.remote.migrateErr = &domain.RemoteError{Status: 500, Message: "boom"}
	_, err = env.coord.MigrateItem(ctx, testAccount, testShare, dest, item.ID)
	require.Error(t, err)

	_, err = env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.NoError(t, err, "source row untouched on failure")
	_, err = env.cache.GetByID(ctx, dest.ID, item.ID)
	require.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestCoordinator_MigrateItemsMovesActiveOnly(t *testing.T) {
	env := setupEnv(t, WithBatchSize(2))
	ctx := context.Background()
	dest := domain.Share{ID: "share-2"}
	env.addShareKey(t, dest.ID, "rot-dst", 1)

	var active []domain.ItemID
	for i := 0; i < 3; i++ {
		item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
		require.NoError(t, err)
		active = append(active, item.ID)
	}
	trashed, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)
	require.NoError(t, env.coord.TrashItem(ctx, testAccount, testShare.ID, trashed.ID))

	require.NoError(t, env.coord.MigrateItems(ctx, testAccount, testShare, dest))

	for _, id := range active {
		rec, err := env.cache.GetByID(ctx, dest.ID, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RotationID("rot-dst"), rec.RotationID)
	}
	// the trashed item stays behind
	rec, err := env.cache.GetByID(ctx, testShare.ID, trashed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStateTrashed, rec.State)
}

func TestCoordinator_RefreshItemsReplacesShare(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	// a row the server no longer knows about
	stale, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	// the server's truth: one different item
	shareKey, err := env.keys.LatestKey(ctx, testAccount, testShare.ID)
	require.NoError(t, err)
	err = env.codec.WithSession(ctx, func(s *crypto.Session) error {
		payload, err := env.codec.EncryptForCreate(ctx, s, shareKey, domain.NoteContent{Title: "Wifi", Note: "1234"})
		if err != nil {
			return err
		}
		env.remote.itemsByShare[testShare.ID] = []domain.ItemRevision{
			revisionFromData(toItemData(payload), "item-srv", 7, domain.ItemStateActive),
		}
		return nil
	})
	require.NoError(t, err)

	items, err := env.coord.RefreshItems(ctx, testAccount, testShare)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Wifi", items[0].Title)

	_, err = env.cache.GetByID(ctx, testShare.ID, stale.ID)
	require.ErrorIs(t, err, domain.ErrItemNotFound, "refresh drops rows the server no longer has")
	rec, err := env.cache.GetByID(ctx, testShare.ID, "item-srv")
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.Revision)
}

func TestCoordinator_ApplyEvents(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	victim, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	shareKey, err := env.keys.LatestKey(ctx, testAccount, testShare.ID)
	require.NoError(t, err)
	var updated domain.ItemRevision
	err = env.codec.WithSession(ctx, func(s *crypto.Session) error {
		payload, err := env.codec.EncryptForCreate(ctx, s, shareKey, domain.NoteContent{Title: "New"})
		if err != nil {
			return err
		}
		updated = revisionFromData(toItemData(payload), "item-evt", 1, domain.ItemStateActive)
		return nil
	})
	require.NoError(t, err)

	err = env.coord.ApplyEvents(ctx, testAccount, testShare, &remote.EventList{
		UpdatedItems:   []domain.ItemRevision{updated},
		DeletedItemIDs: []domain.ItemID{victim.ID},
		LatestEventID:  "evt-2",
	})
	require.NoError(t, err)

	_, err = env.cache.GetByID(ctx, testShare.ID, victim.ID)
	require.ErrorIs(t, err, domain.ErrItemNotFound)
	rec, err := env.cache.GetByID(ctx, testShare.ID, "item-evt")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemTypeNote, rec.Type)
}

func TestCoordinator_KeyRefreshRetry(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	_, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	// a second rotation appears server-side only
	env.addShareKey(t, testShare.ID, "rot-2", 2)
	shareKey := env.source.keys[testShare.ID][1]

	var rev domain.ItemRevision
	err = env.codec.WithSession(ctx, func(s *crypto.Session) error {
		payload, err := env.codec.EncryptForCreate(ctx, s, shareKey, domain.NoteContent{Title: "Rotated"})
		if err != nil {
			return err
		}
		rev = revisionFromData(toItemData(payload), "item-rot", 1, domain.ItemStateActive)
		return nil
	})
	require.NoError(t, err)

	// applying an event encrypted under the unknown rotation forces a key
	// refresh and a single retry
	err = env.coord.ApplyEvents(ctx, testAccount, testShare, &remote.EventList{
		UpdatedItems: []domain.ItemRevision{rev},
	})
	require.NoError(t, err)

	got, err := env.coord.GetByID(ctx, testAccount, testShare.ID, "item-rot")
	require.NoError(t, err)
	assert.Equal(t, "Rotated", got.Title)
}

func TestCoordinator_UpdateLastUsedTime(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	require.NoError(t, env.coord.UpdateLastUsedTime(ctx, testAccount, testShare.ID, item.ID, 12345))

	rec, err := env.cache.GetByID(ctx, testShare.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), rec.LastUsedTime)
	assert.Equal(t, int64(12345), env.remote.lastUse[item.ID])
}

func TestCoordinator_ObserveItems(t *testing.T) {
	env := setupEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	item, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)

	ch := env.coord.ObserveItems(ctx, testAccount, cache.Filter{Types: domain.FilterLogins})
	items := <-ch
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)
	login := items[0].Contents.(domain.LoginContent)
	assert.Equal(t, domain.HiddenConcealed, login.Password.State, "observation is always concealed")
}

func TestCoordinator_ObserveItemCountSummary(t *testing.T) {
	env := setupEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := env.coord.CreateItem(ctx, testAccount, testShare, bankLogin())
	require.NoError(t, err)
	_, err = env.coord.CreateItem(ctx, testAccount, testShare, domain.NoteContent{Title: "Wifi"})
	require.NoError(t, err)

	ch := env.coord.ObserveItemCountSummary(ctx, testAccount, cache.Filter{})
	summary := <-ch
	assert.Equal(t, domain.ItemCountSummary{Logins: 1, Notes: 1}, summary)
	assert.Equal(t, int64(2), summary.Total())
}

func TestCoordinator_ChunkHelper(t *testing.T) {
	recs := make([]cache.Record, 5)
	chunks := chunk(recs, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[2], 1)
	assert.Empty(t, chunk(nil, 2))
}
