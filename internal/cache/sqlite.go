package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/nguyenkims/pass/internal/cache/migrations"
	"github.com/nguyenkims/pass/internal/dbx"
	"github.com/nguyenkims/pass/internal/domain"
	"github.com/nguyenkims/pass/internal/logging"
)

const itemColumns = `user_id, address_id, share_id, item_id, revision,
	content_format_version, item_type, state, key_rotation, item_key,
	content, title, note, alias_email, has_totp,
	create_time, modify_time, last_used_time`

// queries implements every cache statement over a DBTX, so the same code
// runs against the plain connection and inside a transaction.
type queries struct {
	db dbx.DBTX
}

// Cache is the SQLite-backed local item store.
type Cache struct {
	queries
	sqlDB *sql.DB
	hub   *hub
	log   logging.Logger
}

// Txn is a transactional view of the cache. All writes through a Txn commit
// atomically or not at all.
type Txn struct {
	queries
}

// Open opens (creating if needed) the cache database at path and applies
// pending schema migrations.
func Open(ctx context.Context, path string, log logging.Logger) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}
	// modernc sqlite is single-writer; serializing access avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return nil, fmt.Errorf("failed to run cache migrations: %w", err)
	}

	if log == nil {
		log = logging.Nop{}
	}
	return &Cache{
		queries: queries{db: db},
		sqlDB:   db,
		hub:     newHub(),
		log:     log,
	}, nil
}

// DB exposes the underlying connection for stores sharing the cache file
// (the event cursor store).
func (c *Cache) DB() *sql.DB { return c.sqlDB }

// Close closes the database.
func (c *Cache) Close() error { return c.sqlDB.Close() }

// WithTx runs fn inside a transaction. Observers are notified once, after a
// successful commit.
func (c *Cache) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Txn) error) error {
	err := dbx.WithTx(ctx, c.sqlDB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &Txn{queries{db: tx}})
	})
	if err != nil {
		return err
	}
	c.hub.notify()
	return nil
}

// Upsert inserts or replaces a record keyed by (share_id, item_id).
func (c *Cache) Upsert(ctx context.Context, rec Record) error {
	if err := c.queries.upsert(ctx, rec); err != nil {
		return err
	}
	c.hub.notify()
	return nil
}

// UpsertBatch upserts all records. Callers needing atomicity wrap it in
// WithTx via Txn.UpsertBatch.
func (c *Cache) UpsertBatch(ctx context.Context, recs []Record) error {
	if err := c.queries.upsertBatch(ctx, recs); err != nil {
		return err
	}
	c.hub.notify()
	return nil
}

// Delete removes a record.
func (c *Cache) Delete(ctx context.Context, shareID domain.ShareID, itemID domain.ItemID) error {
	if err := c.queries.delete(ctx, shareID, itemID); err != nil {
		return err
	}
	c.hub.notify()
	return nil
}

// SetState transitions a record's lifecycle state.
func (c *Cache) SetState(ctx context.Context, shareID domain.ShareID, itemID domain.ItemID, state domain.ItemState) error {
	if err := c.queries.setState(ctx, shareID, itemID, state); err != nil {
		return err
	}
	c.hub.notify()
	return nil
}

// UpdateLastUsedTime records when an item was last autofilled.
func (c *Cache) UpdateLastUsedTime(ctx context.Context, shareID domain.ShareID, itemID domain.ItemID, ts int64) error {
	if err := c.queries.updateLastUsedTime(ctx, shareID, itemID, ts); err != nil {
		return err
	}
	c.hub.notify()
	return nil
}

// Txn mutators reuse the shared statements; notification happens on commit.

func (t *Txn) Upsert(ctx context.Context, rec Record) error { return t.queries.upsert(ctx, rec) }

func (t *Txn) UpsertBatch(ctx context.Context, recs []Record) error {
	return t.queries.upsertBatch(ctx, recs)
}

func (t *Txn) Delete(ctx context.Context, shareID domain.ShareID, itemID domain.ItemID) error {
	return t.queries.delete(ctx, shareID, itemID)
}

func (t *Txn) SetState(ctx context.Context, shareID domain.ShareID, itemID domain.ItemID, state domain.ItemState) error {
	return t.queries.setState(ctx, shareID, itemID, state)
}

// DeleteShare drops every cached record of a share; used by the full
// refresh path before re-inserting the server's view.
func (t *Txn) DeleteShare(ctx context.Context, shareID domain.ShareID) error {
	return t.queries.deleteShare(ctx, shareID)
}

func (q *queries) upsert(ctx context.Context, rec Record) error {
	query := `INSERT INTO items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(share_id, item_id) DO UPDATE SET
			user_id = excluded.user_id,
			address_id = excluded.address_id,
			revision = excluded.revision,
			content_format_version = excluded.content_format_version,
			item_type = excluded.item_type,
			state = excluded.state,
			key_rotation = excluded.key_rotation,
			item_key = excluded.item_key,
			content = excluded.content,
			title = excluded.title,
			note = excluded.note,
			alias_email = excluded.alias_email,
			has_totp = excluded.has_totp,
			create_time = excluded.create_time,
			modify_time = excluded.modify_time,
			last_used_time = excluded.last_used_time
	`
	_, err := q.db.ExecContext(ctx, query,
		rec.UserID, rec.AddressID, rec.ShareID, rec.ItemID, rec.Revision,
		rec.ContentFormatVersion, rec.Type, rec.State, rec.RotationID, rec.ItemKey,
		rec.Content, rec.Title, rec.Note, rec.AliasEmail, rec.HasTotp,
		rec.CreateTime, rec.ModifyTime, rec.LastUsedTime,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

func (q *queries) upsertBatch(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		if err := q.upsert(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) delete(ctx context.Context, shareID domain.ShareID, itemID domain.ItemID) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM items WHERE share_id = ? AND item_id = ?`, shareID, itemID)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func (q *queries) deleteShare(ctx context.Context, shareID domain.ShareID) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM items WHERE share_id = ?`, shareID)
	if err != nil {
		return fmt.Errorf("failed to delete share items: %w", err)
	}
	return nil
}

func (q *queries) setState(ctx context.Context, shareID domain.ShareID, itemID domain.ItemID, state domain.ItemState) error {
	err := dbx.ExecAffectingOne(ctx, q.db,
		`UPDATE items SET state = ? WHERE share_id = ? AND item_id = ?`,
		state, shareID, itemID)
	if err != nil {
		return fmt.Errorf("failed to set item state: %w", err)
	}
	return nil
}

func (q *queries) updateLastUsedTime(ctx context.Context, shareID domain.ShareID, itemID domain.ItemID, ts int64) error {
	err := dbx.ExecAffectingOne(ctx, q.db,
		`UPDATE items SET last_used_time = ? WHERE share_id = ? AND item_id = ?`,
		ts, shareID, itemID)
	if err != nil {
		return fmt.Errorf("failed to update last used time: %w", err)
	}
	return nil
}

// GetByID returns a single record, or domain.ErrItemNotFound.
func (q *queries) GetByID(ctx context.Context, shareID domain.ShareID, itemID domain.ItemID) (*Record, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE share_id = ? AND item_id = ?`,
		shareID, itemID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: share=%s item=%s", domain.ErrItemNotFound, shareID, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return rec, nil
}

// GetTrashed returns every trashed record of the user, across all shares.
func (q *queries) GetTrashed(ctx context.Context, userID domain.UserID) ([]Record, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE user_id = ? AND state = ?`,
		userID, domain.ItemStateTrashed)
	if err != nil {
		return nil, fmt.Errorf("failed to select trashed items: %w", err)
	}
	return collectRecords(rows)
}

// GetByAliasEmail returns the alias item owning the given email, or nil.
// Only alias rows qualify; other item types may carry the address in
// unrelated columns.
func (q *queries) GetByAliasEmail(ctx context.Context, userID domain.UserID, aliasEmail string) (*Record, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE user_id = ? AND alias_email = ? AND item_type = ?`,
		userID, aliasEmail, domain.ItemTypeAlias)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by alias email: %w", err)
	}
	return rec, nil
}

// List returns the user's records matching the filter, newest first.
func (q *queries) List(ctx context.Context, userID domain.UserID, f Filter) ([]Record, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE user_id = ?`
	args := []any{userID}
	if shareID, ok := f.Selection.Share(); ok {
		query += ` AND share_id = ?`
		args = append(args, shareID)
	}
	if f.State != nil {
		query += ` AND state = ?`
		args = append(args, *f.State)
	}
	if f.Types != domain.FilterAll {
		query += ` AND item_type = ?`
		args = append(args, f.Types.Type())
	}
	query += ` ORDER BY modify_time DESC, item_id`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	return collectRecords(rows)
}

// CountSummary counts the user's records matching the filter, split by
// item type. The filter's Types field is ignored; every type is counted.
func (q *queries) CountSummary(ctx context.Context, userID domain.UserID, f Filter) (domain.ItemCountSummary, error) {
	query := `SELECT item_type, COUNT(*) FROM items WHERE user_id = ?`
	args := []any{userID}
	if shareID, ok := f.Selection.Share(); ok {
		query += ` AND share_id = ?`
		args = append(args, shareID)
	}
	if f.State != nil {
		query += ` AND state = ?`
		args = append(args, *f.State)
	}
	query += ` GROUP BY item_type`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.ItemCountSummary{}, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	var summary domain.ItemCountSummary
	for rows.Next() {
		var typ domain.ItemType
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return domain.ItemCountSummary{}, fmt.Errorf("failed to scan item count: %w", err)
		}
		switch typ {
		case domain.ItemTypeLogin:
			summary.Logins = n
		case domain.ItemTypeNote:
			summary.Notes = n
		case domain.ItemTypeAlias:
			summary.Aliases = n
		case domain.ItemTypeCreditCard:
			summary.CreditCards = n
		}
	}
	return summary, rows.Err()
}

// CountByShare counts the user's records per share, split by lifecycle
// state.
func (q *queries) CountByShare(ctx context.Context, userID domain.UserID) (map[domain.ShareID]domain.ShareItemCount, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT share_id, state, COUNT(*) FROM items WHERE user_id = ? GROUP BY share_id, state`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count items per share: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ShareID]domain.ShareItemCount)
	for rows.Next() {
		var shareID domain.ShareID
		var state domain.ItemState
		var n int64
		if err := rows.Scan(&shareID, &state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan share item count: %w", err)
		}
		count := counts[shareID]
		switch state {
		case domain.ItemStateActive:
			count.Active = n
		case domain.ItemStateTrashed:
			count.Trashed = n
		}
		counts[shareID] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.UserID, &rec.AddressID, &rec.ShareID, &rec.ItemID, &rec.Revision,
		&rec.ContentFormatVersion, &rec.Type, &rec.State, &rec.RotationID, &rec.ItemKey,
		&rec.Content, &rec.Title, &rec.Note, &rec.AliasEmail, &rec.HasTotp,
		&rec.CreateTime, &rec.ModifyTime, &rec.LastUsedTime,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var result []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
