// Package events tracks the per-share incremental sync cursor and drives
// the fetch-and-apply loop over the share's change log.
package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nguyenkims/pass/internal/dbx"
	"github.com/nguyenkims/pass/internal/domain"
)

// CursorStore persists the last applied event id per
// (user, address, share). Cursors are created lazily and advanced
// monotonically; they are never rolled back.
type CursorStore struct {
	db dbx.DBTX
}

func NewCursorStore(db dbx.DBTX) *CursorStore {
	return &CursorStore{db: db}
}

// Get returns the cached cursor, reporting false when none exists yet.
func (s *CursorStore) Get(ctx context.Context, account domain.Account, shareID domain.ShareID) (domain.EventID, bool, error) {
	var id domain.EventID
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id FROM event_cursors WHERE user_id = ? AND address_id = ? AND share_id = ?`,
		account.UserID, account.AddressID, shareID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get event cursor: %w", err)
	}
	return id, true, nil
}

// Set stores the cursor, creating the row on first use.
func (s *CursorStore) Set(ctx context.Context, account domain.Account, shareID domain.ShareID, id domain.EventID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_cursors (user_id, address_id, share_id, event_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, address_id, share_id) DO UPDATE SET event_id = excluded.event_id
	`, account.UserID, account.AddressID, shareID, id)
	if err != nil {
		return fmt.Errorf("failed to set event cursor: %w", err)
	}
	return nil
}
