// Package domain defines the core data model of the pass engine: shares,
// share keys, items and their decrypted contents, plus the sentinel errors
// shared by every layer. Callers should match errors with errors.Is.
package domain

// UserID identifies an account.
type UserID string

// AddressID identifies a mailing address belonging to a user.
type AddressID string

// ShareID identifies a share (a vault).
type ShareID string

// ItemID identifies an item within a share.
type ItemID string

// RotationID identifies one rotation of a share key. Items reference the
// rotation that was active when they were last (re-)encrypted.
type RotationID string

// EventID is an opaque, server-ordered resume point for the event log.
// Clients never compare event ids, they only store the latest one returned.
type EventID string
