package domain

// Share is a vault: a named container of items with its own rotating key.
type Share struct {
	ID        ShareID
	Name      string
	IsPrimary bool
}

// ShareKey is one rotation of a share's vault key. The key material itself
// is wrapped by the device key store and is only unwrapped inside a crypto
// session. ShareKeys are immutable once issued; rotations are only appended.
type ShareKey struct {
	ShareID    ShareID
	RotationID RotationID

	// Rotation is the sequence number of this rotation. The key with the
	// highest rotation is the share's latest key.
	Rotation int64

	// WrappedKey is the vault key, encrypted by the device key store.
	WrappedKey []byte
}

// ItemKey is the per-item key of a single item, wrapped under the share key
// of the rotation identified by RotationID. A new ItemKey is minted when an
// item is created and again when it migrates to a share with another key.
type ItemKey struct {
	RotationID RotationID
	WrappedKey []byte
}
