package domain

// Account identifies the acting user and mailing address. It is passed
// explicitly to every engine operation; the engine keeps no ambient session
// state.
type Account struct {
	UserID    UserID
	AddressID AddressID
}
