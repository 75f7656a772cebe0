package domain

import (
	"encoding/json"
	"fmt"
)

// ItemType classifies an item kind.
type ItemType string

const (
	ItemTypeLogin      ItemType = "login"
	ItemTypeNote       ItemType = "note"
	ItemTypeAlias      ItemType = "alias"
	ItemTypeCreditCard ItemType = "credit_card"
	ItemTypeUnknown    ItemType = "unknown"
)

// HiddenState is the tag of a HiddenString.
type HiddenState int

const (
	// HiddenEmpty means the field has no value at all.
	HiddenEmpty HiddenState = iota
	// HiddenConcealed means the field has a value but it is not currently
	// decrypted for display.
	HiddenConcealed
	// HiddenRevealed means the field value is present in Value.
	HiddenRevealed
)

// HiddenString is a tri-state sensitive field: empty, concealed (exists but
// not decrypted for display) or revealed. Value is only meaningful in the
// revealed state.
type HiddenString struct {
	State HiddenState
	Value string
}

// Revealed returns a HiddenString carrying v, or an empty one for v == "".
func Revealed(v string) HiddenString {
	if v == "" {
		return HiddenString{State: HiddenEmpty}
	}
	return HiddenString{State: HiddenRevealed, Value: v}
}

// Conceal drops the value while remembering whether one exists.
func (h HiddenString) Conceal() HiddenString {
	if h.State == HiddenEmpty {
		return h
	}
	return HiddenString{State: HiddenConcealed}
}

// IsEmpty reports whether the field holds no value.
func (h HiddenString) IsEmpty() bool { return h.State == HiddenEmpty }

type hiddenStringJSON struct {
	State string `json:"state"`
	Value string `json:"value,omitempty"`
}

func (h HiddenString) MarshalJSON() ([]byte, error) {
	out := hiddenStringJSON{Value: h.Value}
	switch h.State {
	case HiddenEmpty:
		out.State = "empty"
		out.Value = ""
	case HiddenConcealed:
		out.State = "concealed"
		out.Value = ""
	case HiddenRevealed:
		out.State = "revealed"
	}
	return json.Marshal(out)
}

func (h *HiddenString) UnmarshalJSON(b []byte) error {
	var in hiddenStringJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.State {
	case "", "empty":
		*h = HiddenString{State: HiddenEmpty}
	case "concealed":
		*h = HiddenString{State: HiddenConcealed}
	case "revealed":
		*h = HiddenString{State: HiddenRevealed, Value: in.Value}
	default:
		return fmt.Errorf("unknown hidden state %q", in.State)
	}
	return nil
}

// ItemContents is the decrypted, typed payload of an item. The variant set
// is closed: Login, Note, Alias, CreditCard and Unknown.
type ItemContents interface {
	GetType() ItemType
	GetTitle() string
	GetNote() string

	// Concealed returns a copy with every sensitive field concealed.
	Concealed() ItemContents
}

// LoginContent stores credentials.
type LoginContent struct {
	Title    string       `json:"-"`
	Note     string       `json:"-"`
	Username string       `json:"username"`
	Password HiddenString `json:"password"`
	URLs     []string     `json:"urls,omitempty"`
	TotpURI  HiddenString `json:"totp_uri"`

	// Packages lists the app package names autofill has linked to this
	// login.
	Packages []string `json:"packages,omitempty"`
}

func (c LoginContent) GetType() ItemType { return ItemTypeLogin }
func (c LoginContent) GetTitle() string  { return c.Title }
func (c LoginContent) GetNote() string   { return c.Note }

func (c LoginContent) Concealed() ItemContents {
	c.Password = c.Password.Conceal()
	c.TotpURI = c.TotpURI.Conceal()
	return c
}

// HasTotp reports whether the login carries a TOTP secret.
func (c LoginContent) HasTotp() bool { return !c.TotpURI.IsEmpty() }

// NoteContent stores free-form text; the note itself is the payload.
type NoteContent struct {
	Title string `json:"-"`
	Note  string `json:"-"`
}

func (c NoteContent) GetType() ItemType       { return ItemTypeNote }
func (c NoteContent) GetTitle() string        { return c.Title }
func (c NoteContent) GetNote() string         { return c.Note }
func (c NoteContent) Concealed() ItemContents { return c }

// AliasContent stores an email alias. AliasEmail is assigned by the server
// and is empty in payloads built for creation.
type AliasContent struct {
	Title      string `json:"-"`
	Note       string `json:"-"`
	AliasEmail string `json:"alias_email,omitempty"`
}

func (c AliasContent) GetType() ItemType       { return ItemTypeAlias }
func (c AliasContent) GetTitle() string        { return c.Title }
func (c AliasContent) GetNote() string         { return c.Note }
func (c AliasContent) Concealed() ItemContents { return c }

// CreditCardContent stores payment card details.
type CreditCardContent struct {
	Title          string       `json:"-"`
	Note           string       `json:"-"`
	CardholderName string       `json:"cardholder_name"`
	Number         HiddenString `json:"number"`
	CVV            HiddenString `json:"cvv"`
	PIN            HiddenString `json:"pin"`
	ExpirationDate string       `json:"expiration_date"`
}

func (c CreditCardContent) GetType() ItemType { return ItemTypeCreditCard }
func (c CreditCardContent) GetTitle() string  { return c.Title }
func (c CreditCardContent) GetNote() string   { return c.Note }

func (c CreditCardContent) Concealed() ItemContents {
	c.Number = c.Number.Conceal()
	c.CVV = c.CVV.Conceal()
	c.PIN = c.PIN.Conceal()
	return c
}

// UnknownContent preserves a payload whose type this client version does not
// understand, so it survives a decrypt/re-encrypt round trip unchanged.
type UnknownContent struct {
	Title   string          `json:"-"`
	Note    string          `json:"-"`
	RawType ItemType        `json:"-"`
	Raw     json.RawMessage `json:"-"`
}

func (c UnknownContent) GetType() ItemType       { return ItemTypeUnknown }
func (c UnknownContent) GetTitle() string        { return c.Title }
func (c UnknownContent) GetNote() string         { return c.Note }
func (c UnknownContent) Concealed() ItemContents { return c }
