package domain

import (
	"encoding/json"
	"fmt"
)

// ContentFormatVersion is the version of the canonical item wire format
// produced by this client.
const ContentFormatVersion = 1

// ItemPayload is the canonical serialized form of an item's plaintext: a
// versioned envelope with a type tag and a variant-specific details blob.
// This is what gets encrypted; it never leaves the crypto layer in the clear.
type ItemPayload struct {
	Version int             `json:"version"`
	Type    ItemType        `json:"type"`
	Title   string          `json:"title"`
	Note    string          `json:"note"`
	Details json.RawMessage `json:"details"`
}

// WrapContents serializes typed contents into the wire envelope.
func WrapContents(c ItemContents) (ItemPayload, error) {
	var (
		details []byte
		err     error
		typ     = c.GetType()
	)
	switch v := c.(type) {
	case LoginContent:
		details, err = json.Marshal(v)
	case NoteContent:
		details, err = json.Marshal(v)
	case AliasContent:
		details, err = json.Marshal(v)
	case CreditCardContent:
		details, err = json.Marshal(v)
	case UnknownContent:
		details, typ = v.Raw, v.RawType
	default:
		return ItemPayload{}, fmt.Errorf("unsupported contents type %T", c)
	}
	if err != nil {
		return ItemPayload{}, fmt.Errorf("failed to marshal details: %w", err)
	}
	if len(details) == 0 {
		details = json.RawMessage("{}")
	}
	return ItemPayload{
		Version: ContentFormatVersion,
		Type:    typ,
		Title:   c.GetTitle(),
		Note:    c.GetNote(),
		Details: details,
	}, nil
}

// Unwrap deserializes the envelope back into typed contents. Payloads with a
// type this client does not know come back as UnknownContent with the raw
// details preserved.
func (p ItemPayload) Unwrap() (ItemContents, error) {
	switch p.Type {
	case ItemTypeLogin:
		var v LoginContent
		if err := json.Unmarshal(p.Details, &v); err != nil {
			return nil, err
		}
		v.Title, v.Note = p.Title, p.Note
		return v, nil
	case ItemTypeNote:
		var v NoteContent
		if err := json.Unmarshal(p.Details, &v); err != nil {
			return nil, err
		}
		v.Title, v.Note = p.Title, p.Note
		return v, nil
	case ItemTypeAlias:
		var v AliasContent
		if err := json.Unmarshal(p.Details, &v); err != nil {
			return nil, err
		}
		v.Title, v.Note = p.Title, p.Note
		return v, nil
	case ItemTypeCreditCard:
		var v CreditCardContent
		if err := json.Unmarshal(p.Details, &v); err != nil {
			return nil, err
		}
		v.Title, v.Note = p.Title, p.Note
		return v, nil
	default:
		return UnknownContent{
			Title:   p.Title,
			Note:    p.Note,
			RawType: p.Type,
			Raw:     p.Details,
		}, nil
	}
}
