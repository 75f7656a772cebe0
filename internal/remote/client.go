// Package remote is the typed HTTP client for the pass item and event
// endpoints. It is a pure boundary: every call returns a typed payload or an
// error; it performs no retries and mutates no local state.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/nguyenkims/pass/internal/domain"
)

// TokenFunc supplies the access token for a user. Session management is the
// host application's concern; the engine only threads the token through.
type TokenFunc func(ctx context.Context, userID domain.UserID) (string, error)

// Client talks to the pass backend.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTokenFunc sets the access-token source.
func WithTokenFunc(f TokenFunc) Option {
	return func(c *Client) { c.token = f }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends one JSON request and decodes the response into out (when out is
// non-nil). Non-2xx responses become domain errors.
func (c *Client) do(ctx context.Context, account domain.Account, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != nil {
		token, err := c.token(ctx, account.UserID)
		if err != nil {
			return fmt.Errorf("failed to get access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.RemoteError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(raw, &body)
	if body.Message == "" {
		body.Message = string(raw)
	}
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", domain.ErrConflict, body.Message)
	}
	return &domain.RemoteError{
		Status:  resp.StatusCode,
		Code:    body.Code,
		Message: body.Message,
	}
}

func sharePath(shareID domain.ShareID, suffix string) string {
	return "/pass/v1/share/" + url.PathEscape(string(shareID)) + suffix
}

func itemPath(shareID domain.ShareID, itemID domain.ItemID, suffix string) string {
	return sharePath(shareID, "/item/"+url.PathEscape(string(itemID))+suffix)
}

// GetItems fetches every item revision of a share.
func (c *Client) GetItems(ctx context.Context, account domain.Account, shareID domain.ShareID) ([]domain.ItemRevision, error) {
	var out itemsResponse
	if err := c.do(ctx, account, http.MethodGet, sharePath(shareID, "/item"), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateItem persists a new encrypted item and returns the authoritative
// server revision.
func (c *Client) CreateItem(ctx context.Context, account domain.Account, shareID domain.ShareID, req CreateItemRequest) (*domain.ItemRevision, error) {
	var out itemResponse
	if err := c.do(ctx, account, http.MethodPost, sharePath(shareID, "/item"), req, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// CreateAlias creates an alias item.
func (c *Client) CreateAlias(ctx context.Context, account domain.Account, shareID domain.ShareID, req CreateAliasRequest) (*domain.ItemRevision, error) {
	var out itemResponse
	if err := c.do(ctx, account, http.MethodPost, sharePath(shareID, "/alias/custom"), req, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// CreateItemAndAlias creates a login and its paired alias in one remote
// call.
func (c *Client) CreateItemAndAlias(ctx context.Context, account domain.Account, shareID domain.ShareID, req CreateItemAliasRequest) (*CreateItemAliasResponse, error) {
	var out CreateItemAliasResponse
	if err := c.do(ctx, account, http.MethodPost, sharePath(shareID, "/item/with_alias"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateItem submits new encrypted contents gated on the last seen revision.
func (c *Client) UpdateItem(ctx context.Context, account domain.Account, shareID domain.ShareID, itemID domain.ItemID, req UpdateItemRequest) (*domain.ItemRevision, error) {
	var out itemResponse
	if err := c.do(ctx, account, http.MethodPut, itemPath(shareID, itemID, ""), req, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// SendToTrash moves the referenced revisions to the trash.
func (c *Client) SendToTrash(ctx context.Context, account domain.Account, shareID domain.ShareID, req TrashItemsRequest) (*TrashItemsResponse, error) {
	var out TrashItemsResponse
	if err := c.do(ctx, account, http.MethodPost, sharePath(shareID, "/item/trash"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Untrash restores the referenced revisions from the trash.
func (c *Client) Untrash(ctx context.Context, account domain.Account, shareID domain.ShareID, req TrashItemsRequest) (*TrashItemsResponse, error) {
	var out TrashItemsResponse
	if err := c.do(ctx, account, http.MethodPost, sharePath(shareID, "/item/untrash"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete permanently removes the referenced revisions. Deleting an already
// deleted item is a server-side no-op, which bulk retries rely on.
func (c *Client) Delete(ctx context.Context, account domain.Account, shareID domain.ShareID, req TrashItemsRequest) error {
	return c.do(ctx, account, http.MethodPost, sharePath(shareID, "/item/delete"), req, nil)
}

// MigrateItem moves one item to the destination share.
func (c *Client) MigrateItem(ctx context.Context, account domain.Account, shareID domain.ShareID, itemID domain.ItemID, req MigrateItemRequest) (*domain.ItemRevision, error) {
	var out itemResponse
	if err := c.do(ctx, account, http.MethodPost, itemPath(shareID, itemID, "/migrate"), req, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// MigrateItems moves a batch of items to the destination share.
func (c *Client) MigrateItems(ctx context.Context, account domain.Account, shareID domain.ShareID, req MigrateItemsRequest) ([]domain.ItemRevision, error) {
	var out itemsResponse
	if err := c.do(ctx, account, http.MethodPost, sharePath(shareID, "/item/migrate"), req, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetLatestItemKey fetches the item's current key for the update path.
func (c *Client) GetLatestItemKey(ctx context.Context, account domain.Account, shareID domain.ShareID, itemID domain.ItemID) (*domain.ItemKey, error) {
	var out itemKeyResponse
	if err := c.do(ctx, account, http.MethodGet, itemPath(shareID, itemID, "/key/latest"), nil, &out); err != nil {
		return nil, err
	}
	return &domain.ItemKey{RotationID: out.KeyRotation, WrappedKey: out.Key}, nil
}

// UpdateLastUsedTime notifies the server that the item was used.
func (c *Client) UpdateLastUsedTime(ctx context.Context, account domain.Account, shareID domain.ShareID, itemID domain.ItemID, ts int64) error {
	return c.do(ctx, account, http.MethodPut, itemPath(shareID, itemID, "/lastuse"), lastUseRequest{LastUseTime: ts}, nil)
}

// GetShareKeys fetches every key rotation of a share.
func (c *Client) GetShareKeys(ctx context.Context, account domain.Account, shareID domain.ShareID) ([]domain.ShareKey, error) {
	var out shareKeysResponse
	if err := c.do(ctx, account, http.MethodGet, sharePath(shareID, "/key"), nil, &out); err != nil {
		return nil, err
	}
	keys := make([]domain.ShareKey, 0, len(out.Keys))
	for _, k := range out.Keys {
		keys = append(keys, domain.ShareKey{
			ShareID:    shareID,
			RotationID: k.RotationID,
			Rotation:   k.Rotation,
			WrappedKey: k.Key,
		})
	}
	return keys, nil
}

// GetLatestEventID returns the current tail of the share's event log.
func (c *Client) GetLatestEventID(ctx context.Context, account domain.Account, shareID domain.ShareID) (domain.EventID, error) {
	var out latestEventResponse
	if err := c.do(ctx, account, http.MethodGet, sharePath(shareID, "/event/latest"), nil, &out); err != nil {
		return "", err
	}
	return out.EventID, nil
}

// GetEvents returns the changes that happened after the given event id.
func (c *Client) GetEvents(ctx context.Context, account domain.Account, shareID domain.ShareID, since domain.EventID) (*EventList, error) {
	var out EventList
	path := sharePath(shareID, "/event/"+url.PathEscape(string(since)))
	if err := c.do(ctx, account, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
