// Package pass is the client-side engine of an end-to-end encrypted item
// store. It keeps a local SQLite cache of encrypted items, performs all
// cryptography on-device, and synchronizes with the backend through a typed
// HTTP client and a per-share event log.
//
// The host application supplies two things the engine deliberately does not
// own: a crypto.KeyStore guarding the user's vault keys and a
// remote.TokenFunc producing access tokens.
package pass

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/nguyenkims/pass/internal/cache"
	"github.com/nguyenkims/pass/internal/config"
	"github.com/nguyenkims/pass/internal/crypto"
	"github.com/nguyenkims/pass/internal/events"
	"github.com/nguyenkims/pass/internal/keyring"
	"github.com/nguyenkims/pass/internal/logging"
	"github.com/nguyenkims/pass/internal/remote"
	"github.com/nguyenkims/pass/internal/sync"
)

// Engine bundles the wired subsystems. Items is the entry point for all
// item operations, Events pulls the per-share change log, Keys exposes the
// share-key cache.
type Engine struct {
	Items  *sync.Coordinator
	Events *events.Engine
	Keys   *keyring.Store

	cache *cache.Cache
	log   logging.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	cfg  *config.Config
	log  logging.Logger
	http *http.Client
}

// WithConfig supplies a prebuilt configuration instead of reading the
// environment.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger replaces the default zap-backed logger.
func WithLogger(log logging.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithHTTPClient replaces the HTTP client used for backend calls.
func WithHTTPClient(h *http.Client) Option {
	return func(o *options) { o.http = h }
}

// Open wires the engine: it loads configuration, opens and migrates the
// local cache, and connects the crypto, keyring, sync and event layers.
// The caller owns ks and token; Close does not touch them.
func Open(ctx context.Context, ks crypto.KeyStore, token remote.TokenFunc, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, err
		}
	}

	log := o.log
	if log == nil {
		zl, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		log = logging.NewZapLogger(zl)
	}

	cch, err := cache.Open(ctx, cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open item cache: %w", err)
	}

	clientOpts := []remote.Option{remote.WithTokenFunc(token)}
	if o.http != nil {
		clientOpts = append(clientOpts, remote.WithHTTPClient(o.http))
	}
	clientOpts = append(clientOpts, remote.WithTimeout(cfg.RequestTimeout))
	client := remote.NewClient(cfg.ServerURL, clientOpts...)

	keys := keyring.NewStore(client, log)
	codec := crypto.NewCodec(ks)
	items := sync.NewCoordinator(client, cch, keys, codec,
		sync.WithLogger(log), sync.WithBatchSize(cfg.BatchSize))
	cursors := events.NewCursorStore(cch.DB())
	engine := events.NewEngine(client, cursors, items, log)

	return &Engine{
		Items:  items,
		Events: engine,
		Keys:   keys,
		cache:  cch,
		log:    log,
	}, nil
}

// Close releases the local cache. In-flight operations should be done or
// cancelled first.
func (e *Engine) Close() error {
	return e.cache.Close()
}
