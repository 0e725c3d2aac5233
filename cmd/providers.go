// File: cmd/providers.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/browser"
	"github.com/xkilldash9x/feedwalker/internal/config"
	"github.com/xkilldash9x/feedwalker/internal/store"
)

const browserShutdownTimeout = 15 * time.Second

// storageProvider opens the configured persistence backend. Tests swap in
// an in-memory store.
type storageProvider interface {
	// Open returns the storage and a cleanup function releasing it.
	Open(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.Storage, func(), error)
}

type defaultStorageProvider struct{}

// NewStorageProvider returns the provider used in production.
func NewStorageProvider() storageProvider {
	return &defaultStorageProvider{}
}

func (p *defaultStorageProvider) Open(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.Storage, func(), error) {
	switch backend := cfg.Storage().Backend; backend {
	case "postgres":
		s, closePool, err := store.Connect(ctx, cfg.Database(), logger)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			closePool()
			return nil, nil, err
		}
		return s, func() {
			closePool()
			logger.Debug("Database connection pool closed.")
		}, nil
	case "filesystem":
		s, err := store.NewFileStore(cfg.Storage().Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", backend)
	}
}

// pageFactoryProvider starts whatever hands out browser pages.
type pageFactoryProvider interface {
	Open(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.PageFactory, func(), error)
}

type defaultPageFactoryProvider struct{}

// NewPageFactoryProvider returns the provider that launches Chrome.
func NewPageFactoryProvider() pageFactoryProvider {
	return &defaultPageFactoryProvider{}
}

func (p *defaultPageFactoryProvider) Open(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.PageFactory, func(), error) {
	m, err := browser.NewManager(ctx, logger, cfg.Browser())
	if err != nil {
		return nil, nil, err
	}
	return m, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), browserShutdownTimeout)
		defer cancel()
		if err := m.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}, nil
}
