package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"postroom/internal/config"
	"postroom/internal/domain/notification"
)

// Store is a backend serving both notifications and templates.
type Store interface {
	notification.NotificationStore
	notification.TemplateStore
}

// Open builds the store selected by cfg.Kind. The returned close function
// releases backend resources and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, func(), error) {
	switch cfg.Kind {
	case config.StorageSupabase:
		s, err := NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("supabase store initialized")
		return s, func() {}, nil

	case config.StoragePostgres:
		pool, err := Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("postgres store initialized", "max_conns", pool.Config().MaxConns)
		return NewPostgresStore(pool), pool.Close, nil

	case config.StorageMemory:
		s := NewMemoryStore()
		if cfg.Memory.SeedFile != "" {
			f, err := os.Open(cfg.Memory.SeedFile)
			if err != nil {
				return nil, nil, fmt.Errorf("opening seed file: %w", err)
			}
			defer f.Close()
			if err := s.LoadSeed(f); err != nil {
				return nil, nil, fmt.Errorf("loading seed file %s: %w", cfg.Memory.SeedFile, err)
			}
		}
		slog.Info("memory store initialized", "seed_file", cfg.Memory.SeedFile)
		return s, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}
}
