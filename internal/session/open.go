package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ngirimana/finindex/internal/config"
)

// Open builds the store the binaries share: SQLite persistence at
// cfg.DBPath, or memory only when ephemeral, sealed when cfg.SealKey is set.
// A persisted session is restored before Open returns. The returned func
// releases the database.
func Open(ctx context.Context, logger *slog.Logger, cfg config.SessionConfig, ephemeral bool) (*Store, func(), error) {
	var opts []Option
	if cfg.SealKey != "" {
		sealer, err := NewSealer(cfg.SealKey)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, WithSealer(sealer))
	}

	if ephemeral {
		return NewStore(logger, NewMemoryPersister(), opts...), func() {}, nil
	}

	db, err := OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	persister, err := NewGormPersister(db)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := persister.Close(); err != nil {
			logger.Warn("closing session db failed", "error", err)
		}
	}

	store := NewStore(logger, persister, opts...)
	if err := store.Load(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("restore session: %w", err)
	}
	return store, closeFn, nil
}
