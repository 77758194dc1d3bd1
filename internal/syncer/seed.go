package syncer

import (
	"context"
	"fmt"
	"time"

	"stall-service/internal/models"
	"stall-service/internal/util"

	"go.uber.org/zap"
)

const (
	seedLockKey = "catalog-seed"
	seedLockTTL = 30 * time.Second
)

// Locker is a distributed lock
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// SeedCatalog inserts the catalog products missing from the remote store.
// Terminals starting together take turns through locker, which may be nil.
func SeedCatalog(ctx context.Context, store RemoteStore, locker Locker, catalog []models.Product) (int, error) {
	logger := util.Named("seed")

	if locker != nil {
		token, ok, err := locker.AcquireLock(ctx, seedLockKey, seedLockTTL)
		if err != nil {
			return 0, fmt.Errorf("failed to acquire seed lock: %w", err)
		}
		if !ok {
			logger.Info("Another terminal is seeding the catalog, skipping")
			return 0, nil
		}
		defer func() {
			if err := locker.ReleaseLock(context.Background(), seedLockKey, token); err != nil {
				logger.Warn("Failed to release seed lock", zap.Error(err))
			}
		}()
	}

	inserted, err := store.SeedProducts(ctx, catalog)
	if err != nil {
		return inserted, fmt.Errorf("failed to seed catalog: %w", err)
	}

	if inserted > 0 {
		logger.Info("Catalog seeded", zap.Int("products", inserted))
	}
	return inserted, nil
}
