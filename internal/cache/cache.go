package cache

import (
	"context"
	"time"

	"brewledger/backend/internal/domain"
)

// BalanceCache holds reconciliation results per scope. Writes to a scope's
// ledger must Delete its entry so GetBalance never serves a stale status.
type BalanceCache interface {
	Get(ctx context.Context, key string) (*domain.Balance, bool, error)
	Set(ctx context.Context, key string, value *domain.Balance, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopBalanceCache struct{}

func (NoopBalanceCache) Get(_ context.Context, _ string) (*domain.Balance, bool, error) {
	return nil, false, nil
}

func (NoopBalanceCache) Set(_ context.Context, _ string, _ *domain.Balance, _ time.Duration) error {
	return nil
}

func (NoopBalanceCache) Delete(_ context.Context, _ string) error {
	return nil
}
