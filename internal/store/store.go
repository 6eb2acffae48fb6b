package store

import (
	"context"
	"errors"
	"time"

	"brewledger/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidEventKind  = errors.New("invalid event kind")
	ErrMalformedCounters = errors.New("malformed counters")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrConflict          = errors.New("conflict")
)

// Repository is the persistence contract for the counter ledger. Append
// methods take fully-built records and must write each unit (reading + derived
// sales, event + synthetic reading) atomically; callers serialize writes per
// scope.
type Repository interface {
	AppendReading(ctx context.Context, reading domain.Reading, sales []domain.SalesRecord) (*domain.Reading, []domain.SalesRecord, error)
	LatestReading(ctx context.Context, scope domain.Scope) (*domain.Reading, error)
	PreviousReading(ctx context.Context, scope domain.Scope, readingID int64) (*domain.Reading, error)
	GetReading(ctx context.Context, scope domain.Scope, readingID int64) (*domain.Reading, error)
	ListReadings(ctx context.Context, scope domain.Scope, limit int) ([]domain.Reading, error)
	DeleteReading(ctx context.Context, scope domain.Scope, readingID int64) error

	AppendCashEvent(ctx context.Context, event domain.CashEvent, synthetic *domain.Reading) (*domain.CashEvent, *domain.Reading, error)
	ListCashEvents(ctx context.Context, scope domain.Scope, limit int) ([]domain.CashEvent, error)

	SalesByEndReading(ctx context.Context, scope domain.Scope, readingID int64) ([]domain.SalesRecord, error)
	ListSalesSince(ctx context.Context, scope domain.Scope, from time.Time) ([]domain.SalesRecord, error)
	CountReadingsSince(ctx context.Context, scope domain.Scope, from time.Time) (int, error)

	// OrphanFirstReadings returns, across all scopes, readings that have no
	// predecessor in their scope and no sales record referencing them as end
	// reading. Candidate selection for the backfill job.
	OrphanFirstReadings(ctx context.Context) ([]domain.Reading, error)
	CreateSalesRecords(ctx context.Context, records []domain.SalesRecord) error

	CreateConfiguration(ctx context.Context, cfg domain.Configuration) (*domain.Configuration, error)
	GetConfiguration(ctx context.Context, configID int64) (*domain.Configuration, error)
	ListConfigurations(ctx context.Context, ownerID string) ([]domain.Configuration, error)
	UpdateConfiguration(ctx context.Context, cfg domain.Configuration) (*domain.Configuration, error)
	DeleteConfiguration(ctx context.Context, ownerID string, configID int64) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
