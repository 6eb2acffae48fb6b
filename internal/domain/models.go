package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scope identifies one independent ledger timeline: an owner's default
// timeline (ConfigID == 0) or one of their named configurations. Two scopes
// never interact.
type Scope struct {
	OwnerID  string `json:"owner_id"`
	ConfigID int64  `json:"config_id,omitempty"`
}

const (
	ReadingKindObserved  = "observed"
	ReadingKindSynthetic = "synthetic"
)

// Reading is an immutable snapshot of the per-product sale counters plus the
// drawer cash figure. ID is the logical clock: within a scope, ids strictly
// increase with insertion and timestamps are informational only.
type Reading struct {
	ID        int64            `json:"id"`
	OwnerID   string           `json:"owner_id"`
	ConfigID  int64            `json:"config_id,omitempty"`
	Kind      string           `json:"kind"`
	Counters  map[string]int64 `json:"counters"`
	Cash      decimal.Decimal  `json:"cash_in_register"`
	Notes     string           `json:"notes,omitempty"`
	CreatedAt time.Time        `json:"reading_date"`
}

const (
	CashEventWithdrawal = "withdrawal"
	CashEventDeposit    = "deposit"
)

// CashEvent is a manual drawer adjustment. An accepted event with a prior
// reading in scope produces exactly one synthetic Reading, written together
// with the event.
type CashEvent struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	ConfigID    int64           `json:"config_id,omitempty"`
	Type        string          `json:"event_type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"event_date"`
}

// SalesRecord is one product's derived sales between two readings.
// StartReadingID is nil for backfilled first-reading sales.
type SalesRecord struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	ConfigID       int64           `json:"config_id,omitempty"`
	StartReadingID *int64          `json:"start_reading_id,omitempty"`
	EndReadingID   int64           `json:"end_reading_id"`
	Product        string          `json:"product"`
	Quantity       int64           `json:"quantity_sold"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Revenue        decimal.Decimal `json:"total_revenue"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SubmitReadingRequest struct {
	ConfigID int64                      `json:"config_id,omitempty"`
	Counters map[string]int64           `json:"counter_data"`
	Cash     decimal.Decimal            `json:"cash_in_register"`
	Notes    string                     `json:"notes"`
	Prices   map[string]decimal.Decimal `json:"product_prices"`
}

// DerivedSale is the caller-facing view of one sales record produced by a
// reading submission.
type DerivedSale struct {
	Product  string          `json:"product"`
	Quantity int64           `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// SkippedProduct reports a positive counter delta that was dropped because no
// unit price was supplied. Non-fatal; surfaced so the caller can warn.
type SkippedProduct struct {
	Product  string `json:"product"`
	Quantity int64  `json:"quantity"`
}

type SubmitReadingResponse struct {
	ReadingID    int64            `json:"reading_id"`
	DerivedSales []DerivedSale    `json:"derived_sales"`
	Skipped      []SkippedProduct `json:"skipped_products,omitempty"`
}

type CashEventRequest struct {
	ConfigID    int64           `json:"config_id,omitempty"`
	Type        string          `json:"event_type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type CashEventResponse struct {
	EventID      string `json:"event_id"`
	NewReadingID *int64 `json:"new_reading_id,omitempty"`
}

const (
	BalanceStatusOK            = "ok"
	BalanceStatusWarning       = "warning"
	BalanceStatusCheckRequired = "check_required"
)

// Balance is the reconciliation result for one scope. All monetary fields are
// rounded to two decimals for display; the calculator works in full precision.
type Balance struct {
	ActualCash    decimal.Decimal `json:"actual_cash"`
	ExpectedCash  decimal.Decimal `json:"expected_cash"`
	Difference    decimal.Decimal `json:"difference"`
	TotalSales    decimal.Decimal `json:"total_sales"`
	Status        string          `json:"status"`
	LastReadingAt *time.Time      `json:"last_reading_at,omitempty"`
}

type BackfillResult struct {
	ReadingsFixed  int             `json:"readings_fixed"`
	RecordsCreated int             `json:"records_created"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
}

// DrinkSpec maps ingredient name to the amount used per serving, in the
// ingredient's base unit (kg or L).
type DrinkSpec struct {
	Name        string                     `json:"name"`
	Ingredients map[string]decimal.Decimal `json:"ingredients"`
}

// Configuration is a named, owner-scoped setup: ingredient costs, drink
// recipes and the per-product sale prices the backfill job uses.
type Configuration struct {
	ID             int64                      `json:"id"`
	OwnerID        string                     `json:"owner_id"`
	Name           string                     `json:"name"`
	CleaningCost   decimal.Decimal            `json:"cleaning_cost"`
	ProductsPerDay int                        `json:"products_per_day"`
	Ingredients    map[string]decimal.Decimal `json:"ingredients"`
	Drinks         []DrinkSpec                `json:"drinks"`
	ProductPrices  map[string]decimal.Decimal `json:"product_prices"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

type ConfigurationRequest struct {
	Name           string                     `json:"name"`
	CleaningCost   decimal.Decimal            `json:"cleaning_cost"`
	ProductsPerDay int                        `json:"products_per_day"`
	Ingredients    map[string]decimal.Decimal `json:"ingredients"`
	Drinks         []DrinkSpec                `json:"drinks"`
	ProductPrices  map[string]decimal.Decimal `json:"product_prices"`
}

type CalculateRequest struct {
	Ingredients    map[string]decimal.Decimal `json:"ingredients"`
	Drinks         []DrinkSpec                `json:"drinks"`
	CleaningCost   decimal.Decimal            `json:"cleaning_cost"`
	ProductsPerDay int                        `json:"products_per_day"`
}

type CostBreakdownLine struct {
	Ingredient string          `json:"ingredient"`
	Amount     decimal.Decimal `json:"amount"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	TotalCost  decimal.Decimal `json:"total_cost"`
}

type DrinkCost struct {
	Name                   string              `json:"name"`
	TotalCost              decimal.Decimal     `json:"total_cost"`
	CleaningCostPerProduct decimal.Decimal     `json:"cleaning_cost_per_product"`
	Breakdown              []CostBreakdownLine `json:"breakdown"`
}

type ProductStatistics struct {
	Name     string          `json:"name"`
	Quantity int64           `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	Revenue  decimal.Decimal `json:"revenue"`
}

type SalesStatistics struct {
	PeriodDays     int                 `json:"period_days"`
	TotalRevenue   decimal.Decimal     `json:"total_revenue"`
	TotalItemsSold int64               `json:"total_items_sold"`
	ReadingsCount  int                 `json:"readings_count"`
	Products       []ProductStatistics `json:"products"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller, propagated through context.
type Actor struct {
	Username string
	Role     string
}

const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

type OwnerCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type OwnerUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	ActorRole string    `json:"actor_role"`
	Action    string    `json:"action"`
	EntityID  string    `json:"entity_id"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
