package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"brewledger/backend/internal/cache"
	"brewledger/backend/internal/costing"
	"brewledger/backend/internal/domain"
	"brewledger/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var (
	warningThreshold = decimal.NewFromInt(5)
	checkThreshold   = decimal.NewFromInt(10)
)

type Service struct {
	repo     store.Repository
	balances cache.BalanceCache
	cacheTTL time.Duration

	mu         sync.Mutex
	scopeLocks map[domain.Scope]*sync.Mutex
}

func New(repo store.Repository, balances cache.BalanceCache, cacheTTL time.Duration) *Service {
	if balances == nil {
		balances = cache.NoopBalanceCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Second
	}

	return &Service{
		repo:       repo,
		balances:   balances,
		cacheTTL:   cacheTTL,
		scopeLocks: make(map[domain.Scope]*sync.Mutex),
	}
}

// lockScope serializes the read-latest -> compute -> append sequence for one
// ledger timeline. Reads and writes to other scopes proceed concurrently.
func (s *Service) lockScope(scope domain.Scope) func() {
	s.mu.Lock()
	lock, ok := s.scopeLocks[scope]
	if !ok {
		lock = &sync.Mutex{}
		s.scopeLocks[scope] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// resolveScope maps the caller plus an optional configuration id to an
// authorized ledger scope. ConfigID zero is the caller's default timeline.
func (s *Service) resolveScope(ctx context.Context, configID int64) (domain.Scope, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Scope{}, store.ErrPermissionDenied
	}
	if configID == 0 {
		return domain.Scope{OwnerID: actor.Username}, nil
	}

	cfg, err := s.repo.GetConfiguration(ctx, configID)
	if err != nil {
		return domain.Scope{}, err
	}
	if cfg.OwnerID != actor.Username && actor.Role != domain.RoleAdmin {
		return domain.Scope{}, store.ErrPermissionDenied
	}
	return domain.Scope{OwnerID: cfg.OwnerID, ConfigID: cfg.ID}, nil
}

func validateCounters(counters map[string]int64) error {
	if counters == nil {
		return store.ErrMalformedCounters
	}
	for _, count := range counters {
		if count < 0 {
			return store.ErrMalformedCounters
		}
	}
	return nil
}

func (s *Service) SubmitReading(ctx context.Context, req domain.SubmitReadingRequest) (domain.SubmitReadingResponse, error) {
	scope, err := s.resolveScope(ctx, req.ConfigID)
	if err != nil {
		return domain.SubmitReadingResponse{}, err
	}
	if err := validateCounters(req.Counters); err != nil {
		return domain.SubmitReadingResponse{}, err
	}
	if req.Cash.IsNegative() {
		return domain.SubmitReadingResponse{}, store.ErrInvalidAmount
	}

	unlock := s.lockScope(scope)
	defer unlock()

	previous, err := s.repo.LatestReading(ctx, scope)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return domain.SubmitReadingResponse{}, err
		}
		previous = nil
	}

	sales, skipped := deriveSales(scope, previous, req.Counters, req.Prices)
	for _, skip := range skipped {
		log.Printf("[ledger] WARN: no unit price for product %q, skipping %d sold units owner=%s config=%d", skip.Product, skip.Quantity, scope.OwnerID, scope.ConfigID)
	}

	reading := domain.Reading{
		OwnerID:   scope.OwnerID,
		ConfigID:  scope.ConfigID,
		Kind:      domain.ReadingKindObserved,
		Counters:  req.Counters,
		Cash:      req.Cash,
		Notes:     strings.TrimSpace(req.Notes),
		CreatedAt: time.Now().UTC(),
	}

	created, createdSales, err := s.repo.AppendReading(ctx, reading, sales)
	if err != nil {
		return domain.SubmitReadingResponse{}, err
	}

	s.invalidateBalance(ctx, scope)
	s.logAudit(ctx, scope.OwnerID, "reading_submit", fmt.Sprintf("%d", created.ID), fmt.Sprintf("products=%d,sales=%d,skipped=%d", len(req.Counters), len(createdSales), len(skipped)))

	derived := make([]domain.DerivedSale, 0, len(createdSales))
	for _, record := range createdSales {
		derived = append(derived, domain.DerivedSale{
			Product:  record.Product,
			Quantity: record.Quantity,
			Revenue:  record.Revenue,
		})
	}

	return domain.SubmitReadingResponse{
		ReadingID:    created.ID,
		DerivedSales: derived,
		Skipped:      skipped,
	}, nil
}

// deriveSales computes the per-product counter deltas between the previous
// reading and the submitted counters. A scope's very first reading derives
// nothing; the backfill job repairs that case retroactively.
func deriveSales(scope domain.Scope, previous *domain.Reading, counters map[string]int64, prices map[string]decimal.Decimal) ([]domain.SalesRecord, []domain.SkippedProduct) {
	if previous == nil {
		return nil, nil
	}

	products := make([]string, 0, len(counters))
	for product := range counters {
		products = append(products, product)
	}
	sort.Strings(products)

	sales := make([]domain.SalesRecord, 0, len(products))
	skipped := make([]domain.SkippedProduct, 0, 2)
	for _, product := range products {
		delta := counters[product] - previous.Counters[product]
		if delta <= 0 {
			continue
		}
		price, ok := prices[product]
		if !ok || price.IsNegative() {
			skipped = append(skipped, domain.SkippedProduct{Product: product, Quantity: delta})
			continue
		}
		startID := previous.ID
		sales = append(sales, domain.SalesRecord{
			OwnerID:        scope.OwnerID,
			ConfigID:       scope.ConfigID,
			StartReadingID: &startID,
			Product:        product,
			Quantity:       delta,
			UnitPrice:      price,
			Revenue:        price.Mul(decimal.NewFromInt(delta)),
		})
	}
	return sales, skipped
}

func (s *Service) RecordCashEvent(ctx context.Context, req domain.CashEventRequest) (domain.CashEventResponse, error) {
	scope, err := s.resolveScope(ctx, req.ConfigID)
	if err != nil {
		return domain.CashEventResponse{}, err
	}

	eventType := strings.ToLower(strings.TrimSpace(req.Type))
	if eventType != domain.CashEventWithdrawal && eventType != domain.CashEventDeposit {
		return domain.CashEventResponse{}, store.ErrInvalidEventKind
	}
	if !req.Amount.IsPositive() {
		return domain.CashEventResponse{}, store.ErrInvalidAmount
	}

	unlock := s.lockScope(scope)
	defer unlock()

	latest, err := s.repo.LatestReading(ctx, scope)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return domain.CashEventResponse{}, err
		}
		latest = nil
	}

	event := domain.CashEvent{
		OwnerID:     scope.OwnerID,
		ConfigID:    scope.ConfigID,
		Type:        eventType,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   time.Now().UTC(),
	}

	var synthetic *domain.Reading
	if latest != nil {
		newCash := latest.Cash.Add(req.Amount)
		if eventType == domain.CashEventWithdrawal {
			newCash = latest.Cash.Sub(req.Amount)
		}
		if newCash.IsNegative() {
			return domain.CashEventResponse{}, fmt.Errorf("%w: withdrawal exceeds drawer cash", store.ErrInvalidAmount)
		}
		synthetic = &domain.Reading{
			OwnerID:   scope.OwnerID,
			ConfigID:  scope.ConfigID,
			Kind:      domain.ReadingKindSynthetic,
			Counters:  maps.Clone(latest.Counters),
			Cash:      newCash,
			Notes:     fmt.Sprintf("Auto-updated after %s: %s", eventType, event.Description),
			CreatedAt: event.CreatedAt,
		}
	}

	createdEvent, createdReading, err := s.repo.AppendCashEvent(ctx, event, synthetic)
	if err != nil {
		return domain.CashEventResponse{}, err
	}

	s.invalidateBalance(ctx, scope)
	s.logAudit(ctx, scope.OwnerID, "cash_event", createdEvent.ID, fmt.Sprintf("type=%s,amount=%s", eventType, req.Amount))

	resp := domain.CashEventResponse{EventID: createdEvent.ID}
	if createdReading != nil {
		resp.NewReadingID = &createdReading.ID
	}
	return resp, nil
}

func (s *Service) GetBalance(ctx context.Context, configID int64) (domain.Balance, error) {
	scope, err := s.resolveScope(ctx, configID)
	if err != nil {
		return domain.Balance{}, err
	}

	key := balanceCacheKey(scope)
	if cached, ok, err := s.balances.Get(ctx, key); err == nil && ok {
		return *cached, nil
	}

	latest, err := s.repo.LatestReading(ctx, scope)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Balance{
				ActualCash:   decimal.Zero,
				ExpectedCash: decimal.Zero,
				Difference:   decimal.Zero,
				TotalSales:   decimal.Zero,
				Status:       domain.BalanceStatusOK,
			}, nil
		}
		return domain.Balance{}, err
	}

	sales, err := s.repo.SalesByEndReading(ctx, scope, latest.ID)
	if err != nil {
		return domain.Balance{}, err
	}

	totalSales := decimal.Zero
	for _, record := range sales {
		totalSales = totalSales.Add(record.Revenue)
	}

	expected := latest.Cash.Add(totalSales)
	difference := latest.Cash.Sub(expected)
	lastReadingAt := latest.CreatedAt

	balance := domain.Balance{
		ActualCash:    latest.Cash.Round(2),
		ExpectedCash:  expected.Round(2),
		Difference:    difference.Round(2),
		TotalSales:    totalSales.Round(2),
		Status:        classifyDifference(difference),
		LastReadingAt: &lastReadingAt,
	}

	_ = s.balances.Set(ctx, key, &balance, s.cacheTTL)
	return balance, nil
}

func classifyDifference(difference decimal.Decimal) string {
	abs := difference.Abs()
	switch {
	case abs.GreaterThanOrEqual(checkThreshold):
		return domain.BalanceStatusCheckRequired
	case abs.GreaterThanOrEqual(warningThreshold):
		return domain.BalanceStatusWarning
	default:
		return domain.BalanceStatusOK
	}
}

func (s *Service) ListReadings(ctx context.Context, configID int64, limit int) ([]domain.Reading, error) {
	scope, err := s.resolveScope(ctx, configID)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListReadings(ctx, scope, limit)
}

func (s *Service) ListCashEvents(ctx context.Context, configID int64, limit int) ([]domain.CashEvent, error) {
	scope, err := s.resolveScope(ctx, configID)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListCashEvents(ctx, scope, limit)
}

func (s *Service) DeleteReading(ctx context.Context, configID int64, readingID int64) error {
	scope, err := s.resolveScope(ctx, configID)
	if err != nil {
		return err
	}
	if readingID < 1 {
		return store.ErrInvalidRequest
	}

	unlock := s.lockScope(scope)
	defer unlock()

	if err := s.repo.DeleteReading(ctx, scope, readingID); err != nil {
		return err
	}

	s.invalidateBalance(ctx, scope)
	s.logAudit(ctx, scope.OwnerID, "reading_delete", fmt.Sprintf("%d", readingID), "cascade delete of attributed sales")
	return nil
}

// RunBackfill retroactively creates sales for readings that opened a scope:
// no predecessor, no sales attributed to them. Prices come from the scope's
// configuration, so default-timeline readings are skipped. Idempotent, since
// repaired readings gain an end-reading sale and drop out of the candidate
// set.
func (s *Service) RunBackfill(ctx context.Context) (domain.BackfillResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.BackfillResult{}, fmt.Errorf("admin role required")
	}

	candidates, err := s.repo.OrphanFirstReadings(ctx)
	if err != nil {
		return domain.BackfillResult{}, err
	}

	result := domain.BackfillResult{TotalRevenue: decimal.Zero}
	for _, reading := range candidates {
		if reading.ConfigID == 0 {
			log.Printf("[backfill] WARN: reading %d has no configuration, no price source, skipping", reading.ID)
			continue
		}
		cfg, err := s.repo.GetConfiguration(ctx, reading.ConfigID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Printf("[backfill] WARN: configuration %d for reading %d no longer exists, skipping", reading.ConfigID, reading.ID)
				continue
			}
			return domain.BackfillResult{}, err
		}

		products := make([]string, 0, len(reading.Counters))
		for product := range reading.Counters {
			products = append(products, product)
		}
		sort.Strings(products)

		records := make([]domain.SalesRecord, 0, len(products))
		for _, product := range products {
			count := reading.Counters[product]
			if count <= 0 {
				continue
			}
			price, ok := cfg.ProductPrices[product]
			if !ok {
				log.Printf("[backfill] WARN: no price for product %q in configuration %d, skipping %d units", product, cfg.ID, count)
				continue
			}
			records = append(records, domain.SalesRecord{
				OwnerID:      reading.OwnerID,
				ConfigID:     reading.ConfigID,
				EndReadingID: reading.ID,
				Product:      product,
				Quantity:     count,
				UnitPrice:    price,
				Revenue:      price.Mul(decimal.NewFromInt(count)),
				CreatedAt:    time.Now().UTC(),
			})
		}
		if len(records) == 0 {
			continue
		}

		if err := s.repo.CreateSalesRecords(ctx, records); err != nil {
			return domain.BackfillResult{}, err
		}
		result.ReadingsFixed++
		result.RecordsCreated += len(records)
		for _, record := range records {
			result.TotalRevenue = result.TotalRevenue.Add(record.Revenue)
		}
		s.invalidateBalance(ctx, domain.Scope{OwnerID: reading.OwnerID, ConfigID: reading.ConfigID})
	}

	s.logAudit(ctx, actor.Username, "backfill_run", "", fmt.Sprintf("readings_fixed=%d,records_created=%d", result.ReadingsFixed, result.RecordsCreated))
	return result, nil
}

func (s *Service) SalesStatistics(ctx context.Context, configID int64, days int) (domain.SalesStatistics, error) {
	scope, err := s.resolveScope(ctx, configID)
	if err != nil {
		return domain.SalesStatistics{}, err
	}
	if days < 1 {
		days = 30
	}
	from := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	sales, err := s.repo.ListSalesSince(ctx, scope, from)
	if err != nil {
		return domain.SalesStatistics{}, err
	}
	readings, err := s.repo.CountReadingsSince(ctx, scope, from)
	if err != nil {
		return domain.SalesStatistics{}, err
	}

	type productTotals struct {
		quantity int64
		revenue  decimal.Decimal
	}
	totalsByProduct := make(map[string]*productTotals, 8)
	stats := domain.SalesStatistics{
		PeriodDays:    days,
		TotalRevenue:  decimal.Zero,
		ReadingsCount: readings,
	}
	for _, record := range sales {
		totals, ok := totalsByProduct[record.Product]
		if !ok {
			totals = &productTotals{revenue: decimal.Zero}
			totalsByProduct[record.Product] = totals
		}
		totals.quantity += record.Quantity
		totals.revenue = totals.revenue.Add(record.Revenue)
		stats.TotalRevenue = stats.TotalRevenue.Add(record.Revenue)
		stats.TotalItemsSold += record.Quantity
	}

	stats.Products = make([]domain.ProductStatistics, 0, len(totalsByProduct))
	for product, totals := range totalsByProduct {
		avgPrice := decimal.Zero
		if totals.quantity > 0 {
			avgPrice = totals.revenue.Div(decimal.NewFromInt(totals.quantity)).Round(2)
		}
		stats.Products = append(stats.Products, domain.ProductStatistics{
			Name:     product,
			Quantity: totals.quantity,
			AvgPrice: avgPrice,
			Revenue:  totals.revenue.Round(2),
		})
	}
	sort.Slice(stats.Products, func(i, j int) bool {
		if stats.Products[i].Revenue.Equal(stats.Products[j].Revenue) {
			return stats.Products[i].Name < stats.Products[j].Name
		}
		return stats.Products[i].Revenue.GreaterThan(stats.Products[j].Revenue)
	})
	stats.TotalRevenue = stats.TotalRevenue.Round(2)

	return stats, nil
}

func (s *Service) CalculateCosts(_ context.Context, req domain.CalculateRequest) ([]domain.DrinkCost, error) {
	if req.ProductsPerDay < 0 || req.CleaningCost.IsNegative() {
		return nil, store.ErrInvalidRequest
	}
	return costing.CostDrinks(req), nil
}

func (s *Service) CreateConfiguration(ctx context.Context, req domain.ConfigurationRequest) (domain.Configuration, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Configuration{}, store.ErrPermissionDenied
	}
	if err := validateConfigurationRequest(req); err != nil {
		return domain.Configuration{}, err
	}

	created, err := s.repo.CreateConfiguration(ctx, domain.Configuration{
		OwnerID:        actor.Username,
		Name:           strings.TrimSpace(req.Name),
		CleaningCost:   req.CleaningCost,
		ProductsPerDay: req.ProductsPerDay,
		Ingredients:    req.Ingredients,
		Drinks:         req.Drinks,
		ProductPrices:  req.ProductPrices,
	})
	if err != nil {
		return domain.Configuration{}, err
	}

	s.logAudit(ctx, actor.Username, "config_create", fmt.Sprintf("%d", created.ID), fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) GetConfiguration(ctx context.Context, configID int64) (domain.Configuration, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Configuration{}, store.ErrPermissionDenied
	}

	cfg, err := s.repo.GetConfiguration(ctx, configID)
	if err != nil {
		return domain.Configuration{}, err
	}
	if cfg.OwnerID != actor.Username && actor.Role != domain.RoleAdmin {
		return domain.Configuration{}, store.ErrPermissionDenied
	}
	return *cfg, nil
}

func (s *Service) ListConfigurations(ctx context.Context) ([]domain.Configuration, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, store.ErrPermissionDenied
	}
	return s.repo.ListConfigurations(ctx, actor.Username)
}

func (s *Service) UpdateConfiguration(ctx context.Context, configID int64, req domain.ConfigurationRequest) (domain.Configuration, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Configuration{}, store.ErrPermissionDenied
	}
	if err := validateConfigurationRequest(req); err != nil {
		return domain.Configuration{}, err
	}

	existing, err := s.repo.GetConfiguration(ctx, configID)
	if err != nil {
		return domain.Configuration{}, err
	}
	if existing.OwnerID != actor.Username && actor.Role != domain.RoleAdmin {
		return domain.Configuration{}, store.ErrPermissionDenied
	}

	updated := *existing
	updated.Name = strings.TrimSpace(req.Name)
	updated.CleaningCost = req.CleaningCost
	updated.ProductsPerDay = req.ProductsPerDay
	updated.Ingredients = req.Ingredients
	updated.Drinks = req.Drinks
	updated.ProductPrices = req.ProductPrices

	saved, err := s.repo.UpdateConfiguration(ctx, updated)
	if err != nil {
		return domain.Configuration{}, err
	}

	s.logAudit(ctx, existing.OwnerID, "config_update", fmt.Sprintf("%d", saved.ID), fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) DeleteConfiguration(ctx context.Context, configID int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return store.ErrPermissionDenied
	}

	existing, err := s.repo.GetConfiguration(ctx, configID)
	if err != nil {
		return err
	}
	if existing.OwnerID != actor.Username && actor.Role != domain.RoleAdmin {
		return store.ErrPermissionDenied
	}

	if err := s.repo.DeleteConfiguration(ctx, existing.OwnerID, configID); err != nil {
		return err
	}

	s.logAudit(ctx, existing.OwnerID, "config_delete", fmt.Sprintf("%d", configID), fmt.Sprintf("name=%s", existing.Name))
	return nil
}

func validateConfigurationRequest(req domain.ConfigurationRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return store.ErrInvalidRequest
	}
	if req.ProductsPerDay < 0 || req.CleaningCost.IsNegative() {
		return store.ErrInvalidRequest
	}
	for _, price := range req.ProductPrices {
		if price.IsNegative() {
			return store.ErrInvalidRequest
		}
	}
	return nil
}

func (s *Service) invalidateBalance(ctx context.Context, scope domain.Scope) {
	_ = s.balances.Delete(ctx, balanceCacheKey(scope))
}

func balanceCacheKey(scope domain.Scope) string {
	return fmt.Sprintf("brewledger:balance:%s:%d", scope.OwnerID, scope.ConfigID)
}

func (s *Service) logAudit(ctx context.Context, ownerID string, action string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		OwnerID:   ownerID,
		ActorRole: actor.Role,
		Action:    action,
		EntityID:  entityID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}
