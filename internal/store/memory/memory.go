package memory

import (
	"context"
	"log"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"brewledger/backend/internal/domain"
	"brewledger/backend/internal/store"
	"brewledger/backend/internal/xid"
)

// Store is the in-memory Repository used in dev/demo mode and in tests.
// Readings share one global id sequence; ordering only has to be consistent
// within a scope, so a global sequence is fine.
type Store struct {
	mu              sync.RWMutex
	nextReadingID   int64
	nextConfigID    int64
	readings        []domain.Reading
	cashEvents      []domain.CashEvent
	sales           []domain.SalesRecord
	configsByID     map[int64]domain.Configuration
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_OWNER_PASSWORD; unset
// variables fall back to hardcoded dev defaults with a warning. Production
// deployments use PostgreSQL (DATABASE_URL) and never hit this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OWNER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_OWNER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"owner", ownerPwd, domain.RoleOwner},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		configsByID:     make(map[int64]domain.Configuration),
		auditLogs:       make([]domain.AuditLog, 0, 64),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with dev users and a demo configuration.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	s.nextConfigID++
	now := time.Now().UTC()
	s.configsByID[s.nextConfigID] = domain.Configuration{
		ID:             s.nextConfigID,
		OwnerID:        "owner",
		Name:           "Kiosk Espresso Bar",
		CleaningCost:   decimal.NewFromFloat(12.50),
		ProductsPerDay: 80,
		Ingredients: map[string]decimal.Decimal{
			"coffee_beans":  decimal.NewFromFloat(18.90),
			"milk":          decimal.NewFromFloat(1.09),
			"vanilla_syrup": decimal.NewFromFloat(6.40),
		},
		Drinks: []domain.DrinkSpec{
			{Name: "espresso", Ingredients: map[string]decimal.Decimal{"coffee_beans": decimal.NewFromFloat(0.008)}},
			{Name: "cappuccino", Ingredients: map[string]decimal.Decimal{"coffee_beans": decimal.NewFromFloat(0.008), "milk": decimal.NewFromFloat(0.12)}},
		},
		ProductPrices: map[string]decimal.Decimal{
			"espresso":   decimal.NewFromFloat(1.30),
			"cappuccino": decimal.NewFromFloat(2.40),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s
}

func sameScope(ownerID string, configID int64, scope domain.Scope) bool {
	return ownerID == scope.OwnerID && configID == scope.ConfigID
}

func validateReading(reading domain.Reading) error {
	if reading.Counters == nil {
		return store.ErrMalformedCounters
	}
	for _, count := range reading.Counters {
		if count < 0 {
			return store.ErrMalformedCounters
		}
	}
	if reading.Cash.IsNegative() {
		return store.ErrInvalidAmount
	}
	return nil
}

func (s *Store) AppendReading(_ context.Context, reading domain.Reading, sales []domain.SalesRecord) (*domain.Reading, []domain.SalesRecord, error) {
	if err := validateReading(reading); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextReadingID++
	reading.ID = s.nextReadingID
	reading.Counters = maps.Clone(reading.Counters)
	if reading.Kind == "" {
		reading.Kind = domain.ReadingKindObserved
	}
	if reading.CreatedAt.IsZero() {
		reading.CreatedAt = time.Now().UTC()
	}
	s.readings = append(s.readings, reading)

	created := make([]domain.SalesRecord, 0, len(sales))
	for _, record := range sales {
		if record.ID == "" {
			record.ID = xid.New("sale")
		}
		record.EndReadingID = reading.ID
		record.OwnerID = reading.OwnerID
		record.ConfigID = reading.ConfigID
		if record.CreatedAt.IsZero() {
			record.CreatedAt = reading.CreatedAt
		}
		s.sales = append(s.sales, record)
		created = append(created, record)
	}

	return &reading, created, nil
}

func (s *Store) LatestReading(_ context.Context, scope domain.Scope) (*domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked(scope)
}

func (s *Store) latestLocked(scope domain.Scope) (*domain.Reading, error) {
	for i := len(s.readings) - 1; i >= 0; i-- {
		r := s.readings[i]
		if sameScope(r.OwnerID, r.ConfigID, scope) {
			copied := r
			copied.Counters = maps.Clone(r.Counters)
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) PreviousReading(_ context.Context, scope domain.Scope, readingID int64) (*domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var prev *domain.Reading
	for i := range s.readings {
		r := s.readings[i]
		if !sameScope(r.OwnerID, r.ConfigID, scope) || r.ID >= readingID {
			continue
		}
		if prev == nil || r.ID > prev.ID {
			copied := r
			copied.Counters = maps.Clone(r.Counters)
			prev = &copied
		}
	}
	if prev == nil {
		return nil, store.ErrNotFound
	}
	return prev, nil
}

func (s *Store) GetReading(_ context.Context, scope domain.Scope, readingID int64) (*domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.readings {
		r := s.readings[i]
		if r.ID == readingID && sameScope(r.OwnerID, r.ConfigID, scope) {
			copied := r
			copied.Counters = maps.Clone(r.Counters)
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListReadings(_ context.Context, scope domain.Scope, limit int) ([]domain.Reading, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Reading, 0, limit)
	for i := len(s.readings) - 1; i >= 0 && len(result) < limit; i-- {
		r := s.readings[i]
		if !sameScope(r.OwnerID, r.ConfigID, scope) {
			continue
		}
		copied := r
		copied.Counters = maps.Clone(r.Counters)
		result = append(result, copied)
	}
	return result, nil
}

// DeleteReading removes a reading and cascades to every sales record that
// references it as either endpoint. Administrative escape hatch; the ledger
// is otherwise append-only.
func (s *Store) DeleteReading(_ context.Context, scope domain.Scope, readingID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.readings {
		r := s.readings[i]
		if r.ID == readingID && sameScope(r.OwnerID, r.ConfigID, scope) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return store.ErrNotFound
	}

	s.readings = slices.Delete(s.readings, idx, idx+1)
	s.sales = slices.DeleteFunc(s.sales, func(record domain.SalesRecord) bool {
		if record.EndReadingID == readingID {
			return true
		}
		return record.StartReadingID != nil && *record.StartReadingID == readingID
	})
	return nil
}

func (s *Store) AppendCashEvent(_ context.Context, event domain.CashEvent, synthetic *domain.Reading) (*domain.CashEvent, *domain.Reading, error) {
	if event.Type != domain.CashEventWithdrawal && event.Type != domain.CashEventDeposit {
		return nil, nil, store.ErrInvalidEventKind
	}
	if !event.Amount.IsPositive() {
		return nil, nil, store.ErrInvalidAmount
	}
	if synthetic != nil {
		if err := validateReading(*synthetic); err != nil {
			return nil, nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = xid.New("cev")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.cashEvents = append(s.cashEvents, event)

	var createdReading *domain.Reading
	if synthetic != nil {
		reading := *synthetic
		s.nextReadingID++
		reading.ID = s.nextReadingID
		reading.Kind = domain.ReadingKindSynthetic
		reading.Counters = maps.Clone(reading.Counters)
		if reading.CreatedAt.IsZero() {
			reading.CreatedAt = event.CreatedAt
		}
		s.readings = append(s.readings, reading)
		createdReading = &reading
	}

	return &event, createdReading, nil
}

func (s *Store) ListCashEvents(_ context.Context, scope domain.Scope, limit int) ([]domain.CashEvent, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashEvent, 0, limit)
	for i := len(s.cashEvents) - 1; i >= 0 && len(result) < limit; i-- {
		e := s.cashEvents[i]
		if sameScope(e.OwnerID, e.ConfigID, scope) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *Store) SalesByEndReading(_ context.Context, scope domain.Scope, readingID int64) ([]domain.SalesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SalesRecord, 0, 8)
	for _, record := range s.sales {
		if record.EndReadingID == readingID && sameScope(record.OwnerID, record.ConfigID, scope) {
			result = append(result, record)
		}
	}
	return result, nil
}

func (s *Store) ListSalesSince(_ context.Context, scope domain.Scope, from time.Time) ([]domain.SalesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SalesRecord, 0, 32)
	for _, record := range s.sales {
		if !sameScope(record.OwnerID, record.ConfigID, scope) {
			continue
		}
		if record.CreatedAt.Before(from) {
			continue
		}
		result = append(result, record)
	}
	return result, nil
}

func (s *Store) CountReadingsSince(_ context.Context, scope domain.Scope, from time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.readings {
		if sameScope(r.OwnerID, r.ConfigID, scope) && !r.CreatedAt.Before(from) {
			count++
		}
	}
	return count, nil
}

func (s *Store) OrphanFirstReadings(_ context.Context) ([]domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hasEndSale := make(map[int64]bool, len(s.sales))
	for _, record := range s.sales {
		hasEndSale[record.EndReadingID] = true
	}

	orphans := make([]domain.Reading, 0, 8)
	for i := range s.readings {
		r := s.readings[i]
		if hasEndSale[r.ID] {
			continue
		}
		first := true
		for j := range s.readings {
			other := s.readings[j]
			if other.ID < r.ID && sameScope(other.OwnerID, other.ConfigID, domain.Scope{OwnerID: r.OwnerID, ConfigID: r.ConfigID}) {
				first = false
				break
			}
		}
		if !first {
			continue
		}
		copied := r
		copied.Counters = maps.Clone(r.Counters)
		orphans = append(orphans, copied)
	}
	return orphans, nil
}

func (s *Store) CreateSalesRecords(_ context.Context, records []domain.SalesRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range records {
		if record.ID == "" {
			record.ID = xid.New("sale")
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now().UTC()
		}
		s.sales = append(s.sales, record)
	}
	return nil
}

func (s *Store) CreateConfiguration(_ context.Context, cfg domain.Configuration) (*domain.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.configsByID {
		if existing.OwnerID == cfg.OwnerID && strings.EqualFold(existing.Name, cfg.Name) {
			return nil, store.ErrConflict
		}
	}

	s.nextConfigID++
	cfg.ID = s.nextConfigID
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	s.configsByID[cfg.ID] = cfg
	created := cfg
	return &created, nil
}

func (s *Store) GetConfiguration(_ context.Context, configID int64) (*domain.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, exists := s.configsByID[configID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cfg
	return &copied, nil
}

func (s *Store) ListConfigurations(_ context.Context, ownerID string) ([]domain.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Configuration, 0, len(s.configsByID))
	for _, cfg := range s.configsByID {
		if cfg.OwnerID == ownerID {
			result = append(result, cfg)
		}
	}
	slices.SortFunc(result, func(a, b domain.Configuration) int {
		if a.UpdatedAt.Equal(b.UpdatedAt) {
			return int(b.ID - a.ID)
		}
		if a.UpdatedAt.After(b.UpdatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) UpdateConfiguration(_ context.Context, cfg domain.Configuration) (*domain.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.configsByID[cfg.ID]
	if !exists || existing.OwnerID != cfg.OwnerID {
		return nil, store.ErrNotFound
	}
	for id, other := range s.configsByID {
		if id != cfg.ID && other.OwnerID == cfg.OwnerID && strings.EqualFold(other.Name, cfg.Name) {
			return nil, store.ErrConflict
		}
	}

	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()
	s.configsByID[cfg.ID] = cfg
	updated := cfg
	return &updated, nil
}

func (s *Store) DeleteConfiguration(_ context.Context, ownerID string, configID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, exists := s.configsByID[configID]
	if !exists || cfg.OwnerID != ownerID {
		return store.ErrNotFound
	}
	for _, r := range s.readings {
		if r.OwnerID == ownerID && r.ConfigID == configID {
			return store.ErrConflict
		}
	}
	delete(s.configsByID, configID)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
