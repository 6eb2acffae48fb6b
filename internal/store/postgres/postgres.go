package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"brewledger/backend/internal/domain"
	"brewledger/backend/internal/store"
	"brewledger/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema creates the ledger tables on first start. Idempotent; every
// statement is CREATE ... IF NOT EXISTS.
func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS counter_readings (
			id BIGSERIAL PRIMARY KEY,
			owner_id TEXT NOT NULL,
			config_id BIGINT NOT NULL DEFAULT 0,
			kind TEXT NOT NULL DEFAULT 'observed',
			counter_data JSONB NOT NULL,
			cash_in_register NUMERIC(12,2) NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_counter_readings_scope ON counter_readings (owner_id, config_id, id DESC)`,
		`CREATE TABLE IF NOT EXISTS cash_events (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			config_id BIGINT NOT NULL DEFAULT 0,
			event_type TEXT NOT NULL,
			amount NUMERIC(12,2) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cash_events_scope ON cash_events (owner_id, config_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS sales_records (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			config_id BIGINT NOT NULL DEFAULT 0,
			start_reading_id BIGINT,
			end_reading_id BIGINT NOT NULL,
			product TEXT NOT NULL,
			quantity_sold BIGINT NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL,
			total_revenue NUMERIC(14,2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_records_end ON sales_records (end_reading_id)`,
		`CREATE TABLE IF NOT EXISTS configurations (
			id BIGSERIAL PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			cleaning_cost NUMERIC(12,2) NOT NULL DEFAULT 0,
			products_per_day INT NOT NULL DEFAULT 1,
			ingredients JSONB NOT NULL DEFAULT '{}',
			drinks JSONB NOT NULL DEFAULT '[]',
			product_prices JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (owner_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS user_accounts (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
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

func (s *Store) AppendReading(ctx context.Context, reading domain.Reading, sales []domain.SalesRecord) (*domain.Reading, []domain.SalesRecord, error) {
	if err := validateReading(reading); err != nil {
		return nil, nil, err
	}

	counters, err := json.Marshal(reading.Counters)
	if err != nil {
		return nil, nil, err
	}
	if reading.Kind == "" {
		reading.Kind = domain.ReadingKindObserved
	}
	if reading.CreatedAt.IsZero() {
		reading.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO counter_readings (owner_id, config_id, kind, counter_data, cash_in_register, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, reading.OwnerID, reading.ConfigID, reading.Kind, counters, reading.Cash, reading.Notes, reading.CreatedAt).Scan(&reading.ID)
	if err != nil {
		return nil, nil, err
	}

	created := make([]domain.SalesRecord, 0, len(sales))
	for _, record := range sales {
		if record.ID == "" {
			record.ID = xid.New("sale")
		}
		record.OwnerID = reading.OwnerID
		record.ConfigID = reading.ConfigID
		record.EndReadingID = reading.ID
		if record.CreatedAt.IsZero() {
			record.CreatedAt = reading.CreatedAt
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sales_records (id, owner_id, config_id, start_reading_id, end_reading_id, product, quantity_sold, unit_price, total_revenue, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, record.ID, record.OwnerID, record.ConfigID, record.StartReadingID, record.EndReadingID, record.Product, record.Quantity, record.UnitPrice, record.Revenue, record.CreatedAt)
		if err != nil {
			return nil, nil, err
		}
		created = append(created, record)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &reading, created, nil
}

const readingColumns = `id, owner_id, config_id, kind, counter_data, cash_in_register, notes, created_at`

func scanReading(row interface{ Scan(...any) error }) (*domain.Reading, error) {
	var r domain.Reading
	var counters []byte
	if err := row.Scan(&r.ID, &r.OwnerID, &r.ConfigID, &r.Kind, &counters, &r.Cash, &r.Notes, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(counters, &r.Counters); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (s *Store) LatestReading(ctx context.Context, scope domain.Scope) (*domain.Reading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+readingColumns+`
		FROM counter_readings
		WHERE owner_id = $1 AND config_id = $2
		ORDER BY id DESC
		LIMIT 1
	`, scope.OwnerID, scope.ConfigID)

	reading, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return reading, nil
}

func (s *Store) PreviousReading(ctx context.Context, scope domain.Scope, readingID int64) (*domain.Reading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+readingColumns+`
		FROM counter_readings
		WHERE owner_id = $1 AND config_id = $2 AND id < $3
		ORDER BY id DESC
		LIMIT 1
	`, scope.OwnerID, scope.ConfigID, readingID)

	reading, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return reading, nil
}

func (s *Store) GetReading(ctx context.Context, scope domain.Scope, readingID int64) (*domain.Reading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+readingColumns+`
		FROM counter_readings
		WHERE owner_id = $1 AND config_id = $2 AND id = $3
	`, scope.OwnerID, scope.ConfigID, readingID)

	reading, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return reading, nil
}

func (s *Store) ListReadings(ctx context.Context, scope domain.Scope, limit int) ([]domain.Reading, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+readingColumns+`
		FROM counter_readings
		WHERE owner_id = $1 AND config_id = $2
		ORDER BY id DESC
		LIMIT $3
	`, scope.OwnerID, scope.ConfigID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]domain.Reading, 0, limit)
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

func (s *Store) DeleteReading(ctx context.Context, scope domain.Scope, readingID int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM counter_readings
		WHERE owner_id = $1 AND config_id = $2 AND id = $3
	`, scope.OwnerID, scope.ConfigID, readingID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM sales_records
		WHERE owner_id = $1 AND config_id = $2
		  AND (end_reading_id = $3 OR start_reading_id = $3)
	`, scope.OwnerID, scope.ConfigID, readingID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) AppendCashEvent(ctx context.Context, event domain.CashEvent, synthetic *domain.Reading) (*domain.CashEvent, *domain.Reading, error) {
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

	if event.ID == "" {
		event.ID = xid.New("cev")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cash_events (id, owner_id, config_id, event_type, amount, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, event.ID, event.OwnerID, event.ConfigID, event.Type, event.Amount, event.Description, event.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	var createdReading *domain.Reading
	if synthetic != nil {
		reading := *synthetic
		reading.Kind = domain.ReadingKindSynthetic
		if reading.CreatedAt.IsZero() {
			reading.CreatedAt = event.CreatedAt
		}
		counters, err := json.Marshal(reading.Counters)
		if err != nil {
			return nil, nil, err
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO counter_readings (owner_id, config_id, kind, counter_data, cash_in_register, notes, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING id
		`, reading.OwnerID, reading.ConfigID, reading.Kind, counters, reading.Cash, reading.Notes, reading.CreatedAt).Scan(&reading.ID)
		if err != nil {
			return nil, nil, err
		}
		createdReading = &reading
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &event, createdReading, nil
}

func (s *Store) ListCashEvents(ctx context.Context, scope domain.Scope, limit int) ([]domain.CashEvent, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, config_id, event_type, amount, description, created_at
		FROM cash_events
		WHERE owner_id = $1 AND config_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, scope.OwnerID, scope.ConfigID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.CashEvent, 0, limit)
	for rows.Next() {
		var e domain.CashEvent
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.ConfigID, &e.Type, &e.Amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

const salesColumns = `id, owner_id, config_id, start_reading_id, end_reading_id, product, quantity_sold, unit_price, total_revenue, created_at`

func scanSalesRows(rows *sql.Rows) ([]domain.SalesRecord, error) {
	records := make([]domain.SalesRecord, 0, 16)
	for rows.Next() {
		var record domain.SalesRecord
		var start sql.NullInt64
		if err := rows.Scan(&record.ID, &record.OwnerID, &record.ConfigID, &start, &record.EndReadingID, &record.Product, &record.Quantity, &record.UnitPrice, &record.Revenue, &record.CreatedAt); err != nil {
			return nil, err
		}
		if start.Valid {
			record.StartReadingID = &start.Int64
		}
		record.CreatedAt = record.CreatedAt.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) SalesByEndReading(ctx context.Context, scope domain.Scope, readingID int64) ([]domain.SalesRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+salesColumns+`
		FROM sales_records
		WHERE owner_id = $1 AND config_id = $2 AND end_reading_id = $3
	`, scope.OwnerID, scope.ConfigID, readingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSalesRows(rows)
}

func (s *Store) ListSalesSince(ctx context.Context, scope domain.Scope, from time.Time) ([]domain.SalesRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+salesColumns+`
		FROM sales_records
		WHERE owner_id = $1 AND config_id = $2 AND created_at >= $3
	`, scope.OwnerID, scope.ConfigID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSalesRows(rows)
}

func (s *Store) CountReadingsSince(ctx context.Context, scope domain.Scope, from time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM counter_readings
		WHERE owner_id = $1 AND config_id = $2 AND created_at >= $3
	`, scope.OwnerID, scope.ConfigID, from).Scan(&count)
	return count, err
}

func (s *Store) OrphanFirstReadings(ctx context.Context) ([]domain.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+readingColumns+`
		FROM counter_readings r
		WHERE NOT EXISTS (
			SELECT 1 FROM sales_records sr
			WHERE sr.end_reading_id = r.id
		)
		AND NOT EXISTS (
			SELECT 1 FROM counter_readings r2
			WHERE r2.owner_id = r.owner_id AND r2.config_id = r.config_id AND r2.id < r.id
		)
		ORDER BY r.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]domain.Reading, 0, 16)
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

func (s *Store) CreateSalesRecords(ctx context.Context, records []domain.SalesRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, record := range records {
		if record.ID == "" {
			record.ID = xid.New("sale")
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sales_records (id, owner_id, config_id, start_reading_id, end_reading_id, product, quantity_sold, unit_price, total_revenue, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, record.ID, record.OwnerID, record.ConfigID, record.StartReadingID, record.EndReadingID, record.Product, record.Quantity, record.UnitPrice, record.Revenue, record.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

const configColumns = `id, owner_id, name, cleaning_cost, products_per_day, ingredients, drinks, product_prices, created_at, updated_at`

func scanConfiguration(row interface{ Scan(...any) error }) (*domain.Configuration, error) {
	var cfg domain.Configuration
	var ingredients, drinks, prices []byte
	if err := row.Scan(&cfg.ID, &cfg.OwnerID, &cfg.Name, &cfg.CleaningCost, &cfg.ProductsPerDay, &ingredients, &drinks, &prices, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ingredients, &cfg.Ingredients); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(drinks, &cfg.Drinks); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(prices, &cfg.ProductPrices); err != nil {
		return nil, err
	}
	cfg.CreatedAt = cfg.CreatedAt.UTC()
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return &cfg, nil
}

func marshalConfigPayload(cfg domain.Configuration) (ingredients, drinks, prices []byte, err error) {
	if ingredients, err = json.Marshal(cfg.Ingredients); err != nil {
		return nil, nil, nil, err
	}
	if drinks, err = json.Marshal(cfg.Drinks); err != nil {
		return nil, nil, nil, err
	}
	if prices, err = json.Marshal(cfg.ProductPrices); err != nil {
		return nil, nil, nil, err
	}
	return ingredients, drinks, prices, nil
}

func (s *Store) CreateConfiguration(ctx context.Context, cfg domain.Configuration) (*domain.Configuration, error) {
	ingredients, drinks, prices, err := marshalConfigPayload(cfg)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO configurations (owner_id, name, cleaning_cost, products_per_day, ingredients, drinks, product_prices, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
		RETURNING `+configColumns+`
	`, cfg.OwnerID, cfg.Name, cfg.CleaningCost, cfg.ProductsPerDay, ingredients, drinks, prices)

	created, err := scanConfiguration(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) GetConfiguration(ctx context.Context, configID int64) (*domain.Configuration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+configColumns+`
		FROM configurations
		WHERE id = $1
	`, configID)

	cfg, err := scanConfiguration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return cfg, nil
}

func (s *Store) ListConfigurations(ctx context.Context, ownerID string) ([]domain.Configuration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+configColumns+`
		FROM configurations
		WHERE owner_id = $1
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := make([]domain.Configuration, 0, 16)
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *Store) UpdateConfiguration(ctx context.Context, cfg domain.Configuration) (*domain.Configuration, error) {
	ingredients, drinks, prices, err := marshalConfigPayload(cfg)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE configurations
		SET name = $3, cleaning_cost = $4, products_per_day = $5, ingredients = $6, drinks = $7, product_prices = $8, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+configColumns+`
	`, cfg.ID, cfg.OwnerID, cfg.Name, cfg.CleaningCost, cfg.ProductsPerDay, ingredients, drinks, prices)

	updated, err := scanConfiguration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return updated, nil
}

func (s *Store) DeleteConfiguration(ctx context.Context, ownerID string, configID int64) error {
	var readings int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM counter_readings
		WHERE owner_id = $1 AND config_id = $2
	`, ownerID, configID).Scan(&readings)
	if err != nil {
		return err
	}
	if readings > 0 {
		return store.ErrConflict
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM configurations
		WHERE id = $1 AND owner_id = $2
	`, configID, ownerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, owner_id, actor_role, action, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.OwnerID, entry.ActorRole, entry.Action, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_accounts (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM user_accounts
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_accounts
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
