package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"brewledger/backend/internal/domain"
	"brewledger/backend/internal/store"
)

func TestReadingAndCashEventUnits(t *testing.T) {
	databaseURL := os.Getenv("BREWLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BREWLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	ownerID := fmt.Sprintf("owner-ledger-it-%d", time.Now().UnixNano())
	scope := domain.Scope{OwnerID: ownerID}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales_records WHERE owner_id = $1`, ownerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_events WHERE owner_id = $1`, ownerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM counter_readings WHERE owner_id = $1`, ownerID)
	})

	first, _, err := s.AppendReading(ctx, domain.Reading{
		OwnerID:  ownerID,
		Counters: map[string]int64{"espresso": 10},
		Cash:     decimal.RequireFromString("50.00"),
	}, nil)
	if err != nil {
		t.Fatalf("append first reading: %v", err)
	}

	second, sales, err := s.AppendReading(ctx, domain.Reading{
		OwnerID:  ownerID,
		Counters: map[string]int64{"espresso": 15},
		Cash:     decimal.RequireFromString("56.50"),
	}, []domain.SalesRecord{{
		StartReadingID: &first.ID,
		Product:        "espresso",
		Quantity:       5,
		UnitPrice:      decimal.RequireFromString("1.30"),
		Revenue:        decimal.RequireFromString("6.50"),
	}})
	if err != nil {
		t.Fatalf("append second reading: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected reading ids to increase, got %d then %d", first.ID, second.ID)
	}
	if len(sales) != 1 || sales[0].EndReadingID != second.ID {
		t.Fatalf("expected one sale ending at reading %d, got %+v", second.ID, sales)
	}

	latest, err := s.LatestReading(ctx, scope)
	if err != nil {
		t.Fatalf("latest reading: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("expected latest reading %d, got %d", second.ID, latest.ID)
	}
	prev, err := s.PreviousReading(ctx, scope, second.ID)
	if err != nil {
		t.Fatalf("previous reading: %v", err)
	}
	if prev.ID != first.ID {
		t.Fatalf("expected previous reading %d, got %d", first.ID, prev.ID)
	}

	event, synthetic, err := s.AppendCashEvent(ctx, domain.CashEvent{
		OwnerID:     ownerID,
		Type:        domain.CashEventWithdrawal,
		Amount:      decimal.RequireFromString("20.00"),
		Description: "bank run",
	}, &domain.Reading{
		OwnerID:  ownerID,
		Counters: latest.Counters,
		Cash:     latest.Cash.Sub(decimal.RequireFromString("20.00")),
		Notes:    "Auto-updated after withdrawal: bank run",
	})
	if err != nil {
		t.Fatalf("append cash event: %v", err)
	}
	if event.ID == "" {
		t.Fatal("expected event id")
	}
	if synthetic == nil || synthetic.Kind != domain.ReadingKindSynthetic {
		t.Fatalf("expected synthetic reading, got %+v", synthetic)
	}
	if !synthetic.Cash.Equal(decimal.RequireFromString("36.50")) {
		t.Fatalf("expected synthetic cash 36.50, got %s", synthetic.Cash)
	}
	if synthetic.Counters["espresso"] != 15 {
		t.Fatalf("expected counters carried forward, got %+v", synthetic.Counters)
	}

	if err := s.DeleteReading(ctx, scope, second.ID); err != nil {
		t.Fatalf("delete reading: %v", err)
	}
	remaining, err := s.SalesByEndReading(ctx, scope, second.ID)
	if err != nil {
		t.Fatalf("sales by end reading: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected cascade delete of sales, got %d records", len(remaining))
	}
	if _, err := s.GetReading(ctx, scope, second.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
