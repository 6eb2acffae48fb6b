package costing

import (
	"testing"

	"github.com/shopspring/decimal"

	"brewledger/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCostDrinksSplitsCleaningCost(t *testing.T) {
	results := CostDrinks(domain.CalculateRequest{
		Ingredients: map[string]decimal.Decimal{
			"coffee": dec("25.00"),
			"milk":   dec("1.20"),
		},
		Drinks: []domain.DrinkSpec{
			{
				Name: "cappuccino",
				Ingredients: map[string]decimal.Decimal{
					"coffee": dec("0.008"),
					"milk":   dec("0.15"),
				},
			},
		},
		CleaningCost:   dec("5.00"),
		ProductsPerDay: 50,
	})

	if len(results) != 1 {
		t.Fatalf("expected one drink, got %d", len(results))
	}
	drink := results[0]
	if !drink.CleaningCostPerProduct.Equal(dec("0.10")) {
		t.Fatalf("expected cleaning cost per product 0.10, got %s", drink.CleaningCostPerProduct)
	}
	// 0.008*25.00 + 0.15*1.20 + 0.10 = 0.20 + 0.18 + 0.10
	if !drink.TotalCost.Equal(dec("0.48")) {
		t.Fatalf("expected total cost 0.48, got %s", drink.TotalCost)
	}
	if len(drink.Breakdown) != 2 {
		t.Fatalf("expected two breakdown lines, got %d", len(drink.Breakdown))
	}
	if drink.Breakdown[0].Ingredient != "coffee" || drink.Breakdown[1].Ingredient != "milk" {
		t.Fatalf("expected breakdown sorted by ingredient, got %+v", drink.Breakdown)
	}
	if !drink.Breakdown[0].TotalCost.Equal(dec("0.20")) {
		t.Fatalf("expected coffee line cost 0.20, got %s", drink.Breakdown[0].TotalCost)
	}
}

func TestCostDrinksSkipsUnknownIngredients(t *testing.T) {
	results := CostDrinks(domain.CalculateRequest{
		Ingredients: map[string]decimal.Decimal{
			"coffee": dec("25.00"),
		},
		Drinks: []domain.DrinkSpec{
			{
				Name: "espresso",
				Ingredients: map[string]decimal.Decimal{
					"coffee": dec("0.008"),
					"sugar":  dec("0.01"),
				},
			},
		},
		CleaningCost:   dec("0"),
		ProductsPerDay: 0,
	})

	drink := results[0]
	if len(drink.Breakdown) != 1 {
		t.Fatalf("expected unknown ingredient skipped, got %+v", drink.Breakdown)
	}
	if !drink.TotalCost.Equal(dec("0.20")) {
		t.Fatalf("expected total cost 0.20, got %s", drink.TotalCost)
	}
	if !drink.CleaningCostPerProduct.IsZero() {
		t.Fatalf("expected zero cleaning cost with zero products per day, got %s", drink.CleaningCostPerProduct)
	}
}
