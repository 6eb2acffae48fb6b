package costing

import (
	"sort"

	"github.com/shopspring/decimal"

	"brewledger/backend/internal/domain"
)

// CostDrinks prices each drink recipe against the ingredient cost table.
// Ingredients missing from the table are skipped rather than failing the
// whole request; the cleaning cost is split evenly across products per day.
func CostDrinks(req domain.CalculateRequest) []domain.DrinkCost {
	cleaningPerProduct := decimal.Zero
	if req.ProductsPerDay > 0 {
		cleaningPerProduct = req.CleaningCost.Div(decimal.NewFromInt(int64(req.ProductsPerDay)))
	}

	results := make([]domain.DrinkCost, 0, len(req.Drinks))
	for _, drink := range req.Drinks {
		ingredientCost := decimal.Zero
		breakdown := make([]domain.CostBreakdownLine, 0, len(drink.Ingredients))

		names := make([]string, 0, len(drink.Ingredients))
		for name := range drink.Ingredients {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			unitCost, ok := req.Ingredients[name]
			if !ok {
				continue
			}
			amount := drink.Ingredients[name]
			lineCost := unitCost.Mul(amount)
			ingredientCost = ingredientCost.Add(lineCost)
			breakdown = append(breakdown, domain.CostBreakdownLine{
				Ingredient: name,
				Amount:     amount,
				UnitCost:   unitCost,
				TotalCost:  lineCost.Round(2),
			})
		}

		results = append(results, domain.DrinkCost{
			Name:                   drink.Name,
			TotalCost:              ingredientCost.Add(cleaningPerProduct).Round(2),
			CleaningCostPerProduct: cleaningPerProduct.Round(2),
			Breakdown:              breakdown,
		})
	}
	return results
}
