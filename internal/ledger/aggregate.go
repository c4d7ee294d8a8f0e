package ledger

import (
	"github.com/shopspring/decimal"

	"thunes/internal/core"
)

// The three fixed budget buckets. Category membership is by tag label,
// matched exactly.
const (
	CategoryNeeds   = "needs"
	CategoryWants   = "wants"
	CategorySavings = "savings"
)

// IdealSplit is the fixed 50/30/20 display reference for the category
// breakdown. It is a constant, not derived from data.
var IdealSplit = map[string]int64{
	CategoryNeeds:   50,
	CategoryWants:   30,
	CategorySavings: 20,
}

// Breakdown holds the aggregated totals for one account.
//
// Total carries its natural sign: expenses reduce it, income increases it.
// The three category fields are display magnitudes: the summed category
// amounts are sign-inverted so that spending shows as a positive number in
// the needs/wants/savings bars. The asymmetry is deliberate and mirrors the
// balance view's presentation rule.
type Breakdown struct {
	Total   decimal.Decimal
	Needs   decimal.Decimal
	Wants   decimal.Decimal
	Savings decimal.Decimal
}

// Aggregate computes the signed total and the per-category display totals
// over a transaction set. A transaction with no category tag contributes to
// Total only.
func Aggregate(txs []core.Transaction) Breakdown {
	b := Breakdown{
		Total:   decimal.Zero,
		Needs:   decimal.Zero,
		Wants:   decimal.Zero,
		Savings: decimal.Zero,
	}
	for _, tx := range txs {
		b.Total = b.Total.Add(tx.Amount)
		for _, tag := range tx.Tags {
			switch tag.Label {
			case CategoryNeeds:
				b.Needs = b.Needs.Sub(tx.Amount)
			case CategoryWants:
				b.Wants = b.Wants.Sub(tx.Amount)
			case CategorySavings:
				b.Savings = b.Savings.Sub(tx.Amount)
			}
		}
	}
	return b
}
