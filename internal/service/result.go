package service

import "github.com/comanda-pos/api/internal/database"

// Outcome distinguishes a clean commit from one where a best-effort side
// effect (client statistics, receivable) failed without blocking the
// primary transition.
type Outcome string

const (
	OutcomeCommitted             Outcome = "COMMITTED"
	OutcomeCommittedWithWarnings Outcome = "COMMITTED_WITH_WARNINGS"
)

// Result is the committed state of an order mutation.
type Result struct {
	Order    database.Order
	Items    []database.OrderItem
	Outcome  Outcome
	Warnings []string
}

func newResult(order database.Order, items []database.OrderItem, warnings []string) *Result {
	outcome := OutcomeCommitted
	if len(warnings) > 0 {
		outcome = OutcomeCommittedWithWarnings
	}
	return &Result{Order: order, Items: items, Outcome: outcome, Warnings: warnings}
}
