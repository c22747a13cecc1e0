package audit

import (
	"context"

	"github.com/comanda-pos/api/internal/database"
)

// Actor identifies who performed a mutating action, for attribution in the
// audit log. It is resolved from the authenticated request by the handlers.
type Actor struct {
	ID   string
	Name string
}

// System is the actor recorded for timer-driven mutations.
var System = Actor{ID: "system", Name: "delivery scheduler"}

// Sink accepts audit entries. *database.Queries satisfies it, so an entry
// written through a tx-scoped store commits atomically with the mutation it
// describes.
type Sink interface {
	CreateAuditEntry(ctx context.Context, arg database.CreateAuditEntryParams) (database.AuditEntry, error)
}

// Record writes one entry to the sink.
func Record(ctx context.Context, sink Sink, actor Actor, action, details string) error {
	_, err := sink.CreateAuditEntry(ctx, database.CreateAuditEntryParams{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Action:    action,
		Details:   details,
	})
	return err
}
