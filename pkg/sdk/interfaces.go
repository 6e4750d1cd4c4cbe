package sdk

import (
	"context"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// Errors are shared with the engine so that errors.Is works the same way
// against the embedded engine and the remote client.
var (
	ErrValidation = schema.ErrValidation
	ErrNotFound   = schema.ErrNotFound
	ErrDependency = schema.ErrDependency
)

// DefaultOperator is the actor recorded when the caller does not identify itself.
const DefaultOperator = schema.DefaultOperator

// --- Functional Interfaces (Interface Segregation) ---

// StatusReader reads the status of a single person by external token.
type StatusReader interface {
	GetStatus(ctx context.Context, token string) (schema.Person, error)
}

// StatusWriter registers people and moves them between statuses.
type StatusWriter interface {
	Register(ctx context.Context, fullName string) (schema.Person, error)
	Transition(ctx context.Context, token string, req schema.TransitionRequest) (schema.Person, error)
}

// Roster exposes the operator views over all people.
type Roster interface {
	AggregateCounts(ctx context.Context) (schema.Counts, error)
	ListAbsent(ctx context.Context) ([]schema.AbsentPerson, error)
	ListAll(ctx context.Context) ([]schema.RosterEntry, error)
	SearchByName(ctx context.Context, query string) ([]schema.RosterEntry, error)
}

// Administration holds the destructive operator actions.
type Administration interface {
	BulkReset(ctx context.Context, actor string) (schema.ResetResult, error)
	DeletePerson(ctx context.Context, id int64, actor string) (schema.DeleteResult, error)
}

// AuditReader reads the audit trail, newest first.
type AuditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]schema.AuditEntry, error)
}

// --- Composite Interfaces ---

// PresenceService is the full operation surface.
// Both the embedded engine and the remote client implement this contract.
type PresenceService interface {
	StatusReader
	StatusWriter
	Roster
	Administration
	AuditReader
}
