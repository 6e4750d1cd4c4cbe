// Package engine implements the presence status engine and the record store
// contract it runs on.
package engine

import (
	"context"
	"time"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"golang.org/x/text/cases"
)

// Store is the record store the engine reads and writes through.
// Every mutation happens inside Update so that a person change and its audit
// entry are committed together or not at all.
type Store interface {
	Reader
	// Update runs fn in a transaction. If fn returns an error nothing it did
	// is observable afterwards.
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Reader holds the read side of the record store.
type Reader interface {
	// PersonByToken returns schema.ErrNotFound for an unknown token.
	PersonByToken(ctx context.Context, token string) (schema.Person, error)
	// People lists people ordered by full name, then id.
	People(ctx context.Context, q Query) ([]schema.Person, error)
	CountByStatus(ctx context.Context) (map[schema.Status]int, error)
	// AuditEntries returns the newest entries first. A limit <= 0 returns all of them.
	AuditEntries(ctx context.Context, limit int) ([]schema.AuditEntry, error)
}

// Tx is the write side of the record store, valid for the duration of one Update.
type Tx interface {
	PersonByToken(ctx context.Context, token string) (schema.Person, error)
	PersonByID(ctx context.Context, id int64) (schema.Person, error)
	// InsertPerson stores p and returns the id assigned to it. p.ID is ignored.
	InsertPerson(ctx context.Context, p schema.Person) (int64, error)
	UpdatePerson(ctx context.Context, p schema.Person) error
	// ResetAll moves every person to status and stamps last update with at,
	// never moving a last update backwards. It returns the number of rows touched.
	ResetAll(ctx context.Context, status schema.Status, at time.Time) (int, error)
	DeletePerson(ctx context.Context, id int64) error
	AppendAudit(ctx context.Context, e schema.AuditEntry) error
}

// Query filters People. The zero value lists everybody.
type Query struct {
	// ExcludeStatus drops people in that status when set.
	ExcludeStatus schema.Status
	// NameContains keeps people whose folded name contains this folded substring.
	NameContains string
	Limit        int
}

// FoldName returns the case-folded form of a name used for case-insensitive search.
func FoldName(s string) string {
	return cases.Fold().String(s)
}
