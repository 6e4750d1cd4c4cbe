package engine

import (
	"cmp"
	"context"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// MigrationReport summarizes a Migrate run.
type MigrationReport struct {
	People int
	Audit  int
}

// Migrate copies every person and audit entry from src into dst in a single
// destination transaction. Tokens, statuses, timestamps and locations are
// kept; ids are reassigned by dst. This works for:
// - Embedded -> SQL (the "Upgrade")
// - SQL -> Embedded (the "Backup/Offline")
func Migrate(ctx context.Context, src Reader, dst Store) (MigrationReport, error) {
	people, err := src.People(ctx, Query{})
	if err != nil {
		return MigrationReport{}, errors.Wrap(err, "list people")
	}
	slices.SortFunc(people, func(a, b schema.Person) int { return cmp.Compare(a.ID, b.ID) })

	audit, err := src.AuditEntries(ctx, 0)
	if err != nil {
		return MigrationReport{}, errors.Wrap(err, "list audit entries")
	}
	// Replay oldest first so dst keeps the source order.
	slices.Reverse(audit)

	err = dst.Update(ctx, func(tx Tx) error {
		for _, p := range people {
			if _, err := tx.InsertPerson(ctx, p); err != nil {
				return errors.Wrapf(err, "copy person %q", p.FullName)
			}
		}
		for _, e := range audit {
			if err := tx.AppendAudit(ctx, e); err != nil {
				return errors.Wrapf(err, "copy audit entry %s", e.ID)
			}
		}
		return nil
	})
	if err != nil {
		return MigrationReport{}, err
	}
	return MigrationReport{People: len(people), Audit: len(audit)}, nil
}
