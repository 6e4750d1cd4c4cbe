package sqlstore

import (
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanPerson(row scanner) (schema.Person, error) {
	var (
		p        schema.Person
		status   string
		updated  dbTime
		lat, lon sql.NullFloat64
	)
	if err := row.Scan(&p.ID, &p.Token, &p.FullName, &status, &updated, &lat, &lon); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schema.Person{}, err
		}
		return schema.Person{}, errors.Wrap(err, "scan person")
	}
	p.Status = schema.Status(status)
	p.LastUpdate = updated.Time
	p.Location = location(lat, lon)
	return p, nil
}

func scanAudit(row scanner) (schema.AuditEntry, error) {
	var (
		e                 schema.AuditEntry
		action, old, next string
		created           dbTime
		lat, lon          sql.NullFloat64
	)
	if err := row.Scan(&e.ID, &action, &e.Actor, &old, &next, &lat, &lon, &e.Detail, &created); err != nil {
		return schema.AuditEntry{}, errors.Wrap(err, "scan audit entry")
	}
	e.Action = schema.AuditAction(action)
	e.OldStatus = schema.Status(old)
	e.NewStatus = schema.Status(next)
	e.Location = location(lat, lon)
	e.Timestamp = created.Time
	return e, nil
}

func location(lat, lon sql.NullFloat64) *schema.Location {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &schema.Location{Latitude: lat.Float64, Longitude: lon.Float64}
}

func coordinates(l *schema.Location) (lat, lon sql.NullFloat64) {
	if l == nil {
		return lat, lon
	}
	return sql.NullFloat64{Float64: l.Latitude, Valid: true}, sql.NullFloat64{Float64: l.Longitude, Valid: true}
}

// escapeLike escapes the LIKE wildcards of s for use with ESCAPE '\'.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// dbTime scans timestamps from drivers that return time.Time as well as from
// those that hand back the stored text.
type dbTime struct {
	Time time.Time
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

func (t *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case time.Time:
		t.Time = x.UTC()
		return nil
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return errors.Newf("unsupported timestamp type %T", v)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return errors.Newf("unparseable timestamp %q", s)
}
