package sqlstore

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
)

// Dialect captures what differs between the supported SQL engines.
type Dialect struct {
	Name string

	driver       string
	gooseDialect string
	migrations   string
	placeholders sq.PlaceholderFormat
	// lockRow is appended to reads that precede an update in the same transaction.
	lockRow string
	// nameOrder sorts by the code points of the full name.
	nameOrder string
}

var (
	Postgres = Dialect{
		Name:         "postgres",
		driver:       "pgx",
		gooseDialect: "postgres",
		migrations:   "migrations/postgres",
		placeholders: sq.Dollar,
		lockRow:      "FOR UPDATE",
		nameOrder:    `full_name COLLATE "C"`,
	}
	// SQLite runs with a single connection, so writers are serialized by the
	// pool and no row lock is needed.
	SQLite = Dialect{
		Name:         "sqlite",
		driver:       "sqlite",
		gooseDialect: "sqlite3",
		migrations:   "migrations/sqlite",
		placeholders: sq.Question,
		nameOrder:    "full_name",
	}
)

// DialectByName resolves a storage backend name.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Dialect{}, errors.Newf("unknown sql dialect %q", name)
}

// sqliteDSN adds the connection options the store relies on unless the
// caller set them.
func sqliteDSN(path string) string {
	var opts []string
	if !strings.Contains(path, "_pragma=") {
		opts = append(opts, "_pragma=busy_timeout(5000)", "_pragma=journal_mode(WAL)")
	}
	if !strings.Contains(path, "_time_format=") {
		opts = append(opts, "_time_format=sqlite")
	}
	if len(opts) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(opts, "&")
}
