// Package sqlstore implements the engine record store on PostgreSQL and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/celerix-dev/celerix-presence/internal/engine"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

var (
	personColumns = []string{"id", "token", "full_name", "status", "last_update", "latitude", "longitude"}
	auditColumns  = []string{"id", "action", "actor", "old_status", "new_status", "latitude", "longitude", "detail", "created_at"}
)

// runner is satisfied by both *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is an engine.Store backed by a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

var _ engine.Store = (*Store)(nil)

// Open connects to the database, checks it is reachable and migrates the schema.
func Open(ctx context.Context, d Dialect, dsn string, logger *zap.Logger) (*Store, error) {
	if d.Name == SQLite.Name {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", d.Name)
	}
	if d.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Mark(errors.Wrapf(err, "ping %s", d.Name), schema.ErrDependency)
	}

	s := New(db, d, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. The schema is expected to be migrated.
func New(db *sql.DB, d Dialect, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, dialect: d, logger: logger.Named("sqlstore")}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(s.dialect.placeholders)
}

func (s *Store) Update(ctx context.Context, fn func(tx engine.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(&sqlTx{store: s, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

func (s *Store) PersonByToken(ctx context.Context, token string) (schema.Person, error) {
	return s.personWhere(ctx, s.db, sq.Eq{"token": token}, false)
}

func (s *Store) People(ctx context.Context, q engine.Query) ([]schema.Person, error) {
	query := s.builder().
		Select(personColumns...).
		From("people").
		OrderBy(s.dialect.nameOrder, "id")
	if q.ExcludeStatus != "" {
		query = query.Where(sq.NotEq{"status": string(q.ExcludeStatus)})
	}
	if q.NameContains != "" {
		query = query.Where(`name_key LIKE ? ESCAPE '\'`, "%"+escapeLike(q.NameContains)+"%")
	}
	if q.Limit > 0 {
		query = query.Limit(uint64(q.Limit))
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build people query")
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query people")
	}
	defer rows.Close()

	var people []schema.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, errors.Wrap(rows.Err(), "iterate people")
}

func (s *Store) CountByStatus(ctx context.Context) (map[schema.Status]int, error) {
	sqlStr, args, err := s.builder().
		Select("status", "COUNT(*)").
		From("people").
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build count query")
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "count people")
	}
	defer rows.Close()

	counts := make(map[schema.Status]int, len(schema.Statuses))
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		counts[schema.Status(status)] = n
	}
	return counts, errors.Wrap(rows.Err(), "iterate counts")
}

func (s *Store) AuditEntries(ctx context.Context, limit int) ([]schema.AuditEntry, error) {
	query := s.builder().
		Select(auditColumns...).
		From("audit_entries").
		OrderBy("seq DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build audit query")
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query audit entries")
	}
	defer rows.Close()

	var entries []schema.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "iterate audit entries")
}

func (s *Store) personWhere(ctx context.Context, r runner, pred sq.Eq, lock bool) (schema.Person, error) {
	query := s.builder().Select(personColumns...).From("people").Where(pred)
	if lock && s.dialect.lockRow != "" {
		query = query.Suffix(s.dialect.lockRow)
	}
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return schema.Person{}, errors.Wrap(err, "build person query")
	}
	p, err := scanPerson(r.QueryRowContext(ctx, sqlStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Person{}, errors.Wrap(schema.ErrNotFound, "no matching person")
	}
	return p, err
}

// sqlTx implements engine.Tx on a database transaction.
type sqlTx struct {
	store *Store
	tx    *sql.Tx
}

func (t *sqlTx) PersonByToken(ctx context.Context, token string) (schema.Person, error) {
	return t.store.personWhere(ctx, t.tx, sq.Eq{"token": token}, true)
}

func (t *sqlTx) PersonByID(ctx context.Context, id int64) (schema.Person, error) {
	return t.store.personWhere(ctx, t.tx, sq.Eq{"id": id}, true)
}

func (t *sqlTx) InsertPerson(ctx context.Context, p schema.Person) (int64, error) {
	lat, lon := coordinates(p.Location)
	sqlStr, args, err := t.store.builder().
		Insert("people").
		Columns("token", "full_name", "name_key", "status", "last_update", "latitude", "longitude").
		Values(p.Token, p.FullName, engine.FoldName(p.FullName), string(p.Status), p.LastUpdate.UTC(), lat, lon).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build insert")
	}
	var id int64
	if err := t.tx.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "insert person")
	}
	return id, nil
}

func (t *sqlTx) UpdatePerson(ctx context.Context, p schema.Person) error {
	lat, lon := coordinates(p.Location)
	sqlStr, args, err := t.store.builder().
		Update("people").
		Set("full_name", p.FullName).
		Set("name_key", engine.FoldName(p.FullName)).
		Set("status", string(p.Status)).
		Set("last_update", p.LastUpdate.UTC()).
		Set("latitude", lat).
		Set("longitude", lon).
		Where(sq.Eq{"id": p.ID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build update")
	}
	return t.execOne(ctx, sqlStr, args, p.ID)
}

func (t *sqlTx) ResetAll(ctx context.Context, status schema.Status, at time.Time) (int, error) {
	at = at.UTC()
	sqlStr, args, err := t.store.builder().
		Update("people").
		Set("status", string(status)).
		Set("last_update", sq.Expr("CASE WHEN last_update < ? THEN ? ELSE last_update END", at, at)).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build reset")
	}
	res, err := t.tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, errors.Wrap(err, "reset statuses")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return int(n), nil
}

func (t *sqlTx) DeletePerson(ctx context.Context, id int64) error {
	sqlStr, args, err := t.store.builder().
		Delete("people").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build delete")
	}
	return t.execOne(ctx, sqlStr, args, id)
}

func (t *sqlTx) AppendAudit(ctx context.Context, e schema.AuditEntry) error {
	lat, lon := coordinates(e.Location)
	sqlStr, args, err := t.store.builder().
		Insert("audit_entries").
		Columns(auditColumns...).
		Values(e.ID, string(e.Action), e.Actor, string(e.OldStatus), string(e.NewStatus), lat, lon, e.Detail, e.Timestamp.UTC()).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build audit insert")
	}
	if _, err := t.tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "insert audit entry")
	}
	return nil
}

func (t *sqlTx) execOne(ctx context.Context, sqlStr string, args []any, id int64) error {
	res, err := t.tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return errors.Wrapf(err, "write person %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(schema.ErrNotFound, "id %d", id)
	}
	return nil
}
