package sqlstore

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-presence/internal/engine"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Store) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	store := New(db, Postgres, logger)

	return db, mock, store
}

var mockPersonColumns = []string{"id", "token", "full_name", "status", "last_update", "latitude", "longitude"}

func TestPostgres_TransitionLocksRow(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e := engine.New(store, nil, engine.WithClock(func() time.Time { return now }))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT id, token, full_name, status, last_update, latitude, longitude FROM people WHERE token = $1 FOR UPDATE`)).
		WithArgs("tok-7").
		WillReturnRows(sqlmock.NewRows(mockPersonColumns).
			AddRow(int64(7), "tok-7", "Анна", "inside", now.Add(-time.Hour), 55.7, 37.6))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE people SET full_name = $1, name_key = $2, status = $3, last_update = $4, latitude = $5, longitude = $6 WHERE id = $7`)).
		WithArgs("Анна", "анна", "work", now, 55.7, 37.6, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_entries`).
		WithArgs(sqlmock.AnyArg(), "transition", "Анна", "inside", "work", nil, nil, "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, err := e.Transition(context.Background(), "tok-7", schema.TransitionRequest{Status: "work"})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusWork, p.Status)
	require.NotNil(t, p.Location)
	assert.Equal(t, 55.7, p.Location.Latitude)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AuditFailureRollsBack(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()
	e := engine.New(store, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM people WHERE token = \$1 FOR UPDATE`).
		WithArgs("tok-7").
		WillReturnRows(sqlmock.NewRows(mockPersonColumns).
			AddRow(int64(7), "tok-7", "Анна", "inside", time.Now(), nil, nil))
	mock.ExpectExec(`UPDATE people SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_entries`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := e.Transition(context.Background(), "tok-7", schema.TransitionRequest{Status: "work"})
	assert.True(t, errors.Is(err, schema.ErrDependency), "got %v", err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UnknownTokenRollsBack(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()
	e := engine.New(store, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM people WHERE token = \$1 FOR UPDATE`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(mockPersonColumns))
	mock.ExpectRollback()

	_, err := e.Transition(context.Background(), "ghost", schema.TransitionRequest{Status: "work"})
	assert.ErrorIs(t, err, schema.ErrNotFound)
	assert.False(t, errors.Is(err, schema.ErrDependency))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_BeginFailure(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()
	e := engine.New(store, nil)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := e.BulkReset(context.Background(), "op")
	assert.True(t, errors.Is(err, schema.ErrDependency), "got %v", err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AbsentQuery(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT id, token, full_name, status, last_update, latitude, longitude FROM people WHERE status <> $1 ORDER BY full_name COLLATE "C", id`)).
		WithArgs("inside").
		WillReturnRows(sqlmock.NewRows(mockPersonColumns).
			AddRow(int64(2), "b", "Борис", "work", time.Now(), 1.5, 2.5).
			AddRow(int64(3), "c", "Вера", "day_off", time.Now(), nil, nil))

	people, err := store.People(context.Background(), engine.Query{ExcludeStatus: schema.StatusInside})
	require.NoError(t, err)
	require.Len(t, people, 2)
	require.NotNil(t, people[0].Location)
	assert.Equal(t, 2.5, people[0].Location.Longitude)
	assert.Nil(t, people[1].Location)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SearchQuery(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE name_key LIKE \$1 ESCAPE .* LIMIT 10`).
		WithArgs(`%50\%%`).
		WillReturnRows(sqlmock.NewRows(mockPersonColumns))

	people, err := store.People(context.Background(), engine.Query{NameContains: "50%", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, people)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountByStatus(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status, COUNT(*) FROM people GROUP BY status`)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("inside", 4).
			AddRow("work", 2))

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[schema.StatusInside])
	assert.Equal(t, 2, counts[schema.StatusWork])
	assert.Zero(t, counts[schema.StatusRequest])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteMissingPerson(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM people WHERE id = $1`)).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Update(context.Background(), func(tx engine.Tx) error {
		return tx.DeletePerson(context.Background(), 42)
	})
	assert.ErrorIs(t, err, schema.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDialectByName(t *testing.T) {
	d, err := DialectByName("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name)

	d, err = DialectByName("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name)

	_, err = DialectByName("mysql")
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite", sqliteDSN("a.db"))
	assert.Equal(t, "a.db?_pragma=foreign_keys(1)&_time_format=sqlite", sqliteDSN("a.db?_pragma=foreign_keys(1)"))
}
