package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-presence/internal/engine"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presence.db")
	s, err := Open(context.Background(), SQLite, path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr(f float64) *float64 { return &f }

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLite_PersonRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	at := time.Date(2024, 5, 1, 9, 30, 0, 123456000, time.UTC)

	var id int64
	err := s.Update(ctx, func(tx engine.Tx) error {
		var err error
		id, err = tx.InsertPerson(ctx, schema.Person{
			Token: "tok-1", FullName: "Анна", Status: schema.StatusWork, LastUpdate: at,
			Location: &schema.Location{Latitude: 55.751244, Longitude: 37.618423},
		})
		return err
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	p, err := s.PersonByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "Анна", p.FullName)
	assert.Equal(t, schema.StatusWork, p.Status)
	assert.True(t, at.Equal(p.LastUpdate), "got %v", p.LastUpdate)
	require.NotNil(t, p.Location)
	assert.Equal(t, 55.751244, p.Location.Latitude)

	_, err = s.PersonByToken(ctx, "nope")
	assert.ErrorIs(t, err, schema.ErrNotFound)
}

func TestSQLite_RejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	err := s.Update(ctx, func(tx engine.Tx) error {
		_, err := tx.InsertPerson(ctx, schema.Person{Token: "t", FullName: "X", Status: "away", LastUpdate: time.Now()})
		return err
	})
	assert.Error(t, err)
}

func TestSQLite_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx engine.Tx) error {
		if _, err := tx.InsertPerson(ctx, schema.Person{Token: "t", FullName: "Анна", Status: schema.StatusInside, LastUpdate: time.Now()}); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, schema.AuditEntry{ID: "a", Action: schema.AuditCreate, Actor: "Анна", Timestamp: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	people, err := s.People(ctx, engine.Query{})
	require.NoError(t, err)
	assert.Empty(t, people)
	audit, err := s.AuditEntries(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestSQLite_ResetNeverMovesLastUpdateBack(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	err := s.Update(ctx, func(tx engine.Tx) error {
		for i, at := range []time.Time{future, past} {
			_, err := tx.InsertPerson(ctx, schema.Person{
				Token: fmt.Sprintf("t%d", i), FullName: fmt.Sprintf("P%d", i), Status: schema.StatusWork, LastUpdate: at,
			})
			if err != nil {
				return err
			}
		}
		n, err := tx.ResetAll(ctx, schema.StatusInside, now)
		assert.Equal(t, 2, n)
		return err
	})
	require.NoError(t, err)

	p0, _ := s.PersonByToken(ctx, "t0")
	p1, _ := s.PersonByToken(ctx, "t1")
	assert.True(t, future.Equal(p0.LastUpdate), "got %v", p0.LastUpdate)
	assert.True(t, now.Equal(p1.LastUpdate), "got %v", p1.LastUpdate)
	assert.Equal(t, schema.StatusInside, p0.Status)
}

func TestSQLite_SearchEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	e := engine.New(s, nil)

	_, err := e.Register(ctx, "Анна_Мария")
	require.NoError(t, err)
	_, err = e.Register(ctx, "Анна Мария")
	require.NoError(t, err)

	found, err := e.SearchByName(ctx, "а_м")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Анна_Мария", found[0].FullName)

	pct, err := e.SearchByName(ctx, "%%")
	require.NoError(t, err)
	assert.Empty(t, pct)
}

// The engine behaves the same on SQLite as on the embedded store.
func TestSQLite_EngineScenario(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	e := engine.New(s, nil)

	anna, err := e.Register(ctx, "Анна")
	require.NoError(t, err)
	boris, err := e.Register(ctx, "борис")
	require.NoError(t, err)
	vera, err := e.Register(ctx, "Вера")
	require.NoError(t, err)

	_, err = e.Transition(ctx, anna.Token, schema.TransitionRequest{Status: "work", Latitude: ptr(59.93), Longitude: ptr(30.31)})
	require.NoError(t, err)
	back, err := e.Transition(ctx, anna.Token, schema.TransitionRequest{Status: "request"})
	require.NoError(t, err)
	require.NotNil(t, back.Location, "location is sticky")
	assert.Equal(t, 59.93, back.Location.Latitude)

	_, err = e.Transition(ctx, boris.Token, schema.TransitionRequest{Status: "day_off"})
	require.NoError(t, err)

	counts, err := e.AggregateCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.Counts{Inside: 1, DayOff: 1, Request: 1, Total: 3}, counts)

	absent, err := e.ListAbsent(ctx)
	require.NoError(t, err)
	require.Len(t, absent, 2)
	// Code point order puts upper case Cyrillic before lower case.
	assert.Equal(t, "Анна", absent[0].FullName)
	assert.Equal(t, "борис", absent[1].FullName)

	found, err := e.SearchByName(ctx, "БОР")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, boris.ID, found[0].ID)

	res, err := e.BulkReset(ctx, "op")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Affected)

	after, _ := e.GetStatus(ctx, anna.Token)
	assert.Equal(t, schema.StatusInside, after.Status)
	require.NotNil(t, after.Location)

	_, err = e.DeletePerson(ctx, boris.ID, "op")
	require.NoError(t, err)
	_, err = e.GetStatus(ctx, boris.Token)
	assert.ErrorIs(t, err, schema.ErrNotFound)

	remaining, err := e.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, anna.ID, remaining[0].ID)
	assert.Equal(t, vera.ID, remaining[1].ID)
	for _, tok := range []string{anna.Token, vera.Token} {
		p, err := e.GetStatus(ctx, tok)
		require.NoError(t, err)
		assert.Equal(t, schema.StatusInside, p.Status)
	}

	audit, err := e.RecentAudit(ctx, 100)
	require.NoError(t, err)
	require.Len(t, audit, 8)
	assert.Equal(t, schema.AuditDelete, audit[0].Action)
	assert.Equal(t, schema.AuditBulkReset, audit[1].Action)
	assert.Equal(t, schema.AuditCreate, audit[7].Action)
	assert.Equal(t, schema.StatusNew, audit[7].OldStatus)
	require.NotNil(t, audit[4].Location)
	assert.Equal(t, 30.31, audit[4].Location.Longitude)
}

func TestSQLite_ConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	e := engine.New(s, nil)
	p, err := e.Register(ctx, "Анна")
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Transition(ctx, p.Token, schema.TransitionRequest{Status: string(schema.Statuses[i%4])})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	audit, err := e.RecentAudit(ctx, 100)
	require.NoError(t, err)
	require.Len(t, audit, workers+1)
	for i := 0; i < workers; i++ {
		assert.Equal(t, audit[i+1].NewStatus, audit[i].OldStatus)
	}
}

func TestSQLite_ClosedStoreIsDependencyFailure(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	e := engine.New(s, nil)
	require.NoError(t, s.Close())

	_, err := e.AggregateCounts(ctx)
	assert.True(t, errors.Is(err, schema.ErrDependency), "got %v", err)
	_, err = e.Register(ctx, "Анна")
	assert.True(t, errors.Is(err, schema.ErrDependency), "got %v", err)
}

func TestMigrateMemStoreIntoSQLite(t *testing.T) {
	ctx := context.Background()
	mem := engine.NewMemStore(engine.Snapshot{}, nil, nil)
	src := engine.New(mem, nil)
	a, _ := src.Register(ctx, "Анна")
	b, _ := src.Register(ctx, "Борис")
	_, _ = src.Transition(ctx, a.Token, schema.TransitionRequest{Status: "work", Latitude: ptr(1), Longitude: ptr(2)})
	_, _ = src.DeletePerson(ctx, b.ID, "op")

	dst := openSQLite(t)
	report, err := engine.Migrate(ctx, mem, dst)
	require.NoError(t, err)
	assert.Equal(t, engine.MigrationReport{People: 1, Audit: 4}, report)

	got, err := dst.PersonByToken(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusWork, got.Status)
	require.NotNil(t, got.Location)

	srcAudit, _ := mem.AuditEntries(ctx, 0)
	dstAudit, _ := dst.AuditEntries(ctx, 0)
	require.Len(t, dstAudit, len(srcAudit))
	for i := range srcAudit {
		assert.Equal(t, srcAudit[i].ID, dstAudit[i].ID)
	}

	_, err = engine.Migrate(ctx, mem, dst)
	assert.Error(t, err, "a second run collides on tokens and audit ids")
}
