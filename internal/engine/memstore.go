package engine

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// MemStore is the embedded, thread-safe record store.
// Writers work on a staged copy of the roster that replaces the live one only
// when the transaction function succeeds.
type MemStore struct {
	mu      sync.RWMutex
	people  map[int64]schema.Person
	tokens  map[string]int64
	nextID  int64
	audit   []schema.AuditEntry // oldest first
	version uint64

	persister *Persistence
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewMemStore initializes a store from an existing snapshot (from Load) and a
// persister. Both may be zero.
func NewMemStore(initial Snapshot, p *Persistence, logger *zap.Logger) *MemStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MemStore{
		people:    make(map[int64]schema.Person, len(initial.People)),
		tokens:    make(map[string]int64, len(initial.People)),
		nextID:    initial.NextID,
		audit:     slices.Clone(initial.Audit),
		persister: p,
		logger:    logger,
	}
	for _, person := range initial.People {
		m.people[person.ID] = person
		m.tokens[person.Token] = person.ID
		m.nextID = max(m.nextID, person.ID)
	}
	return m
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// Close flushes pending snapshots.
func (m *MemStore) Close() error {
	m.Wait()
	return nil
}

// Snapshot returns a copy of the current state.
func (m *MemStore) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// snapshotLocked MUST be called while holding m.mu.
func (m *MemStore) snapshotLocked() Snapshot {
	people := make([]schema.Person, 0, len(m.people))
	for _, p := range m.people {
		people = append(people, clonePerson(p))
	}
	slices.SortFunc(people, func(a, b schema.Person) int { return cmp.Compare(a.ID, b.ID) })
	audit := make([]schema.AuditEntry, len(m.audit))
	for i, e := range m.audit {
		audit[i] = cloneEntry(e)
	}
	return Snapshot{NextID: m.nextID, People: people, Audit: audit}
}

func (m *MemStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "memstore update")
	}

	version, snap, err := m.commit(fn)
	if err != nil {
		return err
	}

	if m.persister != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.persister.Save(version, snap); err != nil {
				m.logger.Error("persist snapshot", zap.Uint64("version", version), zap.Error(err))
			}
		}()
	}
	return nil
}

// commit runs fn against staged copies and swaps them in on success.
func (m *MemStore) commit(fn func(tx Tx) error) (uint64, Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		people: maps.Clone(m.people),
		tokens: maps.Clone(m.tokens),
		nextID: m.nextID,
	}
	if err := fn(tx); err != nil {
		return 0, Snapshot{}, err
	}
	m.people, m.tokens, m.nextID = tx.people, tx.tokens, tx.nextID
	m.audit = append(m.audit, tx.audit...)
	m.version++
	return m.version, m.snapshotLocked(), nil
}

func (m *MemStore) PersonByToken(_ context.Context, token string) (schema.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookupToken(m.people, m.tokens, token)
}

func (m *MemStore) People(_ context.Context, q Query) ([]schema.Person, error) {
	m.mu.RLock()
	list := make([]schema.Person, 0, len(m.people))
	for _, p := range m.people {
		if q.ExcludeStatus != "" && p.Status == q.ExcludeStatus {
			continue
		}
		if q.NameContains != "" && !strings.Contains(FoldName(p.FullName), q.NameContains) {
			continue
		}
		list = append(list, clonePerson(p))
	}
	m.mu.RUnlock()

	slices.SortFunc(list, func(a, b schema.Person) int {
		return cmp.Or(strings.Compare(a.FullName, b.FullName), cmp.Compare(a.ID, b.ID))
	})
	if q.Limit > 0 && len(list) > q.Limit {
		list = list[:q.Limit]
	}
	return list, nil
}

func (m *MemStore) CountByStatus(_ context.Context) (map[schema.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[schema.Status]int, len(schema.Statuses))
	for _, p := range m.people {
		counts[p.Status]++
	}
	return counts, nil
}

func (m *MemStore) AuditEntries(_ context.Context, limit int) ([]schema.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.audit)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]schema.AuditEntry, 0, n)
	for i := len(m.audit) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneEntry(m.audit[i]))
	}
	return out, nil
}

// memTx stages changes against private copies of the roster maps.
type memTx struct {
	people map[int64]schema.Person
	tokens map[string]int64
	nextID int64
	audit  []schema.AuditEntry
}

func (tx *memTx) PersonByToken(_ context.Context, token string) (schema.Person, error) {
	return lookupToken(tx.people, tx.tokens, token)
}

func (tx *memTx) PersonByID(_ context.Context, id int64) (schema.Person, error) {
	p, ok := tx.people[id]
	if !ok {
		return schema.Person{}, errors.Wrapf(schema.ErrNotFound, "id %d", id)
	}
	return clonePerson(p), nil
}

func (tx *memTx) InsertPerson(_ context.Context, p schema.Person) (int64, error) {
	if _, taken := tx.tokens[p.Token]; taken {
		return 0, errors.New("token already registered")
	}
	tx.nextID++
	p.ID = tx.nextID
	tx.people[p.ID] = clonePerson(p)
	tx.tokens[p.Token] = p.ID
	return p.ID, nil
}

func (tx *memTx) UpdatePerson(_ context.Context, p schema.Person) error {
	if _, ok := tx.people[p.ID]; !ok {
		return errors.Wrapf(schema.ErrNotFound, "id %d", p.ID)
	}
	tx.people[p.ID] = clonePerson(p)
	return nil
}

func (tx *memTx) ResetAll(_ context.Context, status schema.Status, at time.Time) (int, error) {
	for id, p := range tx.people {
		p.Status = status
		if p.LastUpdate.Before(at) {
			p.LastUpdate = at
		}
		tx.people[id] = p
	}
	return len(tx.people), nil
}

func (tx *memTx) DeletePerson(_ context.Context, id int64) error {
	p, ok := tx.people[id]
	if !ok {
		return errors.Wrapf(schema.ErrNotFound, "id %d", id)
	}
	delete(tx.people, id)
	delete(tx.tokens, p.Token)
	return nil
}

func (tx *memTx) AppendAudit(_ context.Context, e schema.AuditEntry) error {
	tx.audit = append(tx.audit, cloneEntry(e))
	return nil
}

func lookupToken(people map[int64]schema.Person, tokens map[string]int64, token string) (schema.Person, error) {
	id, ok := tokens[token]
	if !ok {
		return schema.Person{}, errors.Wrap(schema.ErrNotFound, "unknown token")
	}
	return clonePerson(people[id]), nil
}

// clonePerson detaches the location so callers cannot reach into the store.
func clonePerson(p schema.Person) schema.Person {
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	return p
}

func cloneEntry(e schema.AuditEntry) schema.AuditEntry {
	if e.Location != nil {
		loc := *e.Location
		e.Location = &loc
	}
	return e
}
