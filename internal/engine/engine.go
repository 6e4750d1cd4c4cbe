package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-presence/internal/metrics"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

const (
	minNameLength  = 2
	minQueryLength = 2
	searchLimit    = 10

	DefaultAuditLimit = 50
	MaxAuditLimit     = 500
)

// Mirror receives every committed audit entry, after the commit.
// Mirror failures are logged and never undo or fail the operation.
type Mirror interface {
	Record(ctx context.Context, e schema.AuditEntry) error
}

// Engine owns the presence rules. It is safe for concurrent use; all
// coordination happens in the Store.
type Engine struct {
	store    Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
	mirrors  []Mirror
	now      func() time.Time
	newToken func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTokenGenerator replaces the uuid token generator.
func WithTokenGenerator(gen func() string) Option {
	return func(e *Engine) { e.newToken = gen }
}

// WithMirror adds a post-commit audit mirror.
func WithMirror(m Mirror) Option {
	return func(e *Engine) { e.mirrors = append(e.mirrors, m) }
}

// WithMetrics enables operation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine on top of store.
func New(store Store, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:    store,
		logger:   logger,
		now:      time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying record store.
func (e *Engine) Store() Store { return e.store }

// clock returns the current time in UTC at the precision every store keeps.
func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func (e *Engine) Register(ctx context.Context, fullName string) (_ schema.Person, err error) {
	defer e.observe("register", time.Now(), &err)

	name := strings.TrimSpace(fullName)
	if utf8.RuneCountInString(name) < minNameLength {
		return schema.Person{}, e.fail("register", errors.Wrapf(schema.ErrValidation,
			"full name must be at least %d characters", minNameLength))
	}

	var created schema.Person
	var entry schema.AuditEntry
	err = e.store.Update(ctx, func(tx Tx) error {
		now := e.clock()
		p := schema.Person{
			Token:      e.newToken(),
			FullName:   name,
			Status:     schema.StatusInside,
			LastUpdate: now,
		}
		id, err := tx.InsertPerson(ctx, p)
		if err != nil {
			return errors.Wrap(err, "insert person")
		}
		p.ID = id

		entry = e.newEntry(schema.AuditCreate, name, now)
		entry.OldStatus = schema.StatusNew
		entry.NewStatus = schema.StatusInside
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return errors.Wrap(err, "append audit")
		}
		created = p
		return nil
	})
	if err != nil {
		return schema.Person{}, e.fail("register", err)
	}

	e.logger.Info("person registered", zap.Int64("id", created.ID), zap.String("full_name", created.FullName))
	e.publish(ctx, entry)
	return created, nil
}

func (e *Engine) GetStatus(ctx context.Context, token string) (_ schema.Person, err error) {
	defer e.observe("get_status", time.Now(), &err)

	p, err := e.store.PersonByToken(ctx, token)
	if err != nil {
		return schema.Person{}, e.fail("get_status", err)
	}
	return p, nil
}

func (e *Engine) Transition(ctx context.Context, token string, req schema.TransitionRequest) (_ schema.Person, err error) {
	defer e.observe("transition", time.Now(), &err)

	status, err := schema.ParseStatus(req.Status)
	if err != nil {
		return schema.Person{}, e.fail("transition", err)
	}
	loc := req.Location()
	if loc != nil && !loc.Valid() {
		return schema.Person{}, e.fail("transition", errors.Wrapf(schema.ErrValidation,
			"coordinates out of range: %v, %v", loc.Latitude, loc.Longitude))
	}

	var updated schema.Person
	var entry schema.AuditEntry
	err = e.store.Update(ctx, func(tx Tx) error {
		p, err := tx.PersonByToken(ctx, token)
		if err != nil {
			return err
		}
		old := p.Status

		now := e.clock()
		if now.Before(p.LastUpdate) {
			now = p.LastUpdate
		}
		p.Status = status
		p.LastUpdate = now
		if loc != nil {
			p.Location = loc
		}
		if err := tx.UpdatePerson(ctx, p); err != nil {
			return errors.Wrap(err, "update person")
		}

		entry = e.newEntry(schema.AuditTransition, p.FullName, now)
		entry.OldStatus = old
		entry.NewStatus = status
		if loc != nil {
			l := *loc
			entry.Location = &l
		}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return errors.Wrap(err, "append audit")
		}
		updated = p
		return nil
	})
	if err != nil {
		return schema.Person{}, e.fail("transition", err)
	}

	e.metrics.CountTransition(status)
	e.logger.Debug("status changed",
		zap.Int64("id", updated.ID),
		zap.String("from", entry.OldStatus.String()),
		zap.String("to", status.String()),
		zap.Bool("with_location", loc != nil))
	e.publish(ctx, entry)
	return updated, nil
}

func (e *Engine) AggregateCounts(ctx context.Context) (_ schema.Counts, err error) {
	defer e.observe("stats", time.Now(), &err)

	byStatus, err := e.store.CountByStatus(ctx)
	if err != nil {
		return schema.Counts{}, e.fail("stats", err)
	}
	var c schema.Counts
	for _, s := range schema.Statuses {
		c.Add(s, byStatus[s])
	}
	e.metrics.SetRoster(c)
	return c, nil
}

func (e *Engine) ListAbsent(ctx context.Context) (_ []schema.AbsentPerson, err error) {
	defer e.observe("absent", time.Now(), &err)

	people, err := e.store.People(ctx, Query{ExcludeStatus: schema.StatusInside})
	if err != nil {
		return nil, e.fail("absent", err)
	}
	out := make([]schema.AbsentPerson, 0, len(people))
	for _, p := range people {
		out = append(out, p.Absent())
	}
	return out, nil
}

func (e *Engine) ListAll(ctx context.Context) (_ []schema.RosterEntry, err error) {
	defer e.observe("users", time.Now(), &err)

	people, err := e.store.People(ctx, Query{})
	if err != nil {
		return nil, e.fail("users", err)
	}
	return rosterOf(people), nil
}

func (e *Engine) SearchByName(ctx context.Context, query string) (_ []schema.RosterEntry, err error) {
	defer e.observe("search", time.Now(), &err)

	q := strings.TrimSpace(query)
	if utf8.RuneCountInString(q) < minQueryLength {
		return nil, e.fail("search", errors.Wrapf(schema.ErrValidation,
			"query must be at least %d characters", minQueryLength))
	}
	people, err := e.store.People(ctx, Query{NameContains: FoldName(q), Limit: searchLimit})
	if err != nil {
		return nil, e.fail("search", err)
	}
	return rosterOf(people), nil
}

func (e *Engine) BulkReset(ctx context.Context, actor string) (_ schema.ResetResult, err error) {
	defer e.observe("reset", time.Now(), &err)

	actor = operatorOrDefault(actor)
	var affected int
	var entry schema.AuditEntry
	err = e.store.Update(ctx, func(tx Tx) error {
		now := e.clock()
		n, err := tx.ResetAll(ctx, schema.StatusInside, now)
		if err != nil {
			return errors.Wrap(err, "reset statuses")
		}
		affected = n

		entry = e.newEntry(schema.AuditBulkReset, actor, now)
		entry.NewStatus = schema.StatusInside
		entry.Detail = fmt.Sprintf("Сброс всех статусов на '%s' (%d)", schema.StatusInside, n)
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return errors.Wrap(err, "append audit")
		}
		return nil
	})
	if err != nil {
		return schema.ResetResult{}, e.fail("reset", err)
	}

	e.logger.Info("statuses reset", zap.String("actor", actor), zap.Int("affected", affected))
	e.publish(ctx, entry)
	return schema.ResetResult{
		Message:   "Все статусы сброшены",
		NewStatus: schema.StatusInside,
		Affected:  affected,
	}, nil
}

func (e *Engine) DeletePerson(ctx context.Context, id int64, actor string) (_ schema.DeleteResult, err error) {
	defer e.observe("delete", time.Now(), &err)

	actor = operatorOrDefault(actor)
	var removed schema.Person
	var entry schema.AuditEntry
	err = e.store.Update(ctx, func(tx Tx) error {
		p, err := tx.PersonByID(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeletePerson(ctx, id); err != nil {
			return errors.Wrap(err, "delete person")
		}

		entry = e.newEntry(schema.AuditDelete, actor, e.clock())
		entry.OldStatus = p.Status
		entry.Detail = "Удалён пользователь: " + p.FullName
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return errors.Wrap(err, "append audit")
		}
		removed = p
		return nil
	})
	if err != nil {
		return schema.DeleteResult{}, e.fail("delete", err)
	}

	e.logger.Info("person deleted", zap.Int64("id", id), zap.String("actor", actor))
	e.publish(ctx, entry)
	return schema.DeleteResult{
		Message:   fmt.Sprintf("Пользователь '%s' удалён", removed.FullName),
		DeletedID: id,
	}, nil
}

// RecentAudit returns the newest audit entries first. The limit is clamped
// to [1, MaxAuditLimit]; zero or less means DefaultAuditLimit.
func (e *Engine) RecentAudit(ctx context.Context, limit int) (_ []schema.AuditEntry, err error) {
	defer e.observe("audit", time.Now(), &err)

	switch {
	case limit <= 0:
		limit = DefaultAuditLimit
	case limit > MaxAuditLimit:
		limit = MaxAuditLimit
	}
	entries, err := e.store.AuditEntries(ctx, limit)
	if err != nil {
		return nil, e.fail("audit", err)
	}
	return entries, nil
}

func (e *Engine) newEntry(action schema.AuditAction, actor string, at time.Time) schema.AuditEntry {
	return schema.AuditEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Actor:     actor,
		Timestamp: at,
	}
}

// publish hands a committed entry to the mirrors. The request context may be
// gone by now, the mirrors still get to run.
func (e *Engine) publish(ctx context.Context, entry schema.AuditEntry) {
	ctx = context.WithoutCancel(ctx)
	for _, m := range e.mirrors {
		if err := m.Record(ctx, entry); err != nil {
			e.logger.Warn("audit mirror failed",
				zap.String("audit_id", entry.ID),
				zap.String("action", string(entry.Action)),
				zap.Error(err))
		}
	}
}

// fail classifies err. Validation and not-found errors are returned as they
// are; everything else is marked as a dependency failure.
func (e *Engine) fail(op string, err error) error {
	switch Outcome(err) {
	case metrics.OutcomeValidation, metrics.OutcomeNotFound:
		return err
	}
	e.logger.Error("operation failed", zap.String("operation", op), zap.Error(err))
	return errors.Mark(errors.Wrap(err, op), schema.ErrDependency)
}

func (e *Engine) observe(op string, start time.Time, err *error) {
	e.metrics.ObserveOperation(op, Outcome(*err), time.Since(start))
}

// Outcome maps an error onto its metrics outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, schema.ErrValidation):
		return metrics.OutcomeValidation
	case errors.Is(err, schema.ErrNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeDependency
	}
}

func operatorOrDefault(actor string) string {
	if a := strings.TrimSpace(actor); a != "" {
		return a
	}
	return schema.DefaultOperator
}

func rosterOf(people []schema.Person) []schema.RosterEntry {
	out := make([]schema.RosterEntry, 0, len(people))
	for _, p := range people {
		out = append(out, p.RosterEntry())
	}
	return out
}
