// Package session holds the per-operator delete conversation of the operator bot.
package session

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

const (
	// DefaultTTL bounds how long an idle conversation or an unanswered
	// confirmation is remembered.
	DefaultTTL = 10 * time.Minute

	maxOperators   = 1024
	minQueryLength = 2
)

// State is the conversation state of one operator.
type State int

const (
	Idle State = iota
	AwaitingQuery
)

func (s State) String() string {
	if s == AwaitingQuery {
		return "awaiting_query"
	}
	return "idle"
}

// Directory is the part of the presence service the workflow needs.
type Directory interface {
	SearchByName(ctx context.Context, query string) ([]schema.RosterEntry, error)
	DeletePerson(ctx context.Context, id int64, actor string) (schema.DeleteResult, error)
}

// Outcome tells the front-end what to render.
type Outcome int

const (
	NotHandled Outcome = iota
	PromptQuery
	QueryTooShort
	NoMatches
	Candidates
	SearchFailed
	ConfirmPrompt
	Deleted
	DeleteFailed
	Expired
	Cancelled
)

// Reply is the result of one workflow step.
type Reply struct {
	Outcome     Outcome
	Query       string
	Candidates  []schema.RosterEntry
	CandidateID int64
	Result      schema.DeleteResult
	Err         error
}

// Workflow tracks conversations keyed by operator id. Both the conversation
// state and the pending confirmation expire after the configured TTL.
type Workflow struct {
	dir Directory

	// mu makes read-modify-write sequences on the caches atomic. It is never
	// held across a Directory call.
	mu      sync.Mutex
	seq     uint64
	states  *expirable.LRU[int64, conversation]
	pending *expirable.LRU[int64, int64]
}

// conversation is the state of one operator. seq changes whenever a
// conversation is started or ended, so a search that finishes late can
// tell it no longer owns the state.
type conversation struct {
	state State
	seq   uint64
}

// New returns a workflow backed by dir. A non-positive ttl selects DefaultTTL.
func New(dir Directory, ttl time.Duration) *Workflow {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Workflow{
		dir:     dir,
		states:  expirable.NewLRU[int64, conversation](maxOperators, nil, ttl),
		pending: expirable.NewLRU[int64, int64](maxOperators, nil, ttl),
	}
}

// State returns the conversation state of op.
func (w *Workflow) State(op int64) State {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.states.Get(op)
	if !ok {
		return Idle
	}
	return c.state
}

// Pending returns the candidate op is being asked to confirm, if any.
func (w *Workflow) Pending(op int64) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending.Peek(op)
}

// StartDelete asks op for a name query. Any pending confirmation of op is dropped.
func (w *Workflow) StartDelete(op int64) Reply {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending.Remove(op)
	w.seq++
	w.states.Add(op, conversation{state: AwaitingQuery, seq: w.seq})
	return Reply{Outcome: PromptQuery}
}

// HandleText consumes free text from op. Text sent outside of a delete
// conversation is reported as NotHandled. A search that completes after op
// cancelled or restarted the conversation is reported as Cancelled and leaves
// the state alone.
func (w *Workflow) HandleText(ctx context.Context, op int64, text string) Reply {
	query := strings.TrimSpace(text)

	w.mu.Lock()
	conv, ok := w.states.Get(op)
	if !ok || conv.state != AwaitingQuery {
		w.mu.Unlock()
		return Reply{Outcome: NotHandled}
	}
	if utf8.RuneCountInString(query) < minQueryLength {
		w.states.Add(op, conv)
		w.mu.Unlock()
		return Reply{Outcome: QueryTooShort, Query: query}
	}
	w.mu.Unlock()

	found, err := w.dir.SearchByName(ctx, query)

	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.states.Peek(op); !ok || cur.seq != conv.seq {
		return Reply{Outcome: Cancelled, Query: query}
	}
	switch {
	case errors.Is(err, schema.ErrValidation):
		w.states.Add(op, conv)
		return Reply{Outcome: QueryTooShort, Query: query, Err: err}
	case err != nil:
		w.states.Remove(op)
		return Reply{Outcome: SearchFailed, Query: query, Err: err}
	case len(found) == 0:
		w.states.Add(op, conv)
		return Reply{Outcome: NoMatches, Query: query}
	}
	w.states.Remove(op)
	return Reply{Outcome: Candidates, Query: query, Candidates: found}
}

// Select records id as the candidate op has to confirm, replacing any earlier choice.
func (w *Workflow) Select(op, id int64) Reply {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending.Add(op, id)
	return Reply{Outcome: ConfirmPrompt, CandidateID: id}
}

// Confirm deletes id on behalf of actor, but only when id is the candidate op
// selected last. The pending confirmation is consumed whatever the result.
func (w *Workflow) Confirm(ctx context.Context, op int64, actor string, id int64) Reply {
	w.mu.Lock()
	selected, ok := w.pending.Peek(op)
	w.pending.Remove(op)
	w.mu.Unlock()

	if !ok || selected != id {
		return Reply{Outcome: Expired, CandidateID: id}
	}

	res, err := w.dir.DeletePerson(ctx, id, actor)
	if err != nil {
		return Reply{Outcome: DeleteFailed, CandidateID: id, Err: err}
	}
	return Reply{Outcome: Deleted, CandidateID: id, Result: res}
}

// Decline drops the pending confirmation of op.
func (w *Workflow) Decline(op int64) Reply {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending.Remove(op)
	return Reply{Outcome: Cancelled}
}

// Cancel ends any conversation of op and drops its pending confirmation.
func (w *Workflow) Cancel(op int64) Reply {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.states.Remove(op)
	w.pending.Remove(op)
	return Reply{Outcome: Cancelled}
}
