// Package memory is an in-process queue.Store with optimistic
// concurrency control.
//
// A transaction records the version of every row it reads and of every
// collection it scans. Commit takes the store mutex, checks that none of
// those versions moved, and applies the buffered writes. A moved version
// fails the commit with queue.ErrTransactionConflict, which makes the
// store serializable without holding locks while callers run. Read-only
// transactions and transactions whose closure fails are validated the
// same way.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/refset/supportqueue/internal/queue"
)

type kind uint8

const (
	kindTeam kind = iota
	kindParticipant
	kindTerminal
	kindTicket
)

type key struct {
	kind kind
	id   string
}

type row struct {
	value   any
	version uint64
}

// Store holds teams, participants, terminals, tickets and the change
// outbox in memory.
type Store struct {
	mu          sync.Mutex
	clock       uint64
	rows        map[key]row
	collections map[kind]uint64
	events      []queue.Event
	seq         int64
	// beforeCommit runs with the store unlocked right before validation.
	// Tests use it to interleave transactions.
	beforeCommit func()
}

// New returns an empty store.
func New() *Store {
	return &Store{
		rows:        make(map[key]row),
		collections: make(map[kind]uint64),
	}
}

// Atomic runs fn in a new transaction and commits it.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx queue.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{
		store:  s,
		reads:  make(map[key]readEntry),
		scans:  make(map[kind]uint64),
		writes: make(map[key]any),
	}
	if err := fn(ctx, t); err != nil {
		// An error decided on a view that has since moved is reported as a
		// conflict so the caller retries against fresh state.
		if cerr := t.validate(); cerr != nil {
			return cerr
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.commit()
}

// Events returns up to limit outbox events with Seq greater than after.
func (s *Store) Events(ctx context.Context, after int64, limit int) ([]queue.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i, _ := slices.BinarySearchFunc(s.events, after, func(ev queue.Event, seq int64) int {
		return cmp.Compare(ev.Seq, seq+1)
	})
	end := len(s.events)
	if limit > 0 && i+limit < end {
		end = i + limit
	}
	return slices.Clone(s.events[i:end]), nil
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case *queue.Team:
		return v.Clone()
	case *queue.Participant:
		return v.Clone()
	case *queue.Terminal:
		return v.Clone()
	case *queue.Ticket:
		return v.Clone()
	case nil:
		return nil
	}
	panic(fmt.Sprintf("memory: unexpected row type %T", v))
}

type readEntry struct {
	value   any
	version uint64
}

type tx struct {
	store  *Store
	reads  map[key]readEntry
	scans  map[kind]uint64
	writes map[key]any
	order  []key
	events []queue.Event
}

// get returns a private copy of the row at k as seen by this
// transaction.
func (t *tx) get(k key) (any, bool) {
	if v, ok := t.writes[k]; ok {
		return cloneValue(v), v != nil
	}
	if r, ok := t.reads[k]; ok {
		return cloneValue(r.value), r.value != nil
	}
	t.store.mu.Lock()
	r := t.store.rows[k]
	t.store.mu.Unlock()
	t.reads[k] = readEntry{value: r.value, version: r.version}
	return cloneValue(r.value), r.value != nil
}

// scan returns every row of kind visible to this transaction.
func (t *tx) scan(kd kind) []any {
	t.store.mu.Lock()
	if _, ok := t.scans[kd]; !ok {
		t.scans[kd] = t.store.collections[kd]
	}
	for k, r := range t.store.rows {
		if k.kind != kd {
			continue
		}
		if _, ok := t.reads[k]; !ok {
			t.reads[k] = readEntry{value: r.value, version: r.version}
		}
	}
	t.store.mu.Unlock()

	var out []any
	for k, r := range t.reads {
		if k.kind != kd {
			continue
		}
		if _, written := t.writes[k]; written {
			continue
		}
		if r.value != nil {
			out = append(out, cloneValue(r.value))
		}
	}
	for k, v := range t.writes {
		if k.kind == kd && v != nil {
			out = append(out, cloneValue(v))
		}
	}
	return out
}

func (t *tx) put(k key, v any) {
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = cloneValue(v)
}

func (t *tx) remove(k key) {
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = nil
}

func (t *tx) validate() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.validateLocked()
}

// validateLocked fails if any row or collection this transaction saw has
// been changed by another commit. Reads are validated even when nothing
// was written, so a read-only transaction never observes a torn view.
func (t *tx) validateLocked() error {
	s := t.store
	for k, r := range t.reads {
		if s.rows[k].version != r.version {
			return fmt.Errorf("%w: row %d/%s changed", queue.ErrTransactionConflict, k.kind, k.id)
		}
	}
	for kd, v := range t.scans {
		if s.collections[kd] != v {
			return fmt.Errorf("%w: collection %d changed", queue.ErrTransactionConflict, kd)
		}
	}
	return nil
}

func (t *tx) commit() error {
	if len(t.reads) == 0 && len(t.scans) == 0 && len(t.writes) == 0 && len(t.events) == 0 {
		return nil
	}
	if hook := t.store.beforeCommit; hook != nil {
		hook()
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := t.validateLocked(); err != nil {
		return err
	}

	for _, k := range t.order {
		s.clock++
		_, existed := s.rows[k]
		v := t.writes[k]
		if v == nil {
			delete(s.rows, k)
		} else {
			s.rows[k] = row{value: v, version: s.clock}
		}
		if existed != (v != nil) {
			s.collections[k.kind] = s.clock
		}
	}
	for _, ev := range t.events {
		s.seq++
		ev.Seq = s.seq
		s.events = append(s.events, ev)
	}
	return nil
}

func (t *tx) Team(_ context.Context, id string) (*queue.Team, error) {
	v, ok := t.get(key{kindTeam, id})
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownTeam, id)
	}
	return v.(*queue.Team), nil
}

func (t *tx) PutTeam(_ context.Context, team *queue.Team) error {
	t.put(key{kindTeam, team.ID}, team)
	return nil
}

func (t *tx) DeleteTeam(ctx context.Context, id string) error {
	if _, err := t.Team(ctx, id); err != nil {
		return err
	}
	t.remove(key{kindTeam, id})
	return nil
}

func (t *tx) Debit(ctx context.Context, teamID string) error {
	team, err := t.Team(ctx, teamID)
	if err != nil {
		return err
	}
	if team.Remaining <= 0 {
		return fmt.Errorf("%w: team %s", queue.ErrInsufficientAllowance, teamID)
	}
	team.Remaining--
	return t.PutTeam(ctx, team)
}

func (t *tx) Credit(ctx context.Context, teamID string) error {
	team, err := t.Team(ctx, teamID)
	if err != nil {
		return err
	}
	team.Remaining++
	return t.PutTeam(ctx, team)
}

func (t *tx) Participant(_ context.Context, id string) (*queue.Participant, error) {
	v, ok := t.get(key{kindParticipant, id})
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownParticipant, id)
	}
	return v.(*queue.Participant), nil
}

func (t *tx) PutParticipant(_ context.Context, p *queue.Participant) error {
	t.put(key{kindParticipant, p.ID}, p)
	return nil
}

func (t *tx) DeleteParticipant(ctx context.Context, id string) error {
	if _, err := t.Participant(ctx, id); err != nil {
		return err
	}
	t.remove(key{kindParticipant, id})
	return nil
}

func (t *tx) Terminal(_ context.Context, id string) (*queue.Terminal, error) {
	v, ok := t.get(key{kindTerminal, id})
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownTerminal, id)
	}
	return v.(*queue.Terminal), nil
}

func (t *tx) Terminals(context.Context) ([]*queue.Terminal, error) {
	rows := t.scan(kindTerminal)
	out := make([]*queue.Terminal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.(*queue.Terminal))
	}
	slices.SortFunc(out, func(a, b *queue.Terminal) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) PutTerminal(_ context.Context, term *queue.Terminal) error {
	t.put(key{kindTerminal, term.ID}, term)
	return nil
}

func (t *tx) DeleteTerminal(ctx context.Context, id string) error {
	if _, err := t.Terminal(ctx, id); err != nil {
		return err
	}
	t.remove(key{kindTerminal, id})
	return nil
}

func (t *tx) Ticket(_ context.Context, id string) (*queue.Ticket, error) {
	v, ok := t.get(key{kindTicket, id})
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownTicket, id)
	}
	return v.(*queue.Ticket), nil
}

func (t *tx) Tickets(_ context.Context, statuses ...queue.Status) ([]*queue.Ticket, error) {
	rows := t.scan(kindTicket)
	out := make([]*queue.Ticket, 0, len(rows))
	for _, r := range rows {
		ticket := r.(*queue.Ticket)
		if len(statuses) == 0 || slices.Contains(statuses, ticket.Status) {
			out = append(out, ticket)
		}
	}
	slices.SortFunc(out, func(a, b *queue.Ticket) int {
		if c := a.RequestedAt.Compare(b.RequestedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) PutTicket(_ context.Context, ticket *queue.Ticket) error {
	t.put(key{kindTicket, ticket.ID}, ticket)
	return nil
}

func (t *tx) DeleteTicket(ctx context.Context, id string) error {
	if _, err := t.Ticket(ctx, id); err != nil {
		return err
	}
	t.remove(key{kindTicket, id})
	return nil
}

func (t *tx) Emit(_ context.Context, ev queue.Event) error {
	t.events = append(t.events, ev)
	return nil
}
