package queue_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/refset/supportqueue/internal/queue"
	"github.com/refset/supportqueue/internal/store/memory"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	engine *queue.Engine

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T, opts ...queue.Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: memory.New(),
		now:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	var ids atomic.Int64
	base := []queue.Option{
		// Every read of the clock moves it forward so request order is
		// deterministic.
		queue.WithClock(func() time.Time {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.now = f.now.Add(time.Second)
			return f.now
		}),
		queue.WithIDs(func() string { return fmt.Sprintf("id-%03d", ids.Add(1)) }),
	}
	f.engine = queue.New(f.store, append(base, opts...)...)
	return f
}

func (f *fixture) team(name string, allowance int) string {
	f.t.Helper()
	id, err := f.engine.AddTeam(f.ctx, name, allowance)
	require.NoError(f.t, err)
	return id
}

func (f *fixture) terminal(name string) string {
	f.t.Helper()
	id, err := f.engine.AddTerminal(f.ctx, name)
	require.NoError(f.t, err)
	return id
}

func (f *fixture) ticket(teamID, topic string) string {
	f.t.Helper()
	id, err := f.engine.CreateTicket(f.ctx, teamID, "", topic)
	require.NoError(f.t, err)
	return id
}

// queued creates a ticket and moves it to the end of terminalID's queue.
func (f *fixture) queued(teamID, terminalID, topic string) string {
	f.t.Helper()
	id := f.ticket(teamID, topic)
	require.NoError(f.t, f.engine.RelocateTicket(f.ctx, id, queue.Target{Container: terminalID}))
	return id
}

func (f *fixture) getTicket(id string) *queue.Ticket {
	f.t.Helper()
	var out *queue.Ticket
	require.NoError(f.t, f.store.Atomic(f.ctx, func(ctx context.Context, tx queue.Tx) error {
		var err error
		out, err = tx.Ticket(ctx, id)
		return err
	}))
	return out
}

func (f *fixture) ticketExists(id string) bool {
	f.t.Helper()
	var exists bool
	require.NoError(f.t, f.store.Atomic(f.ctx, func(ctx context.Context, tx queue.Tx) error {
		_, err := tx.Ticket(ctx, id)
		exists = err == nil
		return nil
	}))
	return exists
}

func (f *fixture) getTerminal(id string) *queue.Terminal {
	f.t.Helper()
	var out *queue.Terminal
	require.NoError(f.t, f.store.Atomic(f.ctx, func(ctx context.Context, tx queue.Tx) error {
		var err error
		out, err = tx.Terminal(ctx, id)
		return err
	}))
	return out
}

func (f *fixture) getTeam(id string) *queue.Team {
	f.t.Helper()
	team, err := f.engine.Team(f.ctx, id)
	require.NoError(f.t, err)
	return team
}

func (f *fixture) eventCount() int {
	f.t.Helper()
	events, err := f.store.Events(f.ctx, 0, 0)
	require.NoError(f.t, err)
	return len(events)
}

// checkInvariants asserts the cross-aggregate rules that must hold after
// any sequence of operations.
func (f *fixture) checkInvariants() {
	f.t.Helper()
	require.NoError(f.t, f.store.Atomic(f.ctx, func(ctx context.Context, tx queue.Tx) error {
		terminals, err := tx.Terminals(ctx)
		if err != nil {
			return err
		}
		for _, term := range terminals {
			seen := map[string]bool{}
			for _, id := range term.QueueOrder {
				if seen[id] {
					return fmt.Errorf("terminal %s lists %s twice", term.Name, id)
				}
				seen[id] = true
				if _, err := tx.Ticket(ctx, id); err != nil {
					return fmt.Errorf("terminal %s lists missing ticket %s", term.Name, id)
				}
			}
			if term.CurrentTicketID == "" {
				continue
			}
			cur, err := tx.Ticket(ctx, term.CurrentTicketID)
			if err != nil {
				return fmt.Errorf("terminal %s current ticket: %w", term.Name, err)
			}
			if !cur.Status.Serving() || cur.AssignedTerminalID != term.ID {
				return fmt.Errorf("terminal %s current ticket %s is %s at %q", term.Name, cur.ID, cur.Status, cur.AssignedTerminalID)
			}
		}

		tickets, err := tx.Tickets(ctx)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			if (t.Status == queue.StatusWaitingAssignment) != (t.AssignedTerminalID == "") {
				return fmt.Errorf("ticket %s is %s with terminal %q", t.ID, t.Status, t.AssignedTerminalID)
			}
		}
		return nil
	}))
}
