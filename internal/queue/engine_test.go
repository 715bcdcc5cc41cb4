package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refset/supportqueue/internal/queue"
)

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	teamA := f.team("Team A", 2)
	x := f.terminal("Terminal X")

	t1, err := f.engine.CreateTicket(f.ctx, teamA, "", "  printer on fire  ")
	require.NoError(t, err)
	assert.Equal(t, 1, f.getTeam(teamA).Remaining)
	ticket := f.getTicket(t1)
	assert.Equal(t, queue.StatusWaitingAssignment, ticket.Status)
	assert.Equal(t, "printer on fire", ticket.Topic)
	assert.Equal(t, "Team A", ticket.TeamName)
	assert.Equal(t, queue.NoParticipant, ticket.ParticipantName)
	assert.Empty(t, ticket.AssignedTerminalID)
	assert.False(t, ticket.RequestedAt.IsZero())
	assert.Nil(t, ticket.CalledAt)

	require.NoError(t, f.engine.RelocateTicket(f.ctx, t1, queue.Target{Container: x}))
	ticket = f.getTicket(t1)
	assert.Equal(t, queue.StatusQueued, ticket.Status)
	assert.Equal(t, x, ticket.AssignedTerminalID)
	assert.Equal(t, "Terminal X", ticket.AssignedTerminalName)
	assert.Equal(t, []string{t1}, f.getTerminal(x).QueueOrder)

	called, err := f.engine.CallNext(f.ctx, x)
	require.NoError(t, err)
	assert.Equal(t, t1, called)
	assert.Equal(t, t1, f.getTerminal(x).CurrentTicketID)
	ticket = f.getTicket(t1)
	assert.Equal(t, queue.StatusCalled, ticket.Status)
	require.NotNil(t, ticket.CalledAt)

	require.NoError(t, f.engine.StartSupport(f.ctx, x, t1))
	ticket = f.getTicket(t1)
	assert.Equal(t, queue.StatusInProgress, ticket.Status)
	require.NotNil(t, ticket.StartedAt)

	require.NoError(t, f.engine.EndSupport(f.ctx, x, t1))
	ticket = f.getTicket(t1)
	assert.Equal(t, queue.StatusCompleted, ticket.Status)
	require.NotNil(t, ticket.CompletedAt)
	term := f.getTerminal(x)
	assert.Empty(t, term.CurrentTicketID)
	assert.Empty(t, term.QueueOrder)
	f.checkInvariants()
}

func TestCreateTicketInsufficientAllowance(t *testing.T) {
	f := newFixture(t)
	teamB := f.team("Team B", 0)
	before := f.eventCount()

	_, err := f.engine.CreateTicket(f.ctx, teamB, "", "help")
	require.ErrorIs(t, err, queue.ErrInsufficientAllowance)

	assert.Equal(t, 0, f.getTeam(teamB).Remaining)
	assert.Equal(t, before, f.eventCount())
	board, err := f.engine.Board(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, board.Waiting)
}

func TestCreateTicketValidation(t *testing.T) {
	f := newFixture(t)
	red := f.team("Red", 3)
	blue := f.team("Blue", 3)
	require.NoError(t, f.engine.AddParticipant(f.ctx, "P-100", "Ada", red))
	require.NoError(t, f.engine.AddParticipant(f.ctx, "P-200", "Grace", blue))

	tests := []struct {
		name        string
		team        string
		participant string
		topic       string
		want        error
	}{
		{"empty topic", red, "", "   ", queue.ErrEmptyTopic},
		{"unknown team", "nope", "", "wifi", queue.ErrUnknownTeam},
		{"participant of other team", red, "P-200", "wifi", queue.ErrInvalidParticipant},
		{"unknown participant", red, "P-999", "wifi", queue.ErrInvalidParticipant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateTicket(f.ctx, tt.team, tt.participant, tt.topic)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 3, f.getTeam(red).Remaining)

	id, err := f.engine.CreateTicket(f.ctx, red, "P-100", "wifi")
	require.NoError(t, err)
	ticket := f.getTicket(id)
	assert.Equal(t, "P-100", ticket.ParticipantID)
	assert.Equal(t, "Ada", ticket.ParticipantName)
}

func TestAllowanceNeverNegative(t *testing.T) {
	f := newFixture(t)
	team := f.team("Crowd", 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CreateTicket(f.ctx, team, "", "rush")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, queue.ErrInsufficientAllowance), errors.Is(err, queue.ErrTransactionConflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	remaining := f.getTeam(team).Remaining
	assert.GreaterOrEqual(t, remaining, 0)
	assert.LessOrEqual(t, succeeded, 5)
	assert.Equal(t, 5-succeeded, remaining)
}

func TestCreateDeleteRoundTrip(t *testing.T) {
	f := newFixture(t)
	team := f.team("Green", 4)
	before := f.getTeam(team).Remaining

	id := f.ticket(team, "monitor")
	del, err := f.engine.DeleteTicket(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, del.RefundSkipped)
	assert.Equal(t, before, f.getTeam(team).Remaining)
	assert.False(t, f.ticketExists(id))
}

func TestCallNextBusy(t *testing.T) {
	f := newFixture(t)
	team := f.team("Team", 5)
	x := f.terminal("X")
	first := f.queued(team, x, "one")
	f.queued(team, x, "two")

	_, err := f.engine.CallNext(f.ctx, x)
	require.NoError(t, err)
	before := f.eventCount()
	termBefore := f.getTerminal(x)

	_, err = f.engine.CallNext(f.ctx, x)
	require.ErrorIs(t, err, queue.ErrTerminalBusy)
	assert.Equal(t, before, f.eventCount())
	assert.Equal(t, termBefore, f.getTerminal(x))
	assert.Equal(t, first, f.getTerminal(x).CurrentTicketID)
}

func TestCallNextQueueEmpty(t *testing.T) {
	f := newFixture(t)
	x := f.terminal("X")
	_, err := f.engine.CallNext(f.ctx, x)
	assert.ErrorIs(t, err, queue.ErrQueueEmpty)

	_, err = f.engine.CallNext(f.ctx, "missing")
	assert.ErrorIs(t, err, queue.ErrUnknownTerminal)
}

func TestCallNextIgnoresClosedState(t *testing.T) {
	f := newFixture(t)
	team := f.team("Team", 5)
	x := f.terminal("X")
	id := f.queued(team, x, "late")
	open, err := f.engine.ToggleOpen(f.ctx, x)
	require.NoError(t, err)
	require.False(t, open)

	called, err := f.engine.CallNext(f.ctx, x)
	require.NoError(t, err)
	assert.Equal(t, id, called)
}

func TestConcurrentCallNext(t *testing.T) {
	f := newFixture(t)
	team := f.team("Team", 5)
	x := f.terminal("X")
	f.queued(team, x, "one")
	f.queued(team, x, "two")

	const callers = 8
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.CallNext(context.Background(), x)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var ok, busy int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, queue.ErrTerminalBusy):
			busy++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, busy)
	f.checkInvariants()
}

func TestStartSupportRequiresCalledTicket(t *testing.T) {
	f := newFixture(t)
	team := f.team("Team", 5)
	x := f.terminal("X")
	first := f.queued(team, x, "one")
	second := f.queued(team, x, "two")

	err := f.engine.StartSupport(f.ctx, x, first)
	assert.ErrorIs(t, err, queue.ErrTicketNotCalled)

	_, err = f.engine.CallNext(f.ctx, x)
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.StartSupport(f.ctx, x, second), queue.ErrTicketNotCalled)
	require.NoError(t, f.engine.StartSupport(f.ctx, x, first))
	assert.ErrorIs(t, f.engine.StartSupport(f.ctx, x, first), queue.ErrTicketNotCalled)
}

func TestEndSupportRequiresActiveTicket(t *testing.T) {
	f := newFixture(t)
	team := f.team("Team", 5)
	x := f.terminal("X")
	id := f.queued(team, x, "one")

	assert.ErrorIs(t, f.engine.EndSupport(f.ctx, x, id), queue.ErrTicketNotActive)
	_, err := f.engine.CallNext(f.ctx, x)
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.EndSupport(f.ctx, x, id), queue.ErrTicketNotActive)
	assert.Equal(t, queue.StatusCalled, f.getTicket(id).Status)
}

func TestEndSupportWhenMissingFromQueueOrder(t *testing.T) {
	f := newFixture(t)
	team := f.team("Team", 5)
	x := f.terminal("X")
	id := f.queued(team, x, "one")
	other := f.queued(team, x, "two")
	_, err := f.engine.CallNext(f.ctx, x)
	require.NoError(t, err)
	require.NoError(t, f.engine.StartSupport(f.ctx, x, id))

	// Drop the current ticket from the visible backlog.
	require.NoError(t, f.store.Atomic(f.ctx, func(ctx context.Context, tx queue.Tx) error {
		term, err := tx.Terminal(ctx, x)
		if err != nil {
			return err
		}
		term.QueueOrder = []string{other}
		return tx.PutTerminal(ctx, term)
	}))

	require.NoError(t, f.engine.EndSupport(f.ctx, x, id))
	term := f.getTerminal(x)
	assert.Empty(t, term.CurrentTicketID)
	assert.Equal(t, []string{other}, term.QueueOrder)
	f.checkInvariants()
}

func TestDeleteTicketActiveAtTerminal(t *testing.T) {
	f := newFixture(t)
	team := f.team("Team", 5)
	y := f.terminal("Terminal Y")
	t2 := f.queued(team, y, "called one")
	_, err := f.engine.CallNext(f.ctx, y)
	require.NoError(t, err)
	termBefore := f.getTerminal(y)
	remaining := f.getTeam(team).Remaining

	_, err = f.engine.DeleteTicket(f.ctx, t2)
	require.ErrorIs(t, err, queue.ErrTicketActiveAtTerminal)
	var active *queue.ActiveAtTerminalError
	require.ErrorAs(t, err, &active)
	assert.Equal(t, []string{"Terminal Y"}, active.Terminals)

	assert.True(t, f.ticketExists(t2))
	assert.Equal(t, termBefore, f.getTerminal(y))
	assert.Equal(t, remaining, f.getTeam(team).Remaining)
}

func TestDeleteTicketScrubsQueues(t *testing.T) {
	f := newFixture(t)
	team := f.team("Team", 5)
	x := f.terminal("X")
	a := f.queued(team, x, "a")
	b := f.queued(team, x, "b")
	c := f.queued(team, x, "c")

	_, err := f.engine.DeleteTicket(f.ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []string{a, c}, f.getTerminal(x).QueueOrder)
	assert.Equal(t, 3, f.getTeam(team).Remaining)
	f.checkInvariants()

	_, err = f.engine.DeleteTicket(f.ctx, b)
	assert.ErrorIs(t, err, queue.ErrUnknownTicket)
}

func TestDeleteTicketWithoutTeam(t *testing.T) {
	f := newFixture(t)
	team := f.team("Gone", 2)
	id := f.ticket(team, "orphan")
	require.NoError(t, f.engine.DeleteTeam(f.ctx, team))

	del, err := f.engine.DeleteTicket(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, del.RefundSkipped)
	assert.False(t, f.ticketExists(id))
}

func TestEditTopic(t *testing.T) {
	f := newFixture(t)
	team := f.team("Team", 1)
	id := f.ticket(team, "old")

	require.NoError(t, f.engine.EditTopic(f.ctx, id, " new topic "))
	assert.Equal(t, "new topic", f.getTicket(id).Topic)
	assert.ErrorIs(t, f.engine.EditTopic(f.ctx, id, ""), queue.ErrEmptyTopic)
	assert.ErrorIs(t, f.engine.EditTopic(f.ctx, "missing", "x"), queue.ErrUnknownTicket)
}

func TestSnapshotsIgnoreRenames(t *testing.T) {
	f := newFixture(t)
	team := f.team("Old Team", 2)
	x := f.terminal("Old Desk")
	id := f.queued(team, x, "snapshot")

	require.NoError(t, f.engine.RenameTeam(f.ctx, team, "New Team"))
	require.NoError(t, f.engine.RenameTerminal(f.ctx, x, "New Desk"))

	ticket := f.getTicket(id)
	assert.Equal(t, "Old Team", ticket.TeamName)
	assert.Equal(t, "Old Desk", ticket.AssignedTerminalName)
	assert.Equal(t, "New Desk", f.getTerminal(x).Name)
}

func TestEventsFollowCommits(t *testing.T) {
	f := newFixture(t)
	team := f.team("Team", 2)
	x := f.terminal("X")
	id := f.queued(team, x, "evented")
	_, err := f.engine.CallNext(f.ctx, x)
	require.NoError(t, err)

	events, err := f.store.Events(f.ctx, 0, 0)
	require.NoError(t, err)
	var kinds []queue.EventKind
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []queue.EventKind{
		queue.EventTerminalAdded,
		queue.EventTicketCreated,
		queue.EventTicketRelocated,
		queue.EventTicketCalled,
	}, kinds)
	assert.Equal(t, id, events[3].TicketID)
	assert.Equal(t, x, events[3].TerminalID)
}

type recordingObserver struct {
	mu  sync.Mutex
	ops map[string][]error
}

func (r *recordingObserver) ObserveOperation(op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = map[string][]error{}
	}
	r.ops[op] = append(r.ops[op], err)
}

func TestObserverSeesOutcomes(t *testing.T) {
	obs := &recordingObserver{}
	f := newFixture(t, queue.WithObserver(obs))
	team := f.team("Team", 0)
	_, err := f.engine.CreateTicket(f.ctx, team, "", "nope")
	require.Error(t, err)

	require.Len(t, obs.ops["create_ticket"], 1)
	assert.ErrorIs(t, obs.ops["create_ticket"][0], queue.ErrInsufficientAllowance)
	assert.Equal(t, []error{nil}, obs.ops["add_team"])
}

type conflictStore struct {
	queue.Store
	failures int
	calls    int
}

func (s *conflictStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx queue.Tx) error) error {
	s.calls++
	if s.calls <= s.failures {
		return queue.ErrTransactionConflict
	}
	return s.Store.Atomic(ctx, fn)
}

func TestRetriesTransactionConflicts(t *testing.T) {
	f := newFixture(t)
	team := f.team("Team", 1)

	flaky := &conflictStore{Store: f.store, failures: 2}
	engine := queue.New(flaky, queue.WithMaxAttempts(3))
	_, err := engine.CreateTicket(f.ctx, team, "", "retry me")
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)

	exhausted := &conflictStore{Store: f.store, failures: 5}
	engine = queue.New(exhausted, queue.WithMaxAttempts(2))
	_, err = engine.CreateTicket(f.ctx, team, "", "no luck")
	assert.ErrorIs(t, err, queue.ErrTransactionConflict)
	assert.Equal(t, 2, exhausted.calls)
}
