package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refset/supportqueue/internal/queue"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001", Message: "could not serialize access"}, true},
		{"deadlock", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.conflict, errors.Is(translate(tt.err), queue.ErrTransactionConflict))
		})
	}
	assert.NoError(t, translate(nil))
}

// valuesRow is a pgx.Row over fixed column values.
type valuesRow []any

func (r valuesRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r[i]))
	}
	return nil
}

func ticketRow(status string) valuesRow {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	return valuesRow{"k1", "t1", "Team", "", queue.NoParticipant, "printer", status,
		"x", "X", at, &at, nil, nil}
}

func TestScanTicket(t *testing.T) {
	ticket, err := scanTicket(ticketRow("called"))
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCalled, ticket.Status)
	assert.Equal(t, time.UTC, ticket.RequestedAt.Location())
	require.NotNil(t, ticket.CalledAt)
	assert.Equal(t, time.UTC, ticket.CalledAt.Location())
	assert.Nil(t, ticket.StartedAt)

	_, err = scanTicket(ticketRow("archived"))
	assert.ErrorContains(t, err, `unknown status "archived"`)
}

// openTestStore connects to SUPPORTQUEUE_TEST_DATABASE_URL and starts
// from empty tables.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("SUPPORTQUEUE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SUPPORTQUEUE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	_, err = s.pool.Exec(ctx, `TRUNCATE teams, participants, terminals, support_tickets, queue_events RESTART IDENTITY`)
	require.NoError(t, err)
	return s
}

func TestEngineOnPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	engine := queue.New(s)

	team, err := engine.AddTeam(ctx, "Team A", 1)
	require.NoError(t, err)
	x, err := engine.AddTerminal(ctx, "Terminal X")
	require.NoError(t, err)

	id, err := engine.CreateTicket(ctx, team, "", "printer")
	require.NoError(t, err)
	_, err = engine.CreateTicket(ctx, team, "", "again")
	require.ErrorIs(t, err, queue.ErrInsufficientAllowance)

	require.NoError(t, engine.RelocateTicket(ctx, id, queue.Target{Container: x}))
	called, err := engine.CallNext(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, id, called)
	require.NoError(t, engine.StartSupport(ctx, x, id))
	require.NoError(t, engine.EndSupport(ctx, x, id))

	board, err := engine.Board(ctx)
	require.NoError(t, err)
	require.Len(t, board.Terminals, 1)
	assert.Empty(t, board.Terminals[0].Terminal.QueueOrder)
	assert.Nil(t, board.Terminals[0].Current)

	events, err := s.Events(ctx, 0, 0)
	require.NoError(t, err)
	kinds := make([]queue.EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []queue.EventKind{
		queue.EventTerminalAdded,
		queue.EventTicketCreated,
		queue.EventTicketRelocated,
		queue.EventTicketCalled,
		queue.EventTicketStarted,
		queue.EventTicketCompleted,
	}, kinds)

	page, err := s.Events(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Seq)
}

func TestRollbackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Atomic(ctx, func(ctx context.Context, tx queue.Tx) error {
		require.NoError(t, tx.PutTerminal(ctx, &queue.Terminal{ID: "x", Name: "X", CreatedAt: time.Now()}))
		return queue.ErrQueueEmpty
	})
	require.ErrorIs(t, err, queue.ErrQueueEmpty)

	err = s.Atomic(ctx, func(ctx context.Context, tx queue.Tx) error {
		_, err := tx.Terminal(ctx, "x")
		return err
	})
	assert.ErrorIs(t, err, queue.ErrUnknownTerminal)
}
