// Package postgres implements queue.Store on PostgreSQL.
//
// Every Atomic call runs in one SERIALIZABLE transaction and single-row
// reads take row locks. Serialization failures and deadlocks surface as
// queue.ErrTransactionConflict so the engine can retry the whole
// operation.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refset/supportqueue/internal/queue"
)

//go:embed schema.sql
var schema string

// outboxLock serializes outbox inserts so that seq order matches commit
// order.
const outboxLock int64 = 0x5157_4f42

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to connString and verifies the connection.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx queue.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
	return translate(err)
}

// Events returns up to limit outbox events with seq greater than after.
// A limit of zero returns every remaining event.
func (s *Store) Events(ctx context.Context, after int64, limit int) ([]queue.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, kind, ticket_id, terminal_id, team_id, status, at
		FROM queue_events
		WHERE seq > $1
		ORDER BY seq
		LIMIT NULLIF($2::bigint, 0)`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []queue.Event
	for rows.Next() {
		var (
			ev     queue.Event
			kind   string
			status string
		)
		if err := rows.Scan(&ev.Seq, &kind, &ev.TicketID, &ev.TerminalID, &ev.TeamID, &status, &ev.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = queue.EventKind(kind)
		ev.Status = queue.Status(status)
		ev.At = ev.At.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// translate maps retryable PostgreSQL failures onto
// queue.ErrTransactionConflict.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", queue.ErrTransactionConflict, pgErr.Message)
		}
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (t *pgTx) Team(ctx context.Context, id string) (*queue.Team, error) {
	team := &queue.Team{}
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, initial_allowance, remaining, participant_ids
		FROM teams WHERE id = $1 FOR UPDATE`, id).
		Scan(&team.ID, &team.Name, &team.InitialAllowance, &team.Remaining, &team.ParticipantIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownTeam, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load team %s: %w", id, err)
	}
	team.ParticipantIDs = nonNil(team.ParticipantIDs)
	return team, nil
}

func (t *pgTx) PutTeam(ctx context.Context, team *queue.Team) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO teams (id, name, initial_allowance, remaining, participant_ids)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			initial_allowance = EXCLUDED.initial_allowance,
			remaining = EXCLUDED.remaining,
			participant_ids = EXCLUDED.participant_ids`,
		team.ID, team.Name, team.InitialAllowance, team.Remaining, nonNil(team.ParticipantIDs))
	if err != nil {
		return fmt.Errorf("save team %s: %w", team.ID, err)
	}
	return nil
}

func (t *pgTx) DeleteTeam(ctx context.Context, id string) error {
	return t.deleteRow(ctx, "teams", id, queue.ErrUnknownTeam)
}

// Debit decrements remaining with a guarded update so the counter can
// never drop below zero.
func (t *pgTx) Debit(ctx context.Context, teamID string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE teams SET remaining = remaining - 1 WHERE id = $1 AND remaining > 0`, teamID)
	if err != nil {
		return fmt.Errorf("debit team %s: %w", teamID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := t.Team(ctx, teamID); err != nil {
		return err
	}
	return fmt.Errorf("%w: team %s", queue.ErrInsufficientAllowance, teamID)
}

func (t *pgTx) Credit(ctx context.Context, teamID string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE teams SET remaining = remaining + 1 WHERE id = $1`, teamID)
	if err != nil {
		return fmt.Errorf("credit team %s: %w", teamID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", queue.ErrUnknownTeam, teamID)
	}
	return nil
}

func (t *pgTx) Participant(ctx context.Context, id string) (*queue.Participant, error) {
	p := &queue.Participant{}
	err := t.tx.QueryRow(ctx, `SELECT id, name, team_id FROM participants WHERE id = $1 FOR UPDATE`, id).
		Scan(&p.ID, &p.Name, &p.TeamID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownParticipant, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load participant %s: %w", id, err)
	}
	return p, nil
}

func (t *pgTx) PutParticipant(ctx context.Context, p *queue.Participant) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO participants (id, name, team_id) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, team_id = EXCLUDED.team_id`,
		p.ID, p.Name, p.TeamID)
	if err != nil {
		return fmt.Errorf("save participant %s: %w", p.ID, err)
	}
	return nil
}

func (t *pgTx) DeleteParticipant(ctx context.Context, id string) error {
	return t.deleteRow(ctx, "participants", id, queue.ErrUnknownParticipant)
}

const terminalColumns = `id, name, is_open, queue_order, current_ticket_id, created_at`

func scanTerminal(row pgx.Row) (*queue.Terminal, error) {
	term := &queue.Terminal{}
	if err := row.Scan(&term.ID, &term.Name, &term.IsOpen, &term.QueueOrder, &term.CurrentTicketID, &term.CreatedAt); err != nil {
		return nil, err
	}
	term.QueueOrder = nonNil(term.QueueOrder)
	term.CreatedAt = term.CreatedAt.UTC()
	return term, nil
}

func (t *pgTx) Terminal(ctx context.Context, id string) (*queue.Terminal, error) {
	term, err := scanTerminal(t.tx.QueryRow(ctx, `SELECT `+terminalColumns+` FROM terminals WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownTerminal, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load terminal %s: %w", id, err)
	}
	return term, nil
}

func (t *pgTx) Terminals(ctx context.Context) ([]*queue.Terminal, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+terminalColumns+` FROM terminals ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query terminals: %w", err)
	}
	defer rows.Close()

	var out []*queue.Terminal
	for rows.Next() {
		term, err := scanTerminal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan terminal: %w", err)
		}
		out = append(out, term)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read terminals: %w", err)
	}
	return out, nil
}

func (t *pgTx) PutTerminal(ctx context.Context, term *queue.Terminal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO terminals (`+terminalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			is_open = EXCLUDED.is_open,
			queue_order = EXCLUDED.queue_order,
			current_ticket_id = EXCLUDED.current_ticket_id`,
		term.ID, term.Name, term.IsOpen, nonNil(term.QueueOrder), term.CurrentTicketID, term.CreatedAt)
	if err != nil {
		return fmt.Errorf("save terminal %s: %w", term.ID, err)
	}
	return nil
}

func (t *pgTx) DeleteTerminal(ctx context.Context, id string) error {
	return t.deleteRow(ctx, "terminals", id, queue.ErrUnknownTerminal)
}

const ticketColumns = `id, team_id, team_name, participant_id, participant_name, topic, status,
	assigned_terminal_id, assigned_terminal_name, requested_at, called_at, started_at, completed_at`

func scanTicket(row pgx.Row) (*queue.Ticket, error) {
	var (
		t      queue.Ticket
		status string
	)
	err := row.Scan(&t.ID, &t.TeamID, &t.TeamName, &t.ParticipantID, &t.ParticipantName, &t.Topic, &status,
		&t.AssignedTerminalID, &t.AssignedTerminalName, &t.RequestedAt, &t.CalledAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.Status = queue.Status(status)
	if !t.Status.Valid() {
		return nil, fmt.Errorf("ticket %s has unknown status %q", t.ID, status)
	}
	t.RequestedAt = t.RequestedAt.UTC()
	t.CalledAt = utc(t.CalledAt)
	t.StartedAt = utc(t.StartedAt)
	t.CompletedAt = utc(t.CompletedAt)
	return &t, nil
}

func (t *pgTx) Ticket(ctx context.Context, id string) (*queue.Ticket, error) {
	ticket, err := scanTicket(t.tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM support_tickets WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownTicket, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", id, err)
	}
	return ticket, nil
}

func (t *pgTx) Tickets(ctx context.Context, statuses ...queue.Status) ([]*queue.Ticket, error) {
	filter := make([]string, 0, len(statuses))
	for _, s := range statuses {
		filter = append(filter, string(s))
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM support_tickets
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1::text[])
		ORDER BY requested_at, id`, filter)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var out []*queue.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tickets: %w", err)
	}
	return out, nil
}

func (t *pgTx) PutTicket(ctx context.Context, ticket *queue.Ticket) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO support_tickets (`+ticketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			topic = EXCLUDED.topic,
			status = EXCLUDED.status,
			assigned_terminal_id = EXCLUDED.assigned_terminal_id,
			assigned_terminal_name = EXCLUDED.assigned_terminal_name,
			called_at = EXCLUDED.called_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		ticket.ID, ticket.TeamID, ticket.TeamName, ticket.ParticipantID, ticket.ParticipantName, ticket.Topic,
		string(ticket.Status), ticket.AssignedTerminalID, ticket.AssignedTerminalName, ticket.RequestedAt,
		ticket.CalledAt, ticket.StartedAt, ticket.CompletedAt)
	if err != nil {
		return fmt.Errorf("save ticket %s: %w", ticket.ID, err)
	}
	return nil
}

func (t *pgTx) DeleteTicket(ctx context.Context, id string) error {
	return t.deleteRow(ctx, "support_tickets", id, queue.ErrUnknownTicket)
}

func (t *pgTx) Emit(ctx context.Context, ev queue.Event) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, outboxLock); err != nil {
		return fmt.Errorf("lock outbox: %w", err)
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO queue_events (kind, ticket_id, terminal_id, team_id, status, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(ev.Kind), ev.TicketID, ev.TerminalID, ev.TeamID, string(ev.Status), ev.At)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.Kind, err)
	}
	return nil
}

// deleteRow removes id from table. table is always one of the fixed
// names above.
func (t *pgTx) deleteRow(ctx context.Context, table, id string, missing error) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", missing, id)
	}
	return nil
}
