package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultMaxAttempts = 3

// Engine applies ticket and terminal transitions against a Store.
// It keeps no state of its own between calls and is safe for concurrent
// use; all serialization happens in the store.
type Engine struct {
	store       Store
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
	maxAttempts int
	observer    Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now for timestamps written to tickets.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs replaces the random UUID generator used for new records.
func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithMaxAttempts bounds how many times an operation is run when the
// store reports a transaction conflict.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithObserver reports every operation's outcome to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// New creates an engine over store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		newID:       uuid.NewString,
		maxAttempts: defaultMaxAttempts,
		observer:    nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run executes fn as one atomic unit. On a transaction conflict the
// whole closure is re-run, so fn must derive everything from tx.
func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	start := time.Now()
	var err error
	for attempt := 1; ; attempt++ {
		err = e.store.Atomic(ctx, fn)
		if !errors.Is(err, ErrTransactionConflict) {
			break
		}
		if attempt >= e.maxAttempts {
			e.logger.Warn("transaction conflict, giving up", "op", op, "attempts", attempt)
			break
		}
		e.logger.Debug("transaction conflict, retrying", "op", op, "attempt", attempt)
	}
	e.observer.ObserveOperation(op, time.Since(start), err)
	return err
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC()
}

// CreateTicket spends one unit of the team's allowance on a new ticket in
// the waiting pool. participantID may be empty.
func (e *Engine) CreateTicket(ctx context.Context, teamID, participantID, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", ErrEmptyTopic
	}

	var id string
	err := e.run(ctx, "create_ticket", func(ctx context.Context, tx Tx) error {
		team, err := tx.Team(ctx, teamID)
		if err != nil {
			return err
		}
		if team.Remaining <= 0 {
			return fmt.Errorf("%w: team %q has no tickets left", ErrInsufficientAllowance, team.Name)
		}

		participantName := NoParticipant
		if participantID != "" {
			p, err := tx.Participant(ctx, participantID)
			if errors.Is(err, ErrUnknownParticipant) {
				return fmt.Errorf("%w: participant %s not found", ErrInvalidParticipant, participantID)
			}
			if err != nil {
				return err
			}
			if p.TeamID != teamID {
				return fmt.Errorf("%w: participant %s belongs to team %s", ErrInvalidParticipant, participantID, p.TeamID)
			}
			participantName = p.Name
		}

		if err := tx.Debit(ctx, teamID); err != nil {
			return err
		}

		ticket := &Ticket{
			ID:              e.newID(),
			TeamID:          team.ID,
			TeamName:        team.Name,
			ParticipantID:   participantID,
			ParticipantName: participantName,
			Topic:           topic,
			Status:          StatusWaitingAssignment,
			RequestedAt:     e.timestamp(),
		}
		if err := tx.PutTicket(ctx, ticket); err != nil {
			return err
		}
		id = ticket.ID
		return tx.Emit(ctx, Event{
			Kind:     EventTicketCreated,
			TicketID: ticket.ID,
			TeamID:   ticket.TeamID,
			Status:   ticket.Status,
			At:       ticket.RequestedAt,
		})
	})
	if err != nil {
		return "", err
	}
	e.logger.Debug("ticket created", "ticket", id, "team", teamID)
	return id, nil
}

// EditTopic replaces a ticket's topic.
func (e *Engine) EditTopic(ctx context.Context, ticketID, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrEmptyTopic
	}
	return e.run(ctx, "edit_topic", func(ctx context.Context, tx Tx) error {
		t, err := tx.Ticket(ctx, ticketID)
		if err != nil {
			return err
		}
		t.Topic = topic
		if err := tx.PutTicket(ctx, t); err != nil {
			return err
		}
		return tx.Emit(ctx, Event{Kind: EventTicketEdited, TicketID: t.ID, TeamID: t.TeamID, Status: t.Status, At: e.timestamp()})
	})
}

// CallNext makes the first queued ticket of the terminal its current
// ticket. Whether the terminal is open is not checked.
func (e *Engine) CallNext(ctx context.Context, terminalID string) (string, error) {
	var id string
	err := e.run(ctx, "call_next", func(ctx context.Context, tx Tx) error {
		term, err := tx.Terminal(ctx, terminalID)
		if err != nil {
			return err
		}
		if term.CurrentTicketID != "" {
			return fmt.Errorf("%w: %s is serving %s", ErrTerminalBusy, term.Name, term.CurrentTicketID)
		}

		var next *Ticket
		for _, candidate := range term.QueueOrder {
			t, err := tx.Ticket(ctx, candidate)
			if errors.Is(err, ErrUnknownTicket) {
				continue
			}
			if err != nil {
				return err
			}
			if t.Status == StatusQueued && t.AssignedTerminalID == term.ID {
				next = t
				break
			}
		}
		if next == nil {
			return fmt.Errorf("%w: %s", ErrQueueEmpty, term.Name)
		}

		now := e.timestamp()
		term.CurrentTicketID = next.ID
		next.Status = StatusCalled
		next.CalledAt = &now
		if err := tx.PutTerminal(ctx, term); err != nil {
			return err
		}
		if err := tx.PutTicket(ctx, next); err != nil {
			return err
		}
		id = next.ID
		return tx.Emit(ctx, Event{Kind: EventTicketCalled, TicketID: next.ID, TerminalID: term.ID, TeamID: next.TeamID, Status: next.Status, At: now})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// StartSupport moves the terminal's called ticket into progress.
func (e *Engine) StartSupport(ctx context.Context, terminalID, ticketID string) error {
	return e.run(ctx, "start_support", func(ctx context.Context, tx Tx) error {
		term, err := tx.Terminal(ctx, terminalID)
		if err != nil {
			return err
		}
		if term.CurrentTicketID != ticketID {
			return fmt.Errorf("%w: %s is not current at %s", ErrTicketNotCalled, ticketID, term.Name)
		}
		t, err := tx.Ticket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status != StatusCalled {
			return fmt.Errorf("%w: %s is %s", ErrTicketNotCalled, ticketID, t.Status)
		}

		now := e.timestamp()
		t.Status = StatusInProgress
		t.StartedAt = &now
		if err := tx.PutTicket(ctx, t); err != nil {
			return err
		}
		return tx.Emit(ctx, Event{Kind: EventTicketStarted, TicketID: t.ID, TerminalID: term.ID, TeamID: t.TeamID, Status: t.Status, At: now})
	})
}

// EndSupport completes the terminal's in-progress ticket and frees the
// terminal.
func (e *Engine) EndSupport(ctx context.Context, terminalID, ticketID string) error {
	return e.run(ctx, "end_support", func(ctx context.Context, tx Tx) error {
		term, err := tx.Terminal(ctx, terminalID)
		if err != nil {
			return err
		}
		if term.CurrentTicketID != ticketID {
			return fmt.Errorf("%w: %s is not current at %s", ErrTicketNotActive, ticketID, term.Name)
		}
		t, err := tx.Ticket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status != StatusInProgress {
			return fmt.Errorf("%w: %s is %s", ErrTicketNotActive, ticketID, t.Status)
		}

		now := e.timestamp()
		t.Status = StatusCompleted
		t.CompletedAt = &now
		term.CurrentTicketID = ""
		term.QueueOrder = without(term.QueueOrder, ticketID)
		if err := tx.PutTicket(ctx, t); err != nil {
			return err
		}
		if err := tx.PutTerminal(ctx, term); err != nil {
			return err
		}
		return tx.Emit(ctx, Event{Kind: EventTicketCompleted, TicketID: t.ID, TerminalID: term.ID, TeamID: t.TeamID, Status: t.Status, At: now})
	})
}

// Deletion describes a successful ticket deletion.
type Deletion struct {
	TicketID string `json:"ticket_id"`
	TeamID   string `json:"team_id"`
	// RefundSkipped is set when the owning team no longer exists and the
	// allowance unit could not be returned.
	RefundSkipped bool `json:"refund_skipped"`
}

// DeleteTicket removes a ticket that is not being served, scrubs it from
// every terminal queue and refunds the team's allowance.
func (e *Engine) DeleteTicket(ctx context.Context, ticketID string) (*Deletion, error) {
	var result *Deletion
	err := e.run(ctx, "delete_ticket", func(ctx context.Context, tx Tx) error {
		t, err := tx.Ticket(ctx, ticketID)
		if err != nil {
			return err
		}
		terminals, err := tx.Terminals(ctx)
		if err != nil {
			return err
		}

		var active []string
		for _, term := range terminals {
			if term.CurrentTicketID == ticketID {
				active = append(active, term.Name)
			}
		}
		if len(active) > 0 {
			return &ActiveAtTerminalError{TicketID: ticketID, Terminals: active}
		}

		for _, term := range terminals {
			if !slices.Contains(term.QueueOrder, ticketID) {
				continue
			}
			term.QueueOrder = without(term.QueueOrder, ticketID)
			if err := tx.PutTerminal(ctx, term); err != nil {
				return err
			}
		}

		result = &Deletion{TicketID: t.ID, TeamID: t.TeamID}
		if err := tx.Credit(ctx, t.TeamID); err != nil {
			if !errors.Is(err, ErrUnknownTeam) {
				return err
			}
			result.RefundSkipped = true
		}

		if err := tx.DeleteTicket(ctx, ticketID); err != nil {
			return err
		}
		return tx.Emit(ctx, Event{Kind: EventTicketDeleted, TicketID: t.ID, TeamID: t.TeamID, Status: t.Status, At: e.timestamp()})
	})
	if err != nil {
		return nil, err
	}
	if result.RefundSkipped {
		e.logger.Warn("ticket deleted but team no longer exists, allowance not refunded",
			"ticket", result.TicketID, "team", result.TeamID)
	}
	return result, nil
}
