package queue

import (
	"context"
	"time"
)

// Store is the atomic batch primitive the engine is built on.
//
// Atomic runs fn against one consistent snapshot and commits every write
// made through tx together, or none of them. If fn returns an error
// nothing is written. If the commit loses a race with a concurrent
// transaction the store returns an error matching ErrTransactionConflict
// and nothing is written.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of the store inside one atomic unit. Getters return
// copies; changes become visible to the transaction immediately and to
// everyone else on commit.
type Tx interface {
	// Team returns ErrUnknownTeam if the team does not exist.
	Team(ctx context.Context, id string) (*Team, error)
	PutTeam(ctx context.Context, team *Team) error
	DeleteTeam(ctx context.Context, id string) error
	// Debit takes one unit from the team's allowance, failing with
	// ErrInsufficientAllowance when none remain.
	Debit(ctx context.Context, teamID string) error
	// Credit returns one unit to the team's allowance.
	Credit(ctx context.Context, teamID string) error

	// Participant returns ErrUnknownParticipant if it does not exist.
	Participant(ctx context.Context, id string) (*Participant, error)
	PutParticipant(ctx context.Context, p *Participant) error
	DeleteParticipant(ctx context.Context, id string) error

	// Terminal returns ErrUnknownTerminal if it does not exist.
	Terminal(ctx context.Context, id string) (*Terminal, error)
	// Terminals lists all terminals ordered by creation time.
	Terminals(ctx context.Context) ([]*Terminal, error)
	PutTerminal(ctx context.Context, t *Terminal) error
	DeleteTerminal(ctx context.Context, id string) error

	// Ticket returns ErrUnknownTicket if it does not exist.
	Ticket(ctx context.Context, id string) (*Ticket, error)
	// Tickets lists tickets in any of the given statuses, oldest request
	// first. No statuses means all tickets.
	Tickets(ctx context.Context, statuses ...Status) ([]*Ticket, error)
	PutTicket(ctx context.Context, t *Ticket) error
	DeleteTicket(ctx context.Context, id string) error

	// Emit appends a change event to the store's outbox. The store
	// assigns Seq on commit.
	Emit(ctx context.Context, ev Event) error
}

// EventKind names a committed change.
type EventKind string

const (
	EventTicketCreated   EventKind = "ticket.created"
	EventTicketEdited    EventKind = "ticket.edited"
	EventTicketRelocated EventKind = "ticket.relocated"
	EventTicketCalled    EventKind = "ticket.called"
	EventTicketStarted   EventKind = "ticket.started"
	EventTicketCompleted EventKind = "ticket.completed"
	EventTicketDeleted   EventKind = "ticket.deleted"
	EventTerminalAdded   EventKind = "terminal.added"
	EventTerminalRenamed EventKind = "terminal.renamed"
	EventTerminalToggled EventKind = "terminal.toggled"
	EventTerminalDeleted EventKind = "terminal.deleted"
)

// Event is one entry in the change outbox.
type Event struct {
	Seq        int64     `json:"seq"`
	Kind       EventKind `json:"kind"`
	TicketID   string    `json:"ticket_id,omitempty"`
	TerminalID string    `json:"terminal_id,omitempty"`
	TeamID     string    `json:"team_id,omitempty"`
	Status     Status    `json:"status,omitempty"`
	At         time.Time `json:"at"`
}

// IsTerminalEvent reports whether the event describes a terminal rather
// than a ticket.
func (e Event) IsTerminalEvent() bool {
	switch e.Kind {
	case EventTerminalAdded, EventTerminalRenamed, EventTerminalToggled, EventTerminalDeleted:
		return true
	}
	return false
}

// Observer receives the outcome of every engine operation.
type Observer interface {
	ObserveOperation(op string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, time.Duration, error) {}
