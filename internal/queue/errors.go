package queue

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientAllowance  = errors.New("insufficient allowance")
	ErrInvalidParticipant     = errors.New("participant does not belong to team")
	ErrTerminalBusy           = errors.New("terminal is busy")
	ErrQueueEmpty             = errors.New("queue is empty")
	ErrTicketNotCalled        = errors.New("ticket is not the called ticket")
	ErrTicketNotActive        = errors.New("ticket is not in progress")
	ErrTicketActiveAtTerminal = errors.New("ticket is active at a terminal")
	ErrUnknownTerminal        = errors.New("unknown terminal")
	ErrUnknownTicket          = errors.New("unknown ticket")
	ErrTransactionConflict    = errors.New("transaction conflict")

	ErrUnknownTeam        = errors.New("unknown team")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrEmptyTopic         = errors.New("topic is empty")
	ErrEmptyName          = errors.New("name is empty")
	ErrInvalidAllowance   = errors.New("allowance must not be negative")
	ErrPoolReorder        = errors.New("waiting pool cannot be reordered")
	ErrTicketCompleted    = errors.New("ticket is completed")
	ErrTerminalHasTickets = errors.New("terminal has assigned tickets")
)

// ActiveAtTerminalError reports the terminals at which a ticket is the
// current ticket. It matches ErrTicketActiveAtTerminal.
type ActiveAtTerminalError struct {
	TicketID  string
	Terminals []string
}

func (e *ActiveAtTerminalError) Error() string {
	return fmt.Sprintf("ticket %s is active at terminal(s): %s", e.TicketID, strings.Join(e.Terminals, ", "))
}

func (e *ActiveAtTerminalError) Is(target error) bool {
	return target == ErrTicketActiveAtTerminal
}

var codes = []struct {
	err  error
	code string
}{
	{ErrInsufficientAllowance, "insufficient_allowance"},
	{ErrInvalidParticipant, "invalid_participant"},
	{ErrTerminalBusy, "terminal_busy"},
	{ErrQueueEmpty, "queue_empty"},
	{ErrTicketNotCalled, "ticket_not_called"},
	{ErrTicketNotActive, "ticket_not_active"},
	{ErrTicketActiveAtTerminal, "ticket_active_at_terminal"},
	{ErrUnknownTerminal, "unknown_terminal"},
	{ErrUnknownTicket, "unknown_ticket"},
	{ErrTransactionConflict, "transaction_conflict"},
	{ErrUnknownTeam, "unknown_team"},
	{ErrUnknownParticipant, "unknown_participant"},
	{ErrEmptyTopic, "empty_topic"},
	{ErrEmptyName, "empty_name"},
	{ErrInvalidAllowance, "invalid_allowance"},
	{ErrPoolReorder, "pool_reorder"},
	{ErrTicketCompleted, "ticket_completed"},
	{ErrTerminalHasTickets, "terminal_has_tickets"},
}

// Code returns the stable snake_case name of the taxonomy error matched
// by err, "ok" for nil and "internal" for anything else.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// ErrorForCode is the inverse of Code. It returns nil for unknown codes.
func ErrorForCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
