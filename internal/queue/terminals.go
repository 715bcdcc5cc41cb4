package queue

import (
	"context"
	"fmt"
	"strings"
)

// AddTerminal registers a new, open terminal with an empty queue.
func (e *Engine) AddTerminal(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	var id string
	err := e.run(ctx, "add_terminal", func(ctx context.Context, tx Tx) error {
		now := e.timestamp()
		term := &Terminal{
			ID:         e.newID(),
			Name:       name,
			IsOpen:     true,
			QueueOrder: []string{},
			CreatedAt:  now,
		}
		if err := tx.PutTerminal(ctx, term); err != nil {
			return err
		}
		id = term.ID
		return tx.Emit(ctx, Event{Kind: EventTerminalAdded, TerminalID: term.ID, At: now})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RenameTerminal changes a terminal's display name. Tickets keep the
// name they were assigned under.
func (e *Engine) RenameTerminal(ctx context.Context, terminalID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	return e.run(ctx, "rename_terminal", func(ctx context.Context, tx Tx) error {
		term, err := tx.Terminal(ctx, terminalID)
		if err != nil {
			return err
		}
		term.Name = name
		if err := tx.PutTerminal(ctx, term); err != nil {
			return err
		}
		return tx.Emit(ctx, Event{Kind: EventTerminalRenamed, TerminalID: term.ID, At: e.timestamp()})
	})
}

// ToggleOpen flips a terminal between open and closed and returns the
// new state. Closed terminals still accept every engine operation.
func (e *Engine) ToggleOpen(ctx context.Context, terminalID string) (bool, error) {
	var open bool
	err := e.run(ctx, "toggle_open", func(ctx context.Context, tx Tx) error {
		term, err := tx.Terminal(ctx, terminalID)
		if err != nil {
			return err
		}
		term.IsOpen = !term.IsOpen
		if err := tx.PutTerminal(ctx, term); err != nil {
			return err
		}
		open = term.IsOpen
		return tx.Emit(ctx, Event{Kind: EventTerminalToggled, TerminalID: term.ID, At: e.timestamp()})
	})
	return open, err
}

// DeleteTerminal removes a terminal that has no queued, called or
// in-progress tickets.
func (e *Engine) DeleteTerminal(ctx context.Context, terminalID string) error {
	return e.run(ctx, "delete_terminal", func(ctx context.Context, tx Tx) error {
		term, err := tx.Terminal(ctx, terminalID)
		if err != nil {
			return err
		}
		if term.CurrentTicketID != "" || len(term.QueueOrder) > 0 {
			return fmt.Errorf("%w: %s", ErrTerminalHasTickets, term.Name)
		}
		assigned, err := tx.Tickets(ctx, StatusQueued, StatusCalled, StatusInProgress)
		if err != nil {
			return err
		}
		for _, t := range assigned {
			if t.AssignedTerminalID == terminalID {
				return fmt.Errorf("%w: %s still holds %s", ErrTerminalHasTickets, term.Name, t.ID)
			}
		}
		if err := tx.DeleteTerminal(ctx, terminalID); err != nil {
			return err
		}
		return tx.Emit(ctx, Event{Kind: EventTerminalDeleted, TerminalID: terminalID, At: e.timestamp()})
	})
}
