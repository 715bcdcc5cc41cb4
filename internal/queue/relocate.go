package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Target is where a ticket is dropped.
//
// Container is WaitingPool, a terminal id, or the id of another ticket;
// in the last case the ticket's container is used and the ticket becomes
// the Reference. Reference optionally names the ticket the moved ticket
// should take the place of when reordering inside one terminal.
type Target struct {
	Container string `json:"container"`
	Reference string `json:"reference,omitempty"`
}

// RelocateTicket moves a ticket between the waiting pool and terminal
// queues, or reorders it within its terminal's queue. The ticket, the
// source terminal and the target terminal are written as one unit.
func (e *Engine) RelocateTicket(ctx context.Context, ticketID string, target Target) error {
	return e.run(ctx, "relocate_ticket", func(ctx context.Context, tx Tx) error {
		t, err := tx.Ticket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status == StatusCompleted {
			return fmt.Errorf("%w: %s", ErrTicketCompleted, ticketID)
		}

		source := t.Container()
		dest, ref, err := resolveTarget(ctx, tx, target)
		if err != nil {
			return err
		}
		if source == WaitingPool && dest == WaitingPool {
			return ErrPoolReorder
		}
		if ref == ticketID && source == dest {
			// Dropped onto itself.
			return nil
		}

		var srcTerm, dstTerm *Terminal
		if source != WaitingPool {
			srcTerm, err = tx.Terminal(ctx, source)
			if err != nil && !errors.Is(err, ErrUnknownTerminal) {
				return err
			}
		}
		if dest != WaitingPool {
			if dest == source && srcTerm != nil {
				dstTerm = srcTerm
			} else if dstTerm, err = tx.Terminal(ctx, dest); err != nil {
				return err
			}
		}

		if t.Status.Serving() && source != dest {
			name := source
			if srcTerm != nil {
				name = srcTerm.Name
			}
			return &ActiveAtTerminalError{TicketID: ticketID, Terminals: []string{name}}
		}

		if dstTerm == nil {
			t.Status = StatusWaitingAssignment
			t.AssignedTerminalID = ""
			t.AssignedTerminalName = ""
		} else {
			if !(source == dest && t.Status.Serving()) {
				t.Status = StatusQueued
			}
			t.AssignedTerminalID = dstTerm.ID
			t.AssignedTerminalName = dstTerm.Name
		}
		if err := tx.PutTicket(ctx, t); err != nil {
			return err
		}

		switch {
		case srcTerm != nil && srcTerm == dstTerm:
			srcTerm.QueueOrder = moveNear(srcTerm.QueueOrder, ticketID, ref)
			if err := tx.PutTerminal(ctx, srcTerm); err != nil {
				return err
			}
		default:
			if srcTerm != nil {
				srcTerm.QueueOrder = without(srcTerm.QueueOrder, ticketID)
				if err := tx.PutTerminal(ctx, srcTerm); err != nil {
					return err
				}
			}
			if dstTerm != nil {
				dstTerm.QueueOrder = append(without(dstTerm.QueueOrder, ticketID), ticketID)
				if err := tx.PutTerminal(ctx, dstTerm); err != nil {
					return err
				}
			}
		}

		ev := Event{Kind: EventTicketRelocated, TicketID: t.ID, TeamID: t.TeamID, Status: t.Status, At: e.timestamp()}
		if dstTerm != nil {
			ev.TerminalID = dstTerm.ID
		}
		return tx.Emit(ctx, ev)
	})
}

// resolveTarget returns the destination container id and the reference
// ticket id for a drop.
func resolveTarget(ctx context.Context, tx Tx, target Target) (string, string, error) {
	ref := target.Reference
	switch target.Container {
	case WaitingPool:
		return WaitingPool, ref, nil
	case "":
		if ref == "" {
			return "", "", fmt.Errorf("%w: no drop target", ErrUnknownTerminal)
		}
		return containerOfDrop(ctx, tx, ref, ref)
	}

	_, err := tx.Terminal(ctx, target.Container)
	if err == nil {
		return target.Container, ref, nil
	}
	if !errors.Is(err, ErrUnknownTerminal) {
		return "", "", err
	}
	if ref == "" {
		ref = target.Container
	}
	return containerOfDrop(ctx, tx, target.Container, ref)
}

// containerOfDrop resolves the container of a ticket used as drop target.
func containerOfDrop(ctx context.Context, tx Tx, ticketID, ref string) (string, string, error) {
	other, err := tx.Ticket(ctx, ticketID)
	if errors.Is(err, ErrUnknownTicket) {
		return "", "", fmt.Errorf("%w: drop target %s", ErrUnknownTerminal, ticketID)
	}
	if err != nil {
		return "", "", err
	}
	if other.Status == StatusCompleted {
		return "", "", fmt.Errorf("%w: drop target %s is completed", ErrUnknownTerminal, ticketID)
	}
	return other.Container(), ref, nil
}

// moveNear moves id to the index currently held by ref. When either
// index cannot be found the ticket is appended to the end instead.
func moveNear(order []string, id, ref string) []string {
	from := slices.Index(order, id)
	to := -1
	if ref != "" {
		to = slices.Index(order, ref)
	}
	if from == -1 || to == -1 {
		return append(without(order, id), id)
	}
	out := slices.Delete(slices.Clone(order), from, from+1)
	return slices.Insert(out, to, id)
}
