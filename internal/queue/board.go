package queue

import (
	"context"
	"slices"
)

// Board is a consistent snapshot of every container.
type Board struct {
	Waiting   []*Ticket      `json:"waiting"`
	Terminals []TerminalView `json:"terminals"`
}

// TerminalView is a terminal with its current ticket and its backlog in
// queue order. The current ticket is not repeated in Backlog.
type TerminalView struct {
	Terminal *Terminal `json:"terminal"`
	Current  *Ticket   `json:"current,omitempty"`
	Backlog  []*Ticket `json:"backlog"`
}

// Board reads the waiting pool, oldest request first, and every
// terminal's tickets.
func (e *Engine) Board(ctx context.Context) (*Board, error) {
	var board *Board
	err := e.run(ctx, "board", func(ctx context.Context, tx Tx) error {
		waiting, err := tx.Tickets(ctx, StatusWaitingAssignment)
		if err != nil {
			return err
		}
		assigned, err := tx.Tickets(ctx, StatusQueued, StatusCalled, StatusInProgress)
		if err != nil {
			return err
		}
		terminals, err := tx.Terminals(ctx)
		if err != nil {
			return err
		}

		board = &Board{Waiting: waiting, Terminals: make([]TerminalView, 0, len(terminals))}
		for _, term := range terminals {
			board.Terminals = append(board.Terminals, viewOf(term, assigned))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return board, nil
}

func viewOf(term *Terminal, assigned []*Ticket) TerminalView {
	view := TerminalView{Terminal: term, Backlog: []*Ticket{}}
	for _, t := range assigned {
		if t.AssignedTerminalID != term.ID {
			continue
		}
		if t.ID == term.CurrentTicketID {
			view.Current = t
			continue
		}
		view.Backlog = append(view.Backlog, t)
	}
	// Tickets missing from the queue order sort last.
	slices.SortStableFunc(view.Backlog, func(a, b *Ticket) int {
		ia, ib := slices.Index(term.QueueOrder, a.ID), slices.Index(term.QueueOrder, b.ID)
		switch {
		case ia == ib:
			return 0
		case ia == -1:
			return 1
		case ib == -1:
			return -1
		}
		return ia - ib
	})
	return view
}
