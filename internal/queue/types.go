package queue

import (
	"slices"
	"time"
)

// WaitingPool is the container id of the shared, unassigned pool.
const WaitingPool = "waiting_assignment"

// NoParticipant is the participant name snapshot used when a ticket is
// filed for a team without naming a participant.
const NoParticipant = "N/A"

// Status is a ticket's position in the lifecycle.
type Status string

const (
	StatusWaitingAssignment Status = "waiting_assignment"
	StatusQueued            Status = "queued"
	StatusCalled            Status = "called"
	StatusInProgress        Status = "in_progress"
	StatusCompleted         Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaitingAssignment, StatusQueued, StatusCalled, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Serving reports whether a ticket in this status is a terminal's
// current ticket.
func (s Status) Serving() bool {
	return s == StatusCalled || s == StatusInProgress
}

// Team holds a team's ticket allowance.
type Team struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	InitialAllowance int      `json:"initial_allowance"`
	Remaining        int      `json:"remaining"`
	ParticipantIDs   []string `json:"participant_ids"`
}

// Clone returns a deep copy of t.
func (t *Team) Clone() *Team {
	c := *t
	c.ParticipantIDs = slices.Clone(t.ParticipantIDs)
	return &c
}

// Participant is a registered member of a team. Its id is supplied by
// the caller (badge or registration number) and never generated here.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TeamID string `json:"team_id"`
}

// Clone returns a copy of p.
func (p *Participant) Clone() *Participant {
	c := *p
	return &c
}

// Terminal is a staffed service point with its own ordered queue.
//
// QueueOrder never holds duplicates. CurrentTicketID, when set, names a
// called or in-progress ticket assigned to this terminal; that ticket
// keeps its slot in QueueOrder until support ends.
type Terminal struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	IsOpen          bool      `json:"is_open"`
	QueueOrder      []string  `json:"queue_order"`
	CurrentTicketID string    `json:"current_ticket_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Clone returns a deep copy of t.
func (t *Terminal) Clone() *Terminal {
	c := *t
	c.QueueOrder = slices.Clone(t.QueueOrder)
	return &c
}

// Ticket is one support request. TeamName, ParticipantName and
// AssignedTerminalName are snapshots taken when the ticket was written
// and do not follow later renames.
type Ticket struct {
	ID                   string     `json:"id"`
	TeamID               string     `json:"team_id"`
	TeamName             string     `json:"team_name"`
	ParticipantID        string     `json:"participant_id,omitempty"`
	ParticipantName      string     `json:"participant_name"`
	Topic                string     `json:"topic"`
	Status               Status     `json:"status"`
	AssignedTerminalID   string     `json:"assigned_terminal_id,omitempty"`
	AssignedTerminalName string     `json:"assigned_terminal_name,omitempty"`
	RequestedAt          time.Time  `json:"requested_at"`
	CalledAt             *time.Time `json:"called_at,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of t.
func (t *Ticket) Clone() *Ticket {
	c := *t
	c.CalledAt = cloneTime(t.CalledAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

// Container returns the id of the container currently holding the
// ticket: WaitingPool or the assigned terminal's id.
func (t *Ticket) Container() string {
	if t.Status == StatusWaitingAssignment {
		return WaitingPool
	}
	return t.AssignedTerminalID
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func without(order []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(order), func(s string) bool { return s == id })
}
