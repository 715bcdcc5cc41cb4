package queue

import (
	"context"
	"errors"
	"slices"
	"strings"
)

// AddTeam registers a team with the given ticket allowance.
func (e *Engine) AddTeam(ctx context.Context, name string, allowance int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if allowance < 0 {
		return "", ErrInvalidAllowance
	}
	var id string
	err := e.run(ctx, "add_team", func(ctx context.Context, tx Tx) error {
		team := &Team{
			ID:               e.newID(),
			Name:             name,
			InitialAllowance: allowance,
			Remaining:        allowance,
			ParticipantIDs:   []string{},
		}
		id = team.ID
		return tx.PutTeam(ctx, team)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Team returns a team by id.
func (e *Engine) Team(ctx context.Context, teamID string) (*Team, error) {
	var team *Team
	err := e.run(ctx, "team", func(ctx context.Context, tx Tx) error {
		var err error
		team, err = tx.Team(ctx, teamID)
		return err
	})
	return team, err
}

// SetAllowance overwrites both allowance counters of a team. It is the
// manual edit path; remaining may exceed initial.
func (e *Engine) SetAllowance(ctx context.Context, teamID string, initial, remaining int) error {
	if initial < 0 || remaining < 0 {
		return ErrInvalidAllowance
	}
	return e.run(ctx, "set_allowance", func(ctx context.Context, tx Tx) error {
		team, err := tx.Team(ctx, teamID)
		if err != nil {
			return err
		}
		team.InitialAllowance = initial
		team.Remaining = remaining
		return tx.PutTeam(ctx, team)
	})
}

// RenameTeam changes a team's name. Existing tickets keep their snapshot.
func (e *Engine) RenameTeam(ctx context.Context, teamID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	return e.run(ctx, "rename_team", func(ctx context.Context, tx Tx) error {
		team, err := tx.Team(ctx, teamID)
		if err != nil {
			return err
		}
		team.Name = name
		return tx.PutTeam(ctx, team)
	})
}

// DeleteTeam removes a team and its participants. Its tickets remain;
// deleting one of them later skips the refund.
func (e *Engine) DeleteTeam(ctx context.Context, teamID string) error {
	return e.run(ctx, "delete_team", func(ctx context.Context, tx Tx) error {
		team, err := tx.Team(ctx, teamID)
		if err != nil {
			return err
		}
		for _, pid := range team.ParticipantIDs {
			if err := tx.DeleteParticipant(ctx, pid); err != nil && !errors.Is(err, ErrUnknownParticipant) {
				return err
			}
		}
		return tx.DeleteTeam(ctx, teamID)
	})
}

// AddParticipant registers a participant under an externally supplied
// id, or moves an existing participant to teamID.
func (e *Engine) AddParticipant(ctx context.Context, id, name, teamID string) error {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return ErrEmptyName
	}
	return e.run(ctx, "add_participant", func(ctx context.Context, tx Tx) error {
		team, err := tx.Team(ctx, teamID)
		if err != nil {
			return err
		}
		prev, err := tx.Participant(ctx, id)
		switch {
		case err == nil && prev.TeamID != teamID:
			if err := detachParticipant(ctx, tx, prev); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, ErrUnknownParticipant):
			return err
		}
		if !slices.Contains(team.ParticipantIDs, id) {
			team.ParticipantIDs = append(team.ParticipantIDs, id)
			if err := tx.PutTeam(ctx, team); err != nil {
				return err
			}
		}
		return tx.PutParticipant(ctx, &Participant{ID: id, Name: name, TeamID: teamID})
	})
}

// DeleteParticipant removes a participant and detaches it from its team.
func (e *Engine) DeleteParticipant(ctx context.Context, id string) error {
	return e.run(ctx, "delete_participant", func(ctx context.Context, tx Tx) error {
		p, err := tx.Participant(ctx, id)
		if err != nil {
			return err
		}
		if err := detachParticipant(ctx, tx, p); err != nil {
			return err
		}
		return tx.DeleteParticipant(ctx, id)
	})
}

func detachParticipant(ctx context.Context, tx Tx, p *Participant) error {
	team, err := tx.Team(ctx, p.TeamID)
	if errors.Is(err, ErrUnknownTeam) {
		return nil
	}
	if err != nil {
		return err
	}
	team.ParticipantIDs = without(team.ParticipantIDs, p.ID)
	return tx.PutTeam(ctx, team)
}
