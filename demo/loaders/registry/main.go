// Command registry seeds teams, participants and terminals through the
// supportqueue API.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/refset/supportqueue/internal/client"
)

var teams = []struct {
	Name         string
	Allowance    int
	Participants [][2]string
}{
	{"Ada Lovelace Hall", 4, [][2]string{{"P-101", "Mira"}, {"P-102", "Jonas"}, {"P-103", "Lea"}}},
	{"Byte Club", 3, [][2]string{{"P-201", "Tomasz"}, {"P-202", "Ines"}}},
	{"Null Pointers", 5, [][2]string{{"P-301", "Sam"}, {"P-302", "Noor"}, {"P-303", "Kai"}}},
	{"Off By One", 2, nil},
}

var terminals = []string{"Help Desk A", "Help Desk B", "Hardware Bench"}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	baseURL := os.Getenv("SUPPORTQUEUE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := client.New(baseURL)
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		logger.Error("supportqueue not reachable", "url", baseURL, "err", err)
		os.Exit(1)
	}

	for _, t := range teams {
		id, err := c.AddTeam(ctx, t.Name, t.Allowance)
		if err != nil {
			logger.Error("add team", "team", t.Name, "err", err)
			continue
		}
		for _, p := range t.Participants {
			if err := c.AddParticipant(ctx, p[0], p[1], id); err != nil {
				logger.Error("add participant", "participant", p[0], "err", err)
			}
		}
		logger.Info("added team", "id", id, "name", t.Name, "allowance", t.Allowance, "participants", len(t.Participants))
	}

	for _, name := range terminals {
		id, err := c.AddTerminal(ctx, name)
		if err != nil {
			logger.Error("add terminal", "terminal", name, "err", err)
			continue
		}
		logger.Info("added terminal", "id", id, "name", name)
	}
}
