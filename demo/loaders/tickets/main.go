// Command tickets creates support tickets for random teams and spreads
// them over the terminals.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/refset/supportqueue/internal/client"
	"github.com/refset/supportqueue/internal/queue"
)

var sampleTopics = []string{
	"Laptop will not connect to the venue wifi",
	"Need an HDMI adapter for the demo screen",
	"Docker build fails with permission denied",
	"Cannot push to the team repository",
	"Raspberry Pi does not boot from SD card",
	"Lost access to the cloud credits account",
	"Projector shows no signal",
	"Keyboard layout switched to something strange",
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	baseURL := os.Getenv("SUPPORTQUEUE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	count := 5
	if len(os.Args) > 1 {
		fmt.Sscanf(os.Args[1], "%d", &count)
	}

	c := client.New(baseURL)
	ctx := context.Background()

	board, err := c.Board(ctx)
	if err != nil {
		logger.Error("load board", "err", err)
		os.Exit(1)
	}
	teamIDs := os.Args[min(2, len(os.Args)):]
	if len(teamIDs) == 0 {
		logger.Error("usage: tickets COUNT TEAM_ID...")
		os.Exit(2)
	}

	logger.Info("creating tickets", "count", count, "teams", len(teamIDs), "terminals", len(board.Terminals))

	created := 0
	for i := 0; i < count; i++ {
		team := teamIDs[rand.IntN(len(teamIDs))]
		topic := sampleTopics[rand.IntN(len(sampleTopics))]

		id, err := c.CreateTicket(ctx, team, "", topic)
		if errors.Is(err, queue.ErrInsufficientAllowance) {
			logger.Warn("team has no tickets left", "team", team)
			continue
		}
		if err != nil {
			logger.Error("create ticket", "team", team, "err", err)
			continue
		}
		created++

		// Leave every third ticket in the waiting pool.
		if len(board.Terminals) > 0 && i%3 != 2 {
			term := board.Terminals[i%len(board.Terminals)].Terminal
			if err := c.RelocateTicket(ctx, id, queue.Target{Container: term.ID}); err != nil {
				logger.Error("relocate ticket", "ticket", id, "err", err)
			} else {
				logger.Info("queued ticket", "ticket", id, "terminal", term.Name, "topic", topic)
			}
		} else {
			logger.Info("ticket waiting", "ticket", id, "topic", topic)
		}

		time.Sleep(200 * time.Millisecond)
	}

	logger.Info("done", "created", created)
}
