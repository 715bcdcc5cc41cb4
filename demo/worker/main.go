// Command worker simulates support staff: at every open terminal it calls
// the next ticket, works on it for a while and closes it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/refset/supportqueue/internal/client"
	"github.com/refset/supportqueue/internal/queue"
)

// session tracks the ticket a terminal is serving.
type session struct {
	ticketID string
	started  bool
	doneAt   time.Time
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	baseURL := os.Getenv("SUPPORTQUEUE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := client.New(baseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	logger.Info("starting support worker", "url", baseURL)

	sessions := map[string]*session{}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			return
		case <-ticker.C:
			board, err := c.Board(ctx)
			if err != nil {
				logger.Error("load board", "err", err)
				continue
			}
			for _, view := range board.Terminals {
				if !view.Terminal.IsOpen {
					continue
				}
				step(ctx, logger, c, sessions, view)
			}
		}
	}
}

func step(ctx context.Context, logger *slog.Logger, c *client.Client, sessions map[string]*session, view queue.TerminalView) {
	term := view.Terminal
	s := sessions[term.ID]

	// Adopt a ticket called by someone else, forget one that vanished.
	if view.Current == nil {
		s = nil
	} else if s == nil || s.ticketID != view.Current.ID {
		s = &session{ticketID: view.Current.ID, started: view.Current.Status == queue.StatusInProgress}
	}

	switch {
	case s == nil:
		id, err := c.CallNext(ctx, term.ID)
		if errors.Is(err, queue.ErrQueueEmpty) {
			delete(sessions, term.ID)
			return
		}
		if err != nil {
			logger.Error("call next", "terminal", term.Name, "err", err)
			return
		}
		logger.Info("called ticket", "terminal", term.Name, "ticket", id)
		s = &session{ticketID: id}
	case !s.started:
		if err := c.StartSupport(ctx, term.ID, s.ticketID); err != nil {
			logger.Error("start support", "terminal", term.Name, "ticket", s.ticketID, "err", err)
			return
		}
		s.started = true
		s.doneAt = time.Now().Add(time.Duration(2+rand.IntN(5)) * time.Second)
		logger.Info("support started", "terminal", term.Name, "ticket", s.ticketID)
	case time.Now().After(s.doneAt):
		if err := c.EndSupport(ctx, term.ID, s.ticketID); err != nil {
			logger.Error("end support", "terminal", term.Name, "ticket", s.ticketID, "err", err)
			return
		}
		logger.Info("support completed", "terminal", term.Name, "ticket", s.ticketID)
		s = nil
	}

	if s == nil {
		delete(sessions, term.ID)
	} else {
		sessions[term.ID] = s
	}
}
