package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/refset/supportqueue/internal/queue"
)

// Producer sends queue events to Kafka. Ticket events go to one topic
// keyed by ticket id, terminal events to another keyed by terminal id,
// so each record's history stays in one partition.
type Producer struct {
	ticketsWriter   *kafka.Writer
	terminalsWriter *kafka.Writer
	logger          *slog.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, ticketsTopic, terminalsTopic string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Producer{
		ticketsWriter: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        ticketsTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		terminalsWriter: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        terminalsTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

// Name identifies the sink in metrics and logs.
func (p *Producer) Name() string { return "kafka" }

// Publish writes events in order. Ticket and terminal batches are written
// separately; a failure returns before later events are attempted.
func (p *Producer) Publish(ctx context.Context, events []queue.Event) error {
	tickets, terminals, err := Messages(events)
	if err != nil {
		return err
	}
	if len(tickets) > 0 {
		if err := p.ticketsWriter.WriteMessages(ctx, tickets...); err != nil {
			return fmt.Errorf("write ticket events: %w", err)
		}
	}
	if len(terminals) > 0 {
		if err := p.terminalsWriter.WriteMessages(ctx, terminals...); err != nil {
			return fmt.Errorf("write terminal events: %w", err)
		}
	}
	p.logger.Debug("sent events to kafka", "tickets", len(tickets), "terminals", len(terminals))
	return nil
}

// Messages splits events into ticket and terminal messages.
func Messages(events []queue.Event) (tickets, terminals []kafka.Message, err error) {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, nil, fmt.Errorf("encode event %d: %w", ev.Seq, err)
		}
		msg := kafka.Message{
			Value: data,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(ev.Kind)},
				{Key: "seq", Value: []byte(strconv.FormatInt(ev.Seq, 10))},
			},
		}
		if ev.IsTerminalEvent() {
			msg.Key = []byte(ev.TerminalID)
			terminals = append(terminals, msg)
		} else {
			msg.Key = []byte(ev.TicketID)
			tickets = append(tickets, msg)
		}
	}
	return tickets, terminals, nil
}

// Close closes the Kafka writers
func (p *Producer) Close() error {
	if err := p.ticketsWriter.Close(); err != nil {
		return err
	}
	return p.terminalsWriter.Close()
}
