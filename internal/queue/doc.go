// Package queue implements the support ticket lifecycle and the
// assignment of tickets to terminal queues.
//
// Every operation on [Engine] reads, validates and writes inside a single
// [Store.Atomic] unit, so a team's allowance, a terminal's queue order and
// a ticket's status always move together. Stores report lost races with
// [ErrTransactionConflict]; the engine then re-runs the whole operation
// from fresh reads.
//
// Tickets live in one of two kinds of container: the shared waiting pool
// ([WaitingPool]) or a terminal's queue. The status state machine is
//
//	waiting_assignment -> queued -> called -> in_progress -> completed
//
// with [Engine.RelocateTicket] moving tickets laterally between the pool
// and terminals while they are not being served.
package queue
