// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import "github.com/ava-labs/schedulervm/task"

var (
	_ EventSink = (*Recorder)(nil)
	_ EventSink = noEvents{}
)

// EventKind is the type of a scheduler event
type EventKind uint8

const (
	Scheduled EventKind = iota
	Canceled
	Dispatched
	Postponed
	Dropped
	Funded
	Redeemed
	Rescheduled
)

func (k EventKind) String() string {
	switch k {
	case Scheduled:
		return "Scheduled"
	case Canceled:
		return "Canceled"
	case Dispatched:
		return "Dispatched"
	case Postponed:
		return "Postponed"
	case Dropped:
		return "Dropped"
	case Funded:
		return "Funded"
	case Redeemed:
		return "Redeemed"
	case Rescheduled:
		return "Rescheduled"
	default:
		return "Unknown"
	}
}

// Event is emitted once the state change it describes has been committed.
type Event struct {
	Kind EventKind
	// Height is the block the event happened in.
	Height    uint64
	Address   task.Address
	ID        []byte
	Principal task.Principal
	// From is the address a Rescheduled task was moved out of.
	From task.Address
	// Amount is set on Funded and Redeemed.
	Amount uint64
	// Err is the failure of a Dispatched task, nil on success.
	Err error
}

type EventSink interface {
	Emit(Event)
}

// Recorder keeps every event it is handed.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(e Event) {
	r.Events = append(r.Events, e)
}

// Drain returns the recorded events and forgets them.
func (r *Recorder) Drain() []Event {
	events := r.Events
	r.Events = nil
	return events
}

type noEvents struct{}

func (noEvents) Emit(Event) {}
