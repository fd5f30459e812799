// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/utils/logging"

	"github.com/ava-labs/schedulervm/config"
	"github.com/ava-labs/schedulervm/ledger"
	"github.com/ava-labs/schedulervm/state"
	"github.com/ava-labs/schedulervm/task"
)

// Scheduler registers calls to be dispatched at future blocks and runs them
// when their block is processed.
//
// The Scheduler keeps no state of its own: every operation is handed the
// database holding the agenda, the lookup and the funds. Operations must not
// be invoked concurrently.
type Scheduler struct {
	config  config.Config
	codec   codec.Manager
	ledger  ledger.Ledger
	events  EventSink
	log     logging.Logger
	metrics *metrics
}

// New returns a Scheduler. [c] must be able to (un)marshal every action
// that will be submitted. [events] may be nil.
func New(
	cfg *config.Config,
	c codec.Manager,
	l ledger.Ledger,
	events EventSink,
	log logging.Logger,
	registerer prometheus.Registerer,
) (*Scheduler, error) {
	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, fmt.Errorf("couldn't register scheduler metrics: %w", err)
	}
	if events == nil {
		events = noEvents{}
	}
	return &Scheduler{
		config:  *cfg,
		codec:   c,
		ledger:  l,
		events:  events,
		log:     log,
		metrics: m,
	}, nil
}

// op is a single all-or-nothing operation on the scheduler state.
type op struct {
	state  *state.State
	events []Event
}

func (o *op) emit(e Event) {
	o.events = append(o.events, e)
}

// apply runs [f] against a staged view of [db]. The changes, and the events
// [f] emitted, are only published if [f] succeeds.
func (s *Scheduler) apply(db database.Database, f func(*op) error) error {
	vdb := versiondb.New(db)
	o := &op{
		state: state.New(vdb, s.codec),
	}
	if err := f(o); err != nil {
		vdb.Abort()
		return err
	}
	if err := vdb.Commit(); err != nil {
		return fmt.Errorf("couldn't commit scheduler state: %w", err)
	}

	s.metrics.observe(o.events)
	for _, e := range o.events {
		s.events.Emit(e)
	}
	return nil
}

// GetTask returns the active task [id] and its address.
func (s *Scheduler) GetTask(db database.Database, id []byte) (*task.Task, task.Address, error) {
	st := state.New(db, s.codec)
	addr, err := st.GetLookup(id)
	if err == database.ErrNotFound {
		return nil, task.Address{}, fmt.Errorf("%w: %x", ErrNotFound, id)
	}
	if err != nil {
		return nil, task.Address{}, err
	}
	t, err := st.GetTask(addr)
	if err != nil {
		return nil, task.Address{}, fmt.Errorf("couldn't load task %x at %s: %w", id, addr, err)
	}
	return t, addr, nil
}

// Agenda returns the slots of [block]. Vacated slots are nil.
func (s *Scheduler) Agenda(db database.Database, block uint64) ([]*task.Task, error) {
	return state.New(db, s.codec).Agenda(block)
}

func (s *Scheduler) GetFund(db database.Database, p task.Principal) (state.Fund, error) {
	return state.New(db, s.codec).GetFund(p)
}
