// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import (
	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/schedulervm/config"
	"github.com/ava-labs/schedulervm/task"
	"github.com/ava-labs/schedulervm/weight"
)

const defaultTreeDegree = 2

// queued is a task drained from the agenda, ordered by priority and then by
// the slot it was drained from.
type queued struct {
	slot uint32
	task *task.Task
}

func (q *queued) Less(other *queued) bool {
	if q.task.Priority != other.task.Priority {
		return q.task.Priority < other.task.Priority
	}
	return q.slot < other.slot
}

// Tick processes the agenda of block [now] and returns the weight it
// consumed.
//
// Failing actions never fail the tick. An error is only returned if the
// state could not be read or written, in which case nothing is committed.
func (s *Scheduler) Tick(db database.Database, now uint64) (weight.Weight, error) {
	meter := weight.NewMeter(s.config.MaxBlockWeight)
	err := s.apply(db, func(o *op) error {
		slots, err := o.state.Take(now)
		if err != nil {
			return err
		}

		tree := btree.NewG(defaultTreeDegree, (*queued).Less)
		for slot, t := range slots {
			if t == nil {
				continue
			}
			tree.ReplaceOrInsert(&queued{
				slot: uint32(slot),
				task: t,
			})
		}

		var (
			order int
			errs  error
		)
		tree.Ascend(func(q *queued) bool {
			errs = s.process(o, meter, now, order, q)
			order++
			return errs == nil
		})
		return errs
	})
	if err != nil {
		return 0, err
	}

	s.metrics.blockWeight.Set(float64(meter.Used()))
	return meter.Used(), nil
}

// process handles the [order]th task of the block.
func (s *Scheduler) process(o *op, meter *weight.Meter, now uint64, order int, q *queued) error {
	t := q.task
	addr := task.Address{
		Block: now,
		Slot:  q.slot,
	}
	if err := o.state.DeleteLookup(t.ID); err != nil {
		return err
	}

	declared := t.Action.EstimatedWeight()
	if t.Principal.IsChargeable() {
		meter.Consume(s.config.AccountWeight)
	}

	// The first task of a block is admitted whatever its weight.
	if !t.Priority.IsExempt() && order > 0 && !meter.Fits(declared) {
		return s.postpone(o, now, addr, t)
	}

	env := &task.Env{
		Height: now,
		Ledger: s.ledger,
		Log:    s.log,
	}
	actual, reported, runErr := t.Action.Run(env, t.Principal)
	if !reported {
		actual = declared
	}
	meter.Consume(actual)
	if runErr != nil {
		t.Errors = saturatingInc(t.Errors)
		s.log.Debug("dispatched task failed",
			zap.Binary("id", t.ID),
			zap.Stringer("address", addr),
			zap.Uint32("errors", t.Errors),
			zap.Error(runErr),
		)
	}
	o.emit(Event{
		Kind:      Dispatched,
		Height:    now,
		Address:   addr,
		ID:        t.ID,
		Principal: t.Principal,
		Err:       runErr,
	})

	if !t.Recurrence.IsSet() {
		return nil
	}
	if runErr != nil {
		exhausted := t.Errors >= s.config.MaxErrors
		if exhausted {
			if err := o.state.FlagRefund(t.Principal); err != nil {
				return err
			}
		}
		if exhausted || s.config.PeriodicFailurePolicy == config.Halt {
			s.log.Debug("ending failed series",
				zap.Binary("id", t.ID),
				zap.Uint32("errors", t.Errors),
				zap.Bool("refundOwed", exhausted),
			)
			return nil
		}
	}

	period := t.Recurrence.Period
	next, err := math.Add64(now, period)
	if err != nil {
		s.log.Warn("ending series beyond the last block",
			zap.Binary("id", t.ID),
			zap.Uint64("period", period),
		)
		return nil
	}
	t.Recurrence = t.Recurrence.Next()
	_, err = s.requeue(o, next, t)
	return err
}

// postpone moves [t] to the next block or drops it once it has used up its
// retries.
func (s *Scheduler) postpone(o *op, now uint64, addr task.Address, t *task.Task) error {
	if t.Retries >= s.config.MaxRetries {
		s.log.Debug("dropping task",
			zap.Binary("id", t.ID),
			zap.Stringer("address", addr),
			zap.Uint32("retries", t.Retries),
		)
		return s.drop(o, now, addr, t)
	}

	next, err := math.Add64(now, 1)
	if err != nil {
		s.log.Warn("dropping task beyond the last block",
			zap.Binary("id", t.ID),
			zap.Stringer("address", addr),
		)
		return s.drop(o, now, addr, t)
	}
	t.Retries++
	newAddr, err := s.requeue(o, next, t)
	if err != nil {
		return err
	}
	o.emit(Event{
		Kind:      Postponed,
		Height:    now,
		Address:   newAddr,
		ID:        t.ID,
		Principal: t.Principal,
	})
	return nil
}

// drop discards [t] without dispatching it. Its principal is owed a refund.
func (s *Scheduler) drop(o *op, now uint64, addr task.Address, t *task.Task) error {
	if err := o.state.FlagRefund(t.Principal); err != nil {
		return err
	}
	o.emit(Event{
		Kind:      Dropped,
		Height:    now,
		Address:   addr,
		ID:        t.ID,
		Principal: t.Principal,
	})
	return nil
}

// requeue places [t] in [block]. The per-block cap is only advisory here: a
// task already accepted by the scheduler is never refused.
func (s *Scheduler) requeue(o *op, block uint64, t *task.Task) (task.Address, error) {
	if limit := s.config.MaxScheduledPerBlock; limit > 0 {
		occupied, err := o.state.Occupied(block)
		if err != nil {
			return task.Address{}, err
		}
		if occupied >= limit {
			s.log.Warn("agenda exceeds its scheduling limit",
				zap.Uint64("block", block),
				zap.Int("occupied", occupied),
				zap.Int("limit", limit),
			)
		}
	}
	return place(o.state, block, t)
}

func saturatingInc(v uint32) uint32 {
	if v == ^uint32(0) {
		return v
	}
	return v + 1
}
