// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/schedulervm/ledger"
	"github.com/ava-labs/schedulervm/state"
	"github.com/ava-labs/schedulervm/task"
)

// SubmitRequest describes a call to schedule.
type SubmitRequest struct {
	ID        []byte
	When      task.When
	Action    task.Action
	Principal task.Principal
	// Recurrence is normalized: a zero period or fewer than two occurrences
	// schedules a single run.
	Recurrence task.Recurrence
	Priority   task.Priority
}

// Submit schedules a new task while processing block [now].
func (s *Scheduler) Submit(db database.Database, now uint64, req SubmitRequest) (task.Address, error) {
	if err := task.VerifyID(req.ID); err != nil {
		return task.Address{}, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	if req.Action == nil {
		return task.Address{}, ErrNilAction
	}
	if err := req.Principal.Verify(); err != nil {
		return task.Address{}, fmt.Errorf("%w: %w", ErrInvalidPrincipal, err)
	}
	target, err := resolve(now, req.When)
	if err != nil {
		return task.Address{}, err
	}

	var addr task.Address
	err = s.apply(db, func(o *op) error {
		switch _, err := o.state.GetLookup(req.ID); err {
		case nil:
			return fmt.Errorf("%w: %x", ErrDuplicateID, req.ID)
		case database.ErrNotFound:
		default:
			return err
		}
		if err := s.checkCapacity(o.state, target); err != nil {
			return err
		}

		t := &task.Task{
			ID:         req.ID,
			Priority:   req.Priority,
			Action:     req.Action,
			Recurrence: task.NewRecurrence(req.Recurrence.Period, req.Recurrence.Remaining),
			Principal:  req.Principal,
		}
		var err error
		addr, err = place(o.state, target, t)
		if err != nil {
			return err
		}
		o.emit(Event{
			Kind:      Scheduled,
			Height:    now,
			Address:   addr,
			ID:        req.ID,
			Principal: req.Principal,
		})
		return nil
	})
	if err != nil {
		return task.Address{}, err
	}

	s.log.Debug("scheduled task",
		zap.Binary("id", req.ID),
		zap.Stringer("address", addr),
		zap.Stringer("principal", req.Principal),
		zap.Uint8("priority", uint8(req.Priority)),
	)
	return addr, nil
}

// Cancel removes the active task [id]. Only the task's principal may cancel
// it, and the principal is then owed a refund.
func (s *Scheduler) Cancel(db database.Database, now uint64, id []byte, caller task.Principal) error {
	var addr task.Address
	err := s.apply(db, func(o *op) error {
		var (
			t   *task.Task
			err error
		)
		addr, t, err = authorize(o.state, id, caller)
		if err != nil {
			return err
		}
		if err := o.state.Vacate(addr); err != nil {
			return err
		}
		if err := o.state.DeleteLookup(id); err != nil {
			return err
		}
		if err := o.state.FlagRefund(caller); err != nil {
			return err
		}
		o.emit(Event{
			Kind:      Canceled,
			Height:    now,
			Address:   addr,
			ID:        id,
			Principal: t.Principal,
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Debug("canceled task",
		zap.Binary("id", id),
		zap.Stringer("address", addr),
	)
	return nil
}

// Reschedule moves the active task [id] to a new block. Its counters and
// recurrence are kept.
func (s *Scheduler) Reschedule(
	db database.Database,
	now uint64,
	id []byte,
	caller task.Principal,
	when task.When,
) (task.Address, error) {
	target, err := resolve(now, when)
	if err != nil {
		return task.Address{}, err
	}

	var newAddr task.Address
	err = s.apply(db, func(o *op) error {
		oldAddr, t, err := authorize(o.state, id, caller)
		if err != nil {
			return err
		}
		if oldAddr.Block == target {
			return fmt.Errorf("%w: %d", ErrRescheduleNoChange, target)
		}
		if err := s.checkCapacity(o.state, target); err != nil {
			return err
		}
		if err := o.state.Vacate(oldAddr); err != nil {
			return err
		}
		newAddr, err = place(o.state, target, t)
		if err != nil {
			return err
		}
		o.emit(Event{
			Kind:      Rescheduled,
			Height:    now,
			Address:   newAddr,
			ID:        id,
			Principal: t.Principal,
			From:      oldAddr,
		})
		return nil
	})
	return newAddr, err
}

// Fund locks [amount] of [caller]'s balance for scheduling.
func (s *Scheduler) Fund(db database.Database, now uint64, caller task.Principal, amount uint64) error {
	if !caller.IsChargeable() {
		return fmt.Errorf("%w: %s", ErrUnchargeable, caller)
	}
	return s.apply(db, func(o *op) error {
		fund, err := o.state.GetFund(caller)
		if err != nil {
			return err
		}
		locked, err := math.Add64(fund.Locked, amount)
		if err != nil {
			return fmt.Errorf("%w: locking %d on top of %d: %w", ErrOverflow, amount, fund.Locked, err)
		}

		fund.Locked = locked
		if err := o.state.PutFund(caller, fund); err != nil {
			return err
		}
		// The ledger isn't staged, so it must be the last fallible step.
		if err := s.ledger.Transfer(caller.Account, ledger.LockedPot, amount); err != nil {
			return fmt.Errorf("couldn't lock funds of %s: %w", caller, err)
		}
		o.emit(Event{
			Kind:      Funded,
			Height:    now,
			Principal: caller,
			Amount:    amount,
		})
		return nil
	})
}

// Redeem returns [caller]'s consumed funds to its locked funds. It requires
// a refund to be owed.
func (s *Scheduler) Redeem(db database.Database, now uint64, caller task.Principal) error {
	return s.apply(db, func(o *op) error {
		fund, err := o.state.GetFund(caller)
		if err != nil {
			return err
		}
		if !fund.RefundOwed {
			return fmt.Errorf("%w: %s", ErrNothingToRedeem, caller)
		}

		amount := fund.Consumed
		locked, err := math.Add64(fund.Locked, amount)
		if err != nil {
			return fmt.Errorf("%w: redeeming %d on top of %d: %w", ErrOverflow, amount, fund.Locked, err)
		}

		if err := o.state.PutFund(caller, state.Fund{Locked: locked}); err != nil {
			return err
		}
		if amount > 0 {
			if err := s.ledger.Transfer(ledger.ConsumedPot, ledger.LockedPot, amount); err != nil {
				return fmt.Errorf("couldn't redeem funds of %s: %w", caller, err)
			}
		}
		o.emit(Event{
			Kind:      Redeemed,
			Height:    now,
			Principal: caller,
			Amount:    amount,
		})
		return nil
	})
}

func resolve(now uint64, when task.When) (uint64, error) {
	target, err := when.Resolve(now)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTargetInPast, err)
	}
	if target <= now {
		return 0, fmt.Errorf("%w: target %d, current %d", ErrTargetInPast, target, now)
	}
	return target, nil
}

// authorize loads the active task [id] and checks [caller] owns it.
func authorize(st *state.State, id []byte, caller task.Principal) (task.Address, *task.Task, error) {
	addr, err := st.GetLookup(id)
	if err == database.ErrNotFound {
		return task.Address{}, nil, fmt.Errorf("%w: %x", ErrNotFound, id)
	}
	if err != nil {
		return task.Address{}, nil, err
	}
	t, err := st.GetTask(addr)
	if err != nil {
		return task.Address{}, nil, fmt.Errorf("couldn't load task %x at %s: %w", id, addr, err)
	}
	if t.Principal != caller {
		return task.Address{}, nil, fmt.Errorf("%w: %s doesn't own %x", ErrUnauthorized, caller, id)
	}
	return addr, t, nil
}

// checkCapacity enforces MaxScheduledPerBlock on caller-initiated placement.
func (s *Scheduler) checkCapacity(st *state.State, block uint64) error {
	if s.config.MaxScheduledPerBlock <= 0 {
		return nil
	}
	occupied, err := st.Occupied(block)
	if err != nil {
		return err
	}
	if occupied >= s.config.MaxScheduledPerBlock {
		return fmt.Errorf("%w: block %d holds %d tasks", ErrAgendaFull, block, occupied)
	}
	return nil
}

// place appends [t] to [block] and points the lookup at it.
func place(st *state.State, block uint64, t *task.Task) (task.Address, error) {
	addr, err := st.Append(block, t)
	if err != nil {
		return task.Address{}, err
	}
	return addr, st.PutLookup(t.ID, addr)
}
