// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/schedulervm/config"
	"github.com/ava-labs/schedulervm/ledger"
	"github.com/ava-labs/schedulervm/state"
	"github.com/ava-labs/schedulervm/task"
)

func TestSubmitVerification(t *testing.T) {
	valid := SubmitRequest{
		ID:        []byte("id"),
		When:      task.After(1),
		Action:    &testAction{Weight: 1},
		Principal: task.SystemPrincipal,
	}

	tests := []struct {
		name        string
		modify      func(*SubmitRequest)
		expectedErr error
	}{
		{
			name:        "empty id",
			modify:      func(r *SubmitRequest) { r.ID = nil },
			expectedErr: ErrInvalidID,
		},
		{
			name:        "long id",
			modify:      func(r *SubmitRequest) { r.ID = make([]byte, task.MaxIDLen+1) },
			expectedErr: ErrInvalidID,
		},
		{
			name:        "nil action",
			modify:      func(r *SubmitRequest) { r.Action = nil },
			expectedErr: ErrNilAction,
		},
		{
			name: "unknown principal",
			modify: func(r *SubmitRequest) {
				r.Principal = task.Principal{Kind: 7}
			},
			expectedErr: ErrInvalidPrincipal,
		},
		{
			name:        "current block",
			modify:      func(r *SubmitRequest) { r.When = task.At(10) },
			expectedErr: ErrTargetInPast,
		},
		{
			name:        "past block",
			modify:      func(r *SubmitRequest) { r.When = task.At(3) },
			expectedErr: ErrTargetInPast,
		},
		{
			name:        "zero delay",
			modify:      func(r *SubmitRequest) { r.When = task.After(0) },
			expectedErr: ErrTargetInPast,
		},
		{
			name:        "delay overflow",
			modify:      func(r *SubmitRequest) { r.When = task.After(math.MaxUint64) },
			expectedErr: ErrTargetInPast,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)
			env := newEnvironment(t, config.Default)

			req := valid
			test.modify(&req)
			_, err := env.scheduler.Submit(env.db, 10, req)
			require.ErrorIs(err, test.expectedErr)
			require.Empty(env.events.Events)
		})
	}
}

func TestSubmitNormalizesRecurrence(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t, config.Default)

	env.submit(t, 0, SubmitRequest{
		ID:         []byte("once"),
		When:       task.After(2),
		Action:     &testAction{Weight: 1},
		Principal:  task.SystemPrincipal,
		Recurrence: task.Recurrence{Period: 0, Remaining: 5},
	})
	tk, addr, err := env.scheduler.GetTask(env.db, []byte("once"))
	require.NoError(err)
	require.Equal(uint64(2), addr.Block)
	require.Equal(task.Recurrence{}, tk.Recurrence)
	require.Zero(tk.Retries)
	require.Zero(tk.Errors)

	events := env.events.Drain()
	require.Len(events, 1)
	require.Equal(Scheduled, events[0].Kind)
	require.Equal(addr, events[0].Address)
}

func TestSubmitDuplicateID(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t, config.Default)

	req := SubmitRequest{
		ID:        []byte("dup"),
		When:      task.At(4),
		Action:    &testAction{Weight: 1},
		Principal: task.SystemPrincipal,
	}
	env.submit(t, 0, req)

	_, err := env.scheduler.Submit(env.db, 0, req)
	require.ErrorIs(err, ErrDuplicateID)

	// Once dispatched, the id can be reused.
	env.tick(t, 0, 4)
	req.When = task.At(6)
	env.submit(t, 4, req)
}

func TestSubmitAgendaFull(t *testing.T) {
	require := require.New(t)

	cfg := config.Default
	cfg.MaxScheduledPerBlock = 2
	env := newEnvironment(t, cfg)

	for _, id := range []string{"a", "b"} {
		env.submit(t, 0, SubmitRequest{
			ID:        []byte(id),
			When:      task.At(3),
			Action:    &testAction{Weight: 1},
			Principal: task.SystemPrincipal,
		})
	}
	req := SubmitRequest{
		ID:        []byte("c"),
		When:      task.At(3),
		Action:    &testAction{Weight: 1},
		Principal: task.SystemPrincipal,
	}
	_, err := env.scheduler.Submit(env.db, 0, req)
	require.ErrorIs(err, ErrAgendaFull)

	// A vacated slot frees capacity, but slot numbers aren't reused.
	require.NoError(env.scheduler.Cancel(env.db, 0, []byte("a"), task.SystemPrincipal))
	addr := env.submit(t, 0, req)
	require.Equal(task.Address{Block: 3, Slot: 2}, addr)
}

func TestCancel(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t, config.Default)

	var (
		owner    = task.UserPrincipal(ids.GenerateTestShortID())
		stranger = task.UserPrincipal(ids.GenerateTestShortID())
	)
	addr := env.submit(t, 0, SubmitRequest{
		ID:        []byte("mine"),
		When:      task.At(5),
		Action:    &testAction{Weight: 1},
		Principal: owner,
	})
	env.events.Drain()

	err := env.scheduler.Cancel(env.db, 1, []byte("mine"), stranger)
	require.ErrorIs(err, ErrUnauthorized)
	err = env.scheduler.Cancel(env.db, 1, []byte("mine"), task.SystemPrincipal)
	require.ErrorIs(err, ErrUnauthorized)
	require.False(env.fund(t, stranger).RefundOwed)

	require.NoError(env.scheduler.Cancel(env.db, 1, []byte("mine"), owner))
	events := env.events.Drain()
	require.Len(events, 1)
	require.Equal(Canceled, events[0].Kind)
	require.Equal(addr, events[0].Address)
	require.True(env.fund(t, owner).RefundOwed)

	// Canceling again changes nothing.
	err = env.scheduler.Cancel(env.db, 1, []byte("mine"), owner)
	require.ErrorIs(err, ErrNotFound)
	require.Empty(env.events.Events)
	require.True(env.fund(t, owner).RefundOwed)

	slots, err := env.scheduler.Agenda(env.db, 5)
	require.NoError(err)
	require.Equal([]*task.Task{nil}, slots)

	// Completed tasks can't be canceled either.
	finisher := task.UserPrincipal(ids.GenerateTestShortID())
	env.submit(t, 1, SubmitRequest{
		ID:        []byte("done"),
		When:      task.At(2),
		Action:    &testAction{Weight: 1},
		Principal: finisher,
	})
	env.tick(t, 1, 2)
	env.events.Drain()

	err = env.scheduler.Cancel(env.db, 2, []byte("done"), finisher)
	require.ErrorIs(err, ErrNotFound)
	require.Empty(env.events.Events)
	require.Equal(state.Fund{}, env.fund(t, finisher))
}

func TestReschedule(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t, config.Default)

	p := task.UserPrincipal(ids.GenerateTestShortID())
	oldAddr := env.submit(t, 0, SubmitRequest{
		ID:         []byte("moving"),
		When:       task.At(5),
		Action:     &testAction{Weight: 1},
		Principal:  p,
		Recurrence: task.Recurrence{Period: 2, Remaining: 2},
	})
	env.events.Drain()

	_, err := env.scheduler.Reschedule(env.db, 1, []byte("moving"), p, task.At(5))
	require.ErrorIs(err, ErrRescheduleNoChange)
	_, err = env.scheduler.Reschedule(env.db, 1, []byte("moving"), p, task.At(1))
	require.ErrorIs(err, ErrTargetInPast)
	_, err = env.scheduler.Reschedule(env.db, 1, []byte("moving"), task.SystemPrincipal, task.At(8))
	require.ErrorIs(err, ErrUnauthorized)
	_, err = env.scheduler.Reschedule(env.db, 1, []byte("unknown"), p, task.At(8))
	require.ErrorIs(err, ErrNotFound)
	require.Empty(env.events.Events)

	newAddr, err := env.scheduler.Reschedule(env.db, 1, []byte("moving"), p, task.After(7))
	require.NoError(err)
	require.Equal(task.Address{Block: 8, Slot: 0}, newAddr)
	events := env.events.Drain()
	require.Equal([]EventKind{Rescheduled}, kinds(events))
	require.Equal(oldAddr, events[0].From)
	require.Equal(newAddr, events[0].Address)

	// Moving a task isn't counted as a cancellation.
	counters := gatherCounters(t, env.registry)
	require.Equal(1., counters["scheduler_rescheduled_tasks"])
	require.Zero(counters["scheduler_canceled_tasks"])

	tk, addr, err := env.scheduler.GetTask(env.db, []byte("moving"))
	require.NoError(err)
	require.Equal(newAddr, addr)
	require.Equal(task.Recurrence{Period: 2, Remaining: 2}, tk.Recurrence)

	slots, err := env.scheduler.Agenda(env.db, oldAddr.Block)
	require.NoError(err)
	require.Equal([]*task.Task{nil}, slots)

	require.False(env.fund(t, p).RefundOwed)

	env.tick(t, 1, 10)
	heights, _ := dispatches(env.events.Events, "moving")
	require.Equal([]uint64{8, 10}, heights)
}

func TestRetryBound(t *testing.T) {
	require := require.New(t)

	cfg := config.Default
	cfg.MaxBlockWeight = 100_000
	cfg.MaxRetries = 2
	env := newEnvironment(t, cfg)

	p := task.UserPrincipal(ids.GenerateTestShortID())
	env.submit(t, 0, SubmitRequest{
		ID:        []byte("starved"),
		When:      task.At(5),
		Action:    &testAction{Weight: 50_000},
		Principal: p,
		Priority:  task.LowestPriority,
	})
	// Keep every block from block 5 on saturated.
	for height := uint64(5); height <= 10; height++ {
		env.submit(t, 0, SubmitRequest{
			ID:        []byte{'b', byte(height)},
			When:      task.At(height),
			Action:    &testAction{Weight: 100_000},
			Principal: task.SystemPrincipal,
		})
	}
	env.events.Drain()

	env.tick(t, 0, 10)

	var starved []Event
	for _, e := range env.events.Events {
		if string(e.ID) == "starved" {
			starved = append(starved, e)
		}
	}
	require.Equal([]EventKind{Postponed, Postponed, Dropped}, kinds(starved))
	require.Equal(uint64(7), starved[2].Height)
	require.True(env.fund(t, p).RefundOwed)

	_, _, err := env.scheduler.GetTask(env.db, []byte("starved"))
	require.ErrorIs(err, ErrNotFound)
}

func TestPostponeBeyondLastBlock(t *testing.T) {
	require := require.New(t)

	cfg := config.Default
	cfg.MaxBlockWeight = 100
	cfg.AccountWeight = 0
	env := newEnvironment(t, cfg)

	p := task.UserPrincipal(ids.GenerateTestShortID())
	for _, id := range []string{"first", "last"} {
		env.submit(t, math.MaxUint64-1, SubmitRequest{
			ID:        []byte(id),
			When:      task.At(math.MaxUint64),
			Action:    &testAction{Weight: 80},
			Principal: p,
			Priority:  task.LowestPriority,
		})
	}
	env.events.Drain()

	_, err := env.scheduler.Tick(env.db, math.MaxUint64)
	require.NoError(err)

	events := env.events.Drain()
	require.Equal([]EventKind{Dispatched, Dropped}, kinds(events))
	require.Equal([]byte("last"), events[1].ID)
	require.Equal(task.Address{Block: math.MaxUint64, Slot: 1}, events[1].Address)
	require.True(env.fund(t, p).RefundOwed)
}

func TestAccountWeightCountsTowardsBudget(t *testing.T) {
	require := require.New(t)

	cfg := config.Default
	cfg.MaxBlockWeight = 100_000
	cfg.AccountWeight = 30_000
	env := newEnvironment(t, cfg)

	p := task.UserPrincipal(ids.GenerateTestShortID())
	for _, id := range []string{"first", "second"} {
		env.submit(t, 0, SubmitRequest{
			ID:        []byte(id),
			When:      task.At(1),
			Action:    &testAction{Weight: 30_000},
			Principal: p,
		})
	}

	env.events.Drain()

	// The surcharge of the second task is charged even though the task
	// itself no longer fits.
	used, err := env.scheduler.Tick(env.db, 1)
	require.NoError(err)
	require.Equal([]EventKind{Dispatched, Postponed}, kinds(env.events.Drain()))
	require.EqualValues(90_000, used)
}

func TestReportedWeight(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t, config.Default)

	env.submit(t, 0, SubmitRequest{
		ID:        []byte("cheap"),
		When:      task.At(1),
		Action:    &testAction{Weight: 5_000, Actual: 1_000},
		Principal: task.SystemPrincipal,
	})
	env.submit(t, 0, SubmitRequest{
		ID:        []byte("silent"),
		When:      task.At(1),
		Action:    &testAction{Weight: 5_000},
		Principal: task.SystemPrincipal,
	})

	used, err := env.scheduler.Tick(env.db, 1)
	require.NoError(err)
	require.EqualValues(6_000, used)
}

func TestFund(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t, config.Default)

	p := task.UserPrincipal(ids.GenerateTestShortID())
	require.NoError(env.ledger.Mint(p.Account, 1_000))

	require.NoError(env.scheduler.Fund(env.db, 0, p, 400))
	require.Equal(state.Fund{Locked: 400}, env.fund(t, p))

	balance, err := env.ledger.Balance(p.Account)
	require.NoError(err)
	require.Equal(uint64(600), balance)
	pot, err := env.ledger.Balance(ledger.LockedPot)
	require.NoError(err)
	require.Equal(uint64(400), pot)

	err = env.scheduler.Fund(env.db, 0, p, 601)
	require.ErrorIs(err, ledger.ErrInsufficientBalance)
	require.Equal(state.Fund{Locked: 400}, env.fund(t, p))

	err = env.scheduler.Fund(env.db, 0, task.SystemPrincipal, 1)
	require.ErrorIs(err, ErrUnchargeable)

	events := env.events.Drain()
	require.Len(events, 1)
	require.Equal(Funded, events[0].Kind)
	require.Equal(uint64(400), events[0].Amount)
}

func TestFundOverflow(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)

	p := task.UserPrincipal(ids.GenerateTestShortID())
	l := ledger.NewMockLedger(ctrl)
	l.EXPECT().Transfer(p.Account, ledger.LockedPot, uint64(math.MaxUint64)).Return(nil)

	env := newEnvironmentWithLedger(t, config.Default, l)
	require.NoError(env.scheduler.Fund(env.db, 0, p, math.MaxUint64))

	err := env.scheduler.Fund(env.db, 0, p, 1)
	require.ErrorIs(err, ErrOverflow)
	require.Equal(state.Fund{Locked: math.MaxUint64}, env.fund(t, p))
}

func TestRedeem(t *testing.T) {
	require := require.New(t)
	env := newEnvironment(t, config.Default)

	p := task.UserPrincipal(ids.GenerateTestShortID())
	err := env.scheduler.Redeem(env.db, 0, p)
	require.ErrorIs(err, ErrNothingToRedeem)

	st := state.New(env.db, env.codec)
	require.NoError(st.PutFund(p, state.Fund{Locked: 100, Consumed: 50}))
	require.NoError(env.ledger.Mint(ledger.ConsumedPot, 50))

	err = env.scheduler.Redeem(env.db, 0, p)
	require.ErrorIs(err, ErrNothingToRedeem)

	require.NoError(st.FlagRefund(p))
	require.NoError(env.scheduler.Redeem(env.db, 0, p))
	require.Equal(state.Fund{Locked: 150}, env.fund(t, p))

	consumed, err := env.ledger.Balance(ledger.ConsumedPot)
	require.NoError(err)
	require.Zero(consumed)
	locked, err := env.ledger.Balance(ledger.LockedPot)
	require.NoError(err)
	require.Equal(uint64(50), locked)

	// The flag is cleared.
	err = env.scheduler.Redeem(env.db, 0, p)
	require.ErrorIs(err, ErrNothingToRedeem)

	events := env.events.Drain()
	require.Len(events, 1)
	require.Equal(Redeemed, events[0].Kind)
	require.Equal(uint64(50), events[0].Amount)
}

func TestRedeemWithNothingConsumed(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)

	// No transfer is expected.
	env := newEnvironmentWithLedger(t, config.Default, ledger.NewMockLedger(ctrl))

	p := task.UserPrincipal(ids.GenerateTestShortID())
	st := state.New(env.db, env.codec)
	require.NoError(st.PutFund(p, state.Fund{Locked: 10, RefundOwed: true}))

	require.NoError(env.scheduler.Redeem(env.db, 0, p))
	require.Equal(state.Fund{Locked: 10}, env.fund(t, p))
}

func TestRedeemLedgerFailureIsAtomic(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)

	errFail := errors.New("ledger unavailable")
	l := ledger.NewMockLedger(ctrl)
	l.EXPECT().Transfer(ledger.ConsumedPot, ledger.LockedPot, uint64(50)).Return(errFail)

	env := newEnvironmentWithLedger(t, config.Default, l)

	p := task.UserPrincipal(ids.GenerateTestShortID())
	fund := state.Fund{
		Locked:     100,
		Consumed:   50,
		RefundOwed: true,
	}
	st := state.New(env.db, env.codec)
	require.NoError(st.PutFund(p, fund))

	err := env.scheduler.Redeem(env.db, 0, p)
	require.ErrorIs(err, errFail)
	require.Equal(fund, env.fund(t, p))
	require.Empty(env.events.Events)
}

func TestRedeemOverflow(t *testing.T) {
	require := require.New(t)
	ctrl := gomock.NewController(t)

	env := newEnvironmentWithLedger(t, config.Default, ledger.NewMockLedger(ctrl))

	p := task.UserPrincipal(ids.GenerateTestShortID())
	fund := state.Fund{
		Locked:     math.MaxUint64,
		Consumed:   1,
		RefundOwed: true,
	}
	st := state.New(env.db, env.codec)
	require.NoError(st.PutFund(p, fund))

	err := env.scheduler.Redeem(env.db, 0, p)
	require.ErrorIs(err, ErrOverflow)
	require.Equal(fund, env.fund(t, p))
}
