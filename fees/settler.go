// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fees charges scheduling fees against the funds principals have
// locked with the scheduler.
package fees

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/schedulervm/ledger"
	"github.com/ava-labs/schedulervm/state"
	"github.com/ava-labs/schedulervm/task"
)

var (
	ErrUnchargeable      = errors.New("principal can't be charged")
	ErrInsufficientFunds = errors.New("insufficient locked funds")
)

// Settler moves charged fees from a principal's locked funds to its
// consumed funds, where they stay until redeemed.
type Settler struct {
	codec  codec.Manager
	ledger ledger.Ledger
}

func NewSettler(c codec.Manager, l ledger.Ledger) *Settler {
	return &Settler{
		codec:  c,
		ledger: l,
	}
}

// Charge consumes [amount] of [p]'s locked funds. Nothing is charged if an
// error is returned.
func (s *Settler) Charge(db database.Database, p task.Principal, amount uint64) error {
	if !p.IsChargeable() {
		return fmt.Errorf("%w: %s", ErrUnchargeable, p)
	}
	if amount == 0 {
		return nil
	}

	vdb := versiondb.New(db)
	defer vdb.Abort()

	st := state.New(vdb, s.codec)
	fund, err := st.GetFund(p)
	if err != nil {
		return err
	}
	locked, err := math.Sub(fund.Locked, amount)
	if err != nil {
		return fmt.Errorf("%w: %s has %d locked, needs %d", ErrInsufficientFunds, p, fund.Locked, amount)
	}
	consumed, err := math.Add64(fund.Consumed, amount)
	if err != nil {
		return fmt.Errorf("couldn't consume %d on top of %d: %w", amount, fund.Consumed, err)
	}

	fund.Locked = locked
	fund.Consumed = consumed
	if err := st.PutFund(p, fund); err != nil {
		return err
	}
	if err := s.ledger.Transfer(ledger.LockedPot, ledger.ConsumedPot, amount); err != nil {
		return fmt.Errorf("couldn't move charged funds: %w", err)
	}
	return vdb.Commit()
}
