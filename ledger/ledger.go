// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ava-labs/avalanchego/utils/math"
)

var (
	_ Ledger = (*State)(nil)

	ErrInsufficientBalance = errors.New("insufficient balance")

	// LockedPot holds every principal's locked scheduling funds.
	LockedPot = ids.ShortID(hashing.ComputeHash160Array([]byte("schedulervm/locked")))
	// ConsumedPot holds the scheduling funds already charged by fee
	// settlement and not yet redeemed.
	ConsumedPot = ids.ShortID(hashing.ComputeHash160Array([]byte("schedulervm/consumed")))

	balancePrefix = []byte("balance")
)

// Ledger moves balances between accounts.
type Ledger interface {
	Balance(addr ids.ShortID) (uint64, error)

	// Transfer moves [amount] from [from] to [to]. It returns
	// ErrInsufficientBalance, and moves nothing, if [from] can't cover it.
	Transfer(from, to ids.ShortID, amount uint64) error
}

/*
 * LedgerDB
 * '-. balance
 *   '-- address -> balance
 */
type State struct {
	db database.Database
}

func New(db database.Database) *State {
	return &State{
		db: prefixdb.New(balancePrefix, db),
	}
}

func (s *State) Balance(addr ids.ShortID) (uint64, error) {
	balance, err := database.GetUInt64(s.db, addr[:])
	if err == database.ErrNotFound {
		return 0, nil
	}
	return balance, err
}

func (s *State) setBalance(addr ids.ShortID, balance uint64) error {
	if balance == 0 {
		return s.db.Delete(addr[:])
	}
	return database.PutUInt64(s.db, addr[:], balance)
}

// Mint credits [amount] to [addr] out of thin air. It is only used to seed
// genesis and development balances.
func (s *State) Mint(addr ids.ShortID, amount uint64) error {
	balance, err := s.Balance(addr)
	if err != nil {
		return err
	}
	balance, err = math.Add64(balance, amount)
	if err != nil {
		return fmt.Errorf("couldn't mint %d to %s: %w", amount, addr, err)
	}
	return s.setBalance(addr, balance)
}

func (s *State) Transfer(from, to ids.ShortID, amount uint64) error {
	fromBalance, err := s.Balance(from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, fromBalance, amount)
	}
	if amount == 0 || from == to {
		return nil
	}

	toBalance, err := s.Balance(to)
	if err != nil {
		return err
	}
	toBalance, err = math.Add64(toBalance, amount)
	if err != nil {
		return fmt.Errorf("couldn't credit %d to %s: %w", amount, to, err)
	}

	if err := s.setBalance(from, fromBalance-amount); err != nil {
		return err
	}
	return s.setBalance(to, toBalance)
}
