// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package task

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/utils/logging"

	"github.com/ava-labs/schedulervm/ledger"
	"github.com/ava-labs/schedulervm/weight"
)

// MaxIDLen is the maximum number of bytes in a task identifier.
const MaxIDLen = 32

var (
	ErrEmptyID   = errors.New("empty task id")
	ErrIDTooLong = fmt.Errorf("task id exceeds %d bytes", MaxIDLen)
)

// Env is handed to an Action when it is dispatched.
type Env struct {
	// Height of the block the action is running in.
	Height uint64
	Ledger ledger.Ledger
	Log    logging.Logger
}

// Action is an opaque call the scheduler dispatches on behalf of a
// principal. Concrete actions must be registered with the codec used to
// persist tasks.
type Action interface {
	// EstimatedWeight is the weight declared before dispatch and used for
	// admission.
	EstimatedWeight() weight.Weight

	// Run executes the action as [principal]. If the returned bool is false
	// the action did not report its actual weight and the estimate is
	// charged instead.
	Run(env *Env, principal Principal) (weight.Weight, bool, error)
}

// Task is a unit of deferred, possibly recurring, work.
type Task struct {
	ID         []byte     `serialize:"true" json:"id"`
	Priority   Priority   `serialize:"true" json:"priority"`
	Action     Action     `serialize:"true" json:"action"`
	Recurrence Recurrence `serialize:"true" json:"recurrence"`
	Principal  Principal  `serialize:"true" json:"principal"`

	// Retries is the number of blocks this task has been postponed for lack
	// of weight. Errors is the number of failed dispatches.
	Retries uint32 `serialize:"true" json:"retries"`
	Errors  uint32 `serialize:"true" json:"errors"`
}

// VerifyID checks that [id] can be used as a task identifier.
func VerifyID(id []byte) error {
	switch {
	case len(id) == 0:
		return ErrEmptyID
	case len(id) > MaxIDLen:
		return ErrIDTooLong
	default:
		return nil
	}
}

// Address is the stable location of a task in the agenda.
type Address struct {
	Block uint64 `serialize:"true" json:"block"`
	Slot  uint32 `serialize:"true" json:"slot"`
}

func (a Address) String() string {
	return fmt.Sprintf("%d:%d", a.Block, a.Slot)
}
