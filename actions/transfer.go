// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package actions

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/schedulervm/task"
	"github.com/ava-labs/schedulervm/weight"
)

const TransferWeight weight.Weight = 50_000

var (
	_ task.Action = (*Transfer)(nil)

	ErrNoAccount = errors.New("principal has no account")
)

// Transfer pays [Amount] from the principal's account to [To].
type Transfer struct {
	To     ids.ShortID `serialize:"true" json:"to"`
	Amount uint64      `serialize:"true" json:"amount"`
}

func (*Transfer) EstimatedWeight() weight.Weight {
	return TransferWeight
}

func (t *Transfer) Run(env *task.Env, principal task.Principal) (weight.Weight, bool, error) {
	if !principal.IsChargeable() {
		return 0, false, fmt.Errorf("%w: %s", ErrNoAccount, principal)
	}
	return 0, false, env.Ledger.Transfer(principal.Account, t.To, t.Amount)
}
