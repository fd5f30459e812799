// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package actions

import (
	"go.uber.org/zap"

	"github.com/ava-labs/schedulervm/task"
	"github.com/ava-labs/schedulervm/weight"
)

const (
	RemarkBaseWeight weight.Weight = 10_000
	RemarkByteWeight weight.Weight = 10
)

var _ task.Action = (*Remark)(nil)

// Remark records an opaque payload in the node log. It always succeeds.
type Remark struct {
	Payload []byte `serialize:"true" json:"payload"`
}

func (r *Remark) EstimatedWeight() weight.Weight {
	return RemarkBaseWeight.Add(RemarkByteWeight * weight.Weight(len(r.Payload)))
}

func (r *Remark) Run(env *task.Env, principal task.Principal) (weight.Weight, bool, error) {
	env.Log.Info("remark",
		zap.Uint64("height", env.Height),
		zap.Stringer("principal", principal),
		zap.Binary("payload", r.Payload),
	)
	return r.EstimatedWeight(), true, nil
}
