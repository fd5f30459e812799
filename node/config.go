// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"errors"
	"time"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/schedulervm/config"
)

var errNonPositiveBlockInterval = errors.New("block interval must be positive")

// Allocation is a balance credited to an account when the node starts on an
// empty database.
type Allocation struct {
	Address ids.ShortID `json:"address"`
	Amount  uint64      `json:"amount"`
}

// Config contains all of the configurations of a development node.
type Config struct {
	// BlockInterval is the time between two blocks.
	BlockInterval time.Duration `json:"blockInterval"`

	// SubmitFee is charged from the locked funds of a user principal for
	// every submission.
	SubmitFee uint64 `json:"submitFee"`

	Allocations []Allocation `json:"allocations"`

	Scheduler config.Config `json:"scheduler"`
}

func (c *Config) Verify() error {
	if c.BlockInterval <= 0 {
		return errNonPositiveBlockInterval
	}
	return c.Scheduler.Verify()
}
