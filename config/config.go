// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ava-labs/schedulervm/weight"
)

// PeriodicFailurePolicy decides what happens to a recurring task whose
// dispatch failed.
type PeriodicFailurePolicy string

const (
	// Halt ends the series on the first failed occurrence.
	Halt PeriodicFailurePolicy = "halt"
	// Tolerate keeps the series going until the task has failed MaxErrors
	// times.
	Tolerate PeriodicFailurePolicy = "tolerate"
)

var (
	errZeroMaxBlockWeight = errors.New("max block weight must be positive")
	errUnknownPolicy      = errors.New("unknown periodic failure policy")
)

// Default is the configuration used for any field missing from the
// provided bytes.
var Default = Config{
	MaxBlockWeight:        2_000_000,
	AccountWeight:         25_000,
	MaxRetries:            3,
	MaxErrors:             3,
	MaxScheduledPerBlock:  50,
	PeriodicFailurePolicy: Halt,
}

// Config provides the execution parameters of the scheduler
type Config struct {
	// MaxBlockWeight is the admission budget of a single block.
	MaxBlockWeight weight.Weight `json:"max-block-weight"`
	// AccountWeight is charged to the budget for every task whose principal
	// is an end-user account.
	AccountWeight weight.Weight `json:"account-weight"`
	// MaxRetries is the number of times a task can be postponed for lack of
	// weight before it is dropped.
	MaxRetries uint32 `json:"max-retries"`
	// MaxErrors is the number of failed dispatches after which a recurring
	// task's principal is owed a refund.
	MaxErrors uint32 `json:"max-errors"`
	// MaxScheduledPerBlock caps the occupied slots a submission can target.
	// Zero disables the cap.
	MaxScheduledPerBlock  int                   `json:"max-scheduled-per-block"`
	PeriodicFailurePolicy PeriodicFailurePolicy `json:"periodic-failure-policy"`
}

// GetConfig returns a Config. The input is unmarshalled into a Config
// previously initialized with the default values.
func GetConfig(b []byte) (*Config, error) {
	c := Default

	// if bytes are empty keep default values
	if len(b) == 0 {
		return &c, nil
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, c.Verify()
}

func (c *Config) Verify() error {
	if c.MaxBlockWeight == 0 {
		return errZeroMaxBlockWeight
	}
	switch c.PeriodicFailurePolicy {
	case Halt, Tolerate:
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownPolicy, c.PeriodicFailurePolicy)
	}
}
