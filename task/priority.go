// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package task

// Priority ranks tasks within a block. Lower values run first.
type Priority uint8

const (
	HighestPriority Priority = 0
	// HardDeadline is the lowest priority that is still exempt from the block
	// weight budget.
	HardDeadline   Priority = 63
	LowestPriority Priority = 255
)

// IsExempt returns true if a task with this priority must be dispatched
// regardless of the remaining block weight.
func (p Priority) IsExempt() bool {
	return p <= HardDeadline
}
