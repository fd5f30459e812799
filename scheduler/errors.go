// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import "errors"

var (
	ErrTargetInPast       = errors.New("target block is not in the future")
	ErrNotFound           = errors.New("task not found")
	ErrUnauthorized       = errors.New("caller is not the task's principal")
	ErrNothingToRedeem    = errors.New("no refund owed")
	ErrOverflow           = errors.New("balance overflow")
	ErrInvalidID          = errors.New("invalid task id")
	ErrInvalidPrincipal   = errors.New("invalid principal")
	ErrDuplicateID        = errors.New("task id already scheduled")
	ErrAgendaFull         = errors.New("agenda is full")
	ErrNilAction          = errors.New("nil action")
	ErrUnchargeable       = errors.New("principal has no account to charge")
	ErrRescheduleNoChange = errors.New("task is already scheduled at that block")
)
