// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package task

// Recurrence makes a task repeat every Period blocks. Remaining counts the
// occurrences still owed, including the next one. The zero value means the
// task runs once.
type Recurrence struct {
	Period    uint64 `serialize:"true" json:"period"`
	Remaining uint32 `serialize:"true" json:"remaining"`
}

// NewRecurrence returns the normalized recurrence. A zero period or fewer
// than two occurrences collapses to no recurrence.
func NewRecurrence(period uint64, remaining uint32) Recurrence {
	r := Recurrence{
		Period:    period,
		Remaining: remaining,
	}
	if !r.IsSet() {
		return Recurrence{}
	}
	return r
}

func (r Recurrence) IsSet() bool {
	return r.Period != 0 && r.Remaining > 1
}

// Next returns the recurrence that applies after one occurrence has been
// consumed.
func (r Recurrence) Next() Recurrence {
	if !r.IsSet() {
		return Recurrence{}
	}
	return NewRecurrence(r.Period, r.Remaining-1)
}
