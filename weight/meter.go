// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package weight

import safemath "github.com/ava-labs/avalanchego/utils/math"

// Meter aggregates the weight consumed in a single block so that admission
// can be checked against the block limit before anything is dispatched.
type Meter struct {
	limit Weight
	used  Weight
}

func NewMeter(limit Weight) *Meter {
	return &Meter{limit: limit}
}

func (m *Meter) Limit() Weight {
	return m.limit
}

func (m *Meter) Used() Weight {
	return m.used
}

func (m *Meter) Remaining() Weight {
	return m.limit.Sub(m.used)
}

// Fits reports whether [w] could be added without breaching the limit.
func (m *Meter) Fits(w Weight) bool {
	total, err := safemath.Add64(uint64(m.used), uint64(w))
	return err == nil && Weight(total) <= m.limit
}

// Consume records [w] unconditionally. Post-dispatch weight is whatever the
// call reported, so the meter may end up above its limit.
func (m *Meter) Consume(w Weight) {
	m.used = m.used.Add(w)
}
