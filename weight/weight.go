// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package weight

import (
	"math"

	safemath "github.com/ava-labs/avalanchego/utils/math"
)

// Weight is the unit of execution cost charged against a block's budget.
type Weight uint64

// Add returns w+o, saturating at the maximum representable weight.
func (w Weight) Add(o Weight) Weight {
	total, err := safemath.Add64(uint64(w), uint64(o))
	if err != nil {
		return math.MaxUint64
	}
	return Weight(total)
}

// Sub returns w-o, saturating at zero.
func (w Weight) Sub(o Weight) Weight {
	remaining, err := safemath.Sub(uint64(w), uint64(o))
	if err != nil {
		return 0
	}
	return Weight(remaining)
}
