// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package task

import "github.com/ava-labs/avalanchego/utils/math"

// When is the block a task should first run at, either absolute or relative
// to the block the request is processed in.
type When struct {
	value    uint64
	relative bool
}

func At(block uint64) When {
	return When{value: block}
}

func After(delay uint64) When {
	return When{
		value:    delay,
		relative: true,
	}
}

// Resolve returns the absolute block number for a request processed at
// height [now].
func (w When) Resolve(now uint64) (uint64, error) {
	if !w.relative {
		return w.value, nil
	}
	return math.Add64(now, w.value)
}
