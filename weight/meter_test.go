// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package weight

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWeightSaturates(t *testing.T) {
	require := require.New(t)

	require.Equal(Weight(math.MaxUint64), Weight(math.MaxUint64-1).Add(2))
	require.Equal(Weight(5), Weight(2).Add(3))
	require.Zero(Weight(2).Sub(3))
	require.Equal(Weight(1), Weight(3).Sub(2))
}

func TestMeterFits(t *testing.T) {
	tests := []struct {
		name  string
		limit Weight
		used  Weight
		w     Weight
		fits  bool
	}{
		{
			name:  "empty meter",
			limit: 10,
			w:     10,
			fits:  true,
		},
		{
			name:  "exactly at limit",
			limit: 10,
			used:  4,
			w:     6,
			fits:  true,
		},
		{
			name:  "one over",
			limit: 10,
			used:  4,
			w:     7,
			fits:  false,
		},
		{
			name:  "overflow",
			limit: math.MaxUint64,
			used:  1,
			w:     math.MaxUint64,
			fits:  false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := NewMeter(test.limit)
			m.Consume(test.used)
			require.Equal(t, test.fits, m.Fits(test.w))
		})
	}
}

func TestMeterConsumeOvershoots(t *testing.T) {
	require := require.New(t)

	m := NewMeter(10)
	m.Consume(6)
	require.Equal(Weight(4), m.Remaining())

	m.Consume(100)
	require.Equal(Weight(106), m.Used())
	require.Zero(m.Remaining())
	require.False(m.Fits(0))
}
