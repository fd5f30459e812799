// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

// Fund tracks a principal's economic right to schedule.
type Fund struct {
	// Locked is available to pay for scheduling.
	Locked uint64 `serialize:"true" json:"locked"`
	// Consumed has been charged by fee settlement and can be redeemed back
	// into Locked once a refund is owed.
	Consumed uint64 `serialize:"true" json:"consumed"`
	// RefundOwed is set when one of the principal's tasks is cancelled or
	// dropped, and cleared on redemption.
	RefundOwed bool `serialize:"true" json:"refundOwed"`
}
