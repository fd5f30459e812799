// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package task

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
)

var (
	ErrUnknownPrincipalKind = errors.New("unknown principal kind")
	ErrSystemWithAccount    = errors.New("system principal can't carry an account")

	SystemPrincipal = Principal{Kind: KindSystem}
)

type PrincipalKind uint8

const (
	KindSystem PrincipalKind = iota
	KindUser
)

func (k PrincipalKind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindUser:
		return "user"
	default:
		return "unknown"
	}
}

// Principal is the identity a task executes as and the identity charged and
// refunded for it.
type Principal struct {
	Kind    PrincipalKind `serialize:"true" json:"kind"`
	Account ids.ShortID   `serialize:"true" json:"account"`
}

func UserPrincipal(account ids.ShortID) Principal {
	return Principal{
		Kind:    KindUser,
		Account: account,
	}
}

// IsChargeable returns true if the principal is an end-user account that
// pays for, and is refunded for, scheduling.
func (p Principal) IsChargeable() bool {
	return p.Kind == KindUser
}

func (p Principal) Verify() error {
	switch p.Kind {
	case KindSystem:
		if p.Account != ids.ShortEmpty {
			return ErrSystemWithAccount
		}
		return nil
	case KindUser:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownPrincipalKind, p.Kind)
	}
}

// Key is the storage key of the principal.
func (p Principal) Key() []byte {
	key := make([]byte, 1+ids.ShortIDLen)
	key[0] = byte(p.Kind)
	copy(key[1:], p.Account[:])
	return key
}

func (p Principal) String() string {
	if p.Kind == KindUser {
		return fmt.Sprintf("%s:%s", p.Kind, p.Account)
	}
	return p.Kind.String()
}
