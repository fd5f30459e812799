// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package actions

import (
	"errors"

	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/codec/linearcodec"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

// CodecVersion is the current default codec version
const CodecVersion = 0

// Codec serializes tasks carrying any of the actions in this package.
var Codec codec.Manager

func init() {
	c := linearcodec.NewDefault()
	Codec = codec.NewDefaultManager()

	errs := wrappers.Errs{}
	errs.Add(
		RegisterTypes(c),
		Codec.RegisterCodec(CodecVersion, c),
	)
	if errs.Errored() {
		panic(errs.Err)
	}
}

// RegisterTypes registers the actions of this package with [c]. The
// registration order fixes the wire type IDs and must not change.
func RegisterTypes(c linearcodec.Codec) error {
	return errors.Join(
		c.RegisterType(&Remark{}),
		c.RegisterType(&Transfer{}),
	)
}
