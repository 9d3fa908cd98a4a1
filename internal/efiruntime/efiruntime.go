// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package efiruntime provides read access to EFI runtime variables, and
// resolves the small set of shim-internal variable aliases that pcr-14 IPL
// events name instead of a real EFI variable name.
package efiruntime

import (
	"context"
	"fmt"

	efi "github.com/canonical/go-efilib"
)

// VariableProvider reads EFI runtime variables. It is the collaborator the
// re-hash engine uses to recompute EFI-variable and shim-variable digests
// against the live firmware state.
type VariableProvider interface {
	ReadVariable(ctx context.Context, name string, guid efi.GUID) ([]byte, error)
}

// Live reads variables from the real EFI runtime via go-efilib's default
// backend.
type Live struct{}

// ReadVariable implements VariableProvider.
func (Live) ReadVariable(ctx context.Context, name string, guid efi.GUID) ([]byte, error) {
	data, _, err := efi.ReadVariable(ctx, name, guid)
	if err != nil {
		return nil, fmt.Errorf("cannot read EFI variable %s-%s: %w", name, guid, err)
	}
	return data, nil
}

// shimAlias maps shim's internal name for a variable it measures to the
// variable's real runtime name and owning GUID. Shim resolves these MOK
// variables itself rather than exposing the normal SetupMode/globals GUID.
type shimAlias struct {
	Name string
	GUID efi.GUID
}

var shimVariableGUID = efi.MakeGUID(0x605dab50, 0xe046, 0x4300, 0xabb6, [...]byte{0x3d, 0xd8, 0x10, 0xdd, 0x8b, 0x23})

var shimAliases = map[string]shimAlias{
	"MokList":    {Name: "MokListRT", GUID: shimVariableGUID},
	"MokListX":   {Name: "MokListXRT", GUID: shimVariableGUID},
	"MokSBState": {Name: "MokSBStateRT", GUID: shimVariableGUID},
	"SbatLevel":  {Name: "SbatLevelRT", GUID: shimVariableGUID},
}

// ResolveShimVariable translates a shim-internal alias into the real
// variable name and GUID that the provider should be asked for. ok is
// false if shimName is not one of the variables shim measures.
func ResolveShimVariable(shimName string) (name string, guid efi.GUID, ok bool) {
	a, ok := shimAliases[shimName]
	if !ok {
		return "", efi.GUID{}, false
	}
	return a.Name, a.GUID, true
}
