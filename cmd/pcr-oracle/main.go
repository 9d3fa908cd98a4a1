// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		fail("usage: pcr-oracle <command> [flags]")
	}

	var err error
	switch os.Args[1] {
	case "seal-secret":
		err = cmdSealSecret(os.Args[2:])
	case "unseal-secret":
		err = cmdUnsealSecret(os.Args[2:])
	case "authorized-policy":
		err = cmdAuthorizedPolicy(os.Args[2:])
	case "sign-policy":
		err = cmdSignPolicy(os.Args[2:])
	case "policy-sign-systemd":
		err = cmdPolicySignSystemd(os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}

	if err != nil {
		fail("%v", err)
	}
}
