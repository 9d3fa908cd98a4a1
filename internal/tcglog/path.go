// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package tcglog

import (
	"io"

	"github.com/canonical/pcr-oracle/internal/vfs"
)

// DefaultLogPath is the kernel's binary event log path, overridable by
// callers that pass an explicit path to Open.
const DefaultLogPath = "/sys/kernel/security/tpm0/binary_bios_measurements"

func openFile(path string) (io.ReadCloser, error) {
	if path == "" {
		path = DefaultLogPath
	}
	return vfs.Default.Open(path)
}
