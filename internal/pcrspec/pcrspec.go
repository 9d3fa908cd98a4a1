// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package pcrspec parses the --pcrs command-line syntax named in spec.md
// §6: a comma-separated list of decimal indices and closed ranges.
package pcrspec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/canonical/pcr-oracle/internal/pcrbank"
)

// Parse parses spec into the sorted, duplicate-free list of PCR indices it
// names. Whitespace around entries is ignored; duplicate indices and
// overlapping ranges collapse (union semantics — input order and
// repetition never affect the result). An empty selection is rejected.
func Parse(spec string) ([]int, error) {
	seen := make(map[int]bool)

	for _, field := range strings.Split(spec, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		lo, hi, err := parseField(field)
		if err != nil {
			return nil, fmt.Errorf("invalid pcr spec %q: %w", spec, err)
		}
		for pcr := lo; pcr <= hi; pcr++ {
			if pcr < 0 || pcr >= pcrbank.NumPCRs {
				return nil, fmt.Errorf("invalid pcr spec %q: pcr %d out of range [0,%d)", spec, pcr, pcrbank.NumPCRs)
			}
			seen[pcr] = true
		}
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("invalid pcr spec %q: empty selection", spec)
	}

	out := make([]int, 0, len(seen))
	for pcr := range seen {
		out = append(out, pcr)
	}
	sort.Ints(out)
	return out, nil
}

func parseField(field string) (lo, hi int, err error) {
	if dash := strings.IndexByte(field, '-'); dash > 0 {
		lo, err = strconv.Atoi(strings.TrimSpace(field[:dash]))
		if err != nil {
			return 0, 0, fmt.Errorf("bad range start %q", field)
		}
		hi, err = strconv.Atoi(strings.TrimSpace(field[dash+1:]))
		if err != nil {
			return 0, 0, fmt.Errorf("bad range end %q", field)
		}
		if lo > hi {
			return 0, 0, fmt.Errorf("range %q is backwards", field)
		}
		return lo, hi, nil
	}

	v, err := strconv.Atoi(field)
	if err != nil {
		return 0, 0, fmt.Errorf("bad pcr index %q", field)
	}
	return v, v, nil
}
