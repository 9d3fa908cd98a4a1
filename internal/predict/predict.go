// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package predict ties the event log reader, parser registry, re-hash
// engine and PCR bank simulator together into the single operation every
// CLI command starts from: replay a log into a predicted bank under a
// chosen target algorithm (spec.md §4.4's "Replay").
package predict

import (
	"fmt"

	"github.com/canonical/pcr-oracle/internal/digest"
	"github.com/canonical/pcr-oracle/internal/pcrbank"
	"github.com/canonical/pcr-oracle/internal/rehash"
	"github.com/canonical/pcr-oracle/internal/tcglog"
	"github.com/canonical/pcr-oracle/internal/tcglog/parse"
)

// Source reads events in log order; tcglog.Reader satisfies it directly.
type Source interface {
	ReadNext() (*tcglog.Event, error)
	GetLocality(pcr int) (byte, bool)
}

// Replay predicts bank by reading every event from src in order, deciding
// each one's rehash strategy against ctx, and extending it into bank.
// Events whose PCR index falls outside bank's requested mask are skipped,
// never errored (spec.md §4.4). required mirrors rehash.Rehash's
// required flag: true turns "nothing to substitute" into a hard failure
// instead of a silent fall back to the firmware digest. ctx.Alg must equal
// bank.Alg; every rehash rule and every firmware-digest lookup keys off it.
func Replay(src Source, bank *pcrbank.Bank, ctx *rehash.Context, required bool) error {
	if ctx.Alg.ID != bank.Alg.ID {
		return fmt.Errorf("rehash context algorithm %s does not match bank algorithm %s", ctx.Alg.Name, bank.Alg.Name)
	}

	appliedLocality := false

	for {
		ev, err := src.ReadNext()
		if err != nil {
			return fmt.Errorf("cannot read event log: %w", err)
		}
		if ev == nil {
			return nil
		}
		if !bank.Requested(ev.PCRIndex) {
			continue
		}

		if ev.PCRIndex == 0 && !appliedLocality {
			if locality, ok := src.GetLocality(0); ok {
				if err := bank.ApplyStartupLocality(locality); err != nil {
					return fmt.Errorf("event %d: cannot apply startup locality: %w", ev.Index, err)
				}
			}
			appliedLocality = true
		}

		eventDigest, err := selectDigest(ev, ctx, required)
		if err != nil {
			return fmt.Errorf("event %d (pcr %d): %w", ev.Index, ev.PCRIndex, err)
		}
		if eventDigest == nil {
			continue
		}

		if err := bank.Extend(ev.PCRIndex, digest.New(ctx.Alg, eventDigest)); err != nil {
			return fmt.Errorf("event %d (pcr %d): %w", ev.Index, ev.PCRIndex, err)
		}
	}
}

// selectDigest parses ev (if the registry recognizes its type), runs it
// through the rehash engine and returns the digest bytes to extend, or nil
// if the event carries no usable digest for ctx.Alg at all (which can only
// happen for an event the log omitted that algorithm's digest from
// entirely).
func selectDigest(ev *tcglog.Event, ctx *rehash.Context, required bool) ([]byte, error) {
	parsed, err := parse.Decode(parse.EventType(ev.EventType), ev.PCRIndex, ev.Raw)
	if err != nil {
		return nil, fmt.Errorf("cannot parse event: %w", err)
	}

	result, err := rehash.Rehash(parsed, ctx, required)
	if err != nil {
		return nil, err
	}
	if result.Strategy == rehash.StrategyRehash {
		return result.Digest, nil
	}

	firmwareDigest, ok := ev.Digests.Get(ctx.Alg.ID)
	if !ok {
		return nil, nil
	}
	if !firmwareDigest.Valid() {
		return nil, fmt.Errorf("firmware digest for algorithm %s is invalid", ctx.Alg.Name)
	}
	return firmwareDigest.Data, nil
}
