// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Command tcglog-dump prints the events recorded in a TCG2 binary event
// log, one line per event: PCR, digest and event type, with an
// optional decoded summary and hexdump of the raw event data.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/canonical/pcr-oracle/internal/tcglog"
	"github.com/canonical/pcr-oracle/internal/tcglog/parse"
	"github.com/canonical/pcr-oracle/internal/tpmalg"
)

type pcrList []int

func (l *pcrList) String() string {
	strs := make([]string, len(*l))
	for i, p := range *l {
		strs[i] = strconv.Itoa(p)
	}
	return strings.Join(strs, ",")
}

func (l *pcrList) Set(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid PCR index %q", value)
	}
	*l = append(*l, n)
	return nil
}

func (l pcrList) contains(pcr int) bool {
	if len(l) == 0 {
		return true
	}
	for _, p := range l {
		if p == pcr {
			return true
		}
	}
	return false
}

func main() {
	algName := flag.String("alg", "sha1", "name of the hash algorithm to display")
	verbose := flag.Bool("verbose", false, "display the decoded event summary")
	flag.BoolVar(verbose, "v", false, "display the decoded event summary (shorthand)")
	hexDump := flag.Bool("hexdump", false, "display a hexdump of the raw event data")
	flag.BoolVar(hexDump, "x", false, "display a hexdump of the raw event data (shorthand)")
	extractPrefix := flag.String("extract-data", "", "extract event data to files named <prefix>-<pcr>-<index>")
	var pcrs pcrList
	flag.Var(&pcrs, "pcr", "display events for the specified PCR only; can be given multiple times")
	flag.Parse()

	alg, ok := tpmalg.ByName(*algName)
	if !ok {
		fmt.Fprintf(os.Stderr, "tcglog-dump: unknown algorithm %q\n", *algName)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "tcglog-dump: too many arguments")
		os.Exit(1)
	}
	var path string
	if len(args) == 1 {
		path = args[0]
	}

	rd, closer, err := tcglog.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tcglog-dump: cannot open log: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	for {
		ev, err := rd.ReadNext()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tcglog-dump: cannot read event: %v\n", err)
			os.Exit(1)
		}
		if ev == nil {
			break
		}
		if !pcrs.contains(ev.PCRIndex) {
			continue
		}

		d, ok := ev.Digests.Get(alg.ID)
		var digestStr string
		if ok {
			digestStr = hex.EncodeToString(d.Data)
		} else {
			digestStr = "(no digest for " + alg.Name + ")"
		}

		var summary string
		if *verbose {
			parsed, err := parse.Decode(parse.EventType(ev.EventType), ev.PCRIndex, ev.Raw)
			if err != nil {
				summary = fmt.Sprintf(" [ decode error: %v ]", err)
			} else if parsed != nil {
				summary = fmt.Sprintf(" [ %s ]", parsed.Describe())
			}
		}

		fmt.Printf("%2d %s %#08x%s\n", ev.PCRIndex, digestStr, uint32(ev.EventType), summary)

		if *hexDump {
			fmt.Printf("  Event data:\n  %s", strings.ReplaceAll(hex.Dump(ev.Raw), "\n", "\n  "))
		}

		if *extractPrefix != "" {
			name := fmt.Sprintf("%s-%d-%d", *extractPrefix, ev.PCRIndex, ev.Index)
			if err := os.WriteFile(name, ev.Raw, 0644); err != nil {
				fmt.Fprintf(os.Stderr, "tcglog-dump: cannot write %s: %v\n", name, err)
				os.Exit(1)
			}
		}
	}
}
