// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package predict

import (
	"bytes"
	"errors"
	"testing"

	"github.com/canonical/pcr-oracle/internal/digest"
	"github.com/canonical/pcr-oracle/internal/pcrbank"
	"github.com/canonical/pcr-oracle/internal/rehash"
	"github.com/canonical/pcr-oracle/internal/tcglog"
	"github.com/canonical/pcr-oracle/internal/tpmalg"
)

// fakeSource is a canned Source: a fixed event list and locality map.
type fakeSource struct {
	events    []*tcglog.Event
	pos       int
	localities map[int]byte
}

func (f *fakeSource) ReadNext() (*tcglog.Event, error) {
	if f.pos >= len(f.events) {
		return nil, nil
	}
	ev := f.events[f.pos]
	f.pos++
	return ev, nil
}

func (f *fakeSource) GetLocality(pcr int) (byte, bool) {
	l, ok := f.localities[pcr]
	return l, ok
}

func sha256Alg(t *testing.T) tpmalg.Descriptor {
	t.Helper()
	alg, ok := tpmalg.ByName("sha256")
	if !ok {
		t.Fatal("sha256 descriptor not found")
	}
	return alg
}

// copyEvent builds an event of a type the parse registry never decodes, so
// predict always falls back to copying the firmware-supplied digest.
func copyEvent(index, pcr int, alg tpmalg.Descriptor, data []byte) *tcglog.Event {
	h := alg.New()
	h.Write(data)
	d := h.Sum(nil)
	return &tcglog.Event{
		Index:     index,
		PCRIndex:  pcr,
		EventType: tcglog.EventTypeAction,
		Raw:       data,
		Digests:   digest.Map{alg.ID: digest.New(alg, d)},
	}
}

func TestReplayRejectsAlgorithmMismatch(t *testing.T) {
	alg := sha256Alg(t)
	sha1Alg, _ := tpmalg.ByName("sha1")
	bank, err := pcrbank.New(sha1Alg, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{}
	ctx := &rehash.Context{Alg: alg}
	if err := Replay(src, bank, ctx, false); err == nil {
		t.Fatal("expected a bank/context algorithm mismatch to be rejected")
	}
}

func TestReplaySkipsUnrequestedPCRs(t *testing.T) {
	alg := sha256Alg(t)
	bank, err := pcrbank.New(alg, []int{7})
	if err != nil {
		t.Fatal(err)
	}
	bank.FromZero()

	src := &fakeSource{events: []*tcglog.Event{
		copyEvent(0, 3, alg, []byte("unrequested pcr")),
	}}
	ctx := &rehash.Context{Alg: alg}
	if err := Replay(src, bank, ctx, false); err != nil {
		t.Fatal(err)
	}
	if bank.Valid(3) {
		t.Fatal("expected an unrequested PCR to be left untouched")
	}
}

func TestReplayExtendsRequestedPCRWithFirmwareDigest(t *testing.T) {
	alg := sha256Alg(t)
	bank, err := pcrbank.New(alg, []int{7})
	if err != nil {
		t.Fatal(err)
	}
	bank.FromZero()

	data := []byte("a measurement")
	src := &fakeSource{events: []*tcglog.Event{copyEvent(0, 7, alg, data)}}
	ctx := &rehash.Context{Alg: alg}
	if err := Replay(src, bank, ctx, false); err != nil {
		t.Fatal(err)
	}

	h := alg.New()
	h.Write(data)
	eventDigest := h.Sum(nil)

	want := alg.New()
	want.Write(make([]byte, alg.Size))
	want.Write(eventDigest)
	wantDigest := want.Sum(nil)

	if !bytes.Equal(bank.Value(7), wantDigest) {
		t.Fatalf("PCR7 = %x, want %x", bank.Value(7), wantDigest)
	}
}

func TestReplayAppliesStartupLocalityBeforeFirstPCR0Event(t *testing.T) {
	alg := sha256Alg(t)
	bank, err := pcrbank.New(alg, []int{0})
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("pcr0 event")
	src := &fakeSource{
		events:     []*tcglog.Event{copyEvent(0, 0, alg, data)},
		localities: map[int]byte{0: 3},
	}
	ctx := &rehash.Context{Alg: alg}
	if err := Replay(src, bank, ctx, false); err != nil {
		t.Fatal(err)
	}

	locH := alg.New()
	locH.Write(make([]byte, alg.Size-1))
	locH.Write([]byte{3})
	localityValue := locH.Sum(nil)

	evH := alg.New()
	evH.Write(data)
	eventDigest := evH.Sum(nil)

	want := alg.New()
	want.Write(localityValue)
	want.Write(eventDigest)
	wantDigest := want.Sum(nil)

	if !bytes.Equal(bank.Value(0), wantDigest) {
		t.Fatalf("PCR0 = %x, want %x (startup locality not applied before the extend)", bank.Value(0), wantDigest)
	}
}

func TestReplayPropagatesReadError(t *testing.T) {
	alg := sha256Alg(t)
	bank, err := pcrbank.New(alg, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	src := &erroringSource{err: errors.New("boom")}
	ctx := &rehash.Context{Alg: alg}
	if err := Replay(src, bank, ctx, false); err == nil {
		t.Fatal("expected a log read error to propagate")
	}
}

type erroringSource struct{ err error }

func (s *erroringSource) ReadNext() (*tcglog.Event, error) { return nil, s.err }
func (s *erroringSource) GetLocality(int) (byte, bool)     { return 0, false }

func TestReplayRejectsInvalidFirmwareDigest(t *testing.T) {
	alg := sha256Alg(t)
	bank, err := pcrbank.New(alg, []int{7})
	if err != nil {
		t.Fatal(err)
	}
	bank.FromZero()

	ev := &tcglog.Event{
		Index:     0,
		PCRIndex:  7,
		EventType: tcglog.EventTypeAction,
		Raw:       []byte("data"),
		Digests:   digest.Map{alg.ID: digest.New(alg, bytes.Repeat([]byte{0xff}, alg.Size))},
	}
	src := &fakeSource{events: []*tcglog.Event{ev}}
	ctx := &rehash.Context{Alg: alg}
	if err := Replay(src, bank, ctx, false); err == nil {
		t.Fatal("expected an all-0xff firmware digest to be rejected as invalid")
	}
}
