// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package tcglog reads the binary TCG2 event log produced by platform
// firmware and exposed by the kernel. It returns each event's data raw;
// decoding it is left to the parser registry in the parse subpackage.
package tcglog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/canonical/pcr-oracle/internal/digest"
	"github.com/canonical/pcr-oracle/internal/tpmalg"
)

// maxEventSize is the hard sanity cap on a single event record's size.
const maxEventSize = 1 << 20 // 1 MiB

// EventType is the TCG EventType field of a log record.
type EventType uint32

// The event types this reader's header decode and the parser registry
// need to recognize directly; the rest pass through as opaque.
const (
	EventTypeNoAction                   EventType = 0x00000003
	EventTypeSeparator                  EventType = 0x00000004
	EventTypeAction                     EventType = 0x00000005
	EventTypeEventTag                   EventType = 0x00000006
	EventTypeIPL                        EventType = 0x0000000d
	EventTypeEFIVariableDriverConfig    EventType = 0x80000001
	EventTypeEFIVariableBoot            EventType = 0x80000002
	EventTypeEFIBootServicesApplication EventType = 0x80000003
	EventTypeEFIBootServicesDriver      EventType = 0x80000004
	EventTypeEFIGPTEvent                EventType = 0x80000006
	EventTypeEFIAction                  EventType = 0x80000007
	EventTypeEFIVariableAuthority       EventType = 0x800000e0
)

// Version identifies the log's header format: a single SHA-1 digest per
// event (TPMv1) or a crypto-agile list of (algorithm id, digest) pairs
// (TPMv2).
type Version int

const (
	Version1 Version = iota
	Version2
)

// Event is a single record read from the log.
type Event struct {
	Index     int
	PCRIndex  int
	EventType EventType
	Offset    int64
	Raw       []byte
	Digests   digest.Map
}

// Reader reads events from a TCG2 binary event log stream.
type Reader struct {
	r        io.Reader
	algs     *tpmalg.Table
	version  Version
	count    int
	offset   int64
	locality map[int]byte
	pending  *Event
}

// Open opens the event log at path (the kernel's
// binary_bios_measurements file, or an override).
func Open(path string) (*Reader, io.Closer, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, nil, err
	}
	rd, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return rd, f, nil
}

// NewReader wraps r and sniffs the first event to determine the log
// version and (for TPMv2 logs) the declared digest algorithms.
func NewReader(r io.Reader) (*Reader, error) {
	rd := &Reader{r: r, algs: tpmalg.NewTable(), locality: make(map[int]byte)}

	first, firstDigest, raw, err := rd.readHeaderAndRaw()
	if err != nil {
		return nil, err
	}

	ev := &Event{Index: 0, PCRIndex: int(first.PCRIndex), EventType: EventType(first.EventType), Offset: 0, Raw: raw}
	ev.Digests = digest.Map{tpmalg.SHA1: digest.New(mustDescriptor(tpmalg.SHA1), firstDigest[:])}

	if ev.PCRIndex == 0 && ev.EventType == EventTypeNoAction && len(raw) >= 16 {
		sig := string(bytes.TrimRight(raw[:16], "\x00"))
		switch {
		case sig == "Spec ID Event03" && len(raw) >= 16+7:
			rd.version = Version2
			if err := rd.declareSpecIDEvent03(raw[16:]); err != nil {
				return nil, err
			}
		case sig == "StartupLocality" && len(raw) == 17:
			rd.locality[0] = raw[16]
		}
	}

	rd.count = 1
	rd.offset = int64(8 + 20 + 4 + len(raw))
	ev.Offset = 0
	rd.pending = ev
	return rd, nil
}

func mustDescriptor(id tpmalg.ID) tpmalg.Descriptor {
	d, ok := tpmalg.ByID(id)
	if !ok {
		panic("tpmalg: missing built-in descriptor")
	}
	return d
}

type rawHeader struct {
	PCRIndex  uint32
	EventType uint32
}

// readHeaderAndRaw reads one TPMv1-shaped record (used only for the very
// first event, before the log's version is known).
func (rd *Reader) readHeaderAndRaw() (rawHeader, [20]byte, []byte, error) {
	var hdr rawHeader
	var digestBuf [20]byte
	if err := binary.Read(rd.r, binary.LittleEndian, &hdr); err != nil {
		return hdr, digestBuf, nil, unexpectedEOF(err)
	}

	if _, err := io.ReadFull(rd.r, digestBuf[:]); err != nil {
		return hdr, digestBuf, nil, unexpectedEOF(err)
	}

	var size uint32
	if err := binary.Read(rd.r, binary.LittleEndian, &size); err != nil {
		return hdr, digestBuf, nil, unexpectedEOF(err)
	}
	if size > maxEventSize {
		return hdr, digestBuf, nil, fmt.Errorf("event size %d exceeds sanity cap of %d bytes", size, maxEventSize)
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(rd.r, raw); err != nil {
		return hdr, digestBuf, nil, unexpectedEOF(err)
	}

	return hdr, digestBuf, raw, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (rd *Reader) declareSpecIDEvent03(body []byte) error {
	// rawSpecIdEvent03Hdr: u32 platformClass, u8 minor, u8 major, u8 errata,
	// u8 uintnSize, u32 numberOfAlgorithms, then that many (u16 id, u16 size) pairs.
	if len(body) < 12 {
		return errors.New("truncated Spec ID Event03 header")
	}
	numAlgs := binary.LittleEndian.Uint32(body[8:12])
	body = body[12:]
	for i := uint32(0); i < numAlgs; i++ {
		if len(body) < 4 {
			return errors.New("truncated Spec ID Event03 algorithm list")
		}
		id := tpmalg.ID(binary.LittleEndian.Uint16(body[0:2]))
		size := binary.LittleEndian.Uint16(body[2:4])
		if err := rd.algs.Declare(id, int(size)); err != nil {
			return err
		}
		body = body[4:]
	}
	return nil
}

// TPMVersion reports whether the log is TPMv1 (single SHA-1 digest per
// event) or TPMv2 (crypto-agile).
func (rd *Reader) TPMVersion() Version { return rd.version }

// EventCount reports how many events have been read so far.
func (rd *Reader) EventCount() int { return rd.count }

// GetLocality returns the startup locality byte declared for pcr, if the
// log carried a StartupLocality record for it.
func (rd *Reader) GetLocality(pcr int) (byte, bool) {
	l, ok := rd.locality[pcr]
	return l, ok
}

// Algorithms exposes the log-scoped algorithm table (process-wide table
// plus any supplement declared by a Spec ID Event03 header), for callers
// that need to validate a requested prediction algorithm against what the
// log actually carries.
func (rd *Reader) Algorithms() *tpmalg.Table { return rd.algs }

// ReadNext returns the next event in the log, or (nil, nil) at a clean
// end-of-log. Any other error is fatal to the caller.
func (rd *Reader) ReadNext() (*Event, error) {
	if rd.pending != nil {
		ev := rd.pending
		rd.pending = nil
		return ev, nil
	}

	offset := rd.offset

	var hdr rawHeader
	if err := binary.Read(rd.r, binary.LittleEndian, &hdr); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	digests := make(digest.Map)
	var headerLen int64 = 8

	if rd.version == Version2 {
		var count uint32
		if err := binary.Read(rd.r, binary.LittleEndian, &count); err != nil {
			return nil, unexpectedEOF(err)
		}
		headerLen += 4
		for i := uint32(0); i < count; i++ {
			var algID uint16
			if err := binary.Read(rd.r, binary.LittleEndian, &algID); err != nil {
				return nil, unexpectedEOF(err)
			}
			headerLen += 2
			d, ok := rd.algs.Lookup(tpmalg.ID(algID))
			if !ok {
				return nil, fmt.Errorf("event at offset %d: digest for unknown algorithm %#04x", offset, algID)
			}
			buf := make([]byte, d.Size)
			if _, err := io.ReadFull(rd.r, buf); err != nil {
				return nil, unexpectedEOF(err)
			}
			headerLen += int64(d.Size)
			digests[d.ID] = digest.New(d, buf)
		}
	} else {
		d := mustDescriptor(tpmalg.SHA1)
		buf := make([]byte, d.Size)
		if _, err := io.ReadFull(rd.r, buf); err != nil {
			return nil, unexpectedEOF(err)
		}
		headerLen += int64(d.Size)
		digests[d.ID] = digest.New(d, buf)
	}

	var size uint32
	if err := binary.Read(rd.r, binary.LittleEndian, &size); err != nil {
		return nil, unexpectedEOF(err)
	}
	headerLen += 4
	if size > maxEventSize {
		return nil, fmt.Errorf("event at offset %d: size %d exceeds sanity cap of %d bytes", offset, size, maxEventSize)
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(rd.r, raw); err != nil {
		return nil, unexpectedEOF(err)
	}

	rd.offset = offset + headerLen + int64(size)
	rd.count++

	return &Event{
		Index:     rd.count - 1,
		PCRIndex:  int(hdr.PCRIndex),
		EventType: EventType(hdr.EventType),
		Offset:    offset,
		Raw:       raw,
		Digests:   digests,
	}, nil
}
