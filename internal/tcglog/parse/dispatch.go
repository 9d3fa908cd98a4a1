// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package parse

// EventType mirrors tcglog.EventType's underlying values without importing
// the tcglog package, avoiding an import cycle (tcglog does not need to
// depend on parse, but a future caller in either direction might).
type EventType uint32

// The event types this registry dispatches on.
const (
	EventTypeEventTag                   EventType = 0x00000006
	EventTypeIPL                        EventType = 0x0000000d
	EventTypeEFIVariableDriverConfig    EventType = 0x80000001
	EventTypeEFIVariableBoot            EventType = 0x80000002
	EventTypeEFIBootServicesApplication EventType = 0x80000003
	EventTypeEFIBootServicesDriver      EventType = 0x80000004
	EventTypeEFIGPTEvent                EventType = 0x80000006
	EventTypeEFIVariableAuthority       EventType = 0x800000e0
)

// Decode dispatches on eventType (and, for IPL events, pcrIndex) to the
// matching decoder. It returns (nil, nil) for event types or PCR indices
// this registry does not recognize — such events are handled by the
// re-hash engine as "keep the firmware digest".
func Decode(eventType EventType, pcrIndex int, raw []byte) (*Parsed, error) {
	switch eventType {
	case EventTypeEventTag:
		return DecodeEventTag(raw)
	case EventTypeIPL:
		switch pcrIndex {
		case 8:
			return DecodeGrubCommand(raw)
		case 9:
			return DecodeGrubFile(raw)
		case 12:
			return DecodeSystemdEvent(raw)
		case 14:
			return DecodeShimVariable(raw)
		default:
			return nil, nil
		}
	case EventTypeEFIVariableDriverConfig, EventTypeEFIVariableBoot, EventTypeEFIVariableAuthority:
		return DecodeEFIVariable(raw)
	case EventTypeEFIBootServicesApplication, EventTypeEFIBootServicesDriver:
		return DecodeEFIBSA(raw)
	case EventTypeEFIGPTEvent:
		return DecodeEFIGPT(raw)
	default:
		return nil, nil
	}
}
