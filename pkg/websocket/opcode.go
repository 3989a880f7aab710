package websocket

import "strconv"

// Opcode denotes the type of a WebSocket frame, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.2 and
// https://datatracker.ietf.org/doc/html/rfc6455#section-11.8.
type Opcode uint8

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	// 0x3-0x7 are reserved for further non-control frames.
	OpcodeClose Opcode = 0x8
	OpcodePing  Opcode = 0x9
	OpcodePong  Opcode = 0xA
	// 0xB-0xF are reserved for further control frames.
)

// IsControl reports whether o is a control opcode (close/ping/pong),
// which per RFC 6455 section 5.5 must carry <=125 bytes and never
// be fragmented.
func (o Opcode) IsControl() bool {
	return o >= OpcodeClose
}

func (o Opcode) reserved() bool {
	return (o > OpcodeBinary && o < OpcodeClose) || o > OpcodePong
}

// String returns the opcode's name, or its number if it's unrecognized.
func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return strconv.Itoa(int(o))
	}
}
