// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package frame implements the single-byte protocol header that every
// message on a negotiated session is prefixed with, and the demultiplexer
// that routes incoming frames to the meta-protocol negotiator or to a
// bound application handler.
package frame

import "fmt"

// ProtocolType occupies the high 2 bits of the frame header byte.
type ProtocolType byte

const (
	// Meta carries meta-protocol negotiation and code-generation messages.
	Meta ProtocolType = iota
	// Application carries traffic for the negotiated application protocol.
	Application
	// NaturalLanguage carries free-form natural language subchannel traffic.
	NaturalLanguage
	// Verification carries test-case / fix-error subchannel traffic.
	Verification
)

// String implements fmt.Stringer.
func (t ProtocolType) String() string {
	switch t {
	case Meta:
		return "meta"
	case Application:
		return "application"
	case NaturalLanguage:
		return "naturalLanguage"
	case Verification:
		return "verification"
	default:
		return "unknown"
	}
}

// headerShift is the bit offset of the protocol type within the header
// byte; the low 6 bits are reserved and must be zero on encode, ignored on
// decode.
const headerShift = 6

// EncodeHeader builds the 1-byte frame header for the given protocol type.
func EncodeHeader(t ProtocolType) byte {
	return byte(t) << headerShift
}

// DecodeHeader extracts the protocol type from a frame header byte. The
// reserved low 6 bits are ignored on receive; a peer setting them is not
// an error.
func DecodeHeader(b byte) ProtocolType {
	return ProtocolType(b >> headerShift)
}

// Encode prepends the header byte to payload, returning a new frame ready
// to send on the wire.
func Encode(t ProtocolType, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = EncodeHeader(t)
	copy(out[1:], payload)
	return out
}

// Decode splits a received frame into its protocol type and payload. An
// empty frame is an error; every other input decodes (unknown protocol
// type values are returned as-is so the caller can log-and-drop rather
// than fail the whole session).
func Decode(data []byte) (ProtocolType, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("frame: empty frame")
	}
	return DecodeHeader(data[0]), data[1:], nil
}
