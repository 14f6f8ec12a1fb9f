package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// TFTP opcodes. Every packet starts with a zero byte followed by the opcode,
// all multi-byte integers big-endian.
const (
	OpReadRequest  = uint16(iota + 1) // RRQ
	OpWriteRequest                    // WRQ
	OpData                            // DATA
	OpAck                             // ACK
	OpError                           // ERROR
	OpOptionAck                       // OACK
)

// Error codes carried by ERROR packets.
const (
	// CodeFileNotFound is returned when a read request names a missing file.
	CodeFileNotFound = uint16(1)
	// CodeIllegalOp is returned when a session receives an opcode it cannot
	// handle in its current state.
	CodeIllegalOp = uint16(4)
	// CodeEndOfTransfer is not an error: peers send it to finish a transfer
	// early, typically after a stat-style read of just the file size.
	CodeEndOfTransfer = uint16(9)
)

const (
	headerSize = 4

	// ModeOctet is the only transfer mode the server accepts. The comparison
	// is case-insensitive.
	ModeOctet = "octet"
)

var (
	ErrShortPacket = errors.New("wire: packet shorter than opcode minimum")
	ErrBadString   = errors.New("wire: missing NUL terminator")
)

// Opcode extracts the opcode from a raw datagram.
func Opcode(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, ErrShortPacket
	}
	return binary.BigEndian.Uint16(b[:2]), nil
}

// Request is a decoded RRQ or WRQ.
type Request struct {
	Op      uint16
	Path    string
	Mode    string
	Options []Option
}

// Option is one key/value pair from the option extension of a request.
type Option struct {
	Key   string
	Value string
}

// DecodeRequest parses an RRQ/WRQ datagram: opcode, NUL-terminated path,
// NUL-terminated mode, then zero or more NUL-terminated key/value pairs.
func DecodeRequest(b []byte) (Request, error) {
	op, err := Opcode(b)
	if err != nil {
		return Request{}, err
	}
	if op != OpReadRequest && op != OpWriteRequest {
		return Request{}, fmt.Errorf("wire: opcode %d is not a request", op)
	}
	if len(b) < 2+2 {
		return Request{}, ErrShortPacket
	}
	path, rest, err := cutString(b[2:])
	if err != nil {
		return Request{}, err
	}
	mode, rest, err := cutString(rest)
	if err != nil {
		return Request{}, err
	}
	opts, err := DecodeOptionPairs(rest)
	if err != nil {
		return Request{}, err
	}
	return Request{Op: op, Path: path, Mode: mode, Options: opts}, nil
}

// DecodeOptionPairs parses sequential NUL-terminated key/value pairs.
func DecodeOptionPairs(b []byte) ([]Option, error) {
	var opts []Option
	for len(b) > 0 {
		key, rest, err := cutString(b)
		if err != nil {
			return nil, err
		}
		value, rest, err := cutString(rest)
		if err != nil {
			return nil, err
		}
		opts = append(opts, Option{Key: key, Value: value})
		b = rest
	}
	return opts, nil
}

// EncodeRequest builds an RRQ/WRQ datagram. Used by tests and clients.
func EncodeRequest(r Request) []byte {
	buf := make([]byte, 0, headerSize+len(r.Path)+len(r.Mode)+2)
	buf = binary.BigEndian.AppendUint16(buf, r.Op)
	buf = appendString(buf, r.Path)
	buf = appendString(buf, r.Mode)
	for _, o := range r.Options {
		buf = appendString(buf, o.Key)
		buf = appendString(buf, o.Value)
	}
	return buf
}

// Data is a decoded DATA packet. Block numbering is 1-based.
type Data struct {
	Block   uint16
	Payload []byte
}

// DecodeData parses a DATA datagram. The payload may be empty: a short or
// empty payload is how the sender signals the final block.
func DecodeData(b []byte) (Data, error) {
	op, err := Opcode(b)
	if err != nil {
		return Data{}, err
	}
	if op != OpData {
		return Data{}, fmt.Errorf("wire: opcode %d is not DATA", op)
	}
	if len(b) < headerSize {
		return Data{}, ErrShortPacket
	}
	return Data{
		Block:   binary.BigEndian.Uint16(b[2:4]),
		Payload: b[headerSize:],
	}, nil
}

// EncodeData builds a DATA datagram for block with the given payload.
func EncodeData(block uint16, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], OpData)
	binary.BigEndian.PutUint16(buf[2:4], block)
	copy(buf[headerSize:], payload)
	return buf
}

// Ack is a decoded ACK packet.
type Ack struct {
	Block uint16
}

// DecodeAck parses an ACK datagram.
func DecodeAck(b []byte) (Ack, error) {
	op, err := Opcode(b)
	if err != nil {
		return Ack{}, err
	}
	if op != OpAck {
		return Ack{}, fmt.Errorf("wire: opcode %d is not ACK", op)
	}
	if len(b) < headerSize {
		return Ack{}, ErrShortPacket
	}
	return Ack{Block: binary.BigEndian.Uint16(b[2:4])}, nil
}

// EncodeAck builds an ACK datagram for block.
func EncodeAck(block uint16) []byte {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[0:2], OpAck)
	binary.BigEndian.PutUint16(buf[2:4], block)
	return buf
}

// ErrorPacket is a decoded ERROR packet.
type ErrorPacket struct {
	Code    uint16
	Message string
}

// EndOfTransfer reports whether the packet carries the sentinel code peers
// use to signal normal completion rather than a failure.
func (e ErrorPacket) EndOfTransfer() bool {
	return e.Code == CodeEndOfTransfer
}

// DecodeError parses an ERROR datagram. A missing message terminator is
// tolerated, the message is taken up to the end of the packet.
func DecodeError(b []byte) (ErrorPacket, error) {
	op, err := Opcode(b)
	if err != nil {
		return ErrorPacket{}, err
	}
	if op != OpError {
		return ErrorPacket{}, fmt.Errorf("wire: opcode %d is not ERROR", op)
	}
	if len(b) < headerSize {
		return ErrorPacket{}, ErrShortPacket
	}
	msg := b[headerSize:]
	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}
	return ErrorPacket{
		Code:    binary.BigEndian.Uint16(b[2:4]),
		Message: string(msg),
	}, nil
}

// EncodeError builds an ERROR datagram.
func EncodeError(code uint16, msg string) []byte {
	buf := make([]byte, 0, headerSize+len(msg)+1)
	buf = binary.BigEndian.AppendUint16(buf, OpError)
	buf = binary.BigEndian.AppendUint16(buf, code)
	buf = appendString(buf, msg)
	return buf
}

func cutString(b []byte) (string, []byte, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, ErrBadString
	}
	return string(b[:i]), b[i+1:], nil
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}
