// Package osc implements the subset of OSC 1.0 wire encoding the bridge
// speaks: single messages with float32, int32, string and boolean arguments.
// Bundles are not part of the control protocol and decode as unrecognized.
package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/c360/avatarbridge/errors"
)

// Message is a decoded OSC message: an address pattern plus its arguments.
// Float arguments decode to float64, ints to int32, strings to string and the
// T/F tags to bool.
type Message struct {
	Address string
	Args    []any
}

// Float returns the i-th argument as float64. Int arguments widen to float64.
func (m *Message) Float(i int) (float64, bool) {
	if i < 0 || i >= len(m.Args) {
		return 0, false
	}
	switch v := m.Args[i].(type) {
	case float64:
		return v, true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

// Int returns the i-th argument as int32. Float arguments truncate.
func (m *Message) Int(i int) (int32, bool) {
	if i < 0 || i >= len(m.Args) {
		return 0, false
	}
	switch v := m.Args[i].(type) {
	case int32:
		return v, true
	case float64:
		return int32(v), true
	default:
		return 0, false
	}
}

// Decode parses a single OSC message from a UDP datagram
func Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrTruncatedPacket, "osc", "Decode", "empty packet")
	}

	if bytes.HasPrefix(data, []byte("#bundle")) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("bundles not supported: %w", errors.ErrUnrecognizedFrame),
			"osc", "Decode", "bundle rejection")
	}

	addr, rest, err := readPaddedString(data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "osc", "Decode", "read address")
	}
	if !strings.HasPrefix(addr, "/") {
		return nil, errors.WrapInvalid(
			fmt.Errorf("address %q: %w", addr, errors.ErrUnrecognizedFrame),
			"osc", "Decode", "address tag check")
	}

	msg := &Message{Address: addr}

	// A message with no typetag string carries no arguments
	if len(rest) == 0 {
		return msg, nil
	}

	tags, rest, err := readPaddedString(rest)
	if err != nil {
		return nil, errors.WrapInvalid(err, "osc", "Decode", "read typetags")
	}
	if !strings.HasPrefix(tags, ",") {
		return nil, errors.WrapInvalid(
			fmt.Errorf("typetags %q: %w", tags, errors.ErrUnrecognizedFrame),
			"osc", "Decode", "typetag check")
	}

	for _, tag := range tags[1:] {
		switch tag {
		case 'f':
			if len(rest) < 4 {
				return nil, errors.WrapInvalid(errors.ErrTruncatedPacket, "osc", "Decode", "read float arg")
			}
			bits := binary.BigEndian.Uint32(rest[:4])
			msg.Args = append(msg.Args, float64(math.Float32frombits(bits)))
			rest = rest[4:]
		case 'i':
			if len(rest) < 4 {
				return nil, errors.WrapInvalid(errors.ErrTruncatedPacket, "osc", "Decode", "read int arg")
			}
			msg.Args = append(msg.Args, int32(binary.BigEndian.Uint32(rest[:4])))
			rest = rest[4:]
		case 's':
			var s string
			s, rest, err = readPaddedString(rest)
			if err != nil {
				return nil, errors.WrapInvalid(err, "osc", "Decode", "read string arg")
			}
			msg.Args = append(msg.Args, s)
		case 'T':
			msg.Args = append(msg.Args, true)
		case 'F':
			msg.Args = append(msg.Args, false)
		default:
			return nil, errors.WrapInvalid(
				fmt.Errorf("typetag %q: %w", string(tag), errors.ErrUnrecognizedFrame),
				"osc", "Decode", "typetag dispatch")
		}
	}

	return msg, nil
}

// Encode serializes a message for transmission over UDP
func Encode(msg *Message) ([]byte, error) {
	if !strings.HasPrefix(msg.Address, "/") {
		return nil, errors.WrapInvalid(
			fmt.Errorf("address %q must start with /", msg.Address),
			"osc", "Encode", "address validation")
	}

	var buf bytes.Buffer
	writePaddedString(&buf, msg.Address)

	tags := make([]byte, 0, len(msg.Args)+1)
	tags = append(tags, ',')
	var args bytes.Buffer

	for i, arg := range msg.Args {
		switch v := arg.(type) {
		case float64:
			tags = append(tags, 'f')
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], math.Float32bits(float32(v)))
			args.Write(b[:])
		case float32:
			tags = append(tags, 'f')
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
			args.Write(b[:])
		case int32:
			tags = append(tags, 'i')
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], uint32(v))
			args.Write(b[:])
		case int:
			tags = append(tags, 'i')
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], uint32(int32(v)))
			args.Write(b[:])
		case string:
			tags = append(tags, 's')
			writePaddedString(&args, v)
		case bool:
			if v {
				tags = append(tags, 'T')
			} else {
				tags = append(tags, 'F')
			}
		default:
			return nil, errors.WrapInvalid(
				fmt.Errorf("unsupported argument %d type %T", i, arg),
				"osc", "Encode", "argument encoding")
		}
	}

	writePaddedString(&buf, string(tags))
	buf.Write(args.Bytes())
	return buf.Bytes(), nil
}

// readPaddedString reads a null-terminated string padded to a 4-byte boundary
func readPaddedString(data []byte) (string, []byte, error) {
	idx := bytes.IndexByte(data, 0)
	if idx < 0 {
		return "", nil, fmt.Errorf("unterminated string: %w", errors.ErrTruncatedPacket)
	}

	s := string(data[:idx])

	// Consume the terminator and padding to the next 4-byte boundary
	end := idx + 1
	if rem := end % 4; rem != 0 {
		end += 4 - rem
	}
	if end > len(data) {
		return "", nil, fmt.Errorf("missing string padding: %w", errors.ErrTruncatedPacket)
	}

	return s, data[end:], nil
}

// writePaddedString writes s null-terminated and padded to a 4-byte boundary
func writePaddedString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	pad := 4 - buf.Len()%4
	for i := 0; i < pad; i++ {
		buf.WriteByte(0)
	}
}
