// Package wire implements the framed message protocol spoken between two
// endpoints: a fixed signature/version header, a length-prefixed payload, and
// a 4-byte zero keep-alive frame.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Every message on the wire is four fields, all big-endian:
//
//	<header:4><size:4><type:4><payload:size>
//
// header packs the protocol signature and version as
// (Signature<<16)|(VersionMajor<<8)|VersionMinor. size is the signed payload
// length and must be >= 0. type is the registry identifier of the message.
//
// A frame whose first 32 bits are all zero is a keep-alive and carries no
// further fields.
const (
	Signature    = 0x2BAD
	VersionMajor = 1
	VersionMinor = 0

	// HeaderWord is the constant first field of every non-keep-alive frame.
	HeaderWord uint32 = Signature<<16 | VersionMajor<<8 | VersionMinor

	headerLen = 12 // header + size + type
)

const (
	// MaxPayloadSize is the hard cap on a single message payload. A frame
	// declaring more than this is rejected before any allocation.
	MaxPayloadSize = 500 << 20

	// SoftPayloadSize is the advisory threshold above which a payload is
	// accepted but logged as suspicious.
	SoftPayloadSize = 128 << 20
)

var (
	ErrHeaderMismatch  = errors.New("wire: header signature mismatch")
	ErrSizeInvalid     = errors.New("wire: invalid frame size")
	ErrPayloadTooLarge = errors.New("wire: payload exceeds hard size limit")
	ErrUnknownType     = errors.New("wire: unknown message type")
	ErrParseFailed     = errors.New("wire: payload parse failed")
	ErrPeerClosed      = errors.New("wire: connection closed by peer")
)

// EncodeMessage serializes m into a complete frame: header word, payload
// size, registry type id, then the payload bytes.
func EncodeMessage(reg *Registry, m Message) ([]byte, error) {
	id, ok := reg.IDOf(m)
	if !ok {
		return nil, fmt.Errorf("%w: %T not registered", ErrUnknownType, m)
	}

	payload, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadSize || len(payload) > math.MaxInt32 {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], HeaderWord)
	binary.BigEndian.PutUint32(buf[4:8], uint32(int32(len(payload))))
	binary.BigEndian.PutUint32(buf[8:12], id)
	copy(buf[headerLen:], payload)

	return buf, nil
}

// WriteMessage writes m to w as a single frame and returns the number of
// bytes written.
func WriteMessage(w io.Writer, reg *Registry, m Message) (int, error) {
	buf, err := EncodeMessage(reg, m)
	if err != nil {
		return 0, err
	}

	return w.Write(buf)
}

// WriteKeepAlive writes the 4-byte zero keep-alive frame.
func WriteKeepAlive(w io.Writer) error {
	var z [4]byte
	_, err := w.Write(z[:])
	return err
}
