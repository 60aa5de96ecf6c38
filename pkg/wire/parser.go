package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
)

type parsePhase uint8

const (
	phaseHeader parsePhase = iota
	phaseSize
	phaseType
	phaseData
)

// Parser incrementally consumes frames from a connection whose reads are
// bounded by a deadline. A read timeout leaves the parser exactly where it
// was; the next Tick resumes from the same byte. Partial 32-bit fields
// accumulate in a scratch buffer so a frame may arrive one byte at a time.
//
// The parser is owned by a single goroutine and is not safe for concurrent
// use.
type Parser struct {
	reg *Registry
	log *slog.Logger

	phase    parsePhase
	field    [4]byte
	fieldN   int
	size     int32
	typeID   uint32
	payload  []byte
	received int

	lastPayloadLen int
}

func NewParser(reg *Registry, log *slog.Logger) *Parser {
	return &Parser{reg: reg, log: log}
}

// InFlight reports whether a partially received frame is pending.
func (p *Parser) InFlight() bool {
	return p.phase != phaseHeader || p.fieldN > 0
}

// Reset discards any partially received frame.
func (p *Parser) Reset() {
	p.phase = phaseHeader
	p.fieldN = 0
	p.payload = nil
	p.received = 0
}

// Tick advances the parse by at most one frame. It returns (nil, nil) when no
// complete frame is available yet — a read timed out mid-field, or a
// keep-alive arrived — and (msg, nil) once a frame has been fully received
// and decoded.
//
// On a protocol error the in-flight frame is discarded and the error
// returned; the parser is immediately ready for the next frame. ErrPeerClosed
// is returned when the remote end closes the connection at a frame boundary.
func (p *Parser) Tick(r io.Reader) (Message, error) {
	for {
		switch p.phase {
		case phaseHeader:
			ok, err := p.readWord(r)
			if err != nil {
				atBoundary := p.fieldN == 0
				p.Reset()
				if atBoundary && errors.Is(err, io.EOF) {
					return nil, ErrPeerClosed
				}
				return nil, fmt.Errorf("wire: header read: %w", err)
			}
			if !ok {
				return nil, nil
			}

			word := binary.BigEndian.Uint32(p.field[:])
			if word == 0 {
				// Keep-alive; stay at the frame boundary.
				return nil, nil
			}
			if word>>16 != Signature {
				p.Reset()
				return nil, fmt.Errorf("%w: got 0x%08X", ErrHeaderMismatch, word)
			}
			p.phase = phaseSize

		case phaseSize:
			ok, err := p.readWord(r)
			if err != nil {
				p.Reset()
				return nil, fmt.Errorf("wire: size read: %w", err)
			}
			if !ok {
				return nil, nil
			}

			size := int32(binary.BigEndian.Uint32(p.field[:]))
			if size < 0 {
				p.Reset()
				return nil, fmt.Errorf("%w: %d", ErrSizeInvalid, size)
			}
			p.size = size
			p.phase = phaseType

		case phaseType:
			ok, err := p.readWord(r)
			if err != nil {
				p.Reset()
				return nil, fmt.Errorf("wire: type read: %w", err)
			}
			if !ok {
				return nil, nil
			}
			p.typeID = binary.BigEndian.Uint32(p.field[:])

			if int64(p.size) > MaxPayloadSize {
				size := p.size
				p.Reset()
				return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, size)
			}
			if int64(p.size) > SoftPayloadSize {
				p.log.Warn("large payload announced", "size", p.size, "type", p.typeID)
			}

			p.payload = make([]byte, p.size)
			p.received = 0
			p.phase = phaseData

		case phaseData:
			for p.received < int(p.size) {
				n, err := r.Read(p.payload[p.received:])
				p.received += n
				if err != nil {
					if isTimeout(err) {
						return nil, nil
					}
					p.Reset()
					return nil, fmt.Errorf("wire: payload read: %w", err)
				}
			}
			return p.dispatch()
		}
	}
}

// LastPayloadLen returns the payload size of the most recently dispatched
// frame.
func (p *Parser) LastPayloadLen() int {
	return p.lastPayloadLen
}

// dispatch decodes the completed frame through the registry.
func (p *Parser) dispatch() (Message, error) {
	typeID, payload := p.typeID, p.payload
	p.lastPayloadLen = len(payload)
	p.Reset()

	msg, ok := p.reg.New(typeID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownType, typeID)
	}
	if err := msg.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("%w: type %d: %v", ErrParseFailed, typeID, err)
	}

	return msg, nil
}

// readWord accumulates the next 32-bit field into p.field. It returns
// (false, nil) when the read deadline expired before the field completed;
// parser state is untouched and the next call resumes the same field.
func (p *Parser) readWord(r io.Reader) (bool, error) {
	for p.fieldN < len(p.field) {
		n, err := r.Read(p.field[p.fieldN:])
		p.fieldN += n
		if err != nil {
			if isTimeout(err) {
				return false, nil
			}
			return false, err
		}
	}
	p.fieldN = 0
	return true, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
