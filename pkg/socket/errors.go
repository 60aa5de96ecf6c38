package socket

import "fmt"

// Kind enumerates the protocol error categories a Socket can report.
type Kind uint8

const (
	KindAcceptFailed Kind = iota
	KindReceiveFailed
	KindParseFailed
	KindUnknownMessageType
	KindOutOfMemory
	KindConnectionReset
	KindConnectFailed
	KindBindFailed
	KindSendFailed
)

func (k Kind) String() string {
	switch k {
	case KindAcceptFailed:
		return "AcceptFailed"
	case KindReceiveFailed:
		return "ReceiveFailed"
	case KindParseFailed:
		return "ParseFailed"
	case KindUnknownMessageType:
		return "UnknownMessageType"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindConnectionReset:
		return "ConnectionReset"
	case KindConnectFailed:
		return "ConnectFailed"
	case KindBindFailed:
		return "BindFailed"
	case KindSendFailed:
		return "SendFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Error is the record kept for the most recent protocol error. Fatal errors
// drive the lifecycle into StateError; non-fatal errors are reported to
// listeners and the endpoint carries on.
type Error struct {
	Kind  Kind
	Desc  string
	Fatal bool
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("socket: %s: %s: %v", e.Kind, e.Desc, e.Err)
	}
	return fmt.Sprintf("socket: %s: %s", e.Kind, e.Desc)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, desc string, cause error) *Error {
	return &Error{Kind: kind, Desc: desc, Err: cause}
}

func newFatalError(kind Kind, desc string, cause error) *Error {
	return &Error{Kind: kind, Desc: desc, Fatal: true, Err: cause}
}
