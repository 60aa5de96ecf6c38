package socket

// Listener receives protocol notifications from a Socket. All callbacks fire
// synchronously on the socket's worker goroutine; implementations must not
// block for long.
//
// MessageReceived is an arrival signal only — the consumer pulls the message
// itself via TakeReceived.
type Listener interface {
	StateChanged(State)
	MessageReceived()
	Error(*Error)
}

// ListenerFuncs adapts plain closures to the Listener interface. Nil fields
// are skipped.
type ListenerFuncs struct {
	OnStateChanged    func(State)
	OnMessageReceived func()
	OnError           func(*Error)
}

var _ Listener = (*ListenerFuncs)(nil)

func (l *ListenerFuncs) StateChanged(s State) {
	if l.OnStateChanged != nil {
		l.OnStateChanged(s)
	}
}

func (l *ListenerFuncs) MessageReceived() {
	if l.OnMessageReceived != nil {
		l.OnMessageReceived()
	}
}

func (l *ListenerFuncs) Error(e *Error) {
	if l.OnError != nil {
		l.OnError(e)
	}
}
