package socket

import "testing"

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateInitial:    "Initial",
		StateConnecting: "Connecting",
		StateOpening:    "Opening",
		StateListening:  "Listening",
		StateConnected:  "Connected",
		StateClosing:    "Closing",
		StateClosed:     "Closed",
		StateError:      "Error",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateInitial, StateConnecting, StateOpening, StateListening, StateConnected, StateClosing} {
		if s.Terminal() {
			t.Fatalf("%s reported terminal", s)
		}
	}
	for _, s := range []State{StateClosed, StateError} {
		if !s.Terminal() {
			t.Fatalf("%s not reported terminal", s)
		}
	}
}
