package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
)

// timeoutError satisfies net.Error the way a deadline-expired read does.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// scriptReader replays a fixed sequence of read results: a []byte step
// returns those bytes, an error step returns that error. Once exhausted it
// keeps returning timeouts.
type scriptReader struct {
	steps []any
}

func (r *scriptReader) Read(p []byte) (int, error) {
	if len(r.steps) == 0 {
		return 0, timeoutError{}
	}

	switch step := r.steps[0].(type) {
	case []byte:
		n := copy(p, step)
		if n < len(step) {
			r.steps[0] = step[n:]
		} else {
			r.steps = r.steps[1:]
		}
		return n, nil
	case error:
		r.steps = r.steps[1:]
		return 0, step
	default:
		panic("scriptReader: bad step")
	}
}

func testFrame(t *testing.T, id uint32, payload []byte) []byte {
	t.Helper()

	buf := make([]byte, 12+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], HeaderWord)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[8:12], id)
	copy(buf[12:], payload)
	return buf
}

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	return NewParser(newTestRegistry(t, 5), slog.Default())
}

func TestParser_WholeFrame(t *testing.T) {
	p := newTestParser(t)
	r := &scriptReader{steps: []any{testFrame(t, 5, []byte{0xAA, 0xBB})}}

	msg, err := p.Tick(r)
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	blob, ok := msg.(*blobMessage)
	if !ok {
		t.Fatalf("Tick = %T, want *blobMessage", msg)
	}
	if !bytes.Equal(blob.data, []byte{0xAA, 0xBB}) {
		t.Fatalf("payload = % X, want AA BB", blob.data)
	}
	if p.InFlight() {
		t.Fatalf("parser still in flight after dispatch")
	}
}

func TestParser_ResumesAcrossArbitrarySplits(t *testing.T) {
	frame := testFrame(t, 5, []byte{1, 2, 3, 4, 5, 6, 7})

	// Deliver the frame one byte at a time with a timeout after each byte;
	// every split point must leave the parser resumable.
	p := newTestParser(t)
	var steps []any
	for _, b := range frame {
		steps = append(steps, []byte{b}, error(timeoutError{}))
	}
	r := &scriptReader{steps: steps}

	var got Message
	for range frame {
		msg, err := p.Tick(r)
		if err != nil {
			t.Fatalf("Tick error mid-frame: %v", err)
		}
		if msg != nil {
			got = msg
		}
	}
	if got == nil {
		t.Fatalf("no message after full frame delivered")
	}
	if blob := got.(*blobMessage); !bytes.Equal(blob.data, []byte{1, 2, 3, 4, 5, 6, 7}) {
		t.Fatalf("payload = % X", blob.data)
	}
}

func TestParser_TwoFramesBackToBack(t *testing.T) {
	p := newTestParser(t)
	r := &scriptReader{steps: []any{
		append(testFrame(t, 5, []byte{1}), testFrame(t, 5, []byte{2})...),
	}}

	first, err := p.Tick(r)
	if err != nil || first == nil {
		t.Fatalf("first Tick = (%v, %v)", first, err)
	}
	second, err := p.Tick(r)
	if err != nil || second == nil {
		t.Fatalf("second Tick = (%v, %v)", second, err)
	}

	if a, b := first.(*blobMessage), second.(*blobMessage); a.data[0] != 1 || b.data[0] != 2 {
		t.Fatalf("frames out of order: % X then % X", a.data, b.data)
	}
}

func TestParser_KeepAliveAtBoundary(t *testing.T) {
	p := newTestParser(t)
	r := &scriptReader{steps: []any{
		[]byte{0, 0, 0, 0},
		testFrame(t, 5, []byte{0x42}),
	}}

	msg, err := p.Tick(r)
	if err != nil {
		t.Fatalf("keep-alive Tick error: %v", err)
	}
	if msg != nil {
		t.Fatalf("keep-alive yielded a message: %v", msg)
	}
	if p.InFlight() {
		t.Fatalf("keep-alive left parser mid-frame")
	}

	msg, err = p.Tick(r)
	if err != nil || msg == nil {
		t.Fatalf("frame after keep-alive = (%v, %v)", msg, err)
	}
}

func TestParser_HeaderMismatch(t *testing.T) {
	p := newTestParser(t)
	r := &scriptReader{steps: []any{
		[]byte{0xDE, 0xAD, 0x01, 0x00},
		testFrame(t, 5, []byte{0x42}),
	}}

	if _, err := p.Tick(r); !errors.Is(err, ErrHeaderMismatch) {
		t.Fatalf("want ErrHeaderMismatch, got %v", err)
	}
	if p.InFlight() {
		t.Fatalf("bad frame not discarded")
	}

	// The next legal frame still parses.
	msg, err := p.Tick(r)
	if err != nil || msg == nil {
		t.Fatalf("frame after mismatch = (%v, %v)", msg, err)
	}
}

func TestParser_NegativeSize(t *testing.T) {
	p := newTestParser(t)
	r := &scriptReader{steps: []any{
		[]byte{0x2B, 0xAD, 0x01, 0x00, 0xFF, 0xFF, 0xFF, 0xFF},
	}}

	if _, err := p.Tick(r); !errors.Is(err, ErrSizeInvalid) {
		t.Fatalf("want ErrSizeInvalid, got %v", err)
	}
	if p.InFlight() {
		t.Fatalf("bad frame not discarded")
	}
}

func TestParser_UnknownType(t *testing.T) {
	p := newTestParser(t)
	r := &scriptReader{steps: []any{testFrame(t, 9999, []byte{0x00})}}

	if _, err := p.Tick(r); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("want ErrUnknownType, got %v", err)
	}
}

func TestParser_PayloadTooLarge(t *testing.T) {
	p := newTestParser(t)

	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], HeaderWord)
	binary.BigEndian.PutUint32(hdr[4:8], MaxPayloadSize+1)
	binary.BigEndian.PutUint32(hdr[8:12], 5)
	r := &scriptReader{steps: []any{hdr[:]}}

	if _, err := p.Tick(r); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("want ErrPayloadTooLarge, got %v", err)
	}
}

func TestParser_EOFAtBoundary(t *testing.T) {
	p := newTestParser(t)
	r := &scriptReader{steps: []any{error(io.EOF)}}

	if _, err := p.Tick(r); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("want ErrPeerClosed, got %v", err)
	}
}

func TestParser_EOFMidFrame(t *testing.T) {
	p := newTestParser(t)
	frame := testFrame(t, 5, []byte{1, 2, 3, 4})
	r := &scriptReader{steps: []any{frame[:6], error(io.EOF)}}

	_, err := p.Tick(r)
	if err == nil {
		t.Fatalf("want error on EOF mid-frame")
	}
	if errors.Is(err, ErrPeerClosed) {
		t.Fatalf("EOF mid-frame must not report a clean peer close")
	}
	if p.InFlight() {
		t.Fatalf("truncated frame not discarded")
	}
}

func TestParser_TimeoutPreservesPartialField(t *testing.T) {
	p := newTestParser(t)
	frame := testFrame(t, 5, []byte{0x11})

	// Two bytes of the header, then a timeout.
	r := &scriptReader{steps: []any{frame[:2]}}
	if msg, err := p.Tick(r); msg != nil || err != nil {
		t.Fatalf("partial header Tick = (%v, %v)", msg, err)
	}
	if !p.InFlight() {
		t.Fatalf("partial header lost")
	}

	// Rest of the frame on the next tick.
	r.steps = append(r.steps, frame[2:])
	msg, err := p.Tick(r)
	if err != nil || msg == nil {
		t.Fatalf("resumed Tick = (%v, %v)", msg, err)
	}
}

func TestParser_ZeroSizePayload(t *testing.T) {
	p := newTestParser(t)
	r := &scriptReader{steps: []any{testFrame(t, 5, nil)}}

	msg, err := p.Tick(r)
	if err != nil || msg == nil {
		t.Fatalf("zero-size frame = (%v, %v)", msg, err)
	}
	if blob := msg.(*blobMessage); len(blob.data) != 0 {
		t.Fatalf("payload = % X, want empty", blob.data)
	}
}
