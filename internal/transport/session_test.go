package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"palaver/internal/wire"

	"github.com/gorilla/websocket"
)

type mockConn struct {
	mu      sync.Mutex
	inbound chan []byte
	written chan []byte
	closeCh chan struct{}
	closed  bool
	readErr error
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan []byte, 32),
		written: make(chan []byte, 32),
		closeCh: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-m.inbound:
		return websocket.BinaryMessage, data, nil
	case <-m.closeCh:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.readErr != nil {
			return 0, nil, m.readErr
		}
		return 0, nil, errors.New("connection closed")
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-m.closeCh:
		return errors.New("connection closed")
	default:
	}
	m.written <- data
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockConn) failRead(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
	m.Close()
}

// serve pushes a frame to the client as if the server sent it.
func (m *mockConn) serve(t *testing.T, frame wire.Frame) {
	t.Helper()
	data, err := frame.MarshalBinary()
	if err != nil {
		t.Fatalf("failed to marshal frame: %v", err)
	}
	m.inbound <- data
}

// nextWritten decodes the next frame the client wrote.
func (m *mockConn) nextWritten(t *testing.T) wire.Frame {
	t.Helper()
	select {
	case data := <-m.written:
		var frame wire.Frame
		if err := frame.UnmarshalBinary(data); err != nil {
			t.Fatalf("failed to unmarshal written frame: %v", err)
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for written frame")
		return wire.Frame{}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testMetadata(t *testing.T, route string) []byte {
	t.Helper()
	md, err := wire.BuildMetadata(route, "tok")
	if err != nil {
		t.Fatal(err)
	}
	return md
}

func TestSession_RequestResponse(t *testing.T) {
	conn := newMockConn()
	s := newSession(conn, testLogger())
	defer s.Close()

	md := testMetadata(t, "chat.send")
	done := make(chan struct{})
	var reply []byte
	var callErr error
	go func() {
		defer close(done)
		reply, callErr = s.RequestResponse(context.Background(), md, []byte(`{"content":"hi"}`))
	}()

	req := conn.nextWritten(t)
	if req.Kind != wire.FrameRequest {
		t.Fatalf("expected REQUEST frame, got %s", req.Kind)
	}
	parsed, err := wire.ParseMetadata(req.Metadata)
	if err != nil {
		t.Fatalf("request metadata undecodable: %v", err)
	}
	if parsed.Route != "chat.send" {
		t.Errorf("expected route chat.send, got %s", parsed.Route)
	}

	conn.serve(t, wire.Frame{StreamID: req.StreamID, Kind: wire.FramePayload, Data: []byte(`{"id":"m1"}`)})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RequestResponse did not return")
	}
	if callErr != nil {
		t.Fatalf("RequestResponse failed: %v", callErr)
	}
	if string(reply) != `{"id":"m1"}` {
		t.Errorf("unexpected reply: %s", reply)
	}
}

func TestSession_RequestResponse_ServerError(t *testing.T) {
	conn := newMockConn()
	s := newSession(conn, testLogger())
	defer s.Close()

	md := testMetadata(t, "chat.send")
	errCh := make(chan error, 1)
	go func() {
		_, err := s.RequestResponse(context.Background(), md, nil)
		errCh <- err
	}()

	req := conn.nextWritten(t)
	conn.serve(t, wire.Frame{StreamID: req.StreamID, Kind: wire.FrameError, Error: "boom"})

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected error from server ERROR frame")
		}
	case <-time.After(time.Second):
		t.Fatal("RequestResponse did not return")
	}
}

func TestSession_DemuxConcurrentCalls(t *testing.T) {
	conn := newMockConn()
	s := newSession(conn, testLogger())
	defer s.Close()

	type result struct {
		data []byte
		err  error
	}
	md := testMetadata(t, "chat.send")
	results := make(map[int]chan result)
	for i := 0; i < 2; i++ {
		ch := make(chan result, 1)
		results[i] = ch
		request := []byte(fmt.Sprintf(`{"n":%d}`, i))
		go func() {
			data, err := s.RequestResponse(context.Background(), md, request)
			ch <- result{data, err}
		}()
	}

	// Echo each request back on its own stream, answering out of order.
	first := conn.nextWritten(t)
	second := conn.nextWritten(t)
	conn.serve(t, wire.Frame{StreamID: second.StreamID, Kind: wire.FramePayload, Data: second.Data})
	conn.serve(t, wire.Frame{StreamID: first.StreamID, Kind: wire.FramePayload, Data: first.Data})

	for i := 0; i < 2; i++ {
		select {
		case res := <-results[i]:
			if res.err != nil {
				t.Fatalf("call %d failed: %v", i, res.err)
			}
			expected := fmt.Sprintf(`{"n":%d}`, i)
			if string(res.data) != expected {
				t.Errorf("call %d got reply for another stream: %s", i, res.data)
			}
		case <-time.After(time.Second):
			t.Fatal("call did not return")
		}
	}
}

func TestSession_RequestStream_OrderAndComplete(t *testing.T) {
	conn := newMockConn()
	s := newSession(conn, testLogger())
	defer s.Close()

	payloads, errCh := s.RequestStream(context.Background(), testMetadata(t, "chat.stream"))

	req := conn.nextWritten(t)
	if req.Kind != wire.FrameStream {
		t.Fatalf("expected STREAM frame, got %s", req.Kind)
	}

	for i := 0; i < 5; i++ {
		conn.serve(t, wire.Frame{StreamID: req.StreamID, Kind: wire.FramePayload, Data: []byte(fmt.Sprintf("p%d", i))})
	}
	conn.serve(t, wire.Frame{StreamID: req.StreamID, Kind: wire.FrameComplete})

	var received []string
	for data := range payloads {
		received = append(received, string(data))
	}
	if len(received) != 5 {
		t.Fatalf("expected 5 payloads, got %d", len(received))
	}
	for i, p := range received {
		if p != fmt.Sprintf("p%d", i) {
			t.Errorf("index %d: wire order not preserved: %s", i, p)
		}
	}

	select {
	case err := <-errCh:
		t.Errorf("unexpected stream error on COMPLETE: %v", err)
	default:
	}
}

func TestSession_RequestStream_ServerError(t *testing.T) {
	conn := newMockConn()
	s := newSession(conn, testLogger())
	defer s.Close()

	_, errCh := s.RequestStream(context.Background(), testMetadata(t, "chat.stream"))
	req := conn.nextWritten(t)
	conn.serve(t, wire.Frame{StreamID: req.StreamID, Kind: wire.FrameError, Error: "stream broke"})

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected stream error")
		}
	case <-time.After(time.Second):
		t.Fatal("stream error not delivered")
	}
}

func TestSession_RequestStream_SessionDeath(t *testing.T) {
	conn := newMockConn()
	s := newSession(conn, testLogger())

	_, errCh := s.RequestStream(context.Background(), testMetadata(t, "chat.stream"))
	conn.nextWritten(t)

	conn.failRead(errors.New("network gone"))

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected error after session death")
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not observe session death")
	}
}

func TestSession_KeepAlive(t *testing.T) {
	conn := newMockConn()
	s := newSession(conn, testLogger())
	defer s.Close()

	s.startKeepAlive(20 * time.Millisecond)

	frame := conn.nextWritten(t)
	if frame.Kind != wire.FrameKeepAlive {
		t.Errorf("expected KEEPALIVE frame, got %s", frame.Kind)
	}
}

func TestSession_NoKeepAliveBeforeStart(t *testing.T) {
	conn := newMockConn()
	s := newSession(conn, testLogger())
	defer s.Close()

	select {
	case <-conn.written:
		t.Error("frame written before any call or keepalive start")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_ReadErrorClosesDone(t *testing.T) {
	conn := newMockConn()
	s := newSession(conn, testLogger())

	conn.failRead(errors.New("read failed"))

	select {
	case <-s.Done():
		if s.Err() == nil {
			t.Error("expected session error")
		}
	case <-time.After(time.Second):
		t.Fatal("Done not closed on read error")
	}
}
