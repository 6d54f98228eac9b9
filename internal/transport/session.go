package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"palaver/internal/wire"

	"github.com/gorilla/websocket"
)

var ErrSessionClosed = errors.New("session closed")

// wsConn is the part of *websocket.Conn the session needs.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is one established streaming connection: the handle used to
// issue request/response and request/stream calls. A read loop
// demultiplexes inbound frames to pending calls by stream id; a single
// writer mutex serializes outbound frames. The Done channel closes when
// the session dies for any reason, clean close and error alike.
type Session struct {
	conn wsConn
	log  *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan wire.Frame

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func newSession(conn wsConn, log *slog.Logger) *Session {
	s := &Session{
		conn:    conn,
		log:     log,
		pending: make(map[uint32]chan wire.Frame),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// startKeepAlive begins the periodic keepalive writer. Called after the
// SETUP frame is written so SETUP is always first on the wire.
func (s *Session) startKeepAlive(interval time.Duration) {
	go s.keepAliveLoop(interval)
}

// Done closes when the session is no longer usable.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session ended. Valid after Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Close() error {
	s.fail(ErrSessionClosed)
	return nil
}

func (s *Session) fail(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) readLoop() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		var frame wire.Frame
		if err := frame.UnmarshalBinary(data); err != nil {
			s.log.Warn("dropping undecodable frame", "error", err)
			continue
		}

		s.dispatch(frame)
	}
}

func (s *Session) dispatch(frame wire.Frame) {
	s.mu.Lock()
	ch, ok := s.pending[frame.StreamID]
	s.mu.Unlock()

	if !ok {
		// Caller already gone; late frames for finished calls are expected.
		return
	}

	select {
	case ch <- frame:
	case <-s.done:
	}
}

func (s *Session) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			frame := wire.Frame{Kind: wire.FrameKeepAlive}
			if err := s.writeFrame(&frame); err != nil {
				s.fail(fmt.Errorf("keepalive write: %w", err))
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) writeFrame(frame *wire.Frame) error {
	data, err := frame.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", frame.Kind, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *Session) register(id uint32, buf int) chan wire.Frame {
	ch := make(chan wire.Frame, buf)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *Session) unregister(id uint32) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// RequestResponse issues a single request/response call and waits for
// the server's payload. No deadline is applied beyond ctx.
func (s *Session) RequestResponse(ctx context.Context, metadata, data []byte) ([]byte, error) {
	id := s.nextID.Add(1)
	ch := s.register(id, 1)
	defer s.unregister(id)

	frame := wire.Frame{
		StreamID: id,
		Kind:     wire.FrameRequest,
		Metadata: metadata,
		Data:     data,
	}
	if err := s.writeFrame(&frame); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		switch reply.Kind {
		case wire.FramePayload:
			return reply.Data, nil
		case wire.FrameError:
			return nil, fmt.Errorf("server error: %s", reply.Error)
		default:
			return nil, fmt.Errorf("unexpected %s frame on stream %d", reply.Kind, id)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSessionClosed
	}
}

// RequestStream issues an open-ended request/stream call. Payloads
// arrive on the first channel in wire order. The payload channel closes
// on server COMPLETE; any error (server, session, ctx) is delivered on
// the second channel instead and ends the stream.
func (s *Session) RequestStream(ctx context.Context, metadata []byte) (<-chan []byte, <-chan error) {
	out := make(chan []byte, 16)
	errCh := make(chan error, 1)

	id := s.nextID.Add(1)
	ch := s.register(id, 16)

	frame := wire.Frame{
		StreamID: id,
		Kind:     wire.FrameStream,
		Metadata: metadata,
	}
	if err := s.writeFrame(&frame); err != nil {
		s.unregister(id)
		errCh <- err
		close(out)
		return out, errCh
	}

	go func() {
		defer s.unregister(id)
		defer close(out)
		for {
			select {
			case reply := <-ch:
				switch reply.Kind {
				case wire.FramePayload:
					select {
					case out <- reply.Data:
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case <-s.done:
						errCh <- ErrSessionClosed
						return
					}
				case wire.FrameComplete:
					return
				case wire.FrameError:
					errCh <- fmt.Errorf("server error: %s", reply.Error)
					return
				}
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-s.done:
				errCh <- ErrSessionClosed
				return
			}
		}
	}()

	return out, errCh
}
