// Package wire defines the client side of the messaging wire protocol:
// a msgpack frame envelope multiplexing calls over one websocket, with
// JSON-encoded call payloads and a composite metadata blob carrying the
// routing key and bearer authentication for every call.
package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type FrameKind uint8

const (
	FrameSetup FrameKind = iota + 1
	FrameKeepAlive
	// FrameRequest opens a request/response call; the server answers
	// with exactly one PAYLOAD or one ERROR on the same stream id.
	FrameRequest
	// FrameStream opens a request/stream call with unbounded demand;
	// the server pushes PAYLOAD frames until COMPLETE or ERROR.
	FrameStream
	FramePayload
	FrameComplete
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameSetup:
		return "SETUP"
	case FrameKeepAlive:
		return "KEEPALIVE"
	case FrameRequest:
		return "REQUEST"
	case FrameStream:
		return "STREAM"
	case FramePayload:
		return "PAYLOAD"
	case FrameComplete:
		return "COMPLETE"
	case FrameError:
		return "ERROR"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
}

// Frame is the envelope for every websocket message. Data carries the
// JSON-encoded call payload; Metadata carries the composite blob built
// by BuildMetadata. Control frames (SETUP, KEEPALIVE) use stream id 0.
type Frame struct {
	StreamID uint32    `msgpack:"streamId"`
	Kind     FrameKind `msgpack:"kind"`
	Metadata []byte    `msgpack:"metadata,omitempty"`
	Data     []byte    `msgpack:"data,omitempty"`
	Error    string    `msgpack:"error,omitempty"`
}

func (f *Frame) MarshalBinary() ([]byte, error) {
	type alias Frame
	return msgpack.Marshal((*alias)(f))
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	type alias Frame
	return msgpack.Unmarshal(data, (*alias)(f))
}

// Setup is the connection configuration sent as the first frame of
// every session.
type Setup struct {
	SessionID       string `msgpack:"sessionId"`
	KeepAliveMillis int64  `msgpack:"keepAliveMillis"`
	LifetimeMillis  int64  `msgpack:"lifetimeMillis"`
	DataEncoding    string `msgpack:"dataEncoding"`
}

func (s *Setup) MarshalBinary() ([]byte, error) {
	type alias Setup
	return msgpack.Marshal((*alias)(s))
}

func (s *Setup) UnmarshalBinary(data []byte) error {
	type alias Setup
	return msgpack.Unmarshal(data, (*alias)(s))
}

// Metadata is the per-call routing and authentication block. The
// backend demultiplexes by Route and authenticates each call
// independently from BearerToken.
type Metadata struct {
	Route       string `msgpack:"route"`
	BearerToken string `msgpack:"bearerToken"`
}

// BuildMetadata packs the routing key and bearer token into one
// composite blob. Deterministic: identical inputs yield identical
// bytes. Never blocks; the token must already be in hand.
func BuildMetadata(route, token string) ([]byte, error) {
	if route == "" {
		return nil, fmt.Errorf("metadata route is required")
	}
	md := Metadata{Route: route, BearerToken: token}
	data, err := msgpack.Marshal(&md)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return data, nil
}

// ParseMetadata unpacks a composite metadata blob.
func ParseMetadata(data []byte) (Metadata, error) {
	var md Metadata
	if err := msgpack.Unmarshal(data, &md); err != nil {
		return Metadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return md, nil
}
