package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"palaver/internal/models"
	"palaver/internal/wire"
)

const (
	routeSend   = "chat.send"
	routeStream = "chat.stream"
)

var ErrNotAuthenticated = errors.New("user not authenticated")

// Session is the call surface of an established connection.
type Session interface {
	RequestResponse(ctx context.Context, metadata, data []byte) ([]byte, error)
	RequestStream(ctx context.Context, metadata []byte) (<-chan []byte, <-chan error)
}

// SessionSource hands out the current session, blocking while the
// connection is down. Operations wait for the next handle instead of
// failing with "no connection".
type SessionSource interface {
	Await(ctx context.Context) (Session, error)
}

// Identity is the external auth collaborator. The token is fetched
// fresh per call so a refreshed token is picked up automatically.
type Identity interface {
	GetAccessToken() string
	GetCurrentUserValue() *models.User
}

type sendPayload struct {
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type Config struct {
	Sessions         SessionSource
	Identity         Identity
	StreamRetryDelay time.Duration
	Log              *slog.Logger
}

// Service is the chat core: optimistic sends over request/response and
// one global inbound stream fanned out to all subscribers.
type Service struct {
	cfg Config

	broadcaster *Broadcaster

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	streamActive bool

	now func() time.Time
}

func NewService(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.StreamRetryDelay <= 0 {
		cfg.StreamRetryDelay = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:         cfg,
		broadcaster: NewBroadcaster(),
		ctx:         ctx,
		cancel:      cancel,
		now:         time.Now,
	}
}

// Subscribe attaches a consumer to the message fan-out.
func (s *Service) Subscribe() (<-chan models.Message, func()) {
	return s.broadcaster.Subscribe()
}

// SendMessage constructs the message visible to the caller immediately
// and dispatches the network call in the background. The server
// acknowledgement is logged, never awaited: if the underlying send
// fails the caller has already received a success value. Known
// tradeoff, no rollback.
func (s *Service) SendMessage(conversationID, content, receiverID string) (models.Message, error) {
	user := s.cfg.Identity.GetCurrentUserValue()
	if user == nil {
		return models.Message{}, ErrNotAuthenticated
	}

	now := s.now()
	msg := models.Message{
		ID:             strconv.FormatInt(now.UnixMilli(), 10),
		SenderID:       user.ID,
		SenderName:     user.UserName,
		ReceiverID:     receiverID,
		ConversationID: conversationID,
		Content:        content,
		Type:           models.MessageTypeText,
		Timestamp:      now.UTC().Format(time.RFC3339Nano),
		Reactions:      map[string]int{},
	}

	s.wg.Add(1)
	go s.dispatchSend(msg)

	return msg, nil
}

func (s *Service) dispatchSend(msg models.Message) {
	defer s.wg.Done()

	session, err := s.cfg.Sessions.Await(s.ctx)
	if err != nil {
		s.cfg.Log.Warn("send abandoned, service closing", "message_id", msg.ID)
		return
	}

	metadata, err := wire.BuildMetadata(routeSend, s.cfg.Identity.GetAccessToken())
	if err != nil {
		s.cfg.Log.Error("failed to build send metadata", "error", err)
		return
	}

	data, err := json.Marshal(sendPayload{
		ReceiverID:     msg.ReceiverID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
	})
	if err != nil {
		s.cfg.Log.Error("failed to marshal send payload", "error", err)
		return
	}

	ack, err := session.RequestResponse(s.ctx, metadata, data)
	if err != nil {
		s.cfg.Log.Error("send failed", "message_id", msg.ID, "error", err)
		return
	}

	var acked models.Message
	if err := json.Unmarshal(ack, &acked); err == nil && acked.ID != "" {
		s.cfg.Log.Debug("send acknowledged", "message_id", msg.ID, "server_id", acked.ID)
	} else {
		s.cfg.Log.Debug("send acknowledged", "message_id", msg.ID)
	}
}

// InitializeStream opens the global inbound message stream. Idempotent:
// only one stream is ever active per service lifetime.
func (s *Service) InitializeStream() {
	s.mu.Lock()
	if s.streamActive {
		s.mu.Unlock()
		return
	}
	s.streamActive = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.streamLoop()
}

// streamLoop runs AwaitingSession -> Dispatched -> {Errored, Completed}.
// Errored re-enters AwaitingSession after the fixed delay, so a stream
// error during a connection drop waits for reconnection before
// resuming. Completed is terminal.
func (s *Service) streamLoop() {
	defer s.wg.Done()

	for {
		session, err := s.cfg.Sessions.Await(s.ctx)
		if err != nil {
			return
		}

		metadata, err := wire.BuildMetadata(routeStream, s.cfg.Identity.GetAccessToken())
		if err != nil {
			s.cfg.Log.Error("failed to build stream metadata", "error", err)
			return
		}

		payloads, errCh := session.RequestStream(s.ctx, metadata)
		for data := range payloads {
			var msg models.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				s.cfg.Log.Warn("dropping undecodable stream payload", "error", err)
				continue
			}
			s.broadcaster.Publish(msg)
		}

		// The payload channel closed: either a clean server COMPLETE
		// (terminal) or an error (retry after the fixed delay).
		select {
		case err := <-errCh:
			if s.ctx.Err() != nil {
				return
			}
			s.cfg.Log.Warn("stream error, retrying", "delay", s.cfg.StreamRetryDelay, "error", err)
		default:
			s.cfg.Log.Info("stream completed by server")
			return
		}

		timer := time.NewTimer(s.cfg.StreamRetryDelay)
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Close tears the service down: pending dispatches and the stream loop
// observe the cancelled context, subscribers are detached. Detaching
// happens before the wait because the stream loop may be parked in a
// publish to a subscriber that stopped draining without cancelling;
// closing the broadcaster unblocks it.
func (s *Service) Close() error {
	s.cancel()
	s.broadcaster.Close()
	s.wg.Wait()
	return nil
}
