package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"palaver/internal/models"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func archived(id string, minute int) models.Message {
	return models.Message{
		ID:             id,
		SenderID:       "u1",
		ConversationID: "conv1",
		Content:        "msg " + id,
		Type:           models.MessageTypeText,
		Timestamp:      time.Date(2026, 3, 1, 12, minute, 0, 0, time.UTC).Format(time.RFC3339),
	}
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	// Record out of order; Recent must come back ascending.
	require.NoError(t, s.Record(archived("m3", 3)))
	require.NoError(t, s.Record(archived("m1", 1)))
	require.NoError(t, s.Record(archived("m2", 2)))

	messages, err := s.Recent("conv1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, id := range []string{"m1", "m2", "m3"} {
		require.Equal(t, id, messages[i].ID)
	}
	require.Equal(t, "msg m1", messages[0].Content)
	require.Equal(t, models.MessageTypeText, messages[0].Type)
}

func TestStore_RecentLimit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Record(archived(fmt.Sprintf("m%d", i), i)))
	}

	messages, err := s.Recent("conv1", 3)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	// The newest three, ascending.
	for i, id := range []string{"m7", "m8", "m9"} {
		require.Equal(t, id, messages[i].ID)
	}
}

func TestStore_RecordIdempotent(t *testing.T) {
	s := openTestStore(t)

	msg := archived("m1", 1)
	require.NoError(t, s.Record(msg))
	require.NoError(t, s.Record(msg)) // optimistic copy + fan-out delivery

	messages, err := s.Recent("conv1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestStore_MissingConversation(t *testing.T) {
	s := openTestStore(t)

	messages, err := s.Recent("nowhere", 10)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestStore_RecordRequiresConversation(t *testing.T) {
	s := openTestStore(t)
	require.Error(t, s.Record(models.Message{ID: "m1"}))
}

func TestStore_Conversations(t *testing.T) {
	s := openTestStore(t)

	msg := archived("m1", 1)
	require.NoError(t, s.Record(msg))
	other := archived("m2", 2)
	other.ConversationID = "conv2"
	require.NoError(t, s.Record(other))

	ids, err := s.Conversations()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"conv1", "conv2"}, ids)
}
