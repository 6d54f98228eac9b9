package models

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeImage  MessageType = "IMAGE"
	MessageTypeVideo  MessageType = "VIDEO"
	MessageTypeSystem MessageType = "SYSTEM"
)

type ConversationType string

const (
	ConversationTypePrivate ConversationType = "PRIVATE"
	ConversationTypeGroup   ConversationType = "GROUP"
)

// Message is a single chat message. Instances are treated as immutable
// once constructed; display lists replace entries wholesale instead of
// mutating fields in place.
type Message struct {
	ID             string         `json:"id"`
	SenderID       string         `json:"senderId"`
	SenderName     string         `json:"senderName"`
	ReceiverID     string         `json:"receiverId"`
	ConversationID string         `json:"conversationId"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"type"`
	Timestamp      string         `json:"timestamp"` // ISO-8601 / RFC 3339
	Reactions      map[string]int `json:"reactions"`
}

// Time parses the message timestamp. Messages with unparseable
// timestamps sort as the zero time, i.e. before everything else.
func (m Message) Time() time.Time {
	t, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Conversation carries the currently loaded message window for one
// conversation. BucketIndex is the most recent loaded history page;
// a positive index means older pages exist.
type Conversation struct {
	ID             string           `json:"id"`
	ParticipantIDs []string         `json:"participantIds"`
	Type           ConversationType `json:"type"`
	UpdatedAt      string           `json:"updatedAt"`
	LastMessage    *Message         `json:"lastMessage,omitempty"`
	Messages       []Message        `json:"messages"`
	BucketIndex    int              `json:"bucketIndex"`
}

// ConversationSummary is the lightweight projection used by the
// conversation list. It never carries the full message window.
type ConversationSummary struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Type            ConversationType `json:"type"`
	UpdatedAt       string           `json:"updatedAt"`
	LastMessage     *Message         `json:"lastMessage,omitempty"`
	LastBucketIndex int              `json:"lastBucketIndex"`
}

// MessageBucket is the unit of history pagination. Buckets are indexed
// from newest (index N) down to oldest (index 0).
type MessageBucket struct {
	Messages    []Message `json:"messages"`
	BucketIndex int       `json:"bucketIndex"`
}

// MergeBucket merges an older history bucket into the loaded window.
// The result is ascending by timestamp with duplicates (by id) removed,
// and BucketIndex updated to the bucket's own index. Ordering never
// relies on arrival order across the history/live boundary.
func (c *Conversation) MergeBucket(bucket MessageBucket) {
	seen := make(map[string]bool, len(c.Messages)+len(bucket.Messages))
	merged := make([]Message, 0, len(c.Messages)+len(bucket.Messages))

	for _, msg := range bucket.Messages {
		if msg.ID != "" && seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		merged = append(merged, msg)
	}
	for _, msg := range c.Messages {
		if msg.ID != "" && seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		merged = append(merged, msg)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Time().Before(merged[j].Time())
	})

	c.Messages = merged
	c.BucketIndex = bucket.BucketIndex
}

// SortMessages orders the loaded window ascending by timestamp.
// Conversations fetched over HTTP do not guarantee order.
func (c *Conversation) SortMessages() {
	sort.SliceStable(c.Messages, func(i, j int) bool {
		return c.Messages[i].Time().Before(c.Messages[j].Time())
	})
}

// User is the authenticated identity handed to the chat core by the
// identity collaborator.
type User struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
}
