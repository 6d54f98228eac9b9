// Package rest implements the conversation/history data access: plain
// request/response HTTP against the chat-service, never touching the
// streaming connection. Errors are surfaced to the caller unmodified;
// the UI layer decides how to present them.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"palaver/internal/models"
)

const basePath = "/chat-service"

// TokenSource supplies the bearer token per request so refreshed
// tokens are picked up automatically.
type TokenSource interface {
	GetAccessToken() string
}

// StatusError is a non-2xx response, passed through verbatim.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat-service returned %d: %s", e.Code, e.Body)
}

type Client struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + basePath,
		tokens:  tokens,
		client:  &http.Client{},
	}
}

// GetConversation fetches or creates the private conversation with the
// given counterpart.
func (c *Client) GetConversation(ctx context.Context, friendID string) (models.Conversation, error) {
	query := url.Values{"friendId": {friendID}}
	var conv models.Conversation
	if err := c.get(ctx, "/conversations", query, &conv); err != nil {
		return models.Conversation{}, err
	}
	conv.SortMessages()
	return conv, nil
}

// GetAllConversations fetches the current user's conversation list.
func (c *Client) GetAllConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var summaries []models.ConversationSummary
	if err := c.get(ctx, "/conversations/all", nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetConversationByID fetches a conversation including its most recent
// message bucket.
func (c *Client) GetConversationByID(ctx context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	if err := c.get(ctx, "/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return models.Conversation{}, err
	}
	conv.SortMessages()
	return conv, nil
}

// GetMessages fetches one older history bucket for a conversation.
func (c *Client) GetMessages(ctx context.Context, conversationID string, bucketIndex int) (models.MessageBucket, error) {
	query := url.Values{"bucketIndex": {strconv.Itoa(bucketIndex)}}
	var bucket models.MessageBucket
	if err := c.get(ctx, "/conversations/"+url.PathEscape(conversationID)+"/loadMessages", query, &bucket); err != nil {
		return models.MessageBucket{}, err
	}
	return bucket, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if token := c.tokens.GetAccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
