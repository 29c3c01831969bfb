package convex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nexus/internal/broadcast"
	nexuserrors "nexus/internal/errors"
	"nexus/internal/httpclient"
	"nexus/internal/logging"
)

const responseBodyLimit = 4 * 1024 * 1024

// Client talks to the Convex HTTP API that backs conversations and messages.
// It implements broadcast.MessageRepository so the session manager can write
// through it.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient builds a Convex client for the given deployment URL. Requests
// run behind a circuit breaker so a struggling deployment is backed off
// instead of hammered.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger logging.Logger) *Client {
	logger = logging.OrNop(logger)
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpclient.NewWithCircuitBreaker(timeout, logger, "convex"),
		logger:     logger,
	}
}

// BaseURL returns the configured deployment URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Conversation is one chat thread as stored in Convex.
type Conversation struct {
	ID         string `json:"_id"`
	Title      string `json:"title,omitempty"`
	IsArchived bool   `json:"isArchived"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// StoredMessage is the wire shape of one persisted chat message. Assistant
// messages carry the panel and broadcast that produced them so a client can
// reconcile streamed text against the durable record.
type StoredMessage struct {
	ID             string `json:"_id,omitempty"`
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	PanelID        string `json:"panelId,omitempty"`
	BroadcastID    string `json:"broadcastId,omitempty"`
	IsComplete     bool   `json:"isComplete"`
	CreatedAt      int64  `json:"createdAt"`
}

// ListConversations lists conversations, newest first.
func (c *Client) ListConversations(ctx context.Context, limit int, includeArchived bool) ([]Conversation, error) {
	path := fmt.Sprintf("/chatnexus/conversations?limit=%d&includeArchived=%t", limit, includeArchived)
	var conversations []Conversation
	err := c.doRequest(ctx, http.MethodGet, path, nil, &conversations)
	return conversations, err
}

// GetConversation fetches one conversation by id.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.doRequest(ctx, http.MethodGet, "/chatnexus/conversation?id="+url.QueryEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateConversation creates a conversation and returns its id.
func (c *Client) CreateConversation(ctx context.Context, title string) (string, error) {
	req := struct {
		Title string `json:"title,omitempty"`
	}{Title: title}
	var result struct {
		ID string `json:"id"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/chatnexus/conversations", req, &result)
	return result.ID, err
}

// ArchiveConversation marks a conversation archived.
func (c *Client) ArchiveConversation(ctx context.Context, id string) error {
	req := struct {
		IsArchived bool `json:"isArchived"`
	}{IsArchived: true}
	return c.doRequest(ctx, http.MethodPut, "/chatnexus/conversation?id="+url.QueryEscape(id), req, nil)
}

// DeleteConversation deletes a conversation and all its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/chatnexus/conversation?id="+url.QueryEscape(id), nil, nil)
}

// GetMessages fetches messages for a conversation in creation order.
func (c *Client) GetMessages(ctx context.Context, conversationID string, limit int) ([]StoredMessage, error) {
	path := fmt.Sprintf("/chatnexus/messages?conversationId=%s&limit=%d", url.QueryEscape(conversationID), limit)
	var messages []StoredMessage
	err := c.doRequest(ctx, http.MethodGet, path, nil, &messages)
	return messages, err
}

// AddMessage appends a message to a conversation and returns its id.
func (c *Client) AddMessage(ctx context.Context, msg StoredMessage) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/chatnexus/messages", msg, &result)
	return result.ID, err
}

// SaveMessage implements broadcast.MessageRepository.
func (c *Client) SaveMessage(ctx context.Context, msg broadcast.Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := c.AddMessage(ctx, StoredMessage{
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		PanelID:        msg.PanelID,
		BroadcastID:    msg.BroadcastID,
		IsComplete:     msg.IsComplete,
		CreatedAt:      createdAt.UnixMilli(),
	})
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Convex %s %s", method, path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("convex request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, responseBodyLimit)
	if err != nil {
		return fmt.Errorf("read convex response: %w", err)
	}

	if resp.StatusCode >= 400 {
		// The API wraps failures as {"error": "..."}; prefer that message
		// over the raw body when present.
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nexuserrors.FromHTTPStatus(resp.StatusCode, []byte(errResp.Error))
		}
		return nexuserrors.FromHTTPStatus(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("parse convex response: %w", err)
		}
	}
	return nil
}
