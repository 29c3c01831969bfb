package convex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nexus/internal/broadcast"
	nexuserrors "nexus/internal/errors"
)

func TestClientSendsAPIKey(t *testing.T) {
	t.Parallel()

	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key", 5*time.Second, nil)
	if _, err := client.ListConversations(context.Background(), 10, false); err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotKey != "secret-key" {
		t.Fatalf("api key = %q", gotKey)
	}
}

func TestClientSaveMessageWireShape(t *testing.T) {
	t.Parallel()

	var got StoredMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chatnexus/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", 5*time.Second, nil)
	msg := broadcast.Message{
		ConversationID: "conv-1",
		Role:           broadcast.RoleUser,
		Content:        "hello",
		BroadcastID:    "b-1",
		IsComplete:     true,
		CreatedAt:      time.UnixMilli(1700000000000),
	}
	if err := client.SaveMessage(context.Background(), msg); err != nil {
		t.Fatalf("save: %v", err)
	}

	if got.ConversationID != "conv-1" || got.Role != "user" || got.Content != "hello" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if got.BroadcastID != "b-1" || !got.IsComplete || got.CreatedAt != 1700000000000 {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestClientGetMessages(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("conversationId") != "conv-1" {
			t.Errorf("conversationId = %q", r.URL.Query().Get("conversationId"))
		}
		_, _ = w.Write([]byte(`[
			{"_id":"m1","conversationId":"conv-1","role":"user","content":"hi","isComplete":true,"createdAt":1},
			{"_id":"m2","conversationId":"conv-1","role":"assistant","content":"hello","panelId":"p1","broadcastId":"b1","isComplete":true,"createdAt":2}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", 5*time.Second, nil)
	msgs, err := client.GetMessages(context.Background(), "conv-1", 50)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[1].PanelID != "p1" || msgs[1].BroadcastID != "b1" {
		t.Fatalf("assistant message lost panel attribution: %+v", msgs[1])
	}
}

func TestClientClassifiesErrorResponses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, true},
		{"rate limited", http.StatusTooManyRequests, `slow down`, true},
		{"bad request", http.StatusBadRequest, `{"error":"missing conversationId"}`, false},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "k", 5*time.Second, nil)
			_, err := client.GetConversation(context.Background(), "conv-1")
			if err == nil {
				t.Fatal("expected error")
			}
			if nexuserrors.IsTransient(err) != tc.transient {
				t.Fatalf("IsTransient = %v, want %v (err: %v)", !tc.transient, tc.transient, err)
			}
		})
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	convID, err := store.CreateConversation(ctx, "first chat")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i, content := range []string{"one", "two", "three"} {
		msg := broadcast.Message{
			ConversationID: convID,
			Role:           broadcast.RoleUser,
			Content:        content,
			BroadcastID:    "b-1",
			IsComplete:     true,
			CreatedAt:      time.UnixMilli(int64(i + 1)),
		}
		if err := store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	msgs, err := store.GetMessages(ctx, convID, 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "two" || msgs[1].Content != "three" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	convs, err := store.ListConversations(ctx, 10, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 1 || convs[0].Title != "first chat" {
		t.Fatalf("unexpected conversations: %+v", convs)
	}
}
