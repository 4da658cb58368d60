package chatapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kangarko/inbox-engine/internal/source"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAdapter(server.URL, "test-token", "chat", 2)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encoding response: %v", err)
	}
}

func TestSearch_FollowsPagination(t *testing.T) {
	var gotAuth string
	adapter := newTestAdapter(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")

			page := MessagePage{}
			switch r.URL.Query().Get("cursor") {
			case "":
				page.Data = []Message{
					{ID: "m1", From: Participant{ID: "alice"}},
					{ID: "m2", From: Participant{ID: "alice"}},
				}
				page.Paging.Next = "page2"
			case "page2":
				page.Data = []Message{
					{ID: "m3", From: Participant{ID: "bob"}},
				}
			default:
				t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
			}
			writeJSON(t, w, page)
		},
	))

	handles, err := adapter.Search(context.Background(), source.Criteria{
		MatchField: source.MatchFrom,
		Value:      "alice",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if len(handles) != 2 {
		t.Fatalf("expected 2 matching handles, got %v", handles)
	}
	if handles[0] != "m1" || handles[1] != "m2" {
		t.Errorf("unexpected handles: %v", handles)
	}
}

func TestSearch_MidPaginationErrorReturnsPartial(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			page := MessagePage{}
			switch r.URL.Query().Get("cursor") {
			case "":
				page.Data = []Message{
					{ID: "m1", From: Participant{ID: "alice"}},
				}
				page.Paging.Next = "page2"
			default:
				page.Error = &APIError{
					Code: 500, Type: "server_error", Message: "shard down",
				}
			}
			writeJSON(t, w, page)
		},
	))

	handles, err := adapter.Search(context.Background(), source.Criteria{
		MatchField: source.MatchFrom,
		Value:      "alice",
	})

	if !source.IsPartial(err) {
		t.Fatalf("expected partial-page error, got %v", err)
	}
	if len(handles) != 1 || handles[0] != "m1" {
		t.Errorf("first page results should be kept: %v", handles)
	}
}

func TestSearch_FirstPageErrorPropagates(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, MessagePage{
				Error: &APIError{Code: 500, Type: "server_error", Message: "down"},
			})
		},
	))

	handles, err := adapter.Search(context.Background(), source.Criteria{
		MatchField: source.MatchFrom,
		Value:      "alice",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if source.IsPartial(err) {
		t.Errorf("first-page failure must not be partial: %v", err)
	}
	if len(handles) != 0 {
		t.Errorf("expected no handles, got %v", handles)
	}
}

func TestSearch_Unauthorized(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
	))

	_, err := adapter.Search(context.Background(), source.Criteria{
		MatchField: source.MatchFrom,
		Value:      "alice",
	})
	if !source.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestSearch_NotFoundIsUnavailable(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
	))

	_, err := adapter.Search(context.Background(), source.Criteria{
		MatchField: source.MatchFrom,
		Value:      "alice",
	})
	if !source.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestSearch_MatchToFiltersRecipients(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, MessagePage{Data: []Message{
				{ID: "m1", To: []Participant{{ID: "operator"}}},
				{ID: "m2", To: []Participant{{ID: "someone-else"}}},
				// Platform ids are case-sensitive.
				{ID: "m3", To: []Participant{{ID: "Operator"}}},
			}})
		},
	))

	handles, err := adapter.Search(context.Background(), source.Criteria{
		MatchField: source.MatchTo,
		Value:      "operator",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(handles) != 1 || handles[0] != "m1" {
		t.Errorf("expected only m1, got %v", handles)
	}
}

func TestFetchBatch_MapsMessages(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("ids") != "m1,m2" {
				t.Errorf("ids = %q", r.URL.Query().Get("ids"))
			}
			writeJSON(t, w, MessageBatch{Data: []Message{
				{
					ID:        "m1",
					From:      Participant{ID: "alice", Name: "Alice"},
					To:        []Participant{{ID: "operator"}},
					Text:      "hola",
					CreatedAt: 1700000000000,
					Read:      true,
				},
				// m2 omitted by the platform.
			}})
		},
	))

	messages, err := adapter.FetchBatch(
		context.Background(), []source.Handle{"m1", "m2"},
	)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}

	if len(messages) != 1 {
		t.Fatalf("expected 1 message (omitted records dropped), got %d", len(messages))
	}

	msg := messages[0]
	if msg.SourceName != "chat" {
		t.Errorf("SourceName = %q", msg.SourceName)
	}
	if msg.StableMessageID != "m1" || msg.SourceMessageID != "m1" {
		t.Errorf("platform id should be both ids: %+v", msg)
	}
	if msg.Sender.Addr != "alice" || msg.Sender.Name != "Alice" {
		t.Errorf("unexpected sender: %+v", msg.Sender)
	}
	if msg.BodyText != "hola" || msg.SubjectOrSnippet != "hola" {
		t.Errorf("text/snippet mapping: %+v", msg)
	}
	if msg.Timestamp.UnixMilli() != 1700000000000 {
		t.Errorf("timestamp = %v", msg.Timestamp)
	}
	if !msg.Read {
		t.Error("read flag lost")
	}
}

func TestFetchBatch_Empty(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(
		func(_ http.ResponseWriter, _ *http.Request) {
			t.Error("no request expected for an empty handle list")
		},
	))

	messages, err := adapter.FetchBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if messages != nil {
		t.Errorf("expected nil, got %v", messages)
	}
}

func TestGet_RetriesOnRateLimit(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			attempts++
			if attempts == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeJSON(t, w, MessagePage{Data: []Message{{ID: "m1"}}})
		},
	))
	defer server.Close()

	client := NewClient(server.URL, "token", "chat")
	var page MessagePage
	if err := client.Get(context.Background(), "/v1/anything", &page); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if len(page.Data) != 1 {
		t.Errorf("unexpected page: %+v", page)
	}
}
