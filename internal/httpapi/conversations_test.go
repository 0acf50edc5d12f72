package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"kirakira/backend/internal/store"
)

func TestListConversationsIncludesRemainingTime(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{})
	user := seedUser(t, handler, "list@example.com")
	character := seedCharacter(t, handler, user.ID, "Aria", store.VisibilityPublic)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler.now = func() time.Time { return now }

	fresh := handler.store.WithClock(func() time.Time { return now.Add(-90 * time.Minute) })
	if _, err := fresh.CreateConversation(context.Background(), user.ID, character.ID, "fresh"); err != nil {
		t.Fatalf("create fresh conversation: %v", err)
	}
	stale := handler.store.WithClock(func() time.Time { return now.Add(-80 * time.Hour) })
	if _, err := stale.CreateConversation(context.Background(), user.ID, character.ID, "stale"); err != nil {
		t.Fatalf("create stale conversation: %v", err)
	}

	resp := serve(t, handler, http.MethodGet, "/api/conversations", "", sessionCookie(t, handler, user))
	expectStatus(t, resp, http.StatusOK)

	var body struct {
		Conversations []conversationView `json:"conversations"`
	}
	decodeJSONBody(t, resp, &body)
	if len(body.Conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(body.Conversations))
	}

	byTitle := map[string]conversationView{}
	for _, c := range body.Conversations {
		byTitle[c.Title] = c
	}
	if got := byTitle["fresh"].RemainingTime; got != (remainingTime{Hours: 70, Minutes: 30}) {
		t.Fatalf("unexpected remaining time for fresh: %+v", got)
	}
	if got := byTitle["stale"].RemainingTime; !got.Expired || got.Hours != 0 || got.Minutes != 0 {
		t.Fatalf("unexpected remaining time for stale: %+v", got)
	}
	if byTitle["fresh"].Character.Name != "Aria" {
		t.Fatalf("unexpected character summary: %+v", byTitle["fresh"].Character)
	}
}

func TestCountConversations(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{})
	user := seedUser(t, handler, "count@example.com")
	character := seedCharacter(t, handler, user.ID, "Aria", store.VisibilityPublic)
	if _, err := handler.store.CreateConversation(context.Background(), user.ID, character.ID, "chat"); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	resp := serve(t, handler, http.MethodGet, "/api/conversations/count", "", sessionCookie(t, handler, user))
	expectStatus(t, resp, http.StatusOK)

	var body map[string]int
	decodeJSONBody(t, resp, &body)
	if body["count"] != 1 || body["limit"] != 10 {
		t.Fatalf("unexpected count body: %v", body)
	}
}

func TestDeleteConversationChecksOwner(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{})
	owner := seedUser(t, handler, "owner@example.com")
	other := seedUser(t, handler, "other@example.com")
	character := seedCharacter(t, handler, owner.ID, "Aria", store.VisibilityPublic)
	conversation, err := handler.store.CreateConversation(context.Background(), owner.ID, character.ID, "chat")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	missing := serve(t, handler, http.MethodDelete, "/api/conversations/nope", "", sessionCookie(t, handler, owner))
	expectStatus(t, missing, http.StatusNotFound)

	forbidden := serve(t, handler, http.MethodDelete, "/api/conversations/"+conversation.ID, "", sessionCookie(t, handler, other))
	expectStatus(t, forbidden, http.StatusForbidden)

	deleted := serve(t, handler, http.MethodDelete, "/api/conversations/"+conversation.ID, "", sessionCookie(t, handler, owner))
	expectStatus(t, deleted, http.StatusOK)

	count, err := handler.store.CountConversations(context.Background(), owner.ID)
	if err != nil {
		t.Fatalf("count conversations: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected conversation to be deleted, got %d", count)
	}
}

func TestCleanupExpiredConversations(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{})
	user := seedUser(t, handler, "cleanup@example.com")
	character := seedCharacter(t, handler, user.ID, "Aria", store.VisibilityPublic)

	old := handler.store.WithClock(func() time.Time { return time.Now().Add(-73 * time.Hour) })
	if _, err := old.CreateConversation(context.Background(), user.ID, character.ID, "old"); err != nil {
		t.Fatalf("create old conversation: %v", err)
	}
	if _, err := handler.store.CreateConversation(context.Background(), user.ID, character.ID, "new"); err != nil {
		t.Fatalf("create new conversation: %v", err)
	}

	resp := serve(t, handler, http.MethodDelete, "/api/conversations/cleanup/expired", "", sessionCookie(t, handler, user))
	expectStatus(t, resp, http.StatusOK)

	var body struct {
		Success bool  `json:"success"`
		Deleted int64 `json:"deleted"`
	}
	decodeJSONBody(t, resp, &body)
	if !body.Success || body.Deleted != 1 {
		t.Fatalf("unexpected cleanup body: %+v", body)
	}

	remaining, err := handler.store.ListConversations(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Title != "new" {
		t.Fatalf("unexpected remaining conversations: %+v", remaining)
	}
}

func TestRemainingUntilExpiry(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := remainingUntilExpiry(created, created); got != (remainingTime{Hours: 72}) {
		t.Fatalf("unexpected remaining at creation: %+v", got)
	}
	if got := remainingUntilExpiry(created, created.Add(71*time.Hour+59*time.Minute+30*time.Second)); got != (remainingTime{Minutes: 0}) {
		t.Fatalf("unexpected remaining near expiry: %+v", got)
	}
	if got := remainingUntilExpiry(created, created.Add(ConversationTTL)); !got.Expired {
		t.Fatalf("expected expiry at ttl, got %+v", got)
	}
}
