package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"kirakira/backend/internal/gemini"
	"kirakira/backend/internal/quota"
	"kirakira/backend/internal/store"
)

func TestRegisterLoginCreateCharacterAndChat(t *testing.T) {
	var captured gemini.ChatRequest
	handler, _ := newTestHandler(t, stubStreamer{
		tokens:    []string{"안녕, ", "Mina!"},
		onRequest: func(req gemini.ChatRequest) { captured = req },
	})

	register := serve(t, handler, http.MethodPost, "/api/auth/register",
		`{"name":"Mina","email":"mina@example.com","password":"secret-pass"}`, nil)
	expectStatus(t, register, http.StatusCreated)

	login := serve(t, handler, http.MethodPost, "/api/auth/login",
		`{"email":"mina@example.com","password":"secret-pass"}`, nil)
	expectStatus(t, login, http.StatusOK)
	cookie := login.Result().Cookies()[0]

	created := serve(t, handler, http.MethodPost, "/api/characters", ariaJSON, cookie)
	expectStatus(t, created, http.StatusCreated)
	var createdBody struct {
		Character characterView `json:"character"`
	}
	decodeJSONBody(t, created, &createdBody)

	chat := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"message":"hello"}`, createdBody.Character.ID), cookie)
	expectStatus(t, chat, http.StatusOK)
	if ct := chat.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := sseEvents(t, chat.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 frames, got %d: %s", len(events), chat.Body.String())
	}
	if events[0]["text"] != "안녕, " || events[1]["text"] != "Mina!" {
		t.Fatalf("unexpected text frames: %v", events[:2])
	}
	if events[2]["done"] != true {
		t.Fatalf("expected done frame, got %v", events[2])
	}
	conversationID, _ := events[2]["conversationId"].(string)
	if conversationID == "" {
		t.Fatalf("done frame missing conversation id: %v", events[2])
	}

	if captured.UserName != "Mina" || captured.Character.Name != "Aria" || captured.Model != "gemini-2.5-flash" {
		t.Fatalf("unexpected upstream request: %+v", captured)
	}

	messages := serve(t, handler, http.MethodGet, "/api/chat/"+conversationID+"/messages", "", cookie)
	expectStatus(t, messages, http.StatusOK)
	var body struct {
		Messages []store.Message `json:"messages"`
	}
	decodeJSONBody(t, messages, &body)
	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(body.Messages))
	}
	if body.Messages[0].Role != store.RoleUser || body.Messages[0].Content != "hello" {
		t.Fatalf("unexpected user message: %+v", body.Messages[0])
	}
	if body.Messages[1].Role != store.RoleAssistant || body.Messages[1].Content != "안녕, Mina!" {
		t.Fatalf("unexpected assistant message: %+v", body.Messages[1])
	}

	conversation, err := handler.store.ConversationByID(context.Background(), conversationID)
	if err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	if conversation.Title != "Aria와의 대화" {
		t.Fatalf("unexpected title %q", conversation.Title)
	}
}

func TestChatRejectsWhenDailyLimitReached(t *testing.T) {
	called := false
	handler, x := newTestHandler(t, stubStreamer{
		tokens:    []string{"nope"},
		onRequest: func(gemini.ChatRequest) { called = true },
	})
	user := seedUser(t, handler, "heavy@example.com")
	character := seedCharacter(t, handler, user.ID, "Aria", store.VisibilityPublic)
	seedUsage(t, x, user.ID, quota.ModelFlash, 300)

	resp := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"message":"hi"}`, character.ID), sessionCookie(t, handler, user))
	expectStatus(t, resp, http.StatusTooManyRequests)

	var body usageLimitResponse
	decodeJSONBody(t, resp, &body)
	if !body.UsageLimitExceeded || body.Error != "Daily limit exceeded" {
		t.Fatalf("unexpected limit body: %+v", body)
	}
	if body.Message != "일일 사용량을 초과했습니다. (gemini-2.5-flash: 300회)" {
		t.Fatalf("unexpected limit message %q", body.Message)
	}
	if called {
		t.Fatal("upstream must not be called once the limit is reached")
	}

	used, err := handler.store.CountUsageSince(context.Background(), user.ID, quota.ModelFlash, quota.DayStart(time.Now()))
	if err != nil {
		t.Fatalf("count usage: %v", err)
	}
	if used != 300 {
		t.Fatalf("expected usage to stay at 300, got %d", used)
	}

	count, err := handler.store.CountConversations(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("count conversations: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no conversation to be created, got %d", count)
	}
}

func TestChatModelTiersHaveSeparateLimits(t *testing.T) {
	var models []string
	handler, x := newTestHandler(t, stubStreamer{
		tokens:    []string{"ok"},
		onRequest: func(req gemini.ChatRequest) { models = append(models, req.Model) },
	})
	user := seedUser(t, handler, "tiers@example.com")
	character := seedCharacter(t, handler, user.ID, "Aria", store.VisibilityPublic)
	seedUsage(t, x, user.ID, quota.ModelFlash3, 30)
	cookie := sessionCookie(t, handler, user)

	blocked := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"message":"hi","model":"gemini-3-flash"}`, character.ID), cookie)
	expectStatus(t, blocked, http.StatusTooManyRequests)

	fallback := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"message":"hi","model":"gpt-4"}`, character.ID), cookie)
	expectStatus(t, fallback, http.StatusOK)

	if len(models) != 1 || models[0] != "gemini-2.5-flash" {
		t.Fatalf("expected unknown model to use default tier, got %v", models)
	}
}

func TestChatUsesPreviewModelForFlash3(t *testing.T) {
	var captured gemini.ChatRequest
	handler, _ := newTestHandler(t, stubStreamer{
		tokens:    []string{"ok"},
		onRequest: func(req gemini.ChatRequest) { captured = req },
	})
	user := seedUser(t, handler, "flash3@example.com")
	character := seedCharacter(t, handler, user.ID, "Aria", store.VisibilityPublic)

	resp := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"message":"hi","model":"gemini-3-flash"}`, character.ID), sessionCookie(t, handler, user))
	expectStatus(t, resp, http.StatusOK)

	if captured.Model != "gemini-3-flash-preview" {
		t.Fatalf("unexpected api model %q", captured.Model)
	}
	usage, err := handler.store.UsageSince(context.Background(), user.ID, quota.DayStart(time.Now()))
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage[quota.ModelFlash3] != 1 || usage[quota.ModelFlash] != 0 {
		t.Fatalf("unexpected usage: %v", usage)
	}
}

func TestChatEnforcesConversationLimit(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{tokens: []string{"hi"}})
	user := seedUser(t, handler, "busy@example.com")
	character := seedCharacter(t, handler, user.ID, "Aria", store.VisibilityPublic)
	for i := 0; i < store.MaxConversationsPerUser; i++ {
		if _, err := handler.store.CreateConversation(context.Background(), user.ID, character.ID, "chat"); err != nil {
			t.Fatalf("create conversation %d: %v", i, err)
		}
	}

	resp := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"message":"one more"}`, character.ID), sessionCookie(t, handler, user))
	expectStatus(t, resp, http.StatusBadRequest)

	var body errorResponse
	decodeJSONBody(t, resp, &body)
	if body.Error != "Conversation limit exceeded" || body.Message != "최대 10개까지만 대화를 생성할 수 있습니다." {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestChatRejectsUnknownCharacterAndForeignConversation(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{tokens: []string{"hi"}})
	owner := seedUser(t, handler, "owner@example.com")
	intruder := seedUser(t, handler, "intruder@example.com")
	character := seedCharacter(t, handler, owner.ID, "Aria", store.VisibilityPublic)
	conversation, err := handler.store.CreateConversation(context.Background(), owner.ID, character.ID, "mine")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	cookie := sessionCookie(t, handler, intruder)

	unknown := serve(t, handler, http.MethodPost, "/api/chat", `{"characterId":"missing","message":"hi"}`, cookie)
	expectStatus(t, unknown, http.StatusNotFound)

	foreign := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"conversationId":%q,"message":"hi"}`, character.ID, conversation.ID), cookie)
	expectStatus(t, foreign, http.StatusNotFound)

	messages := serve(t, handler, http.MethodGet, "/api/chat/"+conversation.ID+"/messages", "", cookie)
	expectStatus(t, messages, http.StatusNotFound)
}

func TestChatUpstreamFailureBeforeFirstChunkReturnsJSON(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{err: errors.New("upstream down")})
	user := seedUser(t, handler, "fail@example.com")
	character := seedCharacter(t, handler, user.ID, "Aria", store.VisibilityPublic)

	resp := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"message":"hi"}`, character.ID), sessionCookie(t, handler, user))
	expectStatus(t, resp, http.StatusInternalServerError)
	if !strings.HasPrefix(resp.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("expected JSON error, got %q", resp.Header().Get("Content-Type"))
	}

	usage, err := handler.store.UsageSince(context.Background(), user.ID, quota.DayStart(time.Now()))
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if len(usage) != 0 {
		t.Fatalf("failed turn must not record usage, got %v", usage)
	}
}

func TestChatUpstreamFailureMidStreamEndsWithoutDone(t *testing.T) {
	handler, _ := newTestHandler(t, stubStreamer{tokens: []string{"partial"}, err: errors.New("reset")})
	user := seedUser(t, handler, "mid@example.com")
	character := seedCharacter(t, handler, user.ID, "Aria", store.VisibilityPublic)

	resp := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"message":"hi"}`, character.ID), sessionCookie(t, handler, user))
	expectStatus(t, resp, http.StatusOK)

	events := sseEvents(t, resp.Body.String())
	if len(events) != 1 || events[0]["text"] != "partial" {
		t.Fatalf("unexpected frames: %v", events)
	}

	conversations, err := handler.store.ListConversations(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(conversations) != 1 || conversations[0].MessageCount != 0 {
		t.Fatalf("expected an empty conversation, got %+v", conversations)
	}
}

func TestChatLoadsHistoryWhenNotProvided(t *testing.T) {
	var captured gemini.ChatRequest
	handler, _ := newTestHandler(t, stubStreamer{
		tokens:    []string{"again"},
		onRequest: func(req gemini.ChatRequest) { captured = req },
	})
	user := seedUser(t, handler, "history@example.com")
	character := seedCharacter(t, handler, user.ID, "Aria", store.VisibilityPublic)
	conversation, err := handler.store.CreateConversation(context.Background(), user.ID, character.ID, "chat")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := handler.store.RecordTurn(context.Background(), store.Turn{
		UserID:           user.ID,
		ConversationID:   conversation.ID,
		Model:            quota.ModelFlash,
		UserMessage:      "first",
		AssistantMessage: "reply",
	}); err != nil {
		t.Fatalf("record turn: %v", err)
	}
	cookie := sessionCookie(t, handler, user)

	resp := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"conversationId":%q,"message":"second"}`, character.ID, conversation.ID), cookie)
	expectStatus(t, resp, http.StatusOK)
	if len(captured.History) != 2 || captured.History[0].Content != "first" || captured.History[1].Role != store.RoleAssistant {
		t.Fatalf("unexpected loaded history: %+v", captured.History)
	}

	explicit := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"conversationId":%q,"message":"third","history":[]}`, character.ID, conversation.ID), cookie)
	expectStatus(t, explicit, http.StatusOK)
	if len(captured.History) != 0 {
		t.Fatalf("explicit empty history must be used as-is, got %+v", captured.History)
	}
}

func seedUsage(t *testing.T, x *sqlx.DB, userID, model string, n int) {
	t.Helper()
	now := store.Time{Time: time.Now().UTC()}
	for i := 0; i < n; i++ {
		if _, err := x.Exec(`INSERT INTO api_usage (id, user_id, model, used_at) VALUES (?, ?, ?, ?)`,
			fmt.Sprintf("usage-%s-%d", model, i), userID, model, now); err != nil {
			t.Fatalf("seed usage: %v", err)
		}
	}
}

func TestChatRejectsConversationOfAnotherCharacter(t *testing.T) {
	called := false
	handler, _ := newTestHandler(t, stubStreamer{
		tokens:    []string{"hi"},
		onRequest: func(gemini.ChatRequest) { called = true },
	})
	user := seedUser(t, handler, "switch@example.com")
	aria := seedCharacter(t, handler, user.ID, "Aria", store.VisibilityPublic)
	bella := seedCharacter(t, handler, user.ID, "Bella", store.VisibilityPublic)
	conversation, err := handler.store.CreateConversation(context.Background(), user.ID, aria.ID, "with aria")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	resp := serve(t, handler, http.MethodPost, "/api/chat",
		fmt.Sprintf(`{"characterId":%q,"conversationId":%q,"message":"hi"}`, bella.ID, conversation.ID),
		sessionCookie(t, handler, user))
	expectStatus(t, resp, http.StatusBadRequest)
	if called {
		t.Fatal("streamer must not be called for a mismatched conversation")
	}

	messages, err := handler.store.RecentMessages(context.Background(), conversation.ID, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no messages appended, got %+v", messages)
	}
}
