package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kirakira/backend/internal/gemini"
	"kirakira/backend/internal/quota"
	"kirakira/backend/internal/store"
)

const (
	historyFallbackMessages = 40
	streamBufferSize        = 16
)

type chatRequest struct {
	CharacterID    string                  `json:"characterId"`
	Message        string                  `json:"message"`
	ConversationID string                  `json:"conversationId"`
	History        []gemini.HistoryMessage `json:"history"`
	Model          string                  `json:"model"`
}

type usageLimitResponse struct {
	Error              string `json:"error"`
	Code               string `json:"code"`
	UsageLimitExceeded bool   `json:"usageLimitExceeded"`
	Message            string `json:"message"`
}

func promptCharacter(c store.Character) gemini.Character {
	return gemini.Character{
		Name:           c.Name,
		Description:    c.Description,
		Personality:    derefString(c.Personality),
		Secret:         derefString(c.Secret),
		ExampleDialogs: derefString(c.ExampleDialogs),
	}
}

func conversationTitle(characterName string) string {
	return characterName + "와의 대화"
}

// Chat runs one turn: quota, character, conversation, then the upstream
// reply streamed to the client as server-sent events.
func (h Handler) Chat(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	ctx := r.Context()

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	req.CharacterID = strings.TrimSpace(req.CharacterID)
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.CharacterID == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "characterId and message are required")
		return
	}

	tier := quota.Resolve(req.Model)
	used, err := h.store.CountUsageSince(ctx, identity.UserID, tier.Model, quota.DayStart(h.now()))
	if err != nil {
		h.logger.Error("count usage failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}
	if used >= tier.DailyLimit {
		writeJSON(w, http.StatusTooManyRequests, usageLimitResponse{
			Error:              "Daily limit exceeded",
			Code:               "usage_limit_exceeded",
			UsageLimitExceeded: true,
			Message:            fmt.Sprintf("일일 사용량을 초과했습니다. (%s: %d회)", tier.Model, tier.DailyLimit),
		})
		return
	}

	character, err := h.store.CharacterByID(ctx, req.CharacterID)
	if err == nil && character.Visibility == store.VisibilityPrivate && character.CreatorID != identity.UserID {
		err = store.ErrNotFound
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "character_not_found", "Character not found")
		return
	}
	if err != nil {
		h.logger.Error("load character for chat failed", zap.String("character_id", req.CharacterID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}

	user, err := h.store.UserByID(ctx, identity.UserID)
	if err != nil {
		h.logger.Error("load chat user failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}

	conversationID, ok := h.resolveConversation(w, r, identity.UserID, character.Character, req.ConversationID)
	if !ok {
		return
	}

	history := req.History
	if history == nil && req.ConversationID != "" {
		previous, err := h.store.RecentMessages(ctx, conversationID, historyFallbackMessages)
		if err != nil {
			h.logger.Error("load history failed", zap.String("conversation_id", conversationID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
			return
		}
		history = make([]gemini.HistoryMessage, 0, len(previous))
		for _, m := range previous {
			history = append(history, gemini.HistoryMessage{Role: m.Role, Content: m.Content})
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming is not supported")
		return
	}

	reply, streamed, err := h.streamReply(ctx, w, flusher, gemini.ChatRequest{
		Model:     tier.APIModel,
		Character: promptCharacter(character.Character),
		UserName:  user.Name,
		History:   history,
		Message:   req.Message,
	})
	if err != nil {
		if !streamed {
			h.logger.Error("chat stream failed", zap.String("conversation_id", conversationID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "chat_failed", "Internal Server Error")
			return
		}
		h.logger.Warn("chat stream interrupted", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}

	if !streamed {
		startSSE(w)
	}
	_ = writeSSEEvent(w, map[string]any{"done": true, "conversationId": conversationID})
	flusher.Flush()

	// The turn is recorded with a fresh context so a client that disconnects
	// right after the done frame still gets its messages saved.
	if _, err := h.store.RecordTurn(context.WithoutCancel(ctx), store.Turn{
		UserID:           identity.UserID,
		ConversationID:   conversationID,
		Model:            tier.Model,
		UserMessage:      req.Message,
		AssistantMessage: reply,
	}); err != nil {
		h.logger.Error("record chat turn failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// resolveConversation returns the conversation the turn belongs to, opening
// a new one when id is empty.
func (h Handler) resolveConversation(w http.ResponseWriter, r *http.Request, userID string, character store.Character, id string) (string, bool) {
	if id != "" {
		conversation, ok := h.ownedConversation(w, r, id, userID)
		if !ok {
			return "", false
		}
		if conversation.CharacterID != character.ID {
			writeError(w, http.StatusBadRequest, "conversation_character_mismatch", "Conversation belongs to another character")
			return "", false
		}
		return conversation.ID, true
	}

	conversation, err := h.store.CreateConversation(r.Context(), userID, character.ID, conversationTitle(character.Name))
	if errors.Is(err, store.ErrConversationLimit) {
		writeLimitError(w, http.StatusBadRequest, "conversation_limit", "Conversation limit exceeded", "최대 10개까지만 대화를 생성할 수 있습니다.")
		return "", false
	}
	if err != nil {
		h.logger.Error("create conversation failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return "", false
	}
	h.logger.Info("conversation created", zap.String("user_id", userID), zap.String("conversation_id", conversation.ID))
	return conversation.ID, true
}

// ownedConversation loads a conversation and hides it from everyone but its
// owner.
func (h Handler) ownedConversation(w http.ResponseWriter, r *http.Request, id, userID string) (store.Conversation, bool) {
	conversation, err := h.store.ConversationByID(r.Context(), id)
	if err == nil && conversation.UserID != userID {
		err = store.ErrNotFound
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation_not_found", "Conversation not found")
		return store.Conversation{}, false
	}
	if err != nil {
		h.logger.Error("load conversation failed", zap.String("conversation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return store.Conversation{}, false
	}
	return conversation, true
}

// streamReply forwards upstream deltas to the client. streamed reports
// whether the SSE headers were committed.
func (h Handler) streamReply(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, req gemini.ChatRequest) (string, bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan string, streamBufferSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		return h.streamer.StreamReply(gctx, req, func(delta string) error {
			select {
			case chunks <- delta:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	var reply strings.Builder
	streamed := false
	var writeErr error
	for chunk := range chunks {
		if writeErr != nil {
			continue
		}
		if !streamed {
			startSSE(w)
			streamed = true
		}
		reply.WriteString(chunk)
		if err := writeSSEEvent(w, map[string]string{"text": chunk}); err != nil {
			writeErr = err
			cancel()
			continue
		}
		flusher.Flush()
	}

	if err := g.Wait(); err != nil {
		return "", streamed, err
	}
	if writeErr != nil {
		return "", streamed, writeErr
	}
	return reply.String(), streamed, nil
}

func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeSSEEvent(w http.ResponseWriter, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", encoded)
	return err
}

func (h Handler) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	conversation, ok := h.ownedConversation(w, r, chi.URLParam(r, "conversationId"), identity.UserID)
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(r.Context(), conversation.ID)
	if err != nil {
		h.logger.Error("list messages failed", zap.String("conversation_id", conversation.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
