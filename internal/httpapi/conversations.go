package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kirakira/backend/internal/store"
)

// ConversationTTL is how long a conversation stays listed after creation.
const ConversationTTL = 72 * time.Hour

type remainingTime struct {
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Expired bool `json:"expired"`
}

type conversationCharacter struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	ProfileImage *string `json:"profileImage"`
}

type conversationView struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Character     conversationCharacter `json:"character"`
	MessageCount  int                   `json:"messageCount"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	RemainingTime remainingTime         `json:"remainingTime"`
}

func remainingUntilExpiry(createdAt, now time.Time) remainingTime {
	remaining := createdAt.Add(ConversationTTL).Sub(now)
	if remaining <= 0 {
		return remainingTime{Expired: true}
	}
	return remainingTime{
		Hours:   int(remaining / time.Hour),
		Minutes: int((remaining % time.Hour) / time.Minute),
	}
}

func (h Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	conversations, err := h.store.ListConversations(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("list conversations failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list_failed", "Failed to fetch conversations")
		return
	}

	now := h.now()
	out := make([]conversationView, 0, len(conversations))
	for _, c := range conversations {
		out = append(out, conversationView{
			ID:    c.ID,
			Title: c.Title,
			Character: conversationCharacter{
				ID:           c.CharacterID,
				Name:         c.CharacterName,
				ProfileImage: c.CharacterProfileImage,
			},
			MessageCount:  c.MessageCount,
			CreatedAt:     c.CreatedAt.Time,
			UpdatedAt:     c.UpdatedAt.Time,
			RemainingTime: remainingUntilExpiry(c.CreatedAt.Time, now),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (h Handler) CountConversations(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	count, err := h.store.CountConversations(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("count conversations failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "count_failed", "Failed to count conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count, "limit": store.MaxConversationsPerUser})
}

func (h Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	conversationID := chi.URLParam(r, "id")

	conversation, err := h.store.ConversationByID(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation_not_found", "Conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("load conversation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete conversation")
		return
	}
	if conversation.UserID != identity.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "Unauthorized")
		return
	}

	if err := h.store.DeleteConversation(r.Context(), conversationID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("delete conversation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Conversation deleted"})
}

// CleanupExpiredConversations deletes every conversation past its TTL,
// regardless of owner.
func (h Handler) CleanupExpiredConversations(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteConversationsCreatedBefore(r.Context(), h.now().Add(-ConversationTTL))
	if err != nil {
		h.logger.Error("cleanup expired conversations failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cleanup_failed", "Failed to cleanup conversations")
		return
	}
	h.logger.Info("expired conversations deleted", zap.Int64("deleted", deleted))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": deleted})
}
