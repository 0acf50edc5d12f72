package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"kirakira/backend/internal/gemini"
	"kirakira/backend/internal/imagegen"
	"kirakira/backend/internal/store"
)

const (
	defaultSceneCharacterName = "Character"
	defaultSceneDescription   = "A character in a chat"
)

var sceneMessagePattern = regexp.MustCompile(`^!\[Scene\]\(([^)\s]+)\)$`)

type imageRequest struct {
	Messages       []gemini.HistoryMessage `json:"messages"`
	CharacterName  string                  `json:"characterName"`
	ConversationID string                  `json:"conversationId"`
}

func sceneMessage(imageURL string) string {
	return fmt.Sprintf("![Scene](%s)", imageURL)
}

// GenerateImage illustrates the latest moment of a conversation and, when a
// conversation is given, appends the picture to it as a character message.
func (h Handler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	ctx := r.Context()

	var req imageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	character := gemini.Character{Name: strings.TrimSpace(req.CharacterName), Description: defaultSceneDescription}
	if character.Name == "" {
		character.Name = defaultSceneCharacterName
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID != "" {
		conversation, ok := h.ownedConversation(w, r, conversationID, identity.UserID)
		if !ok {
			return
		}
		stored, err := h.store.CharacterByID(ctx, conversation.CharacterID)
		switch {
		case err == nil && strings.TrimSpace(stored.Description) != "":
			character.Description = stored.Description
		case err != nil && !errors.Is(err, store.ErrNotFound):
			h.logger.Warn("load scene character failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}

	scene, err := h.streamer.GenerateImagePrompt(ctx, character, req.Messages)
	if err != nil {
		h.logger.Error("generate image prompt failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "image_failed", "Failed to generate image")
		return
	}

	data, err := h.images.Generate(ctx, imagegen.StyledPrompt(character.Description, scene))
	if err != nil {
		h.logger.Error("generate image failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "image_failed", "Failed to generate image")
		return
	}

	objectPath := fmt.Sprintf("chat_images/chat_%d_%s.jpg", h.now().UnixMilli(), uuid.NewString()[:8])
	if err := h.objects.PutObject(ctx, objectPath, "image/jpeg", data); err != nil {
		h.logger.Error("store chat image failed", zap.String("path", objectPath), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "image_failed", "Failed to generate image")
		return
	}
	imageURL := h.objects.URL(objectPath)

	if conversationID != "" {
		if _, err := h.store.AppendMessage(ctx, conversationID, store.RoleAssistant, sceneMessage(imageURL)); err != nil {
			h.logger.Error("append scene message failed", zap.String("conversation_id", conversationID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "image_failed", "Failed to generate image")
			return
		}
	}

	h.logger.Info("scene image generated", zap.String("user_id", identity.UserID), zap.String("path", objectPath))
	writeJSON(w, http.StatusOK, map[string]string{"imageUrl": imageURL})
}

// DeleteMessage removes one message from a conversation the caller owns.
// Scene images issued by the object store are deleted with it.
func (h Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	ctx := r.Context()

	message, err := h.store.MessageByID(ctx, chi.URLParam(r, "messageId"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message_not_found", "Message not found")
		return
	}
	if err != nil {
		h.logger.Error("load message failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}

	conversation, err := h.store.ConversationByID(ctx, message.ConversationID)
	if err != nil || conversation.UserID != identity.UserID {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("load message conversation failed", zap.Error(err))
		}
		writeError(w, http.StatusNotFound, "message_not_found", "Message not found")
		return
	}

	if err := h.store.DeleteMessage(ctx, message.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("delete message failed", zap.String("message_id", message.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}

	if match := sceneMessagePattern.FindStringSubmatch(strings.TrimSpace(message.Content)); match != nil {
		if objectPath, ok := h.objects.ObjectPath(match[1]); ok {
			if err := h.objects.DeleteObject(ctx, objectPath); err != nil {
				h.logger.Warn("delete scene image failed", zap.String("path", objectPath), zap.Error(err))
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
