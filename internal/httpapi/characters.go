package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kirakira/backend/internal/store"
)

type characterRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Personality    string          `json:"personality"`
	Greeting       string          `json:"greeting"`
	Greetings      json.RawMessage `json:"greetings"`
	Secret         string          `json:"secret"`
	ExampleDialogs json.RawMessage `json:"exampleDialogs"`
	Visibility     string          `json:"visibility"`
	ProfileImage   string          `json:"profileImage"`
	AlbumImages    json.RawMessage `json:"albumImages"`
}

type characterSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ProfileImage *string   `json:"profileImage"`
	ChatCount    int       `json:"chatCount"`
	LikeCount    int       `json:"likeCount"`
	CreatedAt    time.Time `json:"createdAt"`
	Visibility   string    `json:"visibility,omitempty"`
}

type creatorView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// characterView is the full character. Greetings, ExampleDialogs and
// AlbumImages are JSON text the client parses itself.
type characterView struct {
	ID             string       `json:"id"`
	CreatorID      string       `json:"creatorId"`
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	Personality    *string      `json:"personality"`
	Greeting       string       `json:"greeting"`
	Greetings      *string      `json:"greetings"`
	Secret         *string      `json:"secret,omitempty"`
	ExampleDialogs *string      `json:"exampleDialogs"`
	Visibility     string       `json:"visibility"`
	ProfileImage   *string      `json:"profileImage"`
	AlbumImages    *string      `json:"albumImages"`
	ChatCount      int          `json:"chatCount"`
	LikeCount      int          `json:"likeCount"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	Creator        *creatorView `json:"creator,omitempty"`
}

func newCharacterView(c store.Character, includeSecret bool) characterView {
	view := characterView{
		ID:             c.ID,
		CreatorID:      c.CreatorID,
		Name:           c.Name,
		Description:    c.Description,
		Personality:    c.Personality,
		Greeting:       c.Greeting,
		Greetings:      c.Greetings,
		ExampleDialogs: c.ExampleDialogs,
		Visibility:     c.Visibility,
		ProfileImage:   c.ProfileImage,
		AlbumImages:    c.AlbumImages,
		ChatCount:      c.ChatCount,
		LikeCount:      c.LikeCount,
		CreatedAt:      c.CreatedAt.Time,
		UpdatedAt:      c.UpdatedAt.Time,
	}
	if includeSecret {
		view.Secret = c.Secret
	}
	return view
}

func newCharacterSummary(c store.Character, withVisibility bool) characterSummary {
	summary := characterSummary{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		ProfileImage: c.ProfileImage,
		ChatCount:    c.ChatCount,
		LikeCount:    c.LikeCount,
		CreatedAt:    c.CreatedAt.Time,
	}
	if withVisibility {
		summary.Visibility = c.Visibility
	}
	return summary
}

func (req characterRequest) input() (store.CharacterInput, error) {
	greetings, err := compactJSON(req.Greetings)
	if err != nil {
		return store.CharacterInput{}, err
	}
	dialogs, err := compactJSON(req.ExampleDialogs)
	if err != nil {
		return store.CharacterInput{}, err
	}
	album, err := compactJSON(req.AlbumImages)
	if err != nil {
		return store.CharacterInput{}, err
	}

	visibility := strings.ToUpper(strings.TrimSpace(req.Visibility))
	if visibility == "" {
		visibility = store.VisibilityPrivate
	}

	return store.CharacterInput{
		Name:           strings.TrimSpace(req.Name),
		Description:    strings.TrimSpace(req.Description),
		Personality:    optionalString(req.Personality),
		Greeting:       strings.TrimSpace(req.Greeting),
		Greetings:      greetings,
		Secret:         optionalString(req.Secret),
		ExampleDialogs: dialogs,
		Visibility:     visibility,
		ProfileImage:   optionalString(req.ProfileImage),
		AlbumImages:    album,
	}, nil
}

// compactJSON turns a raw JSON value into the text stored in the database.
// Absent and null values are stored as NULL.
func compactJSON(raw json.RawMessage) (*string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, err
	}
	text := buf.String()
	return &text, nil
}

func (h Handler) PublicCharacters(w http.ResponseWriter, r *http.Request) {
	characters, err := h.store.PublicCharacters(r.Context())
	if err != nil {
		h.logger.Error("list public characters failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list_failed", "캐릭터를 불러오는 중 오류가 발생했습니다.")
		return
	}

	out := make([]characterSummary, 0, len(characters))
	for _, c := range characters {
		out = append(out, newCharacterSummary(c, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"characters": out})
}

func (h Handler) MyCharacters(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	characters, err := h.store.CharactersByCreator(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("list own characters failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list_failed", "캐릭터를 불러오는 중 오류가 발생했습니다.")
		return
	}

	out := make([]characterSummary, 0, len(characters))
	for _, c := range characters {
		out = append(out, newCharacterSummary(c, true))
	}
	writeJSON(w, http.StatusOK, map[string]any{"characters": out})
}

func (h Handler) GetCharacter(w http.ResponseWriter, r *http.Request) {
	character, err := h.store.CharacterByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "character_not_found", "캐릭터를 찾을 수 없습니다.")
		return
	}
	if err != nil {
		h.logger.Error("get character failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get_failed", "캐릭터를 불러오는 중 오류가 발생했습니다.")
		return
	}

	identity, _ := identityFromContext(r.Context())
	isOwner := identity.UserID != "" && identity.UserID == character.CreatorID
	if character.Visibility == store.VisibilityPrivate && !isOwner {
		writeError(w, http.StatusNotFound, "character_not_found", "캐릭터를 찾을 수 없습니다.")
		return
	}

	view := newCharacterView(character.Character, isOwner)
	view.Creator = &creatorView{ID: character.CreatorID, Name: character.CreatorName, Email: character.CreatorEmail}
	writeJSON(w, http.StatusOK, map[string]any{"character": view})
}

func (h Handler) CreateCharacter(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	in, ok := h.decodeCharacterInput(w, r)
	if !ok {
		return
	}

	character, err := h.store.CreateCharacter(r.Context(), identity.UserID, in)
	switch {
	case errors.Is(err, store.ErrCharacterLimit):
		writeLimitError(w, http.StatusBadRequest, "character_limit", "Character limit exceeded", "최대 5개까지만 캐릭터를 만들 수 있습니다.")
		return
	case errors.Is(err, store.ErrInvalidVisibility):
		writeError(w, http.StatusBadRequest, "invalid_visibility", "공개 설정이 올바르지 않습니다.")
		return
	case err != nil:
		h.logger.Error("create character failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create_failed", "캐릭터 생성 중 오류가 발생했습니다.")
		return
	}

	h.logger.Info("character created", zap.String("user_id", identity.UserID), zap.String("character_id", character.ID))
	writeJSON(w, http.StatusCreated, map[string]any{"character": newCharacterView(character, true)})
}

func (h Handler) UpdateCharacter(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	characterID := chi.URLParam(r, "id")

	if !h.authorizeCharacterOwner(w, r, characterID, identity.UserID) {
		return
	}

	in, ok := h.decodeCharacterInput(w, r)
	if !ok {
		return
	}

	character, err := h.store.UpdateCharacter(r.Context(), characterID, in)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "character_not_found", "캐릭터를 찾을 수 없습니다.")
		return
	case errors.Is(err, store.ErrInvalidVisibility):
		writeError(w, http.StatusBadRequest, "invalid_visibility", "공개 설정이 올바르지 않습니다.")
		return
	case err != nil:
		h.logger.Error("update character failed", zap.String("character_id", characterID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update_failed", "캐릭터 수정 중 오류가 발생했습니다.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"character": newCharacterView(character, true)})
}

func (h Handler) DeleteCharacter(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	characterID := chi.URLParam(r, "id")

	if !h.authorizeCharacterOwner(w, r, characterID, identity.UserID) {
		return
	}

	err := h.store.DeleteCharacter(r.Context(), characterID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("delete character failed", zap.String("character_id", characterID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete_failed", "캐릭터 삭제 중 오류가 발생했습니다.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "캐릭터가 삭제되었습니다."})
}

func (h Handler) decodeCharacterInput(w http.ResponseWriter, r *http.Request) (store.CharacterInput, bool) {
	var req characterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return store.CharacterInput{}, false
	}
	in, err := req.input()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON field")
		return store.CharacterInput{}, false
	}
	if in.Name == "" || in.Description == "" || in.Greeting == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "필수 항목을 모두 입력해주세요.")
		return store.CharacterInput{}, false
	}
	return in, true
}

func (h Handler) authorizeCharacterOwner(w http.ResponseWriter, r *http.Request, characterID, userID string) bool {
	character, err := h.store.CharacterByID(r.Context(), characterID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "character_not_found", "캐릭터를 찾을 수 없습니다.")
		return false
	}
	if err != nil {
		h.logger.Error("load character failed", zap.String("character_id", characterID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return false
	}
	if character.CreatorID != userID {
		writeError(w, http.StatusForbidden, "forbidden", "권한이 없습니다.")
		return false
	}
	return true
}
