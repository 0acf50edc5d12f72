package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"kirakira/backend/internal/auth"
	"kirakira/backend/internal/storage"
	"kirakira/backend/internal/store"
)

const oauthStateCookieName = "oauth_state"

type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type avatarRequest struct {
	ImageData string `json:"imageData"`
}

type userSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type meResponse struct {
	UserID      string  `json:"userId"`
	Email       string  `json:"email"`
	Name        string  `json:"name"`
	NameChanged bool    `json:"nameChanged"`
	Avatar      *string `json:"avatar"`
}

func (h Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "필수 항목을 모두 입력해주세요.")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hash password failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "register_failed", "회원가입 중 오류가 발생했습니다.")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Name, req.Email, hash)
	if errors.Is(err, store.ErrEmailTaken) {
		writeError(w, http.StatusBadRequest, "email_taken", "이미 가입된 이메일입니다.")
		return
	}
	if err != nil {
		h.logger.Error("create user failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "register_failed", "회원가입 중 오류가 발생했습니다.")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "회원가입이 완료되었습니다.",
		"userId":  user.ID,
	})
}

func (h Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	user, err := h.store.UserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("load user for login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login_failed", "로그인 중 오류가 발생했습니다.")
		return
	}
	if err != nil || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "이메일 또는 비밀번호가 올바르지 않습니다.")
		return
	}

	if !h.issueSession(w, user) {
		writeError(w, http.StatusInternalServerError, "login_failed", "로그인 중 오류가 발생했습니다.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "로그인 성공",
		"user":    userSummary{ID: user.ID, Email: user.Email, Name: user.Name},
	})
}

func (h Handler) issueSession(w http.ResponseWriter, user store.User) bool {
	token, expiresAt, err := h.tokens.Issue(auth.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		h.logger.Error("issue token failed", zap.String("user_id", user.ID), zap.Error(err))
		return false
	}
	h.setAuthCookie(w, token, expiresAt)
	return true
}

func (h Handler) Logout(w http.ResponseWriter, _ *http.Request) {
	h.clearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me resolves the cookie itself so a token whose user row is gone reads as
// 404 rather than 401.
func (h Handler) Me(w http.ResponseWriter, r *http.Request) {
	raw, ok := readCookie(r, h.cfg.AuthCookieName)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}
	identity, err := h.tokens.Parse(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
		return
	}

	user, err := h.store.UserByID(r.Context(), identity.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user_not_found", "User not found")
		return
	}
	if err != nil {
		h.logger.Error("load current user failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": meResponse{
		UserID:      user.ID,
		Email:       user.Email,
		Name:        user.Name,
		NameChanged: user.NameChanged,
		Avatar:      user.Avatar,
	}})
}

func (h Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	err := h.store.DeleteUser(r.Context(), identity.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("delete account failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete_failed", "회원탈퇴 중 오류가 발생했습니다.")
		return
	}

	h.logger.Info("account deleted", zap.String("user_id", identity.UserID))
	h.clearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "회원탈퇴가 완료되었습니다.",
	})
}

func (h Handler) Rename(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_name", "이름을 입력해주세요.")
		return
	}

	user, err := h.store.RenameOnce(r.Context(), identity.UserID, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "사용자를 찾을 수 없습니다.")
		return
	case errors.Is(err, store.ErrNameAlreadyChanged):
		writeError(w, http.StatusForbidden, "name_already_changed", "이름은 1회만 변경 가능합니다.")
		return
	case err != nil:
		h.logger.Error("rename user failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "rename_failed", "이름 변경 중 오류가 발생했습니다.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "이름이 변경되었습니다.",
		"user": map[string]any{
			"id":          user.ID,
			"name":        user.Name,
			"email":       user.Email,
			"nameChanged": user.NameChanged,
		},
	})
}

func (h Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	var req avatarRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	image, err := storage.DecodeDataURL(req.ImageData)
	switch {
	case errors.Is(err, storage.ErrMissingData):
		writeError(w, http.StatusBadRequest, "missing_image", "이미지 데이터가 없습니다.")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_image", "유효하지 않은 이미지 형식입니다.")
		return
	}

	objectPath := fmt.Sprintf("avatars/avatar_%s_%d.%s", identity.UserID, h.now().UnixMilli(), image.Extension)
	if err := h.objects.PutObject(r.Context(), objectPath, image.ContentType, image.Data); err != nil {
		h.logger.Error("store avatar failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "avatar_failed", "프로필 사진 변경 중 오류가 발생했습니다.")
		return
	}

	avatarURL := h.objects.URL(objectPath)
	if err := h.store.SetAvatar(r.Context(), identity.UserID, avatarURL); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found", "사용자를 찾을 수 없습니다.")
			return
		}
		h.logger.Error("set avatar failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "avatar_failed", "프로필 사진 변경 중 오류가 발생했습니다.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "프로필 사진이 변경되었습니다.",
		"avatar":  avatarURL,
	})
}

func (h Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, http.StatusNotFound, "google_disabled", "Google login is not configured")
		return
	}

	state, err := auth.NewState()
	if err != nil {
		h.logger.Error("generate oauth state failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/api/auth/google",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	http.Redirect(w, r, h.google.AuthCodeURL(state), http.StatusFound)
}

func (h Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, http.StatusNotFound, "google_disabled", "Google login is not configured")
		return
	}

	failureURL := h.cfg.FrontendURL + "/"
	expected, ok := readCookie(r, oauthStateCookieName)
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookieName, Path: "/api/auth/google", MaxAge: -1})
	if !ok || r.URL.Query().Get("state") != expected {
		h.logger.Warn("google callback state mismatch")
		http.Redirect(w, r, failureURL, http.StatusFound)
		return
	}

	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		http.Redirect(w, r, failureURL, http.StatusFound)
		return
	}

	identity, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Warn("google exchange failed", zap.Error(err))
		http.Redirect(w, r, failureURL, http.StatusFound)
		return
	}

	user, err := h.store.FindOrCreateGoogleUser(r.Context(), identity.GoogleSubject, identity.Email, identity.Name, identity.AvatarURL)
	if err != nil {
		h.logger.Error("find or create google user failed", zap.Error(err))
		http.Redirect(w, r, failureURL, http.StatusFound)
		return
	}
	if !h.issueSession(w, user) {
		http.Redirect(w, r, failureURL, http.StatusFound)
		return
	}
	http.Redirect(w, r, h.cfg.FrontendURL, http.StatusFound)
}
