package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"kirakira/backend/internal/storage"
)

var uploadKindPattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

type uploadRequest struct {
	File string `json:"file"`
	Type string `json:"type"`
}

func uploadObjectPath(kind, ext string, unixMillis int64) string {
	dir := "characters"
	prefix := "character"
	if kind == "profile" {
		dir = "avatars"
	}
	if kind != "" {
		prefix = kind
	}
	return fmt.Sprintf("%s/%s_%d.%s", dir, prefix, unixMillis, ext)
}

func (h Handler) Upload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	image, err := storage.DecodeDataURL(req.File)
	switch {
	case errors.Is(err, storage.ErrMissingData):
		writeError(w, http.StatusBadRequest, "missing_image", "이미지 데이터가 없습니다.")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_image", "유효하지 않은 이미지 형식입니다.")
		return
	}

	kind := strings.TrimSpace(req.Type)
	if !uploadKindPattern.MatchString(kind) {
		writeError(w, http.StatusBadRequest, "invalid_type", "유효하지 않은 업로드 유형입니다.")
		return
	}
	objectPath := uploadObjectPath(kind, image.Extension, h.now().UnixMilli())
	if err := h.objects.PutObject(r.Context(), objectPath, image.ContentType, image.Data); err != nil {
		h.logger.Error("store upload failed", zap.String("path", objectPath), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload_failed", "이미지 업로드 중 오류가 발생했습니다.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": h.objects.URL(objectPath)})
}
