package storage

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
)

var (
	ErrMissingData    = errors.New("image data is required")
	ErrInvalidDataURL = errors.New("invalid image data url")
)

var dataURLPattern = regexp.MustCompile(`^data:image/(\w+);base64,(.+)$`)

// Image is a decoded data URL.
type Image struct {
	Extension   string
	ContentType string
	Data        []byte
}

// DecodeDataURL parses "data:image/<ext>;base64,<payload>".
func DecodeDataURL(raw string) (Image, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Image{}, ErrMissingData
	}
	match := dataURLPattern.FindStringSubmatch(raw)
	if match == nil {
		return Image{}, ErrInvalidDataURL
	}

	data, err := base64.StdEncoding.DecodeString(match[2])
	if err != nil || len(data) == 0 {
		return Image{}, ErrInvalidDataURL
	}

	ext := strings.ToLower(match[1])
	return Image{
		Extension:   ext,
		ContentType: "image/" + ext,
		Data:        data,
	}, nil
}
