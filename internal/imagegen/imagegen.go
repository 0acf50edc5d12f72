// Package imagegen turns text prompts into illustration bytes using a
// primary provider with a keyless fallback.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const maxErrorBodyBytes = 8 * 1024

// StylePrefix is prepended to every scene prompt.
const StylePrefix = "masterpiece, best quality, highly detailed anime illustration, Japanese anime art style, " +
	"Korean manhwa art style, beautiful anime character, soft cel shading, digital illustration, " +
	"light novel cover art, otome game CG style, romance fantasy illustration, delicate linework, vibrant colors"

var ErrAllProvidersFailed = errors.New("all image providers failed")

type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// StyledPrompt combines the fixed style keywords, the character description
// and the scene prompt.
func StyledPrompt(description, scene string) string {
	parts := []string{StylePrefix}
	for _, part := range []string{description, scene} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}

type Generator struct {
	primary  Provider
	fallback Provider
	logger   *zap.Logger
}

// NewGenerator builds a generator. primary may be nil, in which case only
// the fallback is used.
func NewGenerator(primary, fallback Provider, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{primary: primary, fallback: fallback, logger: logger}
}

// Generate tries the primary provider once and falls back on any error.
func (g *Generator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if g.primary != nil {
		data, err := g.primary.Generate(ctx, prompt)
		if err == nil {
			return data, nil
		}
		g.logger.Warn("primary image provider failed, falling back",
			zap.String("provider", g.primary.Name()), zap.Error(err))
	} else {
		g.logger.Debug("no primary image provider configured")
	}

	if g.fallback == nil {
		return nil, ErrAllProvidersFailed
	}
	data, err := g.fallback.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAllProvidersFailed, g.fallback.Name(), err)
	}
	return data, nil
}
