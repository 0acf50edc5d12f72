package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"kirakira/backend/internal/config"
)

const maxImageBytes = 20 << 20

var ErrMissingToken = errors.New("hugging face token is not configured")

type HuggingFace struct {
	token      string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewHuggingFace(cfg config.Config, httpClient *http.Client) HuggingFace {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return HuggingFace{
		token:      strings.TrimSpace(cfg.HuggingFaceToken),
		model:      strings.TrimSpace(cfg.HuggingFaceModel),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.HuggingFaceBaseURL), "/"),
		httpClient: httpClient,
	}
}

func (h HuggingFace) Name() string {
	return "huggingface"
}

func (h HuggingFace) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if h.token == "" {
		return nil, ErrMissingToken
	}

	body, err := json.Marshal(map[string]string{"inputs": prompt})
	if err != nil {
		return nil, fmt.Errorf("encode huggingface request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/models/"+h.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build huggingface request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+h.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/jpeg")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request huggingface: %w", err)
	}
	defer resp.Body.Close()

	return readImage(resp, h.Name())
}

func readImage(resp *http.Response, provider string) ([]byte, error) {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, APIError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	if contentType := resp.Header.Get("Content-Type"); strings.HasPrefix(contentType, "application/json") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("%s returned json instead of an image: %s", provider, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s image: %w", provider, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s returned an empty image", provider)
	}
	return data, nil
}

type breakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

// WithCircuitBreaker stops calling p for a cool-down period after
// consecutive failures, so requests fall through to the fallback at once.
func WithCircuitBreaker(p Provider, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("image provider circuit changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return breakerProvider{inner: p, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b breakerProvider) Name() string {
	return b.inner.Name()
}

func (b breakerProvider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Generate(ctx, prompt)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}
