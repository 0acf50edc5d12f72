package imagegen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kirakira/backend/internal/config"
)

const pollinationsSize = "512"

// Pollinations is the keyless fallback provider.
type Pollinations struct {
	baseURL    string
	httpClient *http.Client
	seed       func() int
}

func NewPollinations(cfg config.Config, httpClient *http.Client) Pollinations {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return Pollinations{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.PollinationsBaseURL), "/"),
		httpClient: httpClient,
		seed:       func() int { return rand.IntN(10000) },
	}
}

func (p Pollinations) Name() string {
	return "pollinations"
}

func (p Pollinations) Generate(ctx context.Context, prompt string) ([]byte, error) {
	endpoint, err := url.Parse(p.baseURL + "/prompt/" + url.PathEscape(prompt))
	if err != nil {
		return nil, fmt.Errorf("parse pollinations endpoint: %w", err)
	}
	params := endpoint.Query()
	params.Set("width", pollinationsSize)
	params.Set("height", pollinationsSize)
	params.Set("nologo", "true")
	params.Set("seed", strconv.Itoa(p.seed()))
	endpoint.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build pollinations request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request pollinations: %w", err)
	}
	defer resp.Body.Close()

	return readImage(resp, p.Name())
}
