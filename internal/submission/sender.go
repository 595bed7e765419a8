package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/VenkatGGG/lendflow/pkg/httpx"
)

const IdempotencyHeader = "X-Idempotency-Key"

var ErrInvalidResponse = errors.New("submission response is not valid json")

// HTTPSender posts payloads to the backend's per-kind submission paths.
type HTTPSender struct {
	httpClient *http.Client
	baseURL    string
	paths      map[Kind]string
}

func NewHTTPSender(baseURL string, paths map[Kind]string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cloned := make(map[Kind]string, len(paths))
	for kind, path := range paths {
		cloned[kind] = path
	}
	return &HTTPSender{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSpace(baseURL),
		paths:      cloned,
	}
}

func (s *HTTPSender) Send(ctx context.Context, kind Kind, payload Payload, idempotencyKey string) (json.RawMessage, error) {
	if s.baseURL == "" {
		return nil, errors.New("submission base url is required")
	}

	req, err := httpx.NewJSONRequest(ctx, http.MethodPost, httpx.JoinURL(s.baseURL, s.pathFor(kind)), payload)
	if err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit request failed: %w", err)
	}
	body, err := httpx.ReadBody(resp)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, ErrInvalidResponse
	}
	return json.RawMessage(trimmed), nil
}

func (s *HTTPSender) pathFor(kind Kind) string {
	if path, ok := s.paths[kind]; ok && strings.TrimSpace(path) != "" {
		return path
	}
	return "/api/" + string(kind)
}
