package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/VenkatGGG/lendflow/pkg/httpx"
)

var (
	ErrUnauthorized   = errors.New("catalog request not authorized")
	ErrInvalidCatalog = errors.New("catalog response has no identifiable items")
)

type HTTPFetcher struct {
	httpClient *http.Client
	url        string
	header     http.Header
}

func NewHTTPFetcher(url string, timeout time.Duration, header http.Header) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		httpClient: &http.Client{Timeout: timeout},
		url:        strings.TrimSpace(url),
		header:     header.Clone(),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]Item, error) {
	if f.url == "" {
		return nil, errors.New("catalog url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for name, values := range f.header {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, ErrUnauthorized
	}
	body, err := httpx.ReadBody(resp)
	if err != nil {
		return nil, err
	}
	return parseItems(body)
}

// parseItems accepts a bare array or an object holding one under products.
// Non-object entries are dropped; at least one item must carry an identifier.
func parseItems(body []byte) ([]Item, error) {
	var decoded any
	if err := decodeJSON(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	var entries []any
	switch value := decoded.(type) {
	case []any:
		entries = value
	case map[string]any:
		products, ok := value["products"].([]any)
		if !ok {
			return nil, ErrInvalidCatalog
		}
		entries = products
	default:
		return nil, ErrInvalidCatalog
	}

	items := make([]Item, 0, len(entries))
	identified := false
	for _, entry := range entries {
		object, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := Item(object)
		if item.ID() != "" {
			identified = true
		}
		items = append(items, item)
	}
	if !identified {
		return nil, ErrInvalidCatalog
	}
	return items, nil
}

func decodeJSON(raw []byte, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	return decoder.Decode(out)
}
