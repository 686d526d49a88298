package modeldata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const maxBodySize = 10 * 1024 * 1024 // 10 MB

// Fetch loads and parses the model list from source, an http(s) URL or a
// local file path. Returns nil, nil if source is empty (feature disabled).
// A nil client uses http.DefaultClient.
func Fetch(ctx context.Context, source string, client *http.Client) (*ModelList, error) {
	if source == "" {
		return nil, nil
	}

	var raw []byte
	var err error
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		raw, err = download(ctx, source, client)
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > maxBodySize {
		return nil, fmt.Errorf("model list too large (exceeds %d bytes)", maxBodySize)
	}
	return Parse(raw)
}

func download(ctx context.Context, url string, client *http.Client) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching model list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return raw, nil
}

// Parse deserializes raw JSON bytes into a ModelList.
func Parse(raw []byte) (*ModelList, error) {
	var list ModelList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parsing model list JSON: %w", err)
	}
	list.buildReverseIndex()
	return &list, nil
}
