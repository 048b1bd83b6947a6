package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxAnswerTokens caps hosted completions. Every resolution prompt demands a
// single small JSON object, so a longer answer is already unparseable.
const maxAnswerTokens = 512

// chatMessage is the single-turn user message shape shared by the hosted
// chat APIs.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// hostedAPI is the HTTP plumbing shared by the hosted providers: one JSON
// POST per call with fixed auth headers. Circuit breaking stays with the
// owning client so text and embedding traffic trip independently.
type hostedAPI struct {
	provider string
	client   *http.Client
	headers  map[string]string
}

func newHostedAPI(provider string, timeout time.Duration, headers map[string]string) hostedAPI {
	return hostedAPI{
		provider: provider,
		client:   &http.Client{Timeout: timeout},
		headers:  headers,
	}
}

func (a hostedAPI) postJSON(ctx context.Context, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", a.provider, resp.StatusCode, string(errBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
