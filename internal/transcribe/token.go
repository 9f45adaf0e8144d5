package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TokenSource obtains the short-lived credential the backend requires.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed credential, for backends keyed by a
// long-lived API key.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty static token")
	}
	return string(s), nil
}

// HTTPTokenSource fetches a token from an HTTP issuer responding with
// {"token": "..."}.
type HTTPTokenSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPTokenSource creates a token source with a bounded request timeout.
func NewHTTPTokenSource(url string) *HTTPTokenSource {
	return &HTTPTokenSource{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Token implements TokenSource.
func (s *HTTPTokenSource) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token issuer returned %s: %s", resp.Status, body)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("token issuer returned an empty token")
	}
	return out.Token, nil
}
