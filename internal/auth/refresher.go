package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// HTTPRefresher exchanges the refresh token stored in the profile's
// credentials file for an access token via POST /auth/refresh.
type HTTPRefresher struct {
	baseURL   string
	credsPath string
	http      *http.Client
}

func NewHTTPRefresher(baseURL, credsPath string) *HTTPRefresher {
	return &HTTPRefresher{
		baseURL:   strings.TrimRight(baseURL, "/"),
		credsPath: credsPath,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	// ExpiresIn is the token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`
}

func (r *HTTPRefresher) Refresh(ctx context.Context) (string, time.Time, error) {
	raw, err := os.ReadFile(r.credsPath)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reading credentials: %w (run login first)", err)
	}
	refreshToken := strings.TrimSpace(string(raw))
	if refreshToken == "" {
		return "", time.Time{}, fmt.Errorf("credentials file %s is empty", r.credsPath)
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", time.Time{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("refresh request: server returned %d", resp.StatusCode)
	}
	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", time.Time{}, fmt.Errorf("decoding refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("refresh response carried no access token")
	}
	return parsed.AccessToken, time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second), nil
}
