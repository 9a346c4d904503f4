// Package remote provides clients for external collaborator services.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// AuthVerifier validates bearer tokens against the external auth backend.
type AuthVerifier struct {
	baseURL string
	http    *http.Client
}

// NewAuthVerifier creates a verifier for the given auth service URL.
func NewAuthVerifier(baseURL string, timeout time.Duration) *AuthVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AuthVerifier{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type verifyResponse struct {
	UserID string `json:"user_id"`
}

// VerifyToken asks the auth backend who the token belongs to.
func (v *AuthVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/v1/verify", nil)
	if err != nil {
		return "", fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return "", ports.ErrNotFound
	default:
		return "", fmt.Errorf("verify token: status %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode verify response: %w", err)
	}
	if out.UserID == "" {
		return "", ports.ErrNotFound
	}
	return out.UserID, nil
}

// Ensure interface compliance.
var _ ports.AuthVerifier = (*AuthVerifier)(nil)
