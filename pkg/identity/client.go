package identity

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

	"github.com/mahaj/livechat/pkg/model"
)

var ErrUnauthorized = errors.New("unauthorized")

type Credentials struct {
	UserID    string `json:"user_id"`
	Password  string `json:"password"`
	AvatarURI string `json:"avatar_uri"`
}

type LoginResponse struct {
	Token     string          `json:"token"`
	Principal model.Principal `json:"principal"`
}

// Client talks to the identity service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResponse, error) {
	reqBody, err := json.Marshal(creds)
	if err != nil {
		return LoginResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(reqBody))
	if err != nil {
		return LoginResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return LoginResponse{}, fmt.Errorf("login failed: %w", err)
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return LoginResponse{}, fmt.Errorf("decode login response: %w", err)
	}
	if loginResp.Token == "" {
		return LoginResponse{}, errors.New("login failed: empty token")
	}

	return loginResp, nil
}

// Logout revokes token on the server.
func (c *Client) Logout(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	msg := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
}
