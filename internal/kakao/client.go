package kakao

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultAPIBaseURL is the platform's bot API endpoint.
const DefaultAPIBaseURL = "https://bot-api.kakao.com"

// MemberLister fetches the member keys of a group chat room.
type MemberLister interface {
	ListMembers(ctx context.Context, botID, chatID string) ([]string, error)
}

// Client talks to the platform's REST API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	logger     *logrus.Logger
}

// NewClient creates a REST API client. baseURL == "" selects the production
// endpoint.
func NewClient(apiKey, baseURL string, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     apiKey,
		baseURL:    baseURL,
		logger:     logger,
	}
}

type memberListResponse struct {
	Users []string `json:"users"`
}

// ListMembers returns the member keys currently in the group chat room.
func (c *Client) ListMembers(ctx context.Context, botID, chatID string) ([]string, error) {
	url := fmt.Sprintf("%s/v2/bots/%s/group-chat-rooms/%s/members", c.baseURL, botID, chatID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build member list request: %w", err)
	}
	req.Header.Set("Authorization", "KakaoAK "+c.apiKey)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("member list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("member list request returned status %d", resp.StatusCode)
	}

	var body memberListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode member list: %w", err)
	}
	return body.Users, nil
}
