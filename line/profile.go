package line

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	auth "github.com/picklehub/go-club-auth"
)

type lineProfile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl"`
	StatusMessage string `json:"statusMessage"`
}

type lineError struct {
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ErrUnauthorized is returned by the profile endpoint for revoked or
// expired access tokens.
var ErrUnauthorized = fmt.Errorf("line: access token rejected")

// ProfileClient calls the LINE profile endpoint.
type ProfileClient struct {
	url        string
	httpClient *http.Client
}

// NewProfileClient creates a client for the profile endpoint at url.
func NewProfileClient(url string, client *http.Client) *ProfileClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ProfileClient{url: url, httpClient: client}
}

// Fetch returns the profile of the access token owner.
func (c *ProfileClient) Fetch(ctx context.Context, accessToken string) (auth.ExternalProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return auth.ExternalProfile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return auth.ExternalProfile{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return auth.ExternalProfile{}, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return auth.ExternalProfile{}, ErrUnauthorized
	}

	if resp.StatusCode != http.StatusOK {
		var lerr lineError
		_ = json.Unmarshal(body, &lerr)
		msg := lerr.Message
		if msg == "" {
			msg = lerr.ErrorDescription
		}
		return auth.ExternalProfile{}, auth.ErrExternalLogin.Clone().WithMetadata(map[string]any{
			"provider": "line",
			"status":   resp.StatusCode,
			"message":  msg,
		})
	}

	var profile lineProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return auth.ExternalProfile{}, fmt.Errorf("line: failed to decode profile response: %w", err)
	}

	if profile.UserID == "" {
		return auth.ExternalProfile{}, fmt.Errorf("line: profile response without user id")
	}

	return auth.ExternalProfile{
		ExternalUserID: profile.UserID,
		DisplayName:    profile.DisplayName,
	}, nil
}
