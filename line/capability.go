package line

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	auth "github.com/picklehub/go-club-auth"
)

// Capability is the auth.ExternalLogin of a single request. The LINE SDK runs
// in the browser; on the server logging in means holding a valid ID token or
// access token, and Login only records where the browser must go.
type Capability struct {
	provider    *Provider
	idToken     string
	accessToken string

	mu       sync.Mutex
	appID    string
	profile  *auth.ExternalProfile
	redirect string
}

var _ auth.ExternalLogin = (*Capability)(nil)

func (c *Capability) Init(_ context.Context, cfg auth.ExternalLoginConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.appID == "" {
		c.appID = cfg.AppID
	}
	return nil
}

func (c *Capability) IsLoggedIn(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.profile != nil {
		return true, nil
	}

	if c.idToken != "" {
		profile, _, err := c.provider.verifier.Verify(c.idToken)
		if err == nil {
			c.profile = &profile
			return true, nil
		}
		c.provider.config.Logger.Debug("line id token rejected: %v", err)
	}

	if c.accessToken != "" {
		profile, err := c.provider.Profile(ctx, c.accessToken)
		switch {
		case err == nil:
			c.profile = &profile
			return true, nil
		case errors.Is(err, ErrUnauthorized):
			return false, nil
		default:
			return false, err
		}
	}

	return false, nil
}

func (c *Capability) Login(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redirect = c.provider.LoginURL(c.appID, uuid.NewString())
	return nil
}

func (c *Capability) Profile(ctx context.Context) (auth.ExternalProfile, error) {
	c.mu.Lock()
	profile := c.profile
	c.mu.Unlock()

	if profile == nil {
		ok, err := c.IsLoggedIn(ctx)
		if err != nil {
			return auth.ExternalProfile{}, err
		}
		if !ok {
			return auth.ExternalProfile{}, auth.ErrExternalLogin.Clone().WithMetadata(map[string]any{
				"provider": "line",
				"cause":    "not logged in",
			})
		}
		c.mu.Lock()
		profile = c.profile
		c.mu.Unlock()
	}

	return *profile, nil
}

// Redirect is the login URL recorded by Login, empty when Login was not called.
func (c *Capability) Redirect() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirect
}

// AppID is the app id passed to Init.
func (c *Capability) AppID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appID
}
