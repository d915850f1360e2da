// Package line implements the LINE Login capability used by the auth
// resolver for members opening the app inside the LINE in-app browser.
package line

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/picklehub/go-club-auth"
)

const (
	// Issuer is the iss claim of LINE ID tokens
	Issuer = "https://access.line.me"

	defaultJWKSURL      = "https://api.line.me/oauth2/v2.1/certs"
	defaultProfileURL   = "https://api.line.me/v2/profile"
	defaultAuthorizeURL = "https://access.line.me/oauth2/v2.1/authorize"
	defaultLiffURL      = "https://liff.line.me/"
)

// Config holds LINE Login configuration.
type Config struct {
	ChannelID     string
	ChannelSecret string
	CallbackURL   string

	JWKSURL      string
	ProfileURL   string
	AuthorizeURL string
	LiffURL      string

	// KeyFunc overrides JWKS key lookup
	KeyFunc jwt.Keyfunc

	HTTPClient *http.Client
	Logger     auth.Logger
}

func (c Config) withDefaults() Config {
	if c.JWKSURL == "" {
		c.JWKSURL = defaultJWKSURL
	}
	if c.ProfileURL == "" {
		c.ProfileURL = defaultProfileURL
	}
	if c.AuthorizeURL == "" {
		c.AuthorizeURL = defaultAuthorizeURL
	}
	if c.LiffURL == "" {
		c.LiffURL = defaultLiffURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = auth.NoopLogger()
	}
	return c
}

// Provider verifies LINE credentials and builds per request capabilities.
type Provider struct {
	config   Config
	verifier *Verifier
	profiles *ProfileClient
	jwks     *keyfunc.JWKS
}

// New creates a provider. Unless cfg.KeyFunc is set the JWKS is fetched and
// refreshed in the background until Close.
func New(cfg Config) (*Provider, error) {
	cfg = cfg.withDefaults()

	p := &Provider{config: cfg}

	kf := cfg.KeyFunc
	if kf == nil {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			Client: cfg.HTTPClient,
			RefreshErrorHandler: func(err error) {
				cfg.Logger.Warn("failed to do a background refresh of the LINE key set: %s", err)
			},
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute * 5,
			RefreshTimeout:    time.Second * 10,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, fmt.Errorf("line: failed to get key set: %w", err)
		}
		p.jwks = jwks
		kf = jwks.Keyfunc
	}

	p.verifier = NewVerifier(kf, cfg.ChannelID, []byte(cfg.ChannelSecret))
	p.profiles = NewProfileClient(cfg.ProfileURL, cfg.HTTPClient)

	return p, nil
}

// Close stops the background key refresh.
func (p *Provider) Close() {
	if p.jwks != nil {
		p.jwks.EndBackground()
	}
}

// Verifier returns the ID token verifier.
func (p *Provider) Verifier() *Verifier {
	return p.verifier
}

// Capability returns the login capability of one request carrying the given
// ID token and access token, either of which may be empty.
func (p *Provider) Capability(idToken, accessToken string) *Capability {
	return &Capability{
		provider:    p,
		idToken:     idToken,
		accessToken: accessToken,
	}
}

// LoginURL is where the browser is sent to sign in. A configured LIFF app
// opens through its LIFF URL, otherwise the LINE Login authorize endpoint is
// used.
func (p *Provider) LoginURL(appID, state string) string {
	if appID != "" && appID != auth.DefaultExternalAppID {
		return p.config.LiffURL + url.PathEscape(appID)
	}

	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.config.ChannelID},
		"redirect_uri":  {p.config.CallbackURL},
		"state":         {state},
		"scope":         {"profile openid"},
	}
	return p.config.AuthorizeURL + "?" + params.Encode()
}

// Profile resolves the identity behind an access token.
func (p *Provider) Profile(ctx context.Context, accessToken string) (auth.ExternalProfile, error) {
	return p.profiles.Fetch(ctx, accessToken)
}
