package webauth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/picklehub/go-club-auth"
	"github.com/picklehub/go-club-auth/database"
	"github.com/picklehub/go-club-auth/line"
	"github.com/picklehub/go-club-auth/webauth"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	channelID     = "1650000000"
	channelSecret = "line-channel-secret"
	liffAppID     = "1650000000-abcdEFGH"
	embeddedUA    = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148 Safari Line/13.20.0"
	standardUA    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 Version/17.0 Safari/605.1.15"
	password      = "dinkResponsibly!1"

	memberOneID     = "9a7e5c3b-1d2f-4a6b-8c9d-0e1f2a3b4c01"
	memberTwoID     = "9a7e5c3b-1d2f-4a6b-8c9d-0e1f2a3b4c02"
	missingMemberID = "9a7e5c3b-1d2f-4a6b-8c9d-0e1f2a3b4cff"
)

type harness struct {
	app    *fiber.App
	repo   auth.RepositoryManager
	events []auth.ActivityEvent
}

func newHarness(t *testing.T, rdb redis.Cmdable) *harness {
	t.Helper()

	client, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.DB().Close() })

	require.NoError(t, database.Migrate(context.Background(), client))
	db := client.DB()

	provider, err := line.New(line.Config{
		ChannelID:     channelID,
		ChannelSecret: channelSecret,
		KeyFunc: func(*jwt.Token) (any, error) {
			return nil, fmt.Errorf("no key set in tests")
		},
	})
	require.NoError(t, err)

	h := &harness{repo: auth.NewRepositoryManager(db)}

	cc := webauth.ClientConfig{
		SigningKey: []byte("test-signing-key-0123456789"),
		Redis:      rdb,
		Line:       provider,
	}

	resolver := auth.NewResolver(h.repo.Members(),
		auth.WithResolverLogger(auth.NoopLogger()),
		auth.WithExternalAppID(liffAppID),
	)

	app := fiber.New()
	app.Use(webauth.Middleware(resolver, cc))

	webauth.NewController(h.repo, cc).
		WithActivitySink(auth.ActivitySinkFunc(func(_ context.Context, evt auth.ActivityEvent) error {
			h.events = append(h.events, evt)
			return nil
		})).
		Register(app)

	guard := webauth.Guard(auth.NewRouteGuard("/auth", "/healthz"))
	ok := func(c *fiber.Ctx) error { return c.SendString(c.Path()) }

	app.Get("/login", guard, ok)
	app.Get("/profile", guard, ok)
	app.Get("/dashboard", guard, ok)
	app.Get("/admin/accounts", guard, webauth.RequireCapability(auth.CapabilityManageAccounts), ok)
	app.Get("/admin/members", webauth.RequireCapability(auth.CapabilityManageMembers), ok)

	h.app = app
	return h
}

func (h *harness) member(t *testing.T, m auth.Member) *auth.Member {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	m.PasswordHash = hash
	out, err := h.repo.Members().Register(context.Background(), &m)
	require.NoError(t, err)
	return out
}

type browser struct {
	ua    string
	token string
	jar   map[string]string
}

func newBrowser(ua string) *browser {
	return &browser{ua: ua, jar: map[string]string{}}
}

func (b *browser) do(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderUserAgent, b.ua)
	req.Header.Set(fiber.HeaderAccept, fiber.MIMETextHTML)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	}
	if b.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+b.token)
	}
	for name, value := range b.jar {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	for _, c := range resp.Cookies() {
		if c.Value == "" || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(b.jar, c.Name)
			continue
		}
		b.jar[c.Name] = c.Value
	}
	return resp
}

type meResponse struct {
	State struct {
		IsLoading      bool         `json:"is_loading"`
		Environment    string       `json:"environment"`
		Member         *auth.Member `json:"member"`
		Roles          []string     `json:"roles"`
		ExternalUserID string       `json:"external_user_id"`
		LoggedOut      bool         `json:"logged_out"`
	} `json:"state"`
	Capabilities []string `json:"capabilities"`
}

func (b *browser) me(t *testing.T, app *fiber.App) meResponse {
	t.Helper()
	resp := b.do(t, app, fiber.MethodGet, "/auth/me", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out meResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func lineToken(t *testing.T, sub, name string) string {
	t.Helper()
	claims := line.IDTokenClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    line.Issuer,
			Subject:   sub,
			Audience:  jwt.ClaimStrings{channelID},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(channelSecret))
	require.NoError(t, err)
	return s
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Code
}

func TestStandardBrowserLoginFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.member(t, auth.Member{ID: memberOneID, Email: "books@example.com", Roles: auth.Roles{auth.RoleAccountant}, Status: auth.MemberStatusActive})

	b := newBrowser(standardUA)

	resp := b.do(t, h.app, fiber.MethodGet, "/dashboard", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get(fiber.HeaderLocation))

	resp = b.do(t, h.app, fiber.MethodGet, "/login", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = b.do(t, h.app, fiber.MethodPost, "/auth/login", webauth.LoginRequest{Email: "Books@Example.com", Password: password})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	me := b.me(t, h.app)
	require.NotNil(t, me.State.Member)
	assert.Equal(t, memberOneID, me.State.Member.ID)
	assert.Equal(t, "standard", me.State.Environment)
	assert.False(t, me.State.IsLoading)
	assert.Equal(t, []string{auth.RoleAccountant}, me.State.Roles)
	assert.Equal(t, []string{string(auth.CapabilityManageAccounts)}, me.Capabilities)

	resp = b.do(t, h.app, fiber.MethodGet, "/admin/accounts", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = b.do(t, h.app, fiber.MethodGet, "/admin/members", nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	require.NotEmpty(t, h.events)
	assert.Equal(t, auth.ActivityEventLoginSuccess, h.events[0].EventType)
}

func TestLogoutOverridesCachedHandle(t *testing.T) {
	h := newHarness(t, nil)
	h.member(t, auth.Member{ID: memberOneID, Email: "taro@example.com", Status: auth.MemberStatusActive})

	b := newBrowser(standardUA)
	resp := b.do(t, h.app, fiber.MethodPost, "/auth/login", webauth.LoginRequest{Email: "taro@example.com", Password: password})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotNil(t, b.me(t, h.app).State.Member)

	resp = b.do(t, h.app, fiber.MethodPost, "/auth/logout", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	me := b.me(t, h.app)
	assert.Nil(t, me.State.Member)
	assert.True(t, me.State.LoggedOut)
	assert.Empty(t, me.State.Roles)

	resp = b.do(t, h.app, fiber.MethodGet, "/dashboard", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get(fiber.HeaderLocation))

	// signing in again clears the flag
	resp = b.do(t, h.app, fiber.MethodPost, "/auth/login", webauth.LoginRequest{Email: "taro@example.com", Password: password})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotNil(t, b.me(t, h.app).State.Member)
}

func TestLoginRejections(t *testing.T) {
	h := newHarness(t, nil)
	h.member(t, auth.Member{ID: memberOneID, Email: "active@example.com", Status: auth.MemberStatusActive})
	h.member(t, auth.Member{ID: memberTwoID, Email: "gone@example.com", Status: auth.MemberStatusWithdrawn})

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"wrong password", webauth.LoginRequest{Email: "active@example.com", Password: "nope-nope"}, fiber.StatusUnauthorized, auth.TextCodeInvalidCredentials},
		{"unknown email", webauth.LoginRequest{Email: "who@example.com", Password: password}, fiber.StatusUnauthorized, auth.TextCodeInvalidCredentials},
		{"withdrawn", webauth.LoginRequest{Email: "gone@example.com", Password: password}, fiber.StatusForbidden, auth.TextCodeLoginNotAllowed},
		{"invalid payload", webauth.LoginRequest{Email: "not-an-email"}, fiber.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := newBrowser(standardUA).do(t, h.app, fiber.MethodPost, "/auth/login", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, resp))
			}
		})
	}
}

func TestForgedHandleCookieIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.member(t, auth.Member{ID: memberOneID, Email: "admin@example.com", Roles: auth.Roles{auth.RoleSystemAdmin}, Status: auth.MemberStatusActive})

	b := newBrowser(standardUA)
	b.jar[auth.KeyMemberHandle] = memberOneID

	me := b.me(t, h.app)
	assert.Nil(t, me.State.Member)
	assert.Empty(t, me.Capabilities)
}

func TestEmbeddedBrowserRedirectsToLine(t *testing.T) {
	h := newHarness(t, nil)

	resp := newBrowser(embeddedUA).do(t, h.app, fiber.MethodGet, "/dashboard", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://liff.line.me/"+liffAppID, resp.Header.Get(fiber.HeaderLocation))

	req := httptest.NewRequest(fiber.MethodGet, "/auth/me", nil)
	req.Header.Set(fiber.HeaderUserAgent, embeddedUA)
	req.Header.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "https://liff.line.me/"+liffAppID, body["login_url"])
}

func TestEmbeddedBrowserResolvesLinkedMember(t *testing.T) {
	h := newHarness(t, nil)
	h.member(t, auth.Member{ID: memberOneID, Email: "taro@example.com", ExternalUserID: "U1", Roles: auth.Roles{auth.RoleAdmin}, Status: auth.MemberStatusActive})

	b := newBrowser(embeddedUA)
	b.token = lineToken(t, "U1", "Taro")

	me := b.me(t, h.app)
	require.NotNil(t, me.State.Member)
	assert.Equal(t, memberOneID, me.State.Member.ID)
	assert.Equal(t, "embedded", me.State.Environment)
	assert.Equal(t, "U1", me.State.ExternalUserID)
	assert.Equal(t, []string{auth.RoleAdmin}, me.State.Roles)

	resp := b.do(t, h.app, fiber.MethodGet, "/admin/members", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// admin does not grant the accounts capability
	resp = b.do(t, h.app, fiber.MethodGet, "/admin/accounts", nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestEmbeddedBrowserLinksUnknownIdentity(t *testing.T) {
	h := newHarness(t, nil)
	h.member(t, auth.Member{ID: memberOneID, Email: "hanako@example.com", Status: auth.MemberStatusActive})

	b := newBrowser(embeddedUA)
	b.token = lineToken(t, "U9", "Hanako")

	resp := b.do(t, h.app, fiber.MethodGet, "/dashboard", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/profile", resp.Header.Get(fiber.HeaderLocation))

	resp = b.do(t, h.app, fiber.MethodPost, "/auth/line/link", webauth.LoginRequest{Email: "hanako@example.com", Password: password})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	me := b.me(t, h.app)
	require.NotNil(t, me.State.Member)
	assert.Equal(t, memberOneID, me.State.Member.ID)

	resp = b.do(t, h.app, fiber.MethodGet, "/dashboard", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var linked bool
	for _, evt := range h.events {
		if evt.EventType == auth.ActivityEventExternalLinked {
			linked = true
		}
	}
	assert.True(t, linked)
}

func TestLinkRequiresLineIdentity(t *testing.T) {
	h := newHarness(t, nil)
	h.member(t, auth.Member{ID: memberOneID, Email: "hanako@example.com", Status: auth.MemberStatusActive})

	resp := newBrowser(standardUA).do(t, h.app, fiber.MethodPost, "/auth/line/link", webauth.LoginRequest{Email: "hanako@example.com", Password: password})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, auth.TextCodeExternalLogin, errorCode(t, resp))
}

func TestEmbeddedLogoutPersistsInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, rdb)
	h.member(t, auth.Member{ID: memberOneID, Email: "taro@example.com", ExternalUserID: "U1", Status: auth.MemberStatusActive})

	b := newBrowser(embeddedUA)
	b.token = lineToken(t, "U1", "Taro")
	require.NotNil(t, b.me(t, h.app).State.Member)
	require.NotEmpty(t, b.jar[webauth.DefaultDeviceCookie])

	resp := b.do(t, h.app, fiber.MethodPost, "/auth/logout", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// the LINE token is still valid but the flag wins
	me := b.me(t, h.app)
	assert.True(t, me.State.LoggedOut)
	assert.Nil(t, me.State.Member)

	// a new device starts clean
	other := newBrowser(embeddedUA)
	other.token = b.token
	assert.NotNil(t, other.me(t, h.app).State.Member)
}

func TestRequireCapabilityWithoutMember(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(fiber.MethodGet, "/admin/members", nil)
	req.Header.Set(fiber.HeaderUserAgent, standardUA)
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestFormatValidationErrorToMap(t *testing.T) {
	err := webauth.LoginRequest{Email: "bad"}.Validate()
	require.Error(t, err)

	fields := webauth.FormatValidationErrorToMap(err)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
}
