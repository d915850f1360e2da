package webauth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	auth "github.com/picklehub/go-club-auth"
	"github.com/picklehub/go-club-auth/config"
	"github.com/picklehub/go-club-auth/line"
	"github.com/picklehub/go-club-auth/storage"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultDeviceCookie     = "club_device"
	DefaultIDTokenCookie    = "line_id_token"
	DefaultAccessTokenParam = "line_access_token"
	// AccessTokenHeader carries the LIFF access token on API calls
	AccessTokenHeader = "X-Line-Access-Token"
)

const clientLocalsKey = "auth_client"

// ClientConfig describes where the client state of a request lives.
type ClientConfig struct {
	// SigningKey signs every storage value. Without it values are stored in the clear.
	SigningKey []byte
	Cookies    storage.CookieOptions
	// Redis holds persistent storage keyed by the device cookie. When nil
	// persistent storage falls back to long lived cookies.
	Redis         redis.Cmdable
	RedisPrefix   string
	DeviceCookie  string
	PersistentTTL time.Duration
	// Line builds the external login capability. Nil disables it.
	Line             *line.Provider
	IDTokenCookie    string
	AccessTokenParam string
}

// NewClientConfig maps the application configuration.
func NewClientConfig(cfg *config.Config, provider *line.Provider, rdb redis.Cmdable) ClientConfig {
	cc := ClientConfig{
		SigningKey: []byte(cfg.Session.SigningKey),
		Cookies: storage.CookieOptions{
			Prefix:   cfg.Session.CookiePrefix,
			Secure:   cfg.Session.Secure,
			SameSite: cfg.Session.SameSite,
		},
		RedisPrefix:      cfg.Redis.Prefix,
		DeviceCookie:     cfg.Session.DeviceCookie,
		PersistentTTL:    cfg.GetPersistentTTL(),
		Line:             provider,
		IDTokenCookie:    cfg.Session.IDTokenCookie,
		AccessTokenParam: cfg.Session.AccessTokenParam,
	}
	if cfg.Redis.Enabled && rdb != nil {
		cc.Redis = rdb
	}
	return cc
}

func (cfg ClientConfig) withDefaults() ClientConfig {
	if cfg.DeviceCookie == "" {
		cfg.DeviceCookie = DefaultDeviceCookie
	}
	if cfg.IDTokenCookie == "" {
		cfg.IDTokenCookie = DefaultIDTokenCookie
	}
	if cfg.AccessTokenParam == "" {
		cfg.AccessTokenParam = DefaultAccessTokenParam
	}
	if cfg.PersistentTTL <= 0 {
		cfg.PersistentTTL = 30 * 24 * time.Hour
	}
	return cfg
}

// ClientFromFiber builds the resolver client of the request. The client is
// cached on the request so that storage writes are visible to later reads.
func ClientFromFiber(c *fiber.Ctx, cfg ClientConfig) auth.Client {
	if client, ok := c.Locals(clientLocalsKey).(auth.Client); ok {
		return client
	}

	cfg = cfg.withDefaults()

	client := auth.Client{
		UserAgent:  c.Get(fiber.HeaderUserAgent),
		Session:    sessionStorage(c, cfg),
		Persistent: persistentStorage(c, cfg),
	}

	if cfg.Line != nil {
		client.External = cfg.Line.Capability(idToken(c, cfg), accessToken(c, cfg))
	}

	c.Locals(clientLocalsKey, client)
	return client
}

func sessionStorage(c *fiber.Ctx, cfg ClientConfig) auth.Storage {
	opts := cfg.Cookies
	opts.MaxAge = 0
	return sign(storage.NewCookie(c, opts), cfg.SigningKey)
}

func persistentStorage(c *fiber.Ctx, cfg ClientConfig) auth.Storage {
	if cfg.Redis != nil {
		return storage.NewRedis(cfg.Redis, deviceID(c, cfg),
			storage.WithRedisPrefix(cfg.RedisPrefix),
			storage.WithRedisTTL(cfg.PersistentTTL),
		)
	}

	opts := cfg.Cookies
	opts.Prefix += "p_"
	opts.MaxAge = cfg.PersistentTTL
	return sign(storage.NewCookie(c, opts), cfg.SigningKey)
}

func sign(inner auth.Storage, key []byte) auth.Storage {
	if len(key) == 0 {
		return inner
	}
	return storage.NewSigned(inner, key)
}

// deviceID returns the device cookie, issuing one on first visit.
func deviceID(c *fiber.Ctx, cfg ClientConfig) string {
	if id := c.Cookies(cfg.DeviceCookie); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}

	id := uuid.NewString()
	c.Cookie(&fiber.Cookie{
		Name:     cfg.DeviceCookie,
		Value:    id,
		Path:     "/",
		Domain:   cfg.Cookies.Domain,
		Secure:   cfg.Cookies.Secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		MaxAge:   int(cfg.PersistentTTL.Seconds()),
		Expires:  time.Now().Add(cfg.PersistentTTL),
	})
	return id
}

func idToken(c *fiber.Ctx, cfg ClientConfig) string {
	header := c.Get(fiber.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return c.Cookies(cfg.IDTokenCookie)
}

func accessToken(c *fiber.Ctx, cfg ClientConfig) string {
	if token := c.Get(AccessTokenHeader); token != "" {
		return token
	}
	if token := c.Query(cfg.AccessTokenParam); token != "" {
		return token
	}
	return c.Cookies(cfg.AccessTokenParam)
}
