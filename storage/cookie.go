package storage

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/picklehub/go-club-auth"
)

// CookieOptions defines how storage cookies are issued.
type CookieOptions struct {
	Prefix   string
	Path     string
	Domain   string
	Secure   bool
	SameSite string
	// MaxAge of zero issues browser session cookies
	MaxAge time.Duration
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == "" {
		o.SameSite = fiber.CookieSameSiteLaxMode
	}
	return o
}

// Cookie stores values in cookies of the current request. Writes are visible
// to later reads of the same request.
type Cookie struct {
	c       *fiber.Ctx
	opts    CookieOptions
	pending map[string]*string
}

var _ auth.Storage = (*Cookie)(nil)

// NewCookie binds a cookie store to c.
func NewCookie(c *fiber.Ctx, opts CookieOptions) *Cookie {
	return &Cookie{
		c:       c,
		opts:    opts.normalize(),
		pending: map[string]*string{},
	}
}

func (s *Cookie) name(key string) string {
	return s.opts.Prefix + key
}

func (s *Cookie) Get(_ context.Context, key string) (string, bool, error) {
	if v, ok := s.pending[key]; ok {
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}

	v := s.c.Cookies(s.name(key))
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}

func (s *Cookie) Set(_ context.Context, key, value string) error {
	cookie := s.cookie(key, value)
	if s.opts.MaxAge > 0 {
		cookie.MaxAge = int(s.opts.MaxAge.Seconds())
		cookie.Expires = time.Now().Add(s.opts.MaxAge)
	} else {
		cookie.SessionOnly = true
	}

	s.c.Cookie(cookie)
	s.pending[key] = &value
	return nil
}

func (s *Cookie) Delete(_ context.Context, key string) error {
	cookie := s.cookie(key, "")
	cookie.Expires = time.Unix(1, 0)

	s.c.Cookie(cookie)
	s.pending[key] = nil
	return nil
}

func (s *Cookie) cookie(key, value string) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     s.name(key),
		Value:    value,
		Path:     s.opts.Path,
		Domain:   s.opts.Domain,
		Secure:   s.opts.Secure,
		HTTPOnly: true,
		SameSite: s.opts.SameSite,
	}
}
