// Package csrf protects cookie authenticated form posts with signed,
// device bound tokens.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/gofiber/fiber/v2"
)

const (
	TextCodeTokenMissing  = "CSRF_TOKEN_MISSING"
	TextCodeTokenMismatch = "CSRF_TOKEN_MISMATCH"
	TextCodeTokenExpired  = "CSRF_TOKEN_EXPIRED"
)

var (
	ErrTokenMissing = errors.New("csrf token missing", errors.CategoryBadInput).
			WithTextCode(TextCodeTokenMissing).
			WithCode(fiber.StatusBadRequest)

	ErrTokenMismatch = errors.New("csrf token mismatch", errors.CategoryAuthz).
				WithTextCode(TextCodeTokenMismatch).
				WithCode(fiber.StatusForbidden)

	ErrTokenExpired = errors.New("csrf token expired", errors.CategoryAuthz).
			WithTextCode(TextCodeTokenExpired).
			WithCode(fiber.StatusForbidden)
)

// DefaultTokenLength is the nonce length in bytes.
const DefaultTokenLength = 32

// DefaultContextKey is the Locals key holding the token for the request.
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the form field carrying the token.
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the header carrying the token.
const DefaultHeaderName = "X-CSRF-Token"

// Config defines the configuration for the CSRF middleware.
type Config struct {
	// Skip bypasses the check for a request.
	Skip func(*fiber.Ctx) bool

	TokenLength   int
	ContextKey    string
	FormFieldName string
	HeaderName    string

	// SubjectCookie names the cookie tokens are bound to, usually the
	// device cookie. Requests without it are bound to the client IP.
	SubjectCookie string

	// ErrorHandler renders validation failures.
	ErrorHandler fiber.ErrorHandler

	// SafeMethods are never checked.
	SafeMethods []string

	// Expiration bounds the lifetime of a token. Zero disables the check.
	Expiration time.Duration

	// SecureKey signs tokens. Keys shorter than 32 bytes are stretched
	// with SHA-256.
	SecureKey []byte

	now func() time.Time
}

// New creates the CSRF middleware. A fresh token is published in Locals on
// every request; unsafe methods must echo a valid one.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Skip != nil && cfg.Skip(c) {
			return c.Next()
		}

		token, err := generateToken(c, cfg)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}
		c.Locals(cfg.ContextKey, token)

		if slices.Contains(cfg.SafeMethods, strings.ToUpper(c.Method())) {
			return c.Next()
		}

		if err := validateToken(c, cfg, extractToken(c, cfg)); err != nil {
			return cfg.ErrorHandler(c, err)
		}
		return c.Next()
	}
}

// Token returns the token the middleware published for this request.
func Token(c *fiber.Ctx, contextKey ...string) string {
	key := DefaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}
	token, _ := c.Locals(key).(string)
	return token
}

func generateToken(c *fiber.Ctx, cfg Config) (string, error) {
	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "csrf nonce")
	}

	payload := fmt.Sprintf("%d:%s:%s", cfg.now().UTC().Unix(), hex.EncodeToString(nonce), subject(c, cfg))
	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func validateToken(c *fiber.Ctx, cfg Config, token string) error {
	if token == "" {
		return ErrTokenMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return ErrTokenMismatch
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}
	if _, err := hex.DecodeString(parts[1]); err != nil {
		return ErrTokenMismatch
	}
	signature, err := hex.DecodeString(parts[3])
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(signature, sign(cfg.SecureKey, strings.Join(parts[:3], ":"))) {
		return ErrTokenMismatch
	}
	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(subject(c, cfg))) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 {
		if cfg.now().UTC().After(time.Unix(timestamp, 0).Add(cfg.Expiration)) {
			return ErrTokenExpired
		}
	}
	return nil
}

func sign(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func extractToken(c *fiber.Ctx, cfg Config) string {
	if token := strings.TrimSpace(c.Get(cfg.HeaderName)); token != "" {
		return token
	}
	return strings.TrimSpace(c.FormValue(cfg.FormFieldName))
}

// subject binds a token to the device cookie, falling back to the IP.
// Colons are stripped so IPv6 addresses keep the token layout intact.
func subject(c *fiber.Ctx, cfg Config) string {
	if cfg.SubjectCookie != "" {
		if v := c.Cookies(cfg.SubjectCookie); v != "" {
			return "d_" + strings.ReplaceAll(v, ":", "")
		}
	}
	return "ip_" + strings.ReplaceAll(c.IP(), ":", "")
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions, fiber.MethodTrace}
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = 24 * time.Hour
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	cfg.SecureKey = initializeSecureKey(cfg.SecureKey)

	return cfg
}

func defaultErrorHandler(c *fiber.Ctx, err error) error {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		status := richErr.Code
		if status == 0 {
			status = fiber.StatusInternalServerError
		}
		return c.Status(status).JSON(fiber.Map{
			"error": richErr.Message,
			"code":  richErr.TextCode,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "csrf validation error",
	})
}

func initializeSecureKey(current []byte) []byte {
	if len(current) >= 32 {
		return current
	}
	if len(current) > 0 {
		sum := sha256.Sum256(append([]byte("csrf:"), current...))
		return sum[:]
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}
