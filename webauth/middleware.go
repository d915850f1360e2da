package webauth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	auth "github.com/picklehub/go-club-auth"
)

const stateLocalsKey = "auth_state"

// Option customizes the middleware and the controller.
type Option func(*options)

type options struct {
	logger auth.Logger
	debug  bool
}

// WithLogger sets the logger.
func WithLogger(logger auth.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDebug logs every resolved state.
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

func newOptions(opts []Option) *options {
	o := &options{logger: auth.NoopLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Middleware resolves the auth state of every request and stores it in the
// fiber locals and the user context. When resolution started the LINE login
// flow the browser is redirected to it.
func Middleware(resolver *auth.Resolver, cfg ClientConfig, opts ...Option) fiber.Handler {
	o := newOptions(opts)

	return func(c *fiber.Ctx) error {
		client := ClientFromFiber(c, cfg)
		state := resolver.Resolve(c.UserContext(), client)

		if o.debug {
			o.logger.Debug("auth state for %s: %s", c.Path(), print.MaybePrettyJSON(state))
		}

		c.Locals(stateLocalsKey, state)
		c.SetUserContext(auth.WithContext(c.UserContext(), state))

		if state.Redirecting {
			return loginRedirect(c, client)
		}

		return c.Next()
	}
}

type redirector interface {
	Redirect() string
}

func loginRedirect(c *fiber.Ctx, client auth.Client) error {
	target := ""
	if r, ok := client.External.(redirector); ok {
		target = r.Redirect()
	}

	if target == "" || wantsJSON(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":     "login required",
			"code":      auth.TextCodeExternalLogin,
			"login_url": target,
		})
	}

	return c.Redirect(target, fiber.StatusFound)
}

// StateFromFiber returns the state stored by Middleware.
func StateFromFiber(c *fiber.Ctx) (auth.ResolvedAuthState, bool) {
	state, ok := c.Locals(stateLocalsKey).(auth.ResolvedAuthState)
	return state, ok
}

// Guard sends actors without a member to the login or profile page. Requests
// that did not pass through Middleware are let through.
func Guard(guard auth.RouteGuard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state, ok := StateFromFiber(c)
		if !ok {
			return c.Next()
		}

		target := guard.Redirect(state, c.Path())
		if target == "" {
			return c.Next()
		}

		if wantsJSON(c) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":    "authentication required",
				"redirect": target,
			})
		}
		return c.Redirect(target, fiber.StatusFound)
	}
}

// RequireCapability rejects actors whose roles do not grant capability.
func RequireCapability(capability auth.Capability) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state, ok := StateFromFiber(c)
		if !ok || !state.Authenticated() {
			return errorResponse(c, ErrUnauthenticated)
		}

		if !state.Can(capability) {
			return errorResponse(c, ErrForbidden.Clone().WithMetadata(map[string]any{
				"capability": string(capability),
			}))
		}

		return c.Next()
	}
}

var ErrUnauthenticated = errors.New("authentication required", errors.CategoryAuth).
	WithTextCode("UNAUTHENTICATED").
	WithCode(errors.CodeUnauthorized)

var ErrForbidden = errors.New("missing capability", errors.CategoryAuthz).
	WithTextCode("FORBIDDEN").
	WithCode(errors.CodeForbidden)

func errorResponse(c *fiber.Ctx, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	status := richErr.Code
	if status == 0 {
		status = statusFor(richErr)
	}

	body := fiber.Map{
		"error": richErr.Message,
		"code":  richErr.TextCode,
	}
	if richErr.Category == errors.CategoryValidation && len(richErr.Metadata) > 0 {
		body["fields"] = richErr.Metadata
	}

	return c.Status(status).JSON(body)
}

func statusFor(richErr *errors.Error) int {
	switch richErr.Category {
	case errors.CategoryAuth:
		return fiber.StatusUnauthorized
	case errors.CategoryAuthz:
		return fiber.StatusForbidden
	case errors.CategoryValidation, errors.CategoryBadInput:
		return fiber.StatusBadRequest
	case errors.CategoryNotFound:
		return fiber.StatusNotFound
	case errors.CategoryConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func wantsJSON(c *fiber.Ctx) bool {
	if c.XHR() {
		return true
	}
	accept := c.Get(fiber.HeaderAccept)
	return strings.Contains(accept, fiber.MIMEApplicationJSON) && !strings.Contains(accept, fiber.MIMETextHTML)
}
