package csrf

import "github.com/gofiber/fiber/v2"

// RouteConfig controls the token bootstrap endpoint.
type RouteConfig struct {
	Path       string
	ContextKey string
	FormField  string
	HeaderName string
}

const defaultRoutePath = "/csrf"

// RegisterRoutes adds a GET endpoint returning the current token and the
// names it is accepted under. The middleware must run before it.
func RegisterRoutes(app fiber.Router, cfg ...RouteConfig) {
	conf := routeConfigDefault(cfg...)
	app.Get(conf.Path, tokenHandler(conf))
}

func routeConfigDefault(cfg ...RouteConfig) RouteConfig {
	conf := RouteConfig{
		Path:       defaultRoutePath,
		ContextKey: DefaultContextKey,
		FormField:  DefaultFormFieldName,
		HeaderName: DefaultHeaderName,
	}
	if len(cfg) == 0 {
		return conf
	}

	c := cfg[0]
	if c.Path != "" {
		conf.Path = c.Path
	}
	if c.ContextKey != "" {
		conf.ContextKey = c.ContextKey
	}
	if c.FormField != "" {
		conf.FormField = c.FormField
	}
	if c.HeaderName != "" {
		conf.HeaderName = c.HeaderName
	}
	return conf
}

func tokenHandler(cfg RouteConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := Token(c, cfg.ContextKey)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": ErrTokenMissing.Message,
				"code":  TextCodeTokenMissing,
			})
		}
		return c.JSON(fiber.Map{
			"token":      token,
			"form_field": cfg.FormField,
			"header":     cfg.HeaderName,
		})
	}
}
