package auth

import "strings"

const (
	DefaultLoginPath   = "/login"
	DefaultProfilePath = "/profile"
)

// RouteGuard decides where a resolved actor may go. It holds no state.
type RouteGuard struct {
	LoginPath   string
	ProfilePath string
	// PublicPaths are reachable anonymously, matched by prefix
	PublicPaths []string
}

// NewRouteGuard returns a guard with the default login and profile paths.
func NewRouteGuard(public ...string) RouteGuard {
	return RouteGuard{
		LoginPath:   DefaultLoginPath,
		ProfilePath: DefaultProfilePath,
		PublicPaths: public,
	}
}

// Redirect returns the path the actor must be sent to, or "" to stay.
//
// A pass that is still loading never redirects. An actor known only by its
// external identity is sent to the profile page to register or link, anyone
// else without a member goes to the login page.
func (g RouteGuard) Redirect(state ResolvedAuthState, path string) string {
	if state.IsLoading || g.isPublic(path) {
		return ""
	}

	if state.Member != nil {
		return ""
	}

	if state.HasExternalIdentity() {
		if g.profilePath() == path {
			return ""
		}
		return g.profilePath()
	}

	if g.loginPath() == path {
		return ""
	}
	return g.loginPath()
}

func (g RouteGuard) isPublic(path string) bool {
	for _, p := range g.PublicPaths {
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func (g RouteGuard) loginPath() string {
	if g.LoginPath == "" {
		return DefaultLoginPath
	}
	return g.LoginPath
}

func (g RouteGuard) profilePath() string {
	if g.ProfilePath == "" {
		return DefaultProfilePath
	}
	return g.ProfilePath
}
