package auth

import (
	"context"
	"fmt"
)

// Logger is the logging contract used across the package
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Storage is client-held key/value state. Implementations differ by
// lifetime: persistent until logout, or transient for one browser tab.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

const (
	// KeyMemberHandle holds the cached member id of a browser session
	KeyMemberHandle = "auth_member_id"
	// KeyLoggedOut is present after an explicit logout
	KeyLoggedOut = "auth_logged_out"
)

// DefaultExternalAppID is used when no LINE app id is configured.
const DefaultExternalAppID = "liff-app-id-not-configured"

// ExternalLoginConfig configures the external login capability.
type ExternalLoginConfig struct {
	AppID string
}

// ExternalProfile is the identity reported by the external login capability.
type ExternalProfile struct {
	ExternalUserID string `json:"external_user_id"`
	DisplayName    string `json:"display_name"`
}

// ExternalLogin is the messaging platform login capability (LINE).
type ExternalLogin interface {
	// Init is idempotent and must tolerate an empty app id
	Init(ctx context.Context, cfg ExternalLoginConfig) error
	IsLoggedIn(ctx context.Context) (bool, error)
	// Login starts the platform login flow. Control leaves the application.
	Login(ctx context.Context) error
	Profile(ctx context.Context) (ExternalProfile, error)
}

// MemberFinder is the lookup side of the member record store. A miss returns
// an error for which IsMemberNotFound is true.
type MemberFinder interface {
	FindMemberByID(ctx context.Context, id string) (*Member, error)
	FindMemberByExternalUserID(ctx context.Context, externalUserID string) (*Member, error)
}

type defLogger struct{}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger discards everything.
func NoopLogger() Logger { return noopLogger{} }

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
