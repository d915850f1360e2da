package auth

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/goliatone/go-errors"
)

// ResolvedAuthState is the outcome of one resolution pass. While IsLoading is
// true the remaining fields are partial and must not be read as final.
type ResolvedAuthState struct {
	IsLoading           bool        `json:"is_loading"`
	Environment         Environment `json:"environment"`
	Member              *Member     `json:"member"`
	Roles               Roles       `json:"roles"`
	ExternalUserID      string      `json:"external_user_id,omitempty"`
	ExternalDisplayName string      `json:"external_display_name,omitempty"`
	// LoggedOut is set when the pass ended on the logout flag
	LoggedOut bool `json:"logged_out,omitempty"`
	// Redirecting is set when the pass was abandoned for the external login
	// flow. IsLoading stays true.
	Redirecting bool `json:"redirecting,omitempty"`
}

// Authenticated reports whether a member was resolved.
func (s ResolvedAuthState) Authenticated() bool {
	return !s.IsLoading && s.Member != nil
}

// HasExternalIdentity reports whether an external user id is known.
func (s ResolvedAuthState) HasExternalIdentity() bool {
	return s.ExternalUserID != ""
}

// Can evaluates a capability against the resolved roles.
func (s ResolvedAuthState) Can(capability Capability) bool {
	if s.IsLoading {
		return false
	}
	return Can(s.Roles, capability)
}

// Clone returns a copy that shares neither the roles slice nor the member.
func (s ResolvedAuthState) Clone() ResolvedAuthState {
	out := s
	out.Roles = append(Roles{}, s.Roles...)
	out.Member = s.Member.Clone()
	return out
}

// Client is what the resolver can observe of the caller for one pass.
type Client struct {
	UserAgent string
	// Persistent lives until an explicit logout
	Persistent Storage
	// Session lives as long as the browser tab
	Session  Storage
	External ExternalLogin
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger used for swallowed failures.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithExternalAppID sets the LINE app id passed to ExternalLogin.Init.
func WithExternalAppID(appID string) ResolverOption {
	return func(r *Resolver) {
		r.appID = appID
	}
}

// Resolver derives the current actor from the client environment, client
// storage and the member store. It never returns errors: failures degrade to
// the anonymous state and are logged.
type Resolver struct {
	finder MemberFinder
	appID  string
	logger Logger
}

// NewResolver creates a resolver backed by finder.
func NewResolver(finder MemberFinder, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		finder: finder,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve runs a single resolution pass and returns its final state. When
// the external login flow was started the returned state has IsLoading and
// Redirecting set.
func (r *Resolver) Resolve(ctx context.Context, client Client) ResolvedAuthState {
	p := &pass{}
	r.run(ctx, client, p)
	return p.state.Clone()
}

var errPassAbandoned = stderrors.New("resolution pass abandoned")

// pass funnels every state write of one resolution through commit so the
// owner can drop writes of a superseded pass.
type pass struct {
	state    ResolvedAuthState
	commitFn func(update func(*ResolvedAuthState)) bool
}

func (p *pass) commit(update func(*ResolvedAuthState)) error {
	if p.commitFn == nil {
		update(&p.state)
		return nil
	}
	if !p.commitFn(update) {
		return errPassAbandoned
	}
	return nil
}

func (r *Resolver) run(ctx context.Context, client Client, p *pass) {
	if err := p.commit(func(s *ResolvedAuthState) {
		*s = ResolvedAuthState{IsLoading: true, Roles: Roles{}}
	}); err != nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("auth resolution panicked: %v", rec)
			_ = p.commit(func(s *ResolvedAuthState) { s.IsLoading = false })
		}
	}()

	err := r.resolve(ctx, client, p)
	switch {
	case err == nil:
	case stderrors.Is(err, errPassAbandoned):
		r.logger.Debug("auth resolution superseded, dropping late result")
	default:
		r.logger.Error("auth resolution failed, continuing as anonymous: %v", err)
		_ = p.commit(func(s *ResolvedAuthState) { s.IsLoading = false })
	}
}

func (r *Resolver) resolve(ctx context.Context, client Client, p *pass) error {
	env := ClassifyEnvironment(client.UserAgent)
	if err := p.commit(func(s *ResolvedAuthState) { s.Environment = env }); err != nil {
		return err
	}

	flags := client.Session
	if env == EnvironmentEmbedded {
		flags = client.Persistent
	}

	_, loggedOut, err := read(ctx, flags, KeyLoggedOut)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to read logout flag")
	}

	if loggedOut {
		return p.commit(func(s *ResolvedAuthState) {
			*s = ResolvedAuthState{Environment: env, Roles: Roles{}, LoggedOut: true}
		})
	}

	if env == EnvironmentEmbedded {
		return r.resolveEmbedded(ctx, client, p)
	}
	return r.resolveStandard(ctx, client, p)
}

func (r *Resolver) resolveEmbedded(ctx context.Context, client Client, p *pass) error {
	ext := client.External
	if ext == nil {
		return ErrExternalLogin.Clone().WithMetadata(map[string]any{
			"reason": "no external login capability for embedded browser",
		})
	}

	appID := r.appID
	if appID == "" {
		appID = DefaultExternalAppID
	}

	if err := ext.Init(ctx, ExternalLoginConfig{AppID: appID}); err != nil {
		return errors.Wrap(err, errors.CategoryAuth, "external login init failed")
	}

	loggedIn, err := ext.IsLoggedIn(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryAuth, "external login state unavailable")
	}

	if !loggedIn {
		if err := ext.Login(ctx); err != nil {
			return errors.Wrap(err, errors.CategoryAuth, "external login redirect failed")
		}
		// control has left the application, IsLoading stays true
		return p.commit(func(s *ResolvedAuthState) { s.Redirecting = true })
	}

	profile, err := ext.Profile(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryAuth, "external profile unavailable")
	}

	if err := p.commit(func(s *ResolvedAuthState) {
		s.ExternalUserID = profile.ExternalUserID
		s.ExternalDisplayName = profile.DisplayName
	}); err != nil {
		return err
	}

	if profile.ExternalUserID != "" {
		member, err := r.lookup(ctx, "external_user_id", profile.ExternalUserID)
		if err != nil {
			return err
		}
		if member != nil {
			if err := p.commit(func(s *ResolvedAuthState) {
				s.Member = member
				s.Roles = append(Roles{}, member.Roles...)
			}); err != nil {
				return err
			}
		}
	}

	return p.commit(func(s *ResolvedAuthState) { s.IsLoading = false })
}

func (r *Resolver) resolveStandard(ctx context.Context, client Client, p *pass) error {
	handle, ok, err := read(ctx, client.Session, KeyMemberHandle)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to read member handle")
	}

	if ok && handle != "" {
		member, err := r.lookup(ctx, "id", handle)
		if err != nil {
			return err
		}
		if member != nil {
			if err := p.commit(func(s *ResolvedAuthState) {
				s.Member = member
				s.Roles = append(Roles{}, member.Roles...)
				s.ExternalUserID = member.ExternalUserID
			}); err != nil {
				return err
			}
		}
	}

	return p.commit(func(s *ResolvedAuthState) { s.IsLoading = false })
}

// lookup treats misses as the anonymous outcome and normalizes roles.
func (r *Resolver) lookup(ctx context.Context, field, value string) (*Member, error) {
	if r.finder == nil {
		return nil, fmt.Errorf("no member store configured")
	}

	var member *Member
	var err error
	if field == "external_user_id" {
		member, err = r.finder.FindMemberByExternalUserID(ctx, value)
	} else {
		member, err = r.finder.FindMemberByID(ctx, value)
	}
	if err != nil {
		if IsMemberNotFound(err) {
			r.logger.Debug("no member for %s=%s", field, value)
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "member lookup failed").
			WithMetadata(map[string]any{field: value})
	}
	if member == nil {
		return nil, nil
	}

	resolved := *member
	resolved.Roles = NormalizeRoles(member.Roles)
	return &resolved, nil
}

func read(ctx context.Context, store Storage, key string) (string, bool, error) {
	if store == nil {
		return "", false, nil
	}
	return store.Get(ctx, key)
}
