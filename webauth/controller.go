package webauth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	auth "github.com/picklehub/go-club-auth"
)

type ControllerRoutes struct {
	Login    string
	Logout   string
	LinkLine string
	Me       string
}

// Controller serves the email login, logout, LINE linking and the current
// actor endpoints.
type Controller struct {
	Debug    bool
	Logger   auth.Logger
	Repo     auth.RepositoryManager
	Routes   *ControllerRoutes
	Client   ClientConfig
	Activity auth.ActivitySink
	now      func() time.Time
}

// NewController creates a controller with the default routes.
func NewController(repo auth.RepositoryManager, client ClientConfig, opts ...Option) *Controller {
	o := newOptions(opts)
	return &Controller{
		Debug:  o.debug,
		Logger: o.logger,
		Repo:   repo,
		Client: client,
		Routes: &ControllerRoutes{
			Login:    "/auth/login",
			Logout:   "/auth/logout",
			LinkLine: "/auth/line/link",
			Me:       "/auth/me",
		},
		now: time.Now,
	}
}

// WithActivitySink sets the sink for login and logout events.
func (a *Controller) WithActivitySink(sink auth.ActivitySink) *Controller {
	a.Activity = sink
	return a
}

// Register mounts the controller routes.
func (a *Controller) Register(router fiber.Router) {
	router.Post(a.Routes.Login, a.LoginPost)
	router.Post(a.Routes.Logout, a.LogoutPost)
	router.Post(a.Routes.LinkLine, a.LinkLinePost)
	router.Get(a.Routes.Me, a.MeGet)
}

type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 100)),
	)
}

// LoginPost signs a member in with email and password. The member handle is
// cached in session storage and any logout flag is cleared.
func (a *Controller) LoginPost(c *fiber.Ctx) error {
	member, err := a.authenticate(c)
	if err != nil {
		return errorResponse(c, err)
	}

	ctx := c.UserContext()
	client := ClientFromFiber(c, a.Client)

	if err := client.Session.Set(ctx, auth.KeyMemberHandle, member.ID); err != nil {
		return errorResponse(c, errors.Wrap(err, errors.CategoryInternal, "failed to store member handle"))
	}
	a.clearLogout(ctx, client)

	a.record(ctx, auth.ActivityEvent{
		EventType: auth.ActivityEventLoginSuccess,
		Actor:     auth.ActorRef{ID: member.ID, Type: "member"},
		MemberID:  member.ID,
		Metadata:  map[string]any{"method": "password"},
	})

	return c.JSON(memberPayload(member))
}

// LogoutPost raises the logout flag in both storages and drops the member
// handle. The flag outlives a still valid LINE login.
func (a *Controller) LogoutPost(c *fiber.Ctx) error {
	ctx := c.UserContext()
	client := ClientFromFiber(c, a.Client)

	for _, store := range []auth.Storage{client.Session, client.Persistent} {
		if store == nil {
			continue
		}
		if err := store.Set(ctx, auth.KeyLoggedOut, "1"); err != nil {
			return errorResponse(c, errors.Wrap(err, errors.CategoryInternal, "failed to store logout flag"))
		}
	}

	if err := client.Session.Delete(ctx, auth.KeyMemberHandle); err != nil {
		a.Logger.Warn("failed to remove member handle: %v", err)
	}

	memberID := ""
	if state, ok := StateFromFiber(c); ok && state.Member != nil {
		memberID = state.Member.ID
	}

	a.record(ctx, auth.ActivityEvent{
		EventType: auth.ActivityEventLogout,
		Actor:     auth.ActorRef{ID: memberID, Type: "member"},
		MemberID:  memberID,
	})

	return c.JSON(fiber.Map{"logged_out": true})
}

// LinkLinePost back-fills the LINE user id of the member identified by the
// posted credentials. It requires a resolved LINE identity.
func (a *Controller) LinkLinePost(c *fiber.Ctx) error {
	state, ok := StateFromFiber(c)
	if !ok || !state.HasExternalIdentity() {
		return errorResponse(c, auth.ErrExternalLogin.Clone().WithMetadata(map[string]any{
			"cause": "no LINE identity on this request",
		}))
	}

	member, err := a.authenticate(c)
	if err != nil {
		return errorResponse(c, err)
	}

	ctx := c.UserContext()

	handler := auth.NewLinkExternalIdentityHandler(a.Repo).
		WithActivitySink(a.Activity).
		WithLogger(a.Logger)

	if err := handler.Execute(ctx, auth.LinkExternalIdentityMessage{
		MemberID:       member.ID,
		ExternalUserID: state.ExternalUserID,
		Actor:          auth.ActorRef{ID: member.ID, Type: "member"},
	}); err != nil {
		return errorResponse(c, err)
	}

	a.clearLogout(ctx, ClientFromFiber(c, a.Client))

	member.ExternalUserID = state.ExternalUserID
	return c.JSON(memberPayload(member))
}

// MeGet returns the resolved state of the request and the capabilities it grants.
func (a *Controller) MeGet(c *fiber.Ctx) error {
	state, ok := StateFromFiber(c)
	if !ok {
		return errorResponse(c, ErrUnauthenticated)
	}

	if a.Debug {
		a.Logger.Debug("me: %s", print.MaybePrettyJSON(state))
	}

	return c.JSON(fiber.Map{
		"state":        state,
		"capabilities": auth.Capabilities(state.Roles),
	})
}

func (a *Controller) authenticate(c *fiber.Ctx) (*auth.Member, error) {
	payload := new(LoginRequest)
	if err := c.BodyParser(payload); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "unable to parse login payload").
			WithCode(errors.CodeBadRequest)
	}

	if err := payload.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid login payload").
			WithCode(errors.CodeBadRequest).
			WithMetadata(FormatValidationErrorToMap(err))
	}

	ctx := c.UserContext()
	email := strings.ToLower(strings.TrimSpace(payload.Email))

	member, err := a.Repo.Members().FindMemberByEmail(ctx, email)
	if err != nil {
		if auth.IsMemberNotFound(err) {
			a.loginFailed(ctx, "", email, "unknown email")
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := auth.ComparePasswordAndHash(payload.Password, member.PasswordHash); err != nil {
		a.loginFailed(ctx, member.ID, email, "password mismatch")
		return nil, auth.ErrInvalidCredentials
	}

	if !auth.CanLogin(member.Status) {
		a.loginFailed(ctx, member.ID, email, "status "+string(member.Status))
		return nil, auth.ErrLoginNotAllowed.Clone().WithMetadata(map[string]any{
			"status": string(member.Status),
		})
	}

	return member, nil
}

func (a *Controller) clearLogout(ctx context.Context, client auth.Client) {
	for _, store := range []auth.Storage{client.Session, client.Persistent} {
		if store == nil {
			continue
		}
		if err := store.Delete(ctx, auth.KeyLoggedOut); err != nil {
			a.Logger.Warn("failed to clear logout flag: %v", err)
		}
	}
}

func (a *Controller) loginFailed(ctx context.Context, memberID, email, reason string) {
	a.Logger.Info("login failed for %s: %s", email, reason)
	a.record(ctx, auth.ActivityEvent{
		EventType: auth.ActivityEventLoginFailure,
		MemberID:  memberID,
		Metadata:  map[string]any{"email": email, "reason": reason},
	})
}

func (a *Controller) record(ctx context.Context, event auth.ActivityEvent) {
	if a.Activity == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now()
	}
	if err := a.Activity.Record(ctx, event); err != nil {
		a.Logger.Warn("activity sink error for %s: %v", event.EventType, err)
	}
}

func memberPayload(member *auth.Member) fiber.Map {
	return fiber.Map{
		"member":       member,
		"roles":        member.Roles,
		"capabilities": auth.Capabilities(member.Roles),
	}
}

// FormatValidationErrorToMap flattens ozzo validation errors by field.
func FormatValidationErrorToMap(err error) map[string]any {
	out := map[string]any{}
	if errs, ok := err.(validation.Errors); ok {
		for field, fieldErr := range errs {
			if fieldErr != nil {
				out[field] = fieldErr.Error()
			}
		}
	}
	return out
}
