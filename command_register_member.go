package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

var errInvalidPhone = errors.New("must be a valid phone number")

// DefaultPhoneRegion is used to parse phone numbers without a country code.
const DefaultPhoneRegion = "JP"

type RegisterMemberMessage struct {
	DisplayName    string   `json:"display_name"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone"`
	Password       string   `json:"password"`
	Roles          []string `json:"roles"`
	ExternalUserID string   `json:"external_user_id"`
	UseHashid      bool     `json:"-"`
}

func (e RegisterMemberMessage) Type() string { return "member.register" }

// Validate checks the registration payload.
func (e RegisterMemberMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.DisplayName, validation.Required, validation.Length(1, 120)),
		validation.Field(&e.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(&e.Phone, validation.By(validPhone)),
		validation.Field(&e.Roles, validation.By(knownRoles)),
	)
}

type RegisterMemberHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
	now      func() time.Time
	// Registered holds the last member created by Execute
	Registered *Member
}

// NewRegisterMemberHandler creates a handler with sane defaults.
func NewRegisterMemberHandler(repo RepositoryManager) *RegisterMemberHandler {
	return &RegisterMemberHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterMemberHandler) WithActivitySink(sink ActivitySink) *RegisterMemberHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterMemberHandler) WithLogger(logger Logger) *RegisterMemberHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterMemberHandler) Execute(ctx context.Context, event RegisterMemberMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during member registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterMemberHandler) execute(ctx context.Context, event RegisterMemberMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid member registration")
	}

	phone, err := NormalizePhone(event.Phone)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid phone number")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	member := &Member{}
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		member.PasswordHash = hash
		member.Email = event.Email
		member.Phone = phone
		member.DisplayName = strings.TrimSpace(event.DisplayName)
		member.Roles = NormalizeRoles(event.Roles)
		member.Status = MemberStatusPendingNew
		member.ExternalUserID = strings.TrimSpace(event.ExternalUserID)
		if event.UseHashid {
			if id, err := hashid.NewUUID(normalizeEmail(event.Email)); err == nil {
				member.ID = id.String()
			}
		}

		if member, err = h.repo.Members().WithDB(tx).Register(ctx, member); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not register member")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "member registration transaction failed")
	}

	h.Registered = member

	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventMemberRegistered,
		MemberID:  member.ID,
		ToStatus:  member.Status,
		Metadata: map[string]any{
			"roles": []string(member.Roles),
		},
	})

	return nil
}

// NormalizePhone parses a phone number and formats it as E.164. Numbers
// without a country code are read in DefaultPhoneRegion. Empty input is kept.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	num, err := phonenumbers.Parse(raw, DefaultPhoneRegion)
	if err != nil {
		return "", err
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", errInvalidPhone
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func validPhone(value any) error {
	s, _ := value.(string)
	if _, err := NormalizePhone(s); err != nil {
		return errInvalidPhone
	}
	return nil
}

func knownRoles(value any) error {
	roles, _ := value.([]string)
	known := Roles(AllRoles())
	for _, r := range roles {
		if !known.Has(strings.TrimSpace(r)) {
			return fmt.Errorf("unknown role %q", r)
		}
	}
	return nil
}
