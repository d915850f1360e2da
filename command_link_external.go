package auth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// LinkExternalIdentityMessage back-fills the LINE user id of a member that
// signed in with email and password from the embedded browser.
type LinkExternalIdentityMessage struct {
	MemberID       string `json:"member_id"`
	ExternalUserID string `json:"external_user_id"`
	Actor          ActorRef
}

func (e LinkExternalIdentityMessage) Type() string { return "member.link_external" }

// Validate checks the link payload.
func (e LinkExternalIdentityMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.MemberID, validation.Required),
		validation.Field(&e.ExternalUserID, validation.Required, validation.Length(1, 64)),
	)
}

type LinkExternalIdentityHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewLinkExternalIdentityHandler creates a handler with sane defaults.
func NewLinkExternalIdentityHandler(repo RepositoryManager) *LinkExternalIdentityHandler {
	return &LinkExternalIdentityHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit link events.
func (h *LinkExternalIdentityHandler) WithActivitySink(sink ActivitySink) *LinkExternalIdentityHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *LinkExternalIdentityHandler) WithLogger(logger Logger) *LinkExternalIdentityHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *LinkExternalIdentityHandler) Execute(ctx context.Context, event LinkExternalIdentityMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during external identity link",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *LinkExternalIdentityHandler) execute(ctx context.Context, event LinkExternalIdentityMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid external identity link")
	}

	externalID := strings.TrimSpace(event.ExternalUserID)

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var previous string
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		members := h.repo.Members().WithDB(tx)

		owner, err := members.FindMemberByExternalUserID(ctx, externalID)
		switch {
		case err == nil && owner.ID != event.MemberID:
			return ErrExternalIdentityTaken.Clone().WithMetadata(map[string]any{
				"member_id": event.MemberID,
			})
		case err == nil:
			// already linked to this member
			previous = externalID
			return nil
		case !IsMemberNotFound(err):
			return err
		}

		member, err := members.FindMemberByID(ctx, event.MemberID)
		if err != nil {
			return err
		}
		previous = member.ExternalUserID

		_, err = members.LinkExternalUser(ctx, member.ID, externalID)
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "external identity link transaction failed")
	}

	if previous == externalID {
		return nil
	}

	metadata := map[string]any{"external_user_id": externalID}
	if previous != "" {
		metadata["replaced_external_user_id"] = previous
		h.logger.Warn("member %s external identity replaced", event.MemberID)
	}

	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventExternalLinked,
		Actor:     event.Actor,
		MemberID:  event.MemberID,
		Metadata:  metadata,
	})

	return nil
}
