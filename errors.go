package auth

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeMemberNotFound        = "MEMBER_NOT_FOUND"
	TextCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	TextCodeLoginNotAllowed       = "LOGIN_NOT_ALLOWED"
	TextCodeExternalIdentityTaken = "EXTERNAL_IDENTITY_TAKEN"
	TextCodeExternalLogin         = "EXTERNAL_LOGIN_FAILED"
	TextCodeEmptyPassword         = "EMPTY_PASSWORD"
)

// ErrMemberNotFound is returned when a lookup matches no member. It is a valid
// anonymous outcome for the resolver.
var ErrMemberNotFound = errors.New("member not found", errors.CategoryNotFound).
	WithTextCode(TextCodeMemberNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidCredentials covers unknown emails and password mismatches alike.
var ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrLoginNotAllowed is returned for members in a terminal status.
var ErrLoginNotAllowed = errors.New("membership status does not allow login", errors.CategoryAuthz).
	WithTextCode(TextCodeLoginNotAllowed).
	WithCode(errors.CodeForbidden)

// ErrExternalIdentityTaken is returned when linking an external id already owned by another member.
var ErrExternalIdentityTaken = errors.New("external identity already linked to another member", errors.CategoryConflict).
	WithTextCode(TextCodeExternalIdentityTaken).
	WithCode(errors.CodeConflict)

// ErrExternalLogin wraps failures of the external login capability.
var ErrExternalLogin = errors.New("external login failed", errors.CategoryAuth).
	WithTextCode(TextCodeExternalLogin).
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = errors.New("password can not be empty", errors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(errors.CodeBadRequest)

// IsMemberNotFound reports whether err is a lookup miss.
func IsMemberNotFound(err error) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.TextCode == TextCodeMemberNotFound {
		return true
	}
	return errors.IsNotFound(err)
}

// notFound returns a copy of ErrMemberNotFound carrying the lookup metadata.
func notFound(metadata map[string]any) error {
	return ErrMemberNotFound.Clone().WithMetadata(metadata)
}
