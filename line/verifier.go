package line

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/picklehub/go-club-auth"
)

// IDTokenClaims are the claims of a LINE ID token.
type IDTokenClaims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Email   string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates LINE ID tokens. Tokens signed with ES256 are checked
// against the key set, HS256 tokens against the channel secret.
type Verifier struct {
	keyfunc   jwt.Keyfunc
	channelID string
	secret    []byte
}

// NewVerifier creates a verifier. An empty channelID skips the audience check.
func NewVerifier(kf jwt.Keyfunc, channelID string, secret []byte) *Verifier {
	return &Verifier{keyfunc: kf, channelID: channelID, secret: secret}
}

func (v *Verifier) key(t *jwt.Token) (any, error) {
	if t.Method.Alg() == jwt.SigningMethodHS256.Alg() {
		if len(v.secret) == 0 {
			return nil, fmt.Errorf("line: no channel secret for HS256 token")
		}
		return v.secret, nil
	}
	if v.keyfunc == nil {
		return nil, fmt.Errorf("line: no key set configured")
	}
	return v.keyfunc(t)
}

// Verify parses raw and returns the identity it asserts.
func (v *Verifier) Verify(raw string) (auth.ExternalProfile, *IDTokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"ES256", "RS256", "HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	}
	if v.channelID != "" {
		opts = append(opts, jwt.WithAudience(v.channelID))
	}

	claims := &IDTokenClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, v.key, opts...); err != nil {
		return auth.ExternalProfile{}, nil, auth.ErrExternalLogin.Clone().WithMetadata(map[string]any{
			"provider": "line",
			"cause":    err.Error(),
		})
	}

	if claims.Subject == "" {
		return auth.ExternalProfile{}, nil, auth.ErrExternalLogin.Clone().WithMetadata(map[string]any{
			"provider": "line",
			"cause":    "missing subject",
		})
	}

	return auth.ExternalProfile{
		ExternalUserID: claims.Subject,
		DisplayName:    claims.Name,
	}, claims, nil
}
