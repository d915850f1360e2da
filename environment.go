package auth

import "regexp"

// Environment is where the request came from.
type Environment int

const (
	// EnvironmentStandard is a regular browser
	EnvironmentStandard Environment = iota
	// EnvironmentEmbedded is the LINE in-app browser
	EnvironmentEmbedded
)

var embeddedSignature = regexp.MustCompile(`(?i)\bline/\d`)

// String returns "embedded" or "standard".
func (e Environment) String() string {
	if e == EnvironmentEmbedded {
		return "embedded"
	}
	return "standard"
}

// ClassifyEnvironment inspects a user agent for the LINE in-app browser token.
func ClassifyEnvironment(userAgent string) Environment {
	if embeddedSignature.MatchString(userAgent) {
		return EnvironmentEmbedded
	}
	return EnvironmentStandard
}

// MarshalText encodes the environment by name.
func (e Environment) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}
