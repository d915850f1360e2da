package storage

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/picklehub/go-club-auth"
)

// Signed wraps a Storage so that values are stored as HS256 tokens bound to
// their key. Values that fail verification read as absent.
type Signed struct {
	inner auth.Storage
	key   []byte
}

var _ auth.Storage = (*Signed)(nil)

type signedValue struct {
	Key   string `json:"k"`
	Value string `json:"v"`
	jwt.RegisteredClaims
}

// NewSigned wraps inner using the HMAC key.
func NewSigned(inner auth.Storage, key []byte) *Signed {
	return &Signed{inner: inner, key: key}
}

func (s *Signed) Get(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}

	claims := &signedValue{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || claims.Key != key {
		return "", false, nil
	}

	return claims.Value, true, nil
}

func (s *Signed) Set(ctx context.Context, key, value string) error {
	if len(s.key) == 0 {
		return errors.New("signed storage requires a key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, signedValue{
		Key:   key,
		Value: value,
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, signed)
}

func (s *Signed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
