package auth

import (
	"context"
)

var stateCtxKey = &contextKey{"auth_state"}

type contextKey struct {
	name string
}

// WithContext stores the resolved auth state in ctx
func WithContext(ctx context.Context, state ResolvedAuthState) context.Context {
	return context.WithValue(ctx, stateCtxKey, state)
}

// FromContext returns the resolved auth state stored in ctx.
func FromContext(ctx context.Context) (ResolvedAuthState, bool) {
	if ctx == nil {
		return ResolvedAuthState{}, false
	}
	raw, ok := ctx.Value(stateCtxKey).(ResolvedAuthState)
	return raw, ok
}

// MemberFromContext returns the resolved member, if any.
func MemberFromContext(ctx context.Context) (*Member, bool) {
	state, ok := FromContext(ctx)
	if !ok || state.Member == nil {
		return nil, false
	}
	return state.Member, true
}

// CanFromContext evaluates a capability for the actor stored in ctx
func CanFromContext(ctx context.Context, capability Capability) bool {
	state, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return state.Can(capability)
}
