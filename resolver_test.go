package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	auth "github.com/picklehub/go-club-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	embeddedUA = "Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36 Line/13.20.1/IAB"
	standardUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"
)

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	debugs []string
}

func (l *recordingLogger) Debug(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugs = append(l.debugs, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Info(string, ...any) {}
func (l *recordingLogger) Warn(string, ...any) {}

func (l *recordingLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func loggedInExternal(profile auth.ExternalProfile) *MockExternalLogin {
	ext := new(MockExternalLogin)
	ext.On("Init", mock.Anything, mock.Anything).Return(nil)
	ext.On("IsLoggedIn", mock.Anything).Return(true, nil)
	ext.On("Profile", mock.Anything).Return(profile, nil)
	return ext
}

func notFound() error {
	return auth.ErrMemberNotFound.Clone()
}

func TestResolveEmbeddedFirstVisit(t *testing.T) {
	members := new(MockMembers)
	members.On("FindMemberByExternalUserID", mock.Anything, "U1").Return(nil, notFound())

	ext := loggedInExternal(auth.ExternalProfile{ExternalUserID: "U1", DisplayName: "Taro"})

	resolver := auth.NewResolver(members, auth.WithResolverLogger(auth.NoopLogger()))
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent:  embeddedUA,
		Persistent: newMapStorage(),
		Session:    newMapStorage(),
		External:   ext,
	})

	assert.False(t, state.IsLoading)
	assert.Equal(t, auth.EnvironmentEmbedded, state.Environment)
	assert.Nil(t, state.Member)
	assert.Equal(t, "U1", state.ExternalUserID)
	assert.Equal(t, "Taro", state.ExternalDisplayName)
	assert.Empty(t, state.Roles)
	assert.False(t, state.Authenticated())
	assert.True(t, state.HasExternalIdentity())

	members.AssertExpectations(t)
	ext.AssertNotCalled(t, "Login", mock.Anything)
}

func TestResolveEmbeddedLookupFailureKeepsExternalIdentity(t *testing.T) {
	members := new(MockMembers)
	members.On("FindMemberByExternalUserID", mock.Anything, "U1").Return(nil, errors.New("connection reset"))

	ext := loggedInExternal(auth.ExternalProfile{ExternalUserID: "U1", DisplayName: "Taro"})

	logger := &recordingLogger{}
	resolver := auth.NewResolver(members, auth.WithResolverLogger(logger))
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent:  embeddedUA,
		Persistent: newMapStorage(),
		External:   ext,
	})

	assert.False(t, state.IsLoading)
	assert.Equal(t, auth.EnvironmentEmbedded, state.Environment)
	assert.Equal(t, "U1", state.ExternalUserID)
	assert.Equal(t, "Taro", state.ExternalDisplayName)
	assert.Nil(t, state.Member)
	assert.Empty(t, state.Roles)
	assert.False(t, state.Authenticated())
	require.Len(t, logger.errors, 1)
	assert.Contains(t, logger.errors[0], "auth resolution failed")

	members.AssertExpectations(t)
	ext.AssertNotCalled(t, "Login", mock.Anything)
}

func TestResolveEmbeddedReturningMemberNormalizesRoles(t *testing.T) {
	members := new(MockMembers)
	members.On("FindMemberByExternalUserID", mock.Anything, "U1").Return(&auth.Member{
		ID:             "m-1",
		ExternalUserID: "U1",
		Roles:          auth.NormalizeRoles(`"admin"`),
		Status:         auth.MemberStatusActive,
	}, nil)

	ext := loggedInExternal(auth.ExternalProfile{ExternalUserID: "U1", DisplayName: "Taro"})

	resolver := auth.NewResolver(members, auth.WithResolverLogger(auth.NoopLogger()))
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent:  embeddedUA,
		Persistent: newMapStorage(),
		External:   ext,
	})

	require.NotNil(t, state.Member)
	assert.Equal(t, "m-1", state.Member.ID)
	assert.Equal(t, auth.Roles{"admin"}, state.Roles)
	assert.True(t, state.Can(auth.CapabilityManageMembers))
	assert.False(t, state.Can(auth.CapabilityManageAccounts))
}

func TestResolveEmbeddedRolesNormalizedAtLookup(t *testing.T) {
	members := new(MockMembers)
	members.On("FindMemberByExternalUserID", mock.Anything, "U1").Return(&auth.Member{
		ID:    "m-1",
		Roles: auth.Roles{" admin ", "admin", ""},
	}, nil)

	resolver := auth.NewResolver(members, auth.WithResolverLogger(auth.NoopLogger()))
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent: embeddedUA,
		External:  loggedInExternal(auth.ExternalProfile{ExternalUserID: "U1"}),
	})

	assert.Equal(t, auth.Roles{"admin"}, state.Roles)
	assert.Equal(t, auth.Roles{"admin"}, state.Member.Roles)
}

func TestResolveStandardCachedHandle(t *testing.T) {
	members := new(MockMembers)
	members.On("FindMemberByID", mock.Anything, "m-1").Return(&auth.Member{
		ID:             "m-1",
		Roles:          auth.Roles{auth.RoleAccountant},
		ExternalUserID: "U7",
	}, nil)

	resolver := auth.NewResolver(members, auth.WithResolverLogger(auth.NoopLogger()))
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent:  standardUA,
		Session:    newMapStorage(auth.KeyMemberHandle, "m-1"),
		Persistent: newMapStorage(),
	})

	assert.False(t, state.IsLoading)
	assert.Equal(t, auth.EnvironmentStandard, state.Environment)
	require.NotNil(t, state.Member)
	assert.Equal(t, "m-1", state.Member.ID)
	assert.Equal(t, auth.Roles{auth.RoleAccountant}, state.Roles)
	assert.Equal(t, "U7", state.ExternalUserID)
	assert.Empty(t, state.ExternalDisplayName)
}

func TestResolveStandardWithoutHandle(t *testing.T) {
	members := new(MockMembers)

	resolver := auth.NewResolver(members, auth.WithResolverLogger(auth.NoopLogger()))
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent: standardUA,
		Session:   newMapStorage(),
	})

	assert.False(t, state.IsLoading)
	assert.Nil(t, state.Member)
	assert.NotNil(t, state.Roles)
	assert.Empty(t, state.Roles)
	members.AssertNotCalled(t, "FindMemberByID", mock.Anything, mock.Anything)
}

func TestResolveStandardStaleHandle(t *testing.T) {
	members := new(MockMembers)
	members.On("FindMemberByID", mock.Anything, "gone").Return(nil, notFound())

	resolver := auth.NewResolver(members, auth.WithResolverLogger(auth.NoopLogger()))
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent: standardUA,
		Session:   newMapStorage(auth.KeyMemberHandle, "gone"),
	})

	assert.False(t, state.IsLoading)
	assert.Nil(t, state.Member)
}

func TestResolveLogoutFlagOverridesHandle(t *testing.T) {
	members := new(MockMembers)

	resolver := auth.NewResolver(members, auth.WithResolverLogger(auth.NoopLogger()))
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent: standardUA,
		Session:   newMapStorage(auth.KeyMemberHandle, "m-1", auth.KeyLoggedOut, "1"),
	})

	assert.Equal(t, auth.ResolvedAuthState{
		Environment: auth.EnvironmentStandard,
		Roles:       auth.Roles{},
		LoggedOut:   true,
	}, state)
	members.AssertNotCalled(t, "FindMemberByID", mock.Anything, mock.Anything)
}

func TestResolveLogoutFlagOverridesExternalLogin(t *testing.T) {
	members := new(MockMembers)
	ext := new(MockExternalLogin)

	resolver := auth.NewResolver(members, auth.WithResolverLogger(auth.NoopLogger()))
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent:  embeddedUA,
		Persistent: newMapStorage(auth.KeyLoggedOut, "1"),
		External:   ext,
	})

	assert.False(t, state.IsLoading)
	assert.True(t, state.LoggedOut)
	assert.Nil(t, state.Member)
	assert.Empty(t, state.ExternalUserID)
	assert.Empty(t, state.ExternalDisplayName)
	ext.AssertNotCalled(t, "Init", mock.Anything, mock.Anything)
}

func TestResolveEmbeddedReadsFlagFromPersistentStorage(t *testing.T) {
	members := new(MockMembers)
	members.On("FindMemberByExternalUserID", mock.Anything, "U1").Return(&auth.Member{ID: "m-1"}, nil)

	resolver := auth.NewResolver(members, auth.WithResolverLogger(auth.NoopLogger()))
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent:  embeddedUA,
		Session:    newMapStorage(auth.KeyLoggedOut, "1"),
		Persistent: newMapStorage(),
		External:   loggedInExternal(auth.ExternalProfile{ExternalUserID: "U1"}),
	})

	assert.False(t, state.LoggedOut)
	require.NotNil(t, state.Member)
}

func TestResolveIsIdempotent(t *testing.T) {
	members := new(MockMembers)
	members.On("FindMemberByID", mock.Anything, "m-1").Return(&auth.Member{ID: "m-1", Roles: auth.Roles{auth.RoleAuditor}}, nil)

	resolver := auth.NewResolver(members, auth.WithResolverLogger(auth.NoopLogger()))
	client := auth.Client{
		UserAgent: standardUA,
		Session:   newMapStorage(auth.KeyMemberHandle, "m-1"),
	}

	first := resolver.Resolve(context.Background(), client)
	second := resolver.Resolve(context.Background(), client)

	assert.Equal(t, first, second)
}

func TestResolveStartsExternalLogin(t *testing.T) {
	members := new(MockMembers)
	ext := new(MockExternalLogin)
	ext.On("Init", mock.Anything, auth.ExternalLoginConfig{AppID: "165-app"}).Return(nil)
	ext.On("IsLoggedIn", mock.Anything).Return(false, nil)
	ext.On("Login", mock.Anything).Return(nil)

	resolver := auth.NewResolver(members,
		auth.WithResolverLogger(auth.NoopLogger()),
		auth.WithExternalAppID("165-app"),
	)
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent:  embeddedUA,
		Persistent: newMapStorage(),
		External:   ext,
	})

	assert.True(t, state.IsLoading)
	assert.True(t, state.Redirecting)
	assert.False(t, state.Authenticated())
	assert.False(t, state.Can(auth.CapabilityManageMembers))

	ext.AssertExpectations(t)
	ext.AssertNotCalled(t, "Profile", mock.Anything)
	members.AssertNotCalled(t, "FindMemberByExternalUserID", mock.Anything, mock.Anything)
}

func TestResolveUsesPlaceholderAppID(t *testing.T) {
	ext := new(MockExternalLogin)
	ext.On("Init", mock.Anything, auth.ExternalLoginConfig{AppID: auth.DefaultExternalAppID}).Return(nil)
	ext.On("IsLoggedIn", mock.Anything).Return(false, nil)
	ext.On("Login", mock.Anything).Return(nil)

	resolver := auth.NewResolver(new(MockMembers), auth.WithResolverLogger(auth.NoopLogger()))
	resolver.Resolve(context.Background(), auth.Client{UserAgent: embeddedUA, External: ext})

	ext.AssertExpectations(t)
}

func TestResolveFailsOpen(t *testing.T) {
	boom := errors.New("connection refused")

	tests := []struct {
		name   string
		client func() auth.Client
		finder func() *MockMembers
	}{
		{
			name: "member store failure",
			client: func() auth.Client {
				return auth.Client{UserAgent: standardUA, Session: newMapStorage(auth.KeyMemberHandle, "m-1")}
			},
			finder: func() *MockMembers {
				m := new(MockMembers)
				m.On("FindMemberByID", mock.Anything, "m-1").Return(nil, boom)
				return m
			},
		},
		{
			name: "storage failure",
			client: func() auth.Client {
				s := newMapStorage(auth.KeyMemberHandle, "m-1")
				s.err = boom
				return auth.Client{UserAgent: standardUA, Session: s}
			},
			finder: func() *MockMembers { return new(MockMembers) },
		},
		{
			name: "external login init failure",
			client: func() auth.Client {
				ext := new(MockExternalLogin)
				ext.On("Init", mock.Anything, mock.Anything).Return(boom)
				return auth.Client{UserAgent: embeddedUA, External: ext}
			},
			finder: func() *MockMembers { return new(MockMembers) },
		},
		{
			name: "external profile failure",
			client: func() auth.Client {
				ext := new(MockExternalLogin)
				ext.On("Init", mock.Anything, mock.Anything).Return(nil)
				ext.On("IsLoggedIn", mock.Anything).Return(true, nil)
				ext.On("Profile", mock.Anything).Return(auth.ExternalProfile{}, boom)
				return auth.Client{UserAgent: embeddedUA, External: ext}
			},
			finder: func() *MockMembers { return new(MockMembers) },
		},
		{
			name: "no external capability",
			client: func() auth.Client {
				return auth.Client{UserAgent: embeddedUA}
			},
			finder: func() *MockMembers { return new(MockMembers) },
		},
		{
			name: "member store panics",
			client: func() auth.Client {
				return auth.Client{UserAgent: standardUA, Session: newMapStorage(auth.KeyMemberHandle, "m-1")}
			},
			finder: func() *MockMembers {
				m := new(MockMembers)
				m.On("FindMemberByID", mock.Anything, "m-1").Run(func(mock.Arguments) {
					panic("driver bug")
				})
				return m
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &recordingLogger{}
			resolver := auth.NewResolver(tt.finder(), auth.WithResolverLogger(logger))

			state := resolver.Resolve(context.Background(), tt.client())

			assert.False(t, state.IsLoading)
			assert.Nil(t, state.Member)
			assert.False(t, state.Authenticated())
			assert.NotEmpty(t, logger.errors)
		})
	}
}

func TestResolveLogsMissesAtDebug(t *testing.T) {
	members := new(MockMembers)
	members.On("FindMemberByExternalUserID", mock.Anything, "U1").Return(nil, notFound())

	logger := &recordingLogger{}
	resolver := auth.NewResolver(members, auth.WithResolverLogger(logger))
	resolver.Resolve(context.Background(), auth.Client{
		UserAgent: embeddedUA,
		External:  loggedInExternal(auth.ExternalProfile{ExternalUserID: "U1"}),
	})

	assert.Empty(t, logger.errors)
	assert.NotEmpty(t, logger.debugs)
}

func TestResolveWithoutStore(t *testing.T) {
	resolver := auth.NewResolver(nil, auth.WithResolverLogger(auth.NoopLogger()))
	state := resolver.Resolve(context.Background(), auth.Client{
		UserAgent: standardUA,
		Session:   newMapStorage(auth.KeyMemberHandle, "m-1"),
	})

	assert.False(t, state.IsLoading)
	assert.Nil(t, state.Member)
}

func TestResolvedStateClone(t *testing.T) {
	state := auth.ResolvedAuthState{Roles: auth.Roles{auth.RoleAdmin}}
	clone := state.Clone()
	clone.Roles[0] = auth.RoleMember

	assert.Equal(t, auth.RoleAdmin, state.Roles[0])
}

func TestResolvedStateCloneCopiesMember(t *testing.T) {
	state := auth.ResolvedAuthState{
		Member: &auth.Member{ID: "m-1", Roles: auth.Roles{auth.RoleAdmin}},
		Roles:  auth.Roles{auth.RoleAdmin},
	}

	clone := state.Clone()
	require.NotNil(t, clone.Member)
	clone.Member.ID = "m-2"
	clone.Member.Roles[0] = auth.RoleMember

	assert.Equal(t, "m-1", state.Member.ID)
	assert.Equal(t, auth.Roles{auth.RoleAdmin}, state.Member.Roles)
	assert.Nil(t, auth.ResolvedAuthState{}.Clone().Member)
}

func TestResolveRolesDoNotAliasMember(t *testing.T) {
	members := new(MockMembers)
	members.On("FindMemberByID", mock.Anything, "m-1").Return(&auth.Member{
		ID:    "m-1",
		Roles: auth.Roles{auth.RoleAdmin, auth.RoleAccountant},
	}, nil)

	resolver := auth.NewResolver(members, auth.WithResolverLogger(auth.NoopLogger()))
	state := resolver.Resolve(context.Background(), standardClient("m-1"))

	require.NotNil(t, state.Member)
	state.Roles[0] = auth.RoleMember

	assert.Equal(t, auth.Roles{auth.RoleAdmin, auth.RoleAccountant}, state.Member.Roles)
}
