package auth_test

import (
	"context"
	"sync"

	auth "github.com/picklehub/go-club-auth"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// MockMembers implements auth.Members
type MockMembers struct {
	mock.Mock
}

func (m *MockMembers) FindMemberByID(ctx context.Context, id string) (*auth.Member, error) {
	args := m.Called(ctx, id)
	return memberArg(args, 0), args.Error(1)
}

func (m *MockMembers) FindMemberByExternalUserID(ctx context.Context, externalUserID string) (*auth.Member, error) {
	args := m.Called(ctx, externalUserID)
	return memberArg(args, 0), args.Error(1)
}

func (m *MockMembers) FindMemberByEmail(ctx context.Context, email string) (*auth.Member, error) {
	args := m.Called(ctx, email)
	return memberArg(args, 0), args.Error(1)
}

func (m *MockMembers) List(ctx context.Context, status auth.MemberStatus) ([]auth.Member, error) {
	args := m.Called(ctx, status)
	if v := args.Get(0); v != nil {
		return v.([]auth.Member), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMembers) Register(ctx context.Context, member *auth.Member) (*auth.Member, error) {
	args := m.Called(ctx, member)
	return memberArg(args, 0), args.Error(1)
}

func (m *MockMembers) LinkExternalUser(ctx context.Context, memberID, externalUserID string) (*auth.Member, error) {
	args := m.Called(ctx, memberID, externalUserID)
	return memberArg(args, 0), args.Error(1)
}

func (m *MockMembers) UpdateStatus(ctx context.Context, id string, status auth.MemberStatus, opts ...auth.StatusUpdateOption) (*auth.Member, error) {
	args := m.Called(ctx, id, status, opts)
	return memberArg(args, 0), args.Error(1)
}

func (m *MockMembers) UpdateRoles(ctx context.Context, id string, roles auth.Roles) (*auth.Member, error) {
	args := m.Called(ctx, id, roles)
	return memberArg(args, 0), args.Error(1)
}

func (m *MockMembers) WithDB(bun.IDB) auth.Members {
	return m
}

func memberArg(args mock.Arguments, i int) *auth.Member {
	if v := args.Get(i); v != nil {
		return v.(*auth.Member)
	}
	return nil
}

// MockExternalLogin implements auth.ExternalLogin
type MockExternalLogin struct {
	mock.Mock
}

func (m *MockExternalLogin) Init(ctx context.Context, cfg auth.ExternalLoginConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *MockExternalLogin) IsLoggedIn(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockExternalLogin) Login(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockExternalLogin) Profile(ctx context.Context) (auth.ExternalProfile, error) {
	args := m.Called(ctx)
	return args.Get(0).(auth.ExternalProfile), args.Error(1)
}

// mapStorage is a minimal auth.Storage for tests
type mapStorage struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newMapStorage(kv ...string) *mapStorage {
	s := &mapStorage{values: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		s.values[kv[i]] = kv[i+1]
	}
	return s
}

func (s *mapStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *mapStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *mapStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
