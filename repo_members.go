package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const listMembersSQL = `SELECT * FROM "members" AS "mbr" ORDER BY "mbr"."created_at", "mbr"."id"`

const listMembersByStatusSQL = `SELECT * FROM "members" AS "mbr"
WHERE "mbr"."status" = ?
ORDER BY "mbr"."created_at", "mbr"."id"`

// Members is the member record store.
type Members interface {
	MemberFinder

	FindMemberByEmail(ctx context.Context, email string) (*Member, error)
	List(ctx context.Context, status MemberStatus) ([]Member, error)
	Register(ctx context.Context, member *Member) (*Member, error)
	LinkExternalUser(ctx context.Context, memberID, externalUserID string) (*Member, error)
	UpdateStatus(ctx context.Context, id string, status MemberStatus, opts ...StatusUpdateOption) (*Member, error)
	UpdateRoles(ctx context.Context, id string, roles Roles) (*Member, error)
	WithDB(db bun.IDB) Members
	Records() repository.Repository[*Member]
}

type members struct {
	repository.Repository[*Member]
	db  bun.IDB
	now func() time.Time
}

var _ Members = (*members)(nil)

// NewMembersRepository returns a Bun backed Members store.
func NewMembersRepository(db *bun.DB) Members {
	repo := repository.NewRepository[*Member](db, repository.ModelHandlers[*Member]{
		NewRecord: func() *Member { return &Member{} },
		GetID: func(m *Member) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(m.ID)
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(m *Member, id uuid.UUID) {
			if m != nil {
				m.ID = id.String()
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &members{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

// WithDB scopes the store to db, usually a transaction.
func (m *members) WithDB(db bun.IDB) Members {
	return &members{Repository: m.Repository, db: db, now: m.now}
}

// Records exposes the generic repository for callers that need raw CRUD.
func (m *members) Records() repository.Repository[*Member] {
	return m.Repository
}

func (m *members) FindMemberByID(ctx context.Context, id string) (*Member, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, notFound(map[string]any{"id": id})
	}

	member, err := m.Repository.GetByIDTx(ctx, m.db, id)
	if err != nil {
		return nil, translate(err, "id", id)
	}
	return member, nil
}

func (m *members) FindMemberByEmail(ctx context.Context, email string) (*Member, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, notFound(map[string]any{"email": email})
	}

	member, err := m.Repository.GetByIdentifierTx(ctx, m.db, email)
	if err != nil {
		return nil, translate(err, "email", email)
	}
	return member, nil
}

func (m *members) FindMemberByExternalUserID(ctx context.Context, externalUserID string) (*Member, error) {
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" {
		return nil, notFound(map[string]any{"external_user_id": externalUserID})
	}

	record := &Member{}
	err := m.db.NewSelect().
		Model(record).
		Where("?TableAlias.external_user_id = ?", externalUserID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err, "external_user_id", externalUserID)
	}
	return record, nil
}

func (m *members) List(ctx context.Context, status MemberStatus) ([]Member, error) {
	var (
		records []*Member
		err     error
	)
	if status == "" {
		records, err = m.Repository.RawTx(ctx, m.db, listMembersSQL)
	} else {
		records, err = m.Repository.RawTx(ctx, m.db, listMembersByStatusSQL, string(status))
	}
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, errors.Wrap(err, errors.CategoryInternal, "member store failure")
	}

	out := make([]Member, 0, len(records))
	for _, r := range records {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *members) Register(ctx context.Context, member *Member) (*Member, error) {
	prepareMemberDefaults(member)
	created, err := m.Repository.CreateTx(ctx, m.db, member)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to register member")
	}
	return created, nil
}

func (m *members) LinkExternalUser(ctx context.Context, memberID, externalUserID string) (*Member, error) {
	if _, err := m.FindMemberByID(ctx, memberID); err != nil {
		return nil, err
	}

	record := &Member{ID: memberID, ExternalUserID: strings.TrimSpace(externalUserID)}
	record.UpdatedAt = m.timestamp()

	if _, err := m.Repository.UpdateTx(ctx, m.db, record, repository.UpdateByID(memberID)); err != nil {
		return nil, translate(err, "id", memberID)
	}
	return m.FindMemberByID(ctx, memberID)
}

// UpdateStatus writes the listed columns only, so options can clear
// timestamps.
func (m *members) UpdateStatus(ctx context.Context, id string, status MemberStatus, opts ...StatusUpdateOption) (*Member, error) {
	record := &Member{ID: id, Status: status}
	record.UpdatedAt = m.timestamp()
	columns := []string{"status", "updated_at"}

	for _, opt := range opts {
		if opt != nil {
			columns = append(columns, opt(record)...)
		}
	}

	return m.updateColumns(ctx, record, columns...)
}

func (m *members) UpdateRoles(ctx context.Context, id string, roles Roles) (*Member, error) {
	record := &Member{ID: id, Roles: NormalizeRoles(roles)}
	record.UpdatedAt = m.timestamp()

	return m.updateColumns(ctx, record, "roles", "updated_at")
}

func (m *members) updateColumns(ctx context.Context, record *Member, columns ...string) (*Member, error) {
	res, err := m.db.NewUpdate().
		Model(record).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, translate(err, "id", record.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, notFound(map[string]any{"id": record.ID})
	}
	return m.FindMemberByID(ctx, record.ID)
}

func (m *members) timestamp() *time.Time {
	now := m.now()
	return &now
}

// StatusUpdateOption mutates the record before a status change is persisted
// and returns the extra columns it touched.
type StatusUpdateOption func(*Member) []string

// WithSuspendedAt sets or clears suspended_at during a status change.
func WithSuspendedAt(at *time.Time) StatusUpdateOption {
	return func(m *Member) []string {
		m.SuspendedAt = at
		return []string{"suspended_at"}
	}
}

// WithWithdrawnAt sets withdrawn_at during a status change.
func WithWithdrawnAt(at *time.Time) StatusUpdateOption {
	return func(m *Member) []string {
		m.WithdrawnAt = at
		return []string{"withdrawn_at"}
	}
}

// WithJoinedAt sets joined_at during a status change.
func WithJoinedAt(at *time.Time) StatusUpdateOption {
	return func(m *Member) []string {
		m.JoinedAt = at
		return []string{"joined_at"}
	}
}

func translate(err error, column, value string) error {
	if repository.IsRecordNotFound(err) {
		return notFound(map[string]any{column: value})
	}
	return errors.Wrap(err, errors.CategoryInternal, "member store failure").
		WithMetadata(map[string]any{column: value})
}

func prepareMemberDefaults(member *Member) {
	if member == nil {
		return
	}
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	member.Email = normalizeEmail(member.Email)
	member.Roles = NormalizeRoles(member.Roles)
	if len(member.Roles) == 0 {
		member.Roles = Roles{RoleMember}
	}
	member.EnsureStatus()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
