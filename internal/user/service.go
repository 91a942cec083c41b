package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/access"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/apperr"
	orgrepo "github.com/ovaphlow/pitchfork/service-user-management/internal/org/repo"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/token"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-user-management/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/database"
)

// UserService orchestrates registration, authentication, hierarchy queries and
// reassignment. Reads are always intersected with the caller's company id.
type UserService struct {
	db     *sqlx.DB
	repo   *userrepo.UserRepo
	hasher PasswordHasher
	policy *access.Policy
	logger *zap.SugaredLogger

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(db *sqlx.DB, hasher PasswordHasher, policy *access.Policy, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &UserService{db: db, repo: userrepo.NewUserRepo(db), hasher: hasher, policy: policy, logger: logger}
}

// RegisterInput carries the fields of a new user. Password is the plain text
// password; only its hash is stored.
type RegisterInput struct {
	FirstName    string
	LastName     string
	Email        string
	Password     string
	SupervisorID *int64
	RoleID       int64
	LayerID      int64
	CompanyID    int64
	GroupID      int64
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (in *RegisterInput) validate() error {
	switch {
	case strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "":
		return fmt.Errorf("%w: first_name and last_name are required", apperr.ErrInvalidInput)
	case !strings.Contains(in.Email, "@"):
		return fmt.Errorf("%w: email is invalid", apperr.ErrInvalidInput)
	case in.Password == "":
		return fmt.Errorf("%w: password is required", apperr.ErrInvalidInput)
	case in.CompanyID == 0 || in.RoleID == 0 || in.LayerID == 0 || in.GroupID == 0:
		return fmt.Errorf("%w: company_id, role_id, layer_id and group_id are required", apperr.ErrInvalidInput)
	}
	return nil
}

// Register creates a user. Email is unique across all companies. Role, layer,
// group and supervisor must exist, and layer, group and supervisor must belong
// to the user's company.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*entity.User, error) {
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := in.validate(); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &entity.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: hash,
		SupervisorID: in.SupervisorID,
		RoleID:       in.RoleID,
		LayerID:      in.LayerID,
		CompanyID:    in.CompanyID,
		GroupID:      in.GroupID,
	}
	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		users := userrepo.NewUserRepo(tx)
		orgs := orgrepo.NewRepo(tx)

		taken, err := users.EmailTaken(ctx, in.Email)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if taken {
			return fmt.Errorf("email %s: %w", in.Email, apperr.ErrAlreadyExists)
		}
		if _, err := orgs.GetCompany(ctx, in.CompanyID); err != nil {
			return notFound(err, "company %d", in.CompanyID)
		}
		if _, err := orgs.GetRole(ctx, in.RoleID); err != nil {
			return notFound(err, "role %d", in.RoleID)
		}
		if _, err := orgs.GetLayer(ctx, in.CompanyID, in.LayerID); err != nil {
			return notFound(err, "layer %d", in.LayerID)
		}
		if _, err := orgs.GetGroup(ctx, in.CompanyID, in.GroupID); err != nil {
			return notFound(err, "group %d", in.GroupID)
		}
		if in.SupervisorID != nil {
			if _, err := users.GetByID(ctx, in.CompanyID, *in.SupervisorID); err != nil {
				return notFound(err, "supervisor %d", *in.SupervisorID)
			}
		}
		if _, err := users.Create(ctx, u); err != nil {
			switch {
			case database.IsUniqueViolation(err):
				return fmt.Errorf("email %s: %w", in.Email, apperr.ErrAlreadyExists)
			case database.IsForeignKeyViolation(err):
				return fmt.Errorf("user references: %w", apperr.ErrNotFound)
			}
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SelfRegister is Register for unauthenticated callers: roles that hold any
// guarded permission are refused with apperr.ErrPermissionDenied. Privileged
// accounts are provisioned with Register directly.
func (s *UserService) SelfRegister(ctx context.Context, in RegisterInput) (*entity.User, error) {
	if s.policy == nil {
		return nil, errors.New("self registration: no access policy configured")
	}
	role, err := orgrepo.NewRepo(s.db).GetRole(ctx, in.RoleID)
	if err != nil {
		return nil, notFound(err, "role %d", in.RoleID)
	}
	privileged, err := s.policy.Privileged(role.Name)
	if err != nil {
		return nil, err
	}
	if privileged {
		return nil, fmt.Errorf("self registration as %s: %w", role.Name, apperr.ErrPermissionDenied)
	}
	return s.Register(ctx, in)
}

// Authenticate checks an email/password pair and returns the user's view.
// Unknown email and wrong password both return apperr.ErrUnauthenticated.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*entity.UserView, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.ErrUnauthenticated
	}
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// spend the same time as a real comparison to avoid user enumeration
			s.hasher.Verify(s.dummy(), password)
			return nil, apperr.ErrUnauthenticated
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return nil, apperr.ErrUnauthenticated
	}
	if s.hasher.NeedsRehash(u.PasswordHash) {
		s.rehash(ctx, u.ID, password)
	}
	return s.Get(ctx, u.CompanyID, u.ID)
}

// rehash upgrades a stored hash after a successful login. Failure keeps the
// old hash, which still verifies, so the login goes ahead.
func (s *UserService) rehash(ctx context.Context, userID int64, password string) {
	h, err := s.hasher.Hash(password)
	if err == nil {
		err = s.repo.UpdatePasswordHash(ctx, userID, h)
	}
	if err != nil {
		s.logger.Warnw("password rehash failed", "user_id", userID, "err", err)
	}
}

func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-password")
	})
	return s.dummyHash
}

// Get returns the enriched view of a user of the company.
func (s *UserService) Get(ctx context.Context, companyID, userID int64) (*entity.UserView, error) {
	v, err := s.repo.GetView(ctx, companyID, userID)
	if err != nil {
		return nil, notFound(err, "user %d", userID)
	}
	return v, nil
}

// ListInGroup returns the company's users in the group.
func (s *UserService) ListInGroup(ctx context.Context, companyID, groupID int64) ([]entity.UserView, error) {
	return s.list(ctx, userrepo.ViewFilter{CompanyID: companyID, GroupID: groupID})
}

// ListInLayer returns the company's users at the layer: the supervisors of an audit layer.
func (s *UserService) ListInLayer(ctx context.Context, companyID, layerID int64) ([]entity.UserView, error) {
	return s.list(ctx, userrepo.ViewFilter{CompanyID: companyID, LayerID: layerID})
}

// ListInGroupAndLayer returns the company's users in both the group and the layer:
// the employees of a group audited at that layer.
func (s *UserService) ListInGroupAndLayer(ctx context.Context, companyID, groupID, layerID int64) ([]entity.UserView, error) {
	return s.list(ctx, userrepo.ViewFilter{CompanyID: companyID, GroupID: groupID, LayerID: layerID})
}

func (s *UserService) list(ctx context.Context, f userrepo.ViewFilter) ([]entity.UserView, error) {
	if f.CompanyID == 0 {
		return nil, fmt.Errorf("%w: company is required", apperr.ErrInvalidInput)
	}
	out, err := s.repo.ListViews(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

// AssignLayer moves a user of the actor's company to another layer of that company.
// Only the roles allowed by the policy may do this; otherwise nothing is written.
func (s *UserService) AssignLayer(ctx context.Context, actor *token.Claims, userID, layerID int64) (*entity.UserView, error) {
	return s.assign(ctx, actor, userID, func(tx *sqlx.Tx) error {
		if _, err := orgrepo.NewRepo(tx).GetLayer(ctx, actor.CompanyID, layerID); err != nil {
			return notFound(err, "layer %d", layerID)
		}
		n, err := userrepo.NewUserRepo(tx).UpdateLayer(ctx, actor.CompanyID, userID, layerID)
		return affected("update user layer", n, err)
	})
}

// AssignGroup moves a user of the actor's company to another group of that company.
func (s *UserService) AssignGroup(ctx context.Context, actor *token.Claims, userID, groupID int64) (*entity.UserView, error) {
	return s.assign(ctx, actor, userID, func(tx *sqlx.Tx) error {
		if _, err := orgrepo.NewRepo(tx).GetGroup(ctx, actor.CompanyID, groupID); err != nil {
			return notFound(err, "group %d", groupID)
		}
		n, err := userrepo.NewUserRepo(tx).UpdateGroup(ctx, actor.CompanyID, userID, groupID)
		return affected("update user group", n, err)
	})
}

func (s *UserService) assign(ctx context.Context, actor *token.Claims, userID int64, update func(tx *sqlx.Tx) error) (*entity.UserView, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if err := s.policy.Authorize(actor.Role, access.ObjectUser, access.ActionAssign); err != nil {
		return nil, err
	}
	var out *entity.UserView
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		users := userrepo.NewUserRepo(tx)
		if _, err := users.GetByID(ctx, actor.CompanyID, userID); err != nil {
			return notFound(err, "user %d", userID)
		}
		if err := update(tx); err != nil {
			return err
		}
		v, err := users.GetView(ctx, actor.CompanyID, userID)
		if err != nil {
			return fmt.Errorf("reload user: %w", err)
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EnsureSchema creates the users table.
func (s *UserService) EnsureSchema(ctx context.Context) error {
	return s.repo.EnsureTable(ctx)
}

func affected(op string, n int64, err error) error {
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, apperr.ErrNotFound)...)
	}
	return err
}
