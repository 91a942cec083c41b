package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"

	orgentity "github.com/ovaphlow/pitchfork/service-user-management/internal/org/entity"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/database"
)

// UserRepo provides data access for users table using sqlx.
// It runs on either a *sqlx.DB or a *sqlx.Tx.
type UserRepo struct {
	db sqlx.ExtContext
}

func NewUserRepo(db sqlx.ExtContext) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
// The organisation tables must exist first.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	return database.ExecAll(ctx, r.db,
		`CREATE TABLE IF NOT EXISTS users (
  `+database.IDColumn(r.db.DriverName())+`,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  supervisor_id BIGINT REFERENCES users(id),
  role_id BIGINT NOT NULL REFERENCES roles(id),
  layer_id BIGINT NOT NULL REFERENCES layers(id),
  company_id BIGINT NOT NULL REFERENCES companies(id),
  group_id BIGINT NOT NULL REFERENCES user_groups(id),
  profile_picture_url TEXT,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
		`CREATE INDEX IF NOT EXISTS idx_users_company_group ON users(company_id, group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_company_layer ON users(company_id, layer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_supervisor ON users(supervisor_id)`,
	)
}

// Create inserts a new user row. Returns new ID.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	q := `INSERT INTO users (first_name, last_name, email, password_hash, supervisor_id, role_id, layer_id, company_id, group_id, profile_picture_url)
		  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	if err := sqlx.GetContext(ctx, r.db, &u.ID, r.db.Rebind(q),
		u.FirstName, u.LastName, u.Email, u.PasswordHash, u.SupervisorID,
		u.RoleID, u.LayerID, u.CompanyID, u.GroupID, u.ProfilePictureURL,
	); err != nil {
		return 0, err
	}
	return u.ID, nil
}

const userColumns = `id, first_name, last_name, email, password_hash, supervisor_id, role_id, layer_id, company_id, group_id, profile_picture_url`

// GetByEmail returns a user matched by email or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	var u entity.User
	q := `SELECT ` + userColumns + ` FROM users WHERE email=?`
	if err := sqlx.GetContext(ctx, r.db, &u, r.db.Rebind(q), email); err != nil {
		return nil, err
	}
	return &u, nil
}

// EmailTaken reports whether any user, in any company, uses this email.
func (r *UserRepo) EmailTaken(ctx context.Context, email string) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`SELECT COUNT(*) FROM users WHERE email=?`), email); err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetByID fetches a user row of the company or sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, companyID, id int64) (*entity.User, error) {
	var u entity.User
	q := `SELECT ` + userColumns + ` FROM users WHERE id=? AND company_id=?`
	if err := sqlx.GetContext(ctx, r.db, &u, r.db.Rebind(q), id, companyID); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetChainLink returns the supervisor pointer and layer rank of a user of the company.
func (r *UserRepo) GetChainLink(ctx context.Context, companyID, id int64) (*entity.ChainLink, error) {
	var c entity.ChainLink
	q := `SELECT u.id, u.supervisor_id, u.layer_id, l.number AS layer_number
		  FROM users u JOIN layers l ON l.id = u.layer_id
		 WHERE u.id=? AND u.company_id=?`
	if err := sqlx.GetContext(ctx, r.db, &c, r.db.Rebind(q), id, companyID); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateLayer moves a user of the company to another layer. Returns rows affected.
func (r *UserRepo) UpdateLayer(ctx context.Context, companyID, id, layerID int64) (int64, error) {
	return r.exec(ctx, `UPDATE users SET layer_id=?, updated_at=CURRENT_TIMESTAMP WHERE id=? AND company_id=?`, layerID, id, companyID)
}

// UpdateGroup moves a user of the company to another group. Returns rows affected.
func (r *UserRepo) UpdateGroup(ctx context.Context, companyID, id, groupID int64) (int64, error) {
	return r.exec(ctx, `UPDATE users SET group_id=?, updated_at=CURRENT_TIMESTAMP WHERE id=? AND company_id=?`, groupID, id, companyID)
}

// UpdatePasswordHash replaces the stored hash, e.g. after a cost upgrade.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	_, err := r.exec(ctx, `UPDATE users SET password_hash=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, hash, id)
	return err
}

func (r *UserRepo) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ViewFilter selects users for ListViews. CompanyID is mandatory; the other
// fields narrow the result when non-zero.
type ViewFilter struct {
	CompanyID int64
	UserID    int64
	GroupID   int64
	LayerID   int64
}

// viewRow is the flat shape of the joined view query.
type viewRow struct {
	ID                  int64          `db:"id"`
	FirstName           string         `db:"first_name"`
	LastName            string         `db:"last_name"`
	Email               string         `db:"email"`
	ProfilePictureURL   *string        `db:"profile_picture_url"`
	SupervisorID        *int64         `db:"supervisor_id"`
	CompanyID           int64          `db:"company_id"`
	CompanyName         string         `db:"company_name"`
	RoleID              int64          `db:"role_id"`
	RoleName            string         `db:"role_name"`
	GroupID             int64          `db:"group_id"`
	GroupName           string         `db:"group_name"`
	LayerID             int64          `db:"layer_id"`
	LayerName           string         `db:"layer_name"`
	LayerNumber         int            `db:"layer_number"`
	SupervisorFirstName sql.NullString `db:"supervisor_first_name"`
	SupervisorLastName  sql.NullString `db:"supervisor_last_name"`
}

const viewQuery = `SELECT u.id, u.first_name, u.last_name, u.email, u.profile_picture_url, u.supervisor_id,
       c.id AS company_id, c.name AS company_name,
       r.id AS role_id, r.name AS role_name,
       g.id AS group_id, g.name AS group_name,
       l.id AS layer_id, l.name AS layer_name, l.number AS layer_number,
       s.first_name AS supervisor_first_name, s.last_name AS supervisor_last_name
  FROM users u
  JOIN companies c ON c.id = u.company_id
  JOIN roles r ON r.id = u.role_id
  JOIN user_groups g ON g.id = u.group_id
  JOIN layers l ON l.id = u.layer_id
  LEFT JOIN users s ON s.id = u.supervisor_id`

// ListViews returns enriched users matching the filter, ordered by id.
func (r *UserRepo) ListViews(ctx context.Context, f ViewFilter) ([]entity.UserView, error) {
	where := []string{"u.company_id=?"}
	args := []any{f.CompanyID}
	if f.UserID != 0 {
		where = append(where, "u.id=?")
		args = append(args, f.UserID)
	}
	if f.GroupID != 0 {
		where = append(where, "u.group_id=?")
		args = append(args, f.GroupID)
	}
	if f.LayerID != 0 {
		where = append(where, "u.layer_id=?")
		args = append(args, f.LayerID)
	}
	q := viewQuery + "\n WHERE " + strings.Join(where, " AND ") + "\n ORDER BY u.id"

	var rows []viewRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	out := make([]entity.UserView, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.view())
	}
	return out, nil
}

// GetView returns the enriched view of one user of the company or sql.ErrNoRows.
func (r *UserRepo) GetView(ctx context.Context, companyID, id int64) (*entity.UserView, error) {
	views, err := r.ListViews(ctx, ViewFilter{CompanyID: companyID, UserID: id})
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, sql.ErrNoRows
	}
	return &views[0], nil
}

func (row viewRow) view() entity.UserView {
	v := entity.UserView{
		ID:                row.ID,
		FirstName:         row.FirstName,
		LastName:          row.LastName,
		Email:             row.Email,
		ProfilePictureURL: row.ProfilePictureURL,
		Company:           orgentity.Company{ID: row.CompanyID, Name: row.CompanyName},
		Role:              orgentity.Role{ID: row.RoleID, Name: row.RoleName},
		Group:             orgentity.Group{ID: row.GroupID, Name: row.GroupName, CompanyID: row.CompanyID},
		Layer:             orgentity.Layer{ID: row.LayerID, Name: row.LayerName, Number: row.LayerNumber, CompanyID: row.CompanyID},
	}
	if row.SupervisorID != nil {
		v.Supervisor = &entity.SupervisorRef{
			ID:        *row.SupervisorID,
			FirstName: row.SupervisorFirstName.String,
			LastName:  row.SupervisorLastName.String,
		}
	}
	return v
}
