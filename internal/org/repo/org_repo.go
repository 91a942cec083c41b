package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/org/entity"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/database"
)

// Repo provides data access for companies, roles, layers and groups using sqlx.
// It runs on either a *sqlx.DB or a *sqlx.Tx.
type Repo struct {
	db sqlx.ExtContext
}

func NewRepo(db sqlx.ExtContext) *Repo { return &Repo{db: db} }

// EnsureTables creates the organisation tables if they do not exist (idempotent).
// The unique constraints on (name, company_id) back the duplicate checks done
// by the service, so concurrent creates cannot both succeed.
func (r *Repo) EnsureTables(ctx context.Context) error {
	id := database.IDColumn(r.db.DriverName())
	return database.ExecAll(ctx, r.db,
		`CREATE TABLE IF NOT EXISTS companies (
  `+id+`,
  name TEXT NOT NULL UNIQUE,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
		`CREATE TABLE IF NOT EXISTS roles (
  `+id+`,
  name TEXT NOT NULL UNIQUE
)`,
		`CREATE TABLE IF NOT EXISTS layers (
  `+id+`,
  name TEXT NOT NULL,
  number INTEGER NOT NULL DEFAULT 0,
  company_id BIGINT NOT NULL REFERENCES companies(id),
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  CONSTRAINT uq_layers_name_company UNIQUE (name, company_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_layers_company ON layers(company_id)`,
		`CREATE TABLE IF NOT EXISTS user_groups (
  `+id+`,
  name TEXT NOT NULL,
  company_id BIGINT NOT NULL REFERENCES companies(id),
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  CONSTRAINT uq_user_groups_name_company UNIQUE (name, company_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_user_groups_company ON user_groups(company_id)`,
	)
}

func (r *Repo) insertReturningID(ctx context.Context, q string, args ...any) (int64, error) {
	var id int64
	if err := sqlx.GetContext(ctx, r.db, &id, r.db.Rebind(q), args...); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateCompany inserts a company and returns its id.
func (r *Repo) CreateCompany(ctx context.Context, name string) (int64, error) {
	return r.insertReturningID(ctx, `INSERT INTO companies (name) VALUES (?) RETURNING id`, name)
}

// GetCompany returns a company by id or sql.ErrNoRows.
func (r *Repo) GetCompany(ctx context.Context, id int64) (*entity.Company, error) {
	var c entity.Company
	if err := sqlx.GetContext(ctx, r.db, &c, r.db.Rebind(`SELECT id, name FROM companies WHERE id=?`), id); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCompanyByName returns a company by name or sql.ErrNoRows.
func (r *Repo) GetCompanyByName(ctx context.Context, name string) (*entity.Company, error) {
	var c entity.Company
	if err := sqlx.GetContext(ctx, r.db, &c, r.db.Rebind(`SELECT id, name FROM companies WHERE name=?`), name); err != nil {
		return nil, err
	}
	return &c, nil
}

// EnsureRole returns the id of the named role, inserting it when missing.
func (r *Repo) EnsureRole(ctx context.Context, name string) (int64, error) {
	role, err := r.GetRoleByName(ctx, name)
	if err == nil {
		return role.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return r.insertReturningID(ctx, `INSERT INTO roles (name) VALUES (?) RETURNING id`, name)
}

// GetRole returns a role by id or sql.ErrNoRows.
func (r *Repo) GetRole(ctx context.Context, id int64) (*entity.Role, error) {
	var role entity.Role
	if err := sqlx.GetContext(ctx, r.db, &role, r.db.Rebind(`SELECT id, name FROM roles WHERE id=?`), id); err != nil {
		return nil, err
	}
	return &role, nil
}

// GetRoleByName returns a role by name or sql.ErrNoRows.
func (r *Repo) GetRoleByName(ctx context.Context, name string) (*entity.Role, error) {
	var role entity.Role
	if err := sqlx.GetContext(ctx, r.db, &role, r.db.Rebind(`SELECT id, name FROM roles WHERE name=?`), name); err != nil {
		return nil, err
	}
	return &role, nil
}

// CreateLayer inserts a layer and sets its id.
func (r *Repo) CreateLayer(ctx context.Context, l *entity.Layer) error {
	id, err := r.insertReturningID(ctx,
		`INSERT INTO layers (name, number, company_id) VALUES (?, ?, ?) RETURNING id`,
		l.Name, l.Number, l.CompanyID)
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

// LayerNameTaken reports whether a layer with this name exists in the company.
func (r *Repo) LayerNameTaken(ctx context.Context, companyID int64, name string) (bool, error) {
	var n int
	q := `SELECT COUNT(*) FROM layers WHERE company_id=? AND name=?`
	if err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(q), companyID, name); err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetLayer returns a layer of the company or sql.ErrNoRows.
func (r *Repo) GetLayer(ctx context.Context, companyID, id int64) (*entity.Layer, error) {
	var l entity.Layer
	q := `SELECT id, name, number, company_id FROM layers WHERE id=? AND company_id=?`
	if err := sqlx.GetContext(ctx, r.db, &l, r.db.Rebind(q), id, companyID); err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLayers returns the company's layers with their company, lowest number first.
func (r *Repo) ListLayers(ctx context.Context, companyID int64) ([]entity.LayerView, error) {
	const q = `SELECT l.id, l.name, l.number, l.company_id, c.id AS "company.id", c.name AS "company.name"
		  FROM layers l JOIN companies c ON c.id = l.company_id
		 WHERE l.company_id=?
		 ORDER BY l.number, l.id`
	out := []entity.LayerView{}
	if err := sqlx.SelectContext(ctx, r.db, &out, r.db.Rebind(q), companyID); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateGroup inserts a group and sets its id.
func (r *Repo) CreateGroup(ctx context.Context, g *entity.Group) error {
	id, err := r.insertReturningID(ctx,
		`INSERT INTO user_groups (name, company_id) VALUES (?, ?) RETURNING id`,
		g.Name, g.CompanyID)
	if err != nil {
		return err
	}
	g.ID = id
	return nil
}

// GroupNameTaken reports whether a group with this name exists in the company.
func (r *Repo) GroupNameTaken(ctx context.Context, companyID int64, name string) (bool, error) {
	var n int
	q := `SELECT COUNT(*) FROM user_groups WHERE company_id=? AND name=?`
	if err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(q), companyID, name); err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetGroup returns a group of the company or sql.ErrNoRows.
func (r *Repo) GetGroup(ctx context.Context, companyID, id int64) (*entity.Group, error) {
	var g entity.Group
	q := `SELECT id, name, company_id FROM user_groups WHERE id=? AND company_id=?`
	if err := sqlx.GetContext(ctx, r.db, &g, r.db.Rebind(q), id, companyID); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups returns the company's groups with their company.
func (r *Repo) ListGroups(ctx context.Context, companyID int64) ([]entity.GroupView, error) {
	const q = `SELECT g.id, g.name, g.company_id, c.id AS "company.id", c.name AS "company.name"
		  FROM user_groups g JOIN companies c ON c.id = g.company_id
		 WHERE g.company_id=?
		 ORDER BY g.id`
	out := []entity.GroupView{}
	if err := sqlx.SelectContext(ctx, r.db, &out, r.db.Rebind(q), companyID); err != nil {
		return nil, err
	}
	return out, nil
}
