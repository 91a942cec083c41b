// Package testutil opens throwaway sqlite databases with the full schema and
// inserts fixture rows for package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	orgentity "github.com/ovaphlow/pitchfork/service-user-management/internal/org/entity"
	orgrepo "github.com/ovaphlow/pitchfork/service-user-management/internal/org/repo"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-user-management/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/database"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/utilities"
)

// NewDB returns an in-memory sqlite database private to the test, with every
// table created. It is closed when the test ends.
func NewDB(t testing.TB) *sqlx.DB {
	t.Helper()
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, t.Name()) + "_" + utilities.NewKSUID()
	db, err := database.Connect(database.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, orgrepo.NewRepo(db).EnsureTables(ctx))
	require.NoError(t, userrepo.NewUserRepo(db).EnsureTable(ctx))
	return db
}

// Fixtures inserts rows straight through the repositories.
type Fixtures struct {
	t     testing.TB
	db    *sqlx.DB
	orgs  *orgrepo.Repo
	users *userrepo.UserRepo
	roles map[string]int64
}

func NewFixtures(t testing.TB, db *sqlx.DB) *Fixtures {
	return &Fixtures{t: t, db: db, orgs: orgrepo.NewRepo(db), users: userrepo.NewUserRepo(db), roles: map[string]int64{}}
}

// Role returns the id of the named role, creating it on first use.
func (f *Fixtures) Role(name string) int64 {
	f.t.Helper()
	if id, ok := f.roles[name]; ok {
		return id
	}
	id, err := f.orgs.EnsureRole(context.Background(), name)
	require.NoError(f.t, err)
	f.roles[name] = id
	return id
}

func (f *Fixtures) Company(name string) int64 {
	f.t.Helper()
	id, err := f.orgs.CreateCompany(context.Background(), name)
	require.NoError(f.t, err)
	return id
}

func (f *Fixtures) Layer(companyID int64, name string, number int) int64 {
	f.t.Helper()
	l := &orgentity.Layer{Name: name, Number: number, CompanyID: companyID}
	require.NoError(f.t, f.orgs.CreateLayer(context.Background(), l))
	return l.ID
}

func (f *Fixtures) Group(companyID int64, name string) int64 {
	f.t.Helper()
	g := &orgentity.Group{Name: name, CompanyID: companyID}
	require.NoError(f.t, f.orgs.CreateGroup(context.Background(), g))
	return g.ID
}

// UserSpec describes a fixture user. Password defaults to "secret".
type UserSpec struct {
	FirstName, LastName, Email, Password string
	Role                                 string
	CompanyID, LayerID, GroupID          int64
	SupervisorID                         *int64
}

// User inserts a user with a bcrypt hash at minimum cost and returns its id.
func (f *Fixtures) User(s UserSpec) int64 {
	f.t.Helper()
	if s.Password == "" {
		s.Password = "secret"
	}
	if s.Role == "" {
		s.Role = "employee"
	}
	if s.FirstName == "" {
		s.FirstName = "Test"
	}
	if s.LastName == "" {
		s.LastName = "User"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(s.Password), bcrypt.MinCost)
	require.NoError(f.t, err)
	u := &entity.User{
		FirstName:    s.FirstName,
		LastName:     s.LastName,
		Email:        s.Email,
		PasswordHash: string(hash),
		SupervisorID: s.SupervisorID,
		RoleID:       f.Role(s.Role),
		LayerID:      s.LayerID,
		CompanyID:    s.CompanyID,
		GroupID:      s.GroupID,
	}
	id, err := f.users.Create(context.Background(), u)
	require.NoError(f.t, err)
	return id
}

// SetSupervisor points a user at a supervisor without any checks, so tests can
// build broken chains such as cycles.
func (f *Fixtures) SetSupervisor(userID int64, supervisorID *int64) {
	f.t.Helper()
	_, err := f.db.Exec(f.db.Rebind(`UPDATE users SET supervisor_id=? WHERE id=?`), supervisorID, userID)
	require.NoError(f.t, err)
}

// Tenant is one company with two layers and two groups.
type Tenant struct {
	CompanyID        int64
	Staff, Managers  int64 // layers, numbers 1 and 5
	Sales, Marketing int64 // groups
}

// NewTenant creates a company called name with its layers and groups.
func (f *Fixtures) NewTenant(name string) Tenant {
	f.t.Helper()
	c := f.Company(name)
	return Tenant{
		CompanyID: c,
		Staff:     f.Layer(c, "Staff", 1),
		Managers:  f.Layer(c, "Managers", 5),
		Sales:     f.Group(c, "Sales"),
		Marketing: f.Group(c, "Marketing"),
	}
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
