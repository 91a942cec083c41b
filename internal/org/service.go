package org

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/org/entity"
	orgrepo "github.com/ovaphlow/pitchfork/service-user-management/internal/org/repo"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/database"
)

// Service owns companies, roles, layers and groups. Every read and write is
// scoped to the company id it is given, which callers take from the verified token.
type Service struct {
	db   *sqlx.DB
	repo *orgrepo.Repo
}

func NewService(db *sqlx.DB) *Service {
	return &Service{db: db, repo: orgrepo.NewRepo(db)}
}

// ListLayers returns all layers of the company, each with its company.
func (s *Service) ListLayers(ctx context.Context, companyID int64) ([]entity.LayerView, error) {
	out, err := s.repo.ListLayers(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list layers: %w", err)
	}
	return out, nil
}

// ListGroups returns all groups of the company, each with its company.
func (s *Service) ListGroups(ctx context.Context, companyID int64) ([]entity.GroupView, error) {
	out, err := s.repo.ListGroups(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return out, nil
}

// CreateLayer adds a layer to the company. A layer with the same name in the
// same company yields apperr.ErrAlreadyExists.
func (s *Service) CreateLayer(ctx context.Context, companyID int64, name string, number int) (*entity.LayerView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: layer name is required", apperr.ErrInvalidInput)
	}
	if number < 0 {
		return nil, fmt.Errorf("%w: layer number must not be negative", apperr.ErrInvalidInput)
	}
	var out *entity.LayerView
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		r := orgrepo.NewRepo(tx)
		company, err := r.GetCompany(ctx, companyID)
		if err != nil {
			return notFound(err, "company %d", companyID)
		}
		taken, err := r.LayerNameTaken(ctx, companyID, name)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("layer %q: %w", name, apperr.ErrAlreadyExists)
		}
		l := &entity.Layer{Name: name, Number: number, CompanyID: companyID}
		if err := r.CreateLayer(ctx, l); err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("layer %q: %w", name, apperr.ErrAlreadyExists)
			}
			return fmt.Errorf("create layer: %w", err)
		}
		out = &entity.LayerView{Layer: *l, Company: *company}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateGroup adds a group to the company, with the same uniqueness rule as layers.
func (s *Service) CreateGroup(ctx context.Context, companyID int64, name string) (*entity.GroupView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", apperr.ErrInvalidInput)
	}
	var out *entity.GroupView
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		r := orgrepo.NewRepo(tx)
		company, err := r.GetCompany(ctx, companyID)
		if err != nil {
			return notFound(err, "company %d", companyID)
		}
		taken, err := r.GroupNameTaken(ctx, companyID, name)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("group %q: %w", name, apperr.ErrAlreadyExists)
		}
		g := &entity.Group{Name: name, CompanyID: companyID}
		if err := r.CreateGroup(ctx, g); err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("group %q: %w", name, apperr.ErrAlreadyExists)
			}
			return fmt.Errorf("create group: %w", err)
		}
		out = &entity.GroupView{Group: *g, Company: *company}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCompany registers a tenant. Companies are seeded, not created over HTTP.
func (s *Service) CreateCompany(ctx context.Context, name string) (*entity.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: company name is required", apperr.ErrInvalidInput)
	}
	if c, err := s.repo.GetCompanyByName(ctx, name); err == nil {
		return nil, fmt.Errorf("company %q (id %d): %w", name, c.ID, apperr.ErrAlreadyExists)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get company: %w", err)
	}
	id, err := s.repo.CreateCompany(ctx, name)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("company %q: %w", name, apperr.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create company: %w", err)
	}
	return &entity.Company{ID: id, Name: name}, nil
}

// SeedRoles makes sure the named roles exist and returns their ids by name.
func (s *Service) SeedRoles(ctx context.Context, names ...string) (map[string]int64, error) {
	ids := make(map[string]int64, len(names))
	for _, n := range names {
		id, err := s.repo.EnsureRole(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("seed role %s: %w", n, err)
		}
		ids[n] = id
	}
	return ids, nil
}

// EnsureSchema creates the organisation tables.
func (s *Service) EnsureSchema(ctx context.Context) error {
	return s.repo.EnsureTables(ctx)
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, apperr.ErrNotFound)...)
	}
	return err
}
