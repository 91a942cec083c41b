package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/apperr"
	orgrepo "github.com/ovaphlow/pitchfork/service-user-management/internal/org/repo"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-user-management/internal/user/repo"
)

// maxChainHops bounds a supervisor walk even when the visited set is defeated
// by concurrent reassignment.
const maxChainHops = 64

// ResolveSupervisor walks up the supervisor links of userID, starting at the
// direct supervisor, and returns the first user whose layer number equals the
// audit layer's number. The walk stays inside the company; a chain that ends,
// cycles or leaves the company yields apperr.ErrNotFound.
func (s *UserService) ResolveSupervisor(ctx context.Context, companyID, userID, auditLayerID int64) (*entity.UserView, error) {
	audit, err := orgrepo.NewRepo(s.db).GetLayer(ctx, companyID, auditLayerID)
	if err != nil {
		return nil, notFound(err, "layer %d", auditLayerID)
	}
	start, err := s.repo.GetChainLink(ctx, companyID, userID)
	if err != nil {
		return nil, notFound(err, "user %d", userID)
	}
	id, err := walkChain(ctx, s.repo, companyID, start, audit.Number)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, companyID, id)
}

func walkChain(ctx context.Context, users *userrepo.UserRepo, companyID int64, from *entity.ChainLink, number int) (int64, error) {
	visited := map[int64]struct{}{from.ID: {}}
	cur := from
	for hop := 0; hop < maxChainHops; hop++ {
		if cur.SupervisorID == nil {
			return 0, fmt.Errorf("supervisor of user %d at layer number %d: %w", from.ID, number, apperr.ErrNotFound)
		}
		next := *cur.SupervisorID
		if _, seen := visited[next]; seen {
			return 0, fmt.Errorf("supervisor chain of user %d cycles at %d: %w", from.ID, next, apperr.ErrNotFound)
		}
		visited[next] = struct{}{}

		link, err := users.GetChainLink(ctx, companyID, next)
		if err != nil {
			// a supervisor outside the company is indistinguishable from a missing one
			return 0, notFound(err, "supervisor %d", next)
		}
		if link.LayerNumber == number {
			return link.ID, nil
		}
		cur = link
	}
	return 0, fmt.Errorf("supervisor chain of user %d exceeds %d hops: %w", from.ID, maxChainHops, apperr.ErrNotFound)
}

// ListAuditors resolves the supervisor at the audit layer for every employee of
// the group at the layer, and returns the distinct supervisors in the order
// they were first found. Employees without such a supervisor are skipped.
func (s *UserService) ListAuditors(ctx context.Context, companyID, groupID, layerID, auditLayerID int64) ([]entity.UserView, error) {
	audit, err := orgrepo.NewRepo(s.db).GetLayer(ctx, companyID, auditLayerID)
	if err != nil {
		return nil, notFound(err, "layer %d", auditLayerID)
	}
	employees, err := s.ListInGroupAndLayer(ctx, companyID, groupID, layerID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	out := make([]entity.UserView, 0)
	for _, e := range employees {
		start, err := s.repo.GetChainLink(ctx, companyID, e.ID)
		if err != nil {
			return nil, notFound(err, "user %d", e.ID)
		}
		id, err := walkChain(ctx, s.repo, companyID, start, audit.Number)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		v, err := s.Get(ctx, companyID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}
