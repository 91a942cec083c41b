package user

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/access"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/token"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/httpjson"
)

// Handler exposes HTTP endpoints for user registration, lookup and the
// hierarchy queries. Everything but Register expects access.Authenticate.
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRequest request body for register endpoint. Privileged roles are
// refused here; see UserService.SelfRegister. PasswordHash is accepted
// as an alias of Password for older clients; it carries the plain password too.
type RegisterRequest struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	PasswordHash string `json:"password_hash"`
	SupervisorID *int64 `json:"supervisor_id"`
	RoleID       int64  `json:"role_id"`
	LayerID      int64  `json:"layer_id"`
	CompanyID    int64  `json:"company_id"`
	GroupID      int64  `json:"group_id"`
}

// AssignLayerRequest is the body of POST /user/layer/{user_id}.
type AssignLayerRequest struct {
	LayerID int64 `json:"layer_id"`
}

// AssignGroupRequest is the body of POST /user/group/{user_id}.
type AssignGroupRequest struct {
	GroupID int64 `json:"group_id"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		httpjson.WriteError(w, err)
		return
	}
	password := req.Password
	if password == "" {
		password = req.PasswordHash
	}
	u, err := h.svc.SelfRegister(r.Context(), RegisterInput{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Password:     password,
		SupervisorID: req.SupervisorID,
		RoleID:       req.RoleID,
		LayerID:      req.LayerID,
		CompanyID:    req.CompanyID,
		GroupID:      req.GroupID,
	})
	if err != nil {
		h.fail(w, "register failed", err)
		return
	}
	h.logger.Infow("user registered", "user_id", u.ID, "company_id", u.CompanyID)
	httpjson.OK(w, http.StatusCreated, httpjson.Fields{
		"id":         u.ID,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := access.ClaimsFrom(r.Context())
	if !ok {
		httpjson.WriteError(w, apperr.ErrUnauthenticated)
		return
	}
	userID, err := pathID(r, "user_id")
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	v, err := h.svc.Get(r.Context(), claims.CompanyID, userID)
	if err != nil {
		h.fail(w, "get user failed", err)
		return
	}
	httpjson.OK(w, http.StatusOK, httpjson.Fields{"user": v})
}

func (h *Handler) AssignLayer(w http.ResponseWriter, r *http.Request) {
	claims, ok := access.ClaimsFrom(r.Context())
	if !ok {
		httpjson.WriteError(w, apperr.ErrUnauthenticated)
		return
	}
	userID, err := pathID(r, "user_id")
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	var req AssignLayerRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	v, err := h.svc.AssignLayer(r.Context(), claims, userID, req.LayerID)
	if err != nil {
		h.fail(w, "assign layer failed", err)
		return
	}
	h.logger.Infow("user layer changed", "user_id", userID, "layer_id", req.LayerID, "by", claims.UserID)
	httpjson.OK(w, http.StatusOK, httpjson.Fields{"user": v})
}

func (h *Handler) AssignGroup(w http.ResponseWriter, r *http.Request) {
	claims, ok := access.ClaimsFrom(r.Context())
	if !ok {
		httpjson.WriteError(w, apperr.ErrUnauthenticated)
		return
	}
	userID, err := pathID(r, "user_id")
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	var req AssignGroupRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	v, err := h.svc.AssignGroup(r.Context(), claims, userID, req.GroupID)
	if err != nil {
		h.fail(w, "assign group failed", err)
		return
	}
	h.logger.Infow("user group changed", "user_id", userID, "group_id", req.GroupID, "by", claims.UserID)
	httpjson.OK(w, http.StatusOK, httpjson.Fields{"user": v})
}

// ListInGroup answers GET /group/{group_id}.
func (h *Handler) ListInGroup(w http.ResponseWriter, r *http.Request) {
	claims, ids, ok := h.scoped(w, r, "group_id")
	if !ok {
		return
	}
	users, err := h.svc.ListInGroup(r.Context(), claims.CompanyID, ids[0])
	h.writeUsers(w, "list group users failed", users, err)
}

// ListSupervisors answers GET /groups/supervisor/{layer_id}.
func (h *Handler) ListSupervisors(w http.ResponseWriter, r *http.Request) {
	claims, ids, ok := h.scoped(w, r, "layer_id")
	if !ok {
		return
	}
	users, err := h.svc.ListInLayer(r.Context(), claims.CompanyID, ids[0])
	h.writeUsers(w, "list supervisors failed", users, err)
}

// ListEmployees answers GET /groups/employee/{group_id}/{layer_id}.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	claims, ids, ok := h.scoped(w, r, "group_id", "layer_id")
	if !ok {
		return
	}
	users, err := h.svc.ListInGroupAndLayer(r.Context(), claims.CompanyID, ids[0], ids[1])
	h.writeUsers(w, "list employees failed", users, err)
}

// ListAuditors answers GET /groups/auditor/{group_id}/{layer_id}/{audit_layer_id}.
func (h *Handler) ListAuditors(w http.ResponseWriter, r *http.Request) {
	claims, ids, ok := h.scoped(w, r, "group_id", "layer_id", "audit_layer_id")
	if !ok {
		return
	}
	users, err := h.svc.ListAuditors(r.Context(), claims.CompanyID, ids[0], ids[1], ids[2])
	h.writeUsers(w, "list auditors failed", users, err)
}

// ResolveSupervisor answers GET /user/{user_id}/supervisor/{layer_id}.
func (h *Handler) ResolveSupervisor(w http.ResponseWriter, r *http.Request) {
	claims, ids, ok := h.scoped(w, r, "user_id", "layer_id")
	if !ok {
		return
	}
	v, err := h.svc.ResolveSupervisor(r.Context(), claims.CompanyID, ids[0], ids[1])
	if err != nil {
		h.fail(w, "resolve supervisor failed", err)
		return
	}
	httpjson.OK(w, http.StatusOK, httpjson.Fields{"user": v})
}

// scoped pulls the caller's claims and the named numeric path parameters,
// writing the error response itself when either is missing.
func (h *Handler) scoped(w http.ResponseWriter, r *http.Request, params ...string) (*token.Claims, []int64, bool) {
	claims, ok := access.ClaimsFrom(r.Context())
	if !ok {
		httpjson.WriteError(w, apperr.ErrUnauthenticated)
		return nil, nil, false
	}
	ids := make([]int64, len(params))
	for i, p := range params {
		id, err := pathID(r, p)
		if err != nil {
			httpjson.WriteError(w, err)
			return nil, nil, false
		}
		ids[i] = id
	}
	return claims, ids, true
}

func (h *Handler) writeUsers(w http.ResponseWriter, msg string, users any, err error) {
	if err != nil {
		h.fail(w, msg, err)
		return
	}
	httpjson.OK(w, http.StatusOK, httpjson.Fields{"users": users})
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if status, _ := httpjson.Status(err); status >= http.StatusInternalServerError {
		h.logger.Errorw(msg, "err", err)
	} else {
		h.logger.Debugw(msg, "err", err)
	}
	httpjson.WriteError(w, err)
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", apperr.ErrInvalidInput, name)
	}
	return id, nil
}
