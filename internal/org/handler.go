package org

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/access"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/httpjson"
)

// Handler exposes the layer and group endpoints. All routes expect the
// access.Authenticate middleware in front of them.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// CreateLayerRequest is the body of POST /layers.
type CreateLayerRequest struct {
	LayerName   string `json:"layer_name"`
	LayerNumber int    `json:"layer_number"`
}

// CreateGroupRequest is the body of POST /groups.
type CreateGroupRequest struct {
	GroupName string `json:"group_name"`
}

func (h *Handler) ListLayers(w http.ResponseWriter, r *http.Request) {
	claims, ok := access.ClaimsFrom(r.Context())
	if !ok {
		httpjson.WriteError(w, apperr.ErrUnauthenticated)
		return
	}
	layers, err := h.svc.ListLayers(r.Context(), claims.CompanyID)
	if err != nil {
		h.fail(w, "list layers failed", err)
		return
	}
	httpjson.OK(w, http.StatusOK, httpjson.Fields{"layers": layers})
}

func (h *Handler) CreateLayer(w http.ResponseWriter, r *http.Request) {
	claims, ok := access.ClaimsFrom(r.Context())
	if !ok {
		httpjson.WriteError(w, apperr.ErrUnauthenticated)
		return
	}
	var req CreateLayerRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		h.logger.Debugw("invalid layer payload", "err", err)
		httpjson.WriteError(w, err)
		return
	}
	layer, err := h.svc.CreateLayer(r.Context(), claims.CompanyID, req.LayerName, req.LayerNumber)
	if err != nil {
		h.fail(w, "create layer failed", err)
		return
	}
	h.logger.Infow("layer created", "company_id", claims.CompanyID, "layer_id", layer.ID, "by", claims.UserID)
	httpjson.OK(w, http.StatusCreated, httpjson.Fields{"layer": layer})
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	claims, ok := access.ClaimsFrom(r.Context())
	if !ok {
		httpjson.WriteError(w, apperr.ErrUnauthenticated)
		return
	}
	groups, err := h.svc.ListGroups(r.Context(), claims.CompanyID)
	if err != nil {
		h.fail(w, "list groups failed", err)
		return
	}
	httpjson.OK(w, http.StatusOK, httpjson.Fields{"groups": groups})
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	claims, ok := access.ClaimsFrom(r.Context())
	if !ok {
		httpjson.WriteError(w, apperr.ErrUnauthenticated)
		return
	}
	var req CreateGroupRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		h.logger.Debugw("invalid group payload", "err", err)
		httpjson.WriteError(w, err)
		return
	}
	group, err := h.svc.CreateGroup(r.Context(), claims.CompanyID, req.GroupName)
	if err != nil {
		h.fail(w, "create group failed", err)
		return
	}
	h.logger.Infow("group created", "company_id", claims.CompanyID, "group_id", group.ID, "by", claims.UserID)
	httpjson.OK(w, http.StatusCreated, httpjson.Fields{"group": group})
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if status, _ := httpjson.Status(err); status >= http.StatusInternalServerError {
		h.logger.Errorw(msg, "err", err)
	} else {
		h.logger.Debugw(msg, "err", err)
	}
	httpjson.WriteError(w, err)
}
