package session

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/access"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/httpjson"
)

type Handler struct {
	svc    *SessionService
	logger *zap.SugaredLogger
}

func NewHandler(svc *SessionService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		httpjson.WriteError(w, err)
		return
	}
	raw, claims, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthenticated) {
			// same answer for unknown email and wrong password
			h.logger.Debugw("login failed", "err", err)
			httpjson.WriteJSON(w, http.StatusUnauthorized, map[string]any{"result": 0, "token": nil})
			return
		}
		h.logger.Errorw("login failed", "err", err)
		httpjson.WriteError(w, err)
		return
	}
	h.logger.Infow("user logged in", "user_id", claims.UserID, "company_id", claims.CompanyID, "jti", claims.ID)
	httpjson.OK(w, http.StatusOK, httpjson.Fields{"token": raw})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := access.ClaimsFrom(r.Context())
	if !ok {
		httpjson.WriteError(w, apperr.ErrUnauthenticated)
		return
	}
	v, err := h.svc.Logout(r.Context(), claims)
	if err != nil {
		h.logger.Debugw("logout failed", "err", err)
		httpjson.WriteError(w, err)
		return
	}
	h.logger.Infow("user logged out", "user_id", claims.UserID, "jti", claims.ID)
	httpjson.OK(w, http.StatusOK, httpjson.Fields{
		"first_name": v.FirstName,
		"last_name":  v.LastName,
	})
}

// Validate answers POST /validateJWT?jwt=<token>.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("jwt")
	if raw == "" {
		httpjson.WriteError(w, apperr.ErrUnauthenticated)
		return
	}
	claims, err := h.svc.Validate(raw)
	if err != nil {
		h.logger.Debugw("token validation failed", "err", err)
		httpjson.WriteError(w, err)
		return
	}
	httpjson.OK(w, http.StatusOK, httpjson.Fields{"payload": claims})
}
