package user

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/access"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/token"
)

func TestHandler_RegisterAcceptsPasswordHashAlias(t *testing.T) {
	svc, _, fx := setupService(t)
	acme := fx.NewTenant("Acme")
	h := NewHandler(svc, zaptest.NewLogger(t).Sugar())

	body := `{"first_name":"Ada","last_name":"Lovelace","email":"ada@acme.com","password_hash":"plain",` +
		`"role_id":` + strconv.FormatInt(fx.Role("employee"), 10) +
		`,"company_id":` + strconv.FormatInt(acme.CompanyID, 10) +
		`,"layer_id":` + strconv.FormatInt(acme.Staff, 10) +
		`,"group_id":` + strconv.FormatInt(acme.Sales, 10) + `}`

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		Result    int    `json:"result"`
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Result)
	assert.NotZero(t, out.ID)
	assert.Equal(t, "Ada", out.FirstName)

	_, err := svc.Authenticate(context.Background(), "ada@acme.com", "plain")
	assert.NoError(t, err)

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_PathParameters(t *testing.T) {
	svc, _, fx := setupService(t)
	acme := fx.NewTenant("Acme")
	h := NewHandler(svc, zaptest.NewLogger(t).Sugar())

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			claims := &token.Claims{UserID: 1, CompanyID: acme.CompanyID, Role: "employee"}
			next.ServeHTTP(w, req.WithContext(access.WithClaims(req.Context(), claims)))
		})
	})
	r.Get("/user/{user_id}", h.Get)
	r.Get("/groups/employee/{group_id}/{layer_id}", h.ListEmployees)

	sales := strconv.FormatInt(acme.Sales, 10)
	staff := strconv.FormatInt(acme.Staff, 10)
	tests := []struct {
		path string
		want int
	}{
		{"/user/abc", http.StatusBadRequest},
		{"/user/-3", http.StatusBadRequest},
		{"/user/4242", http.StatusNotFound},
		{"/groups/employee/" + sales + "/" + staff, http.StatusOK},
		{"/groups/employee/" + sales + "/zero", http.StatusBadRequest},
	}
	for _, tt := range tests {
		path, want := tt.path, tt.want
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
}
