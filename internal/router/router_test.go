package router

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/access"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/org"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/session"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/testutil"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/token"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/user"
)

type apiFixture struct {
	srv    *httptest.Server
	fx     *testutil.Fixtures
	tenant testutil.Tenant
	other  testutil.Tenant
}

func setupAPI(t *testing.T) apiFixture {
	t.Helper()
	db := testutil.NewDB(t)
	fx := testutil.NewFixtures(t, db)
	logger := zaptest.NewLogger(t).Sugar()

	codec, err := token.NewCodec(token.Config{Secret: "router-secret", TTL: 10 * time.Minute})
	require.NoError(t, err)
	policy, err := access.NewPolicy()
	require.NoError(t, err)
	users := user.NewUserService(db, user.BcryptHasher{Cost: bcrypt.MinCost}, policy, logger)

	h := New(Options{
		Logger:   logger,
		Codec:    codec,
		Policy:   policy,
		Orgs:     org.NewHandler(org.NewService(db), logger),
		Users:    user.NewHandler(users, logger),
		Sessions: session.NewHandler(session.NewSessionService(users, codec), logger),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	for _, role := range []string{"ceo", "admin", "employee"} {
		fx.Role(role)
	}
	return apiFixture{srv: srv, fx: fx, tenant: fx.NewTenant("Acme"), other: fx.NewTenant("Globex")}
}

func (a apiFixture) do(t *testing.T, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequest(method, a.srv.URL+DefaultBasePath+path, rd)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (a apiFixture) register(t *testing.T, email, role string, tn testutil.Tenant) int64 {
	t.Helper()
	status, out := a.do(t, http.MethodPost, "/register", "", map[string]any{
		"first_name": "First", "last_name": "Last", "email": email, "password": "pw",
		"role_id": a.fx.Role(role), "company_id": tn.CompanyID, "layer_id": tn.Staff, "group_id": tn.Sales,
	})
	require.Equal(t, http.StatusCreated, status, out)
	return int64(out["id"].(float64))
}

func (a apiFixture) login(t *testing.T, email string) string {
	t.Helper()
	status, out := a.do(t, http.MethodPost, "/login", "", map[string]any{"email": email, "password": "pw"})
	require.Equal(t, http.StatusOK, status, out)
	return out["token"].(string)
}

func TestRegisterLoginGetUser(t *testing.T) {
	a := setupAPI(t)
	id := a.register(t, "a@b.com", "employee", a.tenant)
	tok := a.login(t, "a@b.com")

	// the token payload carries the new user's id
	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.EqualValues(t, id, claims["user_id"])

	status, out := a.do(t, http.MethodGet, fmt.Sprintf("/user/%d", id), tok, nil)
	require.Equal(t, http.StatusOK, status, out)
	u := out["user"].(map[string]any)
	assert.NotContains(t, u, "password_hash")
	assert.NotContains(t, u, "role_id")
	assert.Equal(t, "employee", u["role"].(map[string]any)["name"])
	assert.Equal(t, "Acme", u["company"].(map[string]any)["name"])

	status, _ = a.do(t, http.MethodGet, fmt.Sprintf("/user/%d", id), "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, out = a.do(t, http.MethodPost, "/logout", tok, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "First", out["first_name"])

	status, out = a.do(t, http.MethodPost, "/validateJWT?jwt="+tok, "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, out, "payload")
}

func TestTenantIsolation(t *testing.T) {
	a := setupAPI(t)
	mine := a.register(t, "me@acme.com", "employee", a.tenant)
	theirs := a.register(t, "them@globex.com", "employee", a.other)
	tok := a.login(t, "me@acme.com")

	status, _ := a.do(t, http.MethodGet, fmt.Sprintf("/user/%d", theirs), tok, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, out := a.do(t, http.MethodGet, fmt.Sprintf("/group/%d", a.tenant.Sales), tok, nil)
	require.Equal(t, http.StatusOK, status)
	users := out["users"].([]any)
	require.Len(t, users, 1)
	assert.EqualValues(t, mine, users[0].(map[string]any)["id"])

	status, out = a.do(t, http.MethodGet, fmt.Sprintf("/group/%d", a.other.Sales), tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, out["users"])
}

func TestRoleGate(t *testing.T) {
	a := setupAPI(t)
	target := a.register(t, "emp@acme.com", "employee", a.tenant)
	a.fx.User(testutil.UserSpec{Email: "ceo@acme.com", Password: "pw", Role: "ceo", CompanyID: a.tenant.CompanyID, LayerID: a.tenant.Managers, GroupID: a.tenant.Sales})
	emp := a.login(t, "emp@acme.com")
	ceo := a.login(t, "ceo@acme.com")

	status, out := a.do(t, http.MethodPost, fmt.Sprintf("/user/layer/%d", target), emp, map[string]any{"layer_id": a.tenant.Managers})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "No Permission", out["reason"])

	status, out = a.do(t, http.MethodGet, fmt.Sprintf("/user/%d", target), emp, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, a.tenant.Staff, out["user"].(map[string]any)["layer"].(map[string]any)["id"])

	status, out = a.do(t, http.MethodPost, fmt.Sprintf("/user/layer/%d", target), ceo, map[string]any{"layer_id": a.tenant.Managers})
	require.Equal(t, http.StatusOK, status, out)
	assert.EqualValues(t, a.tenant.Managers, out["user"].(map[string]any)["layer"].(map[string]any)["id"])

	status, _ = a.do(t, http.MethodPost, fmt.Sprintf("/user/group/%d", target), ceo, map[string]any{"group_id": a.other.Sales})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = a.do(t, http.MethodPost, "/layers", emp, map[string]any{"layer_name": "Board", "layer_number": 10})
	assert.Equal(t, http.StatusForbidden, status)

	status, out = a.do(t, http.MethodPost, "/layers", ceo, map[string]any{"layer_name": "Board", "layer_number": 10})
	require.Equal(t, http.StatusCreated, status, out)
	status, _ = a.do(t, http.MethodPost, "/layers", ceo, map[string]any{"layer_name": "Board", "layer_number": 11})
	assert.Equal(t, http.StatusConflict, status)

	status, out = a.do(t, http.MethodPost, "/groups", ceo, map[string]any{"group_name": "Legal"})
	require.Equal(t, http.StatusCreated, status, out)

	status, out = a.do(t, http.MethodGet, "/groups", emp, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["groups"], 3)
}

func TestRegisterRefusesPrivilegedRoles(t *testing.T) {
	a := setupAPI(t)
	for _, role := range []string{"ceo", "admin"} {
		status, out := a.do(t, http.MethodPost, "/register", "", map[string]any{
			"first_name": "Mallory", "last_name": "M", "email": role + "@evil.com", "password": "pw",
			"role_id": a.fx.Role(role), "company_id": a.tenant.CompanyID, "layer_id": a.tenant.Staff, "group_id": a.tenant.Sales,
		})
		assert.Equal(t, http.StatusForbidden, status, role)
		assert.Equal(t, "No Permission", out["reason"], role)

		status, _ = a.do(t, http.MethodPost, "/login", "", map[string]any{"email": role + "@evil.com", "password": "pw"})
		assert.Equal(t, http.StatusUnauthorized, status, role)
	}
}

func TestHierarchyRoutes(t *testing.T) {
	a := setupAPI(t)
	c := a.tenant.CompanyID
	boss := a.fx.User(testutil.UserSpec{Email: "boss@acme.com", Password: "pw", Role: "admin", CompanyID: c, LayerID: a.tenant.Managers, GroupID: a.tenant.Sales})
	emp := a.fx.User(testutil.UserSpec{Email: "emp@acme.com", Password: "pw", CompanyID: c, LayerID: a.tenant.Staff, GroupID: a.tenant.Sales, SupervisorID: testutil.Int64(boss)})
	tok := a.login(t, "emp@acme.com")

	status, out := a.do(t, http.MethodGet, fmt.Sprintf("/groups/supervisor/%d", a.tenant.Managers), tok, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out["users"], 1)

	status, out = a.do(t, http.MethodGet, fmt.Sprintf("/groups/employee/%d/%d", a.tenant.Sales, a.tenant.Staff), tok, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out["users"], 1)
	assert.EqualValues(t, emp, out["users"].([]any)[0].(map[string]any)["id"])

	status, out = a.do(t, http.MethodGet, fmt.Sprintf("/user/%d/supervisor/%d", emp, a.tenant.Managers), tok, nil)
	require.Equal(t, http.StatusOK, status, out)
	assert.EqualValues(t, boss, out["user"].(map[string]any)["id"])

	status, out = a.do(t, http.MethodGet, fmt.Sprintf("/groups/auditor/%d/%d/%d", a.tenant.Sales, a.tenant.Staff, a.tenant.Managers), tok, nil)
	require.Equal(t, http.StatusOK, status, out)
	require.Len(t, out["users"], 1)
	assert.EqualValues(t, boss, out["users"].([]any)[0].(map[string]any)["id"])

	status, _ = a.do(t, http.MethodGet, fmt.Sprintf("/user/%d/supervisor/%d", boss, a.tenant.Managers), tok, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMiddleware(t *testing.T) {
	a := setupAPI(t)

	resp, err := a.srv.Client().Get(a.srv.URL + DefaultBasePath + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.Len(t, resp.Header.Get(RequestIDHeader), 27)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	req, err := http.NewRequest(http.MethodGet, a.srv.URL+DefaultBasePath+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "caller-id")
	resp, err = a.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "caller-id", resp.Header.Get(RequestIDHeader))

	req, err = http.NewRequest(http.MethodOptions, a.srv.URL+DefaultBasePath+"/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = a.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestLoggingMiddleware_SeesRequestID(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	h := RequestIDMiddleware(LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, RequestID(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRecoverMiddleware_LogsPanicThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core).Sugar()
	h := RequestIDMiddleware(LoggingMiddleware(logger)(RecoverMiddleware(logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}),
	)))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/explode", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"result":0,"reason":"internal error"}`, rec.Body.String())

	panics := logs.FilterMessage("panic recovered").All()
	require.Len(t, panics, 1)
	assert.Equal(t, zapcore.ErrorLevel, panics[0].Level)
	assert.Equal(t, "req-42", panics[0].ContextMap()["request_id"])
	assert.Equal(t, "boom", panics[0].ContextMap()["panic"])
	assert.Contains(t, panics[0].ContextMap()["stack"], "runtime/debug.Stack")

	requests := logs.FilterMessage("http request").All()
	require.Len(t, requests, 1)
	assert.Equal(t, zapcore.WarnLevel, requests[0].Level)
	assert.EqualValues(t, http.StatusInternalServerError, requests[0].ContextMap()["status"])
	assert.Equal(t, "req-42", requests[0].ContextMap()["request_id"])
}

func TestRecoverMiddleware_RepanicsOnAbort(t *testing.T) {
	h := RecoverMiddleware(zaptest.NewLogger(t).Sugar())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
