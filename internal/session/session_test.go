package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/access"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/testutil"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/token"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/user"
)

type fixture struct {
	handler *Handler
	codec   *token.Codec
	userID  int64
	company int64
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t)
	fx := testutil.NewFixtures(t, db)
	acme := fx.NewTenant("Acme")
	id := fx.User(testutil.UserSpec{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@acme.com", Password: "pw",
		Role: "admin", CompanyID: acme.CompanyID, LayerID: acme.Staff, GroupID: acme.Sales,
	})

	codec, err := token.NewCodec(token.Config{Secret: "session-secret", TTL: time.Minute})
	require.NoError(t, err)
	users := user.NewUserService(db, user.BcryptHasher{Cost: bcrypt.MinCost}, nil, zaptest.NewLogger(t).Sugar())
	h := NewHandler(NewSessionService(users, codec), zaptest.NewLogger(t).Sugar())
	return fixture{handler: h, codec: codec, userID: id, company: acme.CompanyID}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLogin(t *testing.T) {
	f := setup(t)

	login := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		f.handler.Login(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body)))
		return rec
	}

	t.Run("success", func(t *testing.T) {
		rec := login(`{"email":"ADA@acme.com","password":"pw"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		out := decode(t, rec)
		assert.EqualValues(t, 1, out["result"])

		claims, err := f.codec.Verify(out["token"].(string))
		require.NoError(t, err)
		assert.Equal(t, f.userID, claims.UserID)
		assert.Equal(t, f.company, claims.CompanyID)
		assert.Equal(t, "admin", claims.Role)
	})

	// wrong password and unknown email answer the same way
	for name, body := range map[string]string{
		"wrong password": `{"email":"ada@acme.com","password":"nope"}`,
		"unknown email":  `{"email":"eve@acme.com","password":"pw"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := login(body)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"result":0,"token":null}`, rec.Body.String())
		})
	}

	t.Run("bad payload", func(t *testing.T) {
		rec := login(`not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogout(t *testing.T) {
	f := setup(t)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/logout", nil)
	r = r.WithContext(access.WithClaims(r.Context(), &token.Claims{UserID: f.userID, CompanyID: f.company, Role: "admin"}))
	f.handler.Logout(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":1,"first_name":"Ada","last_name":"Lovelace"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	f.handler.Logout(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidate(t *testing.T) {
	f := setup(t)
	raw, _, err := f.codec.Issue(f.userID, f.company, "admin")
	require.NoError(t, err)

	expired, _, err := f.codec.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }).Issue(f.userID, f.company, "admin")
	require.NoError(t, err)

	validate := func(jwt string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		f.handler.Validate(rec, httptest.NewRequest(http.MethodPost, "/validateJWT?jwt="+url.QueryEscape(jwt), nil))
		return rec
	}

	rec := validate(raw)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	payload := out["payload"].(map[string]any)
	assert.EqualValues(t, f.userID, payload["user_id"])
	assert.EqualValues(t, f.company, payload["company_id"])
	assert.Equal(t, "admin", payload["role"])
	assert.Contains(t, payload, "expires")

	rec = validate(expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "expired token", decode(t, rec)["reason"])

	rec = validate("garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", decode(t, rec)["reason"])

	rec = validate("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
