package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maxxi02/rendezvous-server/internal/testutil"
	"github.com/maxxi02/rendezvous-server/internal/types"
)

var testSigningKey = []byte("test-signing-key")

func newAuthTestApp(t *testing.T) *App {
	return &App{
		log:        testutil.TestLogger(t),
		signingKey: testSigningKey,
	}
}

func TestIdentity(t *testing.T) {
	_, ok := Identity(context.Background())
	assert.False(t, ok, "expected no identity on a bare context")

	user := types.User{Id: "u1", Name: "user one", Role: types.RoleStaff}
	got, ok := Identity(WithIdentity(context.Background(), user))
	assert.True(t, ok)
	assert.Equal(t, user, got)
}

func TestTokenRoundtrip(t *testing.T) {
	app := newAuthTestApp(t)

	user := types.User{Id: "u1", Name: "user one", Avatar: "https://cdn/a.png", Role: types.RoleCustomer}
	token, err := app.createToken(user, time.Hour)
	assert.NoError(t, err)

	got, err := app.identityFromToken(token)
	assert.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestIdentityFromToken_badToken(t *testing.T) {
	app := newAuthTestApp(t)

	t.Run("garbage", func(t *testing.T) {
		_, err := app.identityFromToken("not-a-token")
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := &App{log: app.log, signingKey: []byte("other-key")}
		token, err := other.createToken(types.User{Id: "u1"}, time.Hour)
		assert.NoError(t, err)

		_, err = app.identityFromToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := app.createToken(types.User{Id: "u1"}, -time.Minute)
		assert.NoError(t, err)

		_, err = app.identityFromToken(token)
		assert.Error(t, err)
	})

	t.Run("role defaults to staff", func(t *testing.T) {
		token, err := app.createToken(types.User{Id: "u1", Name: "user one"}, time.Hour)
		assert.NoError(t, err)

		user, err := app.identityFromToken(token)
		assert.NoError(t, err)
		assert.Equal(t, types.RoleStaff, user.Role)
	})
}

func Test_tokenFromRequest(t *testing.T) {
	t.Run("cookie wins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?token=fromquery", nil)
		req.Header.Set("Authorization", "Bearer fromheader")
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "fromcookie"})

		assert.Equal(t, "fromcookie", tokenFromRequest(req))
	})

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?token=fromquery", nil)
		req.Header.Set("Authorization", "Bearer fromheader")

		assert.Equal(t, "fromheader", tokenFromRequest(req))
	})

	t.Run("query fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?token=fromquery", nil)
		assert.Equal(t, "fromquery", tokenFromRequest(req))
	})

	t.Run("nothing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.Empty(t, tokenFromRequest(req))
	})
}

func Test_authMiddleware(t *testing.T) {
	app := newAuthTestApp(t)

	t.Run("missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
			t.Error("expected handler not to be called")
		})(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid token reaches handler with identity", func(t *testing.T) {
		user := types.User{Id: "u1", Name: "user one", Role: types.RoleStaff}
		token, err := app.createToken(user, time.Hour)
		assert.NoError(t, err)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		called := false
		app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
			called = true
			got, ok := Identity(r.Context())
			assert.True(t, ok)
			assert.Equal(t, user.Id, got.Id)
		})(rr, req)

		assert.True(t, called, "expected handler to be called")
	})
}

func Test_staffMiddleware(t *testing.T) {
	app := newAuthTestApp(t)

	t.Run("customer is forbidden", func(t *testing.T) {
		token, err := app.createToken(types.User{Id: "c1", Role: types.RoleCustomer}, time.Hour)
		assert.NoError(t, err)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		app.staffMiddleware(func(w http.ResponseWriter, r *http.Request) {
			t.Error("expected handler not to be called")
		})(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("staff passes", func(t *testing.T) {
		token, err := app.createToken(types.User{Id: "s1", Role: types.RoleStaff}, time.Hour)
		assert.NoError(t, err)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		called := false
		app.staffMiddleware(func(w http.ResponseWriter, r *http.Request) {
			called = true
		})(rr, req)

		assert.True(t, called)
	})
}
