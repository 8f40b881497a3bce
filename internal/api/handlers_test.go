package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/maxxi02/rendezvous-server/internal/config"
	"github.com/maxxi02/rendezvous-server/internal/presence"
	"github.com/maxxi02/rendezvous-server/internal/relay"
	"github.com/maxxi02/rendezvous-server/internal/server"
	"github.com/maxxi02/rendezvous-server/internal/stats"
	"github.com/maxxi02/rendezvous-server/internal/store"
	"github.com/maxxi02/rendezvous-server/internal/testutil"
	"github.com/maxxi02/rendezvous-server/internal/types"
)

type noopNotifier struct{}

func (noopNotifier) NotifyStaff(n *server.Notification) {}

// newTestApp wires an App around mocks, returning the mux so tests can
// exercise full routes including path parameters and middleware.
func newTestApp(t *testing.T, db *store.MockStore, tracker *presence.MockTracker) (*App, *http.ServeMux) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything)
	su.On("Incr", mock.Anything)

	logger := testutil.TestLogger(t)
	rl := relay.New(logger, db, noopNotifier{}, su)

	mux := http.NewServeMux()
	app := NewApp(mux, logger, nil, rl, db, tracker, su, &config.Config{
		ServerAddr: "localhost:0",
		SigningKey: testSigningKey,
	})

	return app, mux
}

func staffToken(t *testing.T, app *App) string {
	token, err := app.createToken(types.User{Id: "s1", Name: "staff one", Role: types.RoleStaff}, time.Hour)
	assert.NoError(t, err)
	return token
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func Test_health(t *testing.T) {
	tcases := []struct {
		name         string
		mongoErr     error
		redisErr     error
		expectedCode int
	}{
		{name: "healthy", expectedCode: http.StatusOK},
		{name: "mongo down", mongoErr: errors.New("mongo down"), expectedCode: http.StatusServiceUnavailable},
		{name: "redis down", redisErr: errors.New("redis down"), expectedCode: http.StatusServiceUnavailable},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &store.MockStore{}
			defer db.AssertExpectations(t)
			tracker := &presence.MockTracker{}
			defer tracker.AssertExpectations(t)

			db.On("Ping", mock.Anything).Return(tc.mongoErr).Once()
			tracker.On("Ping", mock.Anything).Return(tc.redisErr).Once()

			app, _ := newTestApp(t, db, tracker)

			rr := httptest.NewRecorder()
			app.health(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tc.expectedCode, rr.Code)

			var resp healthResponse
			assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			if tc.expectedCode == http.StatusOK {
				assert.Equal(t, "ok", resp.Status)
			} else {
				assert.Equal(t, "degraded", resp.Status)
			}
		})
	}
}

func Test_issueToken(t *testing.T) {
	app, _ := newTestApp(t, &store.MockStore{}, &presence.MockTracker{})

	t.Run("invalid body", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/token", bytes.NewBufferString("{"))
		app.issueToken(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing user id", func(t *testing.T) {
		body, _ := json.Marshal(tokenRequest{UserName: "no id"})
		rr := httptest.NewRecorder()
		app.issueToken(rr, httptest.NewRequest(http.MethodPost, "/api/auth/token", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("issues token and cookie", func(t *testing.T) {
		body, _ := json.Marshal(tokenRequest{UserId: "u1", UserName: "user one", Role: types.RoleCustomer})
		rr := httptest.NewRecorder()
		app.issueToken(rr, httptest.NewRequest(http.MethodPost, "/api/auth/token", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp tokenResponse
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "u1", resp.User.Id)
		assert.Equal(t, types.RoleCustomer, resp.User.Role)

		user, err := app.identityFromToken(resp.Token)
		assert.NoError(t, err)
		assert.Equal(t, "u1", user.Id)

		cookie := findCookie(rr, tokenCookieKey)
		assert.NotNil(t, cookie, "expected the token cookie to be set")
		assert.Equal(t, resp.Token, cookie.Value)
		assert.True(t, cookie.HttpOnly)
	})

	t.Run("role defaults to staff", func(t *testing.T) {
		body, _ := json.Marshal(tokenRequest{UserId: "u2", UserName: "user two"})
		rr := httptest.NewRecorder()
		app.issueToken(rr, httptest.NewRequest(http.MethodPost, "/api/auth/token", bytes.NewBuffer(body)))

		var resp tokenResponse
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, types.RoleStaff, resp.User.Role)
	})
}

func Test_getPresence(t *testing.T) {
	t.Run("missing user id", func(t *testing.T) {
		app, _ := newTestApp(t, &store.MockStore{}, &presence.MockTracker{})

		rr := httptest.NewRecorder()
		app.getPresence(rr, httptest.NewRequest(http.MethodGet, "/api/presence", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("returns record", func(t *testing.T) {
		tracker := &presence.MockTracker{}
		defer tracker.AssertExpectations(t)

		tracker.On("Get", mock.Anything, "u1").
			Return(presence.Record{UserId: "u1", Status: "online", LastSeen: time.Now().Unix()}, nil).Once()

		app, _ := newTestApp(t, &store.MockStore{}, tracker)

		rr := httptest.NewRecorder()
		app.getPresence(rr, httptest.NewRequest(http.MethodGet, "/api/presence?user_id=u1", nil))

		assert.Equal(t, http.StatusOK, rr.Code)

		var rec presence.Record
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
		assert.Equal(t, "online", rec.Status)
	})
}

func Test_placeOrder(t *testing.T) {
	t.Run("requires staff token", func(t *testing.T) {
		_, mux := newTestApp(t, &store.MockStore{}, &presence.MockTracker{})

		body, _ := json.Marshal(placeOrderRequest{TableNumber: 4, Items: []store.OrderItem{{Name: "espresso", Quantity: 1}}})
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("creates order", func(t *testing.T) {
		db := &store.MockStore{}
		defer db.AssertExpectations(t)

		db.On("CreateOrder", mock.Anything, mock.MatchedBy(func(o store.Order) bool {
			return o.TableNumber == 4 && o.Status == relay.StatusPlaced
		})).Return(store.Order{Id: "o1", TableNumber: 4, Status: relay.StatusPlaced}, nil).Once()

		app, mux := newTestApp(t, db, &presence.MockTracker{})

		body, _ := json.Marshal(placeOrderRequest{TableNumber: 4, Items: []store.OrderItem{{Name: "espresso", Quantity: 1}}})
		req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBuffer(body))
		req.Header.Set("Authorization", "Bearer "+staffToken(t, app))

		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var order store.Order
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&order))
		assert.Equal(t, "o1", order.Id)
	})

	t.Run("rejects empty order", func(t *testing.T) {
		app, mux := newTestApp(t, &store.MockStore{}, &presence.MockTracker{})

		body, _ := json.Marshal(placeOrderRequest{TableNumber: 4})
		req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBuffer(body))
		req.Header.Set("Authorization", "Bearer "+staffToken(t, app))

		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_advanceOrder(t *testing.T) {
	t.Run("advances status", func(t *testing.T) {
		db := &store.MockStore{}
		defer db.AssertExpectations(t)

		db.On("UpdateOrderStatus", mock.Anything, "o1", relay.StatusPlaced, relay.StatusPreparing).
			Return(store.Order{Id: "o1", Status: relay.StatusPreparing}, nil).Once()

		app, mux := newTestApp(t, db, &presence.MockTracker{})

		body, _ := json.Marshal(advanceOrderRequest{Status: relay.StatusPreparing})
		req := httptest.NewRequest(http.MethodPost, "/api/orders/o1/status", bytes.NewBuffer(body))
		req.Header.Set("Authorization", "Bearer "+staffToken(t, app))

		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("illegal transition conflicts", func(t *testing.T) {
		db := &store.MockStore{}
		defer db.AssertExpectations(t)

		db.On("UpdateOrderStatus", mock.Anything, "o1", relay.StatusPlaced, relay.StatusPreparing).
			Return(store.Order{}, store.ErrConflict).Once()

		app, mux := newTestApp(t, db, &presence.MockTracker{})

		body, _ := json.Marshal(advanceOrderRequest{Status: relay.StatusPreparing})
		req := httptest.NewRequest(http.MethodPost, "/api/orders/o1/status", bytes.NewBuffer(body))
		req.Header.Set("Authorization", "Bearer "+staffToken(t, app))

		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("unknown order", func(t *testing.T) {
		db := &store.MockStore{}
		defer db.AssertExpectations(t)

		db.On("UpdateOrderStatus", mock.Anything, "nope", relay.StatusPlaced, relay.StatusPreparing).
			Return(store.Order{}, store.ErrNotFound).Once()

		app, mux := newTestApp(t, db, &presence.MockTracker{})

		body, _ := json.Marshal(advanceOrderRequest{Status: relay.StatusPreparing})
		req := httptest.NewRequest(http.MethodPost, "/api/orders/nope/status", bytes.NewBuffer(body))
		req.Header.Set("Authorization", "Bearer "+staffToken(t, app))

		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_tableEndpoints(t *testing.T) {
	db := &store.MockStore{}
	defer db.AssertExpectations(t)

	db.On("OpenTableSession", mock.Anything, mock.MatchedBy(func(s store.TableSession) bool {
		return s.TableNumber == 7 && s.OpenedBy == "s1"
	})).Return(store.TableSession{Id: "t1", TableNumber: 7, OpenedBy: "s1"}, nil).Once()
	db.On("CloseTableSession", mock.Anything, "t1").
		Return(store.TableSession{Id: "t1", TableNumber: 7}, nil).Once()

	app, mux := newTestApp(t, db, &presence.MockTracker{})
	token := staffToken(t, app)

	body, _ := json.Marshal(openTableRequest{TableNumber: 7})
	req := httptest.NewRequest(http.MethodPost, "/api/tables", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code)

	var session store.TableSession
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&session))
	assert.Equal(t, "t1", session.Id)

	req = httptest.NewRequest(http.MethodDelete, "/api/tables/t1", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func Test_adjustInventory(t *testing.T) {
	db := &store.MockStore{}
	defer db.AssertExpectations(t)

	db.On("AdjustInventoryLevel", mock.Anything, "beans-house", int64(-2)).
		Return(store.InventoryItem{Sku: "beans-house", Level: 10}, nil).Once()

	app, mux := newTestApp(t, db, &presence.MockTracker{})

	body, _ := json.Marshal(adjustInventoryRequest{Sku: "beans-house", Delta: -2})
	req := httptest.NewRequest(http.MethodPost, "/api/inventory/adjust", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+staffToken(t, app))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var item store.InventoryItem
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&item))
	assert.Equal(t, int64(10), item.Level)
}
