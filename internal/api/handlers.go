package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/maxxi02/rendezvous-server/internal/relay"
	"github.com/maxxi02/rendezvous-server/internal/server"
	"github.com/maxxi02/rendezvous-server/internal/store"
	"github.com/maxxi02/rendezvous-server/internal/types"
)

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Mongo  string `json:"mongo"`
	Redis  string `json:"redis"`
}

func (s *App) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Mongo: "ok", Redis: "ok"}
	code := http.StatusOK

	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status, resp.Mongo = "degraded", err.Error()
		code = http.StatusServiceUnavailable
	}
	if err := s.presence.Ping(r.Context()); err != nil {
		resp.Status, resp.Redis = "degraded", err.Error()
		code = http.StatusServiceUnavailable
	}

	s.writeJson(w, code, resp)
}

type tokenRequest struct {
	UserId     string `json:"user_id"`
	UserName   string `json:"user_name"`
	UserAvatar string `json:"user_avatar,omitempty"`
	Role       string `json:"role,omitempty"`
}

type tokenResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

// issueToken mints the handshake JWT for a terminal that has already
// authenticated the user. The identity bundle is trusted as supplied.
func (s *App) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.UserId == "" || req.UserName == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	role := req.Role
	if role == "" {
		role = types.RoleStaff
	}

	user := types.User{
		Id:     req.UserId,
		Name:   req.UserName,
		Avatar: req.UserAvatar,
		Role:   role,
	}

	token, err := s.createToken(user, defaultExp)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieKey,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(defaultExp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	s.writeJson(w, http.StatusOK, tokenResponse{Token: token, User: user})
}

func (s *App) getPresence(w http.ResponseWriter, r *http.Request) {
	userId := r.URL.Query().Get("user_id")
	if userId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rec, err := s.presence.Get(r.Context(), userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, rec)
}

// serveWs upgrades the connection and hands it to the chat server. A missing
// or invalid token does not reject the connection; the session gets a
// synthesized guest identity instead.
func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	var user types.User
	if tokenString := tokenFromRequest(r); tokenString != "" {
		if resolved, err := s.identityFromToken(tokenString); err == nil {
			user = resolved
		} else {
			s.log.Printf("ws token rejected: %v", err)
		}
	}

	if user.Id == "" {
		user = types.User{
			Id:   "guest-" + uuid.NewString(),
			Name: "Guest",
			Role: types.RoleCustomer,
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user, conn, s.cs, s.log, s.stats)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

type placeOrderRequest struct {
	TableNumber int               `json:"table_number"`
	Items       []store.OrderItem `json:"items"`
}

func (s *App) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TableNumber <= 0 || len(req.Items) == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	order, err := s.relay.PlaceOrder(r.Context(), req.TableNumber, req.Items)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, order)
}

type advanceOrderRequest struct {
	Status string `json:"status"`
}

func (s *App) advanceOrder(w http.ResponseWriter, r *http.Request) {
	var req advanceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	order, err := s.relay.AdvanceOrder(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, relay.ErrNotFound):
			errResp = NewNotFoundError()
		case errors.Is(err, relay.ErrBadTransition):
			errResp = NewConflictError()
		default:
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, order)
}

type openTableRequest struct {
	TableNumber int `json:"table_number"`
}

func (s *App) openTable(w http.ResponseWriter, r *http.Request) {
	var req openTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TableNumber <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, _ := Identity(r.Context())
	session, err := s.relay.OpenTable(r.Context(), req.TableNumber, user.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, session)
}

func (s *App) closeTable(w http.ResponseWriter, r *http.Request) {
	session, err := s.relay.CloseTable(r.Context(), r.PathValue("id"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, relay.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, session)
}

type adjustInventoryRequest struct {
	Sku   string `json:"sku"`
	Delta int64  `json:"delta"`
}

func (s *App) adjustInventory(w http.ResponseWriter, r *http.Request) {
	var req adjustInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Sku == "" || req.Delta == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	item, err := s.relay.AdjustInventory(r.Context(), req.Sku, req.Delta)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, item)
}
