package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/maxxi02/rendezvous-server/internal/types"
)

const (
	userIdClaim     = "user-id"
	userNameClaim   = "user-name"
	userAvatarClaim = "user-avatar"
	userRoleClaim   = "user-role"
	expClaim        = "exp"

	tokenCookieKey = "token"
	defaultExp     = 24 * time.Hour
)

type contextKey string

const identityKey contextKey = "identity"

// Identity returns the authenticated identity bundle stored by the auth
// middleware.
func Identity(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(identityKey).(types.User)
	return user, ok
}

func WithIdentity(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, identityKey, user)
}

func (s *App) createToken(user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:     user.Id,
		userNameClaim:   user.Name,
		userAvatarClaim: user.Avatar,
		userRoleClaim:   user.Role,
		expClaim:        time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *App) identityFromToken(tokenString string) (types.User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return types.User{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return types.User{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return types.User{}, fmt.Errorf("invalid user id claim")
	}

	user := types.User{Id: userId, Role: types.RoleStaff}
	if name, ok := claims[userNameClaim].(string); ok {
		user.Name = name
	}
	if avatar, ok := claims[userAvatarClaim].(string); ok {
		user.Avatar = avatar
	}
	if role, ok := claims[userRoleClaim].(string); ok && role != "" {
		user.Role = role
	}

	return user, nil
}

// tokenFromRequest looks for the handshake token in the cookie, the
// Authorization header, then the query string (browsers cannot set headers
// on websocket upgrades).
func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(tokenCookieKey); err == nil {
		return cookie.Value
	}

	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}

	return r.URL.Query().Get(tokenCookieKey)
}

// authMiddleware requires a valid token and stores the identity bundle in
// the request context.
func (s *App) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := tokenFromRequest(r)
		if tokenString == "" {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		user, err := s.identityFromToken(tokenString)
		if err != nil {
			s.log.Printf("failed to resolve identity from token: %v", err)
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next(w, r.WithContext(WithIdentity(r.Context(), user)))
	}
}

// staffMiddleware additionally requires the staff role.
func (s *App) staffMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		user, ok := Identity(r.Context())
		if !ok || user.Role != types.RoleStaff {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		next(w, r)
	})
}
