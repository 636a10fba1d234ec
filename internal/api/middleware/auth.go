package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"fleettrack/internal/api/util"
)

type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware validates HS256 bearer tokens signed with secret. An empty
// secret disables validation and every request acts as an anonymous admin.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.secret) == 0 {
			claims := &util.Claims{UserID: util.AnonymousUserID, Role: util.RoleAdmin}
			next.ServeHTTP(w, r.WithContext(util.WithClaims(r.Context(), claims)))
			return
		}

		raw := bearerToken(r)
		if raw == "" {
			util.WriteMessage(w, http.StatusUnauthorized, "unauthorized", "Authorization header required")
			return
		}

		claims, err := m.parse(raw)
		if err != nil {
			util.WriteMessage(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization token")
			return
		}
		next.ServeHTTP(w, r.WithContext(util.WithClaims(r.Context(), claims)))
	})
}

// RequireAdmin rejects callers without the admin role. It runs after Authenticate.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := util.GetUserClaims(r)
		if err != nil || !claims.IsAdmin() {
			util.WriteMessage(w, http.StatusForbidden, "forbidden", "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) parse(raw string) (*util.Claims, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	role, _ := mc["role"].(string)
	if role == "" {
		role = util.RoleOperator
	}
	return &util.Claims{UserID: sub, Role: role}, nil
}

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	return r.URL.Query().Get("token")
}
