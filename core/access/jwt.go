package access

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/logger"
)

// CookieName is the cookie which may carry the token instead of the Authorization header
const CookieName = "Tenantkit-JWT"

// Claims are the claims of caller tokens. The subject is the user id.
type Claims struct {
	Name              string            `json:"name,omitempty"`
	OrganizationRoles map[string]string `json:"organization_roles,omitempty"`
	Scope             string            `json:"scope,omitempty"`
	ClientCredentials bool              `json:"client_credentials,omitempty"`
	Studio            bool              `json:"studio,omitempty"`
	jwt.RegisteredClaims
}

// Caller converts the claims into a caller
func (c *Claims) Caller() (*core.Caller, error) {
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject '%s'", c.Subject)
	}
	return &core.Caller{
		UserID:            userID,
		Name:              c.Name,
		OrganizationRoles: c.OrganizationRoles,
		Scopes:            strings.Fields(c.Scope),
		ClientCredentials: c.ClientCredentials,
		Studio:            c.Studio,
	}, nil
}

// IssueToken returns a signed HS256 token for caller
func IssueToken(secret []byte, caller *core.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:              caller.Name,
		OrganizationRoles: caller.OrganizationRoles,
		Scope:             strings.Join(caller.Scopes, " "),
		ClientCredentials: caller.ClientCredentials,
		Studio:            caller.Studio,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// NewJWTMiddleware returns a middleware handler to validate HS256 bearer tokens.
//
// Tokens are accepted as "Authorization: Bearer" header or as "Tenantkit-JWT"-cookie.
// Requests without token pass as anonymous. Requests with an invalid token are rejected
// with http.StatusUnauthorized.
func NewJWTMiddleware(secret []byte) mux.MiddlewareFunc {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if core.CallerFromContext(r.Context()) != nil { // already authenticated
				h.ServeHTTP(w, r)
				return
			}

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				}
			} else if cookie, _ := r.Cookie(CookieName); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r)
				return
			}

			var claims Claims
			token, err := jwt.ParseWithClaims(tokenString, &claims, keyFunc)
			if err != nil || !token.Valid {
				logger.FromContext(r.Context()).WithError(err).Infoln("rejected bearer token")
				apierror.Write(w, r, apierror.Unauthorized("Invalid bearer token"))
				return
			}
			caller, err := claims.Caller()
			if err != nil {
				apierror.Write(w, r, apierror.Unauthorized("Invalid bearer token"))
				return
			}
			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), caller.UserID.String())
			h.ServeHTTP(w, r.WithContext(caller.ContextWithCaller(ctx)))
		})
	}
}
