package access

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/resquery/core/logger"
)

// Claims are the JWT claims accepted by the middleware
type Claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JwtMiddlewareBuilder is a helper builder for NewJwtMiddleware
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC secret the tokens are signed with
	Secret []byte
	// Issuer is the accepted issuer for the token. Empty accepts every issuer.
	Issuer string
}

// NewJwtMiddleware returns a middleware handler to validate
// JWT bearer token.
//
// Tokens are accepted as "Authorization: Bearer" header. The roles claim
// becomes the Authorization of the request, the subject or email its
// identity. Requests without token pass without authorization. This is a
// final handler with regards to the bearer token: it returns
// http.StatusUnauthorized when a token is present but invalid.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	authCache := NewAuthorizationCache()

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return jmb.Secret, nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil {
				h.ServeHTTP(w, r)
				return
			}

			tokenString := bearerToken(r)
			if tokenString == "" {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			auth := authCache.Read(tokenString)
			if auth == nil {
				rlog := logger.FromContext(r.Context())
				claims := Claims{}
				token, err := jwt.ParseWithClaims(tokenString, &claims, keyFunc)
				if err != nil || !token.Valid || (jmb.Issuer != "" && claims.Issuer != jmb.Issuer) {
					rlog.WithError(err).Infoln("rejecting invalid token")
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				identity := claims.Subject
				if identity == "" {
					identity = claims.Email
				}
				auth = &Authorization{Identity: identity, Roles: claims.Roles}
				// only tokens without expiry are cached, expiring tokens must be validated on every request
				if claims.ExpiresAt == nil {
					authCache.Write(tokenString, auth)
				}
			}

			ctx := auth.ContextWithAuthorization(r.Context())
			if auth.Identity != "" {
				ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.Identity)
			}
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) == 0 || bearer == "null" {
		return ""
	}
	if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
		return bearer[7:]
	}
	return bearer
}

// NewToken creates a signed token with roles for identity. A zero ttl
// creates a token without expiry, a negative ttl an expired one.
func NewToken(secret []byte, issuer, identity string, roles []string, ttl time.Duration) (string, error) {
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  identity,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
