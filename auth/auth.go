package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

// AuthorizedEntity contains identity and origin information form an authorizer entity.
type AuthorizedEntity struct {
	Identity string
	Origin   string
}

// Authorizer provides authorization resolving for escrow calls.
type Authorizer interface {
	// IsAuthorized indicates if the token is authorized to call the
	// escrow. If 'false' is returned, it also returns a string with an
	// explanation of why that's the case.
	IsAuthorized(ctx context.Context, token string) (AuthorizedEntity, bool, string, error)
}

// Claims are the claims of an escrow caller token. The subject is the caller address.
type Claims struct {
	jwt.StandardClaims
}

// JWTAuthorizer authorizes HMAC signed tokens issued with a shared secret.
type JWTAuthorizer struct {
	secret []byte
}

var _ Authorizer = (*JWTAuthorizer)(nil)

// NewJWTAuthorizer returns a new JWTAuthorizer.
func NewJWTAuthorizer(secret string) (*JWTAuthorizer, error) {
	if secret == "" {
		return nil, errors.New("auth secret is empty")
	}
	return &JWTAuthorizer{secret: []byte(secret)}, nil
}

// IsAuthorized validates the token signature and claims.
func (a *JWTAuthorizer) IsAuthorized(_ context.Context, token string) (AuthorizedEntity, bool, string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return AuthorizedEntity{}, false, fmt.Sprintf("parsing token: %s", err), nil
	}
	if !parsed.Valid {
		return AuthorizedEntity{}, false, "token is invalid", nil
	}
	if claims.Subject == "" {
		return AuthorizedEntity{}, false, "token has no subject", nil
	}
	return AuthorizedEntity{Identity: claims.Subject, Origin: claims.Issuer}, true, "", nil
}

// NewToken issues a token for subject signed with secret. A zero ttl never expires.
func NewToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:  subject,
			Issuer:   issuer,
			IssuedAt: time.Now().Unix(),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %v", err)
	}
	return token, nil
}

type ctxKeyEntity struct{}

// NewContext returns a context carrying an authorized entity.
func NewContext(ctx context.Context, e AuthorizedEntity) context.Context {
	return context.WithValue(ctx, ctxKeyEntity{}, e)
}

// FromContext returns the authorized entity of ctx, if any.
func FromContext(ctx context.Context) (AuthorizedEntity, bool) {
	e, ok := ctx.Value(ctxKeyEntity{}).(AuthorizedEntity)
	return e, ok
}

// Middleware rejects requests without a valid bearer token and attaches the
// authorized entity to the request context.
func Middleware(a Authorizer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		e, ok, reason, err := a.IsAuthorized(r.Context(), token)
		if err != nil {
			http.Error(w, fmt.Sprintf("authorizing: %s", err), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, reason, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), e)))
	})
}
