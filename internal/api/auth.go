package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
	"github.com/R3E-Network/universal-registry/infrastructure/logging"
)

// BearerVerifier validates an Authorization: Bearer <token> value and
// returns the caller's subject. A nil Server.AuthVerifier disables auth
// entirely, for local development.
type BearerVerifier interface {
	Verify(token string) (subject string, err error)
}

// Claims is the registry API's JWT payload.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// HMACVerifier validates HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier builds a verifier bound to secret.
func NewHMACVerifier(secret []byte) *HMACVerifier {
	return &HMACVerifier{secret: secret}
}

// Sign issues a token for subject, valid for ttl.
func (v *HMACVerifier) Sign(subject string, ttl time.Duration) (string, error) {
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "universal-registry",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify implements BearerVerifier.
func (v *HMACVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Method)
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.Subject, nil
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, r, regerrors.Unauthorized("missing bearer token"))
			return
		}

		subject, err := s.AuthVerifier.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			writeError(w, r, regerrors.InvalidToken(err))
			return
		}

		ctx := logging.WithUserID(r.Context(), subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
