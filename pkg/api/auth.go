package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// Authenticator resolves the calling user's id from a request.
// Failures should wrap billing.ErrUnauthorized.
type Authenticator func(r *http.Request) (string, error)

// JWTConfig configures HS256 bearer token verification.
type JWTConfig struct {
	// Secret is the HMAC signing key (required)
	Secret []byte

	// Issuer and Audience are checked when non-empty
	Issuer   string
	Audience string

	// Leeway tolerates clock skew on exp/nbf/iat
	Leeway time.Duration
}

// JWTVerifier validates bearer tokens and returns their subject.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier. Tokens must carry an expiry.
func NewJWTVerifier(config JWTConfig) (*JWTVerifier, error) {
	if len(config.Secret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	if config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(config.Leeway))
	}

	return &JWTVerifier{
		secret: config.Secret,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify parses tokenStr and returns its "sub" claim.
func (v *JWTVerifier) Verify(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", billing.ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", billing.ErrUnauthorized)
	}
	return claims.Subject, nil
}

// Authenticate implements Authenticator using the Authorization header.
func (v *JWTVerifier) Authenticate(r *http.Request) (string, error) {
	tokenStr, err := bearerToken(r)
	if err != nil {
		return "", err
	}
	return v.Verify(tokenStr)
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: missing authorization header", billing.ErrUnauthorized)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", billing.ErrUnauthorized)
	}
	return strings.TrimSpace(parts[1]), nil
}

// FromHeader returns an Authenticator that trusts a header set by an
// upstream gateway that already authenticated the caller.
func FromHeader(headerName string) Authenticator {
	return func(r *http.Request) (string, error) {
		if userID := r.Header.Get(headerName); userID != "" {
			return userID, nil
		}
		return "", fmt.Errorf("%w: %s header not set", billing.ErrUnauthorized, headerName)
	}
}

// FromContext returns an Authenticator that reads the user id placed in
// the request context by earlier middleware.
func FromContext(key interface{}) Authenticator {
	return func(r *http.Request) (string, error) {
		if userID, ok := r.Context().Value(key).(string); ok && userID != "" {
			return userID, nil
		}
		return "", fmt.Errorf("%w: no user in context", billing.ErrUnauthorized)
	}
}
