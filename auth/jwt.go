package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTResolver accepts HMAC signed bearer tokens. Identities are
// "jwt:<issuer>:<subject>".
type JWTResolver struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTResolver returns a resolver for tokens signed with secret. If
// issuer is not empty, tokens from other issuers are rejected.
func NewJWTResolver(secret []byte, issuer string) (*JWTResolver, error) {
	if len(secret) == 0 {
		return nil, errors.New("a JWT secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &JWTResolver{
		secret: secret,
		parser: jwt.NewParser(opts...),
	}, nil
}

func (j *JWTResolver) Resolve(ctx context.Context, credential string) (string, error) {
	tokenString, ok := parseBearer(credential)
	if !ok {
		return "", invalidCredential("Invalid token")
	}

	var claims jwt.RegisteredClaims
	_, err := j.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", invalidCredential("Token expired")
		}
		return "", invalidCredential("Invalid token")
	}
	if claims.Subject == "" {
		return "", invalidCredential("Token has no subject")
	}

	return "jwt:" + claims.Issuer + ":" + claims.Subject, nil
}
