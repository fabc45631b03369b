package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
	"github.com/louisbranch/workdesk/internal/platform/requestctx"
)

// TokenConfig defines how access tokens are verified.
type TokenConfig struct {
	Issuer string
	Secret []byte
	Now    func() time.Time
}

// accessClaims is the internal claims type used for JWT parsing.
type accessClaims struct {
	jwt.RegisteredClaims
	Groups []string `json:"groups"`
}

// PrincipalFromToken verifies an HS256 access token and extracts the caller
// principal (subject plus group claims).
func PrincipalFromToken(token string, cfg TokenConfig) (requestctx.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return requestctx.Principal{}, apperrors.New(apperrors.CodeNotAuthorized, "access token is required")
	}
	if len(cfg.Secret) == 0 {
		return requestctx.Principal{}, errors.New("token verifier is not configured")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(now),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}

	var parsed accessClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Secret, nil
	}, options...)
	if err != nil {
		return requestctx.Principal{}, mapJWTError(err)
	}

	if parsed.Subject == "" {
		return requestctx.Principal{}, apperrors.New(apperrors.CodeNotAuthorized, "access token subject is required")
	}
	return requestctx.Principal{
		UserID:   parsed.Subject,
		GroupIDs: parsed.Groups,
	}, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.Wrap(apperrors.CodeNotAuthorized, "access token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.Wrap(apperrors.CodeNotAuthorized, "access token is expired", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperrors.Wrap(apperrors.CodeNotAuthorized, "access token issuer mismatch", err)
	default:
		return apperrors.Wrap(apperrors.CodeNotAuthorized, "access token is invalid", err)
	}
}
