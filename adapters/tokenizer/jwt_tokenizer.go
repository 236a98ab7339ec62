package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

const AudienceAccess = "session:access"
const AudienceTwoFactor = "session:twofactor"

// JWTTokenizer implements the Tokenizer interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	issuer  string
	now     func() time.Time
}

// Option customizes a JWTTokenizer.
type Option func(*JWTTokenizer)

// WithClock sets the time source used when validating expiry.
func WithClock(now func() time.Time) Option {
	return func(j *JWTTokenizer) { j.now = now }
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, issuer string, opts ...Option) ports.Tokenizer {
	j := &JWTTokenizer{signKey: signKey, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// ClaimsToAccessToken converts access claims to a signed JWT
func (j *JWTTokenizer) ClaimsToAccessToken(claims *core.Claims) (string, error) {
	role, err := claims.Role.MarshalText()
	if err != nil {
		return "", fmt.Errorf("failed to encode role: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   claims.AccountID,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		Role:     string(role),
		FamilyID: claims.FamilyID,
	})

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return signedToken, nil
}

// AccessTokenToClaims parses and validates an access token. It performs no I/O.
func (j *JWTTokenizer) AccessTokenToClaims(tokenStr string) (*core.Claims, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims, AudienceAccess); err != nil {
		return nil, err
	}

	role, err := core.ParseRole(claims.Role)
	if err != nil || claims.Subject == "" {
		return nil, core.ErrTokenInvalid
	}

	return &core.Claims{
		AccountID: claims.Subject,
		Role:      role,
		FamilyID:  claims.FamilyID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// PendingLoginToToken converts a pending login to a signed two-factor token
func (j *JWTTokenizer) PendingLoginToToken(pending *core.PendingLogin) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, PendingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   pending.AccountID,
			ID:        pending.LoginID,
			ExpiresAt: jwt.NewNumericDate(pending.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(pending.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceTwoFactor},
		},
		Method: pending.Method,
	})

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign two-factor token: %w", err)
	}

	return signedToken, nil
}

// TokenToPendingLogin parses a two-factor token
func (j *JWTTokenizer) TokenToPendingLogin(tokenStr string) (*core.PendingLogin, error) {
	claims := &PendingClaims{}
	if err := j.parse(tokenStr, claims, AudienceTwoFactor); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, core.ErrTokenInvalid
	}

	return &core.PendingLogin{
		LoginID:   claims.ID,
		AccountID: claims.Subject,
		Method:    claims.Method,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (j *JWTTokenizer) parse(tokenStr string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	},
		jwt.WithAudience(audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(j.issuer),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return core.ErrTokenExpired
		}
		return core.ErrTokenInvalid
	}

	if !token.Valid {
		return core.ErrTokenInvalid
	}

	return nil
}
