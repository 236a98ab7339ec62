package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims combines standard claims with access-specific ones
type AccessClaims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	FamilyID string `json:"fid"` // refresh token family the session descends from
}

// PendingClaims identify a login that is waiting for its second factor
type PendingClaims struct {
	jwt.RegisteredClaims
	Method string `json:"amr"`
}
