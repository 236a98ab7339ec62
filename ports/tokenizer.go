package ports

import "github.com/layer-3/warden/core"

// Tokenizer converts between domain objects and signed tokens
type Tokenizer interface {
	// Access token operations
	ClaimsToAccessToken(claims *core.Claims) (string, error)
	AccessTokenToClaims(token string) (*core.Claims, error)

	// Two-factor pending login operations
	PendingLoginToToken(pending *core.PendingLogin) (string, error)
	TokenToPendingLogin(token string) (*core.PendingLogin, error)
}

// SignatureVerifier checks wallet signatures.
type SignatureVerifier interface {
	// NormalizeAddress validates and checksums an address.
	NormalizeAddress(address string) (string, error)
	// VerifySignature returns core.ErrSignatureMismatch unless signature over
	// message was produced by address.
	VerifySignature(message, signature, address string) error
}

// PasswordHasher hashes and checks credentials.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}
