package wallet

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

const signatureLength = 65

// EthVerifier checks EIP-191 personal_sign signatures from EVM wallets.
type EthVerifier struct{}

// NewEthVerifier creates a new Ethereum signature verifier
func NewEthVerifier() ports.SignatureVerifier {
	return EthVerifier{}
}

// NormalizeAddress returns the EIP-55 checksummed form of address.
func (EthVerifier) NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", core.ErrInvalidAddress
	}
	addr := common.HexToAddress(address)
	if addr == (common.Address{}) {
		return "", core.ErrInvalidAddress
	}
	return addr.Hex(), nil
}

// VerifySignature recovers the signer of message and compares it to address.
func (v EthVerifier) VerifySignature(message, signature, address string) error {
	expected, err := v.NormalizeAddress(address)
	if err != nil {
		return err
	}

	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSignatureMismatch, err)
	}
	if recovered != expected {
		return core.ErrSignatureMismatch
	}
	return nil
}

// RecoverAddress returns the checksummed address that produced signature
// over the personal_sign hash of message.
func RecoverAddress(message, signature string) (string, error) {
	signature = strings.TrimSpace(signature)
	if !strings.HasPrefix(signature, "0x") && !strings.HasPrefix(signature, "0X") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != signatureLength {
		return "", fmt.Errorf("signature must be %d bytes, got %d", signatureLength, len(sig))
	}

	// Wallets emit V as 27/28, go-ethereum expects the raw recovery id.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return "", fmt.Errorf("invalid recovery id %d", sig[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
