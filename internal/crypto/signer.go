package crypto

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// EVMSigner signs EIP-712 typed data with a local secp256k1 key.
type EVMSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewEVMSigner creates a signer from a hex-encoded private key, with or
// without the 0x prefix.
func NewEVMSigner(privateKeyHex string) (*EVMSigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &EVMSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the checksummed address of the key.
func (s *EVMSigner) Address() string {
	return s.address.Hex()
}

// Sign hashes payload as EIP-712 typed data and signs the digest. The
// result is the hex-encoded 65-byte r || s || v signature.
func (s *EVMSigner) Sign(_ context.Context, kind domain.SignKind, payload json.RawMessage) (string, error) {
	if kind != domain.SignEIP712 {
		return "", fmt.Errorf("crypto/signer: evm key cannot sign %s: %w", kind, domain.ErrSigningFailed)
	}
	var td apitypes.TypedData
	if err := json.Unmarshal(payload, &td); err != nil {
		return "", fmt.Errorf("crypto/signer: decode typed data: %v: %w", err, domain.ErrSigningFailed)
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: hash typed data: %v: %w", err, domain.ErrSigningFailed)
	}
	return s.signDigest(digest)
}

// signDigest signs a 32-byte digest using secp256k1.
func (s *EVMSigner) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %v: %w", err, domain.ErrSigningFailed)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

var _ domain.Signer = (*EVMSigner)(nil)
