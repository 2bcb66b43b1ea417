package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// callPrefix domain-separates call digests from other signed content.
const callPrefix = "\x19BitBond Signed Call:\n"

// CallDigest computes the canonical digest of a mutating API call. The
// digest binds the HTTP method, the request path, the keccak hash of the
// body, and the caller-supplied unix timestamp:
//
//	keccak256(prefix || method || "\n" || path || "\n" || keccak256(body) || "\n" || timestamp)
//
// Signing the digest rather than the raw body keeps the signed message
// fixed-size and makes replay windows checkable server-side.
func CallDigest(method, path string, body []byte, timestamp int64) []byte {
	bodyHash := ethcrypto.Keccak256(body)
	msg := make([]byte, 0, len(callPrefix)+len(method)+len(path)+len(bodyHash)+24)
	msg = append(msg, callPrefix...)
	msg = append(msg, method...)
	msg = append(msg, '\n')
	msg = append(msg, path...)
	msg = append(msg, '\n')
	msg = append(msg, bodyHash...)
	msg = append(msg, '\n')
	msg = strconv.AppendInt(msg, timestamp, 10)
	return ethcrypto.Keccak256(msg)
}

// RecoverCaller recovers the caller principal from a 65-byte hex signature
// over the call digest. The principal is the lowercase hex address derived
// from the recovered secp256k1 public key.
func RecoverCaller(method, path string, body []byte, timestamp int64, sigHex string) (domain.Principal, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto: invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("crypto: expected 65-byte signature, got %d bytes", len(sig))
	}

	// Accept both v in {0,1} and the Ethereum convention {27,28}.
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	digest := CallDigest(method, path, body, timestamp)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("crypto: recover caller: %w", err)
	}

	addr := ethcrypto.PubkeyToAddress(*pub)
	return domain.ParsePrincipal(strings.ToLower(addr.Hex()))
}

// Signer signs call digests with a secp256k1 private key. Clients use it to
// produce call envelopes; the server side only recovers.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Principal returns the signer's identity as a ledger principal.
func (s *Signer) Principal() domain.Principal {
	return domain.Principal(strings.ToLower(s.address.Hex()))
}

// SignCall signs the canonical call digest and returns a hex-encoded
// 65-byte signature (r || s || v with v in {27,28}).
func (s *Signer) SignCall(method, path string, body []byte, timestamp int64) (string, error) {
	sig, err := ethcrypto.Sign(CallDigest(method, path, body, timestamp), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign call: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}
