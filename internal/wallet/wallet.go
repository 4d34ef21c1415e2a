package wallet

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidAddress   = errors.New("wallet: invalid address")
	ErrInvalidSignature = errors.New("wallet: invalid signature")
	ErrAddressMismatch  = errors.New("wallet: recovered address does not match")
)

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// NormalizeAddress lowercases and validates a 20-byte hex address. Stored
// and compared addresses are always in this form.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !addressRe.MatchString(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return strings.ToLower(addr), nil
}

// Challenge is the login document the client signs. Its canonical JSON form
// (RFC 8785) is the exact byte sequence signed, so both sides serialize it
// the same way regardless of field order.
type Challenge struct {
	Domain   string `json:"domain"`
	Address  string `json:"address"`
	Nonce    string `json:"nonce"`
	IssuedAt string `json:"issued_at"`
}

func NewChallenge(domain, address, nonce string, issuedAt time.Time) Challenge {
	return Challenge{
		Domain:   domain,
		Address:  address,
		Nonce:    nonce,
		IssuedAt: issuedAt.UTC().Format(time.RFC3339),
	}
}

func (c Challenge) Message() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	canon, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return "", err
	}
	return string(canon), nil
}

// PersonalSignHash computes keccak256 over the prefixed message, the digest
// wallets actually sign for personal_sign.
func PersonalSignHash(message string) []byte {
	prefixed := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message)) + message
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefixed))
	return h.Sum(nil)
}

// RecoverAddress recovers the signer address from a 65-byte r||s||v hex
// signature over message (personal_sign semantics).
func RecoverAddress(message, signatureHex string) (string, error) {
	sig, err := decodeSignature(signatureHex)
	if err != nil {
		return "", err
	}

	pub, _, err := ecdsa.RecoverCompact(sig, PersonalSignHash(message))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return AddressFromPubKey(pub), nil
}

// Verify checks that signatureHex over message was produced by address.
func Verify(message, signatureHex, address string) error {
	want, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	got, err := RecoverAddress(message, signatureHex)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrAddressMismatch, got, want)
	}
	return nil
}

func AddressFromPubKey(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()
	h := sha3.NewLegacyKeccak256()
	h.Write(raw[1:]) // drop the 0x04 point marker
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}

// decodeSignature converts the wire format (r||s||v, v in {0,1,27,28}) into
// the compact recovery format (v||r||s, v = 27 + recovery id).
func decodeSignature(signatureHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signatureHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(raw) != 65 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(raw))
	}

	v := raw[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return nil, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, raw[64])
	}

	out := make([]byte, 65)
	out[0] = v
	copy(out[1:], raw[:64])
	return out, nil
}
